// Package presence tracks which users are currently active on which
// documents. The sync engine itself has no session concept; presence lives
// beside it so transports can tell collaborators who else is editing.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/aretw0/introspection"
)

// DefaultTTL is how long a user stays visible without a heartbeat.
const DefaultTTL = 30 * time.Second

// Info describes one user's presence on one document.
type Info struct {
	UserID     string            `json:"user_id"`
	DocumentID string            `json:"document_id"`
	JoinedAt   time.Time         `json:"joined_at"`
	LastSeen   time.Time         `json:"last_seen"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Tracker is a TTL-based presence registry. Entries expire when their last
// heartbeat is older than the TTL; expired entries are invisible immediately
// and physically removed on access or Sweep.
type Tracker struct {
	ttl time.Duration

	mu   sync.RWMutex
	docs map[string]map[string]*Info

	// now is a clock hook for tests.
	now func() time.Time
}

// NewTracker builds a tracker. A non-positive ttl falls back to DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:  ttl,
		docs: make(map[string]map[string]*Info),
		now:  time.Now,
	}
}

// Join registers a user on a document and returns the stored record.
// Rejoining refreshes LastSeen and replaces metadata but keeps the original
// JoinedAt while the entry is still alive.
func (t *Tracker) Join(docID, userID string, metadata map[string]string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	users, ok := t.docs[docID]
	if !ok {
		users = make(map[string]*Info)
		t.docs[docID] = users
	}

	info, ok := users[userID]
	if !ok || t.expired(info, now) {
		info = &Info{
			UserID:     userID,
			DocumentID: docID,
			JoinedAt:   now,
		}
		users[userID] = info
	}
	info.LastSeen = now
	info.Metadata = cloneMeta(metadata)
	return *info
}

// Heartbeat refreshes a user's LastSeen. It reports false when the entry is
// unknown or already expired, in which case the caller should Join again.
func (t *Tracker) Heartbeat(docID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	info, ok := t.docs[docID][userID]
	if !ok || t.expired(info, now) {
		return false
	}
	info.LastSeen = now
	return true
}

// Leave removes a user from a document.
func (t *Tracker) Leave(docID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.docs[docID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.docs, docID)
	}
}

// Active returns the live users on a document, ordered by join time and
// then user id. Expired entries are dropped from the registry as a side
// effect.
func (t *Tracker) Active(docID string) []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	users := t.docs[docID]

	infos := make([]Info, 0, len(users))
	for userID, info := range users {
		if t.expired(info, now) {
			delete(users, userID)
			continue
		}
		infos = append(infos, *info)
	}
	if len(users) == 0 {
		delete(t.docs, docID)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].JoinedAt.Equal(infos[j].JoinedAt) {
			return infos[i].UserID < infos[j].UserID
		}
		return infos[i].JoinedAt.Before(infos[j].JoinedAt)
	})
	return infos
}

// ActiveCount returns how many live users a document has.
func (t *Tracker) ActiveCount(docID string) int {
	return len(t.Active(docID))
}

// Documents returns the ids of documents with at least one live user,
// sorted.
func (t *Tracker) Documents() []string {
	t.mu.RLock()
	now := t.now()
	ids := make([]string, 0, len(t.docs))
	for docID, users := range t.docs {
		for _, info := range users {
			if !t.expired(info, now) {
				ids = append(ids, docID)
				break
			}
		}
	}
	t.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Sweep removes every expired entry and returns how many were dropped.
// Callers that want bounded memory without traffic should run it on a
// ticker.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for docID, users := range t.docs {
		for userID, info := range users {
			if t.expired(info, now) {
				delete(users, userID)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.docs, docID)
		}
	}
	return removed
}

func (t *Tracker) expired(info *Info, now time.Time) bool {
	return now.Sub(info.LastSeen) > t.ttl
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// TrackerState exposes internal state for observability.
type TrackerState struct {
	Documents int    `json:"documents"`
	Users     int    `json:"users"`
	TTL       string `json:"ttl"`
}

// State implements introspection.Introspectable.
func (t *Tracker) State() any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := 0
	for _, u := range t.docs {
		users += len(u)
	}
	return TrackerState{
		Documents: len(t.docs),
		Users:     users,
		TTL:       t.ttl.String(),
	}
}

// ComponentType implements introspection.Component.
func (t *Tracker) ComponentType() string {
	return "presence-tracker"
}

var _ introspection.Introspectable = (*Tracker)(nil)
var _ introspection.Component = (*Tracker)(nil)
