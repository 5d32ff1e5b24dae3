package core

// VersionVector tracks, per user, the highest document version that user has
// seen. Entries only ever grow, which gives the vector its partial-order
// semantics: one vector dominates another when every entry is at least as
// large.
//
// The vector carries no locking; the owning document actor serializes access
// and the engine hands out clones.
type VersionVector struct {
	DocumentID string         `json:"document_id" yaml:"document_id"`
	Versions   map[string]int `json:"versions" yaml:"versions"`
}

// NewVersionVector creates an empty vector for a document.
func NewVersionVector(documentID string) *VersionVector {
	return &VersionVector{
		DocumentID: documentID,
		Versions:   make(map[string]int),
	}
}

// Update records that userID has seen version. Entries are monotonic: a
// smaller version than the one already recorded is ignored.
func (v *VersionVector) Update(userID string, version int) {
	if version > v.Versions[userID] {
		v.Versions[userID] = version
	}
}

// VersionOf returns the last version seen by userID, or 0 when unknown.
func (v *VersionVector) VersionOf(userID string) int {
	return v.Versions[userID]
}

// IsAfter reports whether v dominates other: every entry in other is less
// than or equal to the matching entry here. Two vectors can each fail to
// dominate the other, which makes them concurrent.
func (v *VersionVector) IsAfter(other *VersionVector) bool {
	if other == nil {
		return true
	}
	for user, version := range other.Versions {
		if v.Versions[user] < version {
			return false
		}
	}
	return true
}

// Concurrent reports whether neither vector dominates the other.
func (v *VersionVector) Concurrent(other *VersionVector) bool {
	return !v.IsAfter(other) && !other.IsAfter(v)
}

// Merge folds other into v, keeping the per-user maximum.
func (v *VersionVector) Merge(other *VersionVector) {
	if other == nil {
		return
	}
	for user, version := range other.Versions {
		v.Update(user, version)
	}
}

// Clone returns an independent copy.
func (v *VersionVector) Clone() *VersionVector {
	c := NewVersionVector(v.DocumentID)
	for user, version := range v.Versions {
		c.Versions[user] = version
	}
	return c
}
