package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the construction parameters for an Engine. The zero value is
// usable: no logger, no archive, default buffers.
type Config struct {
	// Logger receives engine diagnostics. Nil means silent.
	Logger *slog.Logger

	// EventBuffer is the per-subscriber event channel capacity. Zero means
	// the default (100).
	EventBuffer int

	// QueueSize is the per-document inbox capacity. Zero means the
	// default (64).
	QueueSize int

	// Archive, when set, receives snapshots as they are taken and document
	// states at shutdown. Failures are logged, never fatal.
	Archive Archiver
}

const (
	defaultEventBuffer = 100
	defaultQueueSize   = 64
)

// Engine is the synchronization core. It owns every document registry
// (states, branches, snapshots, version vectors, undo/redo stacks) behind
// one worker per document, so all mutating calls on a document are processed
// strictly in arrival order while separate documents proceed in parallel.
type Engine struct {
	mu      sync.RWMutex
	workers map[string]*docWorker
	closed  bool

	broker  *broker
	archive Archiver
	logger  *slog.Logger
	queue   int

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewEngine creates an Engine from the given configuration.
func NewEngine(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	buffer := config.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	queue := config.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		workers: make(map[string]*docWorker),
		broker:  newBroker(buffer, logger),
		archive: config.Archive,
		logger:  logger,
		queue:   queue,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// --- Documents ---

// CreateDocument registers a new document at version 1 and starts its worker.
func (e *Engine) CreateDocument(ctx context.Context, docID, initialContent, createdBy string) (*DocumentState, error) {
	doc := NewDocumentState(docID, initialContent, createdBy)
	if err := e.adopt(ctx, doc); err != nil {
		return nil, err
	}

	e.publish(Event{
		Type:       EventDocumentCreated,
		DocumentID: docID,
		UserID:     createdBy,
		Version:    doc.Version,
		Timestamp:  time.Now().UTC(),
	})
	return doc.Clone(), nil
}

// Restore registers a document from a previously captured state, as produced
// by an Archiver. Branches, undo history, and the version vector are not part
// of the capture and start empty.
func (e *Engine) Restore(ctx context.Context, doc DocumentState) error {
	restored := doc.Clone()
	if restored.Version < 1 {
		restored.Version = 1
	}
	return e.adopt(ctx, restored)
}

func (e *Engine) adopt(ctx context.Context, doc *DocumentState) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document has no id", ErrInvalidOperation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, ok := e.workers[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}

	w := newDocWorker(doc.ID, newDocState(doc), e.queue, e.logger)
	if err := w.Start(e.baseCtx); err != nil {
		return fmt.Errorf("failed to start document worker: %w", err)
	}
	e.workers[doc.ID] = w

	e.logger.Debug("document registered", "document", doc.ID, "version", doc.Version)
	return nil
}

// GetDocument returns a copy of the current document state.
func (e *Engine) GetDocument(ctx context.Context, docID string) (*DocumentState, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var doc *DocumentState
	if err := w.do(ctx, func(st *docState) {
		doc = st.doc.Clone()
	}); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Engine) worker(docID string) (*docWorker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	w, ok := e.workers[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	return w, nil
}

// --- Apply ---

// ApplyOperation runs one edit against a document and returns the conflicts
// it collided with on the way in.
//
// Workflow:
//  1. Resolve the document's worker (unknown id fails, nothing crashes).
//  2. On the worker: if the operation is stale, detect conflicts against
//     recent log entries and left-fold the transformer over each hit.
//  3. Splice the (possibly adjusted) operation into the content.
//  4. Append to the log, bump the version, refresh last_modified.
//  5. Record conflicts, push onto the user's undo stack, max-merge the
//     version vector, and dual-append to the named branch if one exists.
func (e *Engine) ApplyOperation(ctx context.Context, docID string, op Operation) ([]Conflict, error) {
	if !op.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}

	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	if err := w.do(ctx, func(st *docState) {
		conflicts = e.applyToState(st, op)
	}); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// ApplyBatch applies operations sequentially as one serialized unit, stopping
// at the first failure. Conflicts from the successful prefix are returned
// even when the batch errors out.
func (e *Engine) ApplyBatch(ctx context.Context, docID string, ops []Operation) ([]Conflict, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	var applyErr error
	if err := w.do(ctx, func(st *docState) {
		for i, op := range ops {
			if !op.Type.Valid() {
				applyErr = fmt.Errorf("%w: operation %d has unknown type %q", ErrInvalidOperation, i, op.Type)
				return
			}
			conflicts = append(conflicts, e.applyToState(st, op)...)
		}
	}); err != nil {
		return conflicts, err
	}
	return conflicts, applyErr
}

// applyToState performs the core apply algorithm. It runs on the document's
// worker goroutine with exclusive access to st.
func (e *Engine) applyToState(st *docState, op Operation) []Conflict {
	op = op.Clone()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}

	// Stale operations are transformed past everything recent they collide
	// with, one pairwise step at a time. This is deliberately not full
	// causal-history transformation; the timestamp window keeps it cheap.
	var conflicts []Conflict
	if op.Version < st.doc.Version {
		cutoff := op.Timestamp.Add(-concurrencyWindow)
		for _, logged := range st.doc.Operations {
			if !logged.Timestamp.After(cutoff) {
				continue
			}
			c := Detect(op, logged)
			if c == nil {
				continue
			}
			op, _ = Transform(op, logged)
			c.Resolved = true
			conflicts = append(conflicts, *c)
		}
	}

	st.doc.Content = applyToContent(st.doc.Content, &op)
	st.doc.Operations = append(st.doc.Operations, op)
	st.doc.Version++
	st.doc.LastModified = time.Now().UTC()

	st.conflicts = append(st.conflicts, conflicts...)
	st.undoFor(op.UserID).push(op)
	st.vector.Update(op.UserID, st.doc.Version)

	if op.BranchID != "" {
		if br, ok := st.branches[op.BranchID]; ok {
			br.Operations = append(br.Operations, op)
		}
	}

	applied := op.Clone()
	e.publish(Event{
		Type:       EventOperationApplied,
		DocumentID: st.doc.ID,
		UserID:     op.UserID,
		Version:    st.doc.Version,
		BranchID:   op.BranchID,
		Timestamp:  time.Now().UTC(),
		Operation:  &applied,
	})
	for i := range conflicts {
		c := conflicts[i]
		e.publish(Event{
			Type:       EventConflictDetected,
			DocumentID: st.doc.ID,
			UserID:     op.UserID,
			Version:    st.doc.Version,
			Timestamp:  time.Now().UTC(),
			Conflict:   &c,
		})
	}

	return conflicts
}

// --- History & conflicts ---

// GetHistory returns the most recent operations from the document log, oldest
// first. A limit of zero or less returns the whole log.
func (e *Engine) GetHistory(ctx context.Context, docID string, limit int) ([]Operation, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var ops []Operation
	if err := w.do(ctx, func(st *docState) {
		log := st.doc.Operations
		if limit > 0 && len(log) > limit {
			log = log[len(log)-limit:]
		}
		ops = cloneOperations(log)
	}); err != nil {
		return nil, err
	}
	return ops, nil
}

// GetConflicts returns every conflict recorded against the document.
func (e *Engine) GetConflicts(ctx context.Context, docID string) ([]Conflict, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	if err := w.do(ctx, func(st *docState) {
		conflicts = append([]Conflict(nil), st.conflicts...)
	}); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// --- Undo / redo ---

// Undo reverts the user's most recent operation and returns the applied
// inverse. Updates are refused with ErrNoInverse because their pre-image is
// never recorded; the stack is left untouched so nothing is lost.
func (e *Engine) Undo(ctx context.Context, docID, userID string) (*Operation, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var inverse *Operation
	var undoErr error
	if err := w.do(ctx, func(st *docState) {
		stack := st.undoFor(userID)
		top, ok := stack.peek()
		if !ok {
			undoErr = ErrNothingToUndo
			return
		}

		inv, ok := invertOperation(top)
		if !ok {
			undoErr = fmt.Errorf("%w: %s", ErrNoInverse, top.Type)
			return
		}
		stack.pop()

		inv.ID = uuid.NewString()
		inv.Timestamp = time.Now().UTC()
		inv.Version = st.doc.Version

		st.doc.Content = applyToContent(st.doc.Content, &inv)
		st.redoFor(userID).push(top)
		st.doc.Version++
		st.doc.Operations = append(st.doc.Operations, inv)
		st.doc.LastModified = time.Now().UTC()

		applied := inv.Clone()
		e.publish(Event{
			Type:       EventOperationApplied,
			DocumentID: st.doc.ID,
			UserID:     userID,
			Version:    st.doc.Version,
			Timestamp:  time.Now().UTC(),
			Operation:  &applied,
		})
		inverse = &inv
	}); err != nil {
		return nil, err
	}
	if undoErr != nil {
		return nil, undoErr
	}
	return inverse, nil
}

// Redo re-applies the user's most recently undone operation as originally
// issued, not as an inverse of the inverse. The re-application lands at the
// operation's stored position regardless of edits made in between.
func (e *Engine) Redo(ctx context.Context, docID, userID string) (*Operation, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var redone *Operation
	var redoErr error
	if err := w.do(ctx, func(st *docState) {
		orig, ok := st.redoFor(userID).pop()
		if !ok {
			redoErr = ErrNothingToRedo
			return
		}

		applied := orig.Clone()
		applied.ID = uuid.NewString()
		applied.RedoOf = orig.ID
		applied.Timestamp = time.Now().UTC()
		applied.Version = st.doc.Version

		st.doc.Content = applyToContent(st.doc.Content, &applied)
		st.doc.Version++
		st.doc.Operations = append(st.doc.Operations, applied)
		st.doc.LastModified = time.Now().UTC()
		st.undoFor(userID).push(applied)

		out := applied.Clone()
		e.publish(Event{
			Type:       EventOperationApplied,
			DocumentID: st.doc.ID,
			UserID:     userID,
			Version:    st.doc.Version,
			Timestamp:  time.Now().UTC(),
			Operation:  &out,
		})
		redone = &applied
	}); err != nil {
		return nil, err
	}
	if redoErr != nil {
		return nil, redoErr
	}
	return redone, nil
}

// --- Branches ---

// CreateBranch opens a named overlay log on the document. The source must be
// "main" or an existing branch; the new branch starts empty (branches do not
// copy content, they record work).
func (e *Engine) CreateBranch(ctx context.Context, docID, branchID, sourceBranch, createdBy string) (*Branch, error) {
	if branchID == "" {
		return nil, fmt.Errorf("%w: branch has no id", ErrInvalidOperation)
	}
	if sourceBranch == "" {
		sourceBranch = MainBranch
	}

	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var branch *Branch
	var branchErr error
	if err := w.do(ctx, func(st *docState) {
		if branchID == MainBranch {
			branchErr = fmt.Errorf("%w: %s", ErrBranchExists, branchID)
			return
		}
		if _, ok := st.branches[branchID]; ok {
			branchErr = fmt.Errorf("%w: %s", ErrBranchExists, branchID)
			return
		}
		if sourceBranch != MainBranch {
			if _, ok := st.branches[sourceBranch]; !ok {
				branchErr = fmt.Errorf("%w: source %s", ErrBranchNotFound, sourceBranch)
				return
			}
		}

		br := &Branch{
			ID:           branchID,
			Name:         branchID,
			SourceBranch: sourceBranch,
			CreatedBy:    createdBy,
			Status:       BranchActive,
			CreatedAt:    time.Now().UTC(),
		}
		st.branches[branchID] = br

		e.publish(Event{
			Type:       EventBranchCreated,
			DocumentID: st.doc.ID,
			UserID:     createdBy,
			Version:    st.doc.Version,
			BranchID:   branchID,
			Timestamp:  time.Now().UTC(),
		})
		branch = br.Clone()
	}); err != nil {
		return nil, err
	}
	if branchErr != nil {
		return nil, branchErr
	}
	return branch, nil
}

// GetBranch returns a copy of one branch.
func (e *Engine) GetBranch(ctx context.Context, docID, branchID string) (*Branch, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var branch *Branch
	var branchErr error
	if err := w.do(ctx, func(st *docState) {
		br, ok := st.branches[branchID]
		if !ok {
			branchErr = fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
			return
		}
		branch = br.Clone()
	}); err != nil {
		return nil, err
	}
	if branchErr != nil {
		return nil, branchErr
	}
	return branch, nil
}

// GetBranches returns copies of every branch on the document.
func (e *Engine) GetBranches(ctx context.Context, docID string) ([]*Branch, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var branches []*Branch
	if err := w.do(ctx, func(st *docState) {
		branches = make([]*Branch, 0, len(st.branches))
		for _, br := range st.branches {
			branches = append(branches, br.Clone())
		}
	}); err != nil {
		return nil, err
	}
	return branches, nil
}

// MergeBranch replays every operation in the source branch's log through the
// normal apply path against the live document, then marks the source merged.
// There is no rollback: if a replay step fails, the operations already
// replayed in this call stay applied and the error is returned with the
// conflicts gathered so far. Replayed operations keep their original
// timestamps and versions, so stale ones go through conflict detection and
// transformation exactly like a live submission.
func (e *Engine) MergeBranch(ctx context.Context, docID, source, target string) ([]Conflict, error) {
	if target == "" {
		target = MainBranch
	}

	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	var mergeErr error
	if err := w.do(ctx, func(st *docState) {
		src, ok := st.branches[source]
		if !ok {
			mergeErr = fmt.Errorf("%w: %s", ErrBranchNotFound, source)
			return
		}
		if src.Status != BranchActive {
			mergeErr = fmt.Errorf("%w: %s is %s", ErrBranchNotActive, source, src.Status)
			return
		}
		if target != MainBranch {
			if _, ok := st.branches[target]; !ok {
				mergeErr = fmt.Errorf("%w: target %s", ErrBranchNotFound, target)
				return
			}
		}

		// Snapshot the log first: replaying into a custom target must not
		// grow the slice being iterated.
		pending := cloneOperations(src.Operations)
		for i, op := range pending {
			if !op.Type.Valid() {
				mergeErr = fmt.Errorf("%w: branch operation %d has unknown type %q", ErrInvalidOperation, i, op.Type)
				return
			}
			replay := op.Clone()
			replay.ID = ""
			replay.BranchID = ""
			if target != MainBranch {
				replay.BranchID = target
			}
			if replay.Metadata == nil {
				replay.Metadata = Metadata{}
			}
			replay.Metadata[MetaMergedFrom] = op.ID
			conflicts = append(conflicts, e.applyToState(st, replay)...)
		}

		src.Status = BranchMerged
		e.publish(Event{
			Type:       EventBranchMerged,
			DocumentID: st.doc.ID,
			Version:    st.doc.Version,
			BranchID:   source,
			Timestamp:  time.Now().UTC(),
		})
	}); err != nil {
		return conflicts, err
	}
	return conflicts, mergeErr
}

// --- Snapshots ---

// CreateSnapshot captures the document's content, version, and log length.
// A blank snapshotID gets a generated one. When an archive is configured the
// snapshot is persisted best effort; an archival failure is logged and the
// in-memory snapshot stands.
func (e *Engine) CreateSnapshot(ctx context.Context, docID, snapshotID string, metadata Metadata) (*Snapshot, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}
	if snapshotID == "" {
		snapshotID = uuid.NewString()
	}

	var snap Snapshot
	var snapErr error
	if err := w.do(ctx, func(st *docState) {
		for _, existing := range st.snapshots {
			if existing.ID == snapshotID {
				snapErr = fmt.Errorf("%w: %s", ErrSnapshotExists, snapshotID)
				return
			}
		}

		snap = Snapshot{
			ID:             snapshotID,
			DocumentID:     st.doc.ID,
			Content:        st.doc.Content,
			Version:        st.doc.Version,
			OperationCount: len(st.doc.Operations),
			CreatedAt:      time.Now().UTC(),
		}
		if metadata != nil {
			snap.Metadata = make(Metadata, len(metadata))
			for k, v := range metadata {
				snap.Metadata[k] = v
			}
		}
		st.snapshots = append(st.snapshots, snap)

		e.publish(Event{
			Type:       EventSnapshotCreated,
			DocumentID: st.doc.ID,
			Version:    snap.Version,
			SnapshotID: snap.ID,
			Timestamp:  time.Now().UTC(),
		})
	}); err != nil {
		return nil, err
	}
	if snapErr != nil {
		return nil, snapErr
	}

	if e.archive != nil {
		if err := e.archive.SaveSnapshot(ctx, snap); err != nil {
			e.logger.Warn("failed to archive snapshot",
				"document", docID, "snapshot", snap.ID, "error", err)
		}
	}

	out := snap.Clone()
	return &out, nil
}

// RestoreSnapshot rewinds the document to a snapshot: content and version are
// set to the captured values and the log is truncated to the captured length.
// Branches, undo/redo stacks, and the version vector are left alone and may
// reference history that no longer exists; reconciling them is the caller's
// decision, not the engine's.
func (e *Engine) RestoreSnapshot(ctx context.Context, docID, snapshotID string) error {
	w, err := e.worker(docID)
	if err != nil {
		return err
	}

	var restoreErr error
	if err := w.do(ctx, func(st *docState) {
		var snap *Snapshot
		for i := range st.snapshots {
			if st.snapshots[i].ID == snapshotID {
				snap = &st.snapshots[i]
				break
			}
		}
		if snap == nil {
			restoreErr = fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
			return
		}

		st.doc.Content = snap.Content
		st.doc.Version = snap.Version
		if len(st.doc.Operations) > snap.OperationCount {
			st.doc.Operations = st.doc.Operations[:snap.OperationCount]
		}
		st.doc.LastModified = time.Now().UTC()

		e.publish(Event{
			Type:       EventSnapshotRestored,
			DocumentID: st.doc.ID,
			Version:    st.doc.Version,
			SnapshotID: snap.ID,
			Timestamp:  time.Now().UTC(),
		})
	}); err != nil {
		return err
	}
	return restoreErr
}

// GetSnapshots returns copies of every snapshot taken for the document, in
// capture order.
func (e *Engine) GetSnapshots(ctx context.Context, docID string) ([]Snapshot, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	if err := w.do(ctx, func(st *docState) {
		snaps = make([]Snapshot, 0, len(st.snapshots))
		for _, s := range st.snapshots {
			snaps = append(snaps, s.Clone())
		}
	}); err != nil {
		return nil, err
	}
	return snaps, nil
}

// --- Version vectors ---

// UpdateVersionVector records that userID has seen version (monotonic max).
func (e *Engine) UpdateVersionVector(ctx context.Context, docID, userID string, version int) error {
	w, err := e.worker(docID)
	if err != nil {
		return err
	}
	return w.do(ctx, func(st *docState) {
		st.vector.Update(userID, version)
	})
}

// GetVersionVector returns a copy of the document's version vector.
func (e *Engine) GetVersionVector(ctx context.Context, docID string) (*VersionVector, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var vector *VersionVector
	if err := w.do(ctx, func(st *docState) {
		vector = st.vector.Clone()
	}); err != nil {
		return nil, err
	}
	return vector, nil
}

// MergeVersionVectors folds another replica's vector into the document's own
// (per-user maximum) and returns the merged result.
func (e *Engine) MergeVersionVectors(ctx context.Context, docID string, other *VersionVector) (*VersionVector, error) {
	w, err := e.worker(docID)
	if err != nil {
		return nil, err
	}

	var vector *VersionVector
	if err := w.do(ctx, func(st *docState) {
		st.vector.Merge(other)
		vector = st.vector.Clone()
	}); err != nil {
		return nil, err
	}
	return vector, nil
}

// --- Events ---

// Watch subscribes to engine events whose topic ("<doc>/<type>") matches the
// doublestar pattern. The channel closes when ctx is done or the engine shuts
// down. Slow consumers miss events rather than slow the engine down.
func (e *Engine) Watch(ctx context.Context, pattern string) (<-chan Event, error) {
	return e.broker.subscribe(ctx, pattern)
}

// Emit publishes an event on the engine's broker. Adapters use it to feed
// externally observed changes (an archived snapshot appearing on disk, a
// remote node's operation relayed over a message broker) into local watchers.
func (e *Engine) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	e.publish(event)
}

func (e *Engine) publish(event Event) {
	e.broker.publish(event)
}

// --- Shutdown ---

// Close stops every document worker and closes all watch channels. When an
// archive is configured, final document states are persisted best effort
// first. Close is idempotent; operations submitted after it return
// ErrEngineClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	workers := make(map[string]*docWorker, len(e.workers))
	for id, w := range e.workers {
		workers[id] = w
	}
	e.mu.Unlock()

	if e.archive != nil {
		for id, w := range workers {
			var doc *DocumentState
			if err := w.do(ctx, func(st *docState) {
				doc = st.doc.Clone()
			}); err != nil {
				continue
			}
			if err := e.archive.SaveDocument(ctx, *doc); err != nil {
				e.logger.Warn("failed to archive document at shutdown",
					"document", id, "error", err)
			}
		}
	}

	for id, w := range workers {
		if err := w.Stop(ctx); err != nil {
			e.logger.Warn("failed to stop document worker", "document", id, "error", err)
		}
	}

	e.cancel()
	e.broker.close()
	e.logger.Debug("engine closed", "documents", len(workers))
	return nil
}
