package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/lifecycle/pkg/core/worker"
)

// docState is everything the engine tracks for one document. It is owned
// exclusively by that document's worker goroutine; no field carries a lock
// because nothing else may touch it.
type docState struct {
	doc       *DocumentState
	branches  map[string]*Branch
	snapshots []Snapshot
	conflicts []Conflict
	vector    *VersionVector
	undo      map[string]*opStack
	redo      map[string]*opStack
}

func newDocState(doc *DocumentState) *docState {
	return &docState{
		doc:      doc,
		branches: make(map[string]*Branch),
		vector:   NewVersionVector(doc.ID),
		undo:     make(map[string]*opStack),
		redo:     make(map[string]*opStack),
	}
}

func (st *docState) undoFor(userID string) *opStack {
	s, ok := st.undo[userID]
	if !ok {
		s = &opStack{}
		st.undo[userID] = s
	}
	return s
}

func (st *docState) redoFor(userID string) *opStack {
	s, ok := st.redo[userID]
	if !ok {
		s = &opStack{}
		st.redo[userID] = s
	}
	return s
}

// task is one unit of work for a document worker. run executes on the worker
// goroutine with exclusive access to the state; done is closed afterwards.
type task struct {
	run  func(*docState)
	done chan struct{}
}

// docWorker serializes every mutating and reading call against one document.
// Operations on different documents proceed in parallel; operations on the
// same document are processed strictly in arrival order, which is what makes
// position-based transformation sound without shared-state locks.
type docWorker struct {
	*worker.BaseWorker
	id      string
	state   *docState
	inbox   chan task
	stopped chan struct{}
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func newDocWorker(id string, state *docState, queue int, logger *slog.Logger) *docWorker {
	return &docWorker{
		BaseWorker: worker.NewBaseWorker("doc-" + id),
		id:         id,
		state:      state,
		inbox:      make(chan task, queue),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

func (w *docWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.BaseWorker.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("document worker already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *docWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *docWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"document":          w.id,
		}
	})
}

// do submits fn to the worker and waits for it to finish. Once queued, a task
// always runs to completion: ctx cancellation is only honored before the
// task is accepted, matching the rule that an operation is not cancellable
// after dispatch.
func (w *docWorker) do(ctx context.Context, fn func(*docState)) error {
	t := task{run: fn, done: make(chan struct{})}

	select {
	case w.inbox <- t:
	case <-w.stopped:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-w.stopped:
		// The worker exited; the task may still have been the one in
		// flight, so prefer its completion signal when present.
		select {
		case <-t.done:
			return nil
		default:
			return ErrEngineClosed
		}
	}
}

func (w *docWorker) run(ctx context.Context) (err error) {
	defer close(w.stopped)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("document worker panic: %v", recovered)
			if w.logger.Enabled(ctx, slog.LevelDebug) {
				w.logger.Error("document worker panic",
					"document", w.id, "error", err, "stack", string(debug.Stack()))
			} else {
				w.logger.Error("document worker panic", "document", w.id, "error", err)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-w.inbox:
			t.run(w.state)
			close(t.done)
		}
	}
}
