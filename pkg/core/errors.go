package core

import "errors"

// Common errors. None of them is process-fatal; every failure is scoped to a
// single document or operation and returned to the caller to check.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrBranchExists     = errors.New("branch already exists")
	ErrBranchNotActive  = errors.New("branch is not active")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrNothingToRedo    = errors.New("nothing to redo")
	ErrNoInverse        = errors.New("operation has no defined inverse")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrReadOnly         = errors.New("archive is in read-only mode")
	ErrEngineClosed     = errors.New("engine is closed")
)
