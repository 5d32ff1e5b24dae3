package core

import "time"

// MainBranch is the implicit trunk every document starts with. It never
// appears in the branch registry; it is the live document itself.
const MainBranch = "main"

// BranchStatus tracks where a branch is in its lifecycle. Within the engine
// only active branches accept operations and merges; merged is terminal.
// Archived exists for administrative tooling outside the engine.
type BranchStatus string

const (
	BranchActive   BranchStatus = "active"
	BranchMerged   BranchStatus = "merged"
	BranchArchived BranchStatus = "archived"
)

// Branch is a named overlay log on top of a document. Operations applied with
// a branch id land in the branch's private log AND in the live content; the
// branch is a record of a line of work, not a content fork. Merging replays
// the log through the normal apply path.
type Branch struct {
	ID           string       `json:"branch_id" yaml:"branch_id"`
	Name         string       `json:"name" yaml:"name"`
	SourceBranch string       `json:"source_branch" yaml:"source_branch"`
	CreatedBy    string       `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	Status       BranchStatus `json:"status" yaml:"status"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	Operations   []Operation  `json:"operations" yaml:"operations"`
}

// Clone returns a deep copy safe to hand across the actor boundary.
func (b *Branch) Clone() *Branch {
	c := *b
	c.Operations = cloneOperations(b.Operations)
	return &c
}
