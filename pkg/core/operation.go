package core

import "time"

// Metadata represents the flexible key-value pairs attached to an operation
// or snapshot.
type Metadata map[string]any

const (
	// MetaDeletedContent is the metadata key under which delete operations
	// record the removed substring. Undo relies on it to rebuild the
	// inverse insert.
	MetaDeletedContent = "deleted_content"

	// MetaMergedFrom is the metadata key carrying the id of the branch
	// operation a merge replay originated from.
	MetaMergedFrom = "merged_from"
)

// OpType identifies the kind of edit an Operation performs.
// The set is closed; switches over it should handle every constant.
type OpType string

const (
	OpInsert   OpType = "insert"
	OpDelete   OpType = "delete"
	OpUpdate   OpType = "update"
	OpBatch    OpType = "batch"
	OpSnapshot OpType = "snapshot"
)

// Valid reports whether t is one of the known operation types.
func (t OpType) Valid() bool {
	switch t {
	case OpInsert, OpDelete, OpUpdate, OpBatch, OpSnapshot:
		return true
	}
	return false
}

// Operation is the atomic edit primitive. Positions and lengths count Unicode
// code points, not bytes. Version carries the document version the issuer
// believed was current; the engine uses it to decide whether the operation
// arrived stale.
type Operation struct {
	ID       string `json:"id" yaml:"id"`
	Type     OpType `json:"type" yaml:"type"`
	Position int    `json:"position" yaml:"position"`
	Content  string `json:"content,omitempty" yaml:"content,omitempty"`
	Length   int    `json:"length,omitempty" yaml:"length,omitempty"`
	UserID   string `json:"user_id" yaml:"user_id"`

	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Version   int       `json:"version" yaml:"version"`
	BranchID  string    `json:"branch_id,omitempty" yaml:"branch_id,omitempty"`

	// Lineage references. UndoOf and RedoOf point at the operation an
	// inverse or re-application derives from; TransformedFrom points at the
	// committed operation a stale arrival was last adjusted against.
	UndoOf          string `json:"undo_of,omitempty" yaml:"undo_of,omitempty"`
	RedoOf          string `json:"redo_of,omitempty" yaml:"redo_of,omitempty"`
	TransformedFrom string `json:"transformed_from,omitempty" yaml:"transformed_from,omitempty"`

	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a copy of the operation with its own metadata map, so that
// callers and the engine never share mutable state.
func (o Operation) Clone() Operation {
	c := o
	if o.Metadata != nil {
		c.Metadata = make(Metadata, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// cloneOperations copies a slice of operations including their metadata maps.
func cloneOperations(ops []Operation) []Operation {
	if ops == nil {
		return nil
	}
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}
