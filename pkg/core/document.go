package core

import (
	"time"
	"unicode/utf8"
)

// DocumentState is the live, mutable state of a shared document. Content is
// the full text, Version grows by exactly one per successfully applied
// operation (undo and redo inverses included), and Operations is the ordered
// log of everything applied so far.
//
// DocumentState carries no locking. The engine owns each instance through a
// single-writer actor; anything handed out crosses the boundary as a clone.
type DocumentState struct {
	ID           string      `json:"id" yaml:"id"`
	Content      string      `json:"content" yaml:"content"`
	Version      int         `json:"version" yaml:"version"`
	Operations   []Operation `json:"operations" yaml:"operations"`
	CreatedBy    string      `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt    time.Time   `json:"created_at" yaml:"created_at"`
	LastModified time.Time   `json:"last_modified" yaml:"last_modified"`
}

// NewDocumentState builds a fresh document at version 1.
func NewDocumentState(id, content, createdBy string) *DocumentState {
	now := time.Now().UTC()
	return &DocumentState{
		ID:           id,
		Content:      content,
		Version:      1,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		LastModified: now,
	}
}

// Clone returns a deep copy safe to hand across the actor boundary.
func (d *DocumentState) Clone() *DocumentState {
	c := *d
	c.Operations = cloneOperations(d.Operations)
	return &c
}

// runeLen counts Unicode code points. All positions and lengths in the
// engine are code point offsets, matching how editors address text.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// applyToContent splices the operation's effect into content and returns the
// result. Ranges are clamped to the current bounds rather than rejected.
// Deletes record the removed text into op.Metadata so undo can restore it.
// Batch and snapshot markers leave content untouched.
func applyToContent(content string, op *Operation) string {
	runes := []rune(content)
	n := len(runes)

	switch op.Type {
	case OpInsert:
		pos := clamp(op.Position, 0, n)
		return string(runes[:pos]) + op.Content + string(runes[pos:])

	case OpDelete:
		start := clamp(op.Position, 0, n)
		end := clamp(op.Position+op.Length, start, n)
		if op.Metadata == nil {
			op.Metadata = make(Metadata, 1)
		}
		op.Metadata[MetaDeletedContent] = string(runes[start:end])
		return string(runes[:start]) + string(runes[end:])

	case OpUpdate:
		start := clamp(op.Position, 0, n)
		end := clamp(op.Position+op.Length, start, n)
		return string(runes[:start]) + op.Content + string(runes[end:])

	default:
		return content
	}
}
