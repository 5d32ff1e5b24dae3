package core

import "time"

// concurrencyWindow is the timestamp distance within which two operations are
// considered concurrent. It is a heuristic, not a causal guarantee; see the
// version vector for the stronger signal.
const concurrencyWindow = time.Second

// ConflictType classifies a detected hazard between two operations.
type ConflictType string

const (
	// ConflictConcurrent marks insert/insert and mixed-type collisions.
	ConflictConcurrent ConflictType = "concurrent"
	// ConflictOverlap marks two deletes fighting over the same range.
	ConflictOverlap ConflictType = "overlap"
)

// Conflict records a hazard between two operations. Detection produces it;
// nothing here mutates document state. Resolved is set by the engine once the
// transformer has adjusted the incoming operation past the hazard.
type Conflict struct {
	Operation1 string       `json:"operation1_id" yaml:"operation1_id"`
	Operation2 string       `json:"operation2_id" yaml:"operation2_id"`
	Position   int          `json:"position" yaml:"position"`
	Type       ConflictType `json:"type" yaml:"type"`
	Resolved   bool         `json:"resolved" yaml:"resolved"`
}

// affectedRange returns the span of content an operation touches. Inserts
// claim [position, position+len(content)); deletes and updates claim
// [position, position+length). Batch and snapshot markers touch nothing.
func affectedRange(op Operation) (start, end int, ok bool) {
	switch op.Type {
	case OpInsert:
		return op.Position, op.Position + runeLen(op.Content), true
	case OpDelete, OpUpdate:
		return op.Position, op.Position + op.Length, true
	default:
		return 0, 0, false
	}
}

// Detect reports whether two operations conflict. It is a pure function: two
// operations are concurrent when their timestamps fall within one second of
// each other, and they conflict when their affected ranges meet. Range ends
// are treated inclusively so that an insert landing exactly on a delete
// boundary still counts; otherwise the common "extend while someone deletes"
// race would slip through undetected.
func Detect(a, b Operation) *Conflict {
	gap := a.Timestamp.Sub(b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > concurrencyWindow {
		return nil
	}

	aStart, aEnd, ok := affectedRange(a)
	if !ok {
		return nil
	}
	bStart, bEnd, ok := affectedRange(b)
	if !ok {
		return nil
	}
	if aStart > bEnd || bStart > aEnd {
		return nil
	}

	ctype := ConflictConcurrent
	if a.Type == OpDelete && b.Type == OpDelete {
		ctype = ConflictOverlap
	}

	return &Conflict{
		Operation1: a.ID,
		Operation2: b.ID,
		Position:   a.Position,
		Type:       ctype,
	}
}
