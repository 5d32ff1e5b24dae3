package core

// stackLimit bounds every undo and redo stack. When a stack is full the
// oldest entry is dropped, never the newest.
const stackLimit = 100

// opStack is a bounded LIFO of operations. The undo stack holds applied
// originals; the redo stack holds originals that were undone.
type opStack struct {
	ops []Operation
}

func (s *opStack) push(op Operation) {
	if len(s.ops) >= stackLimit {
		copy(s.ops, s.ops[1:])
		s.ops = s.ops[:len(s.ops)-1]
	}
	s.ops = append(s.ops, op)
}

func (s *opStack) pop() (Operation, bool) {
	if len(s.ops) == 0 {
		return Operation{}, false
	}
	op := s.ops[len(s.ops)-1]
	s.ops = s.ops[:len(s.ops)-1]
	return op, true
}

func (s *opStack) peek() (Operation, bool) {
	if len(s.ops) == 0 {
		return Operation{}, false
	}
	return s.ops[len(s.ops)-1], true
}

func (s *opStack) depth() int {
	return len(s.ops)
}

// invertOperation derives the inverse of an applied operation, targeting the
// operation's originally stored position. Inserts invert to deletes of the
// same range; deletes invert to inserts of the recorded removed text. Updates
// have no defined inverse (the pre-image is not recorded), so they report
// false and the caller refuses the undo. Batch and snapshot markers invert to
// markers of the same type, keeping the one-version-per-undo invariant.
func invertOperation(op Operation) (Operation, bool) {
	switch op.Type {
	case OpInsert:
		return Operation{
			Type:     OpDelete,
			Position: op.Position,
			Length:   runeLen(op.Content),
			UserID:   op.UserID,
			UndoOf:   op.ID,
		}, true

	case OpDelete:
		deleted, _ := op.Metadata[MetaDeletedContent].(string)
		return Operation{
			Type:     OpInsert,
			Position: op.Position,
			Content:  deleted,
			UserID:   op.UserID,
			UndoOf:   op.ID,
		}, true

	case OpUpdate:
		return Operation{}, false

	default:
		return Operation{
			Type:     op.Type,
			Position: op.Position,
			UserID:   op.UserID,
			UndoOf:   op.ID,
		}, true
	}
}
