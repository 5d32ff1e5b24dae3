package core

// Transform adjusts two concurrent operations against each other so that both
// application orders agree on where surviving text lands. It returns adjusted
// copies of both; the inputs are never mutated. The engine feeds the incoming
// operation as a and each already-committed operation as b, keeping only the
// adjusted a.
//
// Pairings outside insert/delete pass through unchanged. That fallback is
// deliberate: a stale operation the transformer cannot reason about is still
// applied best-effort rather than rejected.
func Transform(a, b Operation) (Operation, Operation) {
	ta, tb := a, b

	switch {
	case a.Type == OpInsert && b.Type == OpInsert:
		ta, tb = transformInsertInsert(ta, tb)
	case a.Type == OpDelete && b.Type == OpDelete:
		ta, tb = transformDeleteDelete(ta, tb)
	case a.Type == OpInsert && b.Type == OpDelete:
		ta, tb = transformInsertDelete(ta, tb)
	case a.Type == OpDelete && b.Type == OpInsert:
		tb, ta = transformInsertDelete(tb, ta)
	default:
		return ta, tb
	}

	if ta.Position != a.Position || ta.Length != a.Length {
		ta.TransformedFrom = b.ID
	}
	if tb.Position != b.Position || tb.Length != b.Length {
		tb.TransformedFrom = a.ID
	}
	return ta, tb
}

// transformInsertInsert resolves two inserts. Equal positions break the tie
// on user id: the lexicographically greater user shifts right, so both
// replicas agree on who goes first. Otherwise the later insert shifts right
// by the earlier one's length.
func transformInsertInsert(a, b Operation) (Operation, Operation) {
	switch {
	case a.Position == b.Position:
		if a.UserID > b.UserID {
			a.Position += runeLen(b.Content)
		} else {
			b.Position += runeLen(a.Content)
		}
	case a.Position < b.Position:
		b.Position += runeLen(a.Content)
	default:
		a.Position += runeLen(b.Content)
	}
	return a, b
}

// transformDeleteDelete resolves two deletes. Disjoint ranges shift the later
// one left. Overlapping ranges are clipped so the shared region is only
// removed once: each side keeps its remainder, and the later-starting delete
// is re-anchored at the earlier one's start.
func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	aEnd := a.Position + a.Length
	bEnd := b.Position + b.Length

	switch {
	case aEnd <= b.Position:
		b.Position -= a.Length
	case bEnd <= a.Position:
		a.Position -= b.Length
	case a.Position <= b.Position:
		overlap := min(aEnd, bEnd) - b.Position
		a.Length -= overlap
		b.Position = a.Position
		b.Length -= overlap
	default:
		overlap := min(aEnd, bEnd) - a.Position
		b.Length -= overlap
		a.Position = b.Position
		a.Length -= overlap
	}
	return a, b
}

// transformInsertDelete resolves an insert against a delete. An insert inside
// the deleted range is clamped to the delete's start; an insert at or past
// the delete's end shifts left by the deleted length. The delete shifts right
// when the insert lands at or before its start, since that text now sits
// further along.
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	insPos := ins.Position
	delStart := del.Position
	delEnd := del.Position + del.Length

	switch {
	case insPos >= delEnd:
		ins.Position -= del.Length
	case insPos > delStart:
		ins.Position = delStart
	}

	if insPos <= delStart {
		del.Position += runeLen(ins.Content)
	}
	return ins, del
}
