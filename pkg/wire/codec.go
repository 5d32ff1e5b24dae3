// Package wire decodes and encodes the JSON operation format exchanged with
// transports. Incoming timestamps are accepted with or without a timezone
// suffix, because several client stacks emit bare ISO-8601 local times;
// outgoing timestamps are always RFC 3339 UTC.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/tandem/pkg/core"
)

// timestampFormats lists accepted layouts, most specific first. The bare
// layout parses as UTC.
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// envelope mirrors core.Operation with a string timestamp so parsing can be
// tolerant. Unknown fields are ignored.
type envelope struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Position  int           `json:"position"`
	Content   string        `json:"content"`
	Length    int           `json:"length"`
	UserID    string        `json:"user_id"`
	Timestamp string        `json:"timestamp"`
	Version   int           `json:"version"`
	BranchID  string        `json:"branch_id"`
	UndoOf    string        `json:"undo_of"`
	RedoOf    string        `json:"redo_of"`
	Metadata  core.Metadata `json:"metadata"`
}

func (e envelope) toOperation() (core.Operation, error) {
	opType := core.OpType(strings.ToLower(e.Type))
	if !opType.Valid() {
		return core.Operation{}, fmt.Errorf("%w: unknown type %q", core.ErrInvalidOperation, e.Type)
	}

	ts, err := ParseTimestamp(e.Timestamp)
	if err != nil {
		return core.Operation{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return core.Operation{
		ID:        e.ID,
		Type:      opType,
		Position:  e.Position,
		Content:   e.Content,
		Length:    e.Length,
		UserID:    e.UserID,
		Timestamp: ts,
		Version:   e.Version,
		BranchID:  e.BranchID,
		UndoOf:    e.UndoOf,
		RedoOf:    e.RedoOf,
		Metadata:  e.Metadata,
	}, nil
}

// ParseTimestamp parses an ISO-8601 timestamp, with or without timezone. An
// empty string yields the zero time; the engine stamps unset timestamps at
// apply time, so the codec does not invent one.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeOperation parses a single operation from its wire form.
func DecodeOperation(data []byte) (core.Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.Operation{}, fmt.Errorf("failed to decode operation: %w", err)
	}
	return env.toOperation()
}

// DecodeOperations parses a JSON array of operations, as submitted for batch
// application. A single malformed entry fails the whole decode; partial
// batches are an apply-time concern, not a parse-time one.
func DecodeOperations(data []byte) ([]core.Operation, error) {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("failed to decode operations: %w", err)
	}

	ops := make([]core.Operation, 0, len(envs))
	for i, env := range envs {
		op, err := env.toOperation()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeOperation renders an operation in wire form. core.Operation already
// carries the wire field names; timestamps marshal as RFC 3339 UTC.
func EncodeOperation(op core.Operation) ([]byte, error) {
	op.Timestamp = op.Timestamp.UTC()
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}
	return data, nil
}
