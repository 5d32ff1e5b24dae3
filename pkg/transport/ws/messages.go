package ws

import (
	"encoding/json"

	"github.com/aretw0/tandem/pkg/core"
	"github.com/aretw0/tandem/pkg/presence"
)

// Frame types sent by editors.
const (
	MsgOperation = "operation"
	MsgUndo      = "undo"
	MsgRedo      = "redo"
	MsgPresence  = "presence"
)

// Frame types sent by the server.
const (
	MsgSnapshot = "snapshot"
	MsgEvent    = "event"
	MsgAck      = "ack"
	MsgUsers    = "users"
	MsgError    = "error"
)

// clientMessage is one frame from an editor. Type selects which of the
// remaining fields matter.
type clientMessage struct {
	Type string `json:"type"`

	// Operation carries the operation payload for MsgOperation frames,
	// in the same encoding the HTTP API accepts.
	Operation json.RawMessage `json:"operation,omitempty"`

	// Metadata refreshes the session's presence metadata on MsgPresence
	// frames.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// serverMessage is one frame to an editor.
//
// MsgSnapshot fills Content and Version, MsgEvent fills Event, MsgAck fills
// Conflicts (operation applies) or Operation (undo/redo results), MsgUsers
// fills Users and MsgError fills Error.
type serverMessage struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id,omitempty"`
	Content    string          `json:"content,omitempty"`
	Version    int             `json:"version,omitempty"`
	Event      *core.Event     `json:"event,omitempty"`
	Conflicts  []core.Conflict `json:"conflicts,omitempty"`
	Operation  *core.Operation `json:"operation,omitempty"`
	Users      []presence.Info `json:"users,omitempty"`
	Error      string          `json:"error,omitempty"`
}
