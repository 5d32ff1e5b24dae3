package core

import "time"

// Snapshot is an immutable point-in-time capture of a document: its content,
// version, and how many operations the log held at capture. Snapshots are
// append-only; once taken they are never mutated, only restored from.
type Snapshot struct {
	ID             string    `json:"snapshot_id" yaml:"snapshot_id"`
	DocumentID     string    `json:"document_id" yaml:"document_id"`
	Content        string    `json:"content" yaml:"content"`
	Version        int       `json:"version" yaml:"version"`
	OperationCount int       `json:"operation_count" yaml:"operation_count"`
	Metadata       Metadata  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// Clone returns a copy with its own metadata map.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Metadata != nil {
		c.Metadata = make(Metadata, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
