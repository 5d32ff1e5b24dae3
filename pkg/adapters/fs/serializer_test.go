package fs

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tandem/pkg/core"
)

func sampleDoc(id string) core.DocumentState {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return core.DocumentState{
		ID:           id,
		Content:      "Hello World",
		Version:      3,
		CreatedBy:    "u1",
		CreatedAt:    created,
		LastModified: created.Add(time.Minute),
		Operations: []core.Operation{
			{ID: "op-1", Type: core.OpInsert, Position: 5, Content: " World", UserID: "u1", Timestamp: created, Version: 1},
			{ID: "op-2", Type: core.OpDelete, Position: 0, Length: 1, UserID: "u2", Timestamp: created.Add(time.Second), Version: 2,
				Metadata: core.Metadata{core.MetaDeletedContent: "H"}},
		},
	}
}

func sampleSnapshot(docID string) core.Snapshot {
	return core.Snapshot{
		ID:             "snap-1",
		DocumentID:     docID,
		Content:        "Hello World",
		Version:        3,
		OperationCount: 2,
		Metadata:       core.Metadata{"label": "before refactor"},
		CreatedAt:      time.Date(2025, 1, 2, 3, 5, 0, 0, time.UTC),
	}
}

func TestSerializer_DocumentRoundTrip(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML, FormatMarkdown} {
		t.Run(format, func(t *testing.T) {
			s, err := NewSerializer(format, false)
			if err != nil {
				t.Fatalf("NewSerializer(%s): %v", format, err)
			}

			doc := sampleDoc("doc-1")
			data, err := s.MarshalDocument(doc)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			got, err := s.UnmarshalDocument(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if got.ID != doc.ID || got.Content != doc.Content || got.Version != doc.Version {
				t.Fatalf("round trip mismatch: got %+v", got)
			}
			if got.CreatedBy != doc.CreatedBy {
				t.Fatalf("created_by = %q, want %q", got.CreatedBy, doc.CreatedBy)
			}
			if !got.CreatedAt.Equal(doc.CreatedAt) || !got.LastModified.Equal(doc.LastModified) {
				t.Fatalf("timestamps drifted: %v / %v", got.CreatedAt, got.LastModified)
			}
			if len(got.Operations) != 2 {
				t.Fatalf("operations = %d, want 2", len(got.Operations))
			}
			if got.Operations[0].ID != "op-1" || got.Operations[0].Content != " World" {
				t.Fatalf("operation 0 mismatch: %+v", got.Operations[0])
			}
			if got.Operations[1].Length != 1 {
				t.Fatalf("operation 1 length = %d, want 1", got.Operations[1].Length)
			}
		})
	}
}

func TestSerializer_SnapshotRoundTrip(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML, FormatMarkdown} {
		t.Run(format, func(t *testing.T) {
			s, err := NewSerializer(format, false)
			if err != nil {
				t.Fatalf("NewSerializer(%s): %v", format, err)
			}

			snap := sampleSnapshot("doc-1")
			data, err := s.MarshalSnapshot(snap)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			got, err := s.UnmarshalSnapshot(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			if got.ID != snap.ID || got.DocumentID != snap.DocumentID {
				t.Fatalf("ids mismatch: %+v", got)
			}
			if got.Content != snap.Content || got.Version != snap.Version || got.OperationCount != snap.OperationCount {
				t.Fatalf("payload mismatch: %+v", got)
			}
			if got.Metadata["label"] != "before refactor" {
				t.Fatalf("metadata = %v", got.Metadata)
			}
			if !got.CreatedAt.Equal(snap.CreatedAt) {
				t.Fatalf("created_at drifted: %v", got.CreatedAt)
			}
		})
	}
}

func TestNewSerializer_Formats(t *testing.T) {
	if _, err := NewSerializer("", false); err != nil {
		t.Fatalf("empty format should default to JSON: %v", err)
	}
	if _, err := NewSerializer("YAML", false); err != nil {
		t.Fatalf("format should be case-insensitive: %v", err)
	}
	if _, err := NewSerializer("md", false); err != nil {
		t.Fatalf("md alias: %v", err)
	}
	if _, err := NewSerializer("xml", false); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestJSONSerializer_StrictNumbers(t *testing.T) {
	doc := sampleDoc("doc-1")
	doc.Operations[0].Metadata = core.Metadata{"big": json.Number("9007199254740993")}

	strict := &JSONSerializer{Strict: true}
	data, err := strict.MarshalDocument(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := strict.UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n, ok := got.Operations[0].Metadata["big"].(json.Number)
	if !ok {
		t.Fatalf("strict mode should keep json.Number, got %T", got.Operations[0].Metadata["big"])
	}
	if n.String() != "9007199254740993" {
		t.Fatalf("precision lost: %s", n)
	}

	loose := &JSONSerializer{}
	got, err = loose.UnmarshalDocument(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got.Operations[0].Metadata["big"].(float64); !ok {
		t.Fatalf("default mode should decode numbers as float64, got %T", got.Operations[0].Metadata["big"])
	}
}

func TestMarkdownSerializer_BodyHandling(t *testing.T) {
	s := &MarkdownSerializer{}

	t.Run("content with delimiter lines", func(t *testing.T) {
		doc := sampleDoc("doc-1")
		doc.Content = "intro\n---\noutro"
		data, err := s.MarshalDocument(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := s.UnmarshalDocument(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Content != doc.Content {
			t.Fatalf("content = %q, want %q", got.Content, doc.Content)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		doc := sampleDoc("doc-1")
		doc.Content = ""
		data, err := s.MarshalDocument(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := s.UnmarshalDocument(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Content != "" {
			t.Fatalf("content = %q, want empty", got.Content)
		}
	})

	t.Run("no frontmatter", func(t *testing.T) {
		got, err := s.UnmarshalDocument([]byte("just text"))
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Content != "just text" || got.ID != "" {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("unterminated frontmatter", func(t *testing.T) {
		raw := "---\nid: doc-1\nno closing delimiter"
		got, err := s.UnmarshalDocument([]byte(raw))
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Content != raw {
			t.Fatalf("content = %q, want the raw text", got.Content)
		}
	})

	t.Run("frontmatter is yaml", func(t *testing.T) {
		doc := sampleDoc("doc-1")
		data, err := s.MarshalDocument(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !strings.HasPrefix(string(data), "---\nid: doc-1\n") {
			t.Fatalf("unexpected header: %q", string(data)[:40])
		}
	})
}
