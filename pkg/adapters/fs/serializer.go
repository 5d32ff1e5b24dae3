package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/tandem/pkg/core"
)

// Supported archive formats.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

// Serializer renders document states and snapshots to bytes and back.
// Each format owns one file extension so the watcher and the loader can
// tell archive records apart from stray files.
type Serializer interface {
	// Ext returns the file extension (without dot) for this format.
	Ext() string

	MarshalDocument(doc core.DocumentState) ([]byte, error)
	UnmarshalDocument(data []byte) (*core.DocumentState, error)

	MarshalSnapshot(snap core.Snapshot) ([]byte, error)
	UnmarshalSnapshot(data []byte) (*core.Snapshot, error)
}

// NewSerializer returns the serializer for the given format name.
// An empty format means JSON. Strict only affects JSON decoding, where it
// keeps numbers in operation metadata as json.Number instead of float64.
func NewSerializer(format string, strict bool) (Serializer, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return &JSONSerializer{Strict: strict}, nil
	case FormatYAML, "yml":
		return &YAMLSerializer{}, nil
	case FormatMarkdown, "md":
		return &MarkdownSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown archive format: %s", format)
	}
}

// JSONSerializer renders records as indented JSON.
type JSONSerializer struct {
	// Strict enables strict number parsing (as json.Number) to avoid
	// precision loss in operation metadata.
	Strict bool
}

func (s *JSONSerializer) Ext() string { return "json" }

func (s *JSONSerializer) MarshalDocument(doc core.DocumentState) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func (s *JSONSerializer) UnmarshalDocument(data []byte) (*core.DocumentState, error) {
	var doc core.DocumentState
	if err := s.unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &doc, nil
}

func (s *JSONSerializer) MarshalSnapshot(snap core.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

func (s *JSONSerializer) UnmarshalSnapshot(data []byte) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := s.unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *JSONSerializer) unmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if s.Strict {
		decoder.UseNumber()
	}
	return decoder.Decode(v)
}

// YAMLSerializer renders records as YAML.
type YAMLSerializer struct{}

func (s *YAMLSerializer) Ext() string { return "yaml" }

func (s *YAMLSerializer) MarshalDocument(doc core.DocumentState) ([]byte, error) {
	return yaml.Marshal(doc)
}

func (s *YAMLSerializer) UnmarshalDocument(data []byte) (*core.DocumentState, error) {
	var doc core.DocumentState
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &doc, nil
}

func (s *YAMLSerializer) MarshalSnapshot(snap core.Snapshot) ([]byte, error) {
	return yaml.Marshal(snap)
}

func (s *YAMLSerializer) UnmarshalSnapshot(data []byte) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkdownSerializer renders records as a YAML frontmatter block followed
// by the document content as the body. The format keeps archived documents
// readable in any text editor at the cost of a heavier parse.
type MarkdownSerializer struct{}

func (s *MarkdownSerializer) Ext() string { return "md" }

// documentFront carries everything except the content, which becomes the
// markdown body.
type documentFront struct {
	ID           string           `yaml:"id"`
	Version      int              `yaml:"version"`
	CreatedBy    string           `yaml:"created_by,omitempty"`
	CreatedAt    time.Time        `yaml:"created_at,omitempty"`
	LastModified time.Time        `yaml:"last_modified,omitempty"`
	Operations   []core.Operation `yaml:"operations,omitempty"`
}

type snapshotFront struct {
	SnapshotID     string        `yaml:"snapshot_id"`
	DocumentID     string        `yaml:"document_id"`
	Version        int           `yaml:"version"`
	OperationCount int           `yaml:"operation_count"`
	Metadata       core.Metadata `yaml:"metadata,omitempty"`
	CreatedAt      time.Time     `yaml:"created_at,omitempty"`
}

func (s *MarkdownSerializer) MarshalDocument(doc core.DocumentState) ([]byte, error) {
	front := documentFront{
		ID:           doc.ID,
		Version:      doc.Version,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt,
		LastModified: doc.LastModified,
		Operations:   doc.Operations,
	}
	return marshalFrontmatter(front, doc.Content)
}

func (s *MarkdownSerializer) UnmarshalDocument(data []byte) (*core.DocumentState, error) {
	var front documentFront
	body, err := unmarshalFrontmatter(data, &front)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &core.DocumentState{
		ID:           front.ID,
		Content:      body,
		Version:      front.Version,
		CreatedBy:    front.CreatedBy,
		CreatedAt:    front.CreatedAt,
		LastModified: front.LastModified,
		Operations:   front.Operations,
	}, nil
}

func (s *MarkdownSerializer) MarshalSnapshot(snap core.Snapshot) ([]byte, error) {
	front := snapshotFront{
		SnapshotID:     snap.ID,
		DocumentID:     snap.DocumentID,
		Version:        snap.Version,
		OperationCount: snap.OperationCount,
		Metadata:       snap.Metadata,
		CreatedAt:      snap.CreatedAt,
	}
	return marshalFrontmatter(front, snap.Content)
}

func (s *MarkdownSerializer) UnmarshalSnapshot(data []byte) (*core.Snapshot, error) {
	var front snapshotFront
	body, err := unmarshalFrontmatter(data, &front)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &core.Snapshot{
		ID:             front.SnapshotID,
		DocumentID:     front.DocumentID,
		Content:        body,
		Version:        front.Version,
		OperationCount: front.OperationCount,
		Metadata:       front.Metadata,
		CreatedAt:      front.CreatedAt,
	}, nil
}

func marshalFrontmatter(front any, body string) ([]byte, error) {
	frontData, err := yaml.Marshal(front)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(frontData)
	buf.WriteString("---\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// unmarshalFrontmatter splits a markdown record into its frontmatter and
// body. A file without an opening delimiter is treated as body only, so
// hand-created files still load.
func unmarshalFrontmatter(data []byte, front any) (string, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return text, nil
	}
	rest := text[len("---\n"):]
	parts := strings.SplitN(rest, "\n---\n", 2)
	if len(parts) != 2 {
		// Opening delimiter without a closing one. Treat the whole file
		// as a frontmatter-less body rather than guessing.
		return text, nil
	}
	if err := yaml.Unmarshal([]byte(parts[0]+"\n"), front); err != nil {
		return "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return parts[1], nil
}
