// Package backup serializes the entire store into one self-describing
// document and restores it, independent of remote sync.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stepvault/stepvault/internal/library"
	"github.com/stepvault/stepvault/internal/settings"
)

// DocumentVersion is the only backup format version this codec accepts.
const DocumentVersion = 3

var (
	// ErrInvalidFormat indicates the payload is not a parseable backup
	// document.
	ErrInvalidFormat = errors.New("backup: invalid document")
	// ErrUnsupportedFormat indicates a parseable document with a missing
	// marker or a version other than DocumentVersion. There is no downgrade
	// path.
	ErrUnsupportedFormat = errors.New("backup: unsupported document version")
)

// BlobEntry is one (id, base64-payload) pair. It marshals as a two-element
// JSON array.
type BlobEntry struct {
	ID     string
	Base64 string
}

// MarshalJSON implements json.Marshaler.
func (e BlobEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.ID, e.Base64})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *BlobEntry) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("blob entry must have two elements, got %d", len(pair))
	}
	e.ID = pair[0]
	e.Base64 = pair[1]
	return nil
}

// Payload is the exported store content. Entity payloads decode into the
// typed structs, which structurally drops fields that only legacy exports
// carried.
type Payload struct {
	Lessons          []library.Lesson      `json:"lessons"`
	Figures          []library.Figure      `json:"figures"`
	FigureCategories []library.Grouping    `json:"figureCategories"`
	LessonCategories []library.Grouping    `json:"lessonCategories"`
	Schools          []library.Grouping    `json:"schools"`
	Instructors      []library.Grouping    `json:"instructors"`
	Settings         settings.SyncSettings `json:"settings"`
	Videos           []BlobEntry           `json:"videos"`
	Thumbnails       []BlobEntry           `json:"thumbnails"`
	FigureThumbnails []BlobEntry           `json:"figureThumbnails"`
}

// Document is the versioned backup envelope.
type Document struct {
	Marker     bool    `json:"__EXPORT_MARKER__"`
	Version    int     `json:"version"`
	ExportDate string  `json:"exportDate"`
	Data       Payload `json:"data"`
}
