package gallery

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/chirp/internal/models"
)

// SortMode selects the gallery ordering a cursor belongs to.
type SortMode string

const (
	ModeChrono SortMode = "chrono"
	ModePerson SortMode = "person"
)

const cursorVersion = 1

// ErrInvalidCursor is wrapped by every cursor decoding failure.
var ErrInvalidCursor = models.NewValidationError("cursor", "malformed or expired cursor")

// Cursor is the position of the first image of the next page. Chronological
// cursors use CreatedAt and ID; person cursors use ID, IsTagged and
// MinDistance, where a nil MinDistance means the image has no distance to
// the sort person.
type Cursor struct {
	Mode        SortMode
	ID          uuid.UUID
	CreatedAt   time.Time
	IsTagged    int
	MinDistance *float64
}

type chronoWire struct {
	V         int       `json:"v"`
	Mode      SortMode  `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

type personWire struct {
	V           int       `json:"v"`
	Mode        SortMode  `json:"mode"`
	ID          uuid.UUID `json:"id"`
	IsTagged    int       `json:"is_tagged"`
	MinDistance *float64  `json:"min_distance"`
}

var cursorKeys = map[SortMode][]string{
	ModeChrono: {"v", "mode", "created_at", "id"},
	ModePerson: {"v", "mode", "id", "is_tagged", "min_distance"},
}

// EncodeCursor serializes c as unpadded base64url JSON.
func EncodeCursor(c Cursor) (string, error) {
	var wire interface{}
	switch c.Mode {
	case ModeChrono:
		wire = chronoWire{V: cursorVersion, Mode: c.Mode, CreatedAt: c.CreatedAt.UTC(), ID: c.ID}
	case ModePerson:
		wire = personWire{V: cursorVersion, Mode: c.Mode, ID: c.ID, IsTagged: c.IsTagged, MinDistance: c.MinDistance}
	default:
		return "", fmt.Errorf("encode cursor: unknown mode %q", c.Mode)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor. Every failure wraps
// ErrInvalidCursor.
func DecodeCursor(s string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, invalid("bad encoding")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Cursor{}, invalid("bad json")
	}

	var head struct {
		V    int      `json:"v"`
		Mode SortMode `json:"mode"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Cursor{}, invalid("bad header")
	}
	if head.V != cursorVersion {
		return Cursor{}, invalid(fmt.Sprintf("unsupported version %d", head.V))
	}
	keys, ok := cursorKeys[head.Mode]
	if !ok {
		return Cursor{}, invalid(fmt.Sprintf("unknown mode %q", head.Mode))
	}
	if len(fields) != len(keys) {
		return Cursor{}, invalid("unexpected fields")
	}
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return Cursor{}, invalid("missing " + k)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	switch head.Mode {
	case ModeChrono:
		var w chronoWire
		if err := dec.Decode(&w); err != nil {
			return Cursor{}, invalid("bad chrono fields")
		}
		if w.ID == uuid.Nil || w.CreatedAt.IsZero() {
			return Cursor{}, invalid("empty chrono fields")
		}
		return Cursor{Mode: ModeChrono, ID: w.ID, CreatedAt: w.CreatedAt}, nil
	default:
		var w personWire
		if err := dec.Decode(&w); err != nil {
			return Cursor{}, invalid("bad person fields")
		}
		if w.ID == uuid.Nil || (w.IsTagged != 0 && w.IsTagged != 1) {
			return Cursor{}, invalid("bad person fields")
		}
		return Cursor{Mode: ModePerson, ID: w.ID, IsTagged: w.IsTagged, MinDistance: w.MinDistance}, nil
	}
}

// DecodeCursorFor decodes s and rejects a cursor issued for another mode.
func DecodeCursorFor(s string, mode SortMode) (Cursor, error) {
	c, err := DecodeCursor(s)
	if err != nil {
		return Cursor{}, err
	}
	if c.Mode != mode {
		return Cursor{}, invalid(fmt.Sprintf("cursor is for %s ordering, not %s", c.Mode, mode))
	}
	return c, nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCursor, reason)
}
