package platform

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CursorVersion is the current cursor document schema version.
const CursorVersion = 1

// ErrCursorSchema reports a cursor document that does not match the expected
// schema version or platform tag. Format drift fails loudly instead of being
// silently reinterpreted.
var ErrCursorSchema = errors.New("cursor schema mismatch")

// Cursor marks ingestion progress for one connected account. The Value field
// is platform-defined and round-tripped verbatim; the envelope carries a
// schema version and the owning platform so drift is detected on read.
type Cursor struct {
	Version  int             `json:"v"`
	Platform Platform        `json:"platform"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// NewCursor wraps a platform-defined value in a versioned envelope.
func NewCursor(p Platform, value json.RawMessage) Cursor {
	return Cursor{Version: CursorVersion, Platform: p, Value: value}
}

// IsZero reports whether the cursor has never been set.
func (c Cursor) IsZero() bool {
	return c.Version == 0 && c.Platform == "" && len(c.Value) == 0
}

// Validate checks the envelope against the owning platform.
func (c Cursor) Validate(p Platform) error {
	if c.IsZero() {
		return nil
	}
	if c.Version != CursorVersion {
		return fmt.Errorf("%w: version %d", ErrCursorSchema, c.Version)
	}
	if c.Platform != p {
		return fmt.Errorf("%w: cursor for %s, account on %s", ErrCursorSchema, c.Platform, p)
	}
	return nil
}

// ParseCursor decodes a stored cursor document and validates it for the
// given platform. Empty input yields the zero cursor.
func ParseCursor(raw []byte, p Platform) (Cursor, error) {
	if len(raw) == 0 {
		return Cursor{}, nil
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrCursorSchema, err)
	}
	if err := c.Validate(p); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// Encode renders the cursor for storage. The zero cursor encodes to nil.
func (c Cursor) Encode() ([]byte, error) {
	if c.IsZero() {
		return nil, nil
	}
	return json.Marshal(c)
}
