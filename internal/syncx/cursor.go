// Package syncx holds the opaque pagination cursor used by tenant-scoped list
// operations (Connection Registry, SyncJob/Signal listing).
package syncx

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PageCursor is the keyset position for (created_at ASC, id ASC) pagination.
// Encoded as base64(JSON) per the external cursor contract; callers never see
// the JSON directly.
type PageCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

// EncodeCursor produces the opaque cursor string. A zero-value cursor encodes to "".
func EncodeCursor(c PageCursor) string {
	if c.CreatedAt.IsZero() && c.ID == uuid.Nil {
		return ""
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque cursor string. An empty string decodes to the
// zero cursor with ok=false (the caller should treat that as "no cursor", not
// an error); any non-empty string that fails to parse is a validation error.
func DecodeCursor(s string) (PageCursor, bool) {
	if s == "" {
		return PageCursor{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return PageCursor{}, false
	}

	var c PageCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return PageCursor{}, false
	}
	if c.ID == uuid.Nil {
		return PageCursor{}, false
	}

	return c, true
}
