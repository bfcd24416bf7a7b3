package syncx

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeDecodeCursorRoundTrip(t *testing.T) {
	original := PageCursor{
		CreatedAt: time.Date(2024, 11, 3, 12, 0, 0, 0, time.UTC),
		ID:        uuid.MustParse("c1d9b7dc-a1b2-4c3d-9e8f-7a6b5c4d3e2f"),
	}

	encoded := EncodeCursor(original)
	if encoded == "" {
		t.Fatal("EncodeCursor() returned empty string for non-zero cursor")
	}

	decoded, ok := DecodeCursor(encoded)
	if !ok {
		t.Fatal("DecodeCursor() failed for a cursor we just encoded")
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
	if decoded.ID != original.ID {
		t.Errorf("ID = %v, want %v", decoded.ID, original.ID)
	}
}

func TestEncodeCursorZeroValue(t *testing.T) {
	if got := EncodeCursor(PageCursor{}); got != "" {
		t.Errorf("EncodeCursor(zero) = %q, want empty string", got)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty string", ""},
		{"not base64", "not-base64!!!"},
		{"valid base64 not json", base64.RawURLEncoding.EncodeToString([]byte("hello world"))},
		{"json missing id", base64.RawURLEncoding.EncodeToString([]byte(`{"created_at":"2024-11-03T12:00:00Z"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := DecodeCursor(tt.encoded); ok {
				t.Errorf("DecodeCursor(%q) unexpectedly succeeded", tt.encoded)
			}
		})
	}
}
