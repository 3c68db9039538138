package httpserver

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEncodeDecodeCursor(t *testing.T) {
	want := Cursor{At: time.Now().UTC().Truncate(time.Microsecond), Key: "revoked:jti:abc123"}
	encoded := EncodeCursor(want)

	got, err := DecodeCursor(encoded)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !got.At.Equal(want.At) || got.Key != want.Key {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	if _, err := DecodeCursor("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	noSeparator := base64.RawURLEncoding.EncodeToString([]byte("no-colon-here"))
	if _, err := DecodeCursor(noSeparator); err == nil {
		t.Error("expected error for cursor missing separator")
	}
}

func TestParseCursorParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/admin/revocations?limit=10", nil)
	p, err := ParseCursorParams(r)
	if err != nil {
		t.Fatalf("ParseCursorParams: %v", err)
	}
	if p.Limit != 10 {
		t.Errorf("Limit = %d, want 10", p.Limit)
	}
	if p.After != nil {
		t.Error("After should be nil without an 'after' query param")
	}

	r = httptest.NewRequest("GET", "/admin/revocations?limit=999", nil)
	p, err = ParseCursorParams(r)
	if err != nil {
		t.Fatalf("ParseCursorParams: %v", err)
	}
	if p.Limit != MaxPageSize {
		t.Errorf("Limit = %d, want clamped to %d", p.Limit, MaxPageSize)
	}
}

func TestNewCursorPage(t *testing.T) {
	type row struct {
		Key string
		At  time.Time
	}
	now := time.Now().UTC()
	items := []row{
		{Key: "a", At: now},
		{Key: "b", At: now.Add(time.Second)},
		{Key: "c", At: now.Add(2 * time.Second)},
	}

	page := NewCursorPage(items, 2, func(r row) Cursor { return Cursor{At: r.At, Key: r.Key} })
	if !page.HasMore {
		t.Error("HasMore should be true when more rows than limit were fetched")
	}
	if len(page.Items) != 2 {
		t.Errorf("Items len = %d, want 2", len(page.Items))
	}
	if page.NextCursor == nil {
		t.Fatal("NextCursor should be set when HasMore")
	}
}
