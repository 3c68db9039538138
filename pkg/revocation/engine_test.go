package revocation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestEngine_DisabledPassesEveryToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	front := New(1000, 0.01, &fakeStreamer{})
	front.Add("jti-1")

	// No store or bus: with revocation disabled, the decision must
	// short-circuit before either would be touched.
	e := NewEngine(nil, front, nil, Config{Enabled: false, QueryTimeout: 100 * time.Millisecond}, logger)

	if e.IsRevoked(context.Background(), "jti-1", "alice", time.Now()) {
		t.Error("a disabled engine must never report a token as revoked")
	}
}
