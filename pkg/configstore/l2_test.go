package configstore

import (
	"context"
	"testing"
)

// A nil Redis client disables L2 entirely; every method must behave as a
// permanent miss / silent no-op so callers safely fall through to L3.
func TestL2_DisabledWhenNilClient(t *testing.T) {
	l2 := NewL2(nil)
	ctx := context.Background()

	if l2.Enabled() {
		t.Fatal("expected Enabled() to be false with a nil client")
	}

	if _, ok := l2.GetActive(ctx); ok {
		t.Error("expected GetActive to miss when disabled")
	}
	if _, ok := l2.GetByID(ctx, "v1"); ok {
		t.Error("expected GetByID to miss when disabled")
	}
	if _, ok := l2.GetVersionList(ctx); ok {
		t.Error("expected GetVersionList to miss when disabled")
	}

	// Writes and invalidations must not panic and must report no error.
	l2.SetActiveCache(ctx, Version{ID: "v1"})
	l2.SetByID(ctx, Version{ID: "v1"})
	l2.SetVersionList(ctx, []Version{{ID: "v1"}})

	if err := l2.InvalidateActive(ctx); err != nil {
		t.Errorf("InvalidateActive on disabled L2 = %v, want nil", err)
	}
	if err := l2.InvalidateByID(ctx, "v1"); err != nil {
		t.Errorf("InvalidateByID on disabled L2 = %v, want nil", err)
	}
	if err := l2.InvalidateVersionList(ctx); err != nil {
		t.Errorf("InvalidateVersionList on disabled L2 = %v, want nil", err)
	}
}

func TestL2_NilReceiverIsDisabled(t *testing.T) {
	var l2 *L2
	if l2.Enabled() {
		t.Error("expected a nil *L2 to report Enabled() == false")
	}
}
