package configstore

import (
	"testing"
	"time"
)

func TestL1_ActiveRoundTrip(t *testing.T) {
	l1 := NewL1(5*time.Minute, 100)

	if _, ok := l1.GetActive(); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	v := Version{ID: "v1", Version: 1}
	l1.SetActive(v)

	got, ok := l1.GetActive()
	if !ok || got.ID != "v1" {
		t.Fatalf("GetActive = %+v, %v, want v1, true", got, ok)
	}

	l1.InvalidateActive()
	if _, ok := l1.GetActive(); ok {
		t.Error("expected a miss after InvalidateActive")
	}
}

func TestL1_ByIDRoundTrip(t *testing.T) {
	l1 := NewL1(5*time.Minute, 100)
	v := Version{ID: "v2", Version: 2}
	l1.SetByID(v)

	got, ok := l1.GetByID("v2")
	if !ok || got.Version != 2 {
		t.Fatalf("GetByID = %+v, %v, want v2/2, true", got, ok)
	}

	l1.InvalidateByID("v2")
	if _, ok := l1.GetByID("v2"); ok {
		t.Error("expected a miss after InvalidateByID")
	}
}

func TestL1_VersionListRoundTrip(t *testing.T) {
	l1 := NewL1(5*time.Minute, 100)
	vs := []Version{{ID: "v1"}, {ID: "v2"}}
	l1.SetVersionList(vs)

	got, ok := l1.GetVersionList()
	if !ok || len(got) != 2 {
		t.Fatalf("GetVersionList = %v, %v, want 2 entries, true", got, ok)
	}

	l1.InvalidateVersionList()
	if _, ok := l1.GetVersionList(); ok {
		t.Error("expected a miss after InvalidateVersionList")
	}
}

func TestL1_TTLExpiry(t *testing.T) {
	l1 := NewL1(time.Millisecond, 100)
	l1.SetActive(Version{ID: "v1"})
	time.Sleep(20 * time.Millisecond)
	if _, ok := l1.GetActive(); ok {
		t.Error("expected the entry to have expired")
	}
}
