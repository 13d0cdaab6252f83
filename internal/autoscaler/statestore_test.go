package autoscaler

import (
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/artifactstore"
	"github.com/flowstate/flowstate/internal/domain"
)

func TestArtifactStateStore_RoundTrip(t *testing.T) {
	fs, err := artifactstore.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := NewArtifactStateStore(fs)

	initial, err := store.LoadPodState()
	if err != nil {
		t.Fatal(err)
	}
	if initial.Status != "" {
		t.Fatalf("expected zero-value PodState before first save, got %+v", initial)
	}

	now := time.Now().Truncate(time.Second)
	want := domain.PodState{
		PodID:          "pod-9",
		Status:         domain.PodRunning,
		LastWorkSeen:   now,
		DailyCostCents: 1234,
		DayStart:       now,
	}
	if err := store.SavePodState(want); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadPodState()
	if err != nil {
		t.Fatal(err)
	}
	if got.PodID != want.PodID || got.Status != want.Status || got.DailyCostCents != want.DailyCostCents {
		t.Fatalf("LoadPodState = %+v, want %+v", got, want)
	}
}
