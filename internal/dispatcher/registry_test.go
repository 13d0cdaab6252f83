package dispatcher

import (
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.RunnerInfo{ID: "r1", Capability: domain.CapabilityStandard, MaxConcurrent: 4})

	info, ok := r.Get("r1")
	if !ok {
		t.Fatal("expected r1 to be registered")
	}
	if info.Capability != domain.CapabilityStandard {
		t.Errorf("Capability = %q, want standard", info.Capability)
	}
}

func TestRegistry_ConsumePendingClearsAfterRead(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.RunnerInfo{ID: "r1"})

	drain := true
	if !r.SetPendingConfig("r1", domain.PendingConfig{Drain: &drain}) {
		t.Fatal("SetPendingConfig should succeed for known runner")
	}

	cfg := r.ConsumePending("r1")
	if cfg.Drain == nil || !*cfg.Drain {
		t.Fatal("expected drain=true from first consume")
	}

	cfg2 := r.ConsumePending("r1")
	if cfg2.Drain != nil {
		t.Fatal("expected pending config to be cleared after consume")
	}
}

func TestRegistry_SetPendingConfigUnknownRunner(t *testing.T) {
	r := NewRegistry()
	if r.SetPendingConfig("ghost", domain.PendingConfig{}) {
		t.Fatal("expected SetPendingConfig to fail for unknown runner")
	}
}

func TestRegistry_IsDrainingReflectsPendingAndStatus(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.RunnerInfo{ID: "r1", Status: domain.FleetActive})
	if r.IsDraining("r1") {
		t.Fatal("fresh runner should not be draining")
	}

	drain := true
	r.SetPendingConfig("r1", domain.PendingConfig{Drain: &drain})
	if !r.IsDraining("r1") {
		t.Fatal("runner with pending drain should report draining")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.RunnerInfo{ID: "stale"})

	r.mu.Lock()
	r.runners["stale"].LastSeen = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	removed := r.Sweep(time.Minute)
	if len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("Sweep removed %v, want [stale]", removed)
	}
	if _, ok := r.Get("stale"); ok {
		t.Fatal("expected stale runner to be gone after sweep")
	}
}
