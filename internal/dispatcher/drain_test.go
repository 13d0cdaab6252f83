package dispatcher

import (
	"testing"

	"github.com/flowstate/flowstate/internal/domain"
)

func TestRegistryDrainer_IsDrainedWhenUnknownRunner(t *testing.T) {
	d := RegistryDrainer{Registry: NewRegistry()}
	drained, err := d.IsDrained("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if !drained {
		t.Fatal("expected unknown runner to be considered drained")
	}
}

func TestRegistryDrainer_RequestDrainThenIsDrained(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.RunnerInfo{ID: "runner-1", ActiveCount: 2, Status: domain.FleetActive})
	d := RegistryDrainer{Registry: reg}

	if err := d.RequestDrain("runner-1"); err != nil {
		t.Fatal(err)
	}

	if drained, _ := d.IsDrained("runner-1"); drained {
		t.Fatal("expected not drained while ActiveCount > 0 and status still active")
	}

	reg.Register(domain.RunnerInfo{ID: "runner-1", ActiveCount: 0, Status: domain.FleetDrained})
	drained, err := d.IsDrained("runner-1")
	if err != nil {
		t.Fatal(err)
	}
	if !drained {
		t.Fatal("expected drained once ActiveCount == 0 and status == drained")
	}
}
