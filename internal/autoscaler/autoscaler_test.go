package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/podprovider"
)

type memStore struct {
	state domain.PodState
}

func (m *memStore) LoadPodState() (domain.PodState, error) { return m.state, nil }
func (m *memStore) SavePodState(s domain.PodState) error   { m.state = s; return nil }

type fakeDrainer struct {
	requested bool
	drained   bool
}

func (f *fakeDrainer) RequestDrain(runnerID string) error {
	f.requested = true
	return nil
}
func (f *fakeDrainer) IsDrained(runnerID string) (bool, error) { return f.drained, nil }

func baseCfg() Config {
	return Config{
		ScanInterval:    time.Second,
		QueueThreshold:  1,
		SpindownThresh:  0,
		IdleTimeout:     time.Minute,
		DrainTimeout:    5 * time.Minute,
		MaxDailySpend:   5000,
		MatchedRunnerID: "gpu-runner",
	}
}

func TestTick_SpinsUpWhenQueueCrossesThreshold(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	store := &memStore{}
	drainer := &fakeDrainer{}
	queueLen := int64(2)

	a := New(provider, store, func() (int64, error) { return queueLen, nil }, drainer, baseCfg(), nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.Status != domain.PodRunning {
		t.Fatalf("Status = %v, want running", store.state.Status)
	}
	if store.state.PodID == "" {
		t.Fatal("expected a pod id to be assigned")
	}
}

func TestTick_StaysWarmWhileQueueNonEmpty(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	info, _ := provider.Create(context.Background(), podprovider.PodSpec{})
	store := &memStore{state: domain.PodState{PodID: info.ID, Status: domain.PodRunning, LastWorkSeen: time.Now().Add(-time.Hour)}}
	drainer := &fakeDrainer{}

	a := New(provider, store, func() (int64, error) { return 3, nil }, drainer, baseCfg(), nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(store.state.LastWorkSeen) > time.Minute {
		t.Fatal("expected LastWorkSeen to be refreshed while queue > 0")
	}
}

func TestTick_DrainsWhenIdleTimeoutExceeded(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	info, _ := provider.Create(context.Background(), podprovider.PodSpec{})
	store := &memStore{state: domain.PodState{
		PodID:        info.ID,
		Status:       domain.PodRunning,
		LastWorkSeen: time.Now().Add(-2 * time.Minute),
	}}
	drainer := &fakeDrainer{}

	a := New(provider, store, func() (int64, error) { return 0, nil }, drainer, baseCfg(), nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.Status != domain.PodDraining {
		t.Fatalf("Status = %v, want draining", store.state.Status)
	}
	if !drainer.requested {
		t.Fatal("expected RequestDrain to have been called")
	}
	if store.state.DrainRequestedAt == nil {
		t.Fatal("expected DrainRequestedAt to be stamped")
	}
}

func TestTick_StopsAfterRunnerReportsDrained(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	info, _ := provider.Create(context.Background(), podprovider.PodSpec{})
	now := time.Now()
	store := &memStore{state: domain.PodState{
		PodID: info.ID, Status: domain.PodDraining, DrainRequestedAt: &now,
	}}
	drainer := &fakeDrainer{drained: true}

	a := New(provider, store, func() (int64, error) { return 0, nil }, drainer, baseCfg(), nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.Status != domain.PodStopped {
		t.Fatalf("Status = %v, want stopped", store.state.Status)
	}
}

func TestTick_ForceStopsOnDrainTimeout(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	info, _ := provider.Create(context.Background(), podprovider.PodSpec{})
	longAgo := time.Now().Add(-time.Hour)
	store := &memStore{state: domain.PodState{
		PodID: info.ID, Status: domain.PodDraining, DrainRequestedAt: &longAgo,
	}}
	drainer := &fakeDrainer{drained: false}
	cfg := baseCfg()
	cfg.DrainTimeout = time.Minute

	a := New(provider, store, func() (int64, error) { return 0, nil }, drainer, cfg, nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.Status != domain.PodStopped {
		t.Fatalf("Status = %v, want stopped (forced by drain timeout)", store.state.Status)
	}
}

func TestTick_CostCapTripsDrainAndBlocksSpinUp(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	info, _ := provider.Create(context.Background(), podprovider.PodSpec{})
	store := &memStore{state: domain.PodState{
		PodID: info.ID, Status: domain.PodRunning, DailyCostCents: 4990, DayStart: time.Now(),
	}}
	drainer := &fakeDrainer{}
	cfg := baseCfg()
	cfg.MaxDailySpend = 5000

	// Make the fake provider report a cost rate that pushes the daily
	// total over the cap on this tick.
	provider.CreateFn = nil
	a := New(provider, store, func() (int64, error) { return 5, nil }, drainer, cfg, nil)

	// Manually push cost over the cap the way applyCostReport would if
	// the provider reported a nonzero hourly rate; FakeProvider reports
	// CostPerHour=0 by default, so drive the state directly to isolate
	// the cap-tripped drain behavior.
	store.state.CostCapped = true

	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.Status != domain.PodDraining {
		t.Fatalf("Status = %v, want draining once cost-capped", store.state.Status)
	}
}

func TestTick_SpinUpInjectsRunnerEnvAndToken(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	store := &memStore{}
	drainer := &fakeDrainer{}
	cfg := baseCfg()
	cfg.Template = "gpu-standard"
	cfg.GPUType = "a100"
	cfg.GPUCount = 1
	cfg.PodEnv = map[string]string{
		"FLOWSTATE_SERVER_URL": "https://dispatch.internal:8090",
		"FLOWSTATE_CAPABILITY": "heavy",
	}
	cfg.TokenFn = func() (string, error) { return "minted-token", nil }

	a := New(provider, store, func() (int64, error) { return 5, nil }, drainer, cfg, nil)
	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if provider.LastSpec.Template != "gpu-standard" || provider.LastSpec.GPUType != "a100" {
		t.Fatalf("LastSpec = %+v, want template/gpu populated", provider.LastSpec)
	}
	if provider.LastSpec.Env["FLOWSTATE_SERVER_URL"] != "https://dispatch.internal:8090" {
		t.Fatalf("Env missing server URL: %+v", provider.LastSpec.Env)
	}
	if provider.LastSpec.Env["FLOWSTATE_RUNNER_TOKEN"] != "minted-token" {
		t.Fatalf("Env missing minted runner token: %+v", provider.LastSpec.Env)
	}
}

func TestTick_DayBoundaryResetsCostCap(t *testing.T) {
	provider := podprovider.NewFakeProvider()
	store := &memStore{state: domain.PodState{
		Status:         domain.PodStopped,
		CostCapped:     true,
		DailyCostCents: 6000,
		DayStart:       time.Now().Add(-25 * time.Hour),
	}}
	drainer := &fakeDrainer{}
	a := New(provider, store, func() (int64, error) { return 0, nil }, drainer, baseCfg(), nil)

	if err := a.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.state.CostCapped {
		t.Fatal("expected cost cap to clear at day boundary")
	}
	if store.state.DailyCostCents != 0 {
		t.Fatalf("DailyCostCents = %d, want reset to 0", store.state.DailyCostCents)
	}
}
