package dispatcher

import "github.com/flowstate/flowstate/internal/domain"

// RegistryDrainer adapts the fleet Registry to autoscaler.Drainer, so
// the autoscaler can ask the matched runner to drain and poll for
// completion without depending on the dispatcher package directly.
type RegistryDrainer struct {
	Registry *Registry
}

// RequestDrain arms drain=true on the runner's next poll response.
func (d RegistryDrainer) RequestDrain(runnerID string) error {
	drain := true
	d.Registry.SetPendingConfig(runnerID, domain.PendingConfig{Drain: &drain})
	return nil
}

// IsDrained reports true once the runner has both acknowledged drain
// status and has no active runs left, or has vanished from the
// registry entirely (already torn down).
func (d RegistryDrainer) IsDrained(runnerID string) (bool, error) {
	info, ok := d.Registry.Get(runnerID)
	if !ok {
		return true, nil
	}
	return info.Status == domain.FleetDrained && info.ActiveCount == 0, nil
}
