package domain

import "time"

// PodState is the autoscaler's persisted view of the single GPU pod it
// owns. Zero value represents "no pod has ever been created".
type PodState struct {
	PodID            string
	Status           PodStatus
	LastWorkSeen     time.Time
	DailyCostCents   int64
	DayStart         time.Time
	CostCapped       bool
	DrainRequestedAt *time.Time
}
