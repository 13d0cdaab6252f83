package dispatcher

import (
	"context"
	"log"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/flowstate/flowstate/internal/notify"
)

// Watchdog periodically reclaims runs that have been running or
// salvaging for longer than StaleAfter, marking them failed so their
// task is not stuck forever behind a runner that vanished without
// reporting completion.
type Watchdog struct {
	Ledger     Ledger
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *log.Logger
	Notifier   notify.Notifier
}

// NewWatchdog builds a Watchdog that scans every interval for runs
// started more than staleAfter ago. One staleAfter applies to every
// action; cmd/flowstated sets it to StaleMultiplier times the longer of
// the light and build timeouts. Reclaims are reported through the
// Notifier field, which starts as notify.NoopNotifier{}.
func NewWatchdog(l Ledger, interval, staleAfter time.Duration, logger *log.Logger) *Watchdog {
	if logger == nil {
		logger = log.New(log.Writer(), "[watchdog] ", log.LstdFlags)
	}
	return &Watchdog{Ledger: l, Interval: interval, StaleAfter: staleAfter, Logger: logger, Notifier: notify.NoopNotifier{}}
}

// Run blocks, scanning on Interval, until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(); err != nil {
				w.Logger.Printf("sweep: %v", err)
			}
		}
	}
}

func (w *Watchdog) sweep() error {
	cutoff := time.Now().Add(-w.StaleAfter)
	stale, err := w.Ledger.StaleRunning(cutoff)
	if err != nil {
		return err
	}
	for _, run := range stale {
		outcome := domain.Outcome{
			Status:       domain.RunFailed,
			ErrorMessage: "watchdog: runner lost",
		}
		if err := w.Ledger.Complete(run.ID, run.RunnerID, outcome); err != nil {
			w.Logger.Printf("reclaiming run %s: %v", run.ID, err)
			continue
		}
		w.Logger.Printf("reclaimed stale run %s (runner %s)", run.ID, run.RunnerID)
		w.Notifier.Send(notify.Notification{
			Title:   "run reclaimed",
			Message: "watchdog reclaimed run " + run.ID + " after runner " + run.RunnerID + " went silent",
			Type:    notify.NotifyWarning,
			TaskID:  run.TaskID,
		})
	}
	return nil
}
