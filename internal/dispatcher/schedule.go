package dispatcher

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowstate/flowstate/internal/domain"
)

// ScheduledEnqueue is a recurring, cron-triggered enqueue of a
// maintenance action against a fixed task, e.g. a nightly re-verify or
// a periodic research refresh that isn't triggered by a human approval.
type ScheduledEnqueue struct {
	Name       string
	Cron       string
	TaskID     string
	Action     domain.Action
	Capability domain.Capability
}

// EnqueueLedger is the subset of Ledger the scheduler needs.
type EnqueueLedger interface {
	Enqueue(taskID string, action domain.Action, capability domain.Capability) (string, error)
}

// Scheduler runs ScheduledEnqueue jobs on their cron expressions,
// tracking each job's last-fired time so a restart doesn't immediately
// replay everything due since the epoch.
type Scheduler struct {
	ledger  EnqueueLedger
	parser  cron.Parser
	jobs    map[string]ScheduledEnqueue
	lastRun map[string]time.Time
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewScheduler builds a Scheduler over jobs, rejecting any with an
// unparseable cron expression.
func NewScheduler(ledger EnqueueLedger, jobs []ScheduledEnqueue, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Scheduler{
		ledger:  ledger,
		parser:  parser,
		jobs:    make(map[string]ScheduledEnqueue, len(jobs)),
		lastRun: make(map[string]time.Time, len(jobs)),
		logger:  logger,
	}
	for _, j := range jobs {
		if _, err := parser.Parse(j.Cron); err != nil {
			return nil, err
		}
		s.jobs[j.Name] = j
	}
	return s, nil
}

// Run blocks, checking every minute for jobs whose schedule has come
// due since their last firing, until the caller closes stop.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	due := make([]ScheduledEnqueue, 0)
	for name, job := range s.jobs {
		sched, err := s.parser.Parse(job.Cron)
		if err != nil {
			continue
		}
		last, ok := s.lastRun[name]
		if !ok {
			last = now.Add(-time.Minute)
		}
		if sched.Next(last).After(now) {
			continue
		}
		s.lastRun[name] = now
		due = append(due, job)
	}
	s.mu.Unlock()

	for _, job := range due {
		runID, err := s.ledger.Enqueue(job.TaskID, job.Action, job.Capability)
		if err != nil {
			s.logger.Printf("scheduled enqueue %q: %v", job.Name, err)
			continue
		}
		s.logger.Printf("scheduled enqueue %q fired: run %s", job.Name, runID)
	}
}
