package dispatcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowstate/flowstate/internal/domain"
	"github.com/fsnotify/fsnotify"
)

// OverrideWatcher watches a directory for operator-dropped marker files
// (`<runner_id>.drain`, `<runner_id>.poll_interval`) and arms the
// matching pending config on the dispatcher's registry, giving an
// operator a way to signal drain during an incident without hitting the
// HTTP admin API.
type OverrideWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	logger  *log.Logger
	setter  func(runnerID string, cfg domain.PendingConfig) bool
	cancel  context.CancelFunc
}

// NewOverrideWatcher watches dir, calling setPendingConfig whenever a
// marker file is created or written.
func NewOverrideWatcher(dir string, logger *log.Logger, setPendingConfig func(runnerID string, cfg domain.PendingConfig) bool) (*OverrideWatcher, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[dispatcher-override] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &OverrideWatcher{watcher: w, dir: dir, logger: logger, setter: setPendingConfig}, nil
}

// Start begins watching in the background until ctx is cancelled or
// Stop is called.
func (o *OverrideWatcher) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-o.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				o.handleEvent(event.Name)
			case err, ok := <-o.watcher.Errors:
				if !ok {
					return
				}
				o.logger.Printf("watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching and releases the underlying inotify/kqueue handle.
func (o *OverrideWatcher) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.watcher.Close()
}

func (o *OverrideWatcher) handleEvent(path string) {
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(name, ".drain"):
		runnerID := strings.TrimSuffix(name, ".drain")
		drain := true
		if !o.setter(runnerID, domain.PendingConfig{Drain: &drain}) {
			o.logger.Printf("override drain: unknown runner %q", runnerID)
		}
	case strings.HasSuffix(name, ".poll_interval"):
		runnerID := strings.TrimSuffix(name, ".poll_interval")
		data, err := os.ReadFile(path)
		if err != nil {
			o.logger.Printf("override poll_interval: reading %q: %v", path, err)
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(string(data)))
		if err != nil {
			o.logger.Printf("override poll_interval: parsing %q: %v", path, err)
			return
		}
		if !o.setter(runnerID, domain.PendingConfig{PollInterval: &d}) {
			o.logger.Printf("override poll_interval: unknown runner %q", runnerID)
		}
	}
}
