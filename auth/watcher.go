package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCheckInterval is how often the watcher looks for sessions nearing expiry
const DefaultCheckInterval = 30 * time.Second

// Watcher periodically checks the sessions of its managers for expiry and
// refreshes or ends them. A tick that finds a transition in flight does nothing.
type Watcher struct {
	interval time.Duration
	cron     *cron.Cron
	stopped  atomic.Bool

	lock     sync.Mutex
	managers map[*Manager]struct{}
}

// NewWatcher creates a watcher ticking every interval (DefaultCheckInterval when zero)
func NewWatcher(interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Watcher{
		interval: interval,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		managers: make(map[*Manager]struct{}),
	}
}

// Add puts a manager under watch
func (w *Watcher) Add(m *Manager) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.managers[m] = struct{}{}
}

// Remove stops watching a manager
func (w *Watcher) Remove(m *Manager) {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.managers, m)
}

// Start schedules the checks. ctx is handed to every check.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("[Watcher Start] schedule: %w", err)
	}
	w.cron.Start()
	log.Debug().Dur("interval", w.interval).Msg("Watcher: started")
	return nil
}

// Stop ends the schedule without waiting for a running check. A refresh the
// running check has not started yet is discarded; one already sent to the
// provider completes.
func (w *Watcher) Stop() {
	w.stopped.Store(true)
	w.cron.Stop()
}

// Tick runs one check over every watched manager
func (w *Watcher) Tick(ctx context.Context) {
	if w.stopped.Load() {
		return
	}

	w.lock.Lock()
	managers := make([]*Manager, 0, len(w.managers))
	for m := range w.managers {
		managers = append(managers, m)
	}
	w.lock.Unlock()

	for _, m := range managers {
		m.checkExpiry(ctx, w.running)
	}
}

func (w *Watcher) running() bool {
	return !w.stopped.Load()
}
