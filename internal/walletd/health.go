package walletd

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wbubblerteam/bubcoin-bot/pkg/logger"
)

// Pinger is the probe the health watcher runs against the daemon.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthWatcher periodically probes the daemon so callers can fail fast while
// it is unreachable instead of queuing irreversible work against it.
type HealthWatcher struct {
	pinger   Pinger
	schedule string
	log      *logger.Logger
	cron     *cron.Cron

	mu      sync.RWMutex
	healthy bool
}

// NewHealthWatcher builds a watcher with a cron schedule such as
// "@every 30s". The daemon is assumed healthy until the first probe says
// otherwise.
func NewHealthWatcher(pinger Pinger, schedule string, log *logger.Logger) *HealthWatcher {
	if log == nil {
		log = logger.NewDefault("walletd-health")
	}
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &HealthWatcher{
		pinger:   pinger,
		schedule: schedule,
		log:      log,
		cron:     cron.New(),
		healthy:  true,
	}
}

// Start begins probing. Returns an error only for an invalid schedule.
func (w *HealthWatcher) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.probe); err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts probing and waits for an in-flight probe to finish.
func (w *HealthWatcher) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

// Healthy reports the daemon state as of the last probe.
func (w *HealthWatcher) Healthy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.healthy
}

func (w *HealthWatcher) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := w.pinger.Ping(ctx)

	w.mu.Lock()
	was := w.healthy
	w.healthy = err == nil
	w.mu.Unlock()

	if err != nil && was {
		w.log.WithError(err).Warn("wallet daemon unreachable; withdrawals suspended")
	}
	if err == nil && !was {
		w.log.Info("wallet daemon reachable again")
	}
}
