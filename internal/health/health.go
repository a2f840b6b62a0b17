// Package health implements the Health Tracker: periodic liveness and
// load sampling of reactors, feeding the Router's candidate filter.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/packetflow/reactor/internal/obs/logging"
	"github.com/packetflow/reactor/internal/obs/metrics"
	"github.com/packetflow/reactor/internal/router"
)

const (
	defaultInterval         = 30 * time.Second
	defaultDeadline         = 5 * time.Second
	defaultFailureThreshold = 3
)

// Pinger performs a single ping against a reactor endpoint, returning the
// reactor's self-reported load factor on success.
type Pinger interface {
	Ping(ctx context.Context, endpoint string) (load float64, err error)
}

// Tracker runs a scheduled ping loop against every descriptor in a Router
// and flips healthy/unhealthy on consecutive-failure thresholds.
type Tracker struct {
	Router           *router.Router
	Pinger           Pinger
	Interval         time.Duration
	Deadline         time.Duration
	FailureThreshold int
	Logger           *logging.Logger
	Metrics          *metrics.Metrics

	mu        sync.Mutex
	failures  map[string]int
	cronEntry cron.EntryID
	sched     *cron.Cron
}

// New builds a Tracker with the documented defaults applied where zero
// values are passed.
func New(r *router.Router, pinger Pinger, interval, deadline time.Duration, failureThreshold int, log *logging.Logger, m *metrics.Metrics) *Tracker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	return &Tracker{
		Router:           r,
		Pinger:           pinger,
		Interval:         interval,
		Deadline:         deadline,
		FailureThreshold: failureThreshold,
		Logger:           log,
		Metrics:          m,
		failures:         make(map[string]int),
	}
}

// Start schedules the periodic ping loop on a cron entry running every
// Interval, and returns immediately. Call Stop to halt it.
func (t *Tracker) Start() error {
	t.sched = cron.New(cron.WithSeconds())
	spec := everySpec(t.Interval)
	id, err := t.sched.AddFunc(spec, t.tickAll)
	if err != nil {
		return err
	}
	t.cronEntry = id
	t.sched.Start()
	return nil
}

// Stop halts the scheduled ping loop.
func (t *Tracker) Stop() {
	if t.sched != nil {
		t.sched.Stop()
	}
}

// tickAll pings every known descriptor once.
func (t *Tracker) tickAll() {
	for _, d := range t.Router.All() {
		t.pingOne(d.ID, d.Endpoint)
	}
}

// pingOne runs a single ping against a descriptor and applies the outcome:
// a success clears the failure streak and updates load; failures accumulate
// until the threshold flips the descriptor unhealthy.
func (t *Tracker) pingOne(id, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.Deadline)
	defer cancel()

	load, err := t.Pinger.Ping(ctx, endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.failures[id]++
		if t.failures[id] >= t.FailureThreshold {
			wasHealthy := true
			if d, ok := t.Router.Get(id); ok {
				wasHealthy = d.Healthy
			}
			t.Router.SetHealth(id, false)
			if wasHealthy {
				t.logTransition(id, false)
			}
		}
		return
	}

	wasUnhealthy := false
	if d, ok := t.Router.Get(id); ok {
		wasUnhealthy = !d.Healthy
	}
	t.failures[id] = 0
	t.Router.SetHealth(id, true)
	t.Router.UpdateLoad(id, load)
	if wasUnhealthy {
		t.logTransition(id, true)
	}
}

func (t *Tracker) logTransition(id string, healthy bool) {
	if t.Logger != nil {
		t.Logger.LogHealthTransition(id, healthy, t.failures[id])
	}
	if t.Metrics != nil {
		t.Metrics.RecordHealthTransition(id, healthy)
	}
}

// SystemHealth returns the fraction of healthy descriptors. It feeds the
// introspection endpoint and plays no part in routing.
func (t *Tracker) SystemHealth() float64 {
	all := t.Router.All()
	if len(all) == 0 {
		return 1.0
	}
	healthy := 0
	for _, d := range all {
		if d.Healthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(all))
}

// everySpec converts a duration into a robfig/cron "@every" spec string.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
