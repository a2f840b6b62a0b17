package health

import (
	"context"

	"github.com/shirou/gopsutil/v3/load"
)

// SelfPinger reports the local process's own load factor using gopsutil,
// for a Health Tracker running in-process alongside the reactor it is
// monitoring.
type SelfPinger struct {
	// Capacity is the load-average value considered "fully loaded"
	// (load factor 1.0). A typical choice is the number of CPU cores.
	Capacity float64
}

// Ping ignores endpoint (there is no network hop for a self-ping) and
// returns the 1-minute load average normalized against Capacity, clamped
// to [0,1].
func (p SelfPinger) Ping(ctx context.Context, endpoint string) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	capacity := p.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	factor := avg.Load1 / capacity
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return factor, nil
}
