package engine

import "sync/atomic"

// atomicStats holds the engine-level counters with lock-free updates;
// approximate values under concurrency are acceptable.
type atomicStats struct {
	processed uint64
	successes uint64
	errors    uint64
}

func (s *atomicStats) recordProcessed(success bool) {
	atomic.AddUint64(&s.processed, 1)
	if success {
		atomic.AddUint64(&s.successes, 1)
	} else {
		atomic.AddUint64(&s.errors, 1)
	}
}

func (s *atomicStats) snapshot() Stats {
	return Stats{
		Processed: atomic.LoadUint64(&s.processed),
		Successes: atomic.LoadUint64(&s.successes),
		Errors:    atomic.LoadUint64(&s.errors),
	}
}
