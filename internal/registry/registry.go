// Package registry implements the packet registry: the mapping from a
// packet key (group:element[:variant]) to the Handler Record that serves
// it.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/packetflow/reactor/internal/atom"
)

// Handler is implemented by every packet handler, scripted or native.
type Handler interface {
	Handle(ec *atom.ExecutionContext) (atom.Value, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ec *atom.ExecutionContext) (atom.Value, error)

func (f HandlerFunc) Handle(ec *atom.ExecutionContext) (atom.Value, error) { return f(ec) }

// Record is the Handler Record stored against a packet key: the handler
// itself plus the routing/scheduling metadata the engine and router need.
type Record struct {
	Key             atom.Key
	Handler         Handler
	MaxPayloadBytes int    // 0 means "no explicit limit"
	TimeoutSeconds  int    // 0 means "use engine default"
	Specialization  string // e.g. "cpu_bound", "network_bound", "general"
	Description     string

	// stats is shared by every copy of this Record handed out by Lookup, so
	// the Execution Engine can mutate handler-level statistics without a
	// second registry round-trip.
	stats *handlerStats
}

// handlerStats holds the mutable per-handler counters, updated only by the
// Execution Engine via Record.RecordCall.
type handlerStats struct {
	calls              uint64
	errors             uint64
	totalDurationNanos uint64
	lastCalledUnixNano int64
}

// HandlerStats is a point-in-time snapshot of a Record's call statistics.
type HandlerStats struct {
	Calls        uint64
	Errors       uint64
	AvgDuration  time.Duration
	LastCalledAt time.Time
}

// RecordCall updates the handler-level call count, cumulative duration,
// error count, and last-called timestamp. Safe for concurrent dispatches.
func (rec Record) RecordCall(success bool, d time.Duration) {
	if rec.stats == nil {
		return
	}
	atomic.AddUint64(&rec.stats.calls, 1)
	atomic.AddUint64(&rec.stats.totalDurationNanos, uint64(d.Nanoseconds()))
	if !success {
		atomic.AddUint64(&rec.stats.errors, 1)
	}
	atomic.StoreInt64(&rec.stats.lastCalledUnixNano, time.Now().UnixNano())
}

// Stats snapshots this Record's handler-level statistics.
func (rec Record) Stats() HandlerStats {
	if rec.stats == nil {
		return HandlerStats{}
	}
	calls := atomic.LoadUint64(&rec.stats.calls)
	var avg time.Duration
	if calls > 0 {
		avg = time.Duration(atomic.LoadUint64(&rec.stats.totalDurationNanos) / calls)
	}
	var lastCalled time.Time
	if ns := atomic.LoadInt64(&rec.stats.lastCalledUnixNano); ns != 0 {
		lastCalled = time.Unix(0, ns).UTC()
	}
	return HandlerStats{
		Calls:        calls,
		Errors:       atomic.LoadUint64(&rec.stats.errors),
		AvgDuration:  avg,
		LastCalledAt: lastCalled,
	}
}

// Registry is the RWMutex-protected store of Handler Records. Lookups are
// safe to call concurrently with registration and deregistration.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// ErrDuplicateKey is returned by Register when a packet key is already
// registered and replace was not requested.
var ErrDuplicateKey = fmt.Errorf("registry: packet key already registered")

// Register adds the Handler Record for key. A key that is already
// registered is rejected with ErrDuplicateKey unless replace is true;
// replace exists for a reactor operator deliberately re-registering a
// handler (a hot-reload), not for accidental double registration.
func (r *Registry) Register(rec Record, replace bool) error {
	if rec.Handler == nil {
		return fmt.Errorf("registry: handler must not be nil")
	}
	key := rec.Key.String()
	if key == ":" || rec.Key.Group == "" || rec.Key.Element == "" {
		return fmt.Errorf("registry: invalid packet key %q", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[key]; exists && !replace {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	if existing, exists := r.records[key]; exists && replace {
		rec.stats = existing.stats
	}
	if rec.stats == nil {
		rec.stats = &handlerStats{}
	}
	r.records[key] = rec
	return nil
}

// Deregister removes the Handler Record for key, if present.
func (r *Registry) Deregister(key atom.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key.String())
}

// Lookup returns the Handler Record for key, falling back from a
// group:element:variant key to the bare group:element record when no
// variant-specific record exists.
func (r *Registry) Lookup(key atom.Key) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := r.records[key.String()]; ok {
		return rec, true
	}
	if key.Variant != "" {
		if rec, ok := r.records[atom.NewKey(key.Group, key.Element, "").String()]; ok {
			return rec, true
		}
	}
	return Record{}, false
}

// List returns every registered key, sorted for deterministic output.
func (r *Registry) List() []atom.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]atom.Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.records[k].Key)
	}
	return out
}

// Count returns the number of registered records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
