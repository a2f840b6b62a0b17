// Package router implements the affinity-based Router: given an atom, it
// selects exactly one healthy, eligible Reactor Descriptor or reports
// NO_REACTOR_AVAILABLE.
package router

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/obs/metrics"
	"github.com/packetflow/reactor/internal/perrors"
)

const (
	defaultLoadThreshold       = 0.95
	healthyBonus               = 1.1
	defaultDegradedHealthBonus = 0.5
)

// ChangeNotifier is notified of every local descriptor mutation, so a
// cluster-wide fan-out (e.g. Redis pub/sub) can mirror this Router's state
// onto its peers. Router works standalone with Notifier left nil.
type ChangeNotifier interface {
	NotifyAdd(d Descriptor)
	NotifyRemove(id string)
	NotifyHealth(id string, healthy bool)
	NotifyLoad(id string, load float64)
}

// Router selects a Reactor Descriptor for each atom. Descriptor set
// mutations publish a fresh snapshot (copy-on-write) so routing reads
// never block on a lock.
type Router struct {
	LoadThreshold       float64
	DegradedHealthBonus float64
	Metrics             *metrics.Metrics
	Notifier            ChangeNotifier

	mu    sync.Mutex   // serializes writers only; readers use the atomic snapshot
	state atomic.Value // map[string]Descriptor
}

// New returns an empty Router using the documented defaults.
func New() *Router {
	r := &Router{
		LoadThreshold:       defaultLoadThreshold,
		DegradedHealthBonus: defaultDegradedHealthBonus,
	}
	r.state.Store(map[string]Descriptor{})
	return r
}

func (r *Router) snapshot() map[string]Descriptor {
	return r.state.Load().(map[string]Descriptor)
}

// Add publishes a new or replacement Descriptor, then fans the change out
// to Notifier, if one is configured.
func (r *Router) Add(d Descriptor) {
	r.addLocal(d)
	if r.Notifier != nil {
		r.Notifier.NotifyAdd(d)
	}
}

// ApplyRemoteAdd applies a Descriptor received from a peer via Notifier's
// transport, without re-publishing it back out (which would echo forever
// between Router instances sharing the same channel).
func (r *Router) ApplyRemoteAdd(d Descriptor) { r.addLocal(d) }

func (r *Router) addLocal(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make(map[string]Descriptor, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[d.ID] = d
	r.state.Store(next)
}

// Remove drops a Descriptor by identifier, then fans the removal out.
func (r *Router) Remove(id string) {
	if r.removeLocal(id) && r.Notifier != nil {
		r.Notifier.NotifyRemove(id)
	}
}

// ApplyRemoteRemove mirrors a peer-originated removal without re-publishing.
func (r *Router) ApplyRemoteRemove(id string) { r.removeLocal(id) }

func (r *Router) removeLocal(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	if _, ok := cur[id]; !ok {
		return false
	}
	next := make(map[string]Descriptor, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	r.state.Store(next)
	return true
}

// UpdateLoad publishes a new load factor for id, if it exists, then fans the
// update out.
func (r *Router) UpdateLoad(id string, load float64) {
	if r.updateLoadLocal(id, load) && r.Notifier != nil {
		r.Notifier.NotifyLoad(id, load)
	}
}

// ApplyRemoteLoad mirrors a peer-originated load update without
// re-publishing.
func (r *Router) ApplyRemoteLoad(id string, load float64) { r.updateLoadLocal(id, load) }

func (r *Router) updateLoadLocal(id string, load float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	d, ok := cur[id]
	if !ok {
		return false
	}
	d.LoadFactor = load
	next := make(map[string]Descriptor, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	next[id] = d
	r.state.Store(next)
	return true
}

// SetHealth publishes a healthy/unhealthy transition for id, if it exists,
// then fans the transition out. A descriptor flipping to healthy clears its
// degraded flag.
func (r *Router) SetHealth(id string, healthy bool) {
	if r.setHealthLocal(id, healthy) && r.Notifier != nil {
		r.Notifier.NotifyHealth(id, healthy)
	}
}

// ApplyRemoteHealth mirrors a peer-originated health transition without
// re-publishing.
func (r *Router) ApplyRemoteHealth(id string, healthy bool) { r.setHealthLocal(id, healthy) }

func (r *Router) setHealthLocal(id string, healthy bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	d, ok := cur[id]
	if !ok {
		return false
	}
	d.Healthy = healthy
	if healthy {
		d.Degraded = false
	}
	next := make(map[string]Descriptor, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	next[id] = d
	r.state.Store(next)
	return true
}

// SetDegraded marks a descriptor degraded without flipping healthy, so it
// remains eligible but is scored down.
func (r *Router) SetDegraded(id string, degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	d, ok := cur[id]
	if !ok {
		return
	}
	d.Degraded = degraded
	next := make(map[string]Descriptor, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	next[id] = d
	r.state.Store(next)
}

// Get returns a single descriptor by id.
func (r *Router) Get(id string) (Descriptor, bool) {
	d, ok := r.snapshot()[id]
	return d, ok
}

// All returns every registered descriptor, sorted by id.
func (r *Router) All() []Descriptor {
	cur := r.snapshot()
	out := make([]Descriptor, 0, len(cur))
	for _, d := range cur {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type candidate struct {
	descriptor Descriptor
	score      float64
}

// Route selects exactly one Descriptor for a, or returns
// NO_REACTOR_AVAILABLE.
func (r *Router) Route(a atom.Atom) (Descriptor, error) {
	threshold := r.LoadThreshold
	if threshold <= 0 {
		threshold = defaultLoadThreshold
	}
	degradedBonus := r.DegradedHealthBonus
	if degradedBonus <= 0 {
		degradedBonus = defaultDegradedHealthBonus
	}

	preferred := Preferred(a.Group)
	cur := r.snapshot()

	candidates := filterCandidates(cur, preferred, threshold)
	if len(candidates) == 0 {
		// Fall back to `general` specialization descriptors.
		candidates = filterCandidates(cur, []Specialization{SpecGeneral}, threshold)
	}
	if len(candidates) == 0 {
		if r.Metrics != nil {
			r.Metrics.RecordRoute(a.Group, a.Element, "", "no_reactor_available", 0)
		}
		return Descriptor{}, perrors.NoReactorAvailable("no eligible reactor for group %q", a.Group)
	}

	scored := make([]candidate, 0, len(candidates))
	for _, d := range candidates {
		score := scoreDescriptor(a, d, healthyBonus, degradedBonus)
		scored = append(scored, candidate{descriptor: d, score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].descriptor.ID < scored[j].descriptor.ID
	})

	winner := pickWithStickiness(a.ID, scored)
	if r.Metrics != nil {
		r.Metrics.RecordRoute(a.Group, a.Element, winner.descriptor.ID, "ok", winner.score)
	}
	return winner.descriptor, nil
}

func filterCandidates(all map[string]Descriptor, preferred []Specialization, threshold float64) []Descriptor {
	var out []Descriptor
	for _, d := range all {
		if !d.Healthy {
			continue
		}
		if d.LoadFactor >= threshold {
			continue
		}
		if !d.hasAnySpecialization(preferred) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func scoreDescriptor(a atom.Atom, d Descriptor, healthyBonus, degradedBonus float64) float64 {
	affinity := MaxAffinity(a.Group, d.Specializations)
	bonus := healthyBonus
	if d.Degraded {
		bonus = degradedBonus
	}
	return affinity * (1.0 - d.LoadFactor) * (float64(a.EffectivePriority()) / 10.0) * bonus
}

// pickWithStickiness selects among the top-scoring tied candidates by
// hashing the atom identifier (blake2b) modulo the sorted tie group,
// giving deterministic, stable routing for retries of the same atom id.
func pickWithStickiness(atomID string, sorted []candidate) candidate {
	if len(sorted) == 1 {
		return sorted[0]
	}
	top := sorted[0].score
	tieEnd := 1
	for tieEnd < len(sorted) && sorted[tieEnd].score == top {
		tieEnd++
	}
	if tieEnd == 1 {
		return sorted[0]
	}

	tied := sorted[:tieEnd]
	sum := blake2b.Sum256([]byte(atomID))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(tied))
	return tied[idx]
}
