package router

import (
	"testing"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/perrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteNoReactorAvailableWhenEmpty(t *testing.T) {
	r := New()
	_, err := r.Route(atom.Atom{ID: "a1", Group: "df"})
	require.Error(t, err)
	pe := perrors.As(err)
	assert.Equal(t, perrors.CodeNoReactorAvailable, pe.Code)
}

func TestAddRouteRemoveRoute(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecMemoryBound}, Healthy: true, LoadFactor: 0.1})

	d, err := r.Route(atom.Atom{ID: "a1", Group: "df"})
	require.NoError(t, err)
	assert.Equal(t, "reactor-1", d.ID)

	r.Remove("reactor-1")
	_, err = r.Route(atom.Atom{ID: "a1", Group: "df"})
	require.Error(t, err)
}

func TestRouteIsDeterministicForSameAtomID(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})
	r.Add(Descriptor{ID: "reactor-2", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})

	a := atom.Atom{ID: "sticky-1", Group: "rm"}
	first, err := r.Route(a)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		d, err := r.Route(a)
		require.NoError(t, err)
		assert.Equal(t, first.ID, d.ID)
	}
}

func TestCandidateFilterFallsBackToGeneral(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})

	// "co" prefers network_bound/general; no network_bound descriptor
	// exists, but general fallback should still route.
	d, err := r.Route(atom.Atom{ID: "a1", Group: "co"})
	require.NoError(t, err)
	assert.Equal(t, "reactor-1", d.ID)
}

func TestUnhealthyDescriptorExcluded(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: false, LoadFactor: 0.1})
	_, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.Error(t, err)
}

func TestOverloadedDescriptorExcluded(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.99})
	_, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.Error(t, err)
}

func TestDegradedDescriptorRemainsEligibleButScoredLower(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "healthy-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.5})
	r.Add(Descriptor{ID: "degraded-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, Degraded: true, LoadFactor: 0.5})

	d, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.NoError(t, err)
	assert.Equal(t, "healthy-1", d.ID)
}

func TestHigherAffinityWins(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "cpu-reactor", Specializations: []Specialization{SpecCPUBound}, Healthy: true, LoadFactor: 0.1})
	r.Add(Descriptor{ID: "general-reactor", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})

	d, err := r.Route(atom.Atom{ID: "a1", Group: "cf"})
	require.NoError(t, err)
	assert.Equal(t, "cpu-reactor", d.ID)
}

func TestUpdateLoadAffectsEligibility(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})
	r.UpdateLoad("reactor-1", 0.99)

	_, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.Error(t, err)
}

func TestSetHealthTransitionsAffectRouting(t *testing.T) {
	r := New()
	r.Add(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true, LoadFactor: 0.1})
	r.SetHealth("reactor-1", false)

	_, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.Error(t, err)

	r.SetHealth("reactor-1", true)
	d, err := r.Route(atom.Atom{ID: "a1", Group: "rm"})
	require.NoError(t, err)
	assert.Equal(t, "reactor-1", d.ID)
}

type recordingNotifier struct {
	adds    []Descriptor
	removes []string
	health  map[string]bool
	loads   map[string]float64
}

func (n *recordingNotifier) NotifyAdd(d Descriptor) { n.adds = append(n.adds, d) }
func (n *recordingNotifier) NotifyRemove(id string) { n.removes = append(n.removes, id) }
func (n *recordingNotifier) NotifyHealth(id string, healthy bool) {
	if n.health == nil {
		n.health = make(map[string]bool)
	}
	n.health[id] = healthy
}
func (n *recordingNotifier) NotifyLoad(id string, load float64) {
	if n.loads == nil {
		n.loads = make(map[string]float64)
	}
	n.loads[id] = load
}

func TestMutationsFanOutToNotifier(t *testing.T) {
	r := New()
	notifier := &recordingNotifier{}
	r.Notifier = notifier

	d := Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true}
	r.Add(d)
	r.UpdateLoad("reactor-1", 0.5)
	r.SetHealth("reactor-1", false)
	r.Remove("reactor-1")

	require.Len(t, notifier.adds, 1)
	assert.Equal(t, "reactor-1", notifier.adds[0].ID)
	assert.Equal(t, 0.5, notifier.loads["reactor-1"])
	assert.Equal(t, false, notifier.health["reactor-1"])
	assert.Equal(t, []string{"reactor-1"}, notifier.removes)
}

func TestApplyRemoteDoesNotFanOutAgain(t *testing.T) {
	r := New()
	notifier := &recordingNotifier{}
	r.Notifier = notifier

	r.ApplyRemoteAdd(Descriptor{ID: "reactor-1", Specializations: []Specialization{SpecGeneral}, Healthy: true})
	r.ApplyRemoteLoad("reactor-1", 0.3)
	r.ApplyRemoteHealth("reactor-1", false)
	r.ApplyRemoteRemove("reactor-1")

	assert.Empty(t, notifier.adds)
	assert.Empty(t, notifier.removes)
	assert.Empty(t, notifier.health)
	assert.Empty(t, notifier.loads)
}
