package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	handle func(a atom.Atom) atom.Result
}

func (f fakeDispatcher) Dispatch(ctx context.Context, a atom.Atom) atom.Result {
	return f.handle(a)
}

func TestRunAllStepsSucceed(t *testing.T) {
	d := fakeDispatcher{handle: func(a atom.Atom) atom.Result {
		in, _ := a.Payload.Get(inputKey)
		s, _ := in.String()
		return atom.Result{Success: true, Data: atom.String(s + "!" + a.Element)}
	}}
	e := New(d, nil)

	def := Definition{
		ID: "p1",
		Steps: []Step{
			{Group: "df", Element: "a"},
			{Group: "df", Element: "b"},
		},
	}
	res := e.Run(context.Background(), def, atom.String("start"))
	require.True(t, res.Success)
	assert.Len(t, res.Trace, 2)
	assert.True(t, res.Trace[0].Success)
	assert.True(t, res.Trace[1].Success)
	final, _ := res.FinalResult.String()
	assert.Equal(t, "start!a!b", final)
}

func TestRunShortCircuitsOnStepFailure(t *testing.T) {
	calls := 0
	d := fakeDispatcher{handle: func(a atom.Atom) atom.Result {
		calls++
		if a.Element == "fails" {
			return atom.Result{Success: false, Error: &atom.ErrorDetail{Code: "E400", Message: "bad", Permanent: true}}
		}
		return atom.Result{Success: true, Data: a.Payload}
	}}
	e := New(d, nil)

	def := Definition{
		ID: "p2",
		Steps: []Step{
			{Group: "df", Element: "ok"},
			{Group: "df", Element: "fails"},
			{Group: "df", Element: "never"},
		},
	}
	res := e.Run(context.Background(), def, atom.Null())
	require.False(t, res.Success)
	assert.Equal(t, 1, res.CompletedSteps)
	assert.Len(t, res.Trace, 2)
	assert.Equal(t, "E400", res.Error.Code)
	assert.Equal(t, 2, calls)
}

func TestRunTimesOutOverall(t *testing.T) {
	d := fakeDispatcher{handle: func(a atom.Atom) atom.Result {
		time.Sleep(50 * time.Millisecond)
		return atom.Result{Success: true, Data: atom.Null()}
	}}
	e := New(d, nil)

	def := Definition{
		ID:      "p3",
		Timeout: 10 * time.Millisecond,
		Steps: []Step{
			{Group: "df", Element: "slow1"},
			{Group: "df", Element: "slow2"},
			{Group: "df", Element: "slow3"},
		},
	}
	res := e.Run(context.Background(), def, atom.Null())
	require.False(t, res.Success)
	assert.LessOrEqual(t, res.TotalDuration, def.Timeout+100*time.Millisecond)
}

func TestMergePayloadFoldsInputKey(t *testing.T) {
	v := mergePayload(map[string]atom.Value{"schema": atom.String("email")}, atom.String("x@example.com"))
	m, ok := v.Map()
	require.True(t, ok)
	in, ok := m[inputKey].String()
	require.True(t, ok)
	assert.Equal(t, "x@example.com", in)
	schema, _ := m["schema"].String()
	assert.Equal(t, "email", schema)
}
