package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/engine"
	"github.com/packetflow/reactor/internal/pipeline"
	"github.com/packetflow/reactor/internal/registry"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := registry.New()
	require.NoError(t, Register(reg))
	return engine.New("reactor-test", reg, nil, nil, 5*time.Second, 16, 32)
}

func TestPingEchoesAndReportsLatency(t *testing.T) {
	e := newTestEngine(t)
	a := atom.Atom{
		ID: "a1", Group: "cf", Element: "ping",
		Payload: atom.Map(map[string]atom.Value{
			"echo":      atom.String("x"),
			"timestamp": atom.Int(1700000000000),
		}),
	}
	res := e.Dispatch(context.Background(), a)
	require.True(t, res.Success)
	echo, _ := res.Data.Get("echo")
	echoS, _ := echo.String()
	assert.Equal(t, "x", echoS)

	serverTime, ok := res.Data.Get("server_time")
	require.True(t, ok)
	st, _ := serverTime.Int()
	assert.Greater(t, st, int64(0))

	latency, ok := res.Data.Get("latency_ms")
	require.True(t, ok)
	lm, _ := latency.Int()
	assert.Equal(t, st-1700000000000, lm)
}

func TestTransformUppercase(t *testing.T) {
	e := newTestEngine(t)
	a := atom.Atom{
		ID: "t1", Group: "df", Element: "transform",
		Payload: atom.Map(map[string]atom.Value{
			"input":     atom.String("hello world"),
			"operation": atom.String("uppercase"),
		}),
	}
	res := e.Dispatch(context.Background(), a)
	require.True(t, res.Success)
	result, _ := res.Data.Get("result")
	rs, _ := result.String()
	assert.Equal(t, "HELLO WORLD", rs)
}

func TestValidateEmail(t *testing.T) {
	e := newTestEngine(t)

	ok := e.Dispatch(context.Background(), atom.Atom{
		ID: "v1", Group: "df", Element: "validate",
		Payload: atom.Map(map[string]atom.Value{
			"data": atom.String("user@example.com"), "schema": atom.String("email"),
		}),
	})
	require.True(t, ok.Success)
	valid, _ := ok.Data.Get("valid")
	v, _ := valid.Bool()
	assert.True(t, v)
	errs, _ := ok.Data.Get("errors")
	es, _ := errs.Slice()
	assert.Empty(t, es)

	bad := e.Dispatch(context.Background(), atom.Atom{
		ID: "v2", Group: "df", Element: "validate",
		Payload: atom.Map(map[string]atom.Value{
			"data": atom.String("bogus"), "schema": atom.String("email"),
		}),
	})
	require.True(t, bad.Success)
	valid2, _ := bad.Data.Get("valid")
	v2, _ := valid2.Bool()
	assert.False(t, v2)
}

func TestAggregateSum(t *testing.T) {
	e := newTestEngine(t)
	rows := atom.Slice([]atom.Value{
		atom.Map(map[string]atom.Value{"region": atom.String("north"), "sales": atom.Int(100)}),
		atom.Map(map[string]atom.Value{"region": atom.String("north"), "sales": atom.Int(200)}),
		atom.Map(map[string]atom.Value{"region": atom.String("south"), "sales": atom.Int(150)}),
	})
	res := e.Dispatch(context.Background(), atom.Atom{
		ID: "ag1", Group: "df", Element: "aggregate",
		Payload: atom.Map(map[string]atom.Value{
			"input": rows,
			"operations": atom.Map(map[string]atom.Value{
				"sales": atom.String("sum"),
			}),
		}),
	})
	require.True(t, res.Success)
	aggregated, _ := res.Data.Get("aggregated")
	items, ok := aggregated.Slice()
	require.True(t, ok)
	require.Len(t, items, 1)
	sales, _ := items[0].Get("sales")
	sv, _ := sales.Float()
	assert.Equal(t, 450.0, sv)
}

func TestPipelineValidateTransformSignal(t *testing.T) {
	e := newTestEngine(t)
	pe := pipeline.New(dispatcherFunc(e.Dispatch), nil)

	def := pipeline.Definition{
		ID: "p1",
		Steps: []pipeline.Step{
			{Group: "df", Element: "validate", Template: map[string]atom.Value{"schema": atom.String("email")}},
			{Group: "df", Element: "transform", Template: map[string]atom.Value{"operation": atom.String("lowercase")}},
			{Group: "ed", Element: "signal", Template: map[string]atom.Value{"event": atom.String("user.validated")}},
		},
	}
	res := pe.Run(context.Background(), def, atom.String("USER@EXAMPLE.COM"))

	require.True(t, res.Success)
	require.Len(t, res.Trace, 3)
	for _, entry := range res.Trace {
		assert.True(t, entry.Success)
	}

	received, ok := res.FinalResult.Get("received")
	require.True(t, ok)
	rs, _ := received.String()
	assert.Equal(t, "user@example.com", rs)
}

func TestSlowHandlerTimesOut(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Record{
		Key: atom.NewKey("cf", "slow", ""),
		Handler: registry.HandlerFunc(func(ec *atom.ExecutionContext) (atom.Value, error) {
			select {
			case <-time.After(2 * time.Second):
				return atom.Null(), nil
			case <-ec.Ctx.Done():
				return atom.Null(), ec.Ctx.Err()
			}
		}),
	}, false))
	e := engine.New("reactor-test", reg, nil, nil, 5*time.Second, 16, 32)

	start := time.Now()
	res := e.Dispatch(context.Background(), atom.Atom{
		ID: "slow1", Group: "cf", Element: "slow", Timeout: time.Second,
	})
	elapsed := time.Since(start)

	require.False(t, res.Success)
	assert.Equal(t, "E408", res.Error.Code)
	assert.False(t, res.Error.Permanent)
	assert.Less(t, elapsed, 2*time.Second)
}

type dispatcherFunc func(ctx context.Context, a atom.Atom) atom.Result

func (f dispatcherFunc) Dispatch(ctx context.Context, a atom.Atom) atom.Result { return f(ctx, a) }
