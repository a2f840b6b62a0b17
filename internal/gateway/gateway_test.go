package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/config"
	"github.com/packetflow/reactor/internal/engine"
	"github.com/packetflow/reactor/internal/handler/library"
	"github.com/packetflow/reactor/internal/registry"
	"github.com/packetflow/reactor/internal/router"
	"github.com/packetflow/reactor/internal/wire"
)

func startTestGateway(t *testing.T) (*Gateway, net.Conn) {
	t.Helper()
	return startTestGatewayWithConfig(t, config.GatewayConfig{BackpressureRPS: 1000, BackpressureBurst: 1000, MaxFrameBytes: 1 << 20})
}

func startTestGatewayWithConfig(t *testing.T, cfg config.GatewayConfig) (*Gateway, net.Conn) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, library.Register(reg))
	e := engine.New("reactor-test", reg, nil, nil, 2*time.Second, 16, 32)
	r := router.New()
	r.Add(router.Descriptor{ID: "reactor-test", Healthy: true, Specializations: []router.Specialization{router.SpecGeneral}})

	gw := New(e, r, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		gw.mu.Lock()
		gw.listener = ln
		gw.startedAt = time.Now()
		gw.mu.Unlock()
		close(ready)

		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			gw.acceptConn(ctx, conn)
		}
	}()
	<-ready

	conn, err := net.Dial("tcp", gw.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return gw, conn
}

func sendFrame(t *testing.T, conn net.Conn, msg wire.Message) {
	t.Helper()
	require.NoError(t, writeFrame(conn, wire.Encode(msg)))
}

func recvFrame(t *testing.T, conn net.Conn) wire.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := readFrame(conn, 1<<20)
	require.NoError(t, err)
	msg, err := wire.Decode(frame)
	require.NoError(t, err)
	return msg
}

func TestGatewaySubmitDispatchesToHandler(t *testing.T) {
	_, conn := startTestGateway(t)

	sendFrame(t, conn, wire.Message{
		Version: wire.ProtocolVersion,
		Type:    wire.TypeSubmit,
		Payload: atom.Map(map[string]atom.Value{
			"id": atom.String("a1"), "g": atom.String("cf"), "e": atom.String("ping"),
			"d": atom.Map(map[string]atom.Value{"echo": atom.String("x"), "timestamp": atom.Int(1700000000000)}),
		}),
		CorrelationID: "corr-1",
	})

	resp := recvFrame(t, conn)
	require.Equal(t, wire.TypeResult, resp.Type)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	data, _ := resp.Payload.Get("data")
	echo, _ := data.Get("echo")
	echoS, _ := echo.String()
	assert.Equal(t, "x", echoS)
}

func TestGatewayPingEchoes(t *testing.T) {
	_, conn := startTestGateway(t)
	sendFrame(t, conn, wire.Message{
		Version: wire.ProtocolVersion,
		Type:    wire.TypePing,
		Payload: atom.Map(map[string]atom.Value{"echo": atom.String("hb")}),
	})
	resp := recvFrame(t, conn)
	require.Equal(t, wire.TypeResult, resp.Type)
	data, _ := resp.Payload.Get("data")
	echo, _ := data.Get("echo")
	echoS, _ := echo.String()
	assert.Equal(t, "hb", echoS)
	_, ok := data.Get("server_time")
	assert.True(t, ok)
}

func TestGatewayBatchSubmitAggregatesResults(t *testing.T) {
	_, conn := startTestGateway(t)

	atomA := atom.Map(map[string]atom.Value{
		"id": atom.String("b1"), "g": atom.String("df"), "e": atom.String("transform"),
		"d": atom.Map(map[string]atom.Value{"input": atom.String("hi"), "operation": atom.String("uppercase")}),
	})
	atomB := atom.Map(map[string]atom.Value{
		"id": atom.String("b2"), "g": atom.String("zz"), "e": atom.String("unknown"),
		"d": atom.Null(),
	})
	sendFrame(t, conn, wire.Message{
		Version: wire.ProtocolVersion,
		Type:    wire.TypeBatchSubmit,
		Payload: atom.Map(map[string]atom.Value{"atoms": atom.Slice([]atom.Value{atomA, atomB})}),
	})

	resp := recvFrame(t, conn)
	require.Equal(t, wire.TypeResult, resp.Type)
	data, _ := resp.Payload.Get("data")
	results, _ := data.Get("batch_results")
	items, ok := results.Slice()
	require.True(t, ok)
	require.Len(t, items, 2)

	_, hasResult := items[0].Get("result")
	assert.True(t, hasResult)
	_, hasError := items[1].Get("error")
	assert.True(t, hasError)
}

func TestGatewayRegisterAddsDescriptorToRouter(t *testing.T) {
	gw, conn := startTestGateway(t)

	sendFrame(t, conn, wire.Message{
		Version: wire.ProtocolVersion,
		Type:    wire.TypeRegister,
		Payload: atom.Map(map[string]atom.Value{
			"id":              atom.String("reactor-9"),
			"endpoint":        atom.String("10.0.0.9:9090"),
			"specializations": atom.Slice([]atom.Value{atom.String("cpu_bound")}),
			"capacity":        atom.Int(100),
		}),
	})
	resp := recvFrame(t, conn)
	require.Equal(t, wire.TypeResult, resp.Type)

	d, ok := gw.Router.Get("reactor-9")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9:9090", d.Endpoint)
	assert.True(t, d.Healthy)
}

func TestGatewaySubmitUnknownHandlerReturnsErrorFrame(t *testing.T) {
	_, conn := startTestGateway(t)
	sendFrame(t, conn, wire.Message{
		Version: wire.ProtocolVersion,
		Type:    wire.TypeSubmit,
		Payload: atom.Map(map[string]atom.Value{
			"id": atom.String("u1"), "g": atom.String("zz"), "e": atom.String("nope"), "d": atom.Null(),
		}),
	})
	resp := recvFrame(t, conn)
	require.Equal(t, wire.TypeError, resp.Type)
	errV, _ := resp.Payload.Get("error")
	code, _ := errV.Get("code")
	codeS, _ := code.String()
	assert.Equal(t, "E404", codeS)
}

// With a single in-flight slot, each slot must be released on completion
// or the session would deadlock on the second frame.
func TestGatewayReleasesInFlightSlots(t *testing.T) {
	_, conn := startTestGatewayWithConfig(t, config.GatewayConfig{
		BackpressureRPS: 1000, BackpressureBurst: 1000, MaxInFlight: 1, MaxFrameBytes: 1 << 20,
	})

	for i := 0; i < 3; i++ {
		sendFrame(t, conn, wire.Message{
			Version: wire.ProtocolVersion,
			Type:    wire.TypePing,
			Payload: atom.Map(map[string]atom.Value{"echo": atom.String("hb")}),
		})
		resp := recvFrame(t, conn)
		require.Equal(t, wire.TypeResult, resp.Type)
	}
}
