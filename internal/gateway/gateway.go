// Package gateway implements the Gateway Front-End: it terminates client
// byte-stream sessions, multiplexes many concurrent atoms through the
// Wire Codec onto the Router and Execution Engine, and exposes the
// optional HTTP introspection surface.
package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/config"
	"github.com/packetflow/reactor/internal/engine"
	"github.com/packetflow/reactor/internal/health"
	"github.com/packetflow/reactor/internal/obs/logging"
	"github.com/packetflow/reactor/internal/perrors"
	"github.com/packetflow/reactor/internal/router"
)

// Gateway accepts client connections and drives them through sessions.
type Gateway struct {
	Engine *engine.Engine
	Router *router.Router
	Health *health.Tracker
	Logger *logging.Logger

	cfg config.GatewayConfig

	startedAt time.Time

	mu       sync.Mutex
	sessions map[string]*session
	listener net.Listener
}

// New builds a Gateway bound to the given execution core.
func New(e *engine.Engine, r *router.Router, h *health.Tracker, log *logging.Logger, cfg config.GatewayConfig) *Gateway {
	return &Gateway{
		Engine:   e,
		Router:   r,
		Health:   h,
		Logger:   log,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// ListenAndServe binds addr and accepts connections until ctx is
// cancelled, then closes the listener and every open session.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.listener = ln
	g.startedAt = time.Now()
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		g.acceptConn(ctx, conn)
	}
}

func (g *Gateway) acceptConn(ctx context.Context, conn net.Conn) {
	id := conn.RemoteAddr().String()
	s := newSession(g, conn, id)

	g.mu.Lock()
	g.sessions[id] = s
	g.mu.Unlock()

	go func() {
		s.serve(ctx)
		g.mu.Lock()
		delete(g.sessions, id)
		g.mu.Unlock()
	}()
}

// execute routes a then dispatches it through the local engine. Router
// selection validates reactor eligibility first; this single-process
// reactor always executes locally once a candidate is found.
func (g *Gateway) execute(ctx context.Context, a atom.Atom) atom.Result {
	if g.Router != nil {
		if _, err := g.Router.Route(a); err != nil {
			pe := perrors.As(err)
			return atom.Result{
				Success: false,
				Error: &atom.ErrorDetail{
					Code:      string(pe.Code),
					Message:   pe.Message,
					Permanent: pe.Permanent,
				},
				Meta: atom.ResponseMeta{Timestamp: time.Now().UTC(), Key: a.Key()},
			}
		}
	}
	return g.Engine.Dispatch(ctx, a)
}

// SessionCount returns the number of currently open sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Uptime reports how long the gateway has been serving connections.
func (g *Gateway) Uptime() time.Duration {
	if g.startedAt.IsZero() {
		return 0
	}
	return time.Since(g.startedAt)
}

// Addr returns the bound listener address; only valid after
// ListenAndServe has started.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}
