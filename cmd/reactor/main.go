// Command reactor runs a PacketFlow reactor process: it hosts handlers,
// exposes them over the binary Gateway protocol and an HTTP introspection
// surface, and optionally joins a shared Router via Redis broadcast.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/config"
	"github.com/packetflow/reactor/internal/engine"
	"github.com/packetflow/reactor/internal/gateway"
	"github.com/packetflow/reactor/internal/handler/library"
	"github.com/packetflow/reactor/internal/health"
	"github.com/packetflow/reactor/internal/obs/logging"
	"github.com/packetflow/reactor/internal/obs/metrics"
	"github.com/packetflow/reactor/internal/registry"
	"github.com/packetflow/reactor/internal/router"
	"github.com/packetflow/reactor/internal/router/broadcast"
)

// Exit codes.
const (
	exitOK              = 0
	exitConfigError     = 1
	exitBindError       = 2
	exitUncaughtRuntime = 3
)

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "run":
		os.Exit(guard(runReactor))
	case "demo":
		os.Exit(guard(runDemo))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (expected run|demo)\n", cmd)
		os.Exit(exitConfigError)
	}
}

// guard converts an uncaught panic anywhere under the subcommand into the
// documented exit code instead of Go's default status 2.
func guard(run func() int) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "uncaught runtime error: %v\n", r)
			code = exitUncaughtRuntime
		}
	}()
	return run()
}

func runReactor() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}

	log := logging.New(cfg.Reactor.ID, cfg.Logging.Level, cfg.Logging.Format)
	met := metrics.Init(cfg.Reactor.ID)

	reg := registry.New()
	if err := library.Register(reg); err != nil {
		log.Errorf("registering reference handlers: %v", err)
		return exitConfigError
	}

	e := engine.New(cfg.Reactor.ID, reg, log, met, cfg.Engine.DefaultTimeout, cfg.Engine.ConcurrencyCeiling, cfg.Engine.CallDepthLimit)

	r := router.New()
	r.LoadThreshold = cfg.Router.LoadThreshold
	r.DegradedHealthBonus = cfg.Router.DegradedHealthBonus
	r.Metrics = met

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisEnabled() {
		bc := broadcast.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "packetflow.descriptors", log)
		defer bc.Close()
		r.Notifier = bc.AsNotifier()
		go func() {
			if err := bc.Subscribe(ctx, r); err != nil && ctx.Err() == nil {
				log.Warnf("descriptor broadcast subscription ended: %v", err)
			}
		}()
	}

	specs := []router.Specialization{router.Specialization(cfg.Reactor.Specialization)}
	if cfg.Reactor.Specialization == "" {
		specs = []router.Specialization{router.SpecGeneral}
	}
	r.Add(router.Descriptor{
		ID:              cfg.Reactor.ID,
		Endpoint:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Specializations: specs,
		Capacity:        cfg.Engine.ConcurrencyCeiling,
		Healthy:         true,
	})

	tracker := health.New(r, health.SelfPinger{Capacity: 1.0}, cfg.Health.Interval, cfg.Health.Deadline, cfg.Health.FailureThreshold, log, met)
	if err := tracker.Start(); err != nil {
		log.Errorf("starting health tracker: %v", err)
		return exitConfigError
	}
	defer tracker.Stop()

	gw := gateway.New(e, r, tracker, log, cfg.Gateway)

	gwErr := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on :%d", cfg.Gateway.Port)
		gwErr <- gw.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Gateway.Port))
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Gateway.HTTPPort),
		Handler:           gw.HTTPRouter(cfg.Reactor.ID, "1", specs, []string{cfg.Reactor.Group}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Infof("http introspection listening on :%d", cfg.Gateway.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Infof("shutting down")
	case err := <-gwErr:
		if err != nil {
			log.Errorf("gateway error: %v", err)
			cancel()
			return exitBindError
		}
	case err := <-httpErr:
		log.Errorf("http server error: %v", err)
		cancel()
		return exitBindError
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	return exitOK
}

// runDemo exercises the handler library in-process, without binding any
// network listener, and exits.
func runDemo() int {
	log := logging.NewFromEnv("reactor-demo")
	reg := registry.New()
	if err := library.Register(reg); err != nil {
		log.Errorf("registering reference handlers: %v", err)
		return exitConfigError
	}
	e := engine.New("reactor-demo", reg, log, nil, 5*time.Second, 16, 32)

	demo := func(group, element string, payload map[string]any) {
		a := buildDemoAtom(group, element, payload)
		res := e.Dispatch(context.Background(), a)
		if res.Success {
			log.Infof("%s:%s -> ok", group, element)
		} else {
			log.Errorf("%s:%s -> %s: %s", group, element, res.Error.Code, res.Error.Message)
		}
	}

	demo("cf", "ping", map[string]any{"echo": "demo", "timestamp": time.Now().UnixMilli()})
	demo("df", "transform", map[string]any{"input": "hello world", "operation": "uppercase"})
	demo("df", "validate", map[string]any{"data": "user@example.com", "schema": "email"})

	return exitOK
}

func buildDemoAtom(group, element string, payload map[string]any) atom.Atom {
	return atom.Atom{
		ID:      fmt.Sprintf("demo.%s.%s.%d", group, element, time.Now().UnixNano()),
		Group:   group,
		Element: element,
		Payload: atom.FromNative(payload),
	}
}
