// Package engine implements the Execution Engine (reactor core): atom
// validation, handler dispatch under a deadline, statistics, and the
// inter-packet call primitive.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/obs/logging"
	"github.com/packetflow/reactor/internal/obs/metrics"
	"github.com/packetflow/reactor/internal/perrors"
	"github.com/packetflow/reactor/internal/registry"
)

// Stats are the engine-level aggregate counters.
type Stats struct {
	Processed uint64
	Successes uint64
	Errors    uint64
}

// Engine dispatches atoms to registered handlers.
type Engine struct {
	ReactorID      string
	Registry       *registry.Registry
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	DefaultTimeout time.Duration
	CallDepthLimit int

	sem   chan struct{}
	stats atomicStats
}

// New builds an Engine bound to reg, with concurrencyCeiling simultaneous
// in-flight dispatches and callDepthLimit inter-packet call hops before
// CALL_DEPTH_EXCEEDED (default 32).
func New(reactorID string, reg *registry.Registry, log *logging.Logger, m *metrics.Metrics, defaultTimeout time.Duration, concurrencyCeiling, callDepthLimit int) *Engine {
	if concurrencyCeiling <= 0 {
		concurrencyCeiling = 1000
	}
	if callDepthLimit <= 0 {
		callDepthLimit = 32
	}
	return &Engine{
		ReactorID:      reactorID,
		Registry:       reg,
		Logger:         log,
		Metrics:        m,
		DefaultTimeout: defaultTimeout,
		CallDepthLimit: callDepthLimit,
		sem:            make(chan struct{}, concurrencyCeiling),
	}
}

// Stats returns a snapshot of the engine-level counters.
func (e *Engine) Stats() Stats { return e.stats.snapshot() }

// Dispatch runs the full dispatch protocol for a: validate, resolve the
// handler, check payload size, derive the effective timeout, invoke under
// a deadline, and record statistics.
func (e *Engine) Dispatch(ctx context.Context, a atom.Atom) atom.Result {
	start := time.Now()

	// Step 1: validate.
	if err := a.Validate(); err != nil {
		return e.finish(a, registry.Record{}, start, atom.Result{
			Success: false,
			Error: &atom.ErrorDetail{
				Code:      string(perrors.CodeValidation),
				Message:   err.Error(),
				Permanent: true,
			},
		})
	}

	// Step 2: resolve handler.
	key := a.Key()
	rec, ok := e.Registry.Lookup(key)
	if !ok {
		return e.finish(a, registry.Record{}, start, atom.Result{
			Success: false,
			Error: &atom.ErrorDetail{
				Code:      string(perrors.CodeUnsupported),
				Message:   fmt.Sprintf("no handler registered for %s", key.String()),
				Permanent: true,
			},
		})
	}

	// Step 3: payload size.
	if rec.MaxPayloadBytes > 0 {
		if size := payloadSize(a.Payload); size > rec.MaxPayloadBytes {
			return e.finish(a, rec, start, atom.Result{
				Success: false,
				Error: &atom.ErrorDetail{
					Code:      string(perrors.CodePayloadTooLarge),
					Message:   fmt.Sprintf("payload %d bytes exceeds limit %d", size, rec.MaxPayloadBytes),
					Permanent: true,
				},
			})
		}
	}

	// Step 4: effective timeout.
	timeout := e.DefaultTimeout
	if a.Timeout > 0 {
		timeout = a.Timeout
	} else if rec.TimeoutSeconds > 0 {
		timeout = time.Duration(rec.TimeoutSeconds) * time.Second
	}

	// Caller-chain / call-depth check before constructing the context.
	if len(a.CallerChain()) >= e.CallDepthLimit {
		return e.finish(a, rec, start, atom.Result{
			Success: false,
			Error: &atom.ErrorDetail{
				Code:      string(perrors.CodeCallDepthExceeded),
				Message:   fmt.Sprintf("caller chain depth %d exceeds limit %d", len(a.CallerChain()), e.CallDepthLimit),
				Permanent: true,
			},
		})
	}

	// Step 5 & 6: build Execution Context and invoke the handler under a
	// deadline, bounded by the concurrency semaphore.
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-dctx.Done():
		return e.finish(a, rec, start, atom.Result{
			Success: false,
			Error: &atom.ErrorDetail{
				Code:      string(perrors.CodeTimeout),
				Message:   "deadline exceeded waiting for a free execution slot",
				Permanent: false,
			},
		})
	}

	ec := atom.NewExecutionContext(dctx, a, e.Logger, e)

	type outcome struct {
		val atom.Value
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		v, err := rec.Handler.Handle(ec)
		done <- outcome{val: v, err: err}
	}()

	var result atom.Result
	select {
	case o := <-done:
		if o.err != nil {
			pe := perrors.As(o.err)
			result = atom.Result{
				Success: false,
				Error: &atom.ErrorDetail{
					Code:      string(pe.Code),
					Message:   pe.Message,
					Permanent: pe.Permanent,
					Details:   pe.Details,
				},
			}
		} else {
			result = atom.Result{Success: true, Data: o.val}
		}
	case <-dctx.Done():
		result = atom.Result{
			Success: false,
			Error: &atom.ErrorDetail{
				Code:      string(perrors.CodeTimeout),
				Message:   "handler exceeded its deadline",
				Permanent: false,
			},
		}
	}

	return e.finish(a, rec, start, result)
}

// finish fills in response metadata, updates statistics (both the
// engine-level counters and, when a handler was resolved, that handler's
// own call/error/duration/last-called record), and records observability
// (step 7 & 8 of the dispatch protocol).
func (e *Engine) finish(a atom.Atom, rec registry.Record, start time.Time, result atom.Result) atom.Result {
	duration := time.Since(start)
	result.Meta = atom.ResponseMeta{
		Duration:  duration,
		ReactorID: e.ReactorID,
		Timestamp: time.Now().UTC(),
		Key:       a.Key(),
	}

	e.stats.recordProcessed(result.Success)
	rec.RecordCall(result.Success, duration)

	if e.Metrics != nil {
		status := "success"
		if !result.Success {
			status = "error"
			e.Metrics.RecordError(e.ReactorID, result.Error.Code)
		}
		e.Metrics.RecordDispatch(e.ReactorID, a.Group, a.Element, status, duration)
	}
	if e.Logger != nil {
		var err error
		if !result.Success {
			err = fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message)
		}
		e.Logger.LogDispatch(context.Background(), a.Key().String(), duration, result.Success, err)
	}
	return result
}

// Call implements atom.Caller for inter-packet calls: it derives a new
// atom identifier, extends the caller chain, and recursively dispatches.
func (e *Engine) Call(ctx context.Context, key atom.Key, payload atom.Value, caller atom.Atom) (atom.Result, error) {
	nonce := uuid.NewString()
	next := atom.Atom{
		ID:       fmt.Sprintf("%s.call.%s", caller.ID, nonce),
		Group:    key.Group,
		Element:  key.Element,
		Variant:  key.Variant,
		Payload:  payload,
		Priority: caller.Priority,
		Metadata: caller.Metadata,
	}
	result := e.Dispatch(ctx, next)
	if !result.Success {
		return result, fmt.Errorf("%s: %s", result.Error.Code, result.Error.Message)
	}
	return result, nil
}

// payloadSize measures the payload's serialized JSON length, so the
// declared max-payload limit holds to the byte.
func payloadSize(v atom.Value) int {
	data, err := json.Marshal(v.ToNative())
	if err != nil {
		return 0
	}
	return len(data)
}
