package atom

import (
	"context"
	"time"
)

// Caller is implemented by the execution engine. It lets a handler invoke
// another packet by key, inheriting the remaining deadline and extending
// the caller chain for cycle detection.
type Caller interface {
	Call(ctx context.Context, key Key, payload Value, caller Atom) (Result, error)
}

// Logger is the narrow logging surface handlers see through the Execution
// Context; the real implementation is internal/obs/logging.Logger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// ExecutionContext is passed to every handler invocation. It bundles the
// atom being processed, the remaining deadline, the pure utility helpers,
// a scoped logger, and the ability to call other packets.
type ExecutionContext struct {
	Ctx    context.Context
	Atom   Atom
	Utils  Utils
	Log    Logger
	caller Caller
}

// NewExecutionContext builds an ExecutionContext for dispatching a.
func NewExecutionContext(ctx context.Context, a Atom, log Logger, caller Caller) *ExecutionContext {
	return &ExecutionContext{Ctx: ctx, Atom: a, Log: log, caller: caller}
}

// Deadline returns the time remaining before the context's deadline, and
// whether a deadline is set at all.
func (c *ExecutionContext) Deadline() (time.Duration, bool) {
	d, ok := c.Ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(d), true
}

// Call performs an inter-packet call: the remaining deadline is inherited
// and the caller chain is extended so the engine can detect cycles and
// enforce the call-depth limit.
func (c *ExecutionContext) Call(key Key, payload Value) (Result, error) {
	if c.caller == nil {
		return Result{}, context.Canceled
	}
	next := c.Atom.WithCallerChain(c.Atom.Key().String())
	next.Group, next.Element, next.Variant = key.Group, key.Element, key.Variant
	next.Payload = payload
	return c.caller.Call(c.Ctx, key, payload, next)
}
