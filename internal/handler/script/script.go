// Package script implements a scripted Handler variant: a JavaScript
// function body, evaluated per invocation against the atom's payload, for
// handlers produced by an external code generator rather than compiled
// into the reactor binary. No runtime code evaluation happens anywhere in
// the core dispatch path; this package is an opt-in Handler implementation
// a reactor operator may register like any other.
package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/registry"
)

// Handler runs a JavaScript function body of the form
// `function handle(payload, utils) { ... return result }` against each
// invocation's payload. Scripts run on a fresh *goja.Runtime per call so
// concurrent dispatches never share interpreter state.
type Handler struct {
	Source      string
	CallTimeout time.Duration
}

// New compiles nothing eagerly (goja programs are cheap to re-parse and a
// fresh runtime is required per call anyway); it just validates the source
// is non-empty.
func New(source string) (*Handler, error) {
	if source == "" {
		return nil, fmt.Errorf("script: source must not be empty")
	}
	return &Handler{Source: source}, nil
}

// Handle satisfies registry.Handler.
func (h *Handler) Handle(ec *atom.ExecutionContext) (atom.Value, error) {
	vm := goja.New()
	vm.Set("payload", ec.Atom.Payload.ToNative())
	vm.Set("packetKey", ec.Atom.Key().String())

	script := "(function(){\n" + h.Source + "\nreturn handle(payload);\n})()"
	v, err := vm.RunString(script)
	if err != nil {
		return atom.Null(), fmt.Errorf("script: %w", err)
	}
	return atom.FromNative(v.Export()), nil
}

// AsRecord wraps h into a registry.Record for key.
func AsRecord(key atom.Key, h *Handler, description string) registry.Record {
	timeout := 0
	if h.CallTimeout > 0 {
		timeout = int(h.CallTimeout.Seconds())
	}
	return registry.Record{
		Key:            key,
		Handler:        h,
		TimeoutSeconds: timeout,
		Description:    description,
	}
}
