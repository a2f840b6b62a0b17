// Package pipeline implements the Pipeline Engine: a statically defined
// linear sequence of atoms where each step's result folds into the next
// step's payload under the fixed key "input".
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/obs/metrics"
	"github.com/packetflow/reactor/internal/perrors"
)

// inputKey is the fixed fold key a step's prior result is threaded under.
const inputKey = "input"

// Step is one entry in a Pipeline Definition.
type Step struct {
	Group    string
	Element  string
	Variant  string
	Template map[string]atom.Value
}

// Definition is a statically defined linear pipeline.
type Definition struct {
	ID      string
	Steps   []Step
	Timeout time.Duration
}

// TraceEntry records one step's outcome in a Pipeline Execution.
type TraceEntry struct {
	Index    int
	Key      atom.Key
	Duration time.Duration
	Success  bool
	Error    *atom.ErrorDetail
}

// Result is the outcome of running a pipeline to completion or failure.
type Result struct {
	ExecutionID    string
	DefinitionID   string
	CompletedSteps int
	Trace          []TraceEntry
	TotalDuration  time.Duration
	Success        bool
	FinalResult    atom.Value
	Error          *atom.ErrorDetail
}

// Dispatcher is the narrow surface the pipeline engine needs from the
// execution path (Router → Execution Engine), letting pipeline tests
// substitute a fake without standing up a real router+engine pair.
type Dispatcher interface {
	Dispatch(ctx context.Context, a atom.Atom) atom.Result
}

// Engine runs Pipeline Definitions.
type Engine struct {
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
}

// New returns an Engine that submits steps through dispatcher.
func New(dispatcher Dispatcher, m *metrics.Metrics) *Engine {
	return &Engine{Dispatcher: dispatcher, Metrics: m}
}

// Run executes def's steps in order, threading each step's result into
// the next step's payload under "input".
func (e *Engine) Run(ctx context.Context, def Definition, initialInput atom.Value) Result {
	execID := uuid.NewString()
	start := time.Now()

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{ExecutionID: execID, DefinitionID: def.ID}
	current := initialInput

	for i, step := range def.Steps {
		select {
		case <-runCtx.Done():
			res.Error = &atom.ErrorDetail{
				Code:      string(perrors.CodeTimeout),
				Message:   "pipeline exceeded its overall timeout",
				Permanent: false,
			}
			res.TotalDuration = time.Since(start)
			e.recordRun(def.ID, false)
			return res
		default:
		}

		payload := mergePayload(step.Template, current)
		key := atom.NewKey(step.Group, step.Element, step.Variant)
		a := atom.Atom{
			ID:      fmt.Sprintf("%s.step.%d.%s", def.ID, i, execID),
			Group:   step.Group,
			Element: step.Element,
			Variant: step.Variant,
			Payload: payload,
		}

		stepStart := time.Now()
		dispatchResult := e.Dispatcher.Dispatch(runCtx, a)
		stepDuration := time.Since(stepStart)

		if e.Metrics != nil {
			e.Metrics.RecordPipelineStep(def.ID, key.String(), stepDuration)
		}

		trace := TraceEntry{
			Index:    i,
			Key:      key,
			Duration: stepDuration,
			Success:  dispatchResult.Success,
		}
		if !dispatchResult.Success {
			trace.Error = dispatchResult.Error
			res.Trace = append(res.Trace, trace)
			res.CompletedSteps = i
			res.Error = dispatchResult.Error
			res.TotalDuration = time.Since(start)
			e.recordRun(def.ID, false)
			return res
		}

		res.Trace = append(res.Trace, trace)
		current = dispatchResult.Data
	}

	res.Success = true
	res.CompletedSteps = len(def.Steps)
	res.FinalResult = current
	res.TotalDuration = time.Since(start)
	e.recordRun(def.ID, true)
	return res
}

func (e *Engine) recordRun(defID string, success bool) {
	if e.Metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	e.Metrics.RecordPipelineRun(defID, status)
}

// mergePayload builds a step's payload by merging its template with the
// folded "input" key.
func mergePayload(template map[string]atom.Value, input atom.Value) atom.Value {
	m := make(map[string]atom.Value, len(template)+1)
	for k, v := range template {
		m[k] = v
	}
	m[inputKey] = input
	return atom.Map(m)
}
