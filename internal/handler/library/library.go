// Package library ships the reference packet handlers: cf:ping,
// df:transform, df:validate, df:aggregate, ed:signal. They are pluggable
// business logic, not part of the core runtime, included as worked
// examples the way a reactor operator's own handler package would be
// structured.
package library

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/packetflow/reactor/internal/atom"
	"github.com/packetflow/reactor/internal/registry"
)

// Register installs every reference handler into reg under its canonical
// packet key.
func Register(reg *registry.Registry) error {
	handlers := []registry.Record{
		{Key: atom.NewKey("cf", "ping", ""), Handler: registry.HandlerFunc(Ping), Description: "liveness/echo probe"},
		{Key: atom.NewKey("df", "transform", ""), Handler: registry.HandlerFunc(Transform), Description: "string transform (uppercase/lowercase/trim/reverse)"},
		{Key: atom.NewKey("df", "validate", ""), Handler: registry.HandlerFunc(Validate), Description: "schema-tagged scalar validation"},
		{Key: atom.NewKey("df", "aggregate", ""), Handler: registry.HandlerFunc(Aggregate), Description: "field aggregation over a list of records"},
		{Key: atom.NewKey("ed", "signal", ""), Handler: registry.HandlerFunc(Signal), Description: "fire-and-acknowledge event signal"},
	}
	for _, h := range handlers {
		if err := reg.Register(h, false); err != nil {
			return err
		}
	}
	return nil
}

// Ping answers a liveness probe: echoes the request and reports the
// reactor's observed round-trip latency.
func Ping(ec *atom.ExecutionContext) (atom.Value, error) {
	echo, _ := ec.Atom.Payload.Get("echo")
	reqTS, _ := ec.Atom.Payload.Get("timestamp")
	reqMS, _ := reqTS.Int()

	serverMS := time.Now().UnixMilli()
	out := map[string]atom.Value{
		"echo":        echo,
		"server_time": atom.Int(serverMS),
	}
	if reqMS > 0 {
		out["latency_ms"] = atom.Int(serverMS - reqMS)
	}
	return atom.Map(out), nil
}

// Transform applies a named string operation to the "input" field.
func Transform(ec *atom.ExecutionContext) (atom.Value, error) {
	inputV, ok := ec.Atom.Payload.Get("input")
	if !ok {
		return atom.Null(), fmt.Errorf("missing required field %q", "input")
	}
	input, ok := unwrapString(inputV)
	if !ok {
		return atom.Null(), fmt.Errorf("field %q must be a string", "input")
	}
	opV, _ := ec.Atom.Payload.Get("operation")
	op, _ := opV.String()

	var result string
	switch op {
	case "uppercase":
		result = strings.ToUpper(input)
	case "lowercase":
		result = strings.ToLower(input)
	case "trim":
		result = strings.TrimSpace(input)
	case "reverse":
		runes := []rune(input)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		result = string(runes)
	default:
		result = input
	}
	return atom.Map(map[string]atom.Value{"result": atom.String(result)}), nil
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate checks "data" against the named "schema", falling back to the
// pipeline-folded "input" when no "data" field is present. The validated
// value is passed through on the result so a downstream step can pick it
// up. Only the "email" schema is built in; unknown schemas are valid.
func Validate(ec *atom.ExecutionContext) (atom.Value, error) {
	dataV, ok := ec.Atom.Payload.Get("data")
	if !ok {
		dataV, _ = ec.Atom.Payload.Get("input")
	}
	data, _ := unwrapString(dataV)
	schemaV, _ := ec.Atom.Payload.Get("schema")
	schema, _ := schemaV.String()

	var errs []atom.Value
	valid := true
	switch schema {
	case "email":
		if !emailPattern.MatchString(data) {
			valid = false
			errs = append(errs, atom.String("not a valid email address"))
		}
	default:
		// no validator registered for this schema: treat as valid
	}

	return atom.Map(map[string]atom.Value{
		"valid":  atom.Bool(valid),
		"errors": atom.Slice(errs),
		"data":   atom.String(data),
	}), nil
}

// Aggregate applies one aggregation operation per configured field across
// "input", a list of flat records. Supported operations: sum,
// avg, min, max, count.
func Aggregate(ec *atom.ExecutionContext) (atom.Value, error) {
	inputV, _ := ec.Atom.Payload.Get("input")
	records, ok := inputV.Slice()
	if !ok {
		return atom.Null(), fmt.Errorf("field %q must be a list", "input")
	}
	opsV, _ := ec.Atom.Payload.Get("operations")
	ops, _ := opsV.Map()

	out := make(map[string]atom.Value, len(ops))
	for field, opVal := range ops {
		op, _ := opVal.String()
		values := fieldFloats(records, field)
		out[field] = applyAggregateOp(op, values)
	}
	return atom.Map(map[string]atom.Value{
		"aggregated": atom.Slice([]atom.Value{atom.Map(out)}),
	}), nil
}

func fieldFloats(records []atom.Value, field string) []float64 {
	out := make([]float64, 0, len(records))
	for _, rec := range records {
		v, ok := rec.Get(field)
		if !ok {
			continue
		}
		if f, ok := v.Float(); ok {
			out = append(out, f)
		}
	}
	return out
}

func applyAggregateOp(op string, values []float64) atom.Value {
	stats := atom.ComputeStats(values)
	switch op {
	case "sum":
		return atom.Float(stats.Sum)
	case "avg":
		return atom.Float(stats.Mean)
	case "min":
		return atom.Float(stats.Min)
	case "max":
		return atom.Float(stats.Max)
	case "count":
		return atom.Int(int64(stats.Count))
	default:
		return atom.Float(stats.Sum)
	}
}

// Signal acknowledges an event fire. It has no side effect beyond
// acknowledgement; subscriptions and queues live outside this process.
func Signal(ec *atom.ExecutionContext) (atom.Value, error) {
	eventV, _ := ec.Atom.Payload.Get("event")
	event, _ := eventV.String()
	input, _ := ec.Atom.Payload.Get("input")
	if s, ok := unwrapString(input); ok {
		input = atom.String(s)
	}

	return atom.Map(map[string]atom.Value{
		"acknowledged": atom.Bool(true),
		"event":        atom.String(event),
		"received":     input,
	}), nil
}

// unwrapString resolves a value to its string form. A map is treated as an
// upstream step's result and its "result" or "data" carrier field is
// unwrapped, so a value threads through a pipeline of these handlers
// untouched by the fold wrapping.
func unwrapString(v atom.Value) (string, bool) {
	if s, ok := v.String(); ok {
		return s, true
	}
	m, ok := v.Map()
	if !ok {
		return "", false
	}
	for _, carrier := range []string{"result", "data"} {
		if inner, ok := m[carrier]; ok {
			if s, ok := inner.String(); ok {
				return s, true
			}
		}
	}
	return "", false
}
