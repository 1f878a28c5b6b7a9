// Package jsontest provides a diagnostic cell for exercising structured
// payloads across the bridge. It is a development aid: echoing payloads
// back proves the decode/encode round trip, and the complex action
// returns a nested document whose key order must survive unchanged.
package jsontest

import (
	"fmt"
	"log/slog"

	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/command"
)

// JSONTest is a diagnostic cell for structured payload round trips
type JSONTest struct {
	logger *slog.Logger
}

// New constructs the jsontest cell
func New(deps cell.Dependencies) (cell.Cell, error) {
	return &JSONTest{logger: deps.GetLoggerWithCell("jsontest")}, nil
}

// Name implements cell.Cell
func (j *JSONTest) Name() string { return "jsontest" }

// Actions implements cell.Cell
func (j *JSONTest) Actions() map[string]cell.Action {
	return map[string]cell.Action{
		"echo":    j.echo,
		"greet":   j.greet,
		"batch":   j.batch,
		"complex": j.complex,
	}
}

// Describe implements cell.Describer
func (j *JSONTest) Describe() map[string]string {
	return map[string]string{
		"echo":    "Return the payload unchanged",
		"greet":   "Greet the name in the payload, e.g. jsontest:greet:{\"name\":\"Ada\"}",
		"batch":   "Summarize a JSON array payload",
		"complex": "Return a nested document with stable key order",
	}
}

// echo returns the decoded payload as-is, proving that structure and
// key order survive the full round trip.
func (j *JSONTest) echo(payload command.Value) (any, error) {
	return payload, nil
}

func (j *JSONTest) greet(payload command.Value) (any, error) {
	name := ""
	switch payload.Kind() {
	case command.KindString:
		name = payload.Text()
	case command.KindMap:
		if v, ok := payload.AsMap().Get("name"); ok {
			name = v.Text()
		}
	}
	if name == "" {
		name = "stranger"
	}

	out := command.NewMap()
	out.Set("message", command.String(fmt.Sprintf("Hello, %s!", name)))
	out.Set("name", command.String(name))
	return out, nil
}

func (j *JSONTest) batch(payload command.Value) (any, error) {
	items := payload.AsSeq()
	if items == nil {
		return nil, fmt.Errorf("batch expects a JSON array payload")
	}

	out := command.NewMap()
	out.Set("count", command.Number(float64(len(items))))
	out.Set("items", command.Seq(items...))
	return out, nil
}

// complex returns a fixed nested document. Clients assert on the exact
// serialized bytes, so the key order here is part of the contract.
func (j *JSONTest) complex(payload command.Value) (any, error) {
	inner := command.NewMap()
	inner.Set("depth", command.Number(2))
	inner.Set("flag", command.Bool(true))

	out := command.NewMap()
	out.Set("kind", command.String("complex"))
	out.Set("nested", command.MapValue(inner))
	out.Set("values", command.Seq(
		command.Number(1), command.String("two"), command.Bool(false), command.Null(),
	))
	if !payload.IsNull() {
		out.Set("input", payload)
	}
	return out, nil
}
