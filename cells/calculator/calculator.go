// Package calculator provides arithmetic expression evaluation as a cell
package calculator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xiaojinao/cellium/cell"
	"github.com/xiaojinao/cellium/command"
	"github.com/xiaojinao/cellium/errors"
	"github.com/xiaojinao/cellium/eventbus"
)

// Events published around each evaluation
const (
	EventRequested = "calc.requested"
	EventCompleted = "calc.completed"
	EventError     = "calc.error"
)

// Calculator evaluates arithmetic expressions sent as command payloads
type Calculator struct {
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New constructs the calculator cell
func New(deps cell.Dependencies) (cell.Cell, error) {
	return &Calculator{
		bus:    deps.Bus,
		logger: deps.GetLoggerWithCell("calculator"),
	}, nil
}

// Name implements cell.Cell
func (c *Calculator) Name() string { return "calculator" }

// Actions implements cell.Cell
func (c *Calculator) Actions() map[string]cell.Action {
	return map[string]cell.Action{
		"calc": c.calc,
		"eval": c.calc,
	}
}

// Describe implements cell.Describer
func (c *Calculator) Describe() map[string]string {
	return map[string]string{
		"calc": "Evaluate an arithmetic expression, e.g. calculator:calc:1+1",
		"eval": "Alias for calc",
	}
}

func (c *Calculator) calc(payload command.Value) (any, error) {
	expr := payload.Text()
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	c.publish(EventRequested, eventbus.Data{"expression": expr})

	result, err := Evaluate(expr)
	if err != nil {
		c.publish(EventError, eventbus.Data{"expression": expr, "error": err.Error()})
		return nil, err
	}

	c.publish(EventCompleted, eventbus.Data{"expression": expr, "result": result})
	c.logger.Debug("expression evaluated", "expression", expr, "result", result)
	return result, nil
}

func (c *Calculator) publish(event string, data eventbus.Data) {
	if c.bus != nil {
		c.bus.Publish(event, data)
	}
}

// Evaluate parses and computes an arithmetic expression supporting
// + - * /, unary minus, parentheses, and decimal numbers. Any character
// outside that set rejects the whole expression.
func Evaluate(expr string) (float64, error) {
	p := &parser{input: expr}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return result, nil
}

// parser is a recursive descent evaluator over the sanitized grammar:
//
//	expr   = term (('+' | '-') term)*
//	term   = factor (('*' | '/') factor)*
//	factor = number | '-' factor | '(' expr ')'
type parser struct {
	input string
	pos   int
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (float64, error) {
	p.skipSpaces()
	switch {
	case p.peek() == '-':
		p.pos++
		f, err := p.parseFactor()
		return -f, err
	case p.peek() == '(':
		p.pos++
		result, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return result, nil
	default:
		return p.parseNumber()
	}
}

func (p *parser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		if p.pos < len(p.input) {
			return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
		}
		return 0, errors.New("unexpected end of expression")
	}

	text := p.input[start:p.pos]
	if strings.Count(text, ".") > 1 {
		return 0, fmt.Errorf("malformed number %q", text)
	}
	return strconv.ParseFloat(text, 64)
}

func (p *parser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
