package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

// NewCalcCapability returns the perform_calculation capability. It evaluates
// plain arithmetic over a closed grammar: numbers, + - * / % ^, parentheses
// and unary minus. Anything else is rejected, so a generated expression can
// never reach names, calls or indexing.
func NewCalcCapability() Capability {
	return Capability{
		Name:        "perform_calculation",
		Description: "Evaluates an arithmetic expression.",
		Idempotent:  true,
		Handler: func(ctx context.Context, args Args) (any, error) {
			expr := args.String("expression")
			if strings.TrimSpace(expr) == "" {
				return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
					"expression is required", nil)
			}
			result, err := Evaluate(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"expression": expr,
				"result":     result,
			}, nil
		},
	}
}

// Evaluate computes the value of an arithmetic expression.
//
// Grammar (recursive descent, ^ binds tightest and is right-associative):
//
//	expr    = term   { ("+" | "-") term }
//	term    = power  { ("*" | "/" | "%") power }
//	power   = unary  [ "^" power ]
//	unary   = "-" unary | primary
//	primary = number | "(" expr ")"
func Evaluate(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, p.errorf("unexpected %q", p.input[p.pos:])
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, pilotErrors.New(pilotErrors.CodeInvalidInput,
			"expression result is not a finite number", nil)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) errorf(format string, args ...any) error {
	return pilotErrors.New(pilotErrors.CodeInvalidInput,
		fmt.Sprintf("invalid expression at offset %d: %s", p.pos, fmt.Sprintf(format, args...)), nil)
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
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

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, p.errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, p.errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case unicode.IsDigit(rune(c)) || c == '.':
		start := p.pos
		for p.pos < len(p.input) {
			ch := p.input[p.pos]
			if unicode.IsDigit(rune(ch)) || ch == '.' {
				p.pos++
				continue
			}
			break
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, p.errorf("bad number %q", p.input[start:p.pos])
		}
		return v, nil
	case c == 0:
		return 0, p.errorf("unexpected end of expression")
	default:
		return 0, p.errorf("unexpected character %q", string(c))
	}
}
