package template

import (
	"fmt"
	"strconv"
)

type expr interface {
	isExpr()
}

type segment struct {
	name    string
	index   int
	isIndex bool
}

type pathExpr struct {
	segments []segment
	raw      string
}

type literalExpr struct {
	value interface{}
}

type concatExpr struct {
	parts []expr
}

type compareExpr struct {
	negate      bool
	left, right expr
}

type logicalExpr struct {
	and         bool
	left, right expr
}

type notExpr struct {
	operand expr
}

type callExpr struct {
	name string
	args []expr
}

func (pathExpr) isExpr()    {}
func (literalExpr) isExpr() {}
func (concatExpr) isExpr()  {}
func (compareExpr) isExpr() {}
func (logicalExpr) isExpr() {}
func (notExpr) isExpr()     {}
func (callExpr) isExpr()    {}

var builtins = map[string]int{
	"exists":   1,
	"contains": 2,
	"default":  2,
	"len":      1,
	"upper":    1,
	"lower":    1,
}

type parser struct {
	tokens []token
	pos    int
}

func parseExpression(src string) (expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s", p.peek())
	}
	return e, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, found %s", what, t)
	}
	return t, nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}

	switch p.peek().kind {
	case tokEq, tokNeq:
		op := p.next()
		right, err := p.parseConcat()
		if err != nil {
			return nil, err
		}
		return compareExpr{negate: op.kind == tokNeq, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseConcat() (expr, error) {
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokPlus {
		return first, nil
	}

	parts := []expr{first}
	for p.peek().kind == tokPlus {
		p.next()
		part, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return concatExpr{parts: parts}, nil
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.next()

	switch t.kind {
	case tokString:
		return literalExpr{value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", t)
		}
		return literalExpr{value: f}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literalExpr{value: true}, nil
		case "false":
			return literalExpr{value: false}, nil
		case "null":
			return literalExpr{value: nil}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return p.parsePath(t)
	}

	return nil, fmt.Errorf("unexpected %s", t)
}

func (p *parser) parseCall(name token) (expr, error) {
	arity, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name.text)
	}
	p.next()

	var args []expr
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s expects %d argument(s), got %d", name.text, arity, len(args))
	}
	return callExpr{name: name.text, args: args}, nil
}

func (p *parser) parsePath(root token) (expr, error) {
	path := pathExpr{segments: []segment{{name: root.text}}, raw: root.text}

	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			t := p.next()
			if t.kind != tokIdent && t.kind != tokNumber {
				return nil, fmt.Errorf("expected field name after '.', found %s", t)
			}
			path.segments = append(path.segments, segment{name: t.text})
			path.raw += "." + t.text
		case tokLBracket:
			p.next()
			t := p.next()
			var seg segment
			switch t.kind {
			case tokNumber:
				idx, err := strconv.Atoi(t.text)
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("invalid index %s", t)
				}
				seg = segment{index: idx, isIndex: true, name: t.text}
			case tokString:
				seg = segment{name: t.text}
			default:
				return nil, fmt.Errorf("expected index, found %s", t)
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			path.segments = append(path.segments, seg)
			path.raw += "[" + seg.name + "]"
		default:
			return path, p.validateRoot(path)
		}
	}
}

func (p *parser) validateRoot(path pathExpr) error {
	switch path.segments[0].name {
	case RootInitialInput:
		return nil
	case RootNodes:
		if len(path.segments) < 3 || path.segments[2].name != "output" {
			return fmt.Errorf("node references must look like nodes.<id>.output, got %q", path.raw)
		}
		return nil
	}
	return fmt.Errorf("unknown reference root %q (expected %s or %s)", path.segments[0].name, RootInitialInput, RootNodes)
}
