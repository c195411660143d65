package template

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokDot
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

func lex(src string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(src) {
		c := rune(src[i])

		switch {
		case unicode.IsSpace(c):
			i++
		case c == '.':
			tokens = append(tokens, token{tokDot, ".", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '+':
			tokens = append(tokens, token{tokPlus, "+", i})
			i++
		case strings.HasPrefix(src[i:], "=="):
			tokens = append(tokens, token{tokEq, "==", i})
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			tokens = append(tokens, token{tokNeq, "!=", i})
			i += 2
		case strings.HasPrefix(src[i:], "&&"):
			tokens = append(tokens, token{tokAnd, "&&", i})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			tokens = append(tokens, token{tokOr, "||", i})
			i += 2
		case c == '!':
			tokens = append(tokens, token{tokNot, "!", i})
			i++
		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, text, i})
			i = next
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			afterDot := len(tokens) > 0 && tokens[len(tokens)-1].kind == tokDot
			seenDot := false
			i++
			for i < len(src) {
				if unicode.IsDigit(rune(src[i])) {
					i++
					continue
				}
				if src[i] == '.' && !afterDot && !seenDot && i+1 < len(src) && unicode.IsDigit(rune(src[i+1])) {
					seenDot = true
					i++
					continue
				}
				break
			}
			tokens = append(tokens, token{tokNumber, src[start:i], start})
		case c == '_' || c == '-' || unicode.IsLetter(c):
			start := i
			for i < len(src) && isIdentChar(rune(src[i])) {
				i++
			}
			tokens = append(tokens, token{tokIdent, src[start:i], start})
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}

	return append(tokens, token{tokEOF, "", len(src)}), nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var sb strings.Builder

	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 < len(src) {
				sb.WriteByte(src[i+1])
				i++
			}
		case quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(src[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at %d", start)
}

func isIdentChar(c rune) bool {
	return c == '_' || c == '-' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
