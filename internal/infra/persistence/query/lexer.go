package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
	tokPositional // ? or ?N
	tokNamed      // :name
)

type token struct {
	kind tokenKind
	text string // identifier/symbol text, unquoted string body, param name or index
	pos  int
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (t token) isSymbol(sym string) bool {
	return t.kind == tokSymbol && t.text == sym
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		r, width := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += width
		case r == '\'' || r == '"':
			body, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: body, pos: i})
			i = next
		case r == '?':
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			out = append(out, token{kind: tokPositional, text: src[i+1 : j], pos: i})
			i = j
		case r == ':':
			j := i + 1
			for j < len(src) {
				c, w := utf8.DecodeRuneInString(src[j:])
				if !isIdentRune(c, j == i+1) {
					break
				}
				j += w
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty parameter name at offset %d", i)
			}
			out = append(out, token{kind: tokNamed, text: src[i+1 : j], pos: i})
			i = j
		case r >= '0' && r <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			out = append(out, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case isIdentRune(r, true):
			j := i
			for j < len(src) {
				c, w := utf8.DecodeRuneInString(src[j:])
				if !isIdentRune(c, false) && c != '.' {
					break
				}
				j += w
			}
			out = append(out, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			sym, err := scanSymbol(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokSymbol, text: sym, pos: i})
			i += len(sym)
		}
	}
	return out, nil
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

// scanString reads a quoted literal. A doubled quote escapes the quote.
func scanString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		if src[i] == quote {
			if i+1 < len(src) && src[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(src[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string literal at offset %d", start)
}

func scanSymbol(src string, i int) (string, error) {
	if i+1 < len(src) {
		switch src[i : i+2] {
		case "<>", "!=", "<=", ">=", "==":
			return src[i : i+2], nil
		}
	}
	switch src[i] {
	case '=', '<', '>', '(', ')', ',', '-', '+':
		return src[i : i+1], nil
	}
	r, _ := utf8.DecodeRuneInString(src[i:])
	return "", fmt.Errorf("unexpected character %q at offset %d", r, i)
}
