// Package query compiles the entity query language shared by every store
// backend into expr programs evaluated against JSON rows.
//
//	[select <alias>] from <Kind> [[as] <alias>] [where <predicate>] [order by <field> [asc|desc], ...]
//
// Placeholders: `?` (bound in order), `?N` (1-based), `:name`.
package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"persistkit/pkg/domain"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// OrderTerm is one `order by` key.
type OrderTerm struct {
	Field []string
	Desc  bool
}

// Plan is a parsed and compiled query. Plans are immutable and shared
// through the Compiler cache.
type Plan struct {
	Text       string
	Kind       string
	Alias      string
	Order      []OrderTerm
	Predicate  string // expr source; empty matches every row
	positional int
	named      []string
	program    *exprvm.Program
}

// Parse compiles text without consulting a cache.
func Parse(text string) (*Plan, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	plan := &Plan{Text: text}

	var selectAlias string
	if p.peek().is("select") {
		p.next()
		sel := p.next()
		if sel.kind != tokIdent {
			return nil, fmt.Errorf("expected alias after select")
		}
		selectAlias = sel.text
	}
	if !p.peek().is("from") {
		return nil, fmt.Errorf("expected from clause")
	}
	p.next()
	kind := p.next()
	if kind.kind != tokIdent || strings.Contains(kind.text, ".") {
		return nil, fmt.Errorf("expected entity name after from")
	}
	plan.Kind = kind.text
	if p.peek().is("as") {
		p.next()
		alias := p.next()
		if alias.kind != tokIdent {
			return nil, fmt.Errorf("expected alias after as")
		}
		plan.Alias = alias.text
	} else if t := p.peek(); t.kind == tokIdent && !t.is("where") && !t.is("order") {
		plan.Alias = p.next().text
	}
	if selectAlias != "" && selectAlias != plan.Alias {
		return nil, fmt.Errorf("select alias %q does not match from alias %q", selectAlias, plan.Alias)
	}

	if p.peek().is("where") {
		p.next()
		var where []token
		for !p.done() && !(p.peek().is("order") && p.peekAt(1).is("by")) {
			where = append(where, p.next())
		}
		if len(where) == 0 {
			return nil, fmt.Errorf("empty where clause")
		}
		tr := translator{alias: plan.Alias}
		src, err := tr.translate(where)
		if err != nil {
			return nil, err
		}
		plan.Predicate = src
		plan.positional = tr.maxPositional
		plan.named = tr.namedList()
	}

	if p.peek().is("order") {
		p.next()
		if !p.next().is("by") {
			return nil, fmt.Errorf("expected by after order")
		}
		for {
			field := p.next()
			if field.kind != tokIdent {
				return nil, fmt.Errorf("expected field in order by")
			}
			term := OrderTerm{Field: stripAlias(plan.Alias, field.text)}
			if p.peek().is("desc") {
				p.next()
				term.Desc = true
			} else if p.peek().is("asc") {
				p.next()
			}
			plan.Order = append(plan.Order, term)
			if !p.peek().isSymbol(",") {
				break
			}
			p.next()
		}
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.peek().text, p.peek().pos)
	}

	if plan.Predicate != "" {
		program, err := exprlang.Compile(plan.Predicate,
			exprlang.Env(map[string]any{}),
			exprlang.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, fmt.Errorf("compile predicate: %w", err)
		}
		plan.program = program
	}
	return plan, nil
}

// PositionalCount is the number of positional arguments the plan expects.
func (p *Plan) PositionalCount() int { return p.positional }

// NamedParameters lists the named parameters in sorted order.
func (p *Plan) NamedParameters() []string { return append([]string(nil), p.named...) }

// Binding is a plan with parameter values attached.
type Binding struct {
	plan  *Plan
	args  []any
	named map[string]any
}

// Bind checks params against the placeholders of the plan. Values are
// normalised through JSON so they compare like row values do.
func (p *Plan) Bind(params domain.Params) (*Binding, error) {
	if len(params.Positional) != p.positional {
		return nil, fmt.Errorf("query expects %d positional parameters, got %d", p.positional, len(params.Positional))
	}
	b := &Binding{plan: p, args: make([]any, len(params.Positional)), named: make(map[string]any, len(p.named))}
	for i, v := range params.Positional {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("bind parameter %d: %w", i+1, err)
		}
		b.args[i] = nv
	}
	for _, name := range p.named {
		v, ok := params.Named[name]
		if !ok {
			return nil, fmt.Errorf("missing named parameter %q", name)
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("bind parameter %q: %w", name, err)
		}
		b.named[name] = nv
	}
	for name := range params.Named {
		if _, ok := b.named[name]; !ok {
			return nil, fmt.Errorf("unknown named parameter %q", name)
		}
	}
	return b, nil
}

// Match evaluates the predicate against a decoded row.
func (b *Binding) Match(row map[string]any) (bool, error) {
	if b.plan.program == nil {
		return true, nil
	}
	out, err := exprlang.Run(b.plan.program, map[string]any{
		"row":   row,
		"args":  b.args,
		"named": b.named,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate predicate: %w", err)
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("predicate yields %T, not bool", out)
	}
}

// Less orders two rows by the plan's order terms. Rows compare equal when
// the plan has no order by clause.
func (p *Plan) Less(a, b map[string]any) bool {
	for _, term := range p.Order {
		c := compareValues(lookup(a, term.Field), lookup(b, term.Field))
		if c == 0 {
			continue
		}
		if term.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func lookup(row map[string]any, path []string) any {
	var cur any = row
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// compareValues orders nil < bool < number < string < other.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token { return p.peekAt(0) }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokSymbol, pos: -1}
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.peek()
	if !p.done() {
		p.pos++
	}
	return t
}

type translator struct {
	alias         string
	auto          int
	maxPositional int
	named         map[string]struct{}
}

func (tr *translator) namedList() []string {
	out := make([]string, 0, len(tr.named))
	for name := range tr.named {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (tr *translator) translate(toks []token) (string, error) {
	var (
		parts []string
		// true for list parentheses opened by `in`
		parens []bool
	)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case tokString:
			parts = append(parts, strconv.Quote(t.text))
		case tokNumber:
			if _, err := strconv.ParseFloat(t.text, 64); err != nil {
				return "", fmt.Errorf("invalid number %q", t.text)
			}
			parts = append(parts, t.text)
		case tokPositional:
			idx := 0
			if t.text == "" {
				tr.auto++
				idx = tr.auto
			} else {
				n, err := strconv.Atoi(t.text)
				if err != nil || n < 1 {
					return "", fmt.Errorf("invalid positional parameter ?%s", t.text)
				}
				idx = n
			}
			if idx > tr.maxPositional {
				tr.maxPositional = idx
			}
			parts = append(parts, fmt.Sprintf("args[%d]", idx-1))
		case tokNamed:
			if tr.named == nil {
				tr.named = make(map[string]struct{})
			}
			tr.named[t.text] = struct{}{}
			parts = append(parts, fmt.Sprintf("named[%q]", t.text))
		case tokSymbol:
			switch t.text {
			case "=":
				parts = append(parts, "==")
			case "<>":
				parts = append(parts, "!=")
			case "(":
				list := i > 0 && toks[i-1].is("in")
				parens = append(parens, list)
				if list {
					parts = append(parts, "[")
				} else {
					parts = append(parts, "(")
				}
			case ")":
				if len(parens) == 0 {
					return "", fmt.Errorf("unbalanced parenthesis at offset %d", t.pos)
				}
				list := parens[len(parens)-1]
				parens = parens[:len(parens)-1]
				if list {
					parts = append(parts, "]")
				} else {
					parts = append(parts, ")")
				}
			default:
				parts = append(parts, t.text)
			}
		case tokIdent:
			switch strings.ToLower(t.text) {
			case "and", "or", "not", "in", "true", "false":
				if strings.EqualFold(t.text, "in") && (i+1 >= len(toks) || !toks[i+1].isSymbol("(")) {
					return "", fmt.Errorf("expected list after in")
				}
				parts = append(parts, strings.ToLower(t.text))
			case "null":
				parts = append(parts, "nil")
			case "is":
				op := "=="
				if i+1 < len(toks) && toks[i+1].is("not") {
					op = "!="
					i++
				}
				if i+1 >= len(toks) || !toks[i+1].is("null") {
					return "", fmt.Errorf("expected null after is")
				}
				i++
				parts = append(parts, op, "nil")
			case "like", "between", "exists", "select", "from", "where":
				return "", fmt.Errorf("unsupported keyword %q", t.text)
			default:
				ref, err := fieldRef(stripAlias(tr.alias, t.text))
				if err != nil {
					return "", err
				}
				parts = append(parts, ref)
			}
		}
	}
	if len(parens) != 0 {
		return "", fmt.Errorf("unbalanced parenthesis")
	}
	return strings.Join(parts, " "), nil
}

func stripAlias(alias, ident string) []string {
	segs := strings.Split(ident, ".")
	if alias != "" && len(segs) > 1 && segs[0] == alias {
		segs = segs[1:]
	}
	return segs
}

func fieldRef(segs []string) (string, error) {
	var b strings.Builder
	for i, seg := range segs {
		if seg == "" {
			return "", fmt.Errorf("invalid field reference %q", strings.Join(segs, "."))
		}
		if i == 0 {
			fmt.Fprintf(&b, "row[%q]", seg)
			continue
		}
		fmt.Fprintf(&b, "?.%s", seg)
	}
	return b.String(), nil
}
