package query

import (
	"persistkit/pkg/domain"
	"strings"
	"testing"
)

func TestParseHeaderForms(t *testing.T) {
	cases := []struct {
		text  string
		kind  string
		alias string
		pred  bool
	}{
		{"from Beverage", "Beverage", "", false},
		{"FROM Beverage b", "Beverage", "b", false},
		{"select b from Beverage as b where b.name = ?", "Beverage", "b", true},
		{"from Beverage where name = :name order by name desc", "Beverage", "", true},
	}
	for _, c := range cases {
		plan, err := Parse(c.text)
		if err != nil {
			t.Fatalf("parse %q: %v", c.text, err)
		}
		if plan.Kind != c.kind || plan.Alias != c.alias {
			t.Fatalf("parse %q: got kind=%q alias=%q", c.text, plan.Kind, plan.Alias)
		}
		if (plan.Predicate != "") != c.pred {
			t.Fatalf("parse %q: predicate %q", c.text, plan.Predicate)
		}
	}
}

func TestParseRejectsMalformedText(t *testing.T) {
	bad := []string{
		"",
		"Beverage",
		"from",
		"from Beverage where",
		"from Beverage where name = 'open",
		"from Beverage where (name = ?",
		"from Beverage where name like 'C%'",
		"select x from Beverage b",
		"from Beverage where name = ? trailing ) ",
		"from Beverage order name",
		"from Beverage where name == == 1",
		"from Beverage where a ~ 1",
	}
	for _, text := range bad {
		if _, err := Parse(text); err == nil {
			t.Fatalf("expected error for %q", text)
		}
	}
}

func TestTranslateOperators(t *testing.T) {
	plan, err := Parse("from Beverage b where b.name <> 'x' and b.price >= 2 or b.tag is not null and b.kind in ('a', 'b')")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := `row["name"] != "x" and row["price"] >= 2 or row["tag"] != nil and row["kind"] in [ "a" , "b" ]`
	if plan.Predicate != want {
		t.Fatalf("predicate\nwant %s\ngot  %s", want, plan.Predicate)
	}
}

func TestBindPositionalAndNamed(t *testing.T) {
	plan, err := Parse("from Beverage where name = ? and alcoholic = :alcoholic")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.PositionalCount() != 1 {
		t.Fatalf("expected one positional, got %d", plan.PositionalCount())
	}
	if _, err := plan.Bind(domain.Params{}); err == nil {
		t.Fatalf("expected missing positional error")
	}
	if _, err := plan.Bind(domain.Params{Positional: []any{"Beer"}}); err == nil || !strings.Contains(err.Error(), "alcoholic") {
		t.Fatalf("expected missing named error, got %v", err)
	}
	if _, err := plan.Bind(domain.Params{Positional: []any{"Beer"}, Named: map[string]any{"alcoholic": true, "extra": 1}}); err == nil {
		t.Fatalf("expected unknown named error")
	}
	b, err := plan.Bind(domain.Params{Positional: []any{"Beer"}, Named: map[string]any{"alcoholic": true}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	ok, err := b.Match(map[string]any{"name": "Beer", "alcoholic": true})
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = b.Match(map[string]any{"name": "Coffee", "alcoholic": false})
	if err != nil || ok {
		t.Fatalf("expected no match, got %v %v", ok, err)
	}
}

func TestNumberedPositionalParameters(t *testing.T) {
	plan, err := Parse("from Item where min <= ?2 and ?1 = name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.PositionalCount() != 2 {
		t.Fatalf("expected 2 positionals, got %d", plan.PositionalCount())
	}
	b, err := plan.Bind(domain.Positional("widget", 3))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	ok, err := b.Match(map[string]any{"name": "widget", "min": float64(1)})
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
}

func TestNonASCIIIdentifiers(t *testing.T) {
	plan, err := Parse("from Getränk g where g.größe = :größe and g.süß = ? order by g.größe")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plan.Kind != "Getränk" || plan.Alias != "g" {
		t.Fatalf("got kind=%q alias=%q", plan.Kind, plan.Alias)
	}
	if len(plan.Order) != 1 || strings.Join(plan.Order[0].Field, ".") != "größe" {
		t.Fatalf("unexpected order %+v", plan.Order)
	}
	b, err := plan.Bind(domain.Params{Positional: []any{true}, Named: map[string]any{"größe": "groß"}})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	ok, err := b.Match(map[string]any{"größe": "groß", "süß": true})
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	if _, err := Parse("from Beverage where name = ? ¬ 1"); err == nil || !strings.Contains(err.Error(), "'¬'") {
		t.Fatalf("expected the full rune in the error, got %v", err)
	}
}

func TestMatchWithoutPredicate(t *testing.T) {
	plan, err := Parse("from Beverage")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := plan.Bind(domain.Params{})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if ok, _ := b.Match(map[string]any{}); !ok {
		t.Fatalf("expected unbounded query to match")
	}
}

func TestMatchTypeMismatchFails(t *testing.T) {
	plan, err := Parse("from Beverage where name > 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, _ := plan.Bind(domain.Params{})
	if _, err := b.Match(map[string]any{"name": "Coffee"}); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}

func TestOrderBy(t *testing.T) {
	plan, err := Parse("from Beverage order by alcoholic desc, name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := map[string]any{"name": "Beer", "alcoholic": true}
	b := map[string]any{"name": "Absinthe", "alcoholic": true}
	c := map[string]any{"name": "Coffee", "alcoholic": false}
	if !plan.Less(b, a) {
		t.Fatalf("expected name ascending within equal alcoholic")
	}
	if !plan.Less(a, c) {
		t.Fatalf("expected alcoholic desc first")
	}
	if plan.Less(a, a) {
		t.Fatalf("row must not be less than itself")
	}
}

func TestCompilerCachesPlans(t *testing.T) {
	c := NewCompiler(2)
	p1, err := c.Compile("from Beverage")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	p2, _ := c.Compile("from Beverage")
	if p1 != p2 {
		t.Fatalf("expected cached plan to be reused")
	}
	if _, err := c.Compile("from"); err == nil {
		t.Fatalf("expected parse error")
	}
	if c.Len() != 1 {
		t.Fatalf("expected failures not to be cached, len=%d", c.Len())
	}
	_, _ = c.Compile("from A")
	_, _ = c.Compile("from B")
	if c.Len() != 2 {
		t.Fatalf("expected eviction to bound cache, len=%d", c.Len())
	}
}
