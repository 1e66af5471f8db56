package core

import "testing"

func TestCleanKey(t *testing.T) {
	good := map[string]string{
		"fixtures/beverages.json":   "fixtures/beverages.json",
		"a//b/./c.json":             "a/b/c.json",
		"exports/dev/Beverage.json": "exports/dev/Beverage.json",
	}
	for in, want := range good {
		got, err := CleanKey(in)
		if err != nil || got != want {
			t.Fatalf("CleanKey(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "  ", "/abs", "../escape", "a/../../b"} {
		if _, err := CleanKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
