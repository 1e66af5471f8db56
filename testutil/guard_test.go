package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"internal", InternalImportForbidden, "persistkit/internal/core", true},
		{"internal bare", InternalImportForbidden, "example.com/internal", false},
		{"internal pkg", InternalImportForbidden, "persistkit/pkg/domain", false},
		{"infra", InfraImportForbidden, "persistkit/internal/infra/persistence/sqlite", true},
		{"infra root", InfraImportForbidden, "persistkit/internal/infra", true},
		{"infra archive facade", InfraImportForbidden, "persistkit/internal/archive", false},
		{"domain", DomainImportForbidden, "persistkit/pkg/domain", true},
		{"domain versioned", DomainImportForbidden, "example.com/pkg/domain@v1.2.3", true},
		{"domain subpackage", DomainImportForbidden, "example.com/pkg/domain/sub", false},
		{"empty", DomainImportForbidden, "", false},
	}
	for _, c := range cases {
		if got := c.fn(c.in); got != c.want {
			t.Errorf("%s: predicate(%q)=%v want %v", c.name, c.in, got, c.want)
		}
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\talias \"persistkit/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ = alias.NewRegistry\n")
	writeGo(t, dir, "a_test.go", "package tmp\nimport \"persistkit/internal/infra/persistence/memory\"\n")
	writeGo(t, dir, "notes.txt", "import \"persistkit/internal/x\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGo(t, filepath.Join(dir, "sub"), "b.go", "package sub\nimport \"persistkit/internal/infra\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "persistkit/internal/core (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	AssertNoDirectImports(t, dir, InfraImportForbidden, "test files and subdirectories are skipped")
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestTransitiveDependencyMatching(t *testing.T) {
	prev := goListDeps
	t.Cleanup(func() { goListDeps = prev })
	goListDeps = func(string) ([]byte, error) {
		return []byte("context\npersistkit/pkg/domain\n\npersistkit/internal/core\n"), nil
	}
	AssertNoTransitiveDependency(t, ".", func(p string) bool { return p == "github.com/some/unused" }, "unused")

	out, _ := goListDeps(".")
	if hits := matchingLines(out, InternalImportForbidden); len(hits) != 1 || hits[0] != "persistkit/internal/core" {
		t.Fatalf("unexpected hits %v", hits)
	}
}

func TestFailIfViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfViolations(rec, "direct import", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail, got %q", rec.msg)
	}
	failIfViolations(rec, "direct import", "layering", []string{"a", "b"})
	if !strings.Contains(rec.msg, "layering") || !strings.Contains(rec.msg, "a\nb") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}
