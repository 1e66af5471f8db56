package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"persistkit/internal/archive/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "seed/beverages.json", strings.NewReader("[]"), "application/json")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ETag == "" || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "seed//beverages.json", strings.NewReader("x"), ""); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists for the normalised key, got %v", err)
	}
	_, rc, err := s.Get(ctx, "seed/beverages.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "[]" {
		t.Fatalf("unexpected body %q", body)
	}
	_, _ = s.Put(ctx, "other.json", strings.NewReader("{}"), "")
	list, _ := s.List(ctx, "seed/")
	if len(list) != 1 || list[0].Key != "seed/beverages.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if all, _ := s.List(ctx, ""); len(all) != 2 || all[0].Key != "other.json" {
		t.Fatalf("expected sorted full listing, got %+v", all)
	}
	if ok, _ := s.Delete(ctx, "seed/beverages.json"); !ok {
		t.Fatalf("expected delete to report existence")
	}
	if ok, _ := s.Delete(ctx, "seed/beverages.json"); ok {
		t.Fatalf("expected second delete to report absence")
	}
	if _, _, err := s.Get(ctx, "seed/beverages.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "../x", strings.NewReader(""), ""); err == nil {
		t.Fatalf("expected invalid key error")
	}
}
