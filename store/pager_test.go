package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

func TestListPagesSequentially(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	first, err := s.List(ctx, i32(5), nil)
	if err != nil {
		t.Fatalf("List(5, nil): %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("first page has %d items, want 5", len(first))
	}

	second, err := s.List(ctx, i32(5), i32(5))
	if err != nil {
		t.Fatalf("List(5, 5): %v", err)
	}
	if len(second) != 5 {
		t.Fatalf("second page has %d items, want 5", len(second))
	}

	seen := map[string]bool{}
	for _, app := range append(first, second...) {
		if seen[app.ID] {
			t.Fatalf("application %s appeared on both pages", app.ID)
		}
		seen[app.ID] = true
	}
	if len(seen) != 10 {
		t.Fatalf("two pages covered %d distinct applications, want 10", len(seen))
	}
}

func TestListPastEnd(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if _, err := s.List(ctx, i32(5), nil); err != nil {
		t.Fatalf("List(5, nil): %v", err)
	}
	if _, err := s.List(ctx, i32(5), i32(5)); err != nil {
		t.Fatalf("List(5, 5): %v", err)
	}

	third, err := s.List(ctx, i32(5), i32(10))
	if err != nil {
		t.Fatalf("List(5, 10): %v", err)
	}
	if len(third) != 0 {
		t.Fatalf("page past the end has %d items, want 0", len(third))
	}
}

func TestListColdOffset(t *testing.T) {
	s, fake, cfg := newAppStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := s.List(ctx, i32(5), nil); err != nil {
		t.Fatalf("List(5, nil): %v", err)
	}

	// A fresh store has no recorded cursors, so a non-zero offset is
	// unreachable until its pages are walked again.
	cold := store.NewApplicationStore(fake, cfg)
	if _, err := cold.List(ctx, i32(5), i32(5)); !errors.Is(err, store.ErrNotSupported) {
		t.Fatalf("cold List(5, 5) = %v, want ErrNotSupported", err)
	}
}

func TestListEverything(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := s.List(ctx, nil, nil)
	if err != nil {
		t.Fatalf("List(nil, nil): %v", err)
	}
	if len(all) != 7 {
		t.Fatalf("List(nil, nil) returned %d items, want 7", len(all))
	}
}

func TestListZeroOffsetIsStart(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// Offset zero never needs a recorded cursor.
	page, err := s.List(ctx, i32(2), i32(0))
	if err != nil {
		t.Fatalf("List(2, 0): %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("List(2, 0) returned %d items, want 2", len(page))
	}
}
