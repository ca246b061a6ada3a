// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"regexp"
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if _, err := goUUID.Parse(id1); err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
}

// TestGeneratorNewGiftCode checks the code format and uniqueness.
func TestGeneratorNewGiftCode(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^GIFT-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)
	gen := New()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, err := gen.NewGiftCode()
		if err != nil {
			t.Fatalf("NewGiftCode() error = %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("unexpected code format %q", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}
