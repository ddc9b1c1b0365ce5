package identifiers

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesVersionSevenIdentifiers(t *testing.T) {
	provider := NewUUIDProvider()
	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		value, err := provider.NewID()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		parsed, err := uuid.Parse(value)
		if err != nil {
			t.Fatalf("expected uuid, got %q: %v", value, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected version 7, got %d", parsed.Version())
		}
		if _, duplicate := seen[value]; duplicate {
			t.Fatalf("duplicate identifier %q", value)
		}
		seen[value] = struct{}{}
	}
}

func TestSequenceProviderFallsBackAfterExhaustion(t *testing.T) {
	provider := Sequence("a", "b")
	first, _ := provider.NewID()
	second, _ := provider.NewID()
	if first != "a" || second != "b" {
		t.Fatalf("unexpected sequence %q %q", first, second)
	}
	third, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(third); err != nil {
		t.Fatalf("expected generated uuid after exhaustion, got %q", third)
	}
}
