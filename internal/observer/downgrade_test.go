package observer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kea/internal/types"
)

func TestDowngradeOneLevel(t *testing.T) {
	m := TemplateFor(types.ComplexityComplex, []string{"sql"})

	got, err := Downgrade(m)
	if err != nil {
		t.Fatalf("Downgrade() error = %v", err)
	}
	if got.Level != types.ComplexityModerate {
		t.Fatalf("Level = %s, want MODERATE", got.Level)
	}
	if !got.PressureDowngraded {
		t.Fatalf("PressureDowngraded = false, want true")
	}
	if diff := cmp.Diff([]string{"sql"}, got.RequiredTools); diff != "" {
		t.Fatalf("RequiredTools mismatch (-want +got):\n%s", diff)
	}

	// Module bookkeeping must match the lower level's template exactly.
	want := TemplateFor(types.ComplexityModerate, []string{"sql"})
	if diff := cmp.Diff(want.Modules, got.Modules); diff != "" {
		t.Fatalf("Modules mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Tiers, got.Tiers); diff != "" {
		t.Fatalf("Tiers mismatch (-want +got):\n%s", diff)
	}
	if got.Name != want.Name {
		t.Fatalf("Name = %q, want %q", got.Name, want.Name)
	}
}

func TestDowngradeTrivialIsIdempotent(t *testing.T) {
	m := TemplateFor(types.ComplexityTrivial, nil)

	got, err := Downgrade(m)
	if err != nil {
		t.Fatalf("Downgrade() error = %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("Downgrade(TRIVIAL) changed the map (-want +got):\n%s", diff)
	}

	// And again: no ratchet below the floor.
	again, err := Downgrade(got)
	if err != nil {
		t.Fatalf("second Downgrade() error = %v", err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Fatalf("repeated downgrade not idempotent (-want +got):\n%s", diff)
	}
}

func TestDowngradeRejectsCritical(t *testing.T) {
	m := TemplateFor(types.ComplexityCritical, nil)

	_, err := Downgrade(m)
	if !errors.Is(err, ErrCriticalNotDowngradable) {
		t.Fatalf("Downgrade(CRITICAL) error = %v, want ErrCriticalNotDowngradable", err)
	}
}

func TestDowngradeChainReachesTrivial(t *testing.T) {
	m := TemplateFor(types.ComplexityComplex, nil)
	for i := 0; i < 5; i++ {
		next, err := Downgrade(m)
		if err != nil {
			t.Fatalf("Downgrade() error = %v at step %d", err, i)
		}
		m = next
	}
	if m.Level != types.ComplexityTrivial {
		t.Fatalf("Level = %s after repeated downgrades, want TRIVIAL", m.Level)
	}
}
