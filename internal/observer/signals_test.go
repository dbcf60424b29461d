package observer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"kea/internal/types"
)

func TestBuildSignalTagsFusion(t *testing.T) {
	cls := types.Classification{
		PrimaryClass: "data",
		Confidence:   0.8,
		Complexity:   0.45,
		Tags:         []string{"tool:sql", "batch"},
	}
	labels := types.CognitiveLabels{
		Intent:  types.IntentInstruction,
		Urgency: types.UrgencyHigh,
		Skills:  []string{"analysis", "Analysis", "execution"},
	}
	entities := []types.Entity{
		{Kind: "tool", Value: "sql", Tool: "sql"},
		{Kind: "tool", Value: "http", Tool: "http"},
		{Kind: "name", Value: "Orders"},
	}

	tags := BuildSignalTags(cls, labels, entities)

	if tags.Urgency != types.UrgencyHigh {
		t.Fatalf("Urgency = %s, want HIGH", tags.Urgency)
	}
	if tags.Domain != "data" {
		t.Fatalf("Domain = %q, want data", tags.Domain)
	}
	if tags.Complexity != 0.45 {
		t.Fatalf("Complexity = %v, want 0.45", tags.Complexity)
	}
	if tags.EntityCount != 3 {
		t.Fatalf("EntityCount = %d, want 3", tags.EntityCount)
	}
	if diff := cmp.Diff([]string{"analysis", "execution"}, tags.RequiredSkills); diff != "" {
		t.Fatalf("RequiredSkills mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"http", "sql"}, tags.RequiredTools); diff != "" {
		t.Fatalf("RequiredTools mismatch (-want +got):\n%s", diff)
	}
	if tags.Intent != types.IntentInstruction {
		t.Fatalf("Intent = %s, want instruction", tags.Intent)
	}
}

func TestBuildSignalTagsDomainTieBreak(t *testing.T) {
	cls := types.Classification{
		PrimaryClass: "general",
		Confidence:   0.5,
		Alternates: []types.ClassAlternate{
			{Class: "ops", Confidence: 0.9},
			{Class: "code", Confidence: 0.6},
		},
	}

	tags := BuildSignalTags(cls, types.CognitiveLabels{}, nil)
	if tags.Domain != "ops" {
		t.Fatalf("Domain = %q, want the higher-confidence alternate", tags.Domain)
	}
}

func TestBuildSignalTagsClampsComplexity(t *testing.T) {
	for _, tc := range []struct {
		in, want float64
	}{
		{-0.5, 0}, {0, 0}, {0.7, 0.7}, {1.8, 1},
	} {
		tags := BuildSignalTags(types.Classification{Complexity: tc.in}, types.CognitiveLabels{}, nil)
		if tags.Complexity != tc.want {
			t.Fatalf("Complexity(%v) = %v, want %v", tc.in, tags.Complexity, tc.want)
		}
	}
}
