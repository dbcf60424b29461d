package observer

import (
	"sort"
	"strings"

	"kea/internal/types"
)

// BuildSignalTags fuses the four perception outputs into the scheduling
// record. Pure; the result carries no raw input text.
//
// Fusion rules:
//   - urgency comes straight from the scorer (CRITICAL later forces the
//     emergency path regardless of structural complexity)
//   - domain is the classifier's primary class, ties broken by confidence
//   - structural complexity is the classifier's score clamped to [0,1]
//   - required skills/tools merge scorer skills, classifier tags, and
//     entity tool hints, deduplicated and sorted for stable output
func BuildSignalTags(cls types.Classification, labels types.CognitiveLabels, entities []types.Entity) types.SignalTags {
	domain := cls.PrimaryClass
	bestConf := cls.Confidence
	for _, alt := range cls.Alternates {
		if alt.Confidence > bestConf {
			domain = alt.Class
			bestConf = alt.Confidence
		}
	}

	skills := dedupFold(labels.Skills)

	var tools []string
	for _, tag := range cls.Tags {
		if tool, ok := strings.CutPrefix(tag, "tool:"); ok {
			tools = append(tools, tool)
		}
	}
	for _, e := range entities {
		if e.Tool != "" {
			tools = append(tools, e.Tool)
		}
	}

	return types.SignalTags{
		Urgency:        labels.Urgency,
		Domain:         domain,
		Complexity:     clamp01(cls.Complexity),
		EntityCount:    len(entities),
		RequiredSkills: skills,
		RequiredTools:  dedupFold(tools),
		Intent:         labels.Intent,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dedupFold deduplicates case-insensitively, keeping the first spelling,
// and returns a sorted copy.
func dedupFold(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(s))
	}
	sort.Strings(out)
	return out
}
