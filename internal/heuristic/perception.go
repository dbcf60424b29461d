// Package heuristic provides deterministic built-in implementations of
// every collaborator contract the observer composes. They are the
// dependency-free fallback tier: regex and keyword driven, no model calls,
// stable outputs for a fixed input. The CLI wires them by default and the
// observer tests use them as fixtures.
package heuristic

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"kea/internal/types"
)

// Ingestor decodes text-like payloads. Binary modalities are unsupported
// in the built-in tier.
type Ingestor struct{}

// Ingest implements types.ModalityIngestor.
func (Ingestor) Ingest(ctx context.Context, in *types.RawInput) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	switch in.Modality {
	case types.ModalityText, types.ModalityDocument:
	default:
		return types.Failf(types.ErrKindUnsupportedModality,
			"built-in ingest cannot decode %s payloads", in.Modality)
	}
	text := strings.TrimSpace(in.Text())
	if text == "" {
		return types.Fail(types.ErrKindDecodeFailed, "empty payload")
	}
	return types.Ok(types.SchemaModality, types.ModalityOutput{
		Modality: in.Modality,
		Text:     text,
		Meta:     in.Meta,
	})
}

// domainKeywords maps classifier domains to their trigger words.
var domainKeywords = map[string][]string{
	"code": {"code", "function", "compile", "bug", "test", "refactor", "deploy"},
	"data": {"sql", "query", "database", "table", "report", "metric", "csv"},
	"ops":  {"server", "outage", "incident", "restart", "deploy", "alert", "disk"},
}

// toolWords are mentions that imply a tool requirement.
var toolWords = []string{"sql", "http", "shell", "browser", "email", "search"}

// Classifier is the keyword-table classifier.
type Classifier struct{}

// Classify implements types.Classifier.
func (Classifier) Classify(ctx context.Context, out types.ModalityOutput) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	text := strings.ToLower(out.Text)
	words := strings.Fields(text)

	best, bestHits := "general", 0
	var alternates []types.ClassAlternate
	// Visit domains in sorted order so ties resolve the same way every call.
	domains := make([]string, 0, len(domainKeywords))
	for domain := range domainKeywords {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	for _, domain := range domains {
		keys := domainKeywords[domain]
		hits := 0
		for _, k := range keys {
			if strings.Contains(text, k) {
				hits++
			}
		}
		if hits > bestHits {
			if bestHits > 0 {
				alternates = append(alternates, types.ClassAlternate{Class: best, Confidence: confFor(bestHits)})
			}
			best, bestHits = domain, hits
		} else if hits > 0 {
			alternates = append(alternates, types.ClassAlternate{Class: domain, Confidence: confFor(hits)})
		}
	}

	var tags []string
	for _, tool := range toolWords {
		if containsWord(words, tool) {
			tags = append(tags, "tool:"+tool)
		}
	}

	return types.Ok(types.SchemaClassify, types.Classification{
		PrimaryClass: best,
		Confidence:   confFor(bestHits),
		Complexity:   structuralComplexity(out.Text),
		Tags:         tags,
		Alternates:   alternates,
	})
}

func confFor(hits int) float64 {
	switch {
	case hits >= 3:
		return 0.9
	case hits == 2:
		return 0.75
	case hits == 1:
		return 0.6
	}
	return 0.5
}

// structuralComplexity estimates processing demand from surface structure:
// length, clause joins, and question density.
func structuralComplexity(text string) float64 {
	words := strings.Fields(text)
	score := float64(len(words)) / 120.0
	lower := strings.ToLower(text)
	for _, conj := range []string{" and ", " then ", " after ", " while ", ";"} {
		score += 0.08 * float64(strings.Count(lower, conj))
	}
	score += 0.05 * float64(strings.Count(text, "?"))
	score += 0.10 * float64(strings.Count(text, "\n"))
	if score > 1 {
		score = 1
	}
	if score < 0.02 {
		score = 0.02
	}
	return score
}

var (
	greetingRE = regexp.MustCompile(`(?i)^(hi|hello|hey|good (morning|afternoon|evening)|yo)\b[.!]*`)
	queryRE    = regexp.MustCompile(`(?i)^(what|who|when|where|why|how|which|is|are|can|could|does|do)\b`)
	verbRE     = regexp.MustCompile(`(?i)^(run|write|build|fix|create|delete|update|deploy|restart|generate|analyze|summarize|list|check|send|respond|migrate|investigate)\b`)
)

var urgencyWords = map[types.Urgency][]string{
	types.UrgencyCritical: {"emergency", "critical", "outage", "immediately", "severity 1", "sev1", "data loss"},
	types.UrgencyHigh:     {"urgent", "asap", "right away", "production", "now"},
}

var positiveWords = []string{"thanks", "great", "good", "please", "love"}
var negativeWords = []string{"broken", "fail", "bad", "angry", "terrible", "wrong"}

// Scorer runs the primitive intent, sentiment, and urgency scorers.
type Scorer struct{}

// Score implements types.CognitiveScorer.
func (Scorer) Score(ctx context.Context, text string, _ map[string]string) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	lower := strings.ToLower(text)

	urgency := types.UrgencyNormal
	for _, w := range urgencyWords[types.UrgencyCritical] {
		if strings.Contains(lower, w) {
			urgency = types.UrgencyCritical
		}
	}
	if urgency == types.UrgencyNormal {
		for _, w := range urgencyWords[types.UrgencyHigh] {
			if strings.Contains(lower, w) {
				urgency = types.UrgencyHigh
			}
		}
	}

	intent := types.IntentReport
	switch {
	case greetingRE.MatchString(text):
		intent = types.IntentGreeting
		if urgency == types.UrgencyNormal {
			urgency = types.UrgencyLow
		}
	case queryRE.MatchString(text) || strings.HasSuffix(strings.TrimSpace(text), "?"):
		intent = types.IntentQuery
	case verbRE.MatchString(text):
		intent = types.IntentInstruction
	}

	sentiment := 0.0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			sentiment += 0.25
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			sentiment -= 0.25
		}
	}
	if sentiment > 1 {
		sentiment = 1
	}
	if sentiment < -1 {
		sentiment = -1
	}

	var skills []string
	if intent == types.IntentInstruction {
		skills = append(skills, "execution")
	}
	if strings.Contains(lower, "analyze") || strings.Contains(lower, "investigate") {
		skills = append(skills, "analysis")
	}
	if strings.Contains(lower, "summarize") || strings.Contains(lower, "write") {
		skills = append(skills, "writing")
	}

	return types.Ok(types.SchemaLabels, types.CognitiveLabels{
		Intent:    intent,
		Sentiment: sentiment,
		Urgency:   urgency,
		Skills:    skills,
	})
}

// Extractor pulls named and tool entities out of text.
type Extractor struct{}

var nameRE = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// Extract implements types.EntityExtractor.
func (Extractor) Extract(ctx context.Context, text string) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	var entities []types.Entity
	seen := map[string]struct{}{}

	words := strings.Fields(strings.ToLower(text))
	for _, tool := range toolWords {
		if containsWord(words, tool) {
			if _, dup := seen["tool:"+tool]; !dup {
				seen["tool:"+tool] = struct{}{}
				entities = append(entities, types.Entity{Kind: "tool", Value: tool, Tool: tool})
			}
		}
	}

	// Skip the leading word: sentence case is not a name signal.
	rest := text
	if idx := strings.IndexAny(text, " \t\n"); idx > 0 {
		rest = text[idx+1:]
	}
	for _, m := range nameRE.FindAllString(rest, 8) {
		if _, dup := seen["name:"+m]; dup {
			continue
		}
		seen["name:"+m] = struct{}{}
		entities = append(entities, types.Entity{Kind: "name", Value: m})
	}

	return types.Ok(types.SchemaEntities, entities)
}

func containsWord(words []string, want string) bool {
	for _, w := range words {
		if strings.Trim(w, ".,;:!?()\"'") == want {
			return true
		}
	}
	return false
}
