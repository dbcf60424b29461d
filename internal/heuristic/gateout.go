package heuristic

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kea/internal/types"
)

// Grounder grades artifact claims by token overlap against the evidence
// list. Greetings and opinion statements carry no factual claim and are
// auto-grounded.
type Grounder struct{}

var opinionRE = regexp.MustCompile(`(?i)^(i think|i believe|in my view|hello|hi|hey|how can i help|thanks|you're welcome)`)

const (
	groundedOverlap = 0.5
	inferredOverlap = 0.2
)

// Verify implements types.GroundingVerifier.
func (Grounder) Verify(ctx context.Context, artifact string, evidence []string, _ types.IdentityContext) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}

	claims := splitClaims(artifact)
	if len(claims) == 0 {
		return types.Ok(types.SchemaGrounding, types.GroundingReport{
			Score:   0,
			Verdict: "no claims",
		})
	}

	evidenceTokens := make(map[string]struct{})
	for _, e := range evidence {
		for tok := range tokenSet(e) {
			evidenceTokens[tok] = struct{}{}
		}
	}

	graded := make([]types.GradedClaim, len(claims))
	score := 0.0
	for i, claim := range claims {
		grade := gradeClaim(claim, evidenceTokens)
		graded[i] = types.GradedClaim{Claim: claim, Grade: grade}
		switch grade {
		case types.ClaimGrounded:
			score += 1.0
		case types.ClaimInferred:
			score += 0.5
		}
	}
	score /= float64(len(claims))

	verdict := "grounded"
	switch {
	case score < 0.3:
		verdict = "fabrication risk"
	case score < 0.7:
		verdict = "partially grounded"
	}

	return types.Ok(types.SchemaGrounding, types.GroundingReport{
		Claims:  graded,
		Score:   score,
		Verdict: verdict,
	})
}

func splitClaims(artifact string) []string {
	var claims []string
	for _, line := range strings.Split(artifact, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			claims = append(claims, line)
		}
	}
	return claims
}

func gradeClaim(claim string, evidenceTokens map[string]struct{}) types.ClaimGrade {
	if opinionRE.MatchString(claim) {
		return types.ClaimGrounded
	}
	tokens := tokenSet(claim)
	if len(tokens) == 0 {
		return types.ClaimGrounded
	}
	hits := 0
	for tok := range tokens {
		if _, ok := evidenceTokens[tok]; ok {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(tokens))
	switch {
	case overlap >= groundedOverlap:
		return types.ClaimGrounded
	case overlap >= inferredOverlap:
		return types.ClaimInferred
	default:
		return types.ClaimFabricated
	}
}

// Calibrator corrects stated confidence with the domain's historical
// stated-vs-observed gap and blends in the grounding score.
type Calibrator struct{}

const confidenceFlagMargin = 0.15

// Calibrate implements types.ConfidenceCalibrator.
func (Calibrator) Calibrate(ctx context.Context, stated, grounding float64, history []types.CalibrationSample, domain string) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}

	correction := 0.0
	if len(history) > 0 {
		sum := 0.0
		for _, s := range history {
			sum += s.Observed - s.Stated
		}
		correction = sum / float64(len(history))
	}

	calibrated := clamp01(0.6*clamp01(stated+correction) + 0.4*grounding)
	return types.Ok(types.SchemaCalibrated, types.CalibratedConfidence{
		Stated:         stated,
		Calibrated:     calibrated,
		Correction:     correction,
		Overconfident:  stated > calibrated+confidenceFlagMargin,
		Underconfident: stated < calibrated-confidenceFlagMargin,
		Domain:         domain,
	})
}

// Filter is the built-in quality gate: the grounding score must clear the
// quality bar and calibrated confidence must reach three quarters of it.
type Filter struct {
	// DefaultBar applies when the identity does not override it.
	DefaultBar float64
}

// Filter implements types.OutputFilter.
func (f Filter) Filter(ctx context.Context, out types.ToolOutput, report types.GroundingReport, conf types.CalibratedConfidence, qualityBar float64) types.Envelope {
	if err := ctx.Err(); err != nil {
		return types.Fail(types.ErrKindCancelled, err.Error())
	}
	bar := qualityBar
	if bar <= 0 {
		bar = f.DefaultBar
	}
	if bar <= 0 {
		bar = 0.5
	}

	var failed []string
	if strings.TrimSpace(out.Content) == "" {
		failed = append(failed, "content")
	}
	if report.Score < bar {
		failed = append(failed, "grounding")
	}
	if conf.Calibrated < bar*0.75 {
		failed = append(failed, "confidence")
	}

	if len(failed) > 0 {
		return types.Ok(types.SchemaRejected, types.RejectedOutput{
			FailedDimensions: failed,
			RetryGuidance:    retryGuidance(failed, bar, report),
		})
	}

	return types.Ok(types.SchemaFiltered, types.FilteredOutput{
		Content: out.Content,
		Quality: types.QualityMetadata{
			GroundingScore: report.Score,
			Calibrated:     conf.Calibrated,
			QualityBar:     bar,
			Dimensions: map[string]float64{
				"grounding":  report.Score,
				"confidence": conf.Calibrated,
			},
		},
	})
}

func retryGuidance(failed []string, bar float64, report types.GroundingReport) string {
	for _, dim := range failed {
		switch dim {
		case "grounding":
			return fmt.Sprintf("ground claims in the provided evidence (score %.2f, bar %.2f)", report.Score, bar)
		case "content":
			return "produce a non-empty answer for the objective"
		}
	}
	return "raise answer confidence or narrow the claim"
}
