// Package mapping resolves extracted source fields to target fields
// with confidence scoring and value transforms. Scoring strategies are
// polymorphic over the ConfidenceScorer capability so the engine never
// hard-codes one algorithm.
package mapping

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

type Engine struct {
	scorers map[domain.MappingType]ConfidenceScorer
}

// NewEngine wires the deterministic scorers and, when a matcher is
// provided, the model-assisted one.
func NewEngine(matcher ModelMatcher) *Engine {
	scorers := map[domain.MappingType]ConfidenceScorer{
		domain.MappingExact: ExactScorer{},
		domain.MappingFuzzy: FuzzyScorer{},
		domain.MappingRegex: RegexScorer{},
	}
	if matcher != nil {
		scorers[domain.MappingModel] = ModelScorer{Matcher: matcher}
	}
	return &Engine{scorers: scorers}
}

// Map scores the source value against the rule and applies the rule's
// transforms. Transforms run after scoring and over the raw value, so a
// transform never changes the confidence that gated the match.
func (e *Engine) Map(ctx context.Context, rule domain.MappingRule, sourceValue string) (domain.MappingResult, error) {
	scorer, ok := e.scorers[rule.MappingType]
	if !ok {
		return domain.MappingResult{}, domain.WrapError(domain.ErrRuleConfig, "map field",
			fmt.Errorf("no scorer for mapping type %q", rule.MappingType))
	}

	confidence, err := scorer.Score(ctx, rule, sourceValue)
	if err != nil {
		return domain.MappingResult{}, err
	}
	confidence = clampConfidence(confidence)

	mapped, applied := applyTransforms(sourceValue, rule.Transforms)
	return domain.MappingResult{
		MappedValue:       mapped,
		Confidence:        confidence,
		TransformsApplied: applied,
	}, nil
}

func clampConfidence(confidence int) int {
	if confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return confidence
}

func applyTransforms(value string, steps []domain.TransformStep) (string, int) {
	applied := 0
	for _, step := range steps {
		next, ok := applyTransform(value, step)
		if !ok {
			continue
		}
		value = next
		applied++
	}
	return value, applied
}

func applyTransform(value string, step domain.TransformStep) (string, bool) {
	switch step.Type {
	case domain.TransformUppercase:
		return strings.ToUpper(value), true
	case domain.TransformLowercase:
		return strings.ToLower(value), true
	case domain.TransformTrim:
		return strings.TrimSpace(value), true
	case domain.TransformFormat:
		if step.Value == "" {
			return value, false
		}
		return applyFormatMask(value, step.Value), true
	case domain.TransformCustom:
		// Custom transforms are resolved upstream to one of the builtin
		// steps; an unresolved one is skipped.
		return value, false
	default:
		return value, false
	}
}

// applyFormatMask fills the mask's X placeholders with the value's
// digits, keeping the mask's literal characters.
func applyFormatMask(value, mask string) string {
	digits := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}

	var out strings.Builder
	di := 0
	for _, r := range mask {
		if r == 'X' || r == 'x' {
			if di < len(digits) {
				out.WriteRune(digits[di])
				di++
			} else {
				out.WriteRune('0')
			}
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
