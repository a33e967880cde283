package mapping

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// ConfidenceScorer computes a 0-100 match confidence for one mapping
// rule and one source value. Implementations must be deterministic for
// identical inputs unless they delegate to an external model.
type ConfidenceScorer interface {
	Score(ctx context.Context, rule domain.MappingRule, sourceValue string) (int, error)
}

// ExactScorer: binary identity match against the configured source field.
type ExactScorer struct{}

func (ExactScorer) Score(_ context.Context, rule domain.MappingRule, sourceValue string) (int, error) {
	if sourceValue == rule.SourceField {
		return 100, nil
	}
	return 0, nil
}

// FuzzyScorer scores by normalized Levenshtein distance between the
// source value and the configured source field.
type FuzzyScorer struct{}

func (FuzzyScorer) Score(_ context.Context, rule domain.MappingRule, sourceValue string) (int, error) {
	a := strings.ToLower(strings.TrimSpace(sourceValue))
	b := strings.ToLower(strings.TrimSpace(rule.SourceField))
	if a == "" && b == "" {
		return 100, nil
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0, nil
	}
	distance := levenshtein([]rune(a), []rune(b))
	return 100 * (longest - distance) / longest, nil
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// RegexScorer treats the rule's source field as a pattern and scores by
// how much of the value the match covers, with a bonus for capture
// groups that bind.
type RegexScorer struct{}

func (RegexScorer) Score(_ context.Context, rule domain.MappingRule, sourceValue string) (int, error) {
	pattern := strings.TrimSpace(rule.SourceField)
	if pattern == "" {
		return 0, domain.WrapError(domain.ErrRuleConfig, "regex mapping",
			fmt.Errorf("rule %s has empty pattern", rule.ID))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, domain.WrapError(domain.ErrRuleConfig, "regex mapping",
			fmt.Errorf("rule %s pattern: %w", rule.ID, err))
	}

	match := re.FindStringSubmatch(sourceValue)
	if match == nil || len(sourceValue) == 0 {
		return 0, nil
	}

	coverage := 70 * len(match[0]) / len(sourceValue)
	captureBonus := 0
	if groups := len(match) - 1; groups > 0 {
		bound := 0
		for _, g := range match[1:] {
			if g != "" {
				bound++
			}
		}
		captureBonus = 30 * bound / groups
	} else if match[0] != "" {
		captureBonus = 30
	}
	return coverage + captureBonus, nil
}

// ModelMatcher is the capability interface an external model-assisted
// scorer implements.
type ModelMatcher interface {
	MatchConfidence(ctx context.Context, sourceField, targetField, sourceValue string) (int, error)
}

// ModelScorer delegates the confidence to an external model behind the
// ModelMatcher capability.
type ModelScorer struct {
	Matcher ModelMatcher
}

func (s ModelScorer) Score(ctx context.Context, rule domain.MappingRule, sourceValue string) (int, error) {
	if s.Matcher == nil {
		return 0, domain.WrapError(domain.ErrRuleConfig, "model mapping",
			fmt.Errorf("rule %s requires a model matcher", rule.ID))
	}
	confidence, err := s.Matcher.MatchConfidence(ctx, rule.SourceField, rule.TargetField, sourceValue)
	if err != nil {
		return 0, fmt.Errorf("model match confidence: %w", err)
	}
	return confidence, nil
}
