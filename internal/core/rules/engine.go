// Package rules evaluates validation rules against extracted field
// values. Evaluation is a pure function of (rule, value): no I/O, no
// shared state, safe to call concurrently for unrelated documents.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// Evaluate returns the verdict for one rule and one field value.
//
// A broken rule configuration (unsupported type, invalid pattern) is
// reported as an ErrRuleConfig error, never as a verdict: the document
// is not at fault and the caller must disable the rule and alert an
// operator rather than pass or fail the field.
func Evaluate(rule domain.ValidationRule, value string) (domain.Verdict, error) {
	switch rule.ValidationType {
	case domain.ValidationRegex:
		return evaluateRegex(rule, value)
	case domain.ValidationThreshold:
		return evaluateThreshold(rule, value), nil
	case domain.ValidationHumanReview:
		return evaluateHumanReview(rule), nil
	default:
		return domain.Verdict{}, domain.WrapError(domain.ErrRuleConfig, "evaluate rule",
			fmt.Errorf("unsupported validation type %q", rule.ValidationType))
	}
}

func evaluateRegex(rule domain.ValidationRule, value string) (domain.Verdict, error) {
	if strings.TrimSpace(rule.Pattern) == "" {
		return domain.Verdict{}, domain.WrapError(domain.ErrRuleConfig, "evaluate regex rule",
			fmt.Errorf("rule %s has empty pattern", rule.ID))
	}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return domain.Verdict{}, domain.WrapError(domain.ErrRuleConfig, "evaluate regex rule",
			fmt.Errorf("rule %s pattern: %w", rule.ID, err))
	}
	if re.MatchString(value) {
		return domain.Verdict{Passed: true, Message: "pattern matched"}, nil
	}
	return domain.Verdict{
		Passed:  false,
		Message: fmt.Sprintf("value does not match pattern %s", rule.Pattern),
	}, nil
}

func evaluateThreshold(rule domain.ValidationRule, value string) domain.Verdict {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		// Non-numeric input is a verdict failure, not a config error.
		return domain.Verdict{Passed: false, Message: "non-numeric input"}
	}
	if parsed >= rule.Threshold {
		return domain.Verdict{
			Passed:  true,
			Message: fmt.Sprintf("value %v meets threshold %v", parsed, rule.Threshold),
		}
	}
	return domain.Verdict{
		Passed:  false,
		Message: fmt.Sprintf("value %v below threshold %v", parsed, rule.Threshold),
	}
}

func evaluateHumanReview(rule domain.ValidationRule) domain.Verdict {
	if !rule.HumanReviewRequired {
		return domain.Verdict{Passed: true, Message: "human review not required"}
	}
	// Never auto-passes: the rule exists solely to force manual review.
	return domain.Verdict{Passed: false, Message: "human review required"}
}
