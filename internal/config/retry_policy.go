package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// retryPolicyFile is the YAML shape operators edit. Durations are Go
// duration strings ("30s", "10m").
type retryPolicyFile struct {
	MaxRetries  int    `yaml:"max_retries"`
	BackoffBase string `yaml:"backoff_base"`
	BackoffCap  string `yaml:"backoff_cap"`
}

// LoadRetryPolicy reads the retry policy file, falling back to the
// built-in defaults when no path is configured. Partial files override
// only the fields they set.
func LoadRetryPolicy(path string) (domain.RetryPolicy, error) {
	policy := domain.DefaultRetryPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RetryPolicy{}, fmt.Errorf("read retry policy: %w", err)
	}

	var file retryPolicyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return domain.RetryPolicy{}, fmt.Errorf("parse retry policy: %w", err)
	}

	if file.MaxRetries > 0 {
		policy.MaxRetries = file.MaxRetries
	}
	if file.BackoffBase != "" {
		base, err := time.ParseDuration(file.BackoffBase)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("parse backoff_base: %w", err)
		}
		policy.BackoffBase = base
	}
	if file.BackoffCap != "" {
		ceiling, err := time.ParseDuration(file.BackoffCap)
		if err != nil {
			return domain.RetryPolicy{}, fmt.Errorf("parse backoff_cap: %w", err)
		}
		policy.BackoffCap = ceiling
	}
	if policy.BackoffCap < policy.BackoffBase {
		return domain.RetryPolicy{}, fmt.Errorf("retry policy: backoff_cap %s below backoff_base %s",
			policy.BackoffCap, policy.BackoffBase)
	}
	return policy, nil
}
