package providers

import (
	"context"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/config"
)

// NewFromConfig builds the Registry for prefix ("" or "admin") from static
// environment-sourced credentials. Real deployments MAY replace reload with
// a lookup against an encrypted-credential store; the static map is
// sufficient for the provider slugs this spec names (openai, anthropic,
// bedrock) and keeps worker startup independent of any extra service.
func NewFromConfig(cfg *config.Config, prefix string) *Registry {
	return NewRegistry(10*time.Minute, func(_ context.Context) (map[string]Entry, error) {
		if prefix == "admin" {
			return map[string]Entry{
				"openai": {Slug: "openai", IsActive: cfg.AdminOpenAIKey != "", Credentials: Credentials{APIKey: cfg.AdminOpenAIKey}},
				"anthropic": {Slug: "anthropic", IsActive: cfg.AdminAnthropicKey != "", Credentials: Credentials{APIKey: cfg.AdminAnthropicKey}},
				"bedrock": {Slug: "bedrock", IsActive: true, Credentials: Credentials{Region: cfg.AdminAWSRegion}},
			}, nil
		}
		return map[string]Entry{
			"openai":    {Slug: "openai", IsActive: cfg.UserOpenAIKey != "", Credentials: Credentials{APIKey: cfg.UserOpenAIKey}},
			"anthropic": {Slug: "anthropic", IsActive: cfg.UserAnthropicKey != "", Credentials: Credentials{APIKey: cfg.UserAnthropicKey}},
		}, nil
	})
}
