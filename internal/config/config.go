// Package config loads the service's environment-driven configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-driven knob for the task execution substrate.
type Config struct {
	// Queue / worker
	QueuePrefix           string        `env:"QUEUE_PREFIX" envDefault:""`
	WorkerConcurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
	WorkerShutdownTimeout time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT_MS" envDefault:"30000ms"`
	QueueNames            []string      `env:"QUEUE_NAMES" envSeparator:"," envDefault:"default"`

	// Azure Storage (queue + blob)
	AzureStorageQueueURL string `env:"AZURE_STORAGE_QUEUE_URL"`
	AzureStorageBlobURL  string `env:"AZURE_STORAGE_BLOB_URL"`
	AzuriteAccount       string `env:"AZURITE_ACCOUNT"`
	AzuriteKey           string `env:"AZURITE_KEY"`

	// Postgres
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Redis (progress bus)
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// Signing
	SigningKeyID  string `env:"SIGNING_KEY_ID"`
	SigningKeyHex string `env:"SIGNING_KEY_HEX"`

	// Notifications
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`

	// Tool catalog
	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.json"`

	// Provider credentials — user-facing pool
	UserOpenAIKey    string `env:"USER_OPENAI_API_KEY"`
	UserAnthropicKey string `env:"USER_ANTHROPIC_API_KEY"`

	// Provider credentials — admin-facing pool
	AdminOpenAIKey    string `env:"ADMIN_OPENAI_API_KEY"`
	AdminAnthropicKey string `env:"ADMIN_ANTHROPIC_API_KEY"`
	AdminAWSRegion    string `env:"ADMIN_AWS_REGION" envDefault:"us-east-1"`

	Env   string `env:"ENV" envDefault:"dev"`
	Local bool   `env:"LOCAL"`
}

func (c *Config) validate() error {
	if c.AzureStorageBlobURL == "" && !c.Local {
		return errors.New("no Azure Storage Blob URL specified")
	}
	if c.AzureStorageQueueURL == "" && !c.Local {
		return errors.New("no Azure Storage Queue URL specified")
	}
	if c.AzuriteAccount != "" && c.AzuriteKey == "" {
		return errors.New("no key specified for Azurite account")
	}
	if c.AzuriteAccount == "" && c.AzuriteKey != "" {
		return errors.New("no account specified for Azurite key")
	}
	if c.PostgresDSN == "" && !c.Local {
		return errors.New("no Postgres DSN specified")
	}
	if c.QueuePrefix != "" && c.QueuePrefix != "admin" {
		return fmt.Errorf("unsupported queue prefix %q; must be \"\" or \"admin\"", c.QueuePrefix)
	}
	if c.WorkerConcurrency <= 0 {
		return errors.New("WORKER_CONCURRENCY must be positive")
	}
	return nil
}

// Get returns the process-wide, memoized Config. It exits the process on
// a parse or validation failure, so misconfiguration is caught at startup.
var Get = sync.OnceValue(func() *Config {
	cfg := &Config{}
	err := env.ParseWithOptions(cfg, env.Options{Prefix: "MAGIWORLD_"})
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
})
