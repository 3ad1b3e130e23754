// Command worker runs the Worker Pool (C6): per-queue reserve loops that
// dispatch jobs to Tool Handlers, using the same three-way storage-client
// selection (Local / Azurite shared-key / DefaultAzureCredential) as
// cmd/intakesvc, run as its own dedicated process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jmoiron/sqlx"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/funmagic-ai/magiworld-sub000/internal/artifacts"
	"github.com/funmagic-ai/magiworld-sub000/internal/breaker"
	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/catalog"
	"github.com/funmagic-ai/magiworld-sub000/internal/config"
	"github.com/funmagic-ai/magiworld-sub000/internal/handlers"
	"github.com/funmagic-ai/magiworld-sub000/internal/httpkit"
	"github.com/funmagic-ai/magiworld-sub000/internal/ledger"
	"github.com/funmagic-ai/magiworld-sub000/internal/notify"
	"github.com/funmagic-ai/magiworld-sub000/internal/providers"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
	"github.com/funmagic-ai/magiworld-sub000/internal/worker"

	"github.com/redis/go-redis/v9"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker pool",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Get()
	logger := slog.Default()

	var (
		store        taskstore.Store
		broker       queue.Broker
		artifactsOut artifacts.Store
		taskLedger   ledger.Ledger
	)

	switch {
	case cfg.Local:
		store = taskstore.NewMemoryStore()
		broker = queue.NewMemoryBroker()
		artifactsOut = artifacts.NewMemoryStore(cfg.Env)
		taskLedger = ledger.NewMemoryLedger()
	case cfg.AzuriteAccount != "":
		blobCred, err := azblob.NewSharedKeyCredential(cfg.AzuriteAccount, cfg.AzuriteKey)
		if err != nil {
			return fmt.Errorf("worker: azurite blob credential: %w", err)
		}
		blobClient, err := azblob.NewClientWithSharedKeyCredential(cfg.AzureStorageBlobURL, blobCred, nil)
		if err != nil {
			return fmt.Errorf("worker: azurite blob client: %w", err)
		}
		artifactsOut = artifacts.NewBlobStore(blobClient, cfg.Env)
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("worker: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		taskLedger = ledger.NewPostgresLedger(db, logger)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, nil, logger)
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return fmt.Errorf("worker: default azure credential: %w", err)
		}
		blobClient, err := azblob.NewClient(cfg.AzureStorageBlobURL, cred, nil)
		if err != nil {
			return fmt.Errorf("worker: azure blob client: %w", err)
		}
		artifactsOut = artifacts.NewBlobStore(blobClient, cfg.Env)
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("worker: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		taskLedger = ledger.NewPostgresLedger(db, logger)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, cred, logger)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	progressBus := bus.NewRedisBus(rdb)

	cat, err := catalog.Load(cfg.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("worker: load catalog: %w", err)
	}

	providerRegistry := providers.NewFromConfig(cfg, cfg.QueuePrefix)
	breakerRegistry := breaker.NewRegistry()
	clients, err := buildProviderClients(ctx, cfg)
	if err != nil {
		return fmt.Errorf("worker: build provider clients: %w", err)
	}
	handlerRegistry := handlers.NewDefaultRegistry(clients, breakerRegistry)

	cat.CheckRegisteredHandlers(handlerRegistry.Slugs())

	shutdownCtx := httpkit.NewShutdownCtx(0)
	pool := &worker.Pool{
		Store:       store,
		Broker:      broker,
		Bus:         progressBus,
		Handlers:    handlerRegistry,
		Providers:   providerRegistry,
		Artifacts:   artifactsOut,
		Ledger:      taskLedger,
		Notifier:    notify.NewSlackNotifier(cfg.SlackWebhookURL),
		QueueNames:  cfg.QueueNames,
		Prefix:      cfg.QueuePrefix,
		Concurrency: cfg.WorkerConcurrency,
		Shutdown:    shutdownCtx,
		Logger:      logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("worker: shutdown signal received, draining in-flight jobs")
		shutdownCtx.BeginShutdown(context.Canceled)
		// Reserve loops stop at once; in-flight handlers keep their context
		// until the shutdown timeout runs out.
		time.AfterFunc(cfg.WorkerShutdownTimeout, cancel)
	}()

	logger.Info("worker: starting", slog.Any("queues", cfg.QueueNames), slog.Int("concurrency", cfg.WorkerConcurrency))
	return pool.Run(ctx)
}

// buildProviderClients constructs real SDK adapters for every provider a
// worker process may call; all three are built regardless of which tools the
// catalog lists. Missing API keys
// are tolerated here: a handler only fails at invocation time via
// Providers.GetCredentials, so credential resolution stays lazy.
func buildProviderClients(ctx context.Context, cfg *config.Config) (handlers.ProviderClients, error) {
	anthropicKey := cfg.UserAnthropicKey
	if cfg.QueuePrefix == "admin" {
		anthropicKey = cfg.AdminAnthropicKey
	}
	openAIKey := cfg.UserOpenAIKey
	if cfg.QueuePrefix == "admin" {
		openAIKey = cfg.AdminOpenAIKey
	}

	anthropicClient := anthropicsdk.NewClient(option.WithAPIKey(anthropicKey))
	openAIClient := openaisdk.NewClient(openaioption.WithAPIKey(openAIKey))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AdminAWSRegion))
	if err != nil {
		return handlers.ProviderClients{}, fmt.Errorf("load aws config: %w", err)
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)

	return handlers.ProviderClients{
		Anthropic: &anthropicClient.Messages,
		OpenAI:    handlers.NewOpenAIImagesAdapter(&openAIClient.Images),
		Bedrock:   bedrockClient,
	}, nil
}
