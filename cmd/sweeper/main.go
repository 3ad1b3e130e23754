// Command sweeper runs the Sweeper (internal/sweep) as its own process;
// cmd/intakesvc does not run one. Storage wiring mirrors
// cmd/intakesvc/cmd/worker's three-way branch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/funmagic-ai/magiworld-sub000/internal/config"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/sweep"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Re-enqueue orphaned pending tasks on an interval",
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
		store  taskstore.Store
		broker queue.Broker
	)

	switch {
	case cfg.Local:
		store = taskstore.NewMemoryStore()
		broker = queue.NewMemoryBroker()
	case cfg.AzuriteAccount != "":
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("sweeper: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, nil, logger)
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return fmt.Errorf("sweeper: default azure credential: %w", err)
		}
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("sweeper: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, cred, logger)
	}

	s := &sweep.Sweeper{
		Store:       store,
		Broker:      broker,
		QueuePrefix: cfg.QueuePrefix,
		QueueName:   "default",
		Logger:      logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("sweeper: shutdown signal received")
		cancel()
	}()

	logger.Info("sweeper: starting", slog.Duration("orphanAge", sweep.DefaultOrphanAge))
	s.Run(ctx)
	return nil
}
