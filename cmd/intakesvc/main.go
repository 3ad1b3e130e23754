// Command intakesvc runs the Intake Service + SSE Gateway HTTP surface
// (components C5/C9). Storage clients are selected one of three ways --
// in-memory for local dev, Azurite shared-key for local Azure emulation, or
// DefaultAzureCredential against real Azure storage -- and wired into
// httpkit's policy chain and task-oriented routes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/funmagic-ai/magiworld-sub000/internal/artifacts"
	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/catalog"
	"github.com/funmagic-ai/magiworld-sub000/internal/config"
	"github.com/funmagic-ai/magiworld-sub000/internal/httpkit"
	"github.com/funmagic-ai/magiworld-sub000/internal/intake"
	"github.com/funmagic-ai/magiworld-sub000/internal/queue"
	"github.com/funmagic-ai/magiworld-sub000/internal/sse"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

var rootCmd = &cobra.Command{
	Use:   "intakesvc",
	Short: "Serve the task intake HTTP API and SSE progress gateway",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Get()
	logger := slog.Default()

	var (
		store  taskstore.Store
		broker queue.Broker
		store2 artifacts.Store
	)

	switch {
	case cfg.Local:
		store = taskstore.NewMemoryStore()
		broker = queue.NewMemoryBroker()
		store2 = artifacts.NewMemoryStore(cfg.Env)
	case cfg.AzuriteAccount != "":
		blobCred, err := azblob.NewSharedKeyCredential(cfg.AzuriteAccount, cfg.AzuriteKey)
		if err != nil {
			return fmt.Errorf("intakesvc: azurite blob credential: %w", err)
		}
		blobClient, err := azblob.NewClientWithSharedKeyCredential(cfg.AzureStorageBlobURL, blobCred, nil)
		if err != nil {
			return fmt.Errorf("intakesvc: azurite blob client: %w", err)
		}
		store2 = artifacts.NewBlobStore(blobClient, cfg.Env)
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("intakesvc: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, nil, logger)
	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return fmt.Errorf("intakesvc: default azure credential: %w", err)
		}
		blobClient, err := azblob.NewClient(cfg.AzureStorageBlobURL, cred, nil)
		if err != nil {
			return fmt.Errorf("intakesvc: azure blob client: %w", err)
		}
		store2 = artifacts.NewBlobStore(blobClient, cfg.Env)
		db, err := sqlx.Connect("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("intakesvc: connect postgres: %w", err)
		}
		store = taskstore.NewPostgresStore(db)
		broker = queue.NewAzureBroker(cfg.AzureStorageQueueURL, cred, logger)
	}
	_ = store2 // reserved for future artifact-serving routes; SSE/intake don't touch the store directly today

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	progressBus := bus.NewRedisBus(rdb)

	cat, err := catalog.Load(cfg.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("intakesvc: load catalog: %w", err)
	}

	ownerKind := taskstore.OwnerWeb
	if cfg.QueuePrefix == "admin" {
		ownerKind = taskstore.OwnerAdmin
	}

	svc := &intake.Service{Store: store, Broker: broker, Catalog: cat, OwnerKind: ownerKind, QueuePrefix: cfg.QueuePrefix}
	gateway := &sse.Gateway{Store: store, Bus: progressBus, Logger: logger}

	shutdownCtx := httpkit.NewShutdownCtx(2 * time.Second)
	handler := httpkit.BuildHandler(httpkit.BuildHandlerConfig{
		Policies: []httpkit.Policy{
			httpkit.NewGracefulShutdownPolicy(shutdownCtx),
			httpkit.NewThrottlingPolicy(200),
			httpkit.NewMetricsPolicy(),
		},
		Routes: intake.Routes(svc, store, gateway),
		Logger: logger,
	})

	port := "8080"
	if cfg.Local {
		port = "0"
	}
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("intakesvc: listen: %w", err)
	}
	if _, actualPort, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		port = actualPort
	}
	logger.Info("intakesvc: listening", slog.String("port", port))

	server := &http.Server{Handler: handler}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdownCtx.BeginShutdown(context.Canceled)
		shutdownCtx.Wait()
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("intakesvc: serve: %w", err)
	}
	return nil
}
