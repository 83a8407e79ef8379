package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"accountbook/internal/apiclient"
	"accountbook/internal/cli"
	"accountbook/internal/ledger"
	"accountbook/internal/log"
	"accountbook/internal/services"
	"accountbook/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Load .env file for local development (ignore errors in production)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitFailure
	}
	logger := cli.SetupLogger(cfg.LogLevel)

	persistence, closePersistence, err := cli.OpenPersistence(logger, cfg)
	if err != nil {
		logger.Error("Failed to open session storage", log.FieldError, err, "backend", cfg.SessionBackend)
		return cli.ExitFailure
	}
	defer func() {
		if err := closePersistence(); err != nil {
			logger.Warn("Failed to close session storage", log.FieldError, err)
		}
	}()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := session.Open(parent, persistence, logger)
	if err != nil {
		logger.Error("Failed to restore session", log.FieldError, err)
		return cli.ExitFailure
	}

	client := apiclient.New(apiclient.Config{
		BaseURL:     cfg.APIBaseURL,
		Timeout:     cfg.APITimeout,
		RefreshPath: cfg.APIRefreshPath,
	}, store, apiclient.WithLogger(logger))

	var (
		events   services.EventPublisher
		consumer cli.EventConsumer
	)
	if amqpClient := cli.InitEvents(logger, cfg); amqpClient != nil {
		defer amqpClient.Close()
		events, consumer = amqpClient, amqpClient
	}

	svc := services.NewLedgerService(
		ledger.NewAuthAPI(client, logger),
		ledger.NewTransactionAPI(client, logger),
		store, events, logger, cfg.PageSize,
	)
	client.Notifier().Register(svc.HandleSessionExpired)

	app := cli.NewApp(svc, store, consumer, os.Stdout, os.Stderr, logger)

	ctx, done := cli.GracefulShutdown(parent, logger, 5*time.Second, nil)
	code := app.Run(ctx, args)
	cancel()
	cli.WaitForShutdown(ctx, done)
	return code
}
