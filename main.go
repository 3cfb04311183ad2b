package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"chatroute/bridge"
	"chatroute/client"
	"chatroute/config"
	"chatroute/discovery"
	"chatroute/dispatch"
	"chatroute/models"
	"chatroute/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("▶ ")
		fmt.Printf("%-16s %s\n", label+":", value)
	}
	line("Account ID", cfg.AccountID)
	line("Display Name", cfg.DisplayName)
	line("Config File", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	line("Files", cfg.FilesDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("database close failed", "error", err)
		}
	}()
	line("Database File", dbPath)
	if n, err := store.AbandonOpenTransfers("client restarted"); err != nil {
		logger.Warn("abandoning stale transfers failed", "error", err)
	} else if n > 0 {
		logger.Info("abandoned stale transfers", "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := discovery.NewTracker(logger)
	if cfg.Discovery.Enabled {
		stopDiscovery, err := startDiscovery(ctx, cfg, tracker, logger)
		if err != nil {
			logger.Warn("discovery startup failed", "error", err)
		} else {
			defer stopDiscovery()
			line("Discovery", cfg.Discovery.Service)
		}
	}

	queue := dispatch.New(consoleView{logger: logger.With("component", "view")}, logger)

	var engine client.Engine = offlineEngine{}
	if cfg.Broker.Enabled() {
		session, err := bridge.NewSession(ctx, cfg.Broker.URL, cfg.Broker.Exchange, logger)
		if err != nil {
			log.Fatalf("startup failed while connecting to broker: %v", err)
		}
		defer session.Close()
		publisher, err := bridge.NewPublisher(session, cfg.AccountID, logger)
		if err != nil {
			log.Fatalf("startup failed while preparing publisher: %v", err)
		}
		engine = publisher
		line("Broker", cfg.Broker.Exchange+" / "+cfg.Broker.EventQueue)
	} else {
		line("Broker", "disabled")
	}

	cl, err := client.New(client.Options{
		AccountID:          cfg.AccountID,
		Engine:             engine,
		Poster:             queue,
		Journal:            store,
		Presence:           tracker,
		FilesDir:           cfg.FilesDir,
		AutoAcceptMaxBytes: cfg.AutoAcceptMaxBytes,
		HistoryLimit:       cfg.HistoryLimit,
		Logger:             logger,
	})
	if err != nil {
		log.Fatalf("startup failed while creating client: %v", err)
	}

	go drainErrors(ctx, cl.Errors(), logger)

	if cfg.Broker.Enabled() {
		go runConsumer(ctx, cfg.Broker, eventHandler(cl), logger)
	}

	go runCommands(ctx, os.Stdin, cl, logger)

	go func() {
		<-ctx.Done()
		fmt.Println("Status:          shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		cl.Stop(shutdownCtx)
		queue.Close()
	}()

	fmt.Println("Status:          running (type help for commands, Ctrl+C to stop)")
	if err := queue.Run(context.Background()); err != nil {
		logger.Error("view loop stopped", "error", err)
	}
}

func startDiscovery(ctx context.Context, cfg *config.ClientConfig, tracker *discovery.Tracker, logger *slog.Logger) (func(), error) {
	dcfg := discovery.Config{
		Service:       cfg.Discovery.Service,
		SelfAccountID: cfg.AccountID,
		DisplayName:   cfg.DisplayName,
		Port:          cfg.Discovery.Port,
		Network:       models.NetworkStandard,
	}

	announcer, err := discovery.Announce(dcfg)
	if err != nil {
		return nil, fmt.Errorf("announce: %w", err)
	}
	scanner, err := discovery.NewScanner(dcfg)
	if err != nil {
		announcer.Stop()
		return nil, fmt.Errorf("scanner: %w", err)
	}
	scanner.Start()
	go tracker.Follow(ctx, scanner.Updates())
	logger.Info("discovery running", "service", dcfg.Service)

	return func() {
		scanner.Stop()
		announcer.Stop()
	}, nil
}

// eventHandler adapts the client to broker deliveries. Malformed envelopes
// are dropped, handling interrupted by shutdown is requeued, and every other
// failure has already been reported by the client.
func eventHandler(cl *client.Client) bridge.Handler {
	return func(ctx context.Context, body []byte) error {
		err := cl.HandleEnvelope(ctx, body)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, client.ErrMalformedEvent):
			return bridge.Permanent(err)
		case ctx.Err() != nil:
			return err
		default:
			return nil
		}
	}
}

func runConsumer(ctx context.Context, cfg config.BrokerConfig, handler bridge.Handler, logger *slog.Logger) {
	for ctx.Err() == nil {
		conn, err := bridge.DialWithRetry(ctx, cfg.URL, logger)
		if err != nil {
			return
		}
		consumer, err := bridge.NewConsumer(conn, bridge.ConsumerConfig{
			Exchange: cfg.Exchange,
			Queue:    cfg.EventQueue,
			Workers:  cfg.Workers,
			Prefetch: cfg.Prefetch,
		}, handler, logger)
		if err != nil {
			logger.Error("consumer setup failed", "error", err)
			conn.Close()
			return
		}
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("consumer stopped, reconnecting", "error", err)
		}
		conn.Close()
	}
}

func drainErrors(ctx context.Context, errs <-chan error, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			logger.Debug("client error", "error", err)
		}
	}
}
