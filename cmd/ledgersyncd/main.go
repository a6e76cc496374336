package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledgersync/config"
	"ledgersync/core/balances"
	"ledgersync/core/events"
	"ledgersync/core/registry"
	"ledgersync/core/sync"
	"ledgersync/core/versions"
	"ledgersync/gateway"
	"ledgersync/observability"
	"ledgersync/observability/logging"
	"ledgersync/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgersyncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to ledgersyncd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEDGERSYNC_ENV"))
	log := logging.Setup("ledgersyncd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	emitter := events.Emitter(events.NoopEmitter{})
	versionRegistry := versions.NewRegistry(store)
	tokenMirror := registry.NewMirror(store, emitter, log)
	balanceLedger := balances.NewLedger(store, emitter, log)

	engine, err := sync.NewEngine(sync.Config{
		Versions: versionRegistry,
		Registry: tokenMirror,
		Balances: balanceLedger,
		Utxos:    store,
		Cursor:   store,
		Emitter:  emitter,
		Log:      log,
		Metrics:  observability.Sync(),
	})
	if err != nil {
		return fmt.Errorf("build sync engine: %w", err)
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelLoad()
	if err := engine.Load(loadCtx); err != nil {
		return fmt.Errorf("load derived state: %w", err)
	}
	if slot, ok := engine.LastSlot(); ok {
		log.Info("derived state loaded", "lastSlot", slot)
	} else {
		log.Info("derived state empty, starting from genesis")
	}

	server := gateway.NewServer(gateway.Config{
		Versions: versionRegistry,
		Registry: tokenMirror,
		Balances: balanceLedger,
		History:  store,
		Sink:     engine,
		Log:      log,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		log.Info("listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
