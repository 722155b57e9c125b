package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/speedwagon-io/tankgate/internal/api"
	"github.com/speedwagon-io/tankgate/internal/config"
	"github.com/speedwagon-io/tankgate/internal/control"
	"github.com/speedwagon-io/tankgate/internal/lib/logger/sl"
	"github.com/speedwagon-io/tankgate/internal/link"
	"github.com/speedwagon-io/tankgate/internal/state"
	"github.com/speedwagon-io/tankgate/internal/storage"
	"github.com/speedwagon-io/tankgate/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dryRun := flag.Bool("dry-run", false, "log actuator commands instead of sending them")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	log := sl.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	log.Info("starting tank gateway",
		slog.String("env", cfg.Env),
		slog.String("port", cfg.Link.Port),
		slog.Int("baud_rate", cfg.Link.BaudRate),
		slog.Bool("dry_run", *dryRun),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var storeOpts []state.Option
	initialIntent := false

	var db *storage.SQLite
	if cfg.Storage.Enabled {
		var err error
		db, err = storage.NewSQLite(log, cfg.Storage.Path)
		if err != nil {
			log.Error("failed to open storage", sl.Err(err))
			os.Exit(1)
		}

		initialIntent, err = db.LoadIntent(ctx)
		if err != nil {
			log.Error("failed to load persisted intent", sl.Err(err))
			os.Exit(1)
		}
		storeOpts = append(storeOpts, state.WithPersister(db))
		log.Info("storage enabled",
			slog.String("path", cfg.Storage.Path),
			slog.Bool("restored_intent", initialIntent),
		)
	}

	store := state.New(initialIntent, storeOpts...)

	if db != nil {
		fault, err := db.LastFault(ctx)
		if err != nil {
			log.Error("failed to load last fault", sl.Err(err))
		} else if fault != nil {
			store.RestoreFault(*fault)
		}
	}

	var linkOpts []link.Option
	if *dryRun {
		linkOpts = append(linkOpts, link.WithDryRun())
		log.Info("dry-run mode: commands will be logged instead of sent")
	}
	linkMgr := link.NewManager(log, cfg.Link, link.OpenSerial, linkOpts...)

	engine := control.NewEngine(log, cfg.Control)

	apiServer := api.NewServer(log, cfg.API, store)
	apiServer.AddChecker(api.NewLinkHealthChecker(linkMgr.IsConnected, linkMgr.LastError))
	apiServer.AddChecker(api.NewTelemetryHealthChecker(store.Snapshot, cfg.Supervisor.StaleAfter))
	if db != nil {
		apiServer.AddChecker(api.NewStorageHealthChecker(db.Ping))
	}

	if err := apiServer.Start(); err != nil {
		log.Error("failed to start api server", sl.Err(err))
		os.Exit(1)
	}

	manager := supervisor.NewManager(log, cfg, linkMgr, store, engine)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
	}()

	manager.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Stop()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop api server", sl.Err(err))
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Error("failed to close storage", sl.Err(err))
		}
	}

	log.Info("gateway stopped")
}
