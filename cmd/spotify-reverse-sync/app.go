package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/justestif/go-spotify-reverse-sync/internal/auth"
	"github.com/justestif/go-spotify-reverse-sync/internal/config"
	"github.com/justestif/go-spotify-reverse-sync/internal/cycle"
	"github.com/justestif/go-spotify-reverse-sync/internal/db"
	"github.com/justestif/go-spotify-reverse-sync/internal/logger"
	"github.com/justestif/go-spotify-reverse-sync/internal/scheduler"
	"github.com/justestif/go-spotify-reverse-sync/internal/spotify"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
	"github.com/justestif/go-spotify-reverse-sync/internal/web"
)

const shutdownTimeout = 30 * time.Second

// app holds the wired components shared by both commands.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	runner *cycle.Runner
	store  *db.DB
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.log.Sync()
}

func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("env-file"))
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	authenticator, err := auth.New(auth.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, auth.WithTokenURL(cfg.TokenURL), auth.WithLogger(log.Named("auth")))
	if err != nil {
		return nil, err
	}

	// The stage hook reports into the runner, which is built after the synchronizer.
	var runner *cycle.Runner
	syncer, err := sync.New(cfg.Source, cfg.Destination,
		sync.WithBatchSize(cfg.BatchSize),
		sync.WithWriteInterval(cfg.WriteInterval),
		sync.WithLogger(log.Named("sync")),
		sync.WithStageHook(func(s sync.Stage) { runner.SetStage(s) }),
	)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	var opts []cycle.Option
	if cfg.DatabaseURL != "" {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		a.store = store
		opts = append(opts, cycle.WithRecorder(store.Runs()))
		log.Info("Recording run history in PostgreSQL")
	}

	newClient := func(c *http.Client) sync.PlaylistClient {
		return spotify.NewWithHTTPClient(c, cfg.APIURL)
	}
	runner = cycle.New(authenticator, newClient, syncer, log.Named("cycle"), opts...)
	a.runner = runner

	return a, nil
}

// runOnce runs a single cycle. A failed cycle makes the command exit non-zero.
func runOnce(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.CycleTimeout)
	defer cancel()

	run, err := a.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync cycle %s: %w", run.ID, err)
	}
	return nil
}

// runDaemon schedules cycles until the process is interrupted.
func runDaemon(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := scheduler.New(a.cfg.Schedule,
		func(ctx context.Context) error {
			_, err := a.runner.Run(ctx)
			return err
		},
		scheduler.WithTimeout(a.cfg.CycleTimeout),
		scheduler.WithRunOnStart(a.cfg.RunOnStart),
		scheduler.WithLogger(a.log.Named("scheduler")),
	)
	if err != nil {
		return err
	}

	a.log.Info("Starting reverse sync",
		zap.String("source", a.cfg.Source),
		zap.String("destination", a.cfg.Destination),
		zap.String("schedule", a.cfg.Schedule),
		zap.Int("batch_size", a.cfg.BatchSize))

	if err := sched.Start(); err != nil {
		return err
	}

	var server *web.Server
	serverErr := make(chan error, 1)
	if a.cfg.StatusAddr != "" {
		webCfg := web.ServerConfig{
			Addr:        a.cfg.StatusAddr,
			Source:      a.cfg.Source,
			Destination: a.cfg.Destination,
			Scheduler:   sched,
			Runs:        a.runner,
			Logger:      a.log.Named("web"),
		}
		if a.store != nil {
			webCfg.Store = a.store.Runs()
		}
		server = web.NewServer(webCfg)
		go func() {
			serverErr <- server.Start()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("status server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("Status server shutdown failed", zap.Error(err))
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.log.Warn("Scheduler shutdown failed", zap.Error(err))
	}

	a.log.Info("Stopped")
	return runErr
}
