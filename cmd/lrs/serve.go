package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lushonline/moodle-mod-externalcontent/internal/config"
	"github.com/lushonline/moodle-mod-externalcontent/internal/lock"
	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
	"github.com/lushonline/moodle-mod-externalcontent/internal/metrics"
	"github.com/lushonline/moodle-mod-externalcontent/internal/notify"
	"github.com/lushonline/moodle-mod-externalcontent/internal/observability"
	"github.com/lushonline/moodle-mod-externalcontent/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the xAPI endpoint and the ops listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	rt, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	username, password, err := rt.store.EnsureCredentials(ctx, cfg.XAPI.Username, cfg.XAPI.Password)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, logger, observability.TracingConfig{
		ServiceName: "externalcontent-lrs",
		Version:     version,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	locker, closeLocker, err := buildLocker(ctx, cfg, rt)
	if err != nil {
		return err
	}
	defer closeLocker()

	emitter, closeEmitter, err := buildEmitter(cfg, rt)
	if err != nil {
		return err
	}
	defer closeEmitter()

	m := metrics.New()
	reconciler := lrs.NewReconciler(rt.store, rt.store, locker, emitter,
		lrs.WithBestScore(cfg.XAPI.UseBestScore),
		lrs.WithLogger(logger.With("component", "reconciler")),
	)
	processor := lrs.NewProcessor(cfg.Verbs(), lrs.NewResolver(rt.store), reconciler, m, logger.With("component", "processor"))

	srv := server.NewServer(processor, server.Options{
		Enabled:      cfg.XAPI.Enabled,
		Username:     username,
		Password:     password,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, logger, m.Instrument)

	servers := []*http.Server{{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.OpsListen != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.OpsListen,
			Handler:           server.OpsRouter(rt.store.DB(), m.Handler()),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	logger.Info("lrs starting",
		"listen", cfg.Listen,
		"ops_listen", cfg.OpsListen,
		"database", cfg.Database,
		"enabled", cfg.XAPI.Enabled,
		"username", username,
		"events_sink", cfg.Events.Sink,
		"best_score", cfg.XAPI.UseBestScore,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range servers {
		hs := hs
		g.Go(func() error {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", hs.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, hs := range servers {
			if err := hs.Shutdown(sctx); err != nil {
				logger.Error("graceful shutdown failed", "addr", hs.Addr, "error", err)
			}
		}
		return nil
	})
	err = g.Wait()
	logger.Info("lrs stopped")
	return err
}

func buildLocker(ctx context.Context, cfg config.Config, rt *runtime) (lrs.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	rdb, err := lock.Dial(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	rt.logger.Info("using redis track lock", "addr", cfg.Redis.Addr)
	return lock.NewRedis(rdb, rt.logger), func() { _ = rdb.Close() }, nil
}

func buildEmitter(cfg config.Config, rt *runtime) (lrs.Emitter, func(), error) {
	direct := notify.NewStoreEmitter(rt.store, rt.logger)
	if cfg.Events.Sink != config.SinkTemporal {
		return direct, func() {}, nil
	}
	c, err := notify.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace, rt.logger)
	if err != nil {
		return nil, nil, err
	}
	rt.logger.Info("events dispatched through temporal", "host_port", cfg.Temporal.HostPort, "task_queue", notify.TaskQueue())
	return notify.NewTemporalEmitter(c, direct, rt.logger), c.Close, nil
}
