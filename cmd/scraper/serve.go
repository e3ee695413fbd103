package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/delivery/http/handler"
	"github.com/ecscrape/scraper-service/internal/delivery/http/router"
	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/usecase"
	"github.com/ecscrape/scraper-service/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the admin API and runs the scheduled batches.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		// --- Scheduler ---
		scheduler, err := newScheduler(ctx, cfg.Schedules, a.orchestrator, logger)
		if err != nil {
			return err
		}
		scheduler.Start()

		// --- HTTP Server ---
		apiHandler := handler.NewHandler(a.orchestrator, a.configs, a.healthChecks(), logger)
		server := &http.Server{
			Addr:         ":" + cfg.ServerPort,
			Handler:      router.New(apiHandler, a.metrics, a.registry, logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: cfg.BatchTimeout + time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Starting server", zap.String("port", cfg.ServerPort))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				<-scheduler.Stop().Done()
				return fmt.Errorf("listen on port %s: %w", cfg.ServerPort, err)
			}
		case <-ctx.Done():
		}

		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		// Running batches see the canceled context and wind down.
		<-scheduler.Stop().Done()
		return nil
	},
}

// newScheduler registers one cron entry per configured schedule. A batch
// still running when its next tick fires is skipped.
func newScheduler(ctx context.Context, schedules []config.Schedule, orch usecase.Orchestrator, logger *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger.Sugar().Named("cron")}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	for _, s := range schedules {
		kind, err := entity.ParseResourceKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Spec, err)
		}
		req := usecase.BatchRequest{Kind: kind, Sites: s.Sites, Mode: entity.Mode(s.Mode)}
		if _, err := c.AddFunc(s.Spec, func() {
			sum, err := orch.RunBatch(ctx, req)
			if err != nil {
				logger.Error("scheduled batch failed", zap.String("kind", kind.String()), zap.Error(err))
				return
			}
			logger.Info("scheduled batch done",
				zap.String("batch", sum.ID),
				zap.Int("succeeded", len(sum.Succeeded())),
				zap.Int("failed", len(sum.Failed())))
		}); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Spec, err)
		}
		logger.Info("batch scheduled", zap.String("spec", s.Spec), zap.String("kind", kind.String()))
	}
	return c, nil
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
