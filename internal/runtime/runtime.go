// Package runtime assembles the daemon: telemetry, the message bus, the
// live-call monitor, the history store, and the HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guardline-ai/guardline-core/internal/api"
	"github.com/guardline-ai/guardline-core/internal/bus"
	"github.com/guardline-ai/guardline-core/internal/capture"
	"github.com/guardline-ai/guardline-core/internal/classifier"
	"github.com/guardline-ai/guardline-core/internal/config"
	"github.com/guardline-ai/guardline-core/internal/guidance"
	"github.com/guardline-ai/guardline-core/internal/history"
	"github.com/guardline-ai/guardline-core/internal/monitor"
	"github.com/guardline-ai/guardline-core/internal/natsserver"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every service, blocks until ctx is cancelled, then shuts
// them down in reverse order. The bus and the classifier are optional: when
// either is unavailable the daemon still serves one-shot analysis with the
// rule engine.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable, live monitoring disabled", slog.String("error", err.Error()))
		busClient = nil
	}

	guide, err := guidance.Load(r.cfg.Guidance)
	if err != nil {
		return fmt.Errorf("failed to load guidance: %w", err)
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	var clf *classifier.Classifier
	if r.cfg.Classifier.Enabled {
		clf, err = classifier.New(r.cfg.Classifier, r.logger)
		if err != nil {
			return fmt.Errorf("failed to configure classifier: %w", err)
		}
	}

	meters, err := monitor.NewMetrics()
	if err != nil {
		r.logger.Warn("failed to register monitor metrics", slog.String("error", err.Error()))
	}

	var source capture.Source = capture.NoopSource{}
	if r.cfg.Capture.Enabled && busClient != nil {
		source = capture.NewNATSSource(busClient, r.logger)
	}

	var monitorClf monitor.Classifier
	if clf != nil {
		monitorClf = clf
	}
	mon := monitor.NewService(ctx, r.cfg.Analysis, r.cfg.Guidance.DefaultLanguage, monitor.ServiceDeps{
		Source:     source,
		Bus:        busClient,
		Classifier: monitorClf,
		Guidance:   guide,
		Store:      store,
		Metrics:    meters,
	}, r.logger)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api.NewHandler(clf, guide, r.cfg.Guidance.DefaultLanguage, r.logger).Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	mon.Close()
	if err := store.Close(); err != nil {
		r.logger.Error("history shutdown error", slog.String("error", err.Error()))
	}
	if busClient != nil {
		busClient.Close()
	}
	if embedded != nil {
		embedded.Shutdown()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
