// Command auditd serves the interaction audit API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/infrastructure/llm"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/infrastructure/middleware"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/infrastructure/notify"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/infrastructure/storage"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/api"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/application"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

const retryMaxDelay = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/audit.yaml", "Path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader, err := application.NewConfigLoader()
	if err != nil {
		return err
	}
	cfg, err := loader.LoadFromFile(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	store, err := storage.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := middleware.NewPrometheusMetrics(reg)

	llmClient, err := newLLMClient(cfg.Reasoning, metrics)
	if err != nil {
		return err
	}

	assembler, err := application.NewAssembler(application.AssemblerConfig{
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Temperature: cfg.Reasoning.Temperature,
	})
	if err != nil {
		return err
	}

	notifier, err := notify.New(cfg.Notify.Mode, cfg.Notify.WebhookURL, cfg.Notify.Timeout, log)
	if err != nil {
		return err
	}

	quota := application.NewQuotaGate(store, store, log,
		application.WithQuotaObserver(middleware.NewOTelQuotaObserver(metrics)),
		application.WithQuotaMetrics(metrics),
	)

	orch, err := application.NewOrchestrator(application.OrchestratorDeps{
		Interactions:     store,
		Rubrics:          store,
		Policies:         store,
		Audits:           store,
		Usage:            store,
		Assembler:        assembler,
		Reasoning:        application.NewReasoningClient(llmClient, cfg.Reasoning.MaxPromptTokens, log),
		Quota:            quota,
		Notifier:         notifier,
		Metrics:          metrics,
		Logger:           log,
		ReasoningTimeout: cfg.Reasoning.Timeout,
		NotifyTimeout:    cfg.Notify.Timeout,
		CostPer1KTokens:  cfg.Quota.CostPer1KTokens,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	routerCfg := api.RouterConfig{
		Health:      store.Ping,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		MetricsPath: cfg.Server.MetricsPath,
	}
	if rpm := cfg.Server.GenerateRequestsPerMinute; rpm > 0 {
		routerCfg.GenerateLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	}
	router := api.NewRouter(api.NewHandler(orch, log), routerCfg)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("audit service listening",
			"addr", cfg.Server.Addr,
			"provider", cfg.Reasoning.Provider,
			"model", cfg.Reasoning.Model,
			"db_path", cfg.Database.Path,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	orch.WaitNotifications()
	return nil
}

// newLLMClient builds the provider client. The first middleware is the
// outermost: tracing and metrics see one request per retry sequence, the
// breaker sees the final outcome, and the limiter paces every attempt.
func newLLMClient(cfg application.ReasoningConfig, metrics ports.MetricsCollector) (*llm.Client, error) {
	mw := []llm.Middleware{
		llm.TracingMiddleware(cfg.Provider),
		llm.MetricsMiddleware(cfg.Provider, metrics),
	}
	if cfg.CircuitBreaker.MaxFailures > 0 {
		mw = append(mw, llm.CircuitBreakerMiddleware(
			cfg.CircuitBreaker.MaxFailures,
			cfg.CircuitBreaker.Cooldown,
			llm.CollectorCircuitMetrics{Collector: metrics, Provider: cfg.Provider},
		))
	}
	if cfg.Retry.MaxAttempts > 1 {
		mw = append(mw, llm.RetryMiddleware(cfg.Retry.MaxAttempts-1, cfg.Retry.BaseDelay, retryMaxDelay))
	}
	if rpm := cfg.RateLimit.RequestsPerMinute; rpm > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		mw = append(mw, llm.RateLimitMiddleware(rate.Every(time.Minute/time.Duration(rpm)), burst))
	}
	mw = append(mw, llm.TimeoutMiddleware(cfg.Timeout))

	return llm.NewClient(cfg.Provider, llm.ClientConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		Middleware: mw,
	})
}

func newLogger(cfg application.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
