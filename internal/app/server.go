package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/roushou/adpilot/internal/adapter/browser"
	"github.com/roushou/adpilot/internal/adapter/htmldom"
	"github.com/roushou/adpilot/internal/adapter/httpapi"
	"github.com/roushou/adpilot/internal/adapter/mcp"
	"github.com/roushou/adpilot/internal/adapter/settingsfile"
	"github.com/roushou/adpilot/internal/adapter/sqlitestore"
	"github.com/roushou/adpilot/internal/app/steps"
	"github.com/roushou/adpilot/internal/domain/action"
	"github.com/roushou/adpilot/internal/domain/pipeline"
	"github.com/roushou/adpilot/internal/domain/report"
	"github.com/roushou/adpilot/internal/domain/runlog"
	"github.com/roushou/adpilot/internal/domain/settings"
	"github.com/roushou/adpilot/internal/platform/config"
	"github.com/roushou/adpilot/internal/platform/identity"
	"github.com/roushou/adpilot/internal/platform/logging"
	"github.com/roushou/adpilot/internal/usecase"
)

type App struct {
	cfg        config.Config
	logger     *slog.Logger
	runtime    *usecase.Orchestrator
	mcpServer  *mcp.Server
	httpServer *http.Server
	handler    http.Handler
	browser    *browser.Host
	runlogs    runlog.Store
	cleanup    []func()
}

// New builds the host, stores and command channels. ctx bounds the browser
// process when one is launched.
func New(ctx context.Context, cfg config.Config, reader io.Reader, writer io.Writer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	logger := logging.New(cfg.LogLevel)

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	targets, err := steps.LoadTargets(cfg.TargetsPath)
	if err != nil {
		return nil, err
	}
	catalog, err := steps.NewCatalog(targets)
	if err != nil {
		return nil, fmt.Errorf("build step catalog: %w", err)
	}

	host, err := a.buildHost(ctx)
	if err != nil {
		return nil, err
	}
	runlogs, err := a.buildRunlogStore()
	if err != nil {
		return nil, err
	}
	a.runlogs = runlogs

	a.runtime = usecase.NewOrchestrator(
		logger,
		catalog,
		host,
		report.NewSlogSink(logger),
		runlogs,
		buildOrchestratorConfig(cfg),
	)
	configService := usecase.NewConfigService(buildSettingsProvider(cfg), logger)
	commands := usecase.NewCommandService(a.runtime, configService)

	if cfg.MCPEnabled {
		a.mcpServer = mcp.NewServerWithRuntimeConfig(
			cfg.ServerName,
			reader,
			writer,
			logger,
			mcp.Deps{
				Runtime:  a.runtime,
				Commands: commands,
				Config:   configService,
				Catalog:  catalog,
				Health:   a.hostHealth,
			},
			mcp.ServerRuntimeConfig{MaxPayloadBytes: cfg.MCPMaxPayloadBytes},
		)
	}
	a.handler = httpapi.NewServer(httpapi.Deps{
		Runtime:  a.runtime,
		Commands: commands,
		Config:   configService,
		Health:   a.hostHealth,
	}, logger)
	if cfg.HTTPAddr != "" {
		a.httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	ok = true
	return a, nil
}

// Handler is the HTTP command channel, available even when no listen
// address is configured.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("adpilot starting",
		"server_name", a.cfg.ServerName,
		"browser", a.cfg.Browser,
		"mcp", a.cfg.MCPEnabled,
		"http_addr", a.cfg.HTTPAddr,
	)
	defer a.close()

	var httpErrCh chan error
	if a.httpServer != nil {
		listener, err := net.Listen("tcp", a.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
		}
		a.logger.Info("http api listening", "addr", listener.Addr().String())
		httpErrCh = make(chan error, 1)
		go func() {
			httpErrCh <- a.httpServer.Serve(listener)
		}()
	}
	if a.browser != nil {
		go a.browser.StartHealthChecks(ctx, a.cfg.HealthCheckInterval)
	}
	if a.cfg.RunlogRetentionMaxAge > 0 {
		go a.pruneRunlogs(ctx, a.cfg.RunlogRetentionMaxAge)
	}

	var serveErr error
	if a.mcpServer != nil {
		serveErr = a.mcpServer.Serve(ctx)
	} else {
		select {
		case <-ctx.Done():
		case err := <-httpErrCh:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = err
			}
			httpErrCh = nil
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer drainCancel()
	if err := a.runtime.Close(drainCtx); err != nil {
		a.logger.Warn("pipeline drain incomplete", "error", err)
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(drainCtx); err != nil {
			a.logger.Warn("http api shutdown incomplete", "error", err)
		}
		if httpErrCh != nil {
			if err := <-httpErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http api failed", "error", err)
			}
		}
	}
	if serveErr != nil {
		if a.mcpServer != nil {
			return fmt.Errorf("mcp serve: %w", serveErr)
		}
		return fmt.Errorf("http serve: %w", serveErr)
	}
	a.logger.Info("adpilot stopped")
	return nil
}

func (a *App) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func (a *App) pruneRunlogs(ctx context.Context, maxAge time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-maxAge)
			n, err := a.runlogs.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				a.logger.Error("runlog pruning failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("pruned old runlog records", "deleted", n)
			}
		}
	}
}

func (a *App) hostHealth() map[string]any {
	if a.browser == nil {
		return map[string]any{"mode": config.BrowserStatic, "connected": true}
	}
	h := a.browser.Health()
	out := map[string]any{
		"mode":                config.BrowserChrome,
		"connected":           h.Connected,
		"consecutiveFailures": h.ConsecutiveFailures,
	}
	if !h.LastSuccessAt.IsZero() {
		out["lastSuccessAt"] = h.LastSuccessAt.Format(time.RFC3339Nano)
	}
	if h.LastFailureMessage != "" {
		out["lastFailure"] = h.LastFailureMessage
		out["lastFailureAt"] = h.LastFailureAt.Format(time.RFC3339Nano)
	}
	return out
}

func (a *App) buildHost(ctx context.Context) (action.Host, error) {
	switch a.cfg.Browser {
	case config.BrowserStatic:
		doc, err := htmldom.Open(a.cfg.StaticHTMLPath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("static page host ready", "path", a.cfg.StaticHTMLPath)
		return doc, nil
	default:
		host, err := browser.New(ctx, browser.Config{
			RemoteURL:   a.cfg.ChromeRemoteURL,
			ExecPath:    a.cfg.ChromeExecPath,
			UserDataDir: a.cfg.ChromeUserDataDir,
			Headless:    a.cfg.ChromeHeadless,
			StartURL:    a.cfg.StartURL,
			OpTimeout:   a.cfg.HostOpTimeout,
		}, a.logger)
		if err != nil {
			return nil, browser.ToFault(err, "")
		}
		a.browser = host
		a.cleanup = append(a.cleanup, func() { _ = host.Close() })
		return host, nil
	}
}

func (a *App) buildRunlogStore() (runlog.Store, error) {
	if a.cfg.RunlogDriver != config.RunlogSQLite {
		return runlog.NewInMemoryStore(), nil
	}
	store, err := sqlitestore.Open(a.cfg.RunlogSQLitePath)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close runlog store", "error", err)
		}
	})
	return store, nil
}

func buildSettingsProvider(cfg config.Config) settings.Provider {
	if cfg.SettingsPath == "" {
		return settings.NewInMemoryProvider(settings.Configuration{})
	}
	return settingsfile.NewProvider(cfg.SettingsPath)
}

func buildOrchestratorConfig(cfg config.Config) usecase.OrchestratorConfig {
	return usecase.OrchestratorConfig{
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			Delay:       cfg.RetryDelay,
		},
		Timing: action.Timing{
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.WaitTimeout,
			Settle:       cfg.SettleDelay,
		},
		StepTimeout:      cfg.StepTimeout,
		MaxLogsPerRun:    cfg.MaxLogsPerRun,
		RetentionMaxRuns: cfg.RetentionMaxRuns,
		RetentionTTL:     cfg.RetentionTTL,
		NewRunID:         identity.NewRunID,
		NewCorrelationID: identity.NewCorrelationID,
	}
}
