// Package browser drives a Chromium tab over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var ErrClosed = errors.New("browser host closed")

type Config struct {
	// RemoteURL attaches to a running browser's DevTools websocket. When
	// empty a local browser is launched.
	RemoteURL   string
	ExecPath    string
	UserDataDir string
	Headless    bool
	StartURL    string
	OpTimeout   time.Duration
}

type Health struct {
	Connected           bool
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastFailureMessage  string
	ConsecutiveFailures int
}

type Host struct {
	logger    *slog.Logger
	opTimeout time.Duration

	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	mu              sync.RWMutex
	health          Health
	closed          bool
	lastLoadFailure string
}

// New launches or attaches to a browser and opens one tab. The tab lives
// until Close or until parent ends.
func New(parent context.Context, cfg Config, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if strings.TrimSpace(cfg.RemoteURL) != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(parent, cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("no-default-browser-check", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(1400, 900),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(parent, opts...)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		logger.Debug("chromedp", "message", strings.TrimSpace(fmt.Sprintf(format, args...)))
	}))

	h := &Host{
		logger:      logger,
		opTimeout:   cfg.OpTimeout,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}
	chromedp.ListenTarget(tabCtx, h.onEvent)

	actions := []chromedp.Action{network.Enable()}
	if cfg.StartURL != "" {
		actions = append(actions,
			chromedp.Navigate(cfg.StartURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}
	startCtx, cancel := context.WithTimeout(tabCtx, 2*cfg.OpTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx, actions...); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, wrap("start", err, false)
	}
	h.setSuccess()
	logger.Info("browser tab ready", "remote", cfg.RemoteURL != "", "start_url", cfg.StartURL)
	return h, nil
}

// Navigate loads url in the tab and waits for the body.
func (h *Host) Navigate(ctx context.Context, url string) error {
	return h.run(ctx, "navigate",
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (h *Host) Ping(ctx context.Context) error {
	var state string
	return h.run(ctx, "ping", chromedp.Evaluate(`document.readyState`, &state))
}

func (h *Host) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Ping(ctx); err != nil {
				h.logger.Warn("browser health check failed", "error", err)
			}
		}
	}
}

func (h *Host) Health() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}

func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.health.Connected = false
	h.mu.Unlock()

	h.cancelTab()
	h.cancelAlloc()
	return nil
}

// run executes actions on the tab, bounded by the host timeout and by ctx.
func (h *Host) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return wrap(op, ErrClosed, false)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(h.tabCtx, h.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		h.setSuccess()
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	offline := isNetworkText(err.Error()) || h.takeLoadFailure() || !h.online()
	h.setFailure(err)
	return wrap(op, err, offline)
}

// online probes navigator.onLine; an unanswered probe counts as online so a
// wedged renderer is not mistaken for lost connectivity.
func (h *Host) online() bool {
	probeCtx, cancel := context.WithTimeout(h.tabCtx, time.Second)
	defer cancel()
	on := true
	if err := chromedp.Run(probeCtx, chromedp.Evaluate(`navigator.onLine`, &on)); err != nil {
		return true
	}
	return on
}

func (h *Host) onEvent(ev any) {
	e, ok := ev.(*network.EventLoadingFailed)
	if !ok || e.Canceled || e.Type != network.ResourceTypeDocument {
		return
	}
	if !isNetworkText(e.ErrorText) {
		return
	}
	h.mu.Lock()
	h.lastLoadFailure = e.ErrorText
	h.mu.Unlock()
	h.logger.Warn("browser document load failed", "error", e.ErrorText)
}

func (h *Host) takeLoadFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	failed := h.lastLoadFailure != ""
	h.lastLoadFailure = ""
	return failed
}

func (h *Host) setSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health.Connected = true
	h.health.LastSuccessAt = time.Now().UTC()
	h.health.LastFailureMessage = ""
	h.health.ConsecutiveFailures = 0
}

func (h *Host) setFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health.LastFailureAt = time.Now().UTC()
	h.health.LastFailureMessage = err.Error()
	h.health.ConsecutiveFailures++
}
