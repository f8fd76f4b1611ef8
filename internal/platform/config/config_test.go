package config

import (
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		ServerName:       "adpilot",
		LogLevel:         "info",
		ShutdownTimeout:  2 * time.Second,
		Browser:          BrowserChrome,
		HostOpTimeout:    2 * time.Second,
		PollInterval:     100 * time.Millisecond,
		WaitTimeout:      time.Second,
		StepTimeout:      time.Minute,
		RetryMaxAttempts: 3,
		RunlogDriver:     RunlogMemory,
		MCPEnabled:       true,
	}
}

func TestValidate(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := baseConfig()
	cfg.LogLevel = "trace"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsStaticBrowserWithoutPage(t *testing.T) {
	cfg := baseConfig()
	cfg.Browser = BrowserStatic
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	cfg.StaticHTMLPath = "page.html"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUnsupportedBrowser(t *testing.T) {
	cfg := baseConfig()
	cfg.Browser = "firefox"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsPollLongerThanWait(t *testing.T) {
	cfg := baseConfig()
	cfg.PollInterval = 2 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	cfg := baseConfig()
	cfg.RetryMaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsSQLiteWithoutPath(t *testing.T) {
	cfg := baseConfig()
	cfg.RunlogDriver = RunlogSQLite
	cfg.RunlogSQLitePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRequiresACommandChannel(t *testing.T) {
	cfg := baseConfig()
	cfg.MCPEnabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	cfg.HTTPAddr = "127.0.0.1:8080"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.RetryDelay != 2*time.Second {
		t.Fatalf("unexpected retry defaults: %d %v", cfg.RetryMaxAttempts, cfg.RetryDelay)
	}
	if cfg.Browser != BrowserChrome || cfg.RunlogDriver != RunlogMemory || !cfg.MCPEnabled {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
}

func TestLoadFromEnvPipelineConfig(t *testing.T) {
	t.Setenv("ADPILOT_BROWSER", "static")
	t.Setenv("ADPILOT_STATIC_HTML", "testdata/page.html")
	t.Setenv("ADPILOT_POLL_INTERVAL_MS", "50")
	t.Setenv("ADPILOT_WAIT_TIMEOUT_MS", "4000")
	t.Setenv("ADPILOT_SETTLE_DELAY_MS", "0")
	t.Setenv("ADPILOT_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("ADPILOT_RETRY_DELAY_MS", "250")
	t.Setenv("ADPILOT_STEP_TIMEOUT_SECONDS", "30")
	t.Setenv("ADPILOT_RUNLOG_DRIVER", "SQLite")
	t.Setenv("ADPILOT_RUNLOG_SQLITE_PATH", "/tmp/runs.db")
	t.Setenv("ADPILOT_MAX_LOGS_PER_RUN", "99")
	t.Setenv("ADPILOT_HTTP_ADDR", ":9090")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Browser != BrowserStatic || cfg.StaticHTMLPath != "testdata/page.html" {
		t.Fatalf("unexpected browser config: %q %q", cfg.Browser, cfg.StaticHTMLPath)
	}
	if cfg.PollInterval != 50*time.Millisecond || cfg.WaitTimeout != 4*time.Second || cfg.SettleDelay != 0 {
		t.Fatalf("unexpected timing: %v %v %v", cfg.PollInterval, cfg.WaitTimeout, cfg.SettleDelay)
	}
	if cfg.RetryMaxAttempts != 5 || cfg.RetryDelay != 250*time.Millisecond {
		t.Fatalf("unexpected retry: %d %v", cfg.RetryMaxAttempts, cfg.RetryDelay)
	}
	if cfg.StepTimeout != 30*time.Second {
		t.Fatalf("unexpected step timeout: %v", cfg.StepTimeout)
	}
	if cfg.RunlogDriver != RunlogSQLite || cfg.RunlogSQLitePath != "/tmp/runs.db" {
		t.Fatalf("unexpected runlog: %q %q", cfg.RunlogDriver, cfg.RunlogSQLitePath)
	}
	if cfg.MaxLogsPerRun != 99 || cfg.HTTPAddr != ":9090" {
		t.Fatalf("unexpected limits: %d %q", cfg.MaxLogsPerRun, cfg.HTTPAddr)
	}
}

func TestLoadFromEnvRejectsInvalidBoolean(t *testing.T) {
	t.Setenv("ADPILOT_CHROME_HEADLESS", "not-bool")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected load error")
	}
}

func TestLoadFromEnvRejectsInvalidDuration(t *testing.T) {
	t.Setenv("ADPILOT_STEP_TIMEOUT_SECONDS", "NaN")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected load error")
	}
}

func TestLoadFromEnvRejectsZeroPollInterval(t *testing.T) {
	t.Setenv("ADPILOT_POLL_INTERVAL_MS", "0")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected load error")
	}
}

func TestLoadFromEnvRejectsInvalidInt(t *testing.T) {
	t.Setenv("ADPILOT_RETRY_MAX_ATTEMPTS", "oops")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected load error")
	}
}
