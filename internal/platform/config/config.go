package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BrowserChrome = "chrome"
	BrowserStatic = "static"

	RunlogMemory = "memory"
	RunlogSQLite = "sqlite"
)

const (
	defaultServerName            = "adpilot"
	defaultLogLevel              = "info"
	defaultShutdownTimeout       = 10 * time.Second
	defaultBrowser               = BrowserChrome
	defaultChromeHeadless        = false
	defaultHostOpTimeout         = 15 * time.Second
	defaultHealthCheckInterval   = 15 * time.Second
	defaultPollInterval          = 100 * time.Millisecond
	defaultWaitTimeout           = 10 * time.Second
	defaultSettleDelay           = 500 * time.Millisecond
	defaultStepTimeout           = 2 * time.Minute
	defaultRetryMaxAttempts      = 3
	defaultRetryDelay            = 2 * time.Second
	defaultRunlogDriver          = RunlogMemory
	defaultRunlogSQLitePath      = "adpilot.db"
	defaultRunlogRetentionMaxAge = 72 * time.Hour
	defaultRetentionMaxRuns      = 1000
	defaultRetentionTTL          = 24 * time.Hour
	defaultMaxLogsPerRun         = 256
	defaultMCPEnabled            = true
	defaultMCPMaxPayloadBytes    = 1 << 20
)

type Config struct {
	ServerName      string
	LogLevel        string
	ShutdownTimeout time.Duration

	Browser             string
	ChromeExecPath      string
	ChromeRemoteURL     string
	ChromeHeadless      bool
	ChromeUserDataDir   string
	StartURL            string
	StaticHTMLPath      string
	HostOpTimeout       time.Duration
	HealthCheckInterval time.Duration

	PollInterval     time.Duration
	WaitTimeout      time.Duration
	SettleDelay      time.Duration
	StepTimeout      time.Duration
	RetryMaxAttempts int
	RetryDelay       time.Duration

	SettingsPath string
	TargetsPath  string

	RunlogDriver          string
	RunlogSQLitePath      string
	RunlogRetentionMaxAge time.Duration
	RetentionMaxRuns      int
	RetentionTTL          time.Duration
	MaxLogsPerRun         int

	MCPEnabled         bool
	MCPMaxPayloadBytes int
	HTTPAddr           string
}

func LoadFromEnv() (Config, error) {
	shutdownTimeout, err := parseEnvDuration("ADPILOT_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	headless, err := parseEnvBool("ADPILOT_CHROME_HEADLESS", defaultChromeHeadless)
	if err != nil {
		return Config{}, err
	}
	hostOpTimeout, err := parseEnvDuration("ADPILOT_HOST_OP_TIMEOUT_SECONDS", defaultHostOpTimeout)
	if err != nil {
		return Config{}, err
	}
	healthInterval, err := parseEnvDuration("ADPILOT_HEALTH_CHECK_INTERVAL_SECONDS", defaultHealthCheckInterval)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseEnvMillis("ADPILOT_POLL_INTERVAL_MS", defaultPollInterval, false)
	if err != nil {
		return Config{}, err
	}
	waitTimeout, err := parseEnvMillis("ADPILOT_WAIT_TIMEOUT_MS", defaultWaitTimeout, false)
	if err != nil {
		return Config{}, err
	}
	settleDelay, err := parseEnvMillis("ADPILOT_SETTLE_DELAY_MS", defaultSettleDelay, true)
	if err != nil {
		return Config{}, err
	}
	stepTimeout, err := parseEnvDuration("ADPILOT_STEP_TIMEOUT_SECONDS", defaultStepTimeout)
	if err != nil {
		return Config{}, err
	}
	maxAttempts, err := parseEnvInt("ADPILOT_RETRY_MAX_ATTEMPTS", defaultRetryMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	retryDelay, err := parseEnvMillis("ADPILOT_RETRY_DELAY_MS", defaultRetryDelay, true)
	if err != nil {
		return Config{}, err
	}
	runlogRetentionMaxAge, err := parseEnvDurationAllowZero("ADPILOT_RUNLOG_RETENTION_MAX_AGE_SECONDS", defaultRunlogRetentionMaxAge)
	if err != nil {
		return Config{}, err
	}
	retentionMaxRuns, err := parseEnvInt("ADPILOT_RETENTION_MAX_RUNS", defaultRetentionMaxRuns)
	if err != nil {
		return Config{}, err
	}
	retentionTTL, err := parseEnvDurationAllowZero("ADPILOT_RETENTION_TTL_SECONDS", defaultRetentionTTL)
	if err != nil {
		return Config{}, err
	}
	maxLogsPerRun, err := parseEnvInt("ADPILOT_MAX_LOGS_PER_RUN", defaultMaxLogsPerRun)
	if err != nil {
		return Config{}, err
	}
	mcpEnabled, err := parseEnvBool("ADPILOT_MCP_ENABLED", defaultMCPEnabled)
	if err != nil {
		return Config{}, err
	}
	maxPayloadBytes, err := parseEnvInt("ADPILOT_MCP_MAX_PAYLOAD_BYTES", defaultMCPMaxPayloadBytes)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ServerName:      getEnv("ADPILOT_SERVER_NAME", defaultServerName),
		LogLevel:        getEnv("ADPILOT_LOG_LEVEL", defaultLogLevel),
		ShutdownTimeout: shutdownTimeout,

		Browser:             strings.ToLower(getEnv("ADPILOT_BROWSER", defaultBrowser)),
		ChromeExecPath:      getEnv("ADPILOT_CHROME_PATH", ""),
		ChromeRemoteURL:     getEnv("ADPILOT_CHROME_REMOTE_URL", ""),
		ChromeHeadless:      headless,
		ChromeUserDataDir:   getEnv("ADPILOT_CHROME_USER_DATA_DIR", ""),
		StartURL:            getEnv("ADPILOT_START_URL", ""),
		StaticHTMLPath:      getEnv("ADPILOT_STATIC_HTML", ""),
		HostOpTimeout:       hostOpTimeout,
		HealthCheckInterval: healthInterval,

		PollInterval:     pollInterval,
		WaitTimeout:      waitTimeout,
		SettleDelay:      settleDelay,
		StepTimeout:      stepTimeout,
		RetryMaxAttempts: maxAttempts,
		RetryDelay:       retryDelay,

		SettingsPath: getEnv("ADPILOT_SETTINGS_FILE", ""),
		TargetsPath:  getEnv("ADPILOT_TARGETS_FILE", ""),

		RunlogDriver:          strings.ToLower(getEnv("ADPILOT_RUNLOG_DRIVER", defaultRunlogDriver)),
		RunlogSQLitePath:      getEnv("ADPILOT_RUNLOG_SQLITE_PATH", defaultRunlogSQLitePath),
		RunlogRetentionMaxAge: runlogRetentionMaxAge,
		RetentionMaxRuns:      retentionMaxRuns,
		RetentionTTL:          retentionTTL,
		MaxLogsPerRun:         maxLogsPerRun,

		MCPEnabled:         mcpEnabled,
		MCPMaxPayloadBytes: maxPayloadBytes,
		HTTPAddr:           getEnv("ADPILOT_HTTP_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server name cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Browser {
	case BrowserChrome:
		if c.HostOpTimeout <= 0 {
			return errors.New("host op timeout must be positive")
		}
	case BrowserStatic:
		if c.StaticHTMLPath == "" {
			return errors.New("static html path cannot be empty when browser is static")
		}
	default:
		return fmt.Errorf("unsupported browser %q", c.Browser)
	}

	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.WaitTimeout <= 0 {
		return errors.New("wait timeout must be positive")
	}
	if c.PollInterval > c.WaitTimeout {
		return errors.New("poll interval cannot exceed wait timeout")
	}
	if c.SettleDelay < 0 {
		return errors.New("settle delay must be >= 0")
	}
	if c.StepTimeout <= 0 {
		return errors.New("step timeout must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return errors.New("retry max attempts must be >= 1")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay must be >= 0")
	}

	switch c.RunlogDriver {
	case RunlogMemory:
	case RunlogSQLite:
		if c.RunlogSQLitePath == "" {
			return errors.New("runlog sqlite path cannot be empty when runlog driver is sqlite")
		}
	default:
		return fmt.Errorf("unsupported runlog driver %q", c.RunlogDriver)
	}
	if c.RunlogRetentionMaxAge < 0 {
		return errors.New("runlog retention max age must be >= 0")
	}
	if c.RetentionMaxRuns < 0 {
		return errors.New("retention max runs must be >= 0")
	}
	if c.RetentionTTL < 0 {
		return errors.New("retention ttl must be >= 0")
	}
	if c.MaxLogsPerRun < 0 {
		return errors.New("max logs per run must be >= 0")
	}
	if c.MCPMaxPayloadBytes < 0 {
		return errors.New("mcp max payload bytes must be >= 0")
	}
	if !c.MCPEnabled && c.HTTPAddr == "" {
		return errors.New("at least one command channel must be enabled (mcp or http)")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%s must be > 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseEnvDurationAllowZero(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%s must be >= 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseEnvMillis(key string, fallback time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of milliseconds: %w", key, err)
	}
	if ms < 0 || (ms == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be > 0 milliseconds", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return out, nil
}

func parseEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}
