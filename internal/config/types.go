package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/klear-swap/internal/broadcast"
	"github.com/ksred/klear-swap/internal/exchange"
	"github.com/ksred/klear-swap/internal/queue"
	"github.com/ksred/klear-swap/internal/trading"
	"github.com/ksred/klear-swap/pkg/middleware"
	"go.uber.org/multierr"
)

// Config holds every runtime setting of the swap engine
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Router   RouterConfig   `mapstructure:"router"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	SubmitRateLimit int           `mapstructure:"submit_rate_limit"` // per client per minute
	ReadRateLimit   int           `mapstructure:"read_rate_limit"`
	WSPingInterval  time.Duration `mapstructure:"ws_ping_interval"`
	WSCloseDelay    time.Duration `mapstructure:"ws_close_delay"`
	WSSendBuffer    int           `mapstructure:"ws_send_buffer"`
}

// LoggingConfig controls zerolog output. File enables a rotating log file next
// to the console output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or memory
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type QueueConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	RateLimit          int           `mapstructure:"rate_limit"`
	RateWindow         time.Duration `mapstructure:"rate_window"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	FailedRetention    time.Duration `mapstructure:"failed_retention"`
	JanitorInterval    time.Duration `mapstructure:"janitor_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepMinAge        time.Duration `mapstructure:"sweep_min_age"`
}

// RouterConfig selects and tunes the simulated venues
type RouterConfig struct {
	Sources        []string      `mapstructure:"sources"`
	ReferencePrice float64       `mapstructure:"reference_price"`
	MinLatency     time.Duration `mapstructure:"min_latency"`
	MaxLatency     time.Duration `mapstructure:"max_latency"`
	FailureRate    float64       `mapstructure:"failure_rate"`
}

type ExecutorConfig struct {
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	MaxPriceImpact float64       `mapstructure:"max_price_impact"`
}

type PipelineConfig struct {
	BuildDelay time.Duration `mapstructure:"build_delay"`
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// QueueSettings converts the queue section for the job runner
func (c *Config) QueueSettings() queue.Config {
	return queue.Config{
		Concurrency:        c.Queue.Concurrency,
		RateLimit:          c.Queue.RateLimit,
		RateWindow:         c.Queue.RateWindow,
		MaxAttempts:        c.Queue.MaxAttempts,
		BackoffBase:        c.Queue.BackoffBase,
		CompletedRetention: c.Queue.CompletedRetention,
		FailedRetention:    c.Queue.FailedRetention,
		JanitorInterval:    c.Queue.JanitorInterval,
	}
}

// ExecutorSettings converts the executor section
func (c *Config) ExecutorSettings() exchange.ExecutorConfig {
	return exchange.ExecutorConfig{
		MinDelay:       c.Executor.MinDelay,
		MaxDelay:       c.Executor.MaxDelay,
		MaxPriceImpact: c.Executor.MaxPriceImpact,
	}
}

// PipelineSettings converts the pipeline section
func (c *Config) PipelineSettings() trading.PipelineConfig {
	return trading.PipelineConfig{BuildDelay: c.Pipeline.BuildDelay}
}

// StreamSettings converts the websocket settings of the server section
func (c *Config) StreamSettings() broadcast.StreamConfig {
	cfg := broadcast.DefaultStreamConfig()
	cfg.PingInterval = c.Server.WSPingInterval
	cfg.CloseDelay = c.Server.WSCloseDelay
	cfg.SendBuffer = c.Server.WSSendBuffer
	return cfg
}

// RateLimits converts the HTTP rate limits
func (c *Config) RateLimits() middleware.Limits {
	return middleware.Limits{
		SubmitPerMinute: c.Server.SubmitRateLimit,
		ReadPerMinute:   c.Server.ReadRateLimit,
	}
}

// SourceConfigs returns the enabled venues in configured priority order, with
// the latency and failure overrides applied
func (c *Config) SourceConfigs() ([]exchange.SourceConfig, error) {
	known := make(map[string]exchange.SourceConfig)
	for _, sc := range exchange.DefaultSources() {
		known[sc.ID] = sc
	}

	out := make([]exchange.SourceConfig, 0, len(c.Router.Sources))
	for _, name := range c.Router.Sources {
		sc, ok := known[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if c.Router.MinLatency > 0 {
			sc.MinLatency = c.Router.MinLatency
		}
		if c.Router.MaxLatency > 0 {
			sc.MaxLatency = c.Router.MaxLatency
		}
		sc.FailureRate = c.Router.FailureRate
		out = append(out, sc)
	}
	return out, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment must not be empty"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port must be in 1..65535"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.SubmitRateLimit < 0 || c.Server.ReadRateLimit < 0 {
		err = multierr.Append(err, errors.New("server rate limits must not be negative"))
	}
	if c.Server.WSCloseDelay < 0 {
		err = multierr.Append(err, errors.New("server.ws_close_delay must not be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level must not be empty"))
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite":
		if c.Database.Path == "" {
			err = multierr.Append(err, errors.New("database.path must not be empty for sqlite"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver %q must be sqlite or memory", c.Database.Driver))
	}
	if c.Queue.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("queue.concurrency must be positive"))
	}
	if c.Queue.RateLimit < 0 {
		err = multierr.Append(err, errors.New("queue.rate_limit must not be negative"))
	}
	if c.Queue.RateWindow <= 0 {
		err = multierr.Append(err, errors.New("queue.rate_window must be positive"))
	}
	if c.Queue.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("queue.max_attempts must be positive"))
	}
	if c.Queue.BackoffBase <= 0 {
		err = multierr.Append(err, errors.New("queue.backoff_base must be positive"))
	}
	if c.Queue.CompletedRetention < 0 || c.Queue.FailedRetention < 0 {
		err = multierr.Append(err, errors.New("queue retention must not be negative"))
	}
	if len(c.Router.Sources) == 0 {
		err = multierr.Append(err, errors.New("router.sources must list at least one source"))
	} else if _, serr := c.SourceConfigs(); serr != nil {
		err = multierr.Append(err, fmt.Errorf("router.sources: %w", serr))
	}
	if c.Router.ReferencePrice <= 0 {
		err = multierr.Append(err, errors.New("router.reference_price must be positive"))
	}
	if c.Router.MinLatency > c.Router.MaxLatency {
		err = multierr.Append(err, errors.New("router.min_latency must not exceed max_latency"))
	}
	if c.Router.FailureRate < 0 || c.Router.FailureRate > 1 {
		err = multierr.Append(err, errors.New("router.failure_rate must be in [0,1]"))
	}
	if c.Executor.MinDelay > c.Executor.MaxDelay {
		err = multierr.Append(err, errors.New("executor.min_delay must not exceed max_delay"))
	}
	if c.Executor.MaxPriceImpact < 0 || c.Executor.MaxPriceImpact >= 1 {
		err = multierr.Append(err, errors.New("executor.max_price_impact must be in [0,1)"))
	}
	if c.Pipeline.BuildDelay < 0 {
		err = multierr.Append(err, errors.New("pipeline.build_delay must not be negative"))
	}

	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
