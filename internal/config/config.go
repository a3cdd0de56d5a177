package config

import (
	"fmt"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "swap"

// Load reads .env files, the optional YAML file at path and SWAP_* environment
// variables, in increasing order of precedence. An empty path runs on defaults
// and environment alone.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Router.Sources = trimAll(cfg.Router.Sources)
	cfg.Server.CORSOrigins = trimAll(cfg.Server.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.submit_rate_limit", 100)
	v.SetDefault("server.read_rate_limit", 1000)
	v.SetDefault("server.ws_ping_interval", "54s")
	v.SetDefault("server.ws_close_delay", "1s")
	v.SetDefault("server.ws_send_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "swap.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.rate_limit", 100)
	v.SetDefault("queue.rate_window", "1m")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", "1s")
	v.SetDefault("queue.completed_retention", "1h")
	v.SetDefault("queue.failed_retention", "24h")
	v.SetDefault("queue.janitor_interval", "1m")
	v.SetDefault("queue.sweep_interval", "5m")
	v.SetDefault("queue.sweep_min_age", "30s")

	v.SetDefault("router.sources", []string{"raydium", "meteora"})
	v.SetDefault("router.reference_price", 150.0)
	v.SetDefault("router.min_latency", "150ms")
	v.SetDefault("router.max_latency", "250ms")
	v.SetDefault("router.failure_rate", 0.0)

	v.SetDefault("executor.min_delay", "2s")
	v.SetDefault("executor.max_delay", "3s")
	v.SetDefault("executor.max_price_impact", 0.02)

	v.SetDefault("pipeline.build_delay", "0s")
}

// bindLegacyEnv keeps the unprefixed variables the deployment scripts set
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":     {"SWAP_SERVER_PORT", "PORT"},
		"app.environment": {"SWAP_APP_ENVIRONMENT", "ENV"},
		"app.debug":       {"SWAP_APP_DEBUG", "DEBUG"},
	}
	for key, names := range bindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
