package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	q := cfg.QueueSettings()
	if q.Concurrency != 10 || q.RateLimit != 100 || q.RateWindow != time.Minute || q.MaxAttempts != 3 || q.BackoffBase != time.Second {
		t.Errorf("queue settings = %+v", q)
	}
	if q.CompletedRetention != time.Hour || q.FailedRetention != 24*time.Hour {
		t.Errorf("retention = %s / %s", q.CompletedRetention, q.FailedRetention)
	}

	sources, err := cfg.SourceConfigs()
	if err != nil {
		t.Fatalf("SourceConfigs failed: %v", err)
	}
	if len(sources) != 2 || sources[0].ID != "raydium" || sources[1].ID != "meteora" {
		t.Errorf("sources = %+v", sources)
	}

	if cfg.Server.WSCloseDelay != time.Second || cfg.StreamSettings().CloseDelay != time.Second {
		t.Errorf("close delay = %s", cfg.Server.WSCloseDelay)
	}
	if cfg.Pipeline.BuildDelay != 0 {
		t.Errorf("build delay = %s, want 0", cfg.Pipeline.BuildDelay)
	}
	if cfg.Executor.MinDelay != 2*time.Second || cfg.Executor.MaxDelay != 3*time.Second {
		t.Errorf("executor = %+v", cfg.Executor)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SWAP_QUEUE_CONCURRENCY", "4")
	t.Setenv("SWAP_QUEUE_BACKOFF_BASE", "250ms")
	t.Setenv("SWAP_ROUTER_SOURCES", "meteora, raydium")
	t.Setenv("SWAP_ROUTER_FAILURE_RATE", "0.25")
	t.Setenv("PORT", "8081")
	t.Setenv("ENV", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Queue.Concurrency != 4 || cfg.Queue.BackoffBase != 250*time.Millisecond {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Addr() != ":8081" {
		t.Errorf("addr = %s", cfg.Addr())
	}
	if !cfg.IsProduction() {
		t.Error("ENV=production not honored")
	}

	sources, _ := cfg.SourceConfigs()
	if len(sources) != 2 || sources[0].ID != "meteora" {
		t.Errorf("priority order = %+v", sources)
	}
	for _, sc := range sources {
		if sc.FailureRate != 0.25 {
			t.Errorf("%s failure rate = %v", sc.ID, sc.FailureRate)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
app:
  environment: staging
database:
  driver: memory
queue:
  max_attempts: 5
  rate_window: 30s
executor:
  min_delay: 10ms
  max_delay: 20ms
pipeline:
  build_delay: 50ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// environment still wins over the file
	t.Setenv("SWAP_QUEUE_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Environment != "staging" || cfg.Database.Driver != "memory" {
		t.Errorf("app/database = %+v / %+v", cfg.App, cfg.Database)
	}
	if cfg.Queue.MaxAttempts != 7 || cfg.Queue.RateWindow != 30*time.Second {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if e := cfg.ExecutorSettings(); e.MinDelay != 10*time.Millisecond || e.MaxDelay != 20*time.Millisecond {
		t.Errorf("executor = %+v", e)
	}
	if cfg.PipelineSettings().BuildDelay != 50*time.Millisecond {
		t.Errorf("build delay = %s", cfg.Pipeline.BuildDelay)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestValidateAggregates(t *testing.T) {
	t.Setenv("SWAP_QUEUE_CONCURRENCY", "0")
	t.Setenv("SWAP_ROUTER_SOURCES", "raydium,orca")
	t.Setenv("SWAP_LOGGING_FORMAT", "xml")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"queue.concurrency", "unknown source \"orca\"", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}

func TestRateLimits(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	limits := cfg.RateLimits()
	if limits.SubmitPerMinute != 100 || limits.ReadPerMinute != 1000 {
		t.Errorf("limits = %+v", limits)
	}
}
