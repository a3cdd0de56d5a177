package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ksred/klear-swap/internal/config"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs the global zerolog logger and level. Pretty console output is
// used outside production unless json is configured; a rotating file is added
// when logging.file is set. The returned closer flushes the file.
func Setup(cfg *config.Config) (io.Closer, error) {
	logger, closer, err := New(cfg, os.Stdout)
	if err != nil {
		return nil, err
	}

	level, err := Level(cfg)
	if err != nil {
		closer.Close()
		return nil, err
	}

	zlog.Logger = logger
	zerolog.SetGlobalLevel(level)
	return closer, nil
}

// New builds a logger writing to out and, optionally, to the rotating file
func New(cfg *config.Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	var console io.Writer = out
	if !cfg.IsProduction() && !strings.EqualFold(cfg.Logging.Format, "json") {
		console = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	if cfg.Logging.File == "" {
		return zerolog.New(console).With().Timestamp().Logger(), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB, // megabytes
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}

	// the file always gets JSON lines
	writer := zerolog.MultiLevelWriter(console, file)
	return zerolog.New(writer).With().Timestamp().Logger(), file, nil
}

// Level resolves the global level; debug mode forces debug
func Level(cfg *config.Config) (zerolog.Level, error) {
	if cfg.App.Debug {
		return zerolog.DebugLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	return level, nil
}
