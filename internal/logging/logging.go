// Package logging configures the process-wide zerolog logger for the
// command line programs.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs a logger at the configured level as log.Logger and returns
// it. DEV gets human readable console output; anything else gets JSON.
func Setup(cfg config.EnvConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.GetEnv() == "DEV" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", cfg.GetAppName()).Logger()
	log.Logger = logger
	return logger
}
