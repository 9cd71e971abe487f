// Package logging configures the process-wide zerolog logger used by every
// other package. All Finch components log through the shared logger
// returned by Init rather than constructing their own.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init opens (or creates) the log file under dataDir/logs/finch.log and
// installs it as the global zerolog logger. It never fails hard: if the log
// file cannot be opened, logging falls back to stderr so a broken log path
// never blocks startup.
func Init(dataDir string, debug bool) (io.Closer, error) {
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		zerolog.SetGlobalLevel(level(debug))
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(logDir, "finch.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		zerolog.SetGlobalLevel(level(debug))
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return nil, err
	}

	zerolog.SetGlobalLevel(level(debug))
	log.Logger = zerolog.New(f).With().Timestamp().Caller().Logger()
	return f, nil
}

func level(debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
