/*
	Helper functions for emitting structured logs.

	These functions encompass the common lifecycle events of store, transport
	and ledger operations, and using them A) saves typing and B) keeps the
	common stuff formatted in a common way between components.
	Components can of course also write their own log events raw.
*/
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

/*
	Build a logger writing to stderr.

	Level is one of zap's level names ("debug", "info", "warn", "error");
	blank means "warn", which keeps the git remote helper quiet by default.
*/
func New(level string, format string) (*zap.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var cfg zap.Config
	switch format {
	case "", FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	case FormatJSON:
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q (valid options are %q or %q)", format, FormatConsole, FormatJSON)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Returns the given logger, or a no-op logger if it's nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Typically called with a 'hit.ErrStoreUnavailable'; mode is "read", "write", "list" or "delete".
func StoreUnavailable(log *zap.Logger, err error, store string, path string, mode string) {
	log.Warn("store unavailable",
		zap.String("store", store),
		zap.String("path", path),
		zap.String("mode", mode),
		zap.Error(err),
	)
}

func RefResolved(log *zap.Logger, name string, kind string, target string) {
	log.Debug("ref resolved",
		zap.String("ref", name),
		zap.String("kind", kind),
		zap.String("target", target),
	)
}

func ObjectTransferred(log *zap.Logger, path string, direction string, size int) {
	log.Debug("object transferred",
		zap.String("path", path),
		zap.String("direction", direction),
		zap.Int("size", size),
	)
}

func LedgerCall(log *zap.Logger, kind string, function string, contract string) {
	log.Info("ledger call",
		zap.String("kind", kind),
		zap.String("function", function),
		zap.String("contract", contract),
	)
}

func LedgerRejected(log *zap.Logger, function string, detail string) {
	log.Warn("ledger rejected call",
		zap.String("function", function),
		zap.String("detail", detail),
	)
}

// Called when the ledger accepted a mutation but the metadata record could not be saved.
func PartialCommit(log *zap.Logger, err error, operation string, subject string) {
	log.Error("ledger and metadata record diverged",
		zap.String("operation", operation),
		zap.String("subject", subject),
		zap.Error(err),
	)
}
