package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
)

// ServiceName is attached to every entry as "service".
const ServiceName = "graylogger"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

var secretKeys = []string{"password", "token", "secret", "authorization"}

// Logger is a slog.Logger carrying the service and version fields. When
// it writes to a file, Close releases it.
type Logger struct {
	*slog.Logger
	file io.Closer
}

// New builds the logger described by the logging section of config.yaml.
//
// If logging.output is "file" and the file cannot be opened, entries go to
// stderr instead, preceded by a warning naming the path.
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Build version, logged on every entry
//
// Returns:
//   - *Logger: Ready for use; Close it on shutdown
func New(cfg config.LoggingConfig, version string) *Logger {
	w, file, openErr := openOutput(cfg)
	l := newWithWriter(cfg, version, w)
	l.file = file
	if openErr != nil {
		l.Warn("log file unavailable, using stderr", "path", cfg.File.Path, "error", openErr)
	}
	return l
}

func newWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(h).With("service", ServiceName, "version", version),
	}
}

// openOutput returns the destination writer and, for files, its closer.
func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		path := cfg.File.Path
		if path == "" {
			return os.Stderr, nil, os.ErrInvalid
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return os.Stderr, nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // operator-supplied path
		if err != nil {
			return os.Stderr, nil, err
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redact masks secrets passed as attributes, e.g. a config dump.
func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

// With returns a child logger with extra fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

// Component returns a child logger tagged component=name.
//
//	log.Component("engine").Info("cycle completed")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close closes the log file, if any. Children share the parent's file;
// close only the logger New returned.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Default logs JSON at info level to stdout, for use before the
// configuration is loaded.
func Default() *Logger {
	return newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
