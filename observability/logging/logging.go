package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// The risk engine itself never logs; these sinks are for the hosts that
// drive it and for the snapshot store. Lines are JSON with ts/level/msg keys
// so ingestion can index crank lag, liquidation, and checkpoint records
// uniformly across engine hosts.

// Options tunes the log sink. A zero value logs info-level JSON to stdout.
type Options struct {
	// Level is the minimum level emitted.
	Level slog.Level
	// Component distinguishes emitters sharing one service name, e.g.
	// "engine-host", "keeper", "snapshot-store".
	Component string
	// FilePath, when set, routes output through a size-rotated file.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// Setup installs the process-wide structured logger and returns it. Every
// line carries the service name, and the environment and component when
// provided.
func Setup(service, env string, opts Options) *slog.Logger {
	var sink io.Writer = os.Stdout
	if strings.TrimSpace(opts.FilePath) != "" {
		sink = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
	}
	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: renameAttrs,
	})

	logger := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	if env = strings.TrimSpace(env); env != "" {
		logger = logger.With(slog.String("env", env))
	}
	if component := strings.TrimSpace(opts.Component); component != "" {
		logger = logger.With(slog.String("component", component))
	}
	slog.SetDefault(logger)
	return logger
}

// renameAttrs maps slog's default keys onto the ingestion schema: ts for the
// timestamp, a lower-case level, and msg for the message body.
func renameAttrs(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
	case slog.LevelKey:
		return slog.String("level", strings.ToLower(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "msg"
	}
	return attr
}
