package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"workflowsweep/internal/redact"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

type Options struct {
	Level  string
	Format string

	// Writer receives console log lines. Defaults to stderr so stdout stays
	// reserved for structured output.
	Writer io.Writer

	// Dir, when set, additionally writes JSON logs to
	// <Dir>/workflowsweep-<timestamp>.log.
	Dir string
	Now func() time.Time

	Redactor *redact.Redactor
}

// New builds a logger honoring the requested level and format. The returned
// close func syncs and closes the log file, if any.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, ok := levels[strings.ToLower(strings.TrimSpace(opts.Level))]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported log level: %s", opts.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case FormatConsole, "":
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(w), level)}

	closeFn := func() error { return nil }
	if opts.Dir != "" {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		path := filepath.Join(opts.Dir, fmt.Sprintf("workflowsweep-%s.log", now().Format("20060102-150405")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
		closeFn = func() error {
			_ = f.Sync()
			return f.Close()
		}
	}

	core := zapcore.NewTee(cores...)
	if opts.Redactor != nil {
		core = NewRedactingCore(core, opts.Redactor)
	}
	return zap.New(core), closeFn, nil
}
