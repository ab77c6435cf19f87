// Logging setup. The default phuslu logger is configured once at startup
// from the [logging] config section; components derive their own loggers
// from it through NewLoggerCtx.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/phuslu/log"

	"traceproc/internal/config"
)

var levels = map[string]log.Level{
	"trace":   log.TraceLevel,
	"debug":   log.DebugLevel,
	"info":    log.InfoLevel,
	"warn":    log.WarnLevel,
	"warning": log.WarnLevel,
	"error":   log.ErrorLevel,
	"fatal":   log.FatalLevel,
}

// ConfigureLogging applies the logging config to log.DefaultLogger. Every
// component logger created afterwards inherits the settings.
func ConfigureLogging(cfg config.LoggingConfig) error {
	writer, err := buildWriter(cfg.Outputs)
	if err != nil {
		return err
	}

	level, ok := levels[cfg.Defaults.Level]
	if !ok {
		level = log.InfoLevel
	}

	log.DefaultLogger = log.Logger{
		Level:        level,
		Caller:       cfg.Defaults.Caller,
		TimeField:    cfg.Defaults.TimeField,
		TimeFormat:   timeFormat(cfg.Defaults.TimeFormat),
		TimeLocation: timeLocation(cfg.Defaults.TimeLocation),
		Writer:       writer,
	}

	log.Info().
		Str("level", cfg.Defaults.Level).
		Int("outputs", len(cfg.Outputs)).
		Msg("Loggers configured")
	return nil
}

// buildWriter assembles one writer covering every enabled output. With no
// output enabled, entries still go to stderr; losing them would hide
// ingestion errors.
func buildWriter(outputs []config.LogOutput) (log.Writer, error) {
	var writers []log.Writer
	for _, out := range outputs {
		if !out.Enabled {
			continue
		}
		w, err := newWriter(out)
		if err != nil {
			return nil, fmt.Errorf("logging output %q: %w", out.Type, err)
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return &log.IOWriter{Writer: os.Stderr}, nil
	case 1:
		return writers[0], nil
	default:
		multi := log.MultiEntryWriter(writers)
		return &multi, nil
	}
}

func newWriter(out config.LogOutput) (log.Writer, error) {
	switch out.Type {
	case "console":
		c := out.Console
		if c == nil {
			return nil, fmt.Errorf("missing console settings")
		}
		dest := os.Stderr
		if c.Writer == "stdout" {
			dest = os.Stdout
		}
		if c.FastIO {
			return maybeAsync(&log.IOWriter{Writer: dest}, c.Async), nil
		}
		w := &log.ConsoleWriter{
			ColorOutput:    c.ColorOutput,
			QuoteString:    c.QuoteString,
			EndWithMessage: true,
			Writer:         dest,
		}
		if c.Format == "logfmt" {
			w.Formatter = log.LogfmtFormatter{TimeField: "time"}.Formatter
		}
		return maybeAsync(w, c.Async), nil

	case "file":
		f := out.File
		if f == nil {
			return nil, fmt.Errorf("missing file settings")
		}
		if f.EnsureFolder {
			if err := os.MkdirAll(filepath.Dir(f.Filename), 0o755); err != nil {
				return nil, err
			}
		}
		return maybeAsync(&log.FileWriter{
			Filename:     f.Filename,
			FileMode:     0o644,
			MaxSize:      f.MaxSize << 20,
			MaxBackups:   f.MaxBackups,
			TimeFormat:   f.TimeFormat,
			LocalTime:    f.LocalTime,
			HostName:     f.HostName,
			ProcessID:    f.ProcessID,
			EnsureFolder: f.EnsureFolder,
		}, f.Async), nil

	case "syslog":
		s := out.Syslog
		if s == nil {
			return nil, fmt.Errorf("missing syslog settings")
		}
		return maybeAsync(&log.SyslogWriter{
			Network:  s.Network,
			Address:  s.Address,
			Hostname: s.Hostname,
			Tag:      s.Tag,
			Marker:   s.Marker,
		}, s.Async), nil
	}
	return nil, fmt.Errorf("unknown output type")
}

func maybeAsync(w log.Writer, async bool) log.Writer {
	if !async {
		return w
	}
	return &log.AsyncWriter{ChannelSize: 4096, Writer: w}
}

func timeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	}
	return format
}

func timeLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

// NewLoggerCtx derives a component logger from the configured default. The
// component name rides along as a context field on every entry. Caller info
// stays off for component loggers; the component field already locates the
// source.
func NewLoggerCtx(component string) *log.Logger {
	base := &log.DefaultLogger
	return &log.Logger{
		Level:        base.Level,
		TimeField:    base.TimeField,
		TimeFormat:   base.TimeFormat,
		TimeLocation: base.TimeLocation,
		Writer:       base.Writer,
		Context:      log.NewContext(base.Context).Str("component", component).Value(),
	}
}
