// Package logging wires the go-log subsystem loggers used across LanChat and
// the error hook that surfaces user-visible failures to the presentation
// layer.
package logging

import (
	"fmt"
	"strings"

	golog "github.com/ipfs/go-log/v2"
)

// Subsystem names.
const (
	SubsystemTransport = "transport"
	SubsystemDiscovery = "discovery"
	SubsystemGroup     = "group"
	SubsystemNode      = "node"
	SubsystemAPI       = "api"
	SubsystemEvents    = "events"
)

// Options configures the process-wide log output.
type Options struct {
	Level      string            // debug|info|warn|error
	Format     string            // color|plain|json
	File       string            // optional log file, written in addition to stderr
	Subsystems map[string]string // per-subsystem level overrides
}

// Logger returns the named subsystem logger.
func Logger(subsystem string) *golog.ZapEventLogger {
	return golog.Logger(subsystem)
}

// Setup applies Options to every go-log logger.
func Setup(opts Options) error {
	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var format golog.LogFormat
	switch strings.ToLower(opts.Format) {
	case "json":
		format = golog.JSONOutput
	case "plain", "text":
		format = golog.PlaintextOutput
	case "", "color":
		format = golog.ColorizedOutput
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}

	golog.SetupLogging(golog.Config{
		Format: format,
		Level:  lvl,
		Stderr: true,
		File:   opts.File,
	})

	for name, l := range opts.Subsystems {
		// SetLogLevel only knows loggers that already exist.
		golog.Logger(name)
		if err := golog.SetLogLevel(name, l); err != nil {
			return fmt.Errorf("subsystem %s: %w", name, err)
		}
	}
	return nil
}

// ErrorHook receives error-level messages that should reach the user.
type ErrorHook func(subsystem, msg string)

// Reporter is a subsystem logger whose Errorf also fires an ErrorHook.
type Reporter struct {
	*golog.ZapEventLogger
	subsystem string
	hook      ErrorHook
}

// NewReporter creates a Reporter. A nil hook makes it a plain logger.
func NewReporter(subsystem string, hook ErrorHook) *Reporter {
	return &Reporter{
		ZapEventLogger: golog.Logger(subsystem),
		subsystem:      subsystem,
		hook:           hook,
	}
}

// Errorf logs at error level and notifies the hook.
func (r *Reporter) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.ZapEventLogger.Error(msg)
	if r.hook != nil {
		r.hook(r.subsystem, msg)
	}
}
