// ABOUTME: Zerolog adapter implementing the engine's structured logging contract
// ABOUTME: Console output for interactive use, JSON output for the server process

package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/weftwork/weft/pkg/types"
)

// Format selects the log output encoding
type Format string

const (
	// FormatConsole renders human-readable colored output
	FormatConsole Format = "console"
	// FormatJSON renders one JSON object per line
	FormatJSON Format = "json"
)

// New creates a logger at the given level. A nil output writes to stderr.
func New(level string, format Format, output io.Writer) types.Logger {
	if output == nil {
		output = os.Stderr
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	writer := output
	if format != FormatJSON {
		writer = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    os.Getenv("NO_COLOR") != "",
		}
	}

	logger := zerolog.New(writer).
		Level(parsed).
		With().
		Timestamp().
		Logger()

	return &wrapper{logger: logger}
}

// Nop returns a logger that discards everything
func Nop() types.Logger {
	return &wrapper{logger: zerolog.Nop()}
}

// ForExecution returns a logger carrying the execution identity
func ForExecution(base types.Logger, executionID, workflowName string) types.Logger {
	return base.With().
		Str("executionId", executionID).
		Str("workflow", workflowName).
		Logger()
}

// wrapper adapts zerolog.Logger to types.Logger
type wrapper struct {
	logger zerolog.Logger
}

// Debug implements types.Logger
func (w *wrapper) Debug() types.LogEvent {
	return &event{event: w.logger.Debug()}
}

// Info implements types.Logger
func (w *wrapper) Info() types.LogEvent {
	return &event{event: w.logger.Info()}
}

// Warn implements types.Logger
func (w *wrapper) Warn() types.LogEvent {
	return &event{event: w.logger.Warn()}
}

// Error implements types.Logger
func (w *wrapper) Error() types.LogEvent {
	return &event{event: w.logger.Error()}
}

// With implements types.Logger
func (w *wrapper) With() types.LogContext {
	return &logContext{context: w.logger.With()}
}

// event adapts zerolog.Event to types.LogEvent
type event struct {
	event *zerolog.Event
}

// Str adds a string field
func (e *event) Str(key, val string) types.LogEvent {
	e.event = e.event.Str(key, val)
	return e
}

// Int adds an integer field
func (e *event) Int(key string, val int) types.LogEvent {
	e.event = e.event.Int(key, val)
	return e
}

// Dur adds a duration field
func (e *event) Dur(key string, val time.Duration) types.LogEvent {
	e.event = e.event.Dur(key, val)
	return e
}

// Err adds an error field
func (e *event) Err(err error) types.LogEvent {
	e.event = e.event.Err(err)
	return e
}

// Bool adds a boolean field
func (e *event) Bool(key string, val bool) types.LogEvent {
	e.event = e.event.Bool(key, val)
	return e
}

// Any adds an arbitrary field
func (e *event) Any(key string, val interface{}) types.LogEvent {
	e.event = e.event.Interface(key, val)
	return e
}

// Msg logs the event with a message
func (e *event) Msg(msg string) {
	e.event.Msg(msg)
}

// Msgf logs the event with a formatted message
func (e *event) Msgf(format string, args ...interface{}) {
	e.event.Msgf(format, args...)
}

// logContext adapts zerolog.Context to types.LogContext
type logContext struct {
	context zerolog.Context
}

// Str adds a string field to the context
func (c *logContext) Str(key, val string) types.LogContext {
	c.context = c.context.Str(key, val)
	return c
}

// Logger returns the logger with the built context
func (c *logContext) Logger() types.Logger {
	return &wrapper{logger: c.context.Logger()}
}
