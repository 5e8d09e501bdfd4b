// Package logging provides structured logging for go-blkio
package logging

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with device and request scoped fields
type Logger struct {
	zlog   zerolog.Logger
	device string
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with an async buffered channel
// This prevents blocking in hot paths
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	aw.mu.Unlock()

	// Make a copy since p might be reused
	msg := make([]byte, len(p))
	copy(msg, p)

	// Non-blocking write - drop if buffer full (better than blocking)
	select {
	case aw.ch <- msg:
		return len(p), nil
	default:
		// Buffer full - drop message to avoid blocking
		return len(p), nil
	}
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	// Use async writer unless Sync mode is enabled
	var output io.Writer = config.Output
	if !config.Sync {
		output = newAsyncWriter(config.Output, 1000)
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		// Console format (colors can be disabled via config)
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog: zlog,
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithDevice returns a logger with device path context
func (l *Logger) WithDevice(path string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("device", path).Logger(),
		device: path,
	}
}

// WithBackend returns a logger with completion backend context
func (l *Logger) WithBackend(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("backend", name).Logger(),
		device: l.device,
	}
}

// WithRequest returns a logger with request context
func (l *Logger) WithRequest(lba uint64, opType string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint64("lba", lba).Str("op", opType).Logger(),
		device: l.device,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		device: l.device,
	}
}

// Device returns the device path this logger is scoped to, if any
func (l *Logger) Device() string {
	return l.device
}

// IOSubmit logs a request being handed to the backend
func (l *Logger) IOSubmit(op string, lba uint64, blocks uint32) {
	l.zlog.Debug().Str("op", op).Uint64("lba", lba).Uint32("blocks", blocks).Msg("I/O request submitted")
}

// IOComplete logs a completed request
func (l *Logger) IOComplete(op string, lba uint64, bytes int, latencyUs int64) {
	l.zlog.Debug().Str("op", op).Uint64("lba", lba).Int("bytes", bytes).Int64("latency_us", latencyUs).Msg("I/O request completed")
}

// IOError logs a request that failed at queue time or completion time
func (l *Logger) IOError(op string, lba uint64, blocks uint32, err error) {
	l.zlog.Warn().Str("op", op).Uint64("lba", lba).Uint32("blocks", blocks).Err(err).Msg("I/O request failed")
}

// OSError logs a failed operating system call with its errno
func (l *Logger) OSError(call string, errno syscall.Errno) {
	l.zlog.Error().Str("call", call).Int("errno", int(errno)).Str("reason", errno.Error()).Msg("system call failed")
}

// fields appends key/value pairs to an event. Odd trailing keys and
// non-string keys are ignored.
func fields(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	return event
}

func (l *Logger) Debug(msg string, args ...any) { fields(l.zlog.Debug(), args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { fields(l.zlog.Info(), args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { fields(l.zlog.Warn(), args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { fields(l.zlog.Error(), args).Msg(msg) }

// Printf-style logging, used by the queue backends
func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zlog.Warn().Msgf(format, args...) }

// ErrorContext logs at error level unless ctx has already been cancelled,
// in which case the failure is expected and logged at debug.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	if ctx.Err() != nil {
		l.Debug(msg, args...)
		return
	}
	l.Error(msg, args...)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// ParseLevel maps a level name to a LogLevel, defaulting to info
func ParseLevel(name string) LogLevel {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return LevelInfo
	}
	return LogLevel(lvl)
}

// Convenience functions for the default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
