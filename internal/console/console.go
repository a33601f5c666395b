package console

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Console receives human-facing progress and validation messages from the engine.
// Presentation is up to the implementation.
type Console interface {
	Progress(message string)
	Info(message string)
	Warn(message string)
	Error(message string)
}

// Level classifies console messages.
type Level string

// Console message levels.
const (
	LevelProgress Level = "progress"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
)

const (
	writerLineTemplateConstant         = "%s\n"
	writerPrefixedLineTemplateConstant = "%s: %s\n"
	writerWarningPrefixConstant        = "WARNING"
	writerErrorPrefixConstant          = "ERROR"
)

// NopConsole discards every message.
type NopConsole struct{}

// Progress discards the message.
func (NopConsole) Progress(string) {}

// Info discards the message.
func (NopConsole) Info(string) {}

// Warn discards the message.
func (NopConsole) Warn(string) {}

// Error discards the message.
func (NopConsole) Error(string) {}

// ZapConsole renders messages through a zap logger configured for human-readable output.
// Progress messages are logged at debug level.
type ZapConsole struct {
	logger *zap.Logger
}

// NewZapConsole constructs a ZapConsole.
func NewZapConsole(logger *zap.Logger) *ZapConsole {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapConsole{logger: logger}
}

// Progress logs at debug level.
func (console *ZapConsole) Progress(message string) {
	console.logger.Debug(message)
}

// Info logs at info level.
func (console *ZapConsole) Info(message string) {
	console.logger.Info(message)
}

// Warn logs at warn level.
func (console *ZapConsole) Warn(message string) {
	console.logger.Warn(message)
}

// Error logs at error level.
func (console *ZapConsole) Error(message string) {
	console.logger.Error(message)
}

// WriterConsole prints messages as plain lines. Progress lines are printed only when verbose.
// Writers exposing Flush are flushed after every line.
type WriterConsole struct {
	mutex   sync.Mutex
	writer  io.Writer
	verbose bool
}

// NewWriterConsole constructs a WriterConsole.
func NewWriterConsole(writer io.Writer, verbose bool) *WriterConsole {
	return &WriterConsole{writer: writer, verbose: verbose}
}

// Progress prints the message when verbose.
func (console *WriterConsole) Progress(message string) {
	if !console.verbose {
		return
	}
	console.print(writerLineTemplateConstant, message)
}

// Info prints the message.
func (console *WriterConsole) Info(message string) {
	console.print(writerLineTemplateConstant, message)
}

// Warn prints the message with a warning prefix.
func (console *WriterConsole) Warn(message string) {
	console.print(writerPrefixedLineTemplateConstant, writerWarningPrefixConstant, message)
}

// Error prints the message with an error prefix.
func (console *WriterConsole) Error(message string) {
	console.print(writerPrefixedLineTemplateConstant, writerErrorPrefixConstant, message)
}

func (console *WriterConsole) print(template string, arguments ...any) {
	console.mutex.Lock()
	defer console.mutex.Unlock()
	fmt.Fprintf(console.writer, template, arguments...)
	if flushableWriter, implementsFlush := console.writer.(interface{ Flush() error }); implementsFlush {
		_ = flushableWriter.Flush()
	}
}

// Entry is one message captured by RecordingConsole.
type Entry struct {
	Level   Level
	Message string
}

// RecordingConsole captures messages for assertions.
type RecordingConsole struct {
	mutex   sync.Mutex
	entries []Entry
}

// Progress records the message.
func (console *RecordingConsole) Progress(message string) {
	console.record(LevelProgress, message)
}

// Info records the message.
func (console *RecordingConsole) Info(message string) {
	console.record(LevelInfo, message)
}

// Warn records the message.
func (console *RecordingConsole) Warn(message string) {
	console.record(LevelWarn, message)
}

// Error records the message.
func (console *RecordingConsole) Error(message string) {
	console.record(LevelError, message)
}

// Entries returns the captured messages in order.
func (console *RecordingConsole) Entries() []Entry {
	console.mutex.Lock()
	defer console.mutex.Unlock()
	return append([]Entry(nil), console.entries...)
}

// Messages returns the captured messages of the given level in order.
func (console *RecordingConsole) Messages(level Level) []string {
	var messages []string
	for _, entry := range console.Entries() {
		if entry.Level == level {
			messages = append(messages, entry.Message)
		}
	}
	return messages
}

func (console *RecordingConsole) record(level Level, message string) {
	console.mutex.Lock()
	defer console.mutex.Unlock()
	console.entries = append(console.entries, Entry{Level: level, Message: message})
}
