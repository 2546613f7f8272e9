package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is a leveled logger that fans events out to the terminal, an
// optional JSONL file sink and in-process subscribers. Loggers returned by
// With share the same outputs.
type Logger struct {
	core   *core
	fields []slog.Attr
}

type core struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool

	mu          sync.RWMutex
	sink        *fileSink
	nextID      int
	subscribers map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	c := &core{
		pretty:      shouldPrettyPrint(),
		subscribers: map[int]func(Event){},
	}
	c.debugEnabled.Store(debug)
	c.terminalOut.Store(true)
	return &Logger{core: c}
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// With returns a logger that attaches fields to every event it records.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	merged := make([]slog.Attr, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{core: l.core, fields: merged}
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.debugEnabled.Store(enabled)
}

func (l *Logger) DebugEnabled() bool {
	return l != nil && l.core.debugEnabled.Load()
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.terminalOut.Store(enabled)
}

func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(maxBytes)
	if err != nil {
		return err
	}
	l.core.mu.Lock()
	old := l.core.sink
	l.core.sink = sink
	l.core.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.core.mu.Lock()
	sink := l.core.sink
	l.core.sink = nil
	l.core.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug lines always reach the file sink; the terminal only sees them in debug mode.
	l.record(slog.LevelDebug, msg, fields, l.core.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.record(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.record(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.record(slog.LevelError, msg, fields, true)
}

// Subscribe registers fn for every published event and returns a function
// that removes it.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	c := l.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (l *Logger) record(level slog.Level, msg string, fields []slog.Attr, publish bool) {
	attrs := fields
	if len(l.fields) > 0 {
		attrs = append(append(make([]slog.Attr, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}

	c := l.core
	c.mu.RLock()
	sink := c.sink
	var callbacks []func(Event)
	if publish && len(c.subscribers) > 0 {
		callbacks = make([]func(Event), 0, len(c.subscribers))
		for _, cb := range c.subscribers {
			callbacks = append(callbacks, cb)
		}
	}
	c.mu.RUnlock()

	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !publish {
		return
	}
	if c.terminalOut.Load() {
		if c.pretty {
			_, _ = os.Stderr.WriteString(FormatEventANSI(event))
		} else {
			_, _ = os.Stderr.WriteString(FormatEventLine(event))
		}
	}
	for _, cb := range callbacks {
		cb(event)
	}
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if key, value := resolveAttr(attr); key != "" {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func resolveAttr(attr slog.Attr) (string, any) {
	if attr.Key == "" {
		return "", nil
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return attr.Key, value.Any()
	}
	group := map[string]any{}
	for _, inner := range value.Group() {
		if key, val := resolveAttr(inner); key != "" {
			group[key] = val
		}
	}
	return attr.Key, group
}
