// SPDX-License-Identifier: GPL-2.0-or-later

// Package log is a small structured logger with subscribable feeds.
package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ErrInvalidLevel invalid log level.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses "error", "warning", "info" or "debug".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// UnixMicro microseconds since the unix epoch.
type UnixMicro uint64

// Entry defines log entry.
type Entry struct {
	Level   Level
	Time    UnixMicro // Timestamp.
	Msg     string    // Message
	Src     string    // Source.
	Session string    // Writer session token.
}

// Event defines log event.
type Event struct {
	level   Level
	time    UnixMicro
	src     string
	session string

	logger *Logger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Session sets event session token.
func (e *Event) Session(token string) *Event {
	e.session = token
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMicro(t.UnixMicro())
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.logger.send(Entry{
		Level:   e.level,
		Time:    e.time,
		Msg:     msg,
		Src:     e.src,
		Session: e.session,
	})
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of log entries.
type Feed <-chan Entry

type logFeed chan Entry

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	level Level
	wg    *sync.WaitGroup

	// Closed when the logger goroutine exits.
	done chan struct{}
	once sync.Once
}

// NewLogger returns a logger, Start must be called before use.
func NewLogger(wg *sync.WaitGroup, level Level) *Logger {
	return &Logger{
		feed:  make(logFeed, 64),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),

		level: level,
		wg:    wg,
		done:  make(chan struct{}),
	}
}

// NewMockLogger used for testing.
func NewMockLogger() *Logger {
	logger := NewLogger(&sync.WaitGroup{}, LevelDebug)
	logger.Start(context.Background())
	return logger
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.once.Do(func() {
		l.wg.Add(1)
		go l.run(ctx)
	})
}

func (l *Logger) run(ctx context.Context) {
	defer l.wg.Done()
	defer close(l.done)

	subs := map[logFeed]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return

		case ch := <-l.sub:
			subs[ch] = struct{}{}

		case ch := <-l.unsub:
			close(ch)
			delete(subs, ch)

		case entry := <-l.feed:
			for ch := range subs {
				ch <- entry
			}
		}
	}
}

func (l *Logger) send(entry Entry) {
	if entry.Level > l.level {
		return
	}
	select {
	case l.feed <- entry:
	case <-l.done:
	}
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// Done returns a channel that is closed when the logger stops.
func (l *Logger) Done() <-chan struct{} {
	return l.done
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(formatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatEntry(entry Entry) string {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.Session != "" {
		output += entry.Session + ": "
	}
	if entry.Src != "" {
		output += strings.ToUpper(entry.Src[:1]) + entry.Src[1:] + ": "
	}

	return output + entry.Msg
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}
