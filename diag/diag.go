// Package diag carries diagnostic events from the interception engine to a
// logging sink without ever blocking the caller.
package diag

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level is the severity of an event.
type Level int8

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	}
	return fmt.Sprintf("Level(%d)", l)
}

// Fields are structured key-value data attached to an event.
type Fields map[string]any

// Event is one diagnostic message.
type Event struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  Fields
}

// Sink receives events. It is called from a single goroutine.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Emit(e Event) error {
	return f(e)
}

const defaultQueueSize = 1024

// Channel is a bounded, non-blocking queue in front of a Sink. When the queue
// is full new events are dropped and counted. A nil *Channel discards
// everything.
type Channel struct {
	sink     Sink
	fallback zerolog.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped  atomic.Uint64
	failed   atomic.Uint64
	warnOnce sync.Once
}

// Option configures a Channel.
type Option func(*Channel)

// WithQueueSize sets how many events may wait for delivery.
func WithQueueSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queue = make(chan Event, n)
		}
	}
}

// WithFallback sets the logger that reports the first sink failure.
func WithFallback(logger zerolog.Logger) Option {
	return func(c *Channel) {
		c.fallback = logger
	}
}

// NewChannel starts delivering events to sink.
func NewChannel(sink Sink, opts ...Option) *Channel {
	c := &Channel{
		sink:     sink,
		fallback: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		queue:    make(chan Event, defaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c
}

// Emit queues an event. It never blocks.
func (c *Channel) Emit(level Level, msg string, fields Fields) {
	if c == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		c.dropped.Add(1)
		return
	}

	select {
	case c.queue <- Event{Time: time.Now(), Level: level, Message: msg, Fields: fields}:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full
// or the channel closed.
func (c *Channel) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// Failed returns the number of events the sink rejected twice.
func (c *Channel) Failed() uint64 {
	if c == nil {
		return 0
	}
	return c.failed.Load()
}

// Close stops accepting events and waits for the queued ones to be delivered.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("diagnostics channel already closed")
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.done
	return nil
}

func (c *Channel) run() {
	defer close(c.done)

	for e := range c.queue {
		c.deliver(e)
	}
}

// deliver retries a failed event once. The second failure is swallowed.
func (c *Channel) deliver(e Event) {
	err := c.send(e)
	if err == nil {
		return
	}
	if err = c.send(e); err == nil {
		return
	}

	c.failed.Add(1)
	c.warnOnce.Do(func() {
		c.fallback.Warn().
			Err(err).
			Str("event", e.Message).
			Msg("diagnostics sink failed, further failures are not reported")
	})
}

func (c *Channel) send(e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return c.sink.Emit(e)
}
