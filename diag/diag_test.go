package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	calls  int
	fail   int // number of calls that fail before succeeding
	events []Event
}

func (s *recordingSink) Emit(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func TestChannel_Delivers(t *testing.T) {
	assert := assert.New(t)

	sink := &recordingSink{}
	ch := NewChannel(sink)
	ch.Emit(Info, "first", Fields{"n": 1})
	ch.Emit(Warn, "second", nil)
	assert.NoError(ch.Close())

	require.Len(t, sink.events, 2)
	assert.Equal("first", sink.events[0].Message)
	assert.Equal(Info, sink.events[0].Level)
	assert.Equal(1, sink.events[0].Fields["n"])
	assert.Equal("second", sink.events[1].Message)
	assert.Zero(ch.Dropped())
}

func TestChannel_RetriesOnce(t *testing.T) {
	assert := assert.New(t)

	sink := &recordingSink{fail: 1}
	ch := NewChannel(sink)
	ch.Emit(Error, "flaky", nil)
	assert.NoError(ch.Close())

	assert.Equal(2, sink.calls)
	assert.Len(sink.events, 1)
	assert.Zero(ch.Failed())
}

func TestChannel_SwallowsSecondFailure(t *testing.T) {
	assert := assert.New(t)

	var fallback bytes.Buffer
	sink := &recordingSink{fail: 100}
	ch := NewChannel(sink, WithFallback(zerolog.New(&fallback)))
	ch.Emit(Error, "one", nil)
	ch.Emit(Error, "two", nil)
	assert.NoError(ch.Close())

	assert.Equal(4, sink.calls)
	assert.Empty(sink.events)
	assert.EqualValues(2, ch.Failed())

	// Only the first failure reaches the fallback logger.
	assert.Equal(1, bytes.Count(fallback.Bytes(), []byte("\n")))
	assert.Contains(fallback.String(), "sink unavailable")
}

func TestChannel_SinkPanicIsFailure(t *testing.T) {
	ch := NewChannel(SinkFunc(func(Event) error {
		panic("boom")
	}), WithFallback(zerolog.Nop()))
	ch.Emit(Info, "x", nil)
	assert.NoError(t, ch.Close())
	assert.EqualValues(t, 1, ch.Failed())
}

func TestChannel_DropsWhenFull(t *testing.T) {
	assert := assert.New(t)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var delivered int
	ch := NewChannel(SinkFunc(func(Event) error {
		once.Do(func() { close(started) })
		<-release
		delivered++
		return nil
	}), WithQueueSize(2))

	// The first event is taken by the delivery goroutine and blocks there.
	ch.Emit(Info, "held", nil)
	<-started

	for range 5 {
		ch.Emit(Info, "queued", nil)
	}
	close(release)
	assert.NoError(ch.Close())

	assert.Equal(3, delivered)
	assert.EqualValues(3, ch.Dropped())
}

func TestChannel_Closed(t *testing.T) {
	assert := assert.New(t)

	sink := &recordingSink{}
	ch := NewChannel(sink)
	assert.NoError(ch.Close())
	assert.Error(ch.Close())

	ch.Emit(Info, "late", nil)
	assert.EqualValues(1, ch.Dropped())
	assert.Empty(sink.events)
}

func TestChannel_Nil(t *testing.T) {
	var ch *Channel
	assert.NotPanics(t, func() {
		ch.Emit(Info, "nothing", nil)
	})
	assert.NoError(t, ch.Close())
	assert.Zero(t, ch.Dropped())
}

func TestZerologSink(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})
	ch := NewChannel(NewZerologSink(logger))
	ch.Emit(Warn, "skip ignored", Fields{
		"component": "registry",
		"err":       errors.New("not allowed"),
	})
	assert.NoError(ch.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal("warn", line["level"])
	assert.Equal("skip ignored", line["message"])
	assert.Equal("registry", line["component"])
	assert.Equal("not allowed", line["err"])
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
