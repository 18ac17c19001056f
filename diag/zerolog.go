package diag

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig contains logger configuration.
type LogConfig struct {
	// Level sets the logging level (debug, info, warn, error).
	Level string
	// Pretty enables human-readable console output.
	Pretty bool
	// Output sets the output writer (defaults to os.Stderr).
	Output io.Writer
}

// NewLogger creates a zerolog logger from cfg.
func NewLogger(cfg LogConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

type zerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink writes events to logger, keeping their fields structured.
func NewZerologSink(logger zerolog.Logger) Sink {
	return &zerologSink{logger: logger}
}

func (s *zerologSink) Emit(e Event) error {
	var ev *zerolog.Event
	switch e.Level {
	case Debug:
		ev = s.logger.Debug()
	case Info:
		ev = s.logger.Info()
	case Warn:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Error()
	}
	// Disabled levels return a nil event.
	if ev == nil {
		return nil
	}

	for k, v := range e.Fields {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			continue
		}
		ev = ev.Interface(k, v)
	}
	ev.Time("emitted", e.Time).Msg(e.Message)
	return nil
}
