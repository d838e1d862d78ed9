package wsession

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger adapts a zerolog.Logger to Logger. Fields added through WithField become
// structured fields on every subsequent event.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return zerologLogger{zl: zl}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return zerologLogger{zl: zerolog.Nop()}
}

func (l zerologLogger) WithField(key string, value any) Logger {
	return zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l zerologLogger) Debug(args ...any) { l.zl.Debug().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

func (l zerologLogger) Debugln(args ...any) { l.zl.Debug().Msg(sprintln(args...)) }

func (l zerologLogger) Info(args ...any) { l.zl.Info().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Infof(format string, args ...any) { l.zl.Info().Msgf(format, args...) }

func (l zerologLogger) Infoln(args ...any) { l.zl.Info().Msg(sprintln(args...)) }

func (l zerologLogger) Warn(args ...any) { l.zl.Warn().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Warnf(format string, args ...any) { l.zl.Warn().Msgf(format, args...) }

func (l zerologLogger) Warnln(args ...any) { l.zl.Warn().Msg(sprintln(args...)) }

func (l zerologLogger) Error(args ...any) { l.zl.Error().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

func (l zerologLogger) Errorln(args ...any) { l.zl.Error().Msg(sprintln(args...)) }

// sprintln mimics fmt.Sprintln spacing without the trailing newline, which zerolog would escape.
func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
