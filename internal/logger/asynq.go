package logger

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// asynqLogger routes asynq server logs through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

// Asynq adapts log for asynq.Config.Logger.
func Asynq(log zerolog.Logger) asynq.Logger {
	return asynqLogger{log: log.With().Str("component", "asynq").Logger()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

// AsynqLevel maps a zerolog level name onto the asynq log level.
func AsynqLevel(level string) asynq.LogLevel {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return asynq.InfoLevel
	}
	switch {
	case lvl <= zerolog.DebugLevel:
		return asynq.DebugLevel
	case lvl == zerolog.WarnLevel:
		return asynq.WarnLevel
	case lvl >= zerolog.ErrorLevel:
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}
