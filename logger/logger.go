package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger instantiate zerolog configuration. The level comes from
// EPOCHSTORE_LOG_LEVEL, defaulting to info when unset or unparsable. JSON
// output is selected with EPOCHSTORE_LOG_FORMAT_JSON and goes to stdout for
// collectors; the human readable console format goes to stderr
func NewLogger() *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.TrimSpace(os.Getenv("EPOCHSTORE_LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if strings.TrimSpace(os.Getenv("EPOCHSTORE_LOG_FORMAT_JSON")) != "" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    true,
			TimeFormat: zerolog.TimeFieldFormat,
		}
		output.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-5s", i))
		}
		logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	}
	return &logger
}
