package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// NewLogger builds the process logger from the run context: LogLevel
// picks the floor, Verbose lowers it to debug, and the level encoder is
// colorized only when stderr is a terminal (a capture piped into another
// process gets plain text). Everything goes to stderr so stdout stays
// reserved for dissector output and the run summary.
func (c *Config) NewLogger() (*zap.SugaredLogger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("config: unknown log level %q: %w", c.LogLevel, err)
	}
	if c.Verbose && level > zapcore.DebugLevel {
		level = zapcore.DebugLevel
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core).Sugar(), nil
}
