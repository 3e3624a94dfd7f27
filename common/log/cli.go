package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"
)

const (
	LevelFlagName  = "log.level"
	FormatFlagName = "log.format"
	ColorFlagName  = "log.color"
)

type FormatType string

const (
	FormatTerminal FormatType = "terminal"
	FormatLogFmt   FormatType = "logfmt"
	FormatJSON     FormatType = "json"
)

func CLIFlags(envPrefix string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    LevelFlagName,
			Usage:   "The lowest log level that will be output (trace, debug, info, warn, error, crit)",
			Value:   "info",
			EnvVars: []string{envPrefix + "_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    FormatFlagName,
			Usage:   "Format the log output. Supported formats: 'terminal', 'logfmt', 'json'",
			Value:   string(FormatTerminal),
			EnvVars: []string{envPrefix + "_LOG_FORMAT"},
		},
		&cli.BoolFlag{
			Name:    ColorFlagName,
			Usage:   "Color the log output if in terminal mode",
			EnvVars: []string{envPrefix + "_LOG_COLOR"},
		},
	}
}

type CLIConfig struct {
	Level  slog.Level
	Color  bool
	Format FormatType
}

func ReadCLIConfig(ctx *cli.Context) CLIConfig {
	cfg := CLIConfig{
		Level:  log.LevelInfo,
		Color:  ctx.Bool(ColorFlagName),
		Format: FormatType(strings.ToLower(ctx.String(FormatFlagName))),
	}
	if lvl, err := ParseLevel(ctx.String(LevelFlagName)); err == nil {
		cfg.Level = lvl
	}
	return cfg
}

// ParseLevel accepts the go-ethereum level names on top of the slog ones.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit", "critical":
		return log.LevelCrit, nil
	}
	return log.LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// AppOut returns the writer the cli app writes to, stdout by default.
func AppOut(ctx *cli.Context) io.Writer {
	if ctx.App != nil && ctx.App.Writer != nil {
		return ctx.App.Writer
	}
	return os.Stdout
}

func NewLogger(wr io.Writer, cfg CLIConfig) log.Logger {
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = log.JSONHandlerWithLevel(wr, cfg.Level)
	case FormatLogFmt:
		handler = log.LogfmtHandlerWithLevel(wr, cfg.Level)
	default:
		handler = log.NewTerminalHandlerWithLevel(wr, cfg.Level, cfg.Color)
	}
	return log.NewLogger(handler)
}

// SetGlobalLogHandler makes handler the root handler, so log.New(...) children inherit it.
func SetGlobalLogHandler(handler slog.Handler) {
	log.SetDefault(log.NewLogger(handler))
}
