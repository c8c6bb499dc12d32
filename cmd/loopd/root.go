package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"loopd/internal/config"
)

// app is the state shared by subcommands once the root pre-run has loaded
// the configuration.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "loopd",
		Short:         "Interactive text generation loop: console runner and HTTP session server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("LOOPD_CONFIG"), "Config file (.yaml, .yml, .json, .toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console|json (overrides config)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(a.configPath)
		if err != nil {
			return err
		}
		if a.logLevel != "" {
			cfg.Log.Level = a.logLevel
		}
		if a.logFormat != "" {
			cfg.Log.Format = a.logFormat
		}
		a.cfg = cfg
		a.log = newLogger(cmd.ErrOrStderr(), cfg.Log)
		return nil
	}

	root.AddCommand(newRunCmd(a), newServeCmd(a), newVersionCmd())
	return root
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, c config.Log) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(c.Format, "json") {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).Level(lvl).With().Timestamp().Logger()
}
