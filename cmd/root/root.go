// Package root contains the root command for the application
package root

import (
	"fmt"

	"fjacquet/bankfetch/internal/config"
	"fjacquet/bankfetch/internal/container"
	"fjacquet/bankfetch/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Log is the shared logger instance for commands
	Log logging.Logger = logging.GetLogger()

	// AppConfig is the configuration loaded before any subcommand runs
	AppConfig *config.Config

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "bankfetch",
		Short: "Fetch, normalize and classify transactions from bank and card providers.",
		Long: `bankfetch logs in to bank and credit-card websites, downloads the
statements of a month range, normalizes them into one transaction format
and classifies them with configurable rule patterns.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			cfg, err := config.InitializeConfig()
			if err != nil {
				return err
			}
			if LogLevel != "" {
				if _, err := logrus.ParseLevel(LogLevel); err != nil {
					return fmt.Errorf("invalid log level: %s", LogLevel)
				}
				cfg.Log.Level = LogLevel
			}
			if LogFormat != "" {
				cfg.Log.Format = LogFormat
			}
			AppConfig = cfg
			Log = config.NewLogger(cfg)
			logging.SetLogger(Log)
			return nil
		},
	}

	// LogLevel overrides log.level
	LogLevel string
	// LogFormat overrides log.format
	LogFormat string
)

// Init initializes the root command and all flags
func Init() {
	Cmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	Cmd.PersistentFlags().StringVar(&LogFormat, "log-format", "", "Log format (text or json)")
}

// NewContainer wires the application from AppConfig.
func NewContainer(opts container.Options) (*container.Container, error) {
	cfg := AppConfig
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = Log
	}
	return container.NewContainer(cfg, opts)
}

// Delimiter returns the configured CSV delimiter.
func Delimiter() rune {
	if AppConfig == nil || AppConfig.CSV.Delimiter == "" {
		return ','
	}
	return []rune(AppConfig.CSV.Delimiter)[0]
}
