package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fjacquet/bankfetch/cmd/categorize"
	"fjacquet/bankfetch/cmd/fetch"
	"fjacquet/bankfetch/cmd/resume"
	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/cmd/rules"
	"fjacquet/bankfetch/cmd/serve"
	"fjacquet/bankfetch/internal/config"
	"fjacquet/bankfetch/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func init() {
	// 1. Load environment variables silently first (no logging yet)
	loadEnvSilently()

	// 2. Configure global log level before any logger is created
	logging.SetAllLogLevels(configureLogLevelDirectly())

	// 3. Root flags, then subcommands
	root.Init()
	root.Cmd.AddCommand(fetch.Cmd)
	root.Cmd.AddCommand(resume.Cmd)
	root.Cmd.AddCommand(serve.Cmd)
	root.Cmd.AddCommand(rules.Cmd)
	root.Cmd.AddCommand(categorize.Cmd)
}

// loadEnvSilently loads .env without logging anything
func loadEnvSilently() {
	envFile := ".env"
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		envFile = filepath.Join("..", ".env")
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			return
		}
	}
	_ = godotenv.Load(envFile)
}

// configureLogLevelDirectly reads BANKFETCH_LOG_LEVEL and sets the global
// logrus level
func configureLogLevelDirectly() logrus.Level {
	logLevelStr := config.GetEnv("BANKFETCH_LOG_LEVEL", "info")
	logLevel, err := logrus.ParseLevel(strings.ToLower(logLevelStr))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logrus.SetLevel(logLevel)
	return logLevel
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
