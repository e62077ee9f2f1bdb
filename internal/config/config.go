package config

import (
	"os"
	"path/filepath"
	"sync"

	"fjacquet/bankfetch/internal/logging"

	"github.com/joho/godotenv"
)

var once sync.Once

// LoadEnv loads environment variables from .env (or ../.env) once.
func LoadEnv() {
	once.Do(func() {
		log := logging.GetLogger()
		envFile := ".env"
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			envFile = filepath.Join("..", ".env")
			if _, err := os.Stat(envFile); os.IsNotExist(err) {
				log.Debug("No .env file found, using environment variables")
				return
			}
		}

		if err := godotenv.Load(envFile); err != nil {
			log.WithError(err).Warn("Error loading .env file")
			return
		}
		log.Debug("Loaded environment variables", logging.F(logging.FieldFile, envFile))
	})
}

// GetEnv retrieves an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return value
}

// NewLogger builds the application logger from the log section.
func NewLogger(cfg *Config) logging.Logger {
	return logging.NewLogrusAdapter(cfg.Log.Level, cfg.Log.Format)
}
