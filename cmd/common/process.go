// Package common contains shared functionality for command handlers
package common

import (
	"fmt"
	"io"
	"os"

	"fjacquet/bankfetch/internal/common"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// DefaultPasswordEnv holds the provider password when no vault is used.
const DefaultPasswordEnv = "BANKFETCH_PASSWORD"

// WriteOutput writes transactions as CSV to output, or to w when output
// is empty.
func WriteOutput(w io.Writer, txs []models.Transaction, output string, delimiter rune, log logging.Logger) error {
	if output == "" {
		return common.WriteTransactions(w, txs, delimiter)
	}
	return common.WriteTransactionsToCSV(txs, output, delimiter, log)
}

// ReportResult logs the outcome of a run.
func ReportResult(result *fetch.Result, log logging.Logger) {
	fields := []logging.Field{
		logging.F(logging.FieldRunID, result.RunID),
		logging.F(logging.FieldBackend, result.Backend),
		logging.F(logging.FieldCount, len(result.Transactions)),
		logging.F("classified", result.Classified),
	}
	if result.Saved != nil {
		fields = append(fields,
			logging.F("inserted", result.Inserted()),
			logging.F("duplicates", len(result.Saved)-result.Inserted()))
	}
	if result.Anchor != nil {
		fields = append(fields, logging.F("anchor", result.Anchor.String()))
	}
	log.Info("Fetch completed", fields...)
}

// SecretFromEnv reads a required secret from the named variable.
func SecretFromEnv(name string) (string, error) {
	secret, ok := os.LookupEnv(name)
	if !ok || secret == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return secret, nil
}

// Credentials pairs username with the password read from passwordEnv. An
// empty username yields empty credentials, which the recurring backend
// accepts.
func Credentials(username, passwordEnv string) (fetcher.Credentials, error) {
	if username == "" {
		return fetcher.Credentials{}, nil
	}
	password, err := SecretFromEnv(passwordEnv)
	if err != nil {
		return fetcher.Credentials{}, err
	}
	return fetcher.Credentials{Username: username, Password: password}, nil
}
