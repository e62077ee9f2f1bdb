// Package categorize handles transaction categorization commands
package categorize

import (
	"errors"
	"fmt"
	"os"

	cmdcommon "fjacquet/bankfetch/cmd/common"
	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/internal/common"
	"fjacquet/bankfetch/internal/container"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
	"fjacquet/bankfetch/internal/validation"

	"github.com/spf13/cobra"
)

var (
	input   string
	output  string
	explain bool
)

// Cmd represents the categorize command
var Cmd = &cobra.Command{
	Use:   "categorize",
	Short: "Categorize exported transactions with the configured patterns",
	Long: `Categorize re-applies the enabled patterns, in their configured order, to
a CSV file written by fetch. The first matching pattern sets the category.`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&input, "input", "i", "", "Transactions CSV file")
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV file (default stdout)")
	Cmd.Flags().BoolVarP(&explain, "explain", "e", false, "Log which pattern matched each transaction")
	_ = Cmd.MarkFlagRequired("input")
}

func run(cmd *cobra.Command, args []string) error {
	c, err := root.NewContainer(container.Options{WithoutDatabase: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			root.Log.WithError(err).Warn("Failed to close container")
		}
	}()

	if err := validation.InputFile(input); err != nil {
		return err
	}
	file, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("error opening input file: %w", err)
	}
	defer file.Close()

	catalog := c.GetCatalog()
	txs, err := common.ReadTransactions(file, root.Delimiter(), func(name string) *models.Account {
		if a, ok := catalog.AccountByName(name); ok {
			return a
		}
		return common.NameOnlyAccounts(name)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	cat := c.GetCategorizer()
	if explain {
		for i := range txs {
			results := cat.Explain(cmd.Context(), &txs[i])
			if errs := results.GetErrors(); len(errs) > 0 {
				return errors.Join(errs...)
			}
			fields := []logging.Field{
				logging.F("description", txs[i].Description),
				logging.F("results", results.Summary()),
			}
			if best, ok := results.GetBestResult(); ok {
				fields = append(fields, logging.F(logging.FieldRule, best.Pattern), logging.F(logging.FieldCategory, best.Category.Title))
			}
			root.Log.Info("Categorization", fields...)
		}
	}
	for i := range txs {
		txs[i].Category = nil
	}
	if _, err := cat.ClassifyAll(cmd.Context(), txs); err != nil {
		return err
	}
	return cmdcommon.WriteOutput(cmd.OutOrStdout(), txs, output, root.Delimiter(), root.Log)
}
