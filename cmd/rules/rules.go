// Package rules handles the rules command and its validate and test
// subcommands
package rules

import (
	"fmt"
	"os"

	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/internal/common"
	"fjacquet/bankfetch/internal/currencyutils"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/rules"
	"fjacquet/bankfetch/internal/validation"

	"github.com/spf13/cobra"
)

var (
	ruleFile         string
	transactionsFile string
)

// Cmd represents the rules command
var Cmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and try out classification rules",
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check that a JSON or YAML rule tree is well formed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := LoadRule(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", node.String())
		return err
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate a rule against exported transactions",
	Long: `Test reads a CSV file written by fetch and prints, for every transaction,
whether the rule matches it.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVarP(&ruleFile, "rule", "r", "", "Rule file (.json, .yaml or .yml)")
	testCmd.Flags().StringVarP(&transactionsFile, "transactions", "t", "", "Transactions CSV file")
	_ = testCmd.MarkFlagRequired("rule")
	_ = testCmd.MarkFlagRequired("transactions")

	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(testCmd)
}

// LoadRule decodes a rule tree from a .json, .yaml or .yml file.
func LoadRule(path string) (rules.Node, error) {
	format, err := validation.RuleFormat(path)
	if err != nil {
		return rules.Node{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.Node{}, fmt.Errorf("error reading rule file: %w", err)
	}
	if format == validation.FormatYAML {
		return rules.ParseYAML(data)
	}
	return rules.Parse(data)
}

func runTest(cmd *cobra.Command, args []string) error {
	node, err := LoadRule(ruleFile)
	if err != nil {
		return err
	}

	if err := validation.InputFile(transactionsFile); err != nil {
		return err
	}
	file, err := os.Open(transactionsFile)
	if err != nil {
		return fmt.Errorf("error opening transactions file: %w", err)
	}
	defer file.Close()

	txs, err := common.ReadTransactions(file, root.Delimiter(), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", transactionsFile, err)
	}

	out := cmd.OutOrStdout()
	matched := 0
	for i := range txs {
		tx := &txs[i]
		mark := "-"
		if rules.Evaluate(&node, tx) {
			mark = "+"
			matched++
		}
		if _, err := fmt.Fprintf(out, "%s %s %s [%s] %s\n", mark, tx.TransactionDate.Format("2006-01-02"),
			tx.BilledAmount.StringFixed(2), currencyutils.FormatAmount(tx.TransactionAmount, tx.OriginalCurrency), tx.Description); err != nil {
			return err
		}
	}
	root.Log.Info("Rule tested",
		logging.F(logging.FieldRule, node.String()),
		logging.F(logging.FieldCount, len(txs)),
		logging.F("matched", matched))
	_, err = fmt.Fprintf(out, "%d of %d transactions match\n", matched, len(txs))
	return err
}
