// Package fetch handles the fetch command
package fetch

import (
	"fmt"
	"strings"

	cmdcommon "fjacquet/bankfetch/cmd/common"
	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/internal/container"
	"fjacquet/bankfetch/internal/factory"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/models"

	"github.com/spf13/cobra"
)

var (
	backend        string
	fromFlag       string
	toFlag         string
	username       string
	passwordEnv    string
	vaultSecretEnv string
	save           bool
	output         string
)

// Cmd represents the fetch command
var Cmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the transactions of a backend over a month range",
	Long: `Fetch logs in to a backend once, downloads every month from --from to
--to for all accounts configured for that backend, classifies the
transactions and writes them as CSV.

Credentials come either from --username plus a password environment
variable, or from the accounts' auth sources when --vault-secret-env
names the variable holding the vault master password.`,
	Example: `  bankfetch fetch --backend leumi --from 2024-01 --to 2024-03 --username me
  bankfetch fetch --backend cal --from 2024-01 --to 2024-01 --vault-secret-env BW_MASTER --save -o cal.csv`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&backend, "backend", "b", "", "Backend name ("+joinNames()+")")
	Cmd.Flags().StringVar(&fromFlag, "from", "", "First month, YYYY-MM")
	Cmd.Flags().StringVar(&toFlag, "to", "", "Last month, YYYY-MM (defaults to --from)")
	Cmd.Flags().StringVarP(&username, "username", "u", "", "Provider username")
	Cmd.Flags().StringVar(&passwordEnv, "password-env", cmdcommon.DefaultPasswordEnv, "Environment variable holding the provider password")
	Cmd.Flags().StringVar(&vaultSecretEnv, "vault-secret-env", "", "Environment variable holding the vault master password")
	Cmd.Flags().BoolVar(&save, "save", false, "Store the transactions in the database")
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV file (default stdout)")
	_ = Cmd.MarkFlagRequired("backend")
	_ = Cmd.MarkFlagRequired("from")
}

func run(cmd *cobra.Command, args []string) error {
	from, err := models.ParsePeriod(fromFlag)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to := from
	if toFlag != "" {
		if to, err = models.ParsePeriod(toFlag); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	c, err := root.NewContainer(container.Options{WithoutDatabase: !save})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			root.Log.WithError(err).Warn("Failed to close container")
		}
	}()

	var result *fetch.Result
	if vaultSecretEnv != "" {
		secret, err := cmdcommon.SecretFromEnv(vaultSecretEnv)
		if err != nil {
			return err
		}
		result, err = c.GetService().FetchWithVault(cmd.Context(), fetch.VaultRequest{
			Backend: backend, Secret: secret, From: from, To: to, Save: save,
		})
		if err != nil {
			return err
		}
	} else {
		creds, err := cmdcommon.Credentials(username, passwordEnv)
		if err != nil {
			return err
		}
		result, err = c.GetService().Fetch(cmd.Context(), fetch.Request{
			Backend: backend, Credentials: creds, From: from, To: to, Save: save,
		})
		if err != nil {
			return err
		}
	}

	cmdcommon.ReportResult(result, root.Log)
	return cmdcommon.WriteOutput(cmd.OutOrStdout(), result.Transactions, output, root.Delimiter(), root.Log)
}

func joinNames() string {
	return strings.Join(factory.Names(), ", ")
}
