// Package resume handles the resume command
package resume

import (
	"fmt"
	"time"

	cmdcommon "fjacquet/bankfetch/cmd/common"
	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/internal/container"
	"fjacquet/bankfetch/internal/dateutils"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/models"

	"github.com/spf13/cobra"
)

var (
	account            string
	toFlag             string
	anchorDate         string
	anchorConfirmation int64
	username           string
	passwordEnv        string
	vaultSecretEnv     string
	save               bool
	output             string
)

// Cmd represents the resume command
var Cmd = &cobra.Command{
	Use:   "resume",
	Short: "Fetch what an account booked after its last anchor",
	Long: `Resume continues an account from the last transaction already consumed.
The anchor is read from the database unless --anchor-date and
--anchor-confirmation give one. With --save the new transactions and the
new anchor are stored.`,
	Example: `  bankfetch resume --account checking --to 2024-03-31 --vault-secret-env BW_MASTER --save`,
	RunE:    run,
}

func init() {
	Cmd.Flags().StringVarP(&account, "account", "a", "", "Account name")
	Cmd.Flags().StringVar(&toFlag, "to", "", "Last day, YYYY-MM-DD or DD/MM/YYYY (default today)")
	Cmd.Flags().StringVar(&anchorDate, "anchor-date", "", "Anchor transaction date, YYYY-MM-DD")
	Cmd.Flags().Int64Var(&anchorConfirmation, "anchor-confirmation", 0, "Anchor confirmation number")
	Cmd.Flags().StringVarP(&username, "username", "u", "", "Provider username")
	Cmd.Flags().StringVar(&passwordEnv, "password-env", cmdcommon.DefaultPasswordEnv, "Environment variable holding the provider password")
	Cmd.Flags().StringVar(&vaultSecretEnv, "vault-secret-env", "", "Environment variable holding the vault master password")
	Cmd.Flags().BoolVar(&save, "save", false, "Store the transactions and the new anchor")
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV file (default stdout)")
	_ = Cmd.MarkFlagRequired("account")
}

func request() (fetch.ResumeRequest, error) {
	req := fetch.ResumeRequest{Account: account, Save: save, To: models.TruncateDay(time.Now())}
	if toFlag != "" {
		to, err := dateutils.ParseDate(toFlag)
		if err != nil {
			return req, fmt.Errorf("--to: %w", err)
		}
		req.To = to
	}
	if anchorDate != "" {
		date, err := dateutils.ParseDate(anchorDate)
		if err != nil {
			return req, fmt.Errorf("--anchor-date: %w", err)
		}
		req.Anchor = &models.Anchor{Date: date, Confirmation: anchorConfirmation}
	} else if anchorConfirmation != 0 {
		return req, fmt.Errorf("--anchor-confirmation requires --anchor-date")
	}

	if vaultSecretEnv != "" {
		secret, err := cmdcommon.SecretFromEnv(vaultSecretEnv)
		if err != nil {
			return req, err
		}
		req.Secret = secret
		return req, nil
	}
	creds, err := cmdcommon.Credentials(username, passwordEnv)
	if err != nil {
		return req, err
	}
	req.Credentials = creds
	return req, nil
}

func run(cmd *cobra.Command, args []string) error {
	req, err := request()
	if err != nil {
		return err
	}

	// the stored anchor lives in the database, so open it even without --save
	c, err := root.NewContainer(container.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			root.Log.WithError(err).Warn("Failed to close container")
		}
	}()

	result, err := c.GetService().Resume(cmd.Context(), req)
	if err != nil {
		return err
	}
	cmdcommon.ReportResult(result, root.Log)
	return cmdcommon.WriteOutput(cmd.OutOrStdout(), result.Transactions, output, root.Delimiter(), root.Log)
}
