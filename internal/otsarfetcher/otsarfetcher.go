// Package otsarfetcher implements the Otsar Ha-Hayal client. The bank has
// no postable export, so the flow drives a real browser through a Driver.
package otsarfetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"fjacquet/bankfetch/internal/currencyutils"
	"fjacquet/bankfetch/internal/dateutils"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Name is the registry name of this backend.
const Name = string(models.BackendOtsar)

const (
	portalPath = "/wps/portal/"

	loginLinkText     = "כניסה לחשבונך"
	movementsLinkText = "תנועות בחשבון"
	dateRangeLinkText = "תנועות בטווח תאריכים"

	loginFrameIndex  = 1
	usernameSelector = "#username"
	passwordSelector = "#password"
	continueSelector = "#continueBtn"
	dialogSelector   = ".ui-dialog .ui-button"
	fromDateSelector = "#fromDate"
	tillDateSelector = "#tillDate"
	showSelector     = "//input[@value='הצג']"
	tableSelector    = "#dataTable077"
)

// Fetcher is the Otsar backend.
type Fetcher struct {
	fetcher.BaseFetcher
	newDriver DriverFactory
}

// New creates an Otsar backend that starts browsers with newDriver.
func New(opts fetcher.Options, newDriver DriverFactory, logger logging.Logger) *Fetcher {
	return &Fetcher{BaseFetcher: fetcher.NewBaseFetcher(Name, opts, logger), newDriver: newDriver}
}

// Session owns the browser of one login.
type Session struct {
	driver Driver
	once   sync.Once
	err    error
}

// Close kills the browser. It is safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.err = s.driver.Close()
	})
	return s.err
}

// Login opens the portal, fills the login frame and waits for the
// account menu. The browser is closed on failure.
func (f *Fetcher) Login(ctx context.Context, creds fetcher.Credentials) (fetcher.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "credentials", Err: err}
	}
	driver, err := f.newDriver(ctx)
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "browser", Err: err}
	}
	session := &Session{driver: driver}

	steps := []struct {
		stage string
		run   func() error
	}{
		{"portal", func() error { return driver.Open(ctx, f.URL(portalPath)) }},
		{"login link", func() error { return driver.ClickLink(ctx, loginLinkText) }},
		{"login frame", func() error { return driver.EnterFrame(ctx, loginFrameIndex) }},
		{"username", func() error { return driver.Fill(ctx, usernameSelector, creds.Username) }},
		{"password", func() error { return driver.Fill(ctx, passwordSelector, creds.Password) }},
		{"submit", func() error { return driver.Click(ctx, continueSelector) }},
		{"account menu", func() error {
			driver.LeaveFrame()
			return driver.WaitLink(ctx, movementsLinkText)
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			if closeErr := session.Close(); closeErr != nil {
				f.GetLogger().WithError(closeErr).Warn("Failed to close browser")
			}
			return nil, &fetcherror.LoginError{Backend: Name, Stage: step.stage, Err: err}
		}
	}
	f.GetLogger().Info("Logged in")
	return session, nil
}

// PeriodTransactions queries the date range of period and reads the
// movements table. Otsar logins see a single account: the first one given.
func (f *Fetcher) PeriodTransactions(ctx context.Context, s fetcher.Session, period models.Period, accounts []models.Account) ([]models.Transaction, error) {
	session, err := fetcher.SessionAs[*Session](Name, s)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []models.Transaction{}, nil
	}
	rows, err := f.fetchRows(ctx, session.driver, period)
	if err != nil {
		return nil, err
	}
	txs := f.ParseRows(rows, &accounts[0])
	f.GetLogger().Info("Fetched period",
		logging.F(logging.FieldPeriod, period.String()),
		logging.F(logging.FieldCount, len(txs)))
	return txs, nil
}

func (f *Fetcher) fetchRows(ctx context.Context, driver Driver, period models.Period) ([][]string, error) {
	from, till := dateutils.MonthRange(period, dateutils.LayoutLongSlash)

	if err := driver.WaitLink(ctx, movementsLinkText); err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "account menu", Err: err}
	}
	if driver.DismissIfPresent(ctx, dialogSelector) {
		f.GetLogger().Debug("Dismissed message popup")
	}
	steps := []struct {
		stage string
		run   func() error
	}{
		{"movements link", func() error { return driver.ClickLink(ctx, movementsLinkText) }},
		// The range tab only opens on the second click.
		{"date range tab", func() error { return driver.ClickLink(ctx, dateRangeLinkText) }},
		{"date range tab", func() error { return driver.ClickLink(ctx, dateRangeLinkText) }},
		{"from date", func() error { return driver.Fill(ctx, fromDateSelector, from) }},
		{"till date", func() error { return driver.Fill(ctx, tillDateSelector, till) }},
		{"show", func() error { return driver.Click(ctx, showSelector) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, &fetcherror.FetchError{Backend: Name, Stage: step.stage, Err: err}
		}
	}
	rows, err := driver.TableRows(ctx, tableSelector)
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "movements table", Err: err}
	}
	return rows, nil
}

// ParseRows converts table rows of date, description, confirmation,
// income and expense. Header rows and malformed rows are dropped.
func (f *Fetcher) ParseRows(rows [][]string, account *models.Account) []models.Transaction {
	txs := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := parseRow(row, account)
		if err != nil {
			f.LogDroppedRow(i, err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func parseRow(row []string, account *models.Account) (models.Transaction, error) {
	if len(row) < 5 {
		return models.Transaction{}, fmt.Errorf("expected 5 cells, got %d", len(row))
	}
	income, err := currencyutils.ParseAmount(row[3])
	if err != nil {
		return models.Transaction{}, err
	}
	expense, err := currencyutils.ParseAmount(row[4])
	if err != nil {
		return models.Transaction{}, err
	}

	b := models.NewTransactionBuilder()
	switch {
	case !income.IsZero():
		b.ToAccount(account).WithAmount(income.Abs())
	case !expense.IsZero():
		b.FromAccount(account).WithAmount(expense.Abs())
	default:
		return models.Transaction{}, fmt.Errorf("row has neither income nor expense")
	}
	return b.
		WithTransactionDateString(dateutils.LayoutLongSlash, row[0]).
		WithDescription(strings.TrimSpace(row[1])).
		WithConfirmationString(row[2]).
		WithCurrency(models.CurrencyILS).
		Build()
}
