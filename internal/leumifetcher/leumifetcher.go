// Package leumifetcher implements the Bank Leumi client. Statements are
// pulled as the bank's legacy CP862 CSV export, which also covers arbitrary
// date ranges and therefore supports anchor-based resume.
package leumifetcher

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"fjacquet/bankfetch/internal/currencyutils"
	"fjacquet/bankfetch/internal/dateutils"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/formtoken"
	"fjacquet/bankfetch/internal/htmldoc"
	"fjacquet/bankfetch/internal/httpsession"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Name is the registry name of this backend.
const Name = string(models.BackendLeumi)

const (
	authenticatePath = "/authenticate"
	landingPagePath  = "/gotolandingpage"
	movementsPath    = "/ebanking/Accounts/ExtendedActivity.aspx?WidgetPar=1"

	welcomeMarker     = "ברוך הבא, כניסתך האחרונה"
	expiresSoonMarker = "תוקף סיסמתך עומד לפוג בקרוב"
	movementsMarker   = "תנועות בחשבון"

	saveFormat = "HASHAVSHEVET"
)

var stateTokens = []string{"__VIEWSTATE", "__EVENTVALIDATION"}

// Fetcher is the Leumi backend.
type Fetcher struct {
	fetcher.BaseFetcher
}

// New creates a Leumi backend.
func New(opts fetcher.Options, logger logging.Logger) *Fetcher {
	return &Fetcher{BaseFetcher: fetcher.NewBaseFetcher(Name, opts, logger)}
}

// Login posts the credentials and, when the bank warns that the password
// is about to expire, confirms the landing page. Read timeouts on the
// credential post are retried.
func (f *Fetcher) Login(ctx context.Context, creds fetcher.Credentials) (fetcher.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "authenticate", Err: err}
	}
	session, err := f.NewHTTPSession()
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "session", Err: err}
	}

	var resp *httpsession.Response
	err = httpsession.RetryOnTimeout(ctx, f.LoginRetry(), func() error {
		r, err := session.PostForm(ctx, f.URL(authenticatePath), url.Values{
			"uid":      {creds.Username},
			"password": {creds.Password},
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		_ = session.Close()
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "authenticate", Reason: "request failed", Err: err}
	}
	if resp.Contains(expiresSoonMarker) {
		f.GetLogger().Info("Password expires soon, confirming landing page")
		resp, err = session.PostForm(ctx, f.URL(landingPagePath), url.Values{})
		if err != nil {
			_ = session.Close()
			return nil, &fetcherror.LoginError{Backend: Name, Stage: "landing page", Reason: "request failed", Err: err}
		}
	}
	if !resp.OK() || !resp.Contains(welcomeMarker) {
		_ = session.Close()
		return nil, &fetcherror.LoginError{
			Backend:  Name,
			Stage:    "authenticate",
			Reason:   "welcome marker missing",
			Response: resp.Diagnostic(),
		}
	}
	f.GetLogger().Info("Logged in")
	return session, nil
}

// PeriodTransactions exports the whole month and converts every row whose
// account is known.
func (f *Fetcher) PeriodTransactions(ctx context.Context, s fetcher.Session, period models.Period, accounts []models.Account) ([]models.Transaction, error) {
	session, err := fetcher.SessionAs[*httpsession.Session](Name, s)
	if err != nil {
		return nil, err
	}
	from, to := dateutils.MonthRange(period, dateutils.LayoutShortSlash)
	lines, err := f.FetchCSV(ctx, session, from, to)
	if err != nil {
		return nil, err
	}
	txs := f.ParseRows(lines, accounts)
	f.GetLogger().Info("Fetched period",
		logging.F(logging.FieldPeriod, period.String()),
		logging.F(logging.FieldCount, len(txs)))
	return txs, nil
}

// Resume exports from the anchor's date through to, locates the anchor by
// exact match and returns what follows it.
func (f *Fetcher) Resume(ctx context.Context, s fetcher.Session, anchor models.Anchor, to time.Time, accounts []models.Account) ([]models.Transaction, models.Anchor, error) {
	session, err := fetcher.SessionAs[*httpsession.Session](Name, s)
	if err != nil {
		return nil, anchor, err
	}
	if to.Before(anchor.Date) {
		return nil, anchor, fmt.Errorf("%s: resume end %s is before anchor %s", Name, to.Format(models.DateLayout), anchor)
	}
	lines, err := f.FetchCSV(ctx, session,
		anchor.Date.Format(dateutils.LayoutShortSlash),
		to.Format(dateutils.LayoutShortSlash))
	if err != nil {
		return nil, anchor, err
	}
	rest, next, err := After(f.ParseRows(lines, accounts), anchor)
	if err != nil {
		return nil, anchor, err
	}
	if !isOrdered(rest) {
		f.GetLogger().Warn("Export rows are not in date order, resume may skip or repeat rows",
			logging.F(logging.FieldAccount, anchor.AccountID))
	}
	return rest, next, nil
}

// After returns the transactions strictly after the one matching anchor,
// and the anchor of the last returned transaction.
func After(txs []models.Transaction, anchor models.Anchor) ([]models.Transaction, models.Anchor, error) {
	idx := -1
	for i := range txs {
		if anchor.Matches(&txs[i]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, anchor, &fetcherror.AnchorNotFoundError{
			Backend:      Name,
			AccountID:    anchor.AccountID,
			Date:         anchor.Date,
			Confirmation: anchor.Confirmation,
		}
	}
	rest := txs[idx+1:]
	if len(rest) == 0 {
		return []models.Transaction{}, anchor, nil
	}
	next, err := models.AnchorFor(&rest[len(rest)-1])
	if err != nil {
		return nil, anchor, err
	}
	return rest, next, nil
}

// FetchCSV opens the movements page, queries the date range and downloads
// the export. from and to are dd/mm/yy. Blank lines are dropped.
func (f *Fetcher) FetchCSV(ctx context.Context, session *httpsession.Session, from, to string) ([]string, error) {
	page, err := f.movementsPage(ctx, session, nil)
	if err != nil {
		return nil, err
	}

	query := formtoken.Extract(page, stateTokens...).Values()
	query.Set("ddlTransactionType", "001")
	query.Set("ddlTransactionPeriod", "004")
	query.Set("dtFromDate$textBox", from)
	query.Set("dtToDate$textBox", to)
	query.Set("__EVENTTARGET", "")
	query.Set("__EVENTARGUMENT", "")
	query.Set("hidSaveAsChoice", "")
	query.Set("AjaxSaveAS", "")
	query.Set("btnDisplayDates.x", "9")
	query.Set("btnDisplayDates.y", "10")

	page, err = f.movementsPage(ctx, session, query)
	if err != nil {
		return nil, err
	}

	export := formtoken.Extract(page, stateTokens...).Values()
	export.Set("__EVENTTARGET", "BTNSAVE")
	export.Set("__EVENTARGUMENT", "")
	export.Set("hidSaveAsChoice", saveFormat)

	resp, err := session.Stream(ctx, f.URL(movementsPath), export, &http.Cookie{Name: "SaveFormat", Value: saveFormat})
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "csv export", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, fetcherror.MaxSnippet))
		return nil, &fetcherror.FetchError{
			Backend:  Name,
			Stage:    "csv export",
			Reason:   "unexpected status",
			Response: fetcherror.NewResponse(resp.StatusCode, resp.Request.URL.String(), body),
		}
	}
	return DecodeExport(resp.Body)
}

// DecodeExport decodes a CP862 export and splits it on CRLF, dropping
// blank lines.
func DecodeExport(r io.Reader) ([]string, error) {
	text, err := io.ReadAll(charmap.CodePage862.NewDecoder().Reader(r))
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "csv export", Reason: "decode failed", Err: err}
	}
	var lines []string
	for _, line := range strings.Split(string(text), "\r\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// ParseRows converts export lines into transactions. A row that fails to
// convert, or whose account is not in accounts, is dropped.
func (f *Fetcher) ParseRows(lines []string, accounts []models.Account) []models.Transaction {
	txs := make([]models.Transaction, 0, len(lines))
	for i, line := range lines {
		tx, err := parseRow(line, accounts)
		if err != nil {
			f.LogDroppedRow(i, err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

// Export columns: confirmation, date (ddmmyy), description, signed amount,
// two unused columns, account number.
const (
	colConfirmation = 0
	colDate         = 1
	colDescription  = 2
	colAmount       = 3
	colAccount      = 6
)

func parseRow(line string, accounts []models.Account) (models.Transaction, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	record, err := reader.Read()
	if err != nil {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "row", Value: line, Err: err}
	}
	if len(record) <= colAccount {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "row", Value: line, Err: fmt.Errorf("expected at least %d columns, got %d", colAccount+1, len(record))}
	}

	backendID := strings.TrimSpace(record[colAccount])
	account, ok := models.FindByBackendID(accounts, backendID)
	if !ok {
		return models.Transaction{}, &fetcherror.UnmappedAccountError{Backend: Name, BackendID: backendID}
	}
	if strings.TrimSpace(record[colAmount]) == "" {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "amount", Err: fmt.Errorf("empty amount")}
	}
	amount, err := currencyutils.ParseAmount(record[colAmount])
	if err != nil {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "amount", Value: record[colAmount], Err: err}
	}

	return models.NewTransactionBuilder().
		WithTransactionDateString(dateutils.LayoutCompact, strings.TrimSpace(record[colDate])).
		WithSignedAmount(amount, account).
		WithDescription(record[colDescription]).
		WithConfirmationString(record[colConfirmation]).
		Build()
}

func isOrdered(txs []models.Transaction) bool {
	for i := 1; i < len(txs); i++ {
		if txs[i].TransactionDate.Before(txs[i-1].TransactionDate) {
			return false
		}
	}
	return true
}

func (f *Fetcher) movementsPage(ctx context.Context, session *httpsession.Session, form url.Values) (*htmldoc.Document, error) {
	var (
		resp *httpsession.Response
		err  error
	)
	if form == nil {
		resp, err = session.Get(ctx, f.URL(movementsPath))
	} else {
		resp, err = session.PostForm(ctx, f.URL(movementsPath), form)
	}
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "movements page", Err: err}
	}
	if !resp.OK() || !resp.Contains(movementsMarker) {
		return nil, &fetcherror.FetchError{
			Backend:  Name,
			Stage:    "movements page",
			Reason:   "movements marker missing",
			Response: resp.Diagnostic(),
		}
	}
	doc, err := htmldoc.ParseBytes(resp.Body)
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: "movements page", Err: err}
	}
	if missing := formtoken.Extract(doc, stateTokens...).Missing(stateTokens...); len(missing) > 0 {
		f.GetLogger().Debug("Movements page lacks state tokens", logging.F("missing", missing))
	}
	return doc, nil
}
