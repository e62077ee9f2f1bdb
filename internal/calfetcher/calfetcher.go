// Package calfetcher implements the Cal credit-card client: a three-stage
// login, then one statement page per card and billing month.
package calfetcher

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/formtoken"
	"fjacquet/bankfetch/internal/htmldoc"
	"fjacquet/bankfetch/internal/httpsession"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Name is the registry name of this backend.
const Name = string(models.BackendCal)

const (
	loginPath        = "/Card-Holders/Screens/AccountManagement/Login.aspx"
	loginReturnQuery = "?ReturnUrl=%2fcard-holders%2fScreens%2fAccountManagement%2fHomePage.aspx"
	homePath         = "/card-holders/Screens/AccountManagement/HomePage.aspx"
	authPath         = "/col-rest/calconnect/authentication/login"
	transactionsPath = "/Card-Holders/Screens/Transactions/Transactions.aspx"

	siteID = "4057F41C-BABB-416A-87F4-7DF1FC25DB2E"

	transactionsMarker = "פירוט עסקות"
	noResultsMarker    = "לא נמצאו נתונים"
)

var loginTokens = []string{"__EVENTVALIDATION", "__VIEWSTATEGENERATOR", "__VIEWSTATE"}

// Fetcher is the Cal backend.
type Fetcher struct {
	fetcher.BaseFetcher
}

// New creates a Cal backend. opts.AuthURL is the authentication host.
func New(opts fetcher.Options, logger logging.Logger) *Fetcher {
	return &Fetcher{BaseFetcher: fetcher.NewBaseFetcher(Name, opts, logger)}
}

// Login runs the three stages: fetch the login form tokens, obtain a token
// from the authentication service, then bridge it into a site session.
func (f *Fetcher) Login(ctx context.Context, creds fetcher.Credentials) (fetcher.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "credentials", Err: err}
	}
	session, err := f.NewHTTPSession()
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "session", Err: err}
	}
	if err := f.login(ctx, session, creds); err != nil {
		_ = session.Close()
		return nil, err
	}
	f.GetLogger().Info("Logged in")
	return session, nil
}

func (f *Fetcher) login(ctx context.Context, session *httpsession.Session, creds fetcher.Credentials) error {
	tokens, err := f.loginStage1(ctx, session)
	if err != nil {
		return err
	}
	token, err := f.loginStage2(ctx, session, creds)
	if err != nil {
		return err
	}
	return f.loginStage3(ctx, session, tokens, token)
}

func (f *Fetcher) exchange(ctx context.Context, stage string, fn func() (*httpsession.Response, error)) (*httpsession.Response, error) {
	var resp *httpsession.Response
	err := httpsession.RetryOnTimeout(ctx, f.LoginRetry(), func() error {
		r, err := fn()
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "request failed", Err: err}
	}
	return resp, nil
}

func (f *Fetcher) loginStage1(ctx context.Context, session *httpsession.Session) (formtoken.Tokens, error) {
	const stage = "login page"
	resp, err := f.exchange(ctx, stage, func() (*httpsession.Response, error) {
		return session.Get(ctx, f.URL(loginPath))
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "failed fetching login page", Response: resp.Diagnostic()}
	}
	doc, err := htmldoc.ParseBytes(resp.Body)
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Err: err}
	}
	tokens := formtoken.Extract(doc, loginTokens...)
	if missing := tokens.Missing(loginTokens...); len(missing) > 0 {
		return nil, &fetcherror.LoginError{
			Backend:  Name,
			Stage:    stage,
			Reason:   "bad login page format, missing " + strings.Join(missing, ", "),
			Response: resp.Diagnostic(),
		}
	}
	return tokens, nil
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (f *Fetcher) loginStage2(ctx context.Context, session *httpsession.Session, creds fetcher.Credentials) (string, error) {
	const stage = "authentication"
	resp, err := f.exchange(ctx, stage, func() (*httpsession.Response, error) {
		return session.PostJSON(ctx, f.Options().AuthURL+authPath,
			authRequest{Username: creds.Username, Password: creds.Password},
			map[string]string{"X-Site-Id": siteID})
	})
	if err != nil {
		return "", err
	}
	// The service answers with a bare JSON string on bad credentials.
	var body map[string]interface{}
	if decodeErr := resp.DecodeJSON(&body); decodeErr != nil || !resp.OK() {
		return "", &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "bad auth response", Response: resp.Diagnostic(), Err: decodeErr}
	}
	token, _ := body["token"].(string)
	if token == "" {
		return "", &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "bad auth response", Response: resp.Diagnostic()}
	}
	return token, nil
}

func (f *Fetcher) loginStage3(ctx context.Context, session *httpsession.Session, tokens formtoken.Tokens, token string) error {
	const stage = "token bridge"
	form := tokens.Values()
	form.Set("ctl00$FormAreaNoBorder$FormArea$CcLogin", "")
	form.Set("ctl00$FormAreaNoBorder$FormArea$token_bridge", token)

	resp, err := f.exchange(ctx, stage, func() (*httpsession.Response, error) {
		return session.PostForm(ctx, f.URL(loginPath+loginReturnQuery), form)
	})
	if err != nil {
		return err
	}
	if !resp.OK() || resp.FinalURL() != f.URL(homePath) {
		return &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "was not redirected to home page", Response: resp.Diagnostic()}
	}
	return nil
}

// PeriodTransactions selects each account's card on the transactions page
// and parses the statement billed in period. Cards are resolved against the
// page fetched in this session.
func (f *Fetcher) PeriodTransactions(ctx context.Context, s fetcher.Session, period models.Period, accounts []models.Account) ([]models.Transaction, error) {
	session, err := fetcher.SessionAs[*httpsession.Session](Name, s)
	if err != nil {
		return nil, err
	}
	page, err := f.transactionsPage(ctx, session, nil)
	if err != nil {
		return nil, err
	}
	cards, err := CardsList(page)
	if err != nil {
		return nil, err
	}

	var txs []models.Transaction
	for i := range accounts {
		account := &accounts[i]
		card, ok := SelectCard(cards, account.BackendID)
		if !ok {
			f.LogUnmapped(account, "card not listed")
			continue
		}
		payload, err := TransactionPayload(card, period, page)
		if err != nil {
			return nil, err
		}
		page, err = f.transactionsPage(ctx, session, payload)
		if err != nil {
			return nil, err
		}
		parsed, err := f.Parse(page, account)
		if err != nil {
			return nil, err
		}
		f.GetLogger().Info("Fetched card statement",
			logging.F(logging.FieldAccount, account.Name),
			logging.F(logging.FieldPeriod, period.String()),
			logging.F(logging.FieldCount, len(parsed)))
		txs = append(txs, parsed...)
	}
	return txs, nil
}

func (f *Fetcher) transactionsPage(ctx context.Context, session *httpsession.Session, form url.Values) (*htmldoc.Document, error) {
	const stage = "transactions page"
	var (
		resp *httpsession.Response
		err  error
	)
	if form == nil {
		resp, err = session.Get(ctx, f.URL(transactionsPath))
	} else {
		resp, err = session.PostForm(ctx, f.URL(transactionsPath), form)
	}
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Err: err}
	}
	if !resp.OK() || !resp.Contains(transactionsMarker) {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Reason: "didn't fetch transaction page", Response: resp.Diagnostic()}
	}
	doc, err := htmldoc.ParseBytes(resp.Body)
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Err: err}
	}
	return doc, nil
}

// hiddenFields matches the filter state echoed back with every statement
// request.
var hiddenFields = regexp.MustCompile(`(cmbTransType|cmbTransOrigin|cmbPayWallet|cmbTransAggregation)_HiddenField$|^__EVENTVALIDATION$|^ctl00\$__MATRIX_VIEWSTATE$`)

// TransactionPayload builds the statement request for card and period from
// the current transactions page.
func TransactionPayload(card string, period models.Period, page *htmldoc.Document) (url.Values, error) {
	idx, text, err := SelectDate(period, page)
	if err != nil {
		return nil, err
	}
	form := formtoken.ExtractMatching(page, hiddenFields).Values()
	form.Set("__EVENTTARGET", "SubmitRequest")
	form.Set("__VIEWSTATE", "")
	form.Set("ctl00$ContentTop$cboCardList$categoryList$lblCollapse", card)
	form.Set("ctl00$FormAreaNoBorder$FormArea$rdogrpTransactionType", "rdoDebitDate")
	form.Set("ctl00$FormAreaNoBorder$FormArea$clndrDebitDateScope$TextBox", text)
	form.Set("ctl00$FormAreaNoBorder$FormArea$clndrDebitDateScope$HiddenField", fmt.Sprint(idx))
	return form, nil
}
