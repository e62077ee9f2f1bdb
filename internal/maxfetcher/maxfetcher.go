// Package maxfetcher implements the Leumicard (Max) client, which speaks
// JSON for both login and the monthly transaction listing.
package maxfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/httpsession"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

// Name is the registry name of this backend.
const Name = string(models.BackendLeumicard)

// Alias is the provider's current brand name, accepted by the registry.
const Alias = "max"

const (
	loginPath        = "/api/login/login"
	transactionsPath = "/api/registered/transactionDetails/getTransactionsAndGraphs"

	serverErrorMessage = "An error has occured."
)

// Fetcher is the Leumicard backend.
type Fetcher struct {
	fetcher.BaseFetcher
}

// New creates a Leumicard backend.
func New(opts fetcher.Options, logger logging.Logger) *Fetcher {
	return &Fetcher{BaseFetcher: fetcher.NewBaseFetcher(Name, opts, logger)}
}

type loginRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	ID       *string `json:"id"`
}

type loginResponse struct {
	Result *struct {
		LoginStatus *int `json:"LoginStatus"`
	} `json:"Result"`
}

// Login posts the credentials. The reply must report LoginStatus 0.
func (f *Fetcher) Login(ctx context.Context, creds fetcher.Credentials) (fetcher.Session, error) {
	const stage = "login"
	if err := creds.Validate(); err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Err: err}
	}
	session, err := f.NewHTTPSession()
	if err != nil {
		return nil, &fetcherror.LoginError{Backend: Name, Stage: "session", Err: err}
	}

	var resp *httpsession.Response
	err = httpsession.RetryOnTimeout(ctx, f.LoginRetry(), func() error {
		r, err := session.PostJSON(ctx, f.URL(loginPath), loginRequest{Username: creds.Username, Password: creds.Password}, nil)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		_ = session.Close()
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "request failed", Err: err}
	}

	var body loginResponse
	decodeErr := resp.DecodeJSON(&body)
	if decodeErr != nil || !resp.OK() || body.Result == nil || body.Result.LoginStatus == nil || *body.Result.LoginStatus != 0 {
		_ = session.Close()
		return nil, &fetcherror.LoginError{Backend: Name, Stage: stage, Reason: "login rejected", Response: resp.Diagnostic(), Err: decodeErr}
	}
	f.GetLogger().Info("Logged in")
	return session, nil
}

type bankAccountFilter struct {
	BankAccountIndex int       `json:"bankAccountIndex"`
	Cards            *[]string `json:"cards"`
}

type filterData struct {
	UserIndex   int               `json:"userIndex"`
	CardIndex   int               `json:"cardIndex"`
	MonthView   bool              `json:"monthView"`
	Date        string            `json:"date"`
	BankAccount bankAccountFilter `json:"bankAccount"`
}

// TransactionsURL returns the listing URL for period, covering every card.
func (f *Fetcher) TransactionsURL(period models.Period) (string, error) {
	filter, err := json.Marshal(filterData{
		UserIndex:   -1,
		CardIndex:   -1,
		MonthView:   true,
		Date:        period.First().Format(models.DateLayout),
		BankAccount: bankAccountFilter{BankAccountIndex: -1},
	})
	if err != nil {
		return "", err
	}
	return f.URL(transactionsPath) + "?" + url.Values{"filterData": {string(filter)}}.Encode(), nil
}

type listingResponse struct {
	Message string `json:"Message"`
	Result  *struct {
		Transactions []json.RawMessage `json:"transactions"`
	} `json:"result"`
}

// PeriodTransactions fetches the listing for period and keeps the rows of
// known cards.
func (f *Fetcher) PeriodTransactions(ctx context.Context, s fetcher.Session, period models.Period, accounts []models.Account) ([]models.Transaction, error) {
	const stage = "transactions"
	session, err := fetcher.SessionAs[*httpsession.Session](Name, s)
	if err != nil {
		return nil, err
	}
	target, err := f.TransactionsURL(period)
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Err: err}
	}
	resp, err := session.Get(ctx, target)
	if err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Err: err}
	}
	if !resp.OK() {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Reason: "failed to get transactions", Response: resp.Diagnostic()}
	}

	var body listingResponse
	if err := resp.DecodeJSON(&body); err != nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Reason: "malformed listing", Response: resp.Diagnostic(), Err: err}
	}
	if body.Message == serverErrorMessage {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Reason: "provider reported an error", Response: resp.Diagnostic()}
	}
	if body.Result == nil {
		return nil, &fetcherror.FetchError{Backend: Name, Stage: stage, Reason: "listing has no result", Response: resp.Diagnostic()}
	}

	txs := f.ParseTransactions(body.Result.Transactions, accounts)
	f.GetLogger().Info("Fetched period",
		logging.F(logging.FieldPeriod, period.String()),
		logging.F(logging.FieldCount, len(txs)))
	return txs, nil
}

// rawTransaction is one listing row.
type rawTransaction struct {
	ShortCardNumber     string          `json:"shortCardNumber"`
	PurchaseDate        string          `json:"purchaseDate"`
	PaymentDate         string          `json:"paymentDate"`
	MerchantName        string          `json:"merchantName"`
	OriginalAmount      decimal.Decimal `json:"originalAmount"`
	ActualPaymentAmount decimal.Decimal `json:"actualPaymentAmount"`
	OriginalCurrency    string          `json:"originalCurrency"`
	Comments            *string         `json:"comments"`
}

// ParseTransactions converts listing rows. Rows that fail to decode or
// belong to an unknown card are dropped.
func (f *Fetcher) ParseTransactions(rows []json.RawMessage, accounts []models.Account) []models.Transaction {
	txs := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := parseRow(row, accounts)
		if err != nil {
			f.LogDroppedRow(i, err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func parseRow(row json.RawMessage, accounts []models.Account) (models.Transaction, error) {
	var raw rawTransaction
	if err := json.Unmarshal(row, &raw); err != nil {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "transaction", Err: err}
	}
	account, ok := models.FindByBackendID(accounts, raw.ShortCardNumber)
	if !ok {
		return models.Transaction{}, &fetcherror.UnmappedAccountError{Backend: Name, BackendID: raw.ShortCardNumber}
	}
	purchased, err := parseISODate(raw.PurchaseDate)
	if err != nil {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "purchaseDate", Value: raw.PurchaseDate, Err: err}
	}
	paid, err := parseISODate(raw.PaymentDate)
	if err != nil {
		return models.Transaction{}, &fetcherror.ParseError{Backend: Name, Field: "paymentDate", Value: raw.PaymentDate, Err: err}
	}

	b := models.NewTransactionBuilder()
	if raw.OriginalAmount.IsNegative() || raw.ActualPaymentAmount.IsNegative() {
		// Refunds credit the card.
		b.ToAccount(account)
	} else {
		b.FromAccount(account)
	}
	b.WithTransactionDate(purchased).
		WithBillDate(paid).
		WithDescription(raw.MerchantName).
		WithAmounts(raw.OriginalAmount.Abs(), raw.ActualPaymentAmount.Abs()).
		WithCurrency(raw.OriginalCurrency)
	if raw.Comments != nil {
		b.WithNotes(*raw.Comments)
	}
	return b.Build()
}

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	models.DateLayout,
}

func parseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := models.ParseDate(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO date: %q", s)
}
