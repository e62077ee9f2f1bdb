package leumifetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

const (
	checking = "12345678901234"
	savings  = "00000000000123"
)

func testAccounts() []models.Account {
	return []models.Account{
		{ID: 1, Name: "checking", BackendID: checking, BackendType: models.BackendLeumi},
		{ID: 2, Name: "savings", BackendID: savings, BackendType: models.BackendLeumi},
	}
}

const movementsPage = `<html><body>תנועות בחשבון
<input type="hidden" name="__VIEWSTATE" value="%s">
<input type="hidden" name="__EVENTVALIDATION" value="%s">
</body></html>`

func page(vs, ev string) string {
	return fmt.Sprintf(movementsPage, vs, ev)
}

func encodeExport(t *testing.T, lines ...string) []byte {
	t.Helper()
	out, err := charmap.CodePage862.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n\r\n")
	require.NoError(t, err)
	return []byte(out)
}

// fakeBank records the requests it receives.
type fakeBank struct {
	mu       sync.Mutex
	requests []string
	forms    []map[string]string
	cookie   string

	loginBody    string
	loginStatus  int
	landingBody  string
	loginDelay   time.Duration
	landingDelay time.Duration
	queryPageErr bool
	export       []byte
}

func (b *fakeBank) record(r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.forms = append(b.forms, form)
	b.mu.Unlock()
}

func (b *fakeBank) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/authenticate", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		if b.loginDelay > 0 {
			time.Sleep(b.loginDelay)
		}
		if b.loginStatus != 0 {
			w.WriteHeader(b.loginStatus)
		}
		_, _ = w.Write([]byte(b.loginBody))
	})
	mux.HandleFunc("/gotolandingpage", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		if b.landingDelay > 0 {
			time.Sleep(b.landingDelay)
		}
		_, _ = w.Write([]byte(b.landingBody))
	})
	mux.HandleFunc("/ebanking/Accounts/ExtendedActivity.aspx", func(w http.ResponseWriter, r *http.Request) {
		b.record(r)
		assert.Equal(t, "1", r.URL.Query().Get("WidgetPar"))
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(page("vs1", "ev1")))
		case r.PostForm.Get("__EVENTTARGET") == "BTNSAVE":
			if c, err := r.Cookie("SaveFormat"); err == nil {
				b.mu.Lock()
				b.cookie = c.Value
				b.mu.Unlock()
			}
			_, _ = w.Write(b.export)
		case b.queryPageErr:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(page("vs2", "ev2")))
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newFetcher(baseURL string, timeout time.Duration) *Fetcher {
	return New(fetcher.Options{
		BaseURL:            baseURL,
		Timeout:            timeout,
		LoginRetryAttempts: 3,
		LoginRetryDelay:    time.Millisecond,
	}, logging.NewMockLogger())
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name        string
		loginBody   string
		loginStatus int
		landingBody string
		wantErr     bool
		wantCalls   []string
	}{
		{
			name:      "welcome page",
			loginBody: "<html><body>" + welcomeMarker + "</body></html>",
			wantCalls: []string{"POST /authenticate"},
		},
		{
			name:        "password expires soon",
			loginBody:   "<html><body>" + expiresSoonMarker + "</body></html>",
			landingBody: "<html><body>" + welcomeMarker + "</body></html>",
			wantCalls:   []string{"POST /authenticate", "POST /gotolandingpage"},
		},
		{
			name:      "marker missing",
			loginBody: "<html><body>לך מכאן!</body></html>",
			wantErr:   true,
			wantCalls: []string{"POST /authenticate"},
		},
		{
			name:        "expires soon then rejected",
			loginBody:   expiresSoonMarker,
			landingBody: "לך מכאן!",
			wantErr:     true,
			wantCalls:   []string{"POST /authenticate", "POST /gotolandingpage"},
		},
		{
			name:        "client error even with marker",
			loginBody:   welcomeMarker,
			loginStatus: http.StatusBadRequest,
			wantErr:     true,
			wantCalls:   []string{"POST /authenticate"},
		},
		{
			name:        "server error",
			loginBody:   "oops",
			loginStatus: http.StatusInternalServerError,
			wantErr:     true,
			wantCalls:   []string{"POST /authenticate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bank := &fakeBank{loginBody: tt.loginBody, loginStatus: tt.loginStatus, landingBody: tt.landingBody}
			server := bank.server(t)

			session, err := newFetcher(server.URL, time.Second).Login(context.Background(), fetcher.Credentials{Username: "asd", Password: "123"})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, fetcherror.ErrLogin))
				assert.NotNil(t, fetcherror.ResponseOf(err))
				assert.Nil(t, session)
			} else {
				require.NoError(t, err)
				require.NotNil(t, session)
				assert.NoError(t, session.Close())
			}
			assert.Equal(t, tt.wantCalls, bank.requests)
			assert.Equal(t, "asd", bank.forms[0]["uid"])
			assert.Equal(t, "123", bank.forms[0]["password"])
		})
	}
}

func TestLogin_RetriesReadTimeouts(t *testing.T) {
	bank := &fakeBank{loginBody: welcomeMarker, loginDelay: 200 * time.Millisecond}
	server := bank.server(t)

	_, err := newFetcher(server.URL, 30*time.Millisecond).Login(context.Background(), fetcher.Credentials{Username: "asd", Password: "123"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcherror.ErrLogin))
	assert.True(t, errors.Is(err, fetcherror.ErrTransient))
	assert.Len(t, bank.requests, 3)
}

func TestLogin_LandingPageTimeoutDoesNotResendCredentials(t *testing.T) {
	bank := &fakeBank{loginBody: expiresSoonMarker, landingBody: welcomeMarker, landingDelay: 200 * time.Millisecond}
	server := bank.server(t)

	_, err := newFetcher(server.URL, 30*time.Millisecond).Login(context.Background(), fetcher.Credentials{Username: "asd", Password: "123"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcherror.ErrLogin))
	assert.Equal(t, []string{"POST /authenticate", "POST /gotolandingpage"}, bank.requests)
}

func TestLogin_MissingCredentials(t *testing.T) {
	_, err := newFetcher("http://unused.invalid", time.Second).Login(context.Background(), fetcher.Credentials{})
	assert.True(t, errors.Is(err, fetcherror.ErrLogin))
	assert.True(t, errors.Is(err, fetcher.ErrMissingCredentials))
}

func TestParseRows(t *testing.T) {
	f := newFetcher("", time.Second)
	accounts := testAccounts()

	lines := []string{
		"13715,021219,י-וכיז ןוינכטה,10000.00,0,0," + checking,
		"932742,021220,  י הזיו ימואל,-2948.73,0,0," + savings,
		"abc,021220,bad confirmation,-1.00,0,0," + checking,
		"1,311320,bad date,-1.00,0,0," + checking,
		"2,021220,bad amount,x1,0,0," + checking,
		"3,021220,short row",
		"4,021220,unknown account,-1.00,0,0,99999",
	}
	txs := f.ParseRows(lines, accounts)
	require.Len(t, txs, 2)

	t0 := txs[0]
	assert.Nil(t, t0.FromAccount)
	require.NotNil(t, t0.ToAccount)
	assert.Equal(t, "checking", t0.ToAccount.Name)
	assert.Equal(t, models.Date(2019, time.December, 2), t0.TransactionDate)
	assert.Equal(t, t0.TransactionDate, t0.BillDate)
	assert.True(t, decimal.NewFromInt(10000).Equal(t0.TransactionAmount))
	assert.True(t, t0.BilledAmount.Equal(t0.TransactionAmount))
	assert.Equal(t, "י-וכיז ןוינכטה", t0.Description)
	assert.Equal(t, int64(13715), *t0.Confirmation)
	assert.Equal(t, models.CurrencyILS, t0.OriginalCurrency)
	assert.NotEmpty(t, t0.ID)

	t1 := txs[1]
	assert.Nil(t, t1.ToAccount)
	require.NotNil(t, t1.FromAccount)
	assert.Equal(t, "savings", t1.FromAccount.Name)
	assert.True(t, decimal.RequireFromString("2948.73").Equal(t1.TransactionAmount))
	assert.Equal(t, "  י הזיו ימואל", t1.Description)
}

func TestParseRows_MissingAccountDropsOnlyItsRows(t *testing.T) {
	f := newFetcher("", time.Second)
	accounts := testAccounts()[1:]
	txs := f.ParseRows([]string{
		"13715,021219,a,10000.00,0,0," + checking,
		"932742,021220,b,-2948.73,0,0," + savings,
	}, accounts)
	require.Len(t, txs, 1)
	assert.Equal(t, "savings", txs[0].FromAccount.Name)
}

func TestDecodeExport(t *testing.T) {
	body := encodeExport(t, "1,010124,שלום,5.00,0,0,1", "", "2,020124,x,6.00,0,0,1")
	lines, err := DecodeExport(strings.NewReader(string(body)))
	require.NoError(t, err)
	assert.Equal(t, []string{"1,010124,שלום,5.00,0,0,1", "2,020124,x,6.00,0,0,1"}, lines)
}

func TestPeriodTransactions(t *testing.T) {
	bank := &fakeBank{
		loginBody: welcomeMarker,
		export: encodeExport(t,
			"100,030124,משכורת,12000.00,0,0,"+checking,
			"101,050124,שכר דירה,-4500.00,0,0,"+checking,
			"102,xx0124,broken,-1.00,0,0,"+checking,
		),
	}
	server := bank.server(t)
	f := newFetcher(server.URL, time.Second)
	ctx := context.Background()

	session, err := f.Login(ctx, fetcher.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	defer session.Close()

	txs, err := f.PeriodTransactions(ctx, session, models.Period{Year: 2024, Month: time.January}, testAccounts())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "משכורת", txs[0].Description)
	assert.NotNil(t, txs[0].ToAccount)
	assert.NotNil(t, txs[1].FromAccount)

	assert.Equal(t, []string{
		"POST /authenticate",
		"GET /ebanking/Accounts/ExtendedActivity.aspx",
		"POST /ebanking/Accounts/ExtendedActivity.aspx",
		"POST /ebanking/Accounts/ExtendedActivity.aspx",
	}, bank.requests)

	query := bank.forms[2]
	assert.Equal(t, "vs1", query["__VIEWSTATE"])
	assert.Equal(t, "ev1", query["__EVENTVALIDATION"])
	assert.Equal(t, "01/01/24", query["dtFromDate$textBox"])
	assert.Equal(t, "31/01/24", query["dtToDate$textBox"])
	assert.Equal(t, "001", query["ddlTransactionType"])
	assert.Equal(t, "004", query["ddlTransactionPeriod"])
	assert.Equal(t, "9", query["btnDisplayDates.x"])
	assert.Equal(t, "10", query["btnDisplayDates.y"])

	export := bank.forms[3]
	assert.Equal(t, "vs2", export["__VIEWSTATE"])
	assert.Equal(t, "ev2", export["__EVENTVALIDATION"])
	assert.Equal(t, "BTNSAVE", export["__EVENTTARGET"])
	assert.Equal(t, saveFormat, export["hidSaveAsChoice"])
	assert.Equal(t, saveFormat, bank.cookie)
}

func TestPeriodTransactions_QueryPageFails(t *testing.T) {
	bank := &fakeBank{loginBody: welcomeMarker, queryPageErr: true}
	server := bank.server(t)
	f := newFetcher(server.URL, time.Second)

	session, err := f.Login(context.Background(), fetcher.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	defer session.Close()

	_, err = f.PeriodTransactions(context.Background(), session, models.Period{Year: 2024, Month: time.January}, testAccounts())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetcherror.ErrFetch))
	assert.Equal(t, http.StatusInternalServerError, fetcherror.ResponseOf(err).StatusCode)
}

func TestPeriodTransactions_WrongSession(t *testing.T) {
	_, err := newFetcher("", time.Second).PeriodTransactions(context.Background(), fetcher.NopSession{}, models.Period{Year: 2024, Month: 1}, nil)
	assert.Error(t, err)
}

func resumeRows() []string {
	return []string{
		"1,010124,a,-1.00,0,0," + checking,
		"2,020124,b,-2.00,0,0," + checking,
		"3,030124,c,-3.00,0,0," + checking,
		"4,040124,d,4.00,0,0," + checking,
	}
}

func TestAfter(t *testing.T) {
	txs := newFetcher("", time.Second).ParseRows(resumeRows(), testAccounts())
	require.Len(t, txs, 4)

	anchor := models.Anchor{AccountID: checking, Date: models.Date(2024, 1, 2), Confirmation: 2}
	rest, next, err := After(txs, anchor)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "c", rest[0].Description)
	assert.Equal(t, "d", rest[1].Description)
	assert.Equal(t, models.Anchor{AccountID: checking, Date: models.Date(2024, 1, 4), Confirmation: 4}, next)

	rest, again, err := After(txs, next)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, next, again)

	tests := []struct {
		name   string
		anchor models.Anchor
	}{
		{"wrong confirmation", models.Anchor{AccountID: checking, Date: models.Date(2024, 1, 2), Confirmation: 99}},
		{"wrong date", models.Anchor{AccountID: checking, Date: models.Date(2024, 1, 3), Confirmation: 2}},
		{"wrong account", models.Anchor{AccountID: savings, Date: models.Date(2024, 1, 2), Confirmation: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := After(txs, tt.anchor)
			assert.True(t, errors.Is(err, fetcherror.ErrAnchorNotFound))
		})
	}
}

func TestResume(t *testing.T) {
	bank := &fakeBank{loginBody: welcomeMarker, export: encodeExport(t, resumeRows()...)}
	server := bank.server(t)
	f := newFetcher(server.URL, time.Second)
	ctx := context.Background()

	session, err := f.Login(ctx, fetcher.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	defer session.Close()

	anchor := models.Anchor{AccountID: checking, Date: models.Date(2024, 1, 1), Confirmation: 1}
	rest, next, err := f.Resume(ctx, session, anchor, models.Date(2024, 1, 31), testAccounts())
	require.NoError(t, err)
	assert.Len(t, rest, 3)
	assert.Equal(t, int64(4), next.Confirmation)
	assert.Equal(t, "01/01/24", bank.forms[2]["dtFromDate$textBox"])
	assert.Equal(t, "31/01/24", bank.forms[2]["dtToDate$textBox"])

	_, _, err = f.Resume(ctx, session, anchor, models.Date(2023, 12, 31), testAccounts())
	assert.Error(t, err)
}
