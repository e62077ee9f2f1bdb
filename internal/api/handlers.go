package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fjacquet/bankfetch/internal/factory"
	"fjacquet/bankfetch/internal/fetch"
	"fjacquet/bankfetch/internal/fetcher"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/logging"
	"fjacquet/bankfetch/internal/models"
)

type periodBody struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// fetchBody is the POST /fetch/{backend} payload.
type fetchBody struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	From     periodBody `json:"from"`
	To       periodBody `json:"to"`
	Save     bool       `json:"save"`
}

func (b fetchBody) request(backend string) (fetch.Request, error) {
	from, err := models.NewPeriod(b.From.Year, b.From.Month)
	if err != nil {
		return fetch.Request{}, err
	}
	to, err := models.NewPeriod(b.To.Year, b.To.Month)
	if err != nil {
		return fetch.Request{}, err
	}
	return fetch.Request{
		Backend:     backend,
		Credentials: fetcher.Credentials{Username: b.Username, Password: b.Password},
		From:        from,
		To:          to,
		Save:        b.Save,
	}, nil
}

// HandleFetch runs one fetch and returns the classified transactions.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	backend := chi.URLParam(r, "backend")
	if _, err := factory.Resolve(backend); err != nil {
		sendJSONError(w, h.logger, err.Error(), http.StatusNotFound)
		return
	}

	var body fetchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSONError(w, h.logger, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req, err := body.request(backend)
	if err != nil {
		sendJSONError(w, h.logger, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.fetcher.Fetch(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, fetch.ErrUnknownBackend) {
			status = http.StatusNotFound
		}
		fields := []logging.Field{logging.F(logging.FieldBackend, backend)}
		if resp := fetcherror.ResponseOf(err); resp != nil {
			fields = append(fields, logging.F(logging.FieldStatusCode, resp.StatusCode), logging.F(logging.FieldURL, resp.URL))
		}
		h.logger.WithError(err).Warn("Fetch request failed", fields...)
		sendJSONError(w, h.logger, err.Error(), status)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, nonNil(result.Transactions))
}

// HandleListTransactions lists stored transactions, optionally for one
// account.
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.transactions == nil {
		sendJSONError(w, h.logger, "transaction store is not configured", http.StatusServiceUnavailable)
		return
	}
	txs, err := h.transactions.List(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list transactions")
		sendJSONError(w, h.logger, err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, nonNil(txs))
}

func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.catalog.Accounts()
	if accounts == nil {
		accounts = []models.Account{}
	}
	sendJSON(w, h.logger, http.StatusOK, accounts)
}

func (h *Handler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.catalog.Categories()
	if categories == nil {
		categories = []models.Category{}
	}
	sendJSON(w, h.logger, http.StatusOK, categories)
}

func nonNil(txs []models.Transaction) []models.Transaction {
	if txs == nil {
		return []models.Transaction{}
	}
	return txs
}
