package models

// BackendType names the protocol client that owns an account.
type BackendType string

const (
	BackendLeumi     BackendType = "leumi"
	BackendCal       BackendType = "cal"
	BackendLeumicard BackendType = "leumicard"
	BackendOtsar     BackendType = "otsar"
	BackendRecurring BackendType = "recurring"
)

// Currency codes produced by the backends.
const (
	CurrencyILS = "ILS"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// DefaultCurrency is used by providers that do not report one.
const DefaultCurrency = CurrencyILS

// DateLayout is the canonical date rendering for transactions.
const DateLayout = "2006-01-02"

// File permissions
const (
	PermissionConfigFile = 0600
	PermissionDirectory  = 0750
)
