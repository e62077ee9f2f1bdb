package models

import (
	"encoding/json"
	"fmt"
)

// Account is a local reference to a remote account or card. Accounts are
// read-only to the fetch and classification code.
type Account struct {
	ID          int64           `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	BackendID   string          `json:"backend_id" yaml:"backend_id"`
	BackendType BackendType     `json:"backend_type" yaml:"backend_type"`
	Settings    AccountSettings `json:"settings,omitempty" yaml:"-"`
	AuthSource  string          `json:"auth_source_name,omitempty" yaml:"auth_source_name"`
	AuthItemID  string          `json:"-" yaml:"auth_source_item_id"`
}

// Validate checks the fields an administrator must supply.
func (a *Account) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if a.BackendType == "" {
		return fmt.Errorf("account %q: backend type is required", a.Name)
	}
	if a.AuthSource == "" && a.AuthItemID != "" {
		return fmt.Errorf("account %q: auth_source_item_id requires auth_source_name", a.Name)
	}
	if a.Settings != nil {
		if a.Settings.BackendType() != a.BackendType {
			return fmt.Errorf("account %q: %s settings on a %s account", a.Name, a.Settings.BackendType(), a.BackendType)
		}
		if err := a.Settings.Validate(); err != nil {
			return fmt.Errorf("account %q: %w", a.Name, err)
		}
	}
	return nil
}

// AccountKey identifies a remote account.
type AccountKey struct {
	BackendType BackendType
	BackendID   string
}

// Key returns the (backend type, backend id) pair.
func (a *Account) Key() AccountKey {
	return AccountKey{BackendType: a.BackendType, BackendID: a.BackendID}
}

// UnmarshalJSON decodes settings according to backend_type.
func (a *Account) UnmarshalJSON(data []byte) error {
	type plain Account
	var aux struct {
		plain
		Settings map[string]interface{} `json:"settings"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Account(aux.plain)
	a.Settings = nil
	if aux.Settings != nil {
		settings, err := ParseSettings(a.BackendType, aux.Settings)
		if err != nil {
			return fmt.Errorf("account %q: %w", a.Name, err)
		}
		a.Settings = settings
	}
	return nil
}

// FindByBackendID returns the account whose BackendID equals id.
func FindByBackendID(accounts []Account, id string) (*Account, bool) {
	for i := range accounts {
		if accounts[i].BackendID == id {
			return &accounts[i], true
		}
	}
	return nil, false
}
