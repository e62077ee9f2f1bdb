package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchCommand_Metadata(t *testing.T) {
	assert.Equal(t, "fetch", Cmd.Use)
	assert.Contains(t, Cmd.Short, "Fetch the transactions")
	assert.NotNil(t, Cmd.RunE)
}

func TestFetchCommand_Flags(t *testing.T) {
	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{name: "backend", shorthand: "b"},
		{name: "from"},
		{name: "to"},
		{name: "username", shorthand: "u"},
		{name: "password-env", defValue: "BANKFETCH_PASSWORD"},
		{name: "vault-secret-env"},
		{name: "save", defValue: "false"},
		{name: "output", shorthand: "o"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := Cmd.Flags().Lookup(tt.name)
			if assert.NotNil(t, flag) {
				assert.Equal(t, tt.shorthand, flag.Shorthand)
				assert.Equal(t, tt.defValue, flag.DefValue)
			}
		})
	}

	assert.Contains(t, Cmd.Flags().Lookup("backend").Usage, "max")
}

func TestFetchCommand_BadPeriod(t *testing.T) {
	fromFlag, toFlag = "2024-13", ""
	defer func() { fromFlag = "" }()
	err := run(Cmd, nil)
	assert.ErrorContains(t, err, "--from")

	fromFlag, toFlag = "2024-01", "nope"
	defer func() { toFlag = "" }()
	err = run(Cmd, nil)
	assert.ErrorContains(t, err, "--to")
}
