package rules

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadRule(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{name: "json", file: "rule.json", content: `{"field":"description","regex":"(?i)cafe"}`},
		{name: "yaml", file: "rule.yaml", content: "and:\n  - field: billed_amount\n    gt: 10\n  - field: to_account\n    isnull: true\n"},
		{name: "yml upper case", file: "rule.YML", content: "field: original_currency\neq: USD\n"},
		{name: "bad regex", file: "bad.json", content: `{"field":"description","regex":"("}`, wantErr: true},
		{name: "unknown field", file: "bad.yaml", content: "field: nope\neq: x\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRule(writeFile(t, dir, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	_, err := LoadRule(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "error reading rule file")
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rule.json", `{"field":"description","eq":"Salary"}`)
	var out bytes.Buffer
	validateCmd.SetOut(&out)
	require.NoError(t, validateCmd.RunE(validateCmd, []string{path}))
	assert.True(t, strings.HasPrefix(out.String(), "valid: "))
}

const exported = `id,transaction_date,bill_date,from_account,to_account,transaction_amount,billed_amount,original_currency,description,notes,confirmation,category
,2024-01-03,2024-01-03,checking,,4.50,4.50,ILS,Cafe Nero,,,
,2024-01-05,2024-01-05,,checking,9000.00,9000.00,ILS,Salary,,77,
,2024-01-09,2024-02-02,visa,,30.00,110.00,USD,Book shop,,,
`

func TestTestCommand(t *testing.T) {
	dir := t.TempDir()
	ruleFile = writeFile(t, dir, "rule.yaml", "or:\n  - field: description\n    regex: \"(?i)cafe\"\n  - field: original_currency\n    eq: USD\n")
	transactionsFile = writeFile(t, dir, "txs.csv", exported)
	defer func() { ruleFile, transactionsFile = "", "" }()

	var out bytes.Buffer
	testCmd.SetOut(&out)
	require.NoError(t, runTest(testCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "+ 2024-01-03 4.50 [4.50 ILS] Cafe Nero", lines[0])
	assert.Equal(t, "- 2024-01-05 9000.00 [9000.00 ILS] Salary", lines[1])
	assert.Equal(t, "+ 2024-01-09 110.00 [30.00 USD] Book shop", lines[2])
	assert.Equal(t, "2 of 3 transactions match", lines[3])
}

func TestTestCommand_BadCSV(t *testing.T) {
	dir := t.TempDir()
	ruleFile = writeFile(t, dir, "rule.json", `{"field":"description","eq":"x"}`)
	transactionsFile = writeFile(t, dir, "txs.csv", "transaction_date,transaction_amount,billed_amount,original_currency,description\n2024-01-03,1,1,ILS,no account\n")
	defer func() { ruleFile, transactionsFile = "", "" }()

	err := runTest(testCmd, nil)
	assert.ErrorContains(t, err, "line 2")
}
