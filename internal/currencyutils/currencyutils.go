// Package currencyutils parses the localized amount strings found on
// provider statement pages.
package currencyutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// symbolToCode is the fixed currency symbol table.
var symbolToCode = map[string]string{
	"₪": "ILS",
	"$": "USD",
	"€": "EUR",
}

var (
	symbolPattern = regexp.MustCompile(`[₪$€\s\x{200e}\x{200f}]`)
	amountPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

// CodeForSymbol resolves a currency symbol such as "₪" to its code.
func CodeForSymbol(symbol string) (string, bool) {
	code, ok := symbolToCode[strings.TrimSpace(symbol)]
	return code, ok
}

// StandardizeAmount strips currency symbols, bidi marks, whitespace and
// thousands separators, and moves a trailing minus sign to the front
// ("1,234.50-" becomes "-1234.50").
func StandardizeAmount(amountStr string) string {
	s := symbolPattern.ReplaceAllString(amountStr, "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "'", "")
	if strings.HasSuffix(s, "-") && !strings.HasPrefix(s, "-") {
		s = "-" + strings.TrimSuffix(s, "-")
	}
	return s
}

// ParseAmount parses an amount as printed by the providers. An empty
// string is zero.
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	standardized := StandardizeAmount(amountStr)
	if standardized == "" {
		return decimal.Zero, nil
	}
	if !amountPattern.MatchString(standardized) {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s'", amountStr)
	}
	amount, err := decimal.NewFromString(standardized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	return amount, nil
}

// ParseSymbolAmount splits a "symbol amount" cell such as "₪ 19.90" and
// resolves the symbol. Unknown symbols are an error.
func ParseSymbolAmount(cell string) (string, decimal.Decimal, error) {
	fields := strings.Fields(cell)
	if len(fields) != 2 {
		return "", decimal.Zero, fmt.Errorf("expected 'symbol amount', got '%s'", cell)
	}
	code, ok := CodeForSymbol(fields[0])
	if !ok {
		return "", decimal.Zero, fmt.Errorf("unknown currency symbol '%s'", fields[0])
	}
	amount, err := ParseAmount(fields[1])
	if err != nil {
		return "", decimal.Zero, err
	}
	return code, amount, nil
}

// FormatAmount renders amount with two decimals followed by the code.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		return amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + strings.ToUpper(currency)
}
