package calfetcher

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"fjacquet/bankfetch/internal/currencyutils"
	"fjacquet/bankfetch/internal/dateutils"
	"fjacquet/bankfetch/internal/fetcherror"
	"fjacquet/bankfetch/internal/htmldoc"
	"fjacquet/bankfetch/internal/models"
)

const (
	cardsListID = "ctl00_ContentTop_cboCardList_categoryList_pnlMain"
	datesListID = "ctl00_FormAreaNoBorder_FormArea_clndrDebitDateScope_OptionList"
	captionID   = "ctl00_FormAreaNoBorder_FormArea_ctlMainToolBar_lblCaption"
	gridID      = "ctlMainGrid"
)

// CardsList returns the label of every card on the page.
func CardsList(page *htmldoc.Document) ([]string, error) {
	list := page.ByID(cardsListID)
	if list == nil {
		return nil, &fetcherror.ParseError{Backend: Name, Field: "cards list", Err: fmt.Errorf("element %s not found", cardsListID)}
	}
	var cards []string
	for _, table := range htmldoc.FindAll(list, "table") {
		link := htmldoc.Find(table, "a")
		if link == nil {
			return nil, &fetcherror.ParseError{Backend: Name, Field: "cards list", Err: fmt.Errorf("cards list is malformed")}
		}
		cards = append(cards, htmldoc.RawText(link))
	}
	return cards, nil
}

// CardDigits returns the four card digits embedded in a card label: the
// four characters before the last one.
func CardDigits(label string) string {
	r := []rune(label)
	if len(r) < 5 {
		return ""
	}
	return string(r[len(r)-5 : len(r)-1])
}

// SelectCard returns the first label whose digits equal backendID.
func SelectCard(cards []string, backendID string) (string, bool) {
	for _, c := range cards {
		if CardDigits(c) == backendID {
			return c, true
		}
	}
	return "", false
}

// SelectDate finds the billing-month option for period and returns its
// position and label. A missing option is a parse error.
func SelectDate(period models.Period, page *htmldoc.Document) (int, string, error) {
	list := page.ByID(datesListID)
	if list == nil {
		return 0, "", &fetcherror.ParseError{Backend: Name, Field: "dates list", Err: fmt.Errorf("element %s not found", datesListID)}
	}
	want := period.First().Format(dateutils.LayoutMonthYear)
	for idx, item := range htmldoc.FindAll(list, "li") {
		if v, _ := htmldoc.Attr(item, "value"); v == want {
			return idx, htmldoc.RawText(item), nil
		}
	}
	return 0, "", &fetcherror.ParseError{Backend: Name, Field: "dates list", Value: want, Err: fmt.Errorf("requested date not offered")}
}

// Parse converts a statement page. A page carrying the no-results notice
// yields an empty list. Rows that fail to convert are dropped.
func (f *Fetcher) Parse(page *htmldoc.Document, account *models.Account) ([]models.Transaction, error) {
	if page.Contains(noResultsMarker) {
		return []models.Transaction{}, nil
	}
	billDate, err := parseBillDate(page)
	if err != nil {
		return nil, err
	}
	grid := page.ByID(gridID)
	if grid == nil {
		return nil, &fetcherror.ParseError{Backend: Name, Field: "transactions table", Err: fmt.Errorf("element %s not found", gridID)}
	}
	body := htmldoc.Find(grid, "tbody")
	if body == nil {
		return []models.Transaction{}, nil
	}

	rows := htmldoc.FindAll(body, "tr")
	txs := make([]models.Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := parseRow(row, billDate, account)
		if err != nil {
			f.LogDroppedRow(i, err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func parseBillDate(page *htmldoc.Document) (time.Time, error) {
	caption, ok, err := page.XPathFirst(fmt.Sprintf(`//*[@id='%s']`, captionID))
	if err != nil {
		return time.Time{}, &fetcherror.ParseError{Backend: Name, Field: "bill date", Err: err}
	}
	fields := strings.Fields(caption)
	if !ok || len(fields) == 0 {
		return time.Time{}, &fetcherror.ParseError{Backend: Name, Field: "bill date", Err: fmt.Errorf("element %s not found", captionID)}
	}
	last := fields[len(fields)-1]
	date, err := models.ParseDate(dateutils.LayoutLongSlash, last)
	if err != nil {
		return time.Time{}, &fetcherror.ParseError{Backend: Name, Field: "bill date", Value: last, Err: err}
	}
	return date, nil
}

// Statement columns: purchase date, merchant, original "symbol amount",
// billed "symbol amount", notes.
const statementColumns = 5

func parseRow(row *html.Node, billDate time.Time, account *models.Account) (models.Transaction, error) {
	cells := htmldoc.FindAll(row, "td")
	if len(cells) < statementColumns {
		return models.Transaction{}, fmt.Errorf("expected %d cells, got %d", statementColumns, len(cells))
	}
	currency, amount, err := currencyutils.ParseSymbolAmount(htmldoc.Text(cells[2]))
	if err != nil {
		return models.Transaction{}, err
	}
	_, billed, err := currencyutils.ParseSymbolAmount(htmldoc.Text(cells[3]))
	if err != nil {
		return models.Transaction{}, err
	}

	b := models.NewTransactionBuilder()
	if amount.IsNegative() || billed.IsNegative() {
		// Refunds credit the card.
		b.ToAccount(account)
	} else {
		b.FromAccount(account)
	}
	return b.
		WithTransactionDateString(dateutils.LayoutShortSlash, htmldoc.Text(cells[0])).
		WithBillDate(billDate).
		WithDescription(htmldoc.Text(cells[1])).
		WithAmounts(amount.Abs(), billed.Abs()).
		WithCurrency(currency).
		WithNotes(htmldoc.Text(cells[4])).
		Build()
}
