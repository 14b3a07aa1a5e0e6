package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/campus-numbers/backend/internal/models"
)

// Column names a field in an import line.
type Column string

const (
	ColNumber          Column = "number"
	ColCustomerName    Column = "customer_name"
	ColCustomerContact Column = "customer_contact"
	ColShippingAddress Column = "shipping_address"
	ColPaymentAmount   Column = "payment_amount"
	ColPaymentMethod   Column = "payment_method"
	ColTransactionID   Column = "transaction_id"
	ColPremiumReason   Column = "premium_reason"
	ColNotes           Column = "notes"
	ColIgnore          Column = "ignore"
)

func (c Column) valid() bool {
	switch c {
	case ColNumber, ColCustomerName, ColCustomerContact, ColShippingAddress, ColPaymentAmount,
		ColPaymentMethod, ColTransactionID, ColPremiumReason, ColNotes, ColIgnore:
		return true
	}
	return false
}

// Layout selects a column order.
type Layout string

const (
	// LayoutInventory is a stock list: number, premium reason, notes.
	LayoutInventory Layout = "INVENTORY"
	// LayoutSales is a sales sheet exported from the order desk.
	LayoutSales Layout = "SALES"
	// LayoutCustom uses the caller's column order.
	LayoutCustom Layout = "CUSTOM"
)

// columnSet is a resolved layout with the number of leading columns every
// line must carry.
type columnSet struct {
	cols []Column
	min  int
}

var builtinLayouts = map[Layout]columnSet{
	LayoutInventory: {cols: []Column{ColNumber, ColPremiumReason, ColNotes}, min: 1},
	LayoutSales: {cols: []Column{ColNumber, ColCustomerName, ColCustomerContact, ColPaymentAmount,
		ColShippingAddress, ColPaymentMethod, ColTransactionID, ColNotes}, min: 3},
}

func resolveLayout(l Layout, custom []Column) (columnSet, error) {
	if l == "" {
		l = LayoutInventory
	}
	if l != LayoutCustom {
		cs, ok := builtinLayouts[l]
		if !ok {
			return columnSet{}, fmt.Errorf("%w: unknown layout %q", models.ErrValidation, l)
		}
		return cs, nil
	}
	if len(custom) == 0 {
		return columnSet{}, fmt.Errorf("%w: custom layout needs columns", models.ErrValidation)
	}
	for _, c := range custom {
		if !c.valid() {
			return columnSet{}, fmt.Errorf("%w: unknown column %q", models.ErrValidation, c)
		}
	}
	return columnSet{cols: custom, min: len(custom)}, nil
}

var digitRun = regexp.MustCompile(`\d+`)
var mobileShape = regexp.MustCompile(`^1[3-9]\d{9}$`)

// ExtractNumbers returns every standalone 11-digit mobile number in s, in order.
func ExtractNumbers(s string) []string {
	var out []string
	for _, run := range digitRun.FindAllString(s, -1) {
		if mobileShape.MatchString(run) {
			out = append(out, run)
		}
	}
	return out
}

// Tokenize splits a line on tabs when present, keeping empty cells, and on
// runs of whitespace otherwise.
func Tokenize(line string) []string {
	line = strings.TrimRight(line, "\r")
	if strings.Contains(line, "\t") {
		cells := strings.Split(line, "\t")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		return cells
	}
	return strings.Fields(line)
}

var headerKeywords = []string{
	"号码", "手机", "姓名", "客户", "联系", "电话", "地址", "金额", "付款", "支付", "交易", "备注", "靓号", "单号",
	"number", "phone", "mobile", "name", "customer", "contact", "address", "amount", "payment",
	"transaction", "notes", "remark", "premium",
}

// IsHeader reports whether tokens look like column labels: no token holds a
// mobile number and at least one holds a label keyword.
func IsHeader(tokens []string) bool {
	labelled := false
	for _, t := range tokens {
		if len(ExtractNumbers(t)) > 0 {
			return false
		}
		lt := strings.ToLower(t)
		for _, k := range headerKeywords {
			if strings.Contains(lt, k) {
				labelled = true
				break
			}
		}
	}
	return labelled
}

// lineError is a per-line parse failure; it skips the line, not the batch.
type lineError struct{ msg string }

func (e *lineError) Error() string { return e.msg }

// parseLine turns one tokenized line into a partial record. The first mobile
// number on the line is the subject; a second one is the customer contact.
func parseLine(tokens []string, cs columnSet) (models.NumberRecord, []string, error) {
	var rec models.NumberRecord
	found := ExtractNumbers(strings.Join(tokens, " "))
	if len(found) == 0 {
		return rec, nil, &lineError{"no valid phone number"}
	}
	if nonEmpty(tokens) < cs.min {
		return rec, nil, &lineError{fmt.Sprintf("insufficient columns: got %d, need %d", nonEmpty(tokens), cs.min)}
	}
	rec.NumberValue = found[0]

	var warnings []string
	for i, col := range cs.cols {
		if i >= len(tokens) {
			break
		}
		v := strings.TrimSpace(tokens[i])
		if v == "" {
			continue
		}
		switch col {
		case ColCustomerName:
			rec.CustomerName = &v
		case ColCustomerContact:
			rec.CustomerContact = &v
		case ColShippingAddress:
			rec.ShippingAddress = &v
		case ColPaymentMethod:
			rec.PaymentMethod = &v
		case ColTransactionID:
			rec.TransactionID = &v
		case ColPremiumReason:
			rec.PremiumReason = &v
			rec.IsPremium = true
		case ColNotes:
			rec.Notes = &v
		case ColPaymentAmount:
			amt, err := parseAmount(v)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("ignored payment amount %q", v))
				continue
			}
			rec.PaymentAmount = &amt
		}
	}
	if len(found) > 1 {
		contact := found[1]
		rec.CustomerContact = &contact
	}
	if !rec.IsPremium {
		if ok, reason := Classify(rec.NumberValue); ok {
			rec.IsPremium = true
			rec.PremiumReason = &reason
		}
	}
	return rec, warnings, nil
}

func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(strings.NewReplacer("¥", "", "￥", "", "元", "", ",", "").Replace(s))
	amt, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if amt < 0 {
		return 0, fmt.Errorf("negative amount")
	}
	return amt, nil
}

func nonEmpty(tokens []string) int {
	n := 0
	for _, t := range tokens {
		if strings.TrimSpace(t) != "" {
			n++
		}
	}
	return n
}
