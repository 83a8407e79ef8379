// Package ledger binds the account-book server's auth and transaction
// endpoints and converts their wire records into core types.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"accountbook/internal/core"
)

var ErrMalformedPage = errors.New("malformed transaction page")

// Page is the server's list envelope. Only Content feeds the dashboards; the
// rest is pass-through pagination metadata.
type Page struct {
	Content          []core.Transaction
	TotalElements    int64
	TotalPages       int
	Number           int
	Size             int
	NumberOfElements int
	First            bool
	Last             bool
	Empty            bool

	// Skipped counts content entries that were not JSON objects.
	Skipped int
}

type pageEnvelope struct {
	Content          []json.RawMessage `json:"content"`
	TotalElements    int64             `json:"totalElements"`
	TotalPages       int               `json:"totalPages"`
	Number           int               `json:"number"`
	Size             int               `json:"size"`
	NumberOfElements int               `json:"numberOfElements"`
	First            bool              `json:"first"`
	Last             bool              `json:"last"`
	Empty            bool              `json:"empty"`
}

// DecodePage decodes a list response. Records are read tolerantly; fallback
// is the date given to records without a usable transactionDate.
func DecodePage(data []byte, fallback core.Date) (Page, error) {
	var env pageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}

	p := Page{
		Content:          make([]core.Transaction, 0, len(env.Content)),
		TotalElements:    env.TotalElements,
		TotalPages:       env.TotalPages,
		Number:           env.Number,
		Size:             env.Size,
		NumberOfElements: env.NumberOfElements,
		First:            env.First,
		Last:             env.Last,
		Empty:            env.Empty,
	}
	for _, raw := range env.Content {
		t, ok := DecodeTransaction(raw, fallback)
		if !ok {
			p.Skipped++
			continue
		}
		p.Content = append(p.Content, t)
	}
	return p, nil
}

// DecodeTransaction reads one wire record. Missing or malformed fields are
// defaulted: unknown type becomes Expense, blank category becomes "Other",
// an unusable amount becomes zero and an unusable date becomes fallback.
// It reports false only when raw is not a JSON object.
func DecodeTransaction(raw json.RawMessage, fallback core.Date) (core.Transaction, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return core.Transaction{}, false
	}

	t := core.Transaction{
		ID:          int64Field(fields["id"]),
		Kind:        core.Expense,
		Category:    strings.TrimSpace(stringField(fields["category"])),
		Amount:      amountField(fields["amount"]),
		Description: stringField(fields["description"]),
		OccurredOn:  fallback,
		CreatedAt:   timeField(fields["createdAt"]),
		UpdatedAt:   timeField(fields["updatedAt"]),
	}
	if k, err := core.ParseKind(stringField(fields["type"])); err == nil {
		t.Kind = k
	}
	if t.Category == "" {
		t.Category = core.OtherCategory
	}
	if d, err := core.ParseDate(stringField(fields["transactionDate"])); err == nil {
		t.OccurredOn = d
	}
	return t, true
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// numberText returns the literal of a JSON number or numeric string.
func numberText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		return strings.TrimSpace(stringField(raw))
	}
	return string(raw)
}

func int64Field(raw json.RawMessage) int64 {
	n, err := strconv.ParseInt(numberText(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func amountField(raw json.RawMessage) core.Money {
	d, err := decimal.NewFromString(numberText(raw))
	if err != nil || d.IsNegative() {
		return core.Money{}
	}
	m, ok := core.MoneyFromDecimal(d)
	if !ok {
		return core.Money{}
	}
	return m
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func timeField(raw json.RawMessage) time.Time {
	s := stringField(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// transactionRequest is the create/update body. Tags are always upper case
// and the date is always YYYY-MM-DD.
type transactionRequest struct {
	Type            string      `json:"type"`
	Category        string      `json:"category"`
	Amount          json.Number `json:"amount"`
	Description     string      `json:"description"`
	TransactionDate string      `json:"transactionDate"`
}

func newTransactionRequest(t core.Transaction) transactionRequest {
	return transactionRequest{
		Type:            string(t.Kind),
		Category:        strings.TrimSpace(t.Category),
		Amount:          json.Number(t.Amount.Decimal().String()),
		Description:     strings.TrimSpace(t.Description),
		TransactionDate: t.OccurredOn.String(),
	}
}
