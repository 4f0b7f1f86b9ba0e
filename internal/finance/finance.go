// Package finance records income and expense transactions per site or small group.
package finance

import (
	"context"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
)

type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

type Transaction struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	AmountMinor  int64     `json:"amount_minor"`
	Currency     string    `json:"currency"`
	Description  string    `json:"description,omitempty"`
	SiteID       string    `json:"site_id,omitempty"`
	SmallGroupID string    `json:"small_group_id,omitempty"`
	RecordedBy   string    `json:"recorded_by"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

func (t *Transaction) Validate() error {
	v := &apperr.ValidationError{}
	switch t.Kind {
	case KindIncome, KindExpense:
	default:
		v.Add("kind", "must be income or expense")
	}
	if t.AmountMinor <= 0 {
		v.Add("amount_minor", "must be > 0")
	}
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" || len(t.Currency) > 8 {
		v.Add("currency", "must be 1..8 characters")
	}
	if len(t.Description) > 500 {
		v.Add("description", "must be at most 500 characters")
	}
	if t.SmallGroupID != "" && t.SiteID == "" {
		v.Add("site_id", "required when small_group_id is set")
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}
	return v.OrNil()
}

type Filter struct {
	SiteID       string
	SmallGroupID string
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Summary aggregates visible transactions per currency.
type Summary struct {
	Currency     string `json:"currency"`
	IncomeMinor  int64  `json:"income_minor"`
	ExpenseMinor int64  `json:"expense_minor"`
	BalanceMinor int64  `json:"balance_minor"`
	Count        int    `json:"count"`
}

type Store interface {
	Create(ctx context.Context, t Transaction) (Transaction, error)
	List(ctx context.Context, f Filter) ([]Transaction, error)
	Summarize(ctx context.Context, f Filter) ([]Summary, error)
}
