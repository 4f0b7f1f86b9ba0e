package pg

import (
	"context"
	"database/sql"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/finance"
)

type transactions struct{ s *scopedTx }

var _ finance.Store = transactions{}

func (r transactions) Create(ctx context.Context, t finance.Transaction) (finance.Transaction, error) {
	err := r.s.queryRow(ctx, `
		insert into financial_transactions
		       (id, kind, amount_minor, currency, description, site_id, small_group_id, recorded_by, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at`,
		[]any{t.ID, string(t.Kind), t.AmountMinor, t.Currency, t.Description,
			nullIfEmpty(t.SiteID), nullIfEmpty(t.SmallGroupID), t.RecordedBy, t.OccurredAt},
		&t.CreatedAt)
	return t, err
}

func filterTransactions(f finance.Filter) *where {
	w := &where{}
	w.eq("site_id", f.SiteID)
	w.eq("small_group_id", f.SmallGroupID)
	if !f.Since.IsZero() {
		w.add("occurred_at >= %s", f.Since)
	}
	if !f.Until.IsZero() {
		w.add("occurred_at < %s", f.Until)
	}
	return w
}

func (r transactions) List(ctx context.Context, f finance.Filter) ([]finance.Transaction, error) {
	w := filterTransactions(f)
	q := `select id, kind, amount_minor, currency, description, coalesce(site_id, ''), coalesce(small_group_id, ''),
	             recorded_by::text, occurred_at, created_at
	        from financial_transactions` + w.String() + ` order by occurred_at desc, id`
	q += w.limit(f.Limit)

	out := []finance.Transaction{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var t finance.Transaction
		if err := rows.Scan(&t.ID, &t.Kind, &t.AmountMinor, &t.Currency, &t.Description, &t.SiteID, &t.SmallGroupID,
			&t.RecordedBy, &t.OccurredAt, &t.CreatedAt); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// Summarize aggregates only the rows the session can see.
func (r transactions) Summarize(ctx context.Context, f finance.Filter) ([]finance.Summary, error) {
	w := filterTransactions(f)
	q := `select currency,
	             coalesce(sum(amount_minor) filter (where kind = 'income'), 0)::bigint,
	             coalesce(sum(amount_minor) filter (where kind = 'expense'), 0)::bigint,
	             count(*)
	        from financial_transactions` + w.String() + `
	       group by currency
	       order by currency`

	out := []finance.Summary{}
	err := r.s.query(ctx, q, w.args, func(rows *sql.Rows) error {
		var (
			s     finance.Summary
			count int64
		)
		if err := rows.Scan(&s.Currency, &s.IncomeMinor, &s.ExpenseMinor, &count); err != nil {
			return err
		}
		s.Count = int(count)
		s.BalanceMinor = s.IncomeMinor - s.ExpenseMinor
		out = append(out, s)
		return nil
	})
	return out, err
}
