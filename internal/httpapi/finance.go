package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/finance"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/ids"
)

type createTransactionRequest struct {
	Kind         finance.Kind `json:"kind"`
	AmountMinor  int64        `json:"amount_minor"`
	Currency     string       `json:"currency"`
	Description  string       `json:"description"`
	SiteID       string       `json:"site_id"`
	SmallGroupID string       `json:"small_group_id"`
	OccurredAt   *time.Time   `json:"occurred_at"`
}

func transactionFilter(r *http.Request) (finance.Filter, error) {
	q := r.URL.Query()
	f := finance.Filter{
		SiteID:       q.Get("site_id"),
		SmallGroupID: q.Get("small_group_id"),
	}
	var err error
	if f.Since, err = parseTime("since", q.Get("since")); err != nil {
		return f, err
	}
	if f.Until, err = parseTime("until", q.Get("until")); err != nil {
		return f, err
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return f, err
	}
	return f, nil
}

func (a *API) listTransactions(r *http.Request, s *Session) (Response, error) {
	f, err := transactionFilter(r)
	if err != nil {
		return Response{}, err
	}
	out, err := s.Tx.Transactions().List(r.Context(), f)
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

func (a *API) summarizeTransactions(r *http.Request, s *Session) (Response, error) {
	f, err := transactionFilter(r)
	if err != nil {
		return Response{}, err
	}
	out, err := s.Tx.Transactions().Summarize(r.Context(), f)
	if err != nil {
		return Response{}, err
	}
	return ok(list(out)), nil
}

// createTransaction records a transaction once per Idempotency-Key.
func (a *API) createTransaction(r *http.Request, s *Session) (Response, error) {
	var req createTransactionRequest
	body, err := readJSON(r, &req)
	if err != nil {
		return Response{}, err
	}
	return a.idempotent(r, s, body, func(ctx context.Context) (Response, error) {
		siteID, err := groupSite(ctx, s, req.SiteID, req.SmallGroupID)
		if err != nil {
			return Response{}, err
		}
		t := finance.Transaction{
			ID:           ids.New(),
			Kind:         req.Kind,
			AmountMinor:  req.AmountMinor,
			Currency:     req.Currency,
			Description:  req.Description,
			SiteID:       siteID,
			SmallGroupID: req.SmallGroupID,
			RecordedBy:   s.Principal.ID,
		}
		if req.OccurredAt != nil {
			t.OccurredAt = req.OccurredAt.UTC()
		}
		if err := t.Validate(); err != nil {
			return Response{}, err
		}
		t, err = s.Tx.Transactions().Create(ctx, t)
		if err != nil {
			return Response{}, err
		}
		if err := audit.Record(ctx, s.Tx.Audit(), "transaction.create", "transaction", t.ID, map[string]any{
			"kind":         string(t.Kind),
			"amount_minor": t.AmountMinor,
			"currency":     t.Currency,
		}); err != nil {
			return Response{}, err
		}
		return created(t), nil
	})
}
