package pg

import (
	"context"
	"errors"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
)

type idempotencyKeys struct{ s *scopedTx }

var _ idempotency.Store = idempotencyKeys{}

func (r idempotencyKeys) Find(ctx context.Context, k idempotency.Key) (idempotency.Record, error) {
	rec := idempotency.Record{Key: k}
	var body []byte
	err := r.s.queryRow(ctx, `
		select request_hash, status_code, response, created_at
		  from idempotency_keys
		 where principal_id = $1 and token = $2`,
		[]any{k.PrincipalID, k.Token}, &rec.RequestHash, &rec.StatusCode, &body, &rec.CreatedAt)
	if err != nil {
		return idempotency.Record{}, err
	}
	rec.Response = body
	return rec, nil
}

// Insert never overwrites. A concurrent insert of the same key blocks on the
// primary key until the other transaction ends, then reports false.
func (r idempotencyKeys) Insert(ctx context.Context, rec idempotency.Record) (bool, error) {
	err := r.s.queryRow(ctx, `
		insert into idempotency_keys (principal_id, token, request_hash, status_code, response)
		values ($1, $2, $3, $4, $5)
		on conflict (principal_id, token) do nothing
		returning created_at`,
		[]any{rec.PrincipalID, rec.Token, rec.RequestHash, rec.StatusCode, string(rec.Response)}, &rec.CreatedAt)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
