package pg

import (
	"context"
	"fmt"
	"time"
)

type maintenance struct{ s *scopedTx }

func (m maintenance) PurgeIdempotency(ctx context.Context, olderThan time.Duration) (int64, error) {
	var n int64
	err := m.s.queryRow(ctx, `select app.purge_idempotency_keys($1::interval)`,
		[]any{fmt.Sprintf("%d seconds", int64(olderThan/time.Second))}, &n)
	return n, err
}

func (m maintenance) ExpireInvitations(ctx context.Context) (int64, error) {
	var n int64
	err := m.s.queryRow(ctx, `select app.expire_invitations()`, nil, &n)
	return n, err
}
