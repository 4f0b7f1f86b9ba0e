// Package store declares the transactional data access surface shared by
// the HTTP layer and the Postgres implementation.
package store

import (
	"context"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/activity"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/finance"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/invite"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/org"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/report"
)

// Tx is one scoped unit of work. All sub-stores share its transaction, and
// every statement they issue is evaluated under the session's principal.
type Tx interface {
	Profiles() profile.Store
	Org() org.Store
	Activities() activity.Store
	Reports() report.Store
	Transactions() finance.Store
	Invitations() invite.Store
	Audit() audit.Store
	Idempotency() idempotency.Store
	Maintenance() Maintenance
	Savepoint(ctx context.Context, name string) (release, rollback func(context.Context) error, err error)
}

// Maintenance runs privileged housekeeping through database functions. It is
// only meaningful in sessions opened without a principal.
type Maintenance interface {
	PurgeIdempotency(ctx context.Context, olderThan time.Duration) (int64, error)
	ExpireInvitations(ctx context.Context) (int64, error)
}

// Sessions opens scoped units of work.
type Sessions interface {
	// WithPrincipal runs fn in a transaction bound to p. It commits when fn
	// returns nil and rolls back otherwise.
	WithPrincipal(ctx context.Context, p auth.Principal, fn func(ctx context.Context, tx Tx) error) error
	// WithoutPrincipal runs fn in a transaction with no identity bound, so
	// every policy-protected table is deny-all.
	WithoutPrincipal(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

var _ idempotency.Tx = Tx(nil)
