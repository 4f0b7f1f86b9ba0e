package httpapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/activity"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/audit"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/finance"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/idempotency"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/invite"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/org"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/profile"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/report"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store"
)

// memState is the committed data of memSessions. Row-level policies are
// not modelled; the handlers' own checks and the wrapper are under test.
type memState struct {
	profiles     map[string]profile.Profile
	sites        []org.Site
	groups       []org.SmallGroup
	activities   []activity.Activity
	reports      []report.Report
	transactions []finance.Transaction
	invitations  []invite.Invitation
	audit        []audit.Entry
	idem         map[idempotency.Key]idempotency.Record
}

func newMemState() *memState {
	return &memState{
		profiles: map[string]profile.Profile{},
		idem:     map[idempotency.Key]idempotency.Record{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		profiles:     make(map[string]profile.Profile, len(s.profiles)),
		sites:        append([]org.Site(nil), s.sites...),
		groups:       append([]org.SmallGroup(nil), s.groups...),
		activities:   append([]activity.Activity(nil), s.activities...),
		reports:      append([]report.Report(nil), s.reports...),
		transactions: append([]finance.Transaction(nil), s.transactions...),
		invitations:  append([]invite.Invitation(nil), s.invitations...),
		audit:        append([]audit.Entry(nil), s.audit...),
		idem:         make(map[idempotency.Key]idempotency.Record, len(s.idem)),
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	return c
}

// memSessions runs one session at a time against a private copy of the
// state and publishes the copy on commit.
type memSessions struct {
	mu        sync.Mutex
	state     *memState
	commitErr error

	opened    int
	commits   int
	rollbacks int
	bound     []string
}

func newMemSessions() *memSessions { return &memSessions{state: newMemState()} }

func (m *memSessions) WithPrincipal(ctx context.Context, p auth.Principal, fn func(context.Context, store.Tx) error) error {
	if p.ID == "" {
		return fmt.Errorf("%w: no principal", apperr.ErrUnauthenticated)
	}
	return m.run(ctx, p, fn)
}

func (m *memSessions) WithoutPrincipal(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	return m.run(ctx, auth.Principal{}, fn)
}

func (m *memSessions) run(ctx context.Context, p auth.Principal, fn func(context.Context, store.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	m.bound = append(m.bound, p.ID)
	tx := &memTx{st: m.state.clone(), principal: p}
	defer func() {
		if rec := recover(); rec != nil {
			m.rollbacks++
			panic(rec)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		m.rollbacks++
		return err
	}
	if m.commitErr != nil {
		m.rollbacks++
		return m.commitErr
	}
	m.commits++
	m.state = tx.st
	return nil
}

// snapshot returns the committed state for assertions.
func (m *memSessions) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memSessions) seed(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

type memTx struct {
	st        *memState
	principal auth.Principal
	savepoint int
}

func (t *memTx) Profiles() profile.Store { return memProfiles{t} }
func (t *memTx) Org() org.Store { return memOrg{t} }
func (t *memTx) Activities() activity.Store { return memActivities{t} }
func (t *memTx) Reports() report.Store { return memReports{t} }
func (t *memTx) Transactions() finance.Store { return memTransactions{t} }
func (t *memTx) Invitations() invite.Store { return memInvitations{t} }
func (t *memTx) Audit() audit.Store { return memAudit{t} }
func (t *memTx) Idempotency() idempotency.Store { return memIdempotency{t} }
func (t *memTx) Maintenance() store.Maintenance { return memMaintenance{t} }

func (t *memTx) Savepoint(_ context.Context, _ string) (func(context.Context) error, func(context.Context) error, error) {
	t.savepoint++
	snap := t.st.clone()
	release := func(context.Context) error { return nil }
	rollback := func(context.Context) error {
		t.st = snap
		return nil
	}
	return release, rollback, nil
}

type memProfiles struct{ t *memTx }

func (r memProfiles) Self(context.Context) (profile.Profile, error) {
	p, ok := r.t.st.profiles[r.t.principal.ID]
	if !ok {
		return profile.Profile{}, apperr.ErrNotFound
	}
	return p, nil
}

func (r memProfiles) Ensure(ctx context.Context, email, name string) (profile.Profile, error) {
	if p, err := r.Self(ctx); err == nil {
		return p, nil
	}
	now := time.Now().UTC()
	p := profile.Profile{
		ID:        r.t.principal.ID,
		Email:     strings.ToLower(email),
		Name:      name,
		Role:      profile.RoleMember,
		Status:    profile.StatusInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.t.st.profiles[p.ID] = p
	return p, nil
}

func (r memProfiles) Get(_ context.Context, id string) (profile.Profile, error) {
	p, ok := r.t.st.profiles[id]
	if !ok {
		return profile.Profile{}, apperr.ErrNotFound
	}
	return p, nil
}

func (r memProfiles) List(_ context.Context, f profile.Filter) ([]profile.Profile, error) {
	var out []profile.Profile
	for _, p := range r.t.st.profiles {
		if (f.Role != "" && p.Role != f.Role) || (f.Status != "" && p.Status != f.Status) ||
			(f.SiteID != "" && p.SiteID != f.SiteID) || (f.SmallGroupID != "" && p.SmallGroupID != f.SmallGroupID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memProfiles) Update(_ context.Context, p profile.Profile) (profile.Profile, error) {
	if _, ok := r.t.st.profiles[p.ID]; !ok {
		return profile.Profile{}, apperr.ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	r.t.st.profiles[p.ID] = p
	return p, nil
}

func (r memProfiles) Delete(_ context.Context, id string) error {
	if _, ok := r.t.st.profiles[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(r.t.st.profiles, id)
	return nil
}

func (r memProfiles) Dependents(_ context.Context, id string) (map[string]int, error) {
	counts := map[string]int{}
	for _, rep := range r.t.st.reports {
		if rep.SubmittedBy == id {
			counts[profile.EntityReport]++
		}
	}
	for _, a := range r.t.st.activities {
		if a.CreatedBy == id {
			counts[profile.EntityActivity]++
		}
	}
	for _, tr := range r.t.st.transactions {
		if tr.RecordedBy == id {
			counts[profile.EntityTransaction]++
		}
	}
	return counts, nil
}

type memOrg struct{ t *memTx }

func (r memOrg) CreateSite(_ context.Context, s org.Site) (org.Site, error) {
	for _, existing := range r.t.st.sites {
		if strings.EqualFold(existing.Name, s.Name) {
			return org.Site{}, fmt.Errorf("%w: site name already exists", apperr.ErrConflict)
		}
	}
	s.CreatedAt = time.Now().UTC()
	r.t.st.sites = append(r.t.st.sites, s)
	return s, nil
}

func (r memOrg) ListSites(context.Context) ([]org.Site, error) {
	return append([]org.Site(nil), r.t.st.sites...), nil
}

func (r memOrg) CreateGroup(_ context.Context, g org.SmallGroup) (org.SmallGroup, error) {
	g.CreatedAt = time.Now().UTC()
	r.t.st.groups = append(r.t.st.groups, g)
	return g, nil
}

func (r memOrg) ListGroups(_ context.Context, siteID string) ([]org.SmallGroup, error) {
	var out []org.SmallGroup
	for _, g := range r.t.st.groups {
		if siteID == "" || g.SiteID == siteID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r memOrg) GroupSite(_ context.Context, groupID string) (string, error) {
	for _, g := range r.t.st.groups {
		if g.ID == groupID {
			return g.SiteID, nil
		}
	}
	return "", apperr.ErrNotFound
}

type memActivities struct{ t *memTx }

func (r memActivities) Create(_ context.Context, a activity.Activity) (activity.Activity, error) {
	a.CreatedAt = time.Now().UTC()
	r.t.st.activities = append(r.t.st.activities, a)
	return a, nil
}

func (r memActivities) Get(_ context.Context, id string) (activity.Activity, error) {
	for _, a := range r.t.st.activities {
		if a.ID == id {
			return a, nil
		}
	}
	return activity.Activity{}, apperr.ErrNotFound
}

func (r memActivities) List(_ context.Context, f activity.Filter) ([]activity.Activity, error) {
	var out []activity.Activity
	for _, a := range r.t.st.activities {
		if f.SiteID != "" && a.SiteID != f.SiteID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type memReports struct{ t *memTx }

func (r memReports) Create(_ context.Context, rep report.Report) (report.Report, error) {
	rep.CreatedAt = time.Now().UTC()
	r.t.st.reports = append(r.t.st.reports, rep)
	return rep, nil
}

func (r memReports) List(_ context.Context, f report.Filter) ([]report.Report, error) {
	var out []report.Report
	for _, rep := range r.t.st.reports {
		if f.ActivityID != "" && rep.ActivityID != f.ActivityID {
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}

type memTransactions struct{ t *memTx }

func (r memTransactions) Create(_ context.Context, tr finance.Transaction) (finance.Transaction, error) {
	tr.CreatedAt = time.Now().UTC()
	r.t.st.transactions = append(r.t.st.transactions, tr)
	return tr, nil
}

func (r memTransactions) List(_ context.Context, f finance.Filter) ([]finance.Transaction, error) {
	var out []finance.Transaction
	for _, tr := range r.t.st.transactions {
		if f.SiteID != "" && tr.SiteID != f.SiteID {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (r memTransactions) Summarize(ctx context.Context, f finance.Filter) ([]finance.Summary, error) {
	txs, _ := r.List(ctx, f)
	by := map[string]*finance.Summary{}
	var order []string
	for _, tr := range txs {
		s, ok := by[tr.Currency]
		if !ok {
			s = &finance.Summary{Currency: tr.Currency}
			by[tr.Currency] = s
			order = append(order, tr.Currency)
		}
		if tr.Kind == finance.KindIncome {
			s.IncomeMinor += tr.AmountMinor
		} else {
			s.ExpenseMinor += tr.AmountMinor
		}
		s.BalanceMinor = s.IncomeMinor - s.ExpenseMinor
		s.Count++
	}
	sort.Strings(order)
	out := make([]finance.Summary, 0, len(order))
	for _, c := range order {
		out = append(out, *by[c])
	}
	return out, nil
}

type memInvitations struct{ t *memTx }

func (r memInvitations) Create(_ context.Context, inv invite.Invitation) (invite.Invitation, error) {
	for _, existing := range r.t.st.invitations {
		if existing.Status == invite.StatusPending && existing.Email == inv.Email {
			return invite.Invitation{}, fmt.Errorf("%w: a pending invitation exists for this email", apperr.ErrConflict)
		}
	}
	inv.CreatedAt = time.Now().UTC()
	r.t.st.invitations = append(r.t.st.invitations, inv)
	return inv, nil
}

func (r memInvitations) List(_ context.Context, status invite.Status, _ int) ([]invite.Invitation, error) {
	var out []invite.Invitation
	for _, inv := range r.t.st.invitations {
		if status == "" || inv.Status == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r memInvitations) Revoke(_ context.Context, id string) (invite.Invitation, error) {
	for i, inv := range r.t.st.invitations {
		if inv.ID != id {
			continue
		}
		if inv.Status != invite.StatusPending {
			return invite.Invitation{}, fmt.Errorf("%w: invitation is %s", apperr.ErrConflict, inv.Status)
		}
		inv.Status = invite.StatusRevoked
		r.t.st.invitations[i] = inv
		return inv, nil
	}
	return invite.Invitation{}, apperr.ErrNotFound
}

func (r memInvitations) Accept(_ context.Context, tokenHash string) (profile.Profile, error) {
	for i, inv := range r.t.st.invitations {
		if inv.TokenHash != tokenHash {
			continue
		}
		if inv.Status != invite.StatusPending {
			return profile.Profile{}, fmt.Errorf("%w: invitation is %s", apperr.ErrInvalidInput, inv.Status)
		}
		if !strings.EqualFold(inv.Email, r.t.principal.Email) {
			return profile.Profile{}, apperr.ErrForbidden
		}
		now := time.Now().UTC()
		p := r.t.st.profiles[r.t.principal.ID]
		p.ID, p.Email, p.Role, p.Scope, p.Status, p.UpdatedAt = r.t.principal.ID, inv.Email, inv.Role, inv.Scope, profile.StatusActive, now
		r.t.st.profiles[p.ID] = p
		inv.Status, inv.AcceptedBy, inv.AcceptedAt = invite.StatusAccepted, p.ID, &now
		r.t.st.invitations[i] = inv
		return p, nil
	}
	return profile.Profile{}, apperr.ErrNotFound
}

type memAudit struct{ t *memTx }

func (r memAudit) Append(_ context.Context, e audit.Entry) error {
	r.t.st.audit = append(r.t.st.audit, e)
	return nil
}

func (r memAudit) List(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range r.t.st.audit {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memIdempotency struct{ t *memTx }

func (r memIdempotency) Find(_ context.Context, k idempotency.Key) (idempotency.Record, error) {
	rec, ok := r.t.st.idem[k]
	if !ok {
		return idempotency.Record{}, apperr.ErrNotFound
	}
	return rec, nil
}

func (r memIdempotency) Insert(_ context.Context, rec idempotency.Record) (bool, error) {
	if _, ok := r.t.st.idem[rec.Key]; ok {
		return false, nil
	}
	r.t.st.idem[rec.Key] = rec
	return true, nil
}

type memMaintenance struct{ t *memTx }

func (r memMaintenance) PurgeIdempotency(_ context.Context, olderThan time.Duration) (int64, error) {
	if r.t.principal.ID != "" {
		return 0, apperr.ErrForbidden
	}
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for k, rec := range r.t.st.idem {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.t.st.idem, k)
			n++
		}
	}
	return n, nil
}

func (r memMaintenance) ExpireInvitations(context.Context) (int64, error) {
	if r.t.principal.ID != "" {
		return 0, apperr.ErrForbidden
	}
	now := time.Now()
	var n int64
	for i, inv := range r.t.st.invitations {
		if inv.Status == invite.StatusPending && inv.ExpiresAt.Before(now) {
			r.t.st.invitations[i].Status = invite.StatusExpired
			n++
		}
	}
	return n, nil
}
