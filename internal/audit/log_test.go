package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

type memStore struct {
	entries []Entry
	err     error
}

func (m *memStore) Append(_ context.Context, e Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) List(context.Context, Filter) ([]Entry, error) { return m.entries, nil }

func TestRecordAppendsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	t.Cleanup(func() { obs.SetOutput(os.Stdout) })

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{ID: "6f1c2d3e-4b5a-4c6d-8e7f-0a1b2c3d4e5f", Email: "a@example.org"})

	store := &memStore{}
	if err := Record(ctx, store, "transaction.create", "transaction", "T1", map[string]any{"amount_minor": 500}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.ActorID != "6f1c2d3e-4b5a-4c6d-8e7f-0a1b2c3d4e5f" || e.ID == "" || e.OccurredAt.IsZero() {
		t.Fatalf("entry not populated: %+v", e)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if line["type"] != "audit" || line["event"] != "transaction.create" || line["request_id"] != "req-123" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestRecordPropagatesStoreError(t *testing.T) {
	boom := errors.New("insert failed")
	if err := Record(context.Background(), &memStore{err: boom}, "x", "y", "z", nil); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if err := Record(context.Background(), &memStore{}, " ", "y", "z", nil); err == nil {
		t.Fatal("expected empty action to fail")
	}
}
