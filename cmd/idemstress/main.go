// Command idemstress fires concurrent identical POST /v1/transactions calls
// sharing one Idempotency-Key and checks that exactly one transaction was
// recorded and every caller saw it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/telemetry"
)

type outcome struct {
	Status   int    `json:"status"`
	ID       string `json:"id"`
	Replayed bool   `json:"replayed"`
	body     string
}

func main() {
	var (
		baseURL   = flag.String("url", envOr("AYLF_API_URL", "http://localhost:8080"), "API base URL")
		principal = flag.String("principal", "", "principal id (uuid) with an active profile")
		email     = flag.String("email", "", "principal email")
		siteID    = flag.String("site", "", "site the transaction is recorded against")
		workers   = flag.Int("n", 10, "concurrent callers")
		issuer    = flag.String("issuer", os.Getenv("AYLF_AUTH_ISSUER"), "token issuer")
		audience  = flag.String("audience", os.Getenv("AYLF_AUTH_AUDIENCE"), "token audience")
	)
	flag.Parse()

	secret := os.Getenv("AYLF_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing AYLF_AUTH_SECRET")
	}
	if *workers < 2 {
		log.Fatal("-n must be at least 2")
	}

	token, err := auth.IssueSessionToken(auth.TokenConfig{
		Secret:   []byte(secret),
		Issuer:   *issuer,
		Audience: *audience,
	}, auth.Principal{ID: *principal, Email: *email}, 5*time.Minute)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"kind":         "income",
		"amount_minor": 4200,
		"currency":     "USD",
		"description":  "idemstress",
		"site_id":      *siteID,
	})
	key := fmt.Sprintf("stress_test_%d", time.Now().UnixNano())
	client := telemetry.InstrumentClient(&http.Client{Timeout: 15 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := make([]apperr.Result[outcome], *workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = apperr.From(post(ctx, client, *baseURL, token, key, body))
		}(i)
	}
	close(start)
	wg.Wait()

	report, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(report))

	if err := verify(results); err != nil {
		log.Fatalf("idempotency check failed: %v", err)
	}
	fmt.Printf("idempotency stress passed: key=%s callers=%d transaction=%s\n", key, len(results), results[0].Data.ID)
}

func post(ctx context.Context, client *http.Client, baseURL, token, key string, body []byte) (outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return outcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := client.Do(req)
	if err != nil {
		return outcome{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcome{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return outcome{}, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var tx struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return outcome{}, fmt.Errorf("decode: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return outcome{}, fmt.Errorf("compact: %w", err)
	}
	return outcome{
		Status:   resp.StatusCode,
		ID:       tx.ID,
		Replayed: resp.Header.Get("Idempotent-Replayed") == "true",
		body:     compact.String(),
	}, nil
}

// verify requires every caller to succeed with an identical payload and
// exactly one of them to be the original.
func verify(results []apperr.Result[outcome]) error {
	fresh := 0
	for i, r := range results {
		if !r.Success {
			return fmt.Errorf("caller %d: %s: %s", i, r.Error.Kind, r.Error.Message)
		}
		if r.Data.ID != results[0].Data.ID {
			return fmt.Errorf("caller %d saw transaction %s, caller 0 saw %s", i, r.Data.ID, results[0].Data.ID)
		}
		if r.Data.body != results[0].Data.body {
			return fmt.Errorf("caller %d payload differs from caller 0", i)
		}
		if !r.Data.Replayed {
			fresh++
		}
	}
	if fresh != 1 {
		return fmt.Errorf("%d callers were not replays, want exactly 1", fresh)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
