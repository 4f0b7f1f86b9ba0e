package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/apperr"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
	if len(body) == 0 || body[len(body)-1] != '\n' {
		_, _ = w.Write([]byte("\n"))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg, kind string, details map[string]string) {
	payload := map[string]any{
		"error": msg,
		"kind":  kind,
	}
	if len(details) > 0 {
		payload["details"] = details
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps err onto the public taxonomy. The full error is logged
// after redaction; only the classification and a safe message leave.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	attrs := []any{
		"request_id", RequestIDFromContext(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"kind", string(kind),
		"status", code,
		"error", obs.Redact(err.Error()),
	}
	if code >= http.StatusInternalServerError {
		obs.Logger().ErrorContext(r.Context(), "request_failed", attrs...)
	} else {
		obs.Logger().InfoContext(r.Context(), "request_rejected", attrs...)
	}
	writeError(w, r, code, apperr.PublicMessage(err), string(kind), apperr.Details(err))
}

// readJSON decodes the body into dst and returns the raw bytes, which feed
// the idempotency fingerprint.
func readJSON(r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Invalid("body", "request body is too large")
		}
		return nil, apperr.Invalid("body", "could not read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperr.Invalid("body", "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, apperr.Invalid("body", "malformed JSON: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, apperr.Invalid("body", "unexpected data after JSON body")
	}
	return raw, nil
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 || val > 500 {
		return 0, apperr.Invalid("limit", "must be an integer between 1 and 500")
	}
	return val, nil
}

func parseTime(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Invalid(field, "must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}

// list wraps a slice as {"items": [...]}, never null.
func list[T any](items []T) map[string]any {
	if items == nil {
		items = []T{}
	}
	return map[string]any{"items": items}
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrForbidden, msg)
}
