package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/transitpay/transitpay/internal/api/middleware"
	"github.com/transitpay/transitpay/internal/api/models"
	"github.com/transitpay/transitpay/internal/ledger"
)

// GetUserID retrieves the authenticated user ID from the context.
// This is a convenience wrapper around middleware.GetUserID.
func GetUserID(ctx context.Context) string {
	return middleware.GetUserID(ctx)
}

// pagination extracts limit and offset query parameters. Zero values are
// passed through; the services clamp them to their defaults.
func pagination(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

// transactionFilter builds a ledger listing filter from query parameters.
// Supported: status, type, from, to (RFC3339), limit, offset.
func transactionFilter(r *http.Request) (ledger.TransactionFilter, []models.FieldError) {
	q := r.URL.Query()
	var errs []models.FieldError

	f := ledger.TransactionFilter{
		Status: ledger.TransactionStatus(q.Get("status")),
		Type:   ledger.TransactionType(q.Get("type")),
	}
	f.Limit, f.Offset = pagination(r)

	if f.Status != "" && !f.Status.Valid() {
		errs = append(errs, models.FieldError{Field: "status", Message: "unknown transaction status"})
	}
	if f.Type != "" && !f.Type.Valid() {
		errs = append(errs, models.FieldError{Field: "type", Message: "unknown transaction type"})
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "from", Message: "must be an RFC3339 timestamp"})
		} else {
			f.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs = append(errs, models.FieldError{Field: "to", Message: "must be an RFC3339 timestamp"})
		} else {
			f.To = t
		}
	}
	return f, errs
}
