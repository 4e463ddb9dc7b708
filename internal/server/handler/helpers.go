// Package handler contains the HTTP endpoints. Each handler declares the
// service surface it needs as a local interface so the package depends on
// behavior, not on the concrete service types.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeUnavailable reports an endpoint whose backend is not wired in the
// current run mode.
func writeUnavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not available in this run mode")
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// parseLimit reads ?limit with a per-endpoint default and hard cap.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseOffset reads ?offset, defaulting to 0 and rejecting negatives.
func parseOffset(r *http.Request) int {
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset
}

// marketIDParam parses the {id} path segment using Go 1.22+ built-in routing.
func marketIDParam(r *http.Request) (domain.MarketID, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid market id")
	}
	return domain.MarketID(id), nil
}

// errorStatus maps a submission or view failure to an HTTP status. Errors
// that crossed the devnet runtime arrive flattened to strings, so sentinel
// matching falls back to substring search on the message.
func errorStatus(err error) int {
	mappings := []struct {
		sentinel error
		status   int
	}{
		{domain.ErrMarketNotFound, http.StatusNotFound},
		{domain.ErrAssertionNotFound, http.StatusNotFound},
		{domain.ErrUnknownAccount, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrMarketNotOpen, http.StatusConflict},
		{domain.ErrMarketNotSettled, http.StatusConflict},
		{domain.ErrInvalidStatus, http.StatusConflict},
		{domain.ErrDeadlineNotReached, http.StatusConflict},
		{domain.ErrSlippage, http.StatusConflict},
		{domain.ErrReserveDrained, http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrInsufficientBalance, http.StatusBadRequest},
		{domain.ErrInsufficientShares, http.StatusBadRequest},
		{domain.ErrInvalidAction, http.StatusBadRequest},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrBelowMinLiquidity, http.StatusBadRequest},
		{domain.ErrLiquidityTooSmall, http.StatusBadRequest},
		{domain.ErrEmptyQuestion, http.StatusBadRequest},
		{domain.ErrPastDeadline, http.StatusBadRequest},
		{domain.ErrUnknownMethod, http.StatusBadRequest},
	}
	msg := err.Error()
	for _, m := range mappings {
		if errors.Is(err, m.sentinel) || strings.Contains(msg, m.sentinel.Error()) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeChainError renders a failed submission or view with a mapped status.
func writeChainError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// txResponse is the common shape for action submissions. Failures lists
// receipts that failed after the root transfer succeeded; for transfer-routed
// actions that means the deposit was refunded.
type txResponse struct {
	TransactionID string                 `json:"transaction_id"`
	BlockHeight   uint64                 `json:"block_height"`
	Value         json.RawMessage        `json:"value,omitempty"`
	Failures      []chain.ReceiptFailure `json:"failures,omitempty"`
}

// writeOutcome renders a committed transaction.
func writeOutcome(w http.ResponseWriter, out *chain.TxOutcome) {
	writeJSON(w, http.StatusOK, txResponse{
		TransactionID: out.TransactionID,
		BlockHeight:   out.BlockHeight,
		Value:         out.Value,
		Failures:      out.Failures,
	})
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
