package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nest-markets/nestd/internal/domain"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flattened mimics how the devnet runtime reports component failures: the
// sentinel survives only as text inside the reassembled message.
func flattened(receiver, method string, sentinel error) error {
	return fmt.Errorf("chain: %s.%s: %s", receiver, method, sentinel.Error())
}

func TestErrorStatusMapsFlattenedSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"market not found", flattened("market.devnet", "get_market", domain.ErrMarketNotFound), http.StatusNotFound},
		{"assertion not found", flattened("oracle.devnet", "dispute", domain.ErrAssertionNotFound), http.StatusNotFound},
		{"slippage", flattened("market.devnet", "sell", domain.ErrSlippage), http.StatusConflict},
		{"not open", flattened("market.devnet", "sell", domain.ErrMarketNotOpen), http.StatusConflict},
		{"not settled", flattened("market.devnet", "redeem_tokens", domain.ErrMarketNotSettled), http.StatusConflict},
		{"reserve drained", flattened("market.devnet", "remove_liquidity", domain.ErrReserveDrained), http.StatusConflict},
		{"unauthorized", flattened("oracle.devnet", "settle", domain.ErrUnauthorized), http.StatusForbidden},
		{"insufficient balance", flattened("collateral.devnet", "ft_transfer_call", domain.ErrInsufficientBalance), http.StatusBadRequest},
		{"insufficient shares", flattened("market.devnet", "remove_liquidity", domain.ErrInsufficientShares), http.StatusBadRequest},
		{"invalid amount", flattened("market.devnet", "sell", domain.ErrInvalidAmount), http.StatusBadRequest},
		{"wrapped locally", fmt.Errorf("chain_service: get market 7: %w", domain.ErrMarketNotFound), http.StatusNotFound},
		{"unrecognized", fmt.Errorf("pgx: connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorStatus(tc.err))
		})
	}
}

func TestParseLimitClampsToCap(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=99999", nil)
	assert.Equal(t, 2000, parseLimit(r, 200, 2000))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, 200, parseLimit(r, 200, 2000))

	r = httptest.NewRequest(http.MethodGet, "/?limit=bogus", nil)
	assert.Equal(t, 200, parseLimit(r, 200, 2000))

	r = httptest.NewRequest(http.MethodGet, "/?limit=-5", nil)
	assert.Equal(t, 200, parseLimit(r, 200, 2000))
}

func TestParseListOptsDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=1000&offset=25", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 25, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestMarketIDParamRejectsGarbage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/markets/abc", nil)
	r.SetPathValue("id", "abc")
	_, err := marketIDParam(r)
	assert.Error(t, err)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/markets/7", nil)
	r.SetPathValue("id", "7")
	id, err := marketIDParam(r)
	assert.NoError(t, err)
	assert.Equal(t, domain.MarketID(7), id)
}
