package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/market"
)

// fakeChainViews scripts the read-only chain surface.
type fakeChainViews struct {
	market      func(id domain.MarketID) (domain.MarketView, error)
	markets     func(fromIndex, limit uint64) ([]domain.MarketView, error)
	marketCount func() (uint64, error)
	prices      func(id domain.MarketID) (domain.PricePair, error)
	estimateBuy func(args market.EstimateBuyArgs) (domain.Amount, error)
	lpShares    func(id domain.MarketID, account domain.AccountID) (domain.Amount, error)
	config      func() (domain.ConfigView, error)
}

func (f *fakeChainViews) Market(_ context.Context, id domain.MarketID) (domain.MarketView, error) {
	return f.market(id)
}

func (f *fakeChainViews) Markets(_ context.Context, fromIndex, limit uint64) ([]domain.MarketView, error) {
	return f.markets(fromIndex, limit)
}

func (f *fakeChainViews) MarketCount(_ context.Context) (uint64, error) {
	return f.marketCount()
}

func (f *fakeChainViews) Prices(_ context.Context, id domain.MarketID) (domain.PricePair, error) {
	return f.prices(id)
}

func (f *fakeChainViews) EstimateBuy(_ context.Context, args market.EstimateBuyArgs) (domain.Amount, error) {
	return f.estimateBuy(args)
}

func (f *fakeChainViews) LPShares(_ context.Context, id domain.MarketID, account domain.AccountID) (domain.Amount, error) {
	return f.lpShares(id, account)
}

func (f *fakeChainViews) Config(_ context.Context) (domain.ConfigView, error) {
	return f.config()
}

type fakeSummaries struct {
	summaries func(opts domain.ListOpts) ([]domain.MarketProjection, error)
}

func (f *fakeSummaries) MarketSummaries(_ context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	return f.summaries(opts)
}

func getWithID(t *testing.T, h http.HandlerFunc, target, id string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if id != "" {
		req.SetPathValue("id", id)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestListMarketsPagesTheRegistry(t *testing.T) {
	views := &fakeChainViews{
		markets: func(fromIndex, limit uint64) ([]domain.MarketView, error) {
			assert.Equal(t, uint64(5), fromIndex)
			assert.Equal(t, uint64(2), limit)
			return []domain.MarketView{{ID: 5, Question: "q5"}, {ID: 6, Question: "q6"}}, nil
		},
		marketCount: func() (uint64, error) { return 9, nil },
	}
	h := NewMarketHandler(views, nil, testLogger(t))

	rec := getWithID(t, h.ListMarkets, "/api/v1/markets?from=5&limit=2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listMarketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(9), resp.Total)
	assert.Equal(t, uint64(5), resp.FromIndex)
	require.Len(t, resp.Markets, 2)
	assert.Equal(t, domain.MarketID(6), resp.Markets[1].ID)
}

func TestListMarketsFallsBackToProjections(t *testing.T) {
	// Without a chain the list is answered from the indexer's read model.
	summaries := &fakeSummaries{
		summaries: func(opts domain.ListOpts) ([]domain.MarketProjection, error) {
			assert.Equal(t, 50, opts.Limit)
			return []domain.MarketProjection{{MarketID: 3, Status: domain.StatusOpen}}, nil
		},
	}
	h := NewMarketHandler(nil, summaries, testLogger(t))

	rec := getWithID(t, h.ListMarkets, "/api/v1/markets", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"market_id":3`)
}

func TestGetMarketMapsNotFound(t *testing.T) {
	views := &fakeChainViews{
		market: func(id domain.MarketID) (domain.MarketView, error) {
			return domain.MarketView{}, flattened("market.devnet", "get_market", domain.ErrMarketNotFound)
		},
	}
	h := NewMarketHandler(views, nil, testLogger(t))

	rec := getWithID(t, h.GetMarket, "/api/v1/markets/99", "99")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMarketRejectsBadID(t *testing.T) {
	h := NewMarketHandler(&fakeChainViews{}, nil, testLogger(t))

	rec := getWithID(t, h.GetMarket, "/api/v1/markets/xyz", "xyz")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEstimateBuyQuotesFromQuery(t *testing.T) {
	views := &fakeChainViews{
		estimateBuy: func(args market.EstimateBuyArgs) (domain.Amount, error) {
			assert.Equal(t, domain.MarketID(7), args.MarketID)
			assert.Equal(t, domain.OutcomeNo, args.Outcome)
			assert.Equal(t, "1000000", args.CollateralIn.String())
			return domain.NewAmount(912345), nil
		},
	}
	h := NewMarketHandler(views, nil, testLogger(t))

	rec := getWithID(t, h.EstimateBuy, "/api/v1/markets/7/estimate-buy?outcome=No&collateral_in=1000000", "7")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp estimateBuyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "912345", resp.TokensOut.String())
	assert.Equal(t, domain.OutcomeNo, resp.Outcome)
}

func TestEstimateBuyValidatesParams(t *testing.T) {
	h := NewMarketHandler(&fakeChainViews{}, nil, testLogger(t))

	rec := getWithID(t, h.EstimateBuy, "/api/v1/markets/7/estimate-buy?outcome=Maybe&collateral_in=5", "7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = getWithID(t, h.EstimateBuy, "/api/v1/markets/7/estimate-buy?outcome=Yes&collateral_in=soon", "7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLPSharesReadsBothPathParams(t *testing.T) {
	views := &fakeChainViews{
		lpShares: func(id domain.MarketID, account domain.AccountID) (domain.Amount, error) {
			assert.Equal(t, domain.MarketID(7), id)
			assert.Equal(t, domain.AccountID("lp.devnet"), account)
			return domain.NewAmount(5000), nil
		},
	}
	h := NewMarketHandler(views, nil, testLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/markets/7/lp-shares/lp.devnet", nil)
	req.SetPathValue("id", "7")
	req.SetPathValue("account", "lp.devnet")
	rec := httptest.NewRecorder()
	h.GetLPShares(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp lpSharesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "5000", resp.Shares.String())
}

func TestChainViewsUnavailableInIndexerMode(t *testing.T) {
	h := NewMarketHandler(nil, nil, testLogger(t))

	rec := getWithID(t, h.GetMarket, "/api/v1/markets/7", "7")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = getWithID(t, h.GetConfig, "/api/v1/config", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = getWithID(t, h.ListMarkets, "/api/v1/markets", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
