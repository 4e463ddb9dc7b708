package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/market"
)

// ChainViews defines the read-only chain surface the market handler needs.
// It is declared locally so the handler package does not depend on the
// concrete service implementation. Nil when the process runs without a
// chain (indexer mode).
type ChainViews interface {
	Market(ctx context.Context, id domain.MarketID) (domain.MarketView, error)
	Markets(ctx context.Context, fromIndex, limit uint64) ([]domain.MarketView, error)
	MarketCount(ctx context.Context) (uint64, error)
	Prices(ctx context.Context, id domain.MarketID) (domain.PricePair, error)
	EstimateBuy(ctx context.Context, args market.EstimateBuyArgs) (domain.Amount, error)
	LPShares(ctx context.Context, id domain.MarketID, account domain.AccountID) (domain.Amount, error)
	Config(ctx context.Context) (domain.ConfigView, error)
}

// MarketSummaries lists the indexer's projection rows. Nil when the process
// runs without read models (node mode).
type MarketSummaries interface {
	MarketSummaries(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error)
}

// MarketHandler serves market views. With a chain wired it reads the runtime
// directly; otherwise the markets list falls back to the projections and the
// per-market views report unavailable.
type MarketHandler struct {
	chain     ChainViews
	summaries MarketSummaries
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler. Either backend may be nil.
func NewMarketHandler(chain ChainViews, summaries MarketSummaries, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		chain:     chain,
		summaries: summaries,
		logger:    logHandler(logger, "market"),
	}
}

const (
	defaultMarketsLimit = 50
	maxMarketsLimit     = 500
)

// listMarketsResponse wraps the chain-backed list endpoint output.
type listMarketsResponse struct {
	Markets   []domain.MarketView `json:"markets"`
	Total     uint64              `json:"total"`
	FromIndex uint64              `json:"from_index"`
	Limit     uint64              `json:"limit"`
}

// listSummariesResponse wraps the projection-backed fallback output.
type listSummariesResponse struct {
	Markets []domain.MarketProjection `json:"markets"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// ListMarkets pages through the registry.
// GET /api/v1/markets?from=0&limit=50
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		h.listSummaries(w, r)
		return
	}

	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from index")
			return
		}
		from = n
	}
	limit := uint64(parseLimit(r, defaultMarketsLimit, maxMarketsLimit))

	markets, err := h.chain.Markets(r.Context(), from, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}

	total, err := h.chain.MarketCount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets:   markets,
		Total:     total,
		FromIndex: from,
		Limit:     limit,
	})
}

func (h *MarketHandler) listSummaries(w http.ResponseWriter, r *http.Request) {
	if h.summaries == nil {
		writeUnavailable(w, "market list")
		return
	}

	opts := parseListOpts(r)
	rows, err := h.summaries.MarketSummaries(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list market summaries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	writeJSON(w, http.StatusOK, listSummariesResponse{
		Markets: rows,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market's full view.
// GET /api/v1/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeUnavailable(w, "market view")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view, err := h.chain.Market(r.Context(), id)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetPrices returns a market's current marginal prices.
// GET /api/v1/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeUnavailable(w, "price view")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prices, err := h.chain.Prices(r.Context(), id)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// estimateBuyResponse quotes a buy.
type estimateBuyResponse struct {
	MarketID     domain.MarketID `json:"market_id"`
	Outcome      domain.Outcome  `json:"outcome"`
	CollateralIn domain.Amount   `json:"collateral_in"`
	TokensOut    domain.Amount   `json:"tokens_out"`
}

// EstimateBuy quotes a buy without executing it.
// GET /api/v1/markets/{id}/estimate-buy?outcome=Yes&collateral_in=1000000
func (h *MarketHandler) EstimateBuy(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeUnavailable(w, "buy estimate")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	outcome, err := domain.ParseOutcome(q.Get("outcome"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "outcome must be Yes or No")
		return
	}
	collateralIn, err := domain.AmountFromString(q.Get("collateral_in"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collateral_in")
		return
	}

	tokensOut, err := h.chain.EstimateBuy(r.Context(), market.EstimateBuyArgs{
		MarketID:     id,
		Outcome:      outcome,
		CollateralIn: collateralIn,
	})
	if err != nil {
		writeChainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, estimateBuyResponse{
		MarketID:     id,
		Outcome:      outcome,
		CollateralIn: collateralIn,
		TokensOut:    tokensOut,
	})
}

// lpSharesResponse reports one provider's pool position.
type lpSharesResponse struct {
	MarketID domain.MarketID  `json:"market_id"`
	Account  domain.AccountID `json:"account"`
	Shares   domain.Amount    `json:"shares"`
}

// GetLPShares returns one provider's pool position.
// GET /api/v1/markets/{id}/lp-shares/{account}
func (h *MarketHandler) GetLPShares(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeUnavailable(w, "lp shares view")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account := domain.AccountID(r.PathValue("account"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}

	shares, err := h.chain.LPShares(r.Context(), id, account)
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lpSharesResponse{
		MarketID: id,
		Account:  account,
		Shares:   shares,
	})
}

// GetConfig returns the deployed component topology and parameters.
// GET /api/v1/config
func (h *MarketHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.chain == nil {
		writeUnavailable(w, "config view")
		return
	}
	cfg, err := h.chain.Config(r.Context())
	if err != nil {
		writeChainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
