package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/market"
)

// ActionService defines the submission surface the action handler needs.
// Nil when the process runs without a chain.
type ActionService interface {
	CreateMarket(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.CreateMarketAction) (*chain.TxOutcome, error)
	Buy(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.BuyAction) (*chain.TxOutcome, error)
	Sell(ctx context.Context, account domain.AccountID, args market.SellArgs) (*chain.TxOutcome, error)
	AddLiquidity(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.AddLiquidityAction) (*chain.TxOutcome, error)
	RemoveLiquidity(ctx context.Context, account domain.AccountID, args market.RemoveLiquidityArgs) (*chain.TxOutcome, error)
	SubmitResolution(ctx context.Context, account domain.AccountID, bond domain.Amount, action domain.SubmitResolutionAction) (*chain.TxOutcome, error)
	RedeemTokens(ctx context.Context, account domain.AccountID, args market.RedeemArgs) (*chain.TxOutcome, error)
}

// ActionHandler submits trade and lifecycle actions to the chain. Devnet
// identity is declarative: the caller names the signing account in the body.
type ActionHandler struct {
	actions ActionService
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler. actions may be nil.
func NewActionHandler(actions ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		actions: actions,
		logger:  logHandler(logger, "action"),
	}
}

// available rejects submissions when no chain is wired.
func (h *ActionHandler) available(w http.ResponseWriter) bool {
	if h.actions == nil {
		writeUnavailable(w, "action submission")
		return false
	}
	return true
}

type createMarketRequest struct {
	Account          domain.AccountID `json:"account"`
	Deposit          domain.Amount    `json:"deposit"`
	Question         string           `json:"question"`
	Description      string           `json:"description"`
	ResolutionTimeNS domain.NanoTime  `json:"resolution_time_ns"`
}

// CreateMarket opens a market seeded with the deposit as initial liquidity.
// POST /api/v1/actions/create-market
func (h *ActionHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Deposit.IsZero() {
		writeError(w, http.StatusBadRequest, "deposit must be positive")
		return
	}

	out, err := h.actions.CreateMarket(r.Context(), req.Account, req.Deposit, domain.CreateMarketAction{
		Question:         req.Question,
		Description:      req.Description,
		ResolutionTimeNS: req.ResolutionTimeNS,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create market rejected",
			slog.String("account", string(req.Account)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type buyRequest struct {
	Account      domain.AccountID `json:"account"`
	Deposit      domain.Amount    `json:"deposit"`
	MarketID     domain.MarketID  `json:"market_id"`
	Outcome      domain.Outcome   `json:"outcome"`
	MinTokensOut domain.Amount    `json:"min_tokens_out"`
}

// Buy swaps the deposit for outcome tokens.
// POST /api/v1/actions/buy
func (h *ActionHandler) Buy(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Deposit.IsZero() {
		writeError(w, http.StatusBadRequest, "deposit must be positive")
		return
	}

	out, err := h.actions.Buy(r.Context(), req.Account, req.Deposit, domain.BuyAction{
		MarketID:     req.MarketID,
		Outcome:      req.Outcome,
		MinTokensOut: req.MinTokensOut,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: buy rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type sellRequest struct {
	Account          domain.AccountID `json:"account"`
	MarketID         domain.MarketID  `json:"market_id"`
	Outcome          domain.Outcome   `json:"outcome"`
	TokensIn         domain.Amount    `json:"tokens_in"`
	MinCollateralOut domain.Amount    `json:"min_collateral_out"`
}

// Sell swaps outcome tokens back into collateral.
// POST /api/v1/actions/sell
func (h *ActionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req sellRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}

	out, err := h.actions.Sell(r.Context(), req.Account, market.SellArgs{
		MarketID:         req.MarketID,
		Outcome:          req.Outcome,
		TokensIn:         req.TokensIn,
		MinCollateralOut: req.MinCollateralOut,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: sell rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type addLiquidityRequest struct {
	Account  domain.AccountID `json:"account"`
	Deposit  domain.Amount    `json:"deposit"`
	MarketID domain.MarketID  `json:"market_id"`
}

// AddLiquidity contributes the deposit to a pool.
// POST /api/v1/actions/add-liquidity
func (h *ActionHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req addLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Deposit.IsZero() {
		writeError(w, http.StatusBadRequest, "deposit must be positive")
		return
	}

	out, err := h.actions.AddLiquidity(r.Context(), req.Account, req.Deposit, domain.AddLiquidityAction{
		MarketID: req.MarketID,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: add liquidity rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type removeLiquidityRequest struct {
	Account  domain.AccountID `json:"account"`
	MarketID domain.MarketID  `json:"market_id"`
	Shares   domain.Amount    `json:"shares"`
}

// RemoveLiquidity withdraws a provider's pool share.
// POST /api/v1/actions/remove-liquidity
func (h *ActionHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req removeLiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}

	out, err := h.actions.RemoveLiquidity(r.Context(), req.Account, market.RemoveLiquidityArgs{
		MarketID: req.MarketID,
		Shares:   req.Shares,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: remove liquidity rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type submitResolutionRequest struct {
	Account  domain.AccountID `json:"account"`
	Bond     domain.Amount    `json:"bond"`
	MarketID domain.MarketID  `json:"market_id"`
	Outcome  domain.Outcome   `json:"outcome"`
}

// SubmitResolution posts the bond as a resolution assertion.
// POST /api/v1/actions/submit-resolution
func (h *ActionHandler) SubmitResolution(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req submitResolutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Bond.IsZero() {
		writeError(w, http.StatusBadRequest, "bond must be positive")
		return
	}

	out, err := h.actions.SubmitResolution(r.Context(), req.Account, req.Bond, domain.SubmitResolutionAction{
		MarketID: req.MarketID,
		Outcome:  req.Outcome,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: submit resolution rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type redeemRequest struct {
	Account  domain.AccountID `json:"account"`
	MarketID domain.MarketID  `json:"market_id"`
	Amount   domain.Amount    `json:"amount"`
}

// Redeem pays out winning tokens one-for-one after settlement.
// POST /api/v1/actions/redeem
func (h *ActionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}

	out, err := h.actions.RedeemTokens(r.Context(), req.Account, market.RedeemArgs{
		MarketID: req.MarketID,
		Amount:   req.Amount,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: redeem rejected",
			slog.String("account", string(req.Account)),
			slog.Uint64("market_id", uint64(req.MarketID)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}
