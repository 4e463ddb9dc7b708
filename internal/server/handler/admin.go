package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// AdminService defines the privileged surface the admin handler needs.
// Nil when the process runs without a chain.
type AdminService interface {
	Faucet(ctx context.Context, to domain.AccountID, amount domain.Amount) (*chain.TxOutcome, error)
	Balance(ctx context.Context, account domain.AccountID) (domain.Amount, error)
	SettleAssertion(ctx context.Context, claim string, truthfully bool) (*chain.TxOutcome, error)
	DisputeAssertion(ctx context.Context, account domain.AccountID, bond domain.Amount, claim string) (*chain.TxOutcome, error)
}

// AdminHandler serves the devnet operator endpoints: collateral faucet and
// manual oracle settlement. These sit behind the API key like every other
// write route; what makes them administrative is the signer, not the auth.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. admin may be nil.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logHandler(logger, "admin"),
	}
}

func (h *AdminHandler) available(w http.ResponseWriter) bool {
	if h.admin == nil {
		writeUnavailable(w, "admin action")
		return false
	}
	return true
}

type faucetRequest struct {
	Account domain.AccountID `json:"account"`
	Amount  domain.Amount    `json:"amount"`
}

type faucetResponse struct {
	TransactionID string           `json:"transaction_id"`
	BlockHeight   uint64           `json:"block_height"`
	Account       domain.AccountID `json:"account"`
	Minted        domain.Amount    `json:"minted"`
	Balance       domain.Amount    `json:"balance"`
}

// Faucet mints devnet collateral and reports the resulting balance.
// POST /api/v1/admin/faucet
func (h *AdminHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req faucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	out, err := h.admin.Faucet(r.Context(), req.Account, req.Amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: faucet rejected",
			slog.String("account", string(req.Account)),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}

	balance, err := h.admin.Balance(r.Context(), req.Account)
	if err != nil {
		// The mint already committed; report it without the balance lookup.
		h.logger.WarnContext(r.Context(), "handler: post-faucet balance failed",
			slog.String("account", string(req.Account)),
			slog.String("error", err.Error()),
		)
	}

	writeJSON(w, http.StatusOK, faucetResponse{
		TransactionID: out.TransactionID,
		BlockHeight:   out.BlockHeight,
		Account:       req.Account,
		Minted:        req.Amount,
		Balance:       balance,
	})
}

type settleRequest struct {
	Claim              string `json:"claim"`
	AssertedTruthfully bool   `json:"asserted_truthfully"`
}

// SettleAssertion resolves an open oracle claim as the admin.
// POST /api/v1/admin/oracle/settle
func (h *AdminHandler) SettleAssertion(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req settleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Claim == "" {
		writeError(w, http.StatusBadRequest, "missing claim")
		return
	}

	out, err := h.admin.SettleAssertion(r.Context(), req.Claim, req.AssertedTruthfully)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: settle rejected",
			slog.String("claim", req.Claim),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}

type disputeRequest struct {
	Account domain.AccountID `json:"account"`
	Bond    domain.Amount    `json:"bond"`
	Claim   string           `json:"claim"`
}

// DisputeAssertion escrows the bond against an open claim.
// POST /api/v1/admin/oracle/dispute
func (h *AdminHandler) DisputeAssertion(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "missing account")
		return
	}
	if req.Claim == "" {
		writeError(w, http.StatusBadRequest, "missing claim")
		return
	}
	if req.Bond.IsZero() {
		writeError(w, http.StatusBadRequest, "bond must be positive")
		return
	}

	out, err := h.admin.DisputeAssertion(r.Context(), req.Account, req.Bond, req.Claim)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: dispute rejected",
			slog.String("claim", req.Claim),
			slog.String("error", err.Error()),
		)
		writeChainError(w, err)
		return
	}
	writeOutcome(w, out)
}
