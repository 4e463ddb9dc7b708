package market

import (
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

type redeemBurnArgs struct {
	MarketID domain.MarketID  `json:"market_id"`
	Redeemer domain.AccountID `json:"redeemer"`
	Outcome  domain.Outcome   `json:"outcome"`
	Amount   domain.Amount    `json:"amount"`
}

// redeemTokens converts winning outcome tokens into collateral 1:1 after
// settlement. The burn runs first; the payout follows only once the burn
// confirms, and a failed payout re-mints the burned tokens so the caller
// never loses both. The call resolves to the collateral actually paid.
func (e *Engine) redeemTokens(env *chain.Env, redeemer domain.AccountID, a RedeemArgs) (any, error) {
	if a.Amount.IsZero() {
		return nil, fmt.Errorf("market: redeem: %w", domain.ErrInvalidAmount)
	}
	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusSettled {
		return nil, fmt.Errorf("market: redeem on %s market: %w", m.Status, domain.ErrMarketNotSettled)
	}
	if m.Outcome == nil {
		return nil, fmt.Errorf("market: id %d settled without outcome: %w", m.ID, domain.ErrInvalidStatus)
	}
	if m.TotalCollateral.Cmp(a.Amount) < 0 {
		return nil, fmt.Errorf("market: pool holds %s, redeeming %s: %w",
			m.TotalCollateral, a.Amount, domain.ErrInsufficientBalance)
	}

	return env.Call(e.ledger, methodBurn, mintBurnArgs{m.ID, *m.Outcome, redeemer, a.Amount}).
		Then(methodOnRedeemBurnComplete, redeemBurnArgs{
			MarketID: m.ID,
			Redeemer: redeemer,
			Outcome:  *m.Outcome,
			Amount:   a.Amount,
		}), nil
}

// onRedeemBurnComplete releases the payout once the winning tokens are
// burned. A failed burn fails the whole call with nothing consumed.
func (e *Engine) onRedeemBurnComplete(env *chain.Env, a redeemBurnArgs) (any, error) {
	if env.Predecessor() != e.account {
		return nil, fmt.Errorf("market: on_redeem_burn_complete is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("market: on_redeem_burn_complete expects one promise result, got %d", len(results))
	}
	if !results[0].OK {
		return nil, fmt.Errorf("market: redeem burn failed: %s", results[0].Err)
	}

	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}
	next := m.Clone()
	next.TotalCollateral = next.TotalCollateral.Sub(a.Amount)
	e.markets[m.ID] = next

	return env.Call(e.collateral, methodFtTransfer, ftTransferArgs{
		ReceiverID: a.Redeemer,
		Amount:     a.Amount,
	}).Then(methodOnRedeemTransferComplete, a), nil
}

// onRedeemTransferComplete reconciles the payout. If the collateral transfer
// failed the burned tokens are re-minted to the redeemer and the pool
// accounting restored; the call then resolves to zero paid.
func (e *Engine) onRedeemTransferComplete(env *chain.Env, a redeemBurnArgs) (any, error) {
	if env.Predecessor() != e.account {
		return nil, fmt.Errorf("market: on_redeem_transfer_complete is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("market: on_redeem_transfer_complete expects one promise result, got %d", len(results))
	}

	if results[0].OK {
		env.Emit(domain.RedeemedData{
			MarketID:      a.MarketID,
			User:          a.Redeemer,
			CollateralOut: a.Amount,
		})
		e.logger.Debug("tokens redeemed",
			slog.Uint64("market_id", uint64(a.MarketID)),
			slog.String("redeemer", string(a.Redeemer)),
			slog.String("collateral_out", a.Amount.String()))
		return a.Amount, nil
	}

	if m, ok := e.markets[a.MarketID]; ok {
		next := m.Clone()
		next.TotalCollateral = next.TotalCollateral.Add(a.Amount)
		e.markets[m.ID] = next
	}
	env.Call(e.ledger, methodMint, mintBurnArgs{a.MarketID, a.Outcome, a.Redeemer, a.Amount})

	e.logger.Warn("redemption payout failed, tokens re-minted",
		slog.Uint64("market_id", uint64(a.MarketID)),
		slog.String("redeemer", string(a.Redeemer)),
		slog.String("amount", a.Amount.String()),
		slog.String("error", results[0].Err))
	return domain.Amount{}, nil
}
