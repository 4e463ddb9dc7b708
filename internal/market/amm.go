package market

import (
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// buyQuote is the result of pricing a buy against current reserves.
type buyQuote struct {
	fee       domain.Amount
	netIn     domain.Amount
	tokensOut domain.Amount
	// Post-trade reserves.
	purchasedReserve domain.Amount
	oppositeReserve  domain.Amount
}

// quoteBuy prices a buy without mutating the market. The swap holds
// k = yes_reserve × no_reserve over the pre-trade reserves:
//
//	tokens_out = reserve(outcome) − k / (reserve(opposite) + net_in)
//
// with the division floored, so rounding dust stays in the pool.
func quoteBuy(m *domain.Market, outcome domain.Outcome, collateralIn domain.Amount) (buyQuote, error) {
	fee := collateralIn.MulBps(m.FeeBPS)
	netIn := collateralIn.Sub(fee)

	purchased, opposite := m.YesReserve, m.NoReserve
	if outcome == domain.OutcomeNo {
		purchased, opposite = m.NoReserve, m.YesReserve
	}

	newOpposite := opposite.Add(netIn)
	keep := purchased.MulDiv(opposite, newOpposite)
	if keep.IsZero() {
		return buyQuote{}, fmt.Errorf("market: buy of %s would drain the %s reserve: %w",
			collateralIn, outcome, domain.ErrReserveDrained)
	}

	return buyQuote{
		fee:              fee,
		netIn:            netIn,
		tokensOut:        purchased.Sub(keep),
		purchasedReserve: keep,
		oppositeReserve:  newOpposite,
	}, nil
}

func (e *Engine) buy(env *chain.Env, buyer domain.AccountID, collateralIn domain.Amount, action domain.BuyAction) error {
	m, err := e.market(action.MarketID)
	if err != nil {
		return err
	}
	if m.Status != domain.StatusOpen {
		return fmt.Errorf("market: buy on %s market: %w", m.Status, domain.ErrMarketNotOpen)
	}

	q, err := quoteBuy(m, action.Outcome, collateralIn)
	if err != nil {
		return err
	}
	if q.tokensOut.Cmp(action.MinTokensOut) < 0 {
		return fmt.Errorf("market: would receive %s, minimum %s: %w",
			q.tokensOut, action.MinTokensOut, domain.ErrSlippage)
	}

	next := m.Clone()
	if action.Outcome == domain.OutcomeYes {
		next.YesReserve, next.NoReserve = q.purchasedReserve, q.oppositeReserve
	} else {
		next.NoReserve, next.YesReserve = q.purchasedReserve, q.oppositeReserve
	}
	next.AccruedFees = next.AccruedFees.Add(q.fee)
	next.TotalCollateral = next.TotalCollateral.Add(q.netIn)
	e.markets[m.ID] = next

	yes, no := next.Prices()
	env.Emit(domain.TradeData{
		MarketID:         m.ID,
		Trader:           buyer,
		Outcome:          action.Outcome,
		IsBuy:            true,
		CollateralAmount: collateralIn,
		TokenAmount:      q.tokensOut,
		YesPrice:         yes,
		NoPrice:          no,
	})

	env.Call(e.ledger, methodMint, mintBurnArgs{m.ID, action.Outcome, buyer, q.tokensOut})

	e.logger.Debug("buy executed",
		slog.Uint64("market_id", uint64(m.ID)),
		slog.String("trader", string(buyer)),
		slog.String("outcome", action.Outcome.String()),
		slog.String("collateral_in", collateralIn.String()),
		slog.String("tokens_out", q.tokensOut.String()))
	return nil
}

type sellBurnArgs struct {
	MarketID domain.MarketID  `json:"market_id"`
	Seller   domain.AccountID `json:"seller"`
	Outcome  domain.Outcome   `json:"outcome"`
	TokensIn domain.Amount    `json:"tokens_in"`
	Payout   domain.Amount    `json:"payout"`

	// Pre-trade state for the rollback branch.
	PrevYesReserve domain.Amount `json:"prev_yes_reserve"`
	PrevNoReserve  domain.Amount `json:"prev_no_reserve"`
	PrevCollateral domain.Amount `json:"prev_total_collateral"`
	PrevFees       domain.Amount `json:"prev_accrued_fees"`
}

// sell swaps outcome tokens back into collateral. tokens_in joins the sold
// reserve, the opposite reserve shrinks along the constant product, and the
// matched pairs release collateral. Reserve math commits before the burn;
// the burn callback pays out on success and restores on failure.
func (e *Engine) sell(env *chain.Env, seller domain.AccountID, a SellArgs) (any, error) {
	if a.TokensIn.IsZero() {
		return nil, fmt.Errorf("market: sell: %w", domain.ErrInvalidAmount)
	}
	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusOpen {
		return nil, fmt.Errorf("market: sell on %s market: %w", m.Status, domain.ErrMarketNotOpen)
	}

	sold, opposite := m.YesReserve, m.NoReserve
	if a.Outcome == domain.OutcomeNo {
		sold, opposite = m.NoReserve, m.YesReserve
	}

	newSold := sold.Add(a.TokensIn)
	newOpposite := sold.MulDiv(opposite, newSold)
	if newOpposite.IsZero() {
		return nil, fmt.Errorf("market: sell of %s would drain the %s reserve: %w",
			a.TokensIn, a.Outcome.Opposite(), domain.ErrReserveDrained)
	}
	extracted := opposite.Sub(newOpposite)
	gross := a.TokensIn.Min(extracted)
	fee := gross.MulBps(m.FeeBPS)
	payout := gross.Sub(fee)

	if payout.Cmp(a.MinCollateralOut) < 0 {
		return nil, fmt.Errorf("market: would receive %s, minimum %s: %w",
			payout, a.MinCollateralOut, domain.ErrSlippage)
	}

	next := m.Clone()
	if a.Outcome == domain.OutcomeYes {
		next.YesReserve, next.NoReserve = newSold.Sub(gross), newOpposite
	} else {
		next.NoReserve, next.YesReserve = newSold.Sub(gross), newOpposite
	}
	next.AccruedFees = next.AccruedFees.Add(fee)
	next.TotalCollateral = next.TotalCollateral.Sub(gross)
	e.markets[m.ID] = next

	return env.Call(e.ledger, methodBurn, mintBurnArgs{m.ID, a.Outcome, seller, a.TokensIn}).
		Then(methodOnSellBurnComplete, sellBurnArgs{
			MarketID:       m.ID,
			Seller:         seller,
			Outcome:        a.Outcome,
			TokensIn:       a.TokensIn,
			Payout:         payout,
			PrevYesReserve: m.YesReserve,
			PrevNoReserve:  m.NoReserve,
			PrevCollateral: m.TotalCollateral,
			PrevFees:       m.AccruedFees,
		}), nil
}

func (e *Engine) onSellBurnComplete(env *chain.Env, a sellBurnArgs) (any, error) {
	if env.Predecessor() != e.account {
		return nil, fmt.Errorf("market: on_sell_burn_complete is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("market: on_sell_burn_complete expects one promise result, got %d", len(results))
	}

	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}

	if !results[0].OK {
		next := m.Clone()
		next.YesReserve = a.PrevYesReserve
		next.NoReserve = a.PrevNoReserve
		next.TotalCollateral = a.PrevCollateral
		next.AccruedFees = a.PrevFees
		e.markets[m.ID] = next

		e.logger.Warn("sell burn failed, reserves restored",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("seller", string(a.Seller)),
			slog.String("error", results[0].Err))
		return nil, fmt.Errorf("market: sell burn failed: %s", results[0].Err)
	}

	yes, no := m.Prices()
	env.Emit(domain.TradeData{
		MarketID:         m.ID,
		Trader:           a.Seller,
		Outcome:          a.Outcome,
		IsBuy:            false,
		CollateralAmount: a.Payout,
		TokenAmount:      a.TokensIn,
		YesPrice:         yes,
		NoPrice:          no,
	})
	if !a.Payout.IsZero() {
		env.Call(e.collateral, methodFtTransfer, ftTransferArgs{ReceiverID: a.Seller, Amount: a.Payout})
	}

	e.logger.Debug("sell settled",
		slog.Uint64("market_id", uint64(m.ID)),
		slog.String("seller", string(a.Seller)),
		slog.String("payout", a.Payout.String()))
	return a.Payout, nil
}

func (e *Engine) addLiquidity(env *chain.Env, provider domain.AccountID, deposit domain.Amount, action domain.AddLiquidityAction) error {
	m, err := e.market(action.MarketID)
	if err != nil {
		return err
	}
	if m.Status != domain.StatusOpen {
		return fmt.Errorf("market: add_liquidity on %s market: %w", m.Status, domain.ErrMarketNotOpen)
	}

	// Shares price the deposit against pool value; reserves grow in parallel
	// so the deposit never moves the price.
	var shares, yesAdd, noAdd domain.Amount
	if m.TotalLPShares.IsZero() {
		shares, yesAdd, noAdd = deposit, deposit, deposit
	} else {
		shares = deposit.MulDiv(m.TotalLPShares, m.TotalCollateral)
		yesAdd = deposit.MulDiv(m.YesReserve, m.TotalCollateral)
		noAdd = deposit.MulDiv(m.NoReserve, m.TotalCollateral)
	}
	if shares.IsZero() {
		return fmt.Errorf("market: deposit %s mints no shares: %w", deposit, domain.ErrLiquidityTooSmall)
	}

	next := m.Clone()
	next.YesReserve = next.YesReserve.Add(yesAdd)
	next.NoReserve = next.NoReserve.Add(noAdd)
	next.TotalCollateral = next.TotalCollateral.Add(deposit)
	next.TotalLPShares = next.TotalLPShares.Add(shares)
	e.markets[m.ID] = next

	key := lpKey{m.ID, provider}
	e.lpPositions[key] = e.lpPositions[key].Add(shares)

	env.Emit(domain.LiquidityAddedData{
		MarketID: m.ID,
		Provider: provider,
		Amount:   deposit,
		LPShares: shares,
	})

	env.Call(e.ledger, methodMint, mintBurnArgs{m.ID, domain.OutcomeYes, e.account, yesAdd})
	env.Call(e.ledger, methodMint, mintBurnArgs{m.ID, domain.OutcomeNo, e.account, noAdd})

	e.logger.Debug("liquidity added",
		slog.Uint64("market_id", uint64(m.ID)),
		slog.String("provider", string(provider)),
		slog.String("amount", deposit.String()),
		slog.String("lp_shares", shares.String()))
	return nil
}

type removeBurnArgs struct {
	MarketID      domain.MarketID  `json:"market_id"`
	Provider      domain.AccountID `json:"provider"`
	Shares        domain.Amount    `json:"shares"`
	CollateralOut domain.Amount    `json:"collateral_out"`
	YesOut        domain.Amount    `json:"yes_out"`
	NoOut         domain.Amount    `json:"no_out"`
}

// removeLiquidity withdraws a proportional slice of collateral and reserves.
// A withdrawal that would zero either reserve is rejected outright; an Open
// market keeps both sides quotable.
func (e *Engine) removeLiquidity(env *chain.Env, provider domain.AccountID, a RemoveLiquidityArgs) (any, error) {
	if a.Shares.IsZero() {
		return nil, fmt.Errorf("market: remove_liquidity: %w", domain.ErrInvalidAmount)
	}
	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusOpen {
		return nil, fmt.Errorf("market: remove_liquidity on %s market: %w", m.Status, domain.ErrMarketNotOpen)
	}

	key := lpKey{m.ID, provider}
	held := e.lpPositions[key]
	if held.Cmp(a.Shares) < 0 {
		return nil, fmt.Errorf("market: holding %s shares, removing %s: %w",
			held, a.Shares, domain.ErrInsufficientShares)
	}

	collateralOut := a.Shares.MulDiv(m.TotalCollateral, m.TotalLPShares)
	yesOut := a.Shares.MulDiv(m.YesReserve, m.TotalLPShares)
	noOut := a.Shares.MulDiv(m.NoReserve, m.TotalLPShares)

	if m.YesReserve.Sub(yesOut).IsZero() || m.NoReserve.Sub(noOut).IsZero() {
		return nil, fmt.Errorf("market: removing %s shares: %w", a.Shares, domain.ErrReserveDrained)
	}

	next := m.Clone()
	next.YesReserve = next.YesReserve.Sub(yesOut)
	next.NoReserve = next.NoReserve.Sub(noOut)
	next.TotalCollateral = next.TotalCollateral.Sub(collateralOut)
	next.TotalLPShares = next.TotalLPShares.Sub(a.Shares)
	e.markets[m.ID] = next
	e.lpPositions[key] = held.Sub(a.Shares)

	return env.Call(e.ledger, methodBurn, mintBurnArgs{m.ID, domain.OutcomeYes, e.account, yesOut}).
		And(env.Call(e.ledger, methodBurn, mintBurnArgs{m.ID, domain.OutcomeNo, e.account, noOut})).
		Then(methodOnRemoveLiquidityBurnDone, removeBurnArgs{
			MarketID:      m.ID,
			Provider:      provider,
			Shares:        a.Shares,
			CollateralOut: collateralOut,
			YesOut:        yesOut,
			NoOut:         noOut,
		}), nil
}

func (e *Engine) onRemoveLiquidityBurnComplete(env *chain.Env, a removeBurnArgs) (any, error) {
	if env.Predecessor() != e.account {
		return nil, fmt.Errorf("market: on_remove_liquidity_burn_complete is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 2 {
		return nil, fmt.Errorf("market: on_remove_liquidity_burn_complete expects two promise results, got %d", len(results))
	}

	m, err := e.market(a.MarketID)
	if err != nil {
		return nil, err
	}

	yesOK, noOK := results[0].OK, results[1].OK
	if !yesOK || !noOK {
		next := m.Clone()
		next.YesReserve = next.YesReserve.Add(a.YesOut)
		next.NoReserve = next.NoReserve.Add(a.NoOut)
		next.TotalCollateral = next.TotalCollateral.Add(a.CollateralOut)
		next.TotalLPShares = next.TotalLPShares.Add(a.Shares)
		e.markets[m.ID] = next

		key := lpKey{m.ID, a.Provider}
		e.lpPositions[key] = e.lpPositions[key].Add(a.Shares)

		reason := results[0].Err
		if reason == "" {
			reason = results[1].Err
		}
		e.logger.Warn("liquidity burn failed, position restored",
			slog.Uint64("market_id", uint64(m.ID)),
			slog.String("provider", string(a.Provider)),
			slog.String("error", reason))

		if yesOK != noOK {
			// One side burned before the other failed. Re-mint it; the
			// compensating mint only commits if this receipt succeeds, so
			// the call resolves to zero withdrawn instead of failing.
			side, out := domain.OutcomeYes, a.YesOut
			if noOK {
				side, out = domain.OutcomeNo, a.NoOut
			}
			env.Call(e.ledger, methodMint, mintBurnArgs{m.ID, side, e.account, out})
			return domain.Amount{}, nil
		}
		return nil, fmt.Errorf("market: remove_liquidity burn failed: %s", reason)
	}

	env.Emit(domain.LiquidityRemovedData{
		MarketID: m.ID,
		Provider: a.Provider,
		Amount:   a.CollateralOut,
		LPShares: a.Shares,
	})
	if !a.CollateralOut.IsZero() {
		env.Call(e.collateral, methodFtTransfer, ftTransferArgs{ReceiverID: a.Provider, Amount: a.CollateralOut})
	}

	e.logger.Debug("liquidity removed",
		slog.Uint64("market_id", uint64(m.ID)),
		slog.String("provider", string(a.Provider)),
		slog.String("collateral_out", a.CollateralOut.String()))
	return a.CollateralOut, nil
}
