// Package service sits between the HTTP layer and the rest of the system:
// the chain gateway submits actions to the devnet runtime, the query service
// serves the indexer's read models.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/collateral"
	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/market"
	"github.com/nest-markets/nestd/internal/oracle"
)

// Topology names the component accounts the gateway talks to.
type Topology struct {
	Collateral domain.AccountID
	Market     domain.AccountID
	Oracle     domain.AccountID
	// Admin signs faucet mints and oracle settlements.
	Admin domain.AccountID
}

// ChainService turns API requests into runtime submissions and views.
// Devnet identity is declarative: the caller's account id rides in the
// request, no signatures involved.
type ChainService struct {
	rt     *chain.Runtime
	topo   Topology
	logger *slog.Logger
}

// NewChainService creates the gateway.
func NewChainService(rt *chain.Runtime, topo Topology, logger *slog.Logger) *ChainService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainService{
		rt:     rt,
		topo:   topo,
		logger: logger.With(slog.String("component", "chain_service")),
	}
}

type transferCallArgs struct {
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
	Msg        string           `json:"msg"`
}

type faucetArgs struct {
	AccountID domain.AccountID `json:"account_id"`
	Amount    domain.Amount    `json:"amount"`
}

// transferCall routes a deposit-funded action through the collateral token.
// msg marshals to the tagged wire form the receiver parses back out.
func (s *ChainService) transferCall(ctx context.Context, account, receiver domain.AccountID, deposit domain.Amount, msg json.Marshaler) (*chain.TxOutcome, error) {
	raw, err := msg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("chain_service: marshal transfer msg: %w", err)
	}

	out, err := s.rt.Submit(ctx, account, s.topo.Collateral, collateral.MethodTransferCall, transferCallArgs{
		ReceiverID: receiver,
		Amount:     deposit,
		Msg:        string(raw),
	})
	if err != nil {
		return out, err
	}

	s.logger.Debug("action submitted",
		slog.String("account", string(account)),
		slog.String("receiver", string(receiver)),
		slog.String("tx_id", out.TransactionID),
	)
	return out, nil
}

// CreateMarket opens a market funded by the deposit.
func (s *ChainService) CreateMarket(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.CreateMarketAction) (*chain.TxOutcome, error) {
	return s.transferCall(ctx, account, s.topo.Market, deposit, domain.TransferAction{
		Kind:         domain.ActionCreateMarket,
		CreateMarket: &action,
	})
}

// Buy swaps the deposit for outcome tokens.
func (s *ChainService) Buy(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.BuyAction) (*chain.TxOutcome, error) {
	return s.transferCall(ctx, account, s.topo.Market, deposit, domain.TransferAction{
		Kind: domain.ActionBuy,
		Buy:  &action,
	})
}

// AddLiquidity contributes the deposit to a pool.
func (s *ChainService) AddLiquidity(ctx context.Context, account domain.AccountID, deposit domain.Amount, action domain.AddLiquidityAction) (*chain.TxOutcome, error) {
	return s.transferCall(ctx, account, s.topo.Market, deposit, domain.TransferAction{
		Kind:         domain.ActionAddLiquidity,
		AddLiquidity: &action,
	})
}

// SubmitResolution posts the deposit as an assertion bond.
func (s *ChainService) SubmitResolution(ctx context.Context, account domain.AccountID, bond domain.Amount, action domain.SubmitResolutionAction) (*chain.TxOutcome, error) {
	return s.transferCall(ctx, account, s.topo.Market, bond, domain.TransferAction{
		Kind:             domain.ActionSubmitResolution,
		SubmitResolution: &action,
	})
}

// Sell swaps outcome tokens back into collateral.
func (s *ChainService) Sell(ctx context.Context, account domain.AccountID, args market.SellArgs) (*chain.TxOutcome, error) {
	return s.rt.Submit(ctx, account, s.topo.Market, market.MethodSell, args)
}

// RemoveLiquidity withdraws a provider's pool share.
func (s *ChainService) RemoveLiquidity(ctx context.Context, account domain.AccountID, args market.RemoveLiquidityArgs) (*chain.TxOutcome, error) {
	return s.rt.Submit(ctx, account, s.topo.Market, market.MethodRemoveLiquidity, args)
}

// RedeemTokens pays out winning tokens one-for-one after settlement.
func (s *ChainService) RedeemTokens(ctx context.Context, account domain.AccountID, args market.RedeemArgs) (*chain.TxOutcome, error) {
	return s.rt.Submit(ctx, account, s.topo.Market, market.MethodRedeemTokens, args)
}

// DisputeAssertion escrows the bond against an open claim at the oracle.
func (s *ChainService) DisputeAssertion(ctx context.Context, account domain.AccountID, bond domain.Amount, claim string) (*chain.TxOutcome, error) {
	return s.transferCall(ctx, account, s.topo.Oracle, bond, domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: claim},
	})
}

// SettleAssertion resolves an open claim. Admin only.
func (s *ChainService) SettleAssertion(ctx context.Context, claim string, truthfully bool) (*chain.TxOutcome, error) {
	return s.rt.Submit(ctx, s.topo.Admin, s.topo.Oracle, oracle.MethodSettle, oracle.SettleArgs{
		Claim:              claim,
		AssertedTruthfully: truthfully,
	})
}

// Faucet mints devnet collateral to an account. Admin only.
func (s *ChainService) Faucet(ctx context.Context, to domain.AccountID, amount domain.Amount) (*chain.TxOutcome, error) {
	out, err := s.rt.Submit(ctx, s.topo.Admin, s.topo.Collateral, collateral.MethodMint, faucetArgs{
		AccountID: to,
		Amount:    amount,
	})
	if err != nil {
		return out, err
	}
	s.logger.Info("faucet mint",
		slog.String("account", string(to)),
		slog.String("amount", amount.String()),
	)
	return out, nil
}

// view runs a read-only method and decodes the result.
func (s *ChainService) view(ctx context.Context, receiver domain.AccountID, method string, args, into any) error {
	raw, err := s.rt.View(ctx, receiver, method, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("chain_service: decode %s result: %w", method, err)
	}
	return nil
}

// Market returns one market's full view.
func (s *ChainService) Market(ctx context.Context, id domain.MarketID) (domain.MarketView, error) {
	var v domain.MarketView
	if err := s.view(ctx, s.topo.Market, market.MethodGetMarket, market.MarketQuery{MarketID: id}, &v); err != nil {
		return domain.MarketView{}, fmt.Errorf("chain_service: get market %d: %w", id, err)
	}
	return v, nil
}

// Markets pages through the registry.
func (s *ChainService) Markets(ctx context.Context, fromIndex, limit uint64) ([]domain.MarketView, error) {
	var vs []domain.MarketView
	if err := s.view(ctx, s.topo.Market, market.MethodGetMarkets, market.MarketsQuery{FromIndex: fromIndex, Limit: limit}, &vs); err != nil {
		return nil, fmt.Errorf("chain_service: get markets: %w", err)
	}
	return vs, nil
}

// MarketCount returns the number of markets ever created.
func (s *ChainService) MarketCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := s.view(ctx, s.topo.Market, market.MethodGetMarketCount, struct{}{}, &count); err != nil {
		return 0, fmt.Errorf("chain_service: get market count: %w", err)
	}
	return count, nil
}

// Prices returns a market's current marginal prices.
func (s *ChainService) Prices(ctx context.Context, id domain.MarketID) (domain.PricePair, error) {
	var p domain.PricePair
	if err := s.view(ctx, s.topo.Market, market.MethodGetPrices, market.MarketQuery{MarketID: id}, &p); err != nil {
		return domain.PricePair{}, fmt.Errorf("chain_service: get prices %d: %w", id, err)
	}
	return p, nil
}

// EstimateBuy quotes a buy without executing it.
func (s *ChainService) EstimateBuy(ctx context.Context, args market.EstimateBuyArgs) (domain.Amount, error) {
	var out domain.Amount
	if err := s.view(ctx, s.topo.Market, market.MethodEstimateBuy, args, &out); err != nil {
		return domain.Amount{}, fmt.Errorf("chain_service: estimate buy: %w", err)
	}
	return out, nil
}

// LPShares returns one provider's pool position.
func (s *ChainService) LPShares(ctx context.Context, id domain.MarketID, account domain.AccountID) (domain.Amount, error) {
	var shares domain.Amount
	if err := s.view(ctx, s.topo.Market, market.MethodGetLPShares, market.LPSharesArgs{MarketID: id, AccountID: account}, &shares); err != nil {
		return domain.Amount{}, fmt.Errorf("chain_service: get lp shares: %w", err)
	}
	return shares, nil
}

// Config returns the market component's wiring and parameters.
func (s *ChainService) Config(ctx context.Context) (domain.ConfigView, error) {
	var cfg domain.ConfigView
	if err := s.view(ctx, s.topo.Market, market.MethodGetConfig, struct{}{}, &cfg); err != nil {
		return domain.ConfigView{}, fmt.Errorf("chain_service: get config: %w", err)
	}
	return cfg, nil
}

type balanceOfArgs struct {
	AccountID domain.AccountID `json:"account_id"`
}

// Balance returns an account's collateral balance.
func (s *ChainService) Balance(ctx context.Context, account domain.AccountID) (domain.Amount, error) {
	var balance domain.Amount
	if err := s.view(ctx, s.topo.Collateral, collateral.MethodBalanceOf, balanceOfArgs{AccountID: account}, &balance); err != nil {
		return domain.Amount{}, fmt.Errorf("chain_service: balance of %s: %w", account, err)
	}
	return balance, nil
}
