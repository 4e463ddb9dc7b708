// Package market implements the prediction-market component: the action
// router, the constant-product AMM, the resolution state machine and the
// redemption engine. It owns market state and LP positions, mutates outcome
// balances only through the ledger component, and receives funds only
// through collateral transfer-with-callback deposits.
//
// Mutating flows follow one discipline: validate and compute first, commit
// state last, and reconcile every cross-component call in a private
// callback. A rejected transfer-routed action reports the full deposit
// unconsumed so the collateral ledger refunds the sender.
package market

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// Method names accepted by the market component.
const (
	MethodOnTransfer      = "ft_on_transfer"
	MethodSell            = "sell"
	MethodRemoveLiquidity = "remove_liquidity"
	MethodRedeemTokens    = "redeem_tokens"

	MethodGetMarket      = "get_market"
	MethodGetMarkets     = "get_markets"
	MethodGetMarketCount = "get_market_count"
	MethodGetPrices      = "get_prices"
	MethodEstimateBuy    = "estimate_buy"
	MethodGetLPShares    = "get_lp_shares"
	MethodGetConfig      = "get_config"

	MethodSetOwner               = "set_owner"
	MethodEmergencyWithdrawToken = "emergency_withdraw_token"

	// Oracle-invoked resolution callbacks.
	MethodAssertionResolved = "assertion_resolved_callback"
	MethodAssertionDisputed = "assertion_disputed_callback"

	// Private continuations, predecessor must be the market itself.
	methodOnResolutionSubmitted     = "on_resolution_submitted"
	methodOnSellBurnComplete        = "on_sell_burn_complete"
	methodOnRemoveLiquidityBurnDone = "on_remove_liquidity_burn_complete"
	methodOnRedeemBurnComplete      = "on_redeem_burn_complete"
	methodOnRedeemTransferComplete  = "on_redeem_transfer_complete"
)

// Method names the market invokes on its collaborators.
const (
	methodMint           = "mint"
	methodBurn           = "burn"
	methodFtTransfer     = "ft_transfer"
	methodFtTransferCall = "ft_transfer_call"
)

// DefaultAssertionLiveness is how long an assertion stays open before the
// off-chain monitor flags it as overdue. The core never enforces it.
const DefaultAssertionLiveness = 2 * time.Hour

// Config wires an Engine.
type Config struct {
	Account domain.AccountID
	Owner   domain.AccountID
	// Collateral is the only account whose deposits the router accepts.
	Collateral domain.AccountID
	// Ledger is the outcome-token component the engine mints and burns on.
	Ledger domain.AccountID
	// Oracle is the only account allowed to invoke resolution callbacks.
	Oracle domain.AccountID
	Logger *slog.Logger

	// MinInitialLiquidity defaults to domain.MinInitialLiquidity.
	MinInitialLiquidity domain.Amount
	// DefaultFeeBPS defaults to domain.DefaultFeeBPS.
	DefaultFeeBPS uint16
	// AssertionLiveness defaults to DefaultAssertionLiveness.
	AssertionLiveness time.Duration
}

type lpKey struct {
	market  domain.MarketID
	account domain.AccountID
}

// Engine is the market component.
type Engine struct {
	account    domain.AccountID
	owner      domain.AccountID
	collateral domain.AccountID
	ledger     domain.AccountID
	oracle     domain.AccountID
	logger     *slog.Logger

	minInitialLiquidity domain.Amount
	defaultFeeBPS       uint16
	assertionLivenessNS domain.NanoTime

	markets           map[domain.MarketID]*domain.Market
	marketCount       uint64
	lpPositions       map[lpKey]domain.Amount
	assertionToMarket map[string]domain.MarketID
}

// New creates the market engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minLiquidity := cfg.MinInitialLiquidity
	if minLiquidity.IsZero() {
		minLiquidity = domain.NewAmount(domain.MinInitialLiquidity)
	}
	feeBPS := cfg.DefaultFeeBPS
	if feeBPS == 0 {
		feeBPS = domain.DefaultFeeBPS
	}
	liveness := cfg.AssertionLiveness
	if liveness == 0 {
		liveness = DefaultAssertionLiveness
	}
	return &Engine{
		account:             cfg.Account,
		owner:               cfg.Owner,
		collateral:          cfg.Collateral,
		ledger:              cfg.Ledger,
		oracle:              cfg.Oracle,
		logger:              logger.With(slog.String("component", "market_engine")),
		minInitialLiquidity: minLiquidity,
		defaultFeeBPS:       feeBPS,
		assertionLivenessNS: domain.NanoTime(liveness.Nanoseconds()),
		markets:             make(map[domain.MarketID]*domain.Market),
		lpPositions:         make(map[lpKey]domain.Amount),
		assertionToMarket:   make(map[string]domain.MarketID),
	}
}

// Account implements chain.Component.
func (e *Engine) Account() domain.AccountID { return e.account }

type onTransferArgs struct {
	SenderID domain.AccountID `json:"sender_id"`
	Amount   domain.Amount    `json:"amount"`
	Msg      string           `json:"msg"`
}

// SellArgs is the direct-call request for sell.
type SellArgs struct {
	MarketID         domain.MarketID `json:"market_id"`
	Outcome          domain.Outcome  `json:"outcome"`
	TokensIn         domain.Amount   `json:"tokens_in"`
	MinCollateralOut domain.Amount   `json:"min_collateral_out"`
}

// RemoveLiquidityArgs is the direct-call request for remove_liquidity.
type RemoveLiquidityArgs struct {
	MarketID domain.MarketID `json:"market_id"`
	Shares   domain.Amount   `json:"shares"`
}

// RedeemArgs is the direct-call request for redeem_tokens.
type RedeemArgs struct {
	MarketID domain.MarketID `json:"market_id"`
	Amount   domain.Amount   `json:"amount"`
}

// SetOwnerArgs transfers component ownership.
type SetOwnerArgs struct {
	NewOwner domain.AccountID `json:"new_owner"`
}

// WithdrawTokenArgs is the owner-only stuck-funds recovery request.
type WithdrawTokenArgs struct {
	Token      domain.AccountID `json:"token"`
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
}

type ftTransferArgs struct {
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
}

type ftTransferCallArgs struct {
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
	Msg        string           `json:"msg"`
}

type mintBurnArgs struct {
	MarketID  domain.MarketID  `json:"market_id"`
	Outcome   domain.Outcome   `json:"outcome"`
	AccountID domain.AccountID `json:"account_id"`
	Amount    domain.Amount    `json:"amount"`
}

// HandleCall implements chain.Component.
func (e *Engine) HandleCall(env *chain.Env, method string, args json.RawMessage) (any, error) {
	switch method {
	case MethodOnTransfer:
		var a onTransferArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode ft_on_transfer: %w", err)
		}
		return e.onTransfer(env, a)

	case MethodSell:
		var a SellArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode sell: %w", err)
		}
		return e.sell(env, env.Predecessor(), a)

	case MethodRemoveLiquidity:
		var a RemoveLiquidityArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode remove_liquidity: %w", err)
		}
		return e.removeLiquidity(env, env.Predecessor(), a)

	case MethodRedeemTokens:
		var a RedeemArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode redeem_tokens: %w", err)
		}
		return e.redeemTokens(env, env.Predecessor(), a)

	case methodOnSellBurnComplete:
		var a sellBurnArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode on_sell_burn_complete: %w", err)
		}
		return e.onSellBurnComplete(env, a)

	case methodOnRemoveLiquidityBurnDone:
		var a removeBurnArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode on_remove_liquidity_burn_complete: %w", err)
		}
		return e.onRemoveLiquidityBurnComplete(env, a)

	case methodOnResolutionSubmitted:
		var a resolutionSubmittedArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode on_resolution_submitted: %w", err)
		}
		return e.onResolutionSubmitted(env, a)

	case MethodAssertionResolved:
		var a resolvedCallbackArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode assertion_resolved_callback: %w", err)
		}
		return nil, e.assertionResolved(env, a)

	case MethodAssertionDisputed:
		var a disputedCallbackArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode assertion_disputed_callback: %w", err)
		}
		return nil, e.assertionDisputed(env, a)

	case methodOnRedeemBurnComplete:
		var a redeemBurnArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode on_redeem_burn_complete: %w", err)
		}
		return e.onRedeemBurnComplete(env, a)

	case methodOnRedeemTransferComplete:
		var a redeemBurnArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode on_redeem_transfer_complete: %w", err)
		}
		return e.onRedeemTransferComplete(env, a)

	case MethodSetOwner:
		var a SetOwnerArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode set_owner: %w", err)
		}
		return nil, e.setOwner(env, a)

	case MethodEmergencyWithdrawToken:
		var a WithdrawTokenArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode emergency_withdraw_token: %w", err)
		}
		return nil, e.emergencyWithdrawToken(env, a)

	case MethodGetMarket, MethodGetMarkets, MethodGetMarketCount, MethodGetPrices,
		MethodEstimateBuy, MethodGetLPShares, MethodGetConfig:
		return e.handleView(method, args)
	}
	return nil, fmt.Errorf("market: %s: %w", method, domain.ErrUnknownMethod)
}

// onTransfer routes deposit-funded actions. Returning an error fails the
// receipt, which the collateral ledger resolves into a full refund.
func (e *Engine) onTransfer(env *chain.Env, a onTransferArgs) (any, error) {
	if env.Predecessor() != e.collateral {
		return nil, fmt.Errorf("market: deposits must come from %s: %w", e.collateral, domain.ErrUnauthorized)
	}
	if a.Amount.IsZero() {
		return nil, fmt.Errorf("market: deposit: %w", domain.ErrInvalidAmount)
	}

	action, err := domain.ParseTransferAction([]byte(a.Msg))
	if err != nil {
		return nil, err
	}

	switch action.Kind {
	case domain.ActionCreateMarket:
		if err := e.createMarket(env, a.SenderID, a.Amount, *action.CreateMarket); err != nil {
			return nil, err
		}
	case domain.ActionBuy:
		if err := e.buy(env, a.SenderID, a.Amount, *action.Buy); err != nil {
			return nil, err
		}
	case domain.ActionAddLiquidity:
		if err := e.addLiquidity(env, a.SenderID, a.Amount, *action.AddLiquidity); err != nil {
			return nil, err
		}
	case domain.ActionSubmitResolution:
		// The deposit is the assertion bond; consumption is decided by the
		// forward call's callback, so the result is deferred.
		return e.submitResolution(env, a.SenderID, a.Amount, *action.SubmitResolution)
	default:
		return nil, fmt.Errorf("market: action %q: %w", action.Kind, domain.ErrInvalidAction)
	}

	// Deposit fully consumed.
	return domain.Amount{}, nil
}

func (e *Engine) createMarket(env *chain.Env, creator domain.AccountID, deposit domain.Amount, action domain.CreateMarketAction) error {
	if deposit.Cmp(e.minInitialLiquidity) < 0 {
		return fmt.Errorf("market: deposit %s, minimum %s: %w",
			deposit, e.minInitialLiquidity, domain.ErrBelowMinLiquidity)
	}
	if action.Question == "" {
		return fmt.Errorf("market: %w", domain.ErrEmptyQuestion)
	}
	if action.ResolutionTimeNS <= env.BlockTimestampNS() {
		return fmt.Errorf("market: %w", domain.ErrPastDeadline)
	}

	id := domain.MarketID(e.marketCount)
	e.marketCount++

	m := &domain.Market{
		ID:               id,
		Question:         action.Question,
		Description:      action.Description,
		Creator:          creator,
		ResolutionTimeNS: action.ResolutionTimeNS,
		Status:           domain.StatusOpen,
		YesReserve:       deposit,
		NoReserve:        deposit,
		TotalLPShares:    deposit,
		TotalCollateral:  deposit,
		FeeBPS:           e.defaultFeeBPS,
	}
	e.markets[id] = m
	e.lpPositions[lpKey{id, creator}] = deposit

	yes, no := m.Prices()
	env.Emit(domain.MarketCreatedData{
		MarketID:         id,
		Question:         m.Question,
		ResolutionTimeNS: m.ResolutionTimeNS,
		Creator:          creator,
		InitialLiquidity: deposit,
		YesPrice:         yes,
		NoPrice:          no,
	})

	// Back both reserves with outcome tokens held by the market itself.
	env.Call(e.ledger, methodMint, mintBurnArgs{id, domain.OutcomeYes, e.account, deposit})
	env.Call(e.ledger, methodMint, mintBurnArgs{id, domain.OutcomeNo, e.account, deposit})

	e.logger.Info("market created",
		slog.Uint64("market_id", uint64(id)),
		slog.String("creator", string(creator)),
		slog.String("initial_liquidity", deposit.String()))
	return nil
}

func (e *Engine) setOwner(env *chain.Env, a SetOwnerArgs) error {
	if env.Predecessor() != e.owner {
		return fmt.Errorf("market: set_owner requires owner: %w", domain.ErrUnauthorized)
	}
	e.logger.Info("ownership transferred",
		slog.String("from", string(e.owner)),
		slog.String("to", string(a.NewOwner)))
	e.owner = a.NewOwner
	return nil
}

// emergencyWithdrawToken moves stuck funds out of the market account. It can
// drain protocol collateral, so it is owner-only and operational.
func (e *Engine) emergencyWithdrawToken(env *chain.Env, a WithdrawTokenArgs) error {
	if env.Predecessor() != e.owner {
		return fmt.Errorf("market: emergency_withdraw_token requires owner: %w", domain.ErrUnauthorized)
	}
	if a.Amount.IsZero() {
		return fmt.Errorf("market: withdraw: %w", domain.ErrInvalidAmount)
	}
	env.Call(a.Token, methodFtTransfer, ftTransferArgs{ReceiverID: a.ReceiverID, Amount: a.Amount})
	e.logger.Warn("emergency token withdrawal",
		slog.String("token", string(a.Token)),
		slog.String("receiver", string(a.ReceiverID)),
		slog.String("amount", a.Amount.String()))
	return nil
}

func (e *Engine) market(id domain.MarketID) (*domain.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("market: id %d: %w", id, domain.ErrMarketNotFound)
	}
	return m, nil
}
