// Package collateral implements the devnet collateral token: a fungible
// ledger with transfer-with-callback semantics. Actions routed to the market
// ride inside ft_transfer_call messages, and whatever part of a deposit the
// receiver reports unconsumed is refunded to the sender when the transfer
// resolves.
package collateral

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// Method names accepted by the token component.
const (
	MethodTransfer        = "ft_transfer"
	MethodTransferCall    = "ft_transfer_call"
	MethodResolveTransfer = "ft_resolve_transfer"
	MethodBalanceOf       = "ft_balance_of"
	MethodTotalSupply     = "ft_total_supply"
	MethodMint            = "mint"
)

const methodOnTransfer = "ft_on_transfer"

// Config wires a Token.
type Config struct {
	Account domain.AccountID
	Owner   domain.AccountID
	Logger  *slog.Logger
	// Genesis funds minted before the first block.
	InitialBalances map[domain.AccountID]domain.Amount
}

// Token is the collateral ledger component.
type Token struct {
	account domain.AccountID
	owner   domain.AccountID
	logger  *slog.Logger

	balances map[domain.AccountID]domain.Amount
	supply   domain.Amount
}

// New creates the token with its genesis balances.
func New(cfg Config) *Token {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Token{
		account:  cfg.Account,
		owner:    cfg.Owner,
		logger:   logger.With(slog.String("component", "collateral_token")),
		balances: make(map[domain.AccountID]domain.Amount),
	}
	for account, amount := range cfg.InitialBalances {
		t.balances[account] = amount
		t.supply = t.supply.Add(amount)
	}
	return t
}

// Account implements chain.Component.
func (t *Token) Account() domain.AccountID { return t.account }

type transferArgs struct {
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
	Msg        string           `json:"msg,omitempty"`
}

type resolveArgs struct {
	SenderID   domain.AccountID `json:"sender_id"`
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
}

type onTransferArgs struct {
	SenderID domain.AccountID `json:"sender_id"`
	Amount   domain.Amount    `json:"amount"`
	Msg      string           `json:"msg"`
}

type balanceOfArgs struct {
	AccountID domain.AccountID `json:"account_id"`
}

type mintArgs struct {
	AccountID domain.AccountID `json:"account_id"`
	Amount    domain.Amount    `json:"amount"`
}

// HandleCall implements chain.Component.
func (t *Token) HandleCall(env *chain.Env, method string, args json.RawMessage) (any, error) {
	switch method {
	case MethodTransfer:
		var a transferArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("collateral: decode ft_transfer: %w", err)
		}
		return nil, t.transfer(env.Predecessor(), a.ReceiverID, a.Amount)

	case MethodTransferCall:
		var a transferArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("collateral: decode ft_transfer_call: %w", err)
		}
		return t.transferCall(env, a)

	case MethodResolveTransfer:
		var a resolveArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("collateral: decode ft_resolve_transfer: %w", err)
		}
		return t.resolveTransfer(env, a)

	case MethodBalanceOf:
		var a balanceOfArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("collateral: decode ft_balance_of: %w", err)
		}
		return t.balances[a.AccountID], nil

	case MethodTotalSupply:
		return t.supply, nil

	case MethodMint:
		var a mintArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("collateral: decode mint: %w", err)
		}
		return nil, t.mint(env.Predecessor(), a.AccountID, a.Amount)
	}
	return nil, fmt.Errorf("collateral: %s: %w", method, domain.ErrUnknownMethod)
}

func (t *Token) transfer(sender, receiver domain.AccountID, amount domain.Amount) error {
	if amount.IsZero() {
		return fmt.Errorf("collateral: transfer: %w", domain.ErrInvalidAmount)
	}
	if sender == receiver {
		return fmt.Errorf("collateral: transfer to self: %w", domain.ErrInvalidAction)
	}
	balance := t.balances[sender]
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("collateral: %s holds %s, needs %s: %w",
			sender, balance, amount, domain.ErrInsufficientBalance)
	}
	t.balances[sender] = balance.Sub(amount)
	t.balances[receiver] = t.balances[receiver].Add(amount)
	return nil
}

// transferCall moves the deposit first, then notifies the receiver. The
// resolve callback refunds whatever the receiver reports unconsumed, or the
// whole deposit when the notification fails. The returned promise defers
// the call's result to the resolved used amount, so a sender chaining a
// callback onto ft_transfer_call learns how much the receiver kept.
func (t *Token) transferCall(env *chain.Env, a transferArgs) (any, error) {
	sender := env.Predecessor()
	if err := t.transfer(sender, a.ReceiverID, a.Amount); err != nil {
		return nil, err
	}

	return env.Call(a.ReceiverID, methodOnTransfer, onTransferArgs{
		SenderID: sender,
		Amount:   a.Amount,
		Msg:      a.Msg,
	}).Then(MethodResolveTransfer, resolveArgs{
		SenderID:   sender,
		ReceiverID: a.ReceiverID,
		Amount:     a.Amount,
	}), nil
}

// resolveTransfer finishes a transfer-with-callback: parse the receiver's
// unconsumed amount (the full deposit when the call failed or returned
// garbage), cap it by what the receiver still holds, and send it back.
// Returns the amount the receiver kept.
func (t *Token) resolveTransfer(env *chain.Env, a resolveArgs) (any, error) {
	if env.Predecessor() != t.account {
		return nil, fmt.Errorf("collateral: ft_resolve_transfer is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("collateral: ft_resolve_transfer expects one promise result, got %d", len(results))
	}

	unused := a.Amount
	if res := results[0]; res.OK {
		var reported domain.Amount
		if err := json.Unmarshal(res.Value, &reported); err == nil {
			unused = reported.Min(a.Amount)
		}
	}

	if !unused.IsZero() {
		refund := unused.Min(t.balances[a.ReceiverID])
		if !refund.IsZero() {
			t.balances[a.ReceiverID] = t.balances[a.ReceiverID].Sub(refund)
			t.balances[a.SenderID] = t.balances[a.SenderID].Add(refund)
			t.logger.Debug("refunded unconsumed deposit",
				slog.String("sender", string(a.SenderID)),
				slog.String("receiver", string(a.ReceiverID)),
				slog.String("amount", refund.String()))
		}
		unused = refund
	}
	return a.Amount.Sub(unused), nil
}

func (t *Token) mint(caller, account domain.AccountID, amount domain.Amount) error {
	if caller != t.owner {
		return fmt.Errorf("collateral: mint requires owner: %w", domain.ErrUnauthorized)
	}
	if amount.IsZero() {
		return fmt.Errorf("collateral: mint: %w", domain.ErrInvalidAmount)
	}
	t.balances[account] = t.balances[account].Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}
