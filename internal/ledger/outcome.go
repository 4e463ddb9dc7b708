// Package ledger implements the outcome-token ledger: balances of YES and
// NO tokens keyed by (market, outcome, account), with per-(market, outcome)
// total supply. Exactly one account, the market component, may mutate it.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// Method names accepted by the ledger component.
const (
	MethodMint             = "mint"
	MethodBurn             = "burn"
	MethodInternalTransfer = "internal_transfer"
	MethodBalanceOf        = "balance_of"
	MethodTotalSupply      = "total_supply"
)

type balanceKey struct {
	market  domain.MarketID
	outcome domain.Outcome
	account domain.AccountID
}

type supplyKey struct {
	market  domain.MarketID
	outcome domain.Outcome
}

// Config wires a Ledger.
type Config struct {
	Account domain.AccountID
	// Market is the only account allowed to mint, burn or transfer.
	Market domain.AccountID
	Logger *slog.Logger
}

// Ledger is the outcome-token component.
type Ledger struct {
	account domain.AccountID
	market  domain.AccountID
	logger  *slog.Logger

	balances map[balanceKey]domain.Amount
	supply   map[supplyKey]domain.Amount
}

// New creates an empty ledger.
func New(cfg Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		account:  cfg.Account,
		market:   cfg.Market,
		logger:   logger.With(slog.String("component", "outcome_ledger")),
		balances: make(map[balanceKey]domain.Amount),
		supply:   make(map[supplyKey]domain.Amount),
	}
}

// Account implements chain.Component.
func (l *Ledger) Account() domain.AccountID { return l.account }

type mutateArgs struct {
	MarketID  domain.MarketID  `json:"market_id"`
	Outcome   domain.Outcome   `json:"outcome"`
	AccountID domain.AccountID `json:"account_id"`
	Amount    domain.Amount    `json:"amount"`
}

type transferArgs struct {
	MarketID domain.MarketID  `json:"market_id"`
	Outcome  domain.Outcome   `json:"outcome"`
	From     domain.AccountID `json:"from"`
	To       domain.AccountID `json:"to"`
	Amount   domain.Amount    `json:"amount"`
}

type balanceOfArgs struct {
	MarketID  domain.MarketID  `json:"market_id"`
	Outcome   domain.Outcome   `json:"outcome"`
	AccountID domain.AccountID `json:"account_id"`
}

type totalSupplyArgs struct {
	MarketID domain.MarketID `json:"market_id"`
	Outcome  domain.Outcome  `json:"outcome"`
}

// HandleCall implements chain.Component.
func (l *Ledger) HandleCall(env *chain.Env, method string, args json.RawMessage) (any, error) {
	switch method {
	case MethodMint:
		var a mutateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("ledger: decode mint: %w", err)
		}
		return nil, l.mint(env.Predecessor(), a)

	case MethodBurn:
		var a mutateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("ledger: decode burn: %w", err)
		}
		return nil, l.burn(env.Predecessor(), a)

	case MethodInternalTransfer:
		var a transferArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("ledger: decode internal_transfer: %w", err)
		}
		return nil, l.internalTransfer(env.Predecessor(), a)

	case MethodBalanceOf:
		var a balanceOfArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("ledger: decode balance_of: %w", err)
		}
		return l.balances[balanceKey{a.MarketID, a.Outcome, a.AccountID}], nil

	case MethodTotalSupply:
		var a totalSupplyArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("ledger: decode total_supply: %w", err)
		}
		return l.supply[supplyKey{a.MarketID, a.Outcome}], nil
	}
	return nil, fmt.Errorf("ledger: %s: %w", method, domain.ErrUnknownMethod)
}

func (l *Ledger) assertMarket(caller domain.AccountID) error {
	if caller != l.market {
		return fmt.Errorf("ledger: only the market account may mutate balances: %w", domain.ErrUnauthorized)
	}
	return nil
}

func (l *Ledger) mint(caller domain.AccountID, a mutateArgs) error {
	if err := l.assertMarket(caller); err != nil {
		return err
	}
	if a.Amount.IsZero() {
		return nil
	}
	bkey := balanceKey{a.MarketID, a.Outcome, a.AccountID}
	skey := supplyKey{a.MarketID, a.Outcome}
	l.balances[bkey] = l.balances[bkey].Add(a.Amount)
	l.supply[skey] = l.supply[skey].Add(a.Amount)
	return nil
}

func (l *Ledger) burn(caller domain.AccountID, a mutateArgs) error {
	if err := l.assertMarket(caller); err != nil {
		return err
	}
	if a.Amount.IsZero() {
		return nil
	}
	bkey := balanceKey{a.MarketID, a.Outcome, a.AccountID}
	balance := l.balances[bkey]
	if balance.Cmp(a.Amount) < 0 {
		return fmt.Errorf("ledger: burn %s %s from %s holding %s: %w",
			a.Amount, a.Outcome, a.AccountID, balance, domain.ErrInsufficientBalance)
	}
	skey := supplyKey{a.MarketID, a.Outcome}
	supply := l.supply[skey]
	if supply.Cmp(a.Amount) < 0 {
		return fmt.Errorf("ledger: burn exceeds supply %s: %w", supply, domain.ErrInsufficientBalance)
	}
	l.balances[bkey] = balance.Sub(a.Amount)
	l.supply[skey] = supply.Sub(a.Amount)
	return nil
}

func (l *Ledger) internalTransfer(caller domain.AccountID, a transferArgs) error {
	if err := l.assertMarket(caller); err != nil {
		return err
	}
	if a.Amount.IsZero() {
		return nil
	}
	fromKey := balanceKey{a.MarketID, a.Outcome, a.From}
	fromBalance := l.balances[fromKey]
	if fromBalance.Cmp(a.Amount) < 0 {
		return fmt.Errorf("ledger: transfer %s %s from %s holding %s: %w",
			a.Amount, a.Outcome, a.From, fromBalance, domain.ErrInsufficientBalance)
	}
	toKey := balanceKey{a.MarketID, a.Outcome, a.To}
	l.balances[fromKey] = fromBalance.Sub(a.Amount)
	l.balances[toKey] = l.balances[toKey].Add(a.Amount)
	return nil
}
