package domain

import (
	"encoding/json"
	"fmt"
)

// ActionKind tags the payload carried inside a collateral transfer-with-
// callback message. The deposit accompanying the transfer is the action's
// funding: initial liquidity, trade collateral, liquidity contribution, or
// resolution bond.
type ActionKind string

const (
	ActionCreateMarket     ActionKind = "CreateMarket"
	ActionBuy              ActionKind = "Buy"
	ActionAddLiquidity     ActionKind = "AddLiquidity"
	ActionSubmitResolution ActionKind = "SubmitResolution"
)

// CreateMarketAction opens a new market funded by the attached deposit.
type CreateMarketAction struct {
	Question         string   `json:"question"`
	Description      string   `json:"description"`
	ResolutionTimeNS NanoTime `json:"resolution_time_ns"`
}

// BuyAction swaps the attached deposit for outcome tokens.
type BuyAction struct {
	MarketID     MarketID `json:"market_id"`
	Outcome      Outcome  `json:"outcome"`
	MinTokensOut Amount   `json:"min_tokens_out"`
}

// AddLiquidityAction contributes the attached deposit to the pool.
type AddLiquidityAction struct {
	MarketID MarketID `json:"market_id"`
}

// SubmitResolutionAction posts the attached deposit as an assertion bond.
type SubmitResolutionAction struct {
	MarketID MarketID `json:"market_id"`
	Outcome  Outcome  `json:"outcome"`
}

// TransferAction is the decoded tagged union. Exactly one variant pointer is
// non-nil, matching Kind.
type TransferAction struct {
	Kind             ActionKind
	CreateMarket     *CreateMarketAction
	Buy              *BuyAction
	AddLiquidity     *AddLiquidityAction
	SubmitResolution *SubmitResolutionAction
}

// Wire shapes with pointer fields so that missing required keys are detected
// instead of silently defaulting (a Buy without an outcome must not become a
// Yes purchase).
type (
	createMarketWire struct {
		Question         *string   `json:"question"`
		Description      *string   `json:"description"`
		ResolutionTimeNS *NanoTime `json:"resolution_time_ns"`
	}
	buyWire struct {
		MarketID     *MarketID `json:"market_id"`
		Outcome      *Outcome  `json:"outcome"`
		MinTokensOut *Amount   `json:"min_tokens_out"`
	}
	addLiquidityWire struct {
		MarketID *MarketID `json:"market_id"`
	}
	submitResolutionWire struct {
		MarketID *MarketID `json:"market_id"`
		Outcome  *Outcome  `json:"outcome"`
	}
)

// ParseTransferAction decodes the msg payload of a collateral transfer.
func ParseTransferAction(msg []byte) (TransferAction, error) {
	var head struct {
		Action ActionKind `json:"action"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return TransferAction{}, fmt.Errorf("domain: decode action: %w: %w", err, ErrInvalidAction)
	}

	switch head.Action {
	case ActionCreateMarket:
		var w createMarketWire
		if err := json.Unmarshal(msg, &w); err != nil {
			return TransferAction{}, fmt.Errorf("domain: decode CreateMarket: %w: %w", err, ErrInvalidAction)
		}
		if w.Question == nil || w.ResolutionTimeNS == nil {
			return TransferAction{}, fmt.Errorf("domain: CreateMarket missing fields: %w", ErrInvalidAction)
		}
		act := &CreateMarketAction{Question: *w.Question, ResolutionTimeNS: *w.ResolutionTimeNS}
		if w.Description != nil {
			act.Description = *w.Description
		}
		return TransferAction{Kind: head.Action, CreateMarket: act}, nil

	case ActionBuy:
		var w buyWire
		if err := json.Unmarshal(msg, &w); err != nil {
			return TransferAction{}, fmt.Errorf("domain: decode Buy: %w: %w", err, ErrInvalidAction)
		}
		if w.MarketID == nil || w.Outcome == nil || w.MinTokensOut == nil {
			return TransferAction{}, fmt.Errorf("domain: Buy missing fields: %w", ErrInvalidAction)
		}
		return TransferAction{Kind: head.Action, Buy: &BuyAction{
			MarketID:     *w.MarketID,
			Outcome:      *w.Outcome,
			MinTokensOut: *w.MinTokensOut,
		}}, nil

	case ActionAddLiquidity:
		var w addLiquidityWire
		if err := json.Unmarshal(msg, &w); err != nil {
			return TransferAction{}, fmt.Errorf("domain: decode AddLiquidity: %w: %w", err, ErrInvalidAction)
		}
		if w.MarketID == nil {
			return TransferAction{}, fmt.Errorf("domain: AddLiquidity missing market_id: %w", ErrInvalidAction)
		}
		return TransferAction{Kind: head.Action, AddLiquidity: &AddLiquidityAction{MarketID: *w.MarketID}}, nil

	case ActionSubmitResolution:
		var w submitResolutionWire
		if err := json.Unmarshal(msg, &w); err != nil {
			return TransferAction{}, fmt.Errorf("domain: decode SubmitResolution: %w: %w", err, ErrInvalidAction)
		}
		if w.MarketID == nil || w.Outcome == nil {
			return TransferAction{}, fmt.Errorf("domain: SubmitResolution missing fields: %w", ErrInvalidAction)
		}
		return TransferAction{Kind: head.Action, SubmitResolution: &SubmitResolutionAction{
			MarketID: *w.MarketID,
			Outcome:  *w.Outcome,
		}}, nil
	}

	return TransferAction{}, fmt.Errorf("domain: unknown action %q: %w", head.Action, ErrInvalidAction)
}

// MarshalJSON emits the tagged wire form.
func (a TransferAction) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActionCreateMarket:
		return json.Marshal(struct {
			Action ActionKind `json:"action"`
			*CreateMarketAction
		}{a.Kind, a.CreateMarket})
	case ActionBuy:
		return json.Marshal(struct {
			Action ActionKind `json:"action"`
			*BuyAction
		}{a.Kind, a.Buy})
	case ActionAddLiquidity:
		return json.Marshal(struct {
			Action ActionKind `json:"action"`
			*AddLiquidityAction
		}{a.Kind, a.AddLiquidity})
	case ActionSubmitResolution:
		return json.Marshal(struct {
			Action ActionKind `json:"action"`
			*SubmitResolutionAction
		}{a.Kind, a.SubmitResolution})
	}
	return nil, fmt.Errorf("domain: marshal action %q: %w", a.Kind, ErrInvalidAction)
}

// Oracle-facing payloads, carried inside transfers to the oracle component.

// OracleActionKind tags oracle transfer payloads.
type OracleActionKind string

const (
	OracleActionAssertTruth OracleActionKind = "AssertTruth"
	OracleActionDispute     OracleActionKind = "DisputeAssertion"
)

// AssertTruthAction escrows the attached bond behind a claim. The market
// forwards the resolver's bond with this payload; callbacks flow back to
// CallbackRecipient.
type AssertTruthAction struct {
	Claim             string    `json:"claim"`
	Asserter          AccountID `json:"asserter"`
	CallbackRecipient AccountID `json:"callback_recipient"`
}

// DisputeAssertionAction escrows the attached bond against an open claim.
// The sender of the transfer is the disputer.
type DisputeAssertionAction struct {
	Claim string `json:"claim"`
}

// OracleAction is the decoded oracle payload.
type OracleAction struct {
	Kind        OracleActionKind
	AssertTruth *AssertTruthAction
	Dispute     *DisputeAssertionAction
}

// ParseOracleAction decodes the msg payload of a transfer to the oracle.
func ParseOracleAction(msg []byte) (OracleAction, error) {
	var head struct {
		Action OracleActionKind `json:"action"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return OracleAction{}, fmt.Errorf("domain: decode oracle action: %w: %w", err, ErrInvalidAction)
	}

	switch head.Action {
	case OracleActionAssertTruth:
		var w struct {
			Claim             *string    `json:"claim"`
			Asserter          *AccountID `json:"asserter"`
			CallbackRecipient *AccountID `json:"callback_recipient"`
		}
		if err := json.Unmarshal(msg, &w); err != nil {
			return OracleAction{}, fmt.Errorf("domain: decode AssertTruth: %w: %w", err, ErrInvalidAction)
		}
		if w.Claim == nil || w.Asserter == nil || w.CallbackRecipient == nil {
			return OracleAction{}, fmt.Errorf("domain: AssertTruth missing fields: %w", ErrInvalidAction)
		}
		return OracleAction{Kind: head.Action, AssertTruth: &AssertTruthAction{
			Claim:             *w.Claim,
			Asserter:          *w.Asserter,
			CallbackRecipient: *w.CallbackRecipient,
		}}, nil

	case OracleActionDispute:
		var w struct {
			Claim *string `json:"claim"`
		}
		if err := json.Unmarshal(msg, &w); err != nil {
			return OracleAction{}, fmt.Errorf("domain: decode DisputeAssertion: %w: %w", err, ErrInvalidAction)
		}
		if w.Claim == nil {
			return OracleAction{}, fmt.Errorf("domain: DisputeAssertion missing claim: %w", ErrInvalidAction)
		}
		return OracleAction{Kind: head.Action, Dispute: &DisputeAssertionAction{Claim: *w.Claim}}, nil
	}

	return OracleAction{}, fmt.Errorf("domain: unknown oracle action %q: %w", head.Action, ErrInvalidAction)
}

// MarshalJSON emits the tagged wire form.
func (a OracleAction) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case OracleActionAssertTruth:
		return json.Marshal(struct {
			Action OracleActionKind `json:"action"`
			*AssertTruthAction
		}{a.Kind, a.AssertTruth})
	case OracleActionDispute:
		return json.Marshal(struct {
			Action OracleActionKind `json:"action"`
			*DisputeAssertionAction
		}{a.Kind, a.Dispute})
	}
	return nil, fmt.Errorf("domain: marshal oracle action %q: %w", a.Kind, ErrInvalidAction)
}
