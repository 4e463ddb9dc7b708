package domain

import (
	"fmt"
	"strconv"
)

// Protocol constants. Collateral uses 6 decimals, so one whole unit is 1e6
// base units; prices share the same 1e6 scale (500_000 = 50%).
const (
	CollateralDecimals = 6
	CollateralOne      = 1_000_000

	// MinInitialLiquidity is the default floor for CreateMarket deposits.
	MinInitialLiquidity = 10 * CollateralOne

	// AMMScale is the fixed-point price scale.
	AMMScale = 1_000_000

	DefaultFeeBPS  uint16 = 200
	BPSDenominator uint16 = 10_000
)

// AccountID identifies a component or user account on the chain.
type AccountID string

// MarketID is the sequential identifier of a market.
type MarketID uint64

// NanoTime is a nanosecond timestamp. It encodes as a decimal string because
// nanosecond values exceed the integer range JavaScript clients parse safely.
type NanoTime uint64

// Millis converts to milliseconds.
func (n NanoTime) Millis() int64 {
	return int64(n / 1_000_000)
}

// MarshalText implements encoding.TextMarshaler.
func (n NanoTime) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(n), 10)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *NanoTime) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("domain: parse nanosecond timestamp %q: %w", string(text), err)
	}
	*n = NanoTime(v)
	return nil
}

// Outcome is one side of a binary market.
type Outcome uint8

const (
	OutcomeYes Outcome = iota
	OutcomeNo
)

// Opposite returns the other side.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

func (o Outcome) String() string {
	if o == OutcomeYes {
		return "Yes"
	}
	return "No"
}

// ParseOutcome accepts "Yes"/"No" (either case on the wire).
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "Yes", "yes":
		return OutcomeYes, nil
	case "No", "no":
		return OutcomeNo, nil
	}
	return OutcomeYes, fmt.Errorf("domain: invalid outcome %q: %w", s, ErrInvalidAction)
}

// MarshalText implements encoding.TextMarshaler ("Yes" / "No").
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// MarketStatus is the lifecycle state of a market.
//
// Transitions: Open → Resolving → {Settled | Closed | Disputed};
// Disputed → {Settled | Closed}; Closed → Resolving (retry). Settled is
// terminal. All transitions are driven by resolution submissions and oracle
// callbacks; trading and liquidity operations require Open.
type MarketStatus string

const (
	StatusOpen      MarketStatus = "Open"
	StatusClosed    MarketStatus = "Closed"
	StatusResolving MarketStatus = "Resolving"
	StatusDisputed  MarketStatus = "Disputed"
	StatusSettled   MarketStatus = "Settled"
)

// Market is the full state of one binary market. Reserves are the market
// component's own outcome-token inventory; collateral and fee totals are
// tracked here while balances live in the collateral ledger.
type Market struct {
	ID               MarketID
	Question         string
	Description      string
	Creator          AccountID
	ResolutionTimeNS NanoTime
	Status           MarketStatus
	Outcome          *Outcome // set only when Settled

	YesReserve Amount
	NoReserve  Amount

	TotalLPShares   Amount
	TotalCollateral Amount

	FeeBPS      uint16
	AccruedFees Amount

	// Assertion bookkeeping, populated while a resolution is in flight.
	AssertionID            string // hex of the 32-byte claim digest
	AssertedOutcome        *Outcome
	Resolver               AccountID
	Disputer               AccountID
	AssertionSubmittedAtNS NanoTime
	AssertionExpiresAtNS   NanoTime
}

// Clone returns a deep copy. Operations mutate a clone and swap it in only
// after every check and computation has succeeded, which is what keeps a
// failed call from leaving partial state behind.
func (m *Market) Clone() *Market {
	c := *m
	if m.Outcome != nil {
		o := *m.Outcome
		c.Outcome = &o
	}
	if m.AssertedOutcome != nil {
		o := *m.AssertedOutcome
		c.AssertedOutcome = &o
	}
	return &c
}

// Prices returns the implied (yes, no) prices on the AMMScale. An empty pool
// reports 50/50.
func (m *Market) Prices() (yes, no Amount) {
	if m.YesReserve.IsZero() || m.NoReserve.IsZero() {
		half := NewAmount(AMMScale / 2)
		return half, half
	}
	total := m.YesReserve.Add(m.NoReserve)
	scale := NewAmount(AMMScale)
	return m.NoReserve.MulDiv(scale, total), m.YesReserve.MulDiv(scale, total)
}

// View returns the JSON-facing projection of the market.
func (m *Market) View() MarketView {
	yes, no := m.Prices()
	return MarketView{
		ID:                     m.ID,
		Question:               m.Question,
		Description:            m.Description,
		Creator:                m.Creator,
		ResolutionTimeNS:       m.ResolutionTimeNS,
		Status:                 m.Status,
		Outcome:                m.Outcome,
		YesReserve:             m.YesReserve,
		NoReserve:              m.NoReserve,
		YesPrice:               yes,
		NoPrice:                no,
		TotalLPShares:          m.TotalLPShares,
		TotalCollateral:        m.TotalCollateral,
		FeeBPS:                 m.FeeBPS,
		AccruedFees:            m.AccruedFees,
		AssertionID:            m.AssertionID,
		AssertedOutcome:        m.AssertedOutcome,
		Resolver:               m.Resolver,
		Disputer:               m.Disputer,
		AssertionSubmittedAtNS: m.AssertionSubmittedAtNS,
		AssertionExpiresAtNS:   m.AssertionExpiresAtNS,
	}
}

// MarketView is the read-model served by views and the HTTP API.
type MarketView struct {
	ID               MarketID     `json:"id"`
	Question         string       `json:"question"`
	Description      string       `json:"description"`
	Creator          AccountID    `json:"creator"`
	ResolutionTimeNS NanoTime     `json:"resolution_time_ns"`
	Status           MarketStatus `json:"status"`
	Outcome          *Outcome     `json:"outcome"`

	YesReserve Amount `json:"yes_reserve"`
	NoReserve  Amount `json:"no_reserve"`
	YesPrice   Amount `json:"yes_price"`
	NoPrice    Amount `json:"no_price"`

	TotalLPShares   Amount `json:"total_lp_shares"`
	TotalCollateral Amount `json:"total_collateral"`
	FeeBPS          uint16 `json:"fee_bps"`
	AccruedFees     Amount `json:"accrued_fees"`

	AssertionID            string    `json:"assertion_id,omitempty"`
	AssertedOutcome        *Outcome  `json:"asserted_outcome,omitempty"`
	Resolver               AccountID `json:"resolver,omitempty"`
	Disputer               AccountID `json:"disputer,omitempty"`
	AssertionSubmittedAtNS NanoTime  `json:"assertion_submitted_at_ns,omitempty"`
	AssertionExpiresAtNS   NanoTime  `json:"assertion_expires_at_ns,omitempty"`
}

// PricePair is the response of the get_prices view.
type PricePair struct {
	YesPrice Amount `json:"yes_price"`
	NoPrice  Amount `json:"no_price"`
}

// ConfigView describes the deployed component topology.
type ConfigView struct {
	Owner               AccountID `json:"owner"`
	CollateralToken     AccountID `json:"collateral_token"`
	OutcomeToken        AccountID `json:"outcome_token"`
	Oracle              AccountID `json:"oracle"`
	MarketCount         uint64    `json:"market_count"`
	DefaultFeeBPS       uint16    `json:"default_fee_bps"`
	MinInitialLiquidity Amount    `json:"min_initial_liquidity"`
	AssertionLivenessNS NanoTime  `json:"assertion_liveness_ns"`
}
