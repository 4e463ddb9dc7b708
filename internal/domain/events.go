package domain

import "encoding/json"

// Event envelope identity. Consumers key their parsers on (standard, event);
// payload schemas are append-only per event type.
const (
	EventStandard        = "nest-markets"
	EventStandardVersion = "1.0.0"
)

// EventType names one state transition or trade.
type EventType string

const (
	EventMarketCreated        EventType = "market_created"
	EventTrade                EventType = "trade"
	EventLiquidityAdded       EventType = "liquidity_added"
	EventLiquidityRemoved     EventType = "liquidity_removed"
	EventResolutionSubmitted  EventType = "resolution_submitted"
	EventMarketDisputed       EventType = "market_disputed"
	EventMarketSettled        EventType = "market_settled"
	EventRedeemed             EventType = "redeemed"
)

// ChainEvent is implemented by every event payload a component emits.
type ChainEvent interface {
	EventType() EventType
	EventMarket() MarketID
}

// MarketCreatedData announces a new market.
type MarketCreatedData struct {
	MarketID         MarketID  `json:"market_id"`
	Question         string    `json:"question"`
	ResolutionTimeNS NanoTime  `json:"resolution_time_ns"`
	Creator          AccountID `json:"creator"`
	InitialLiquidity Amount    `json:"initial_liquidity"`
	YesPrice         Amount    `json:"yes_price"`
	NoPrice          Amount    `json:"no_price"`
}

func (d MarketCreatedData) EventType() EventType  { return EventMarketCreated }
func (d MarketCreatedData) EventMarket() MarketID { return d.MarketID }

// TradeData records one buy or sell, with the post-trade prices.
type TradeData struct {
	MarketID         MarketID  `json:"market_id"`
	Trader           AccountID `json:"trader"`
	Outcome          Outcome   `json:"outcome"`
	IsBuy            bool      `json:"is_buy"`
	CollateralAmount Amount    `json:"collateral_amount"`
	TokenAmount      Amount    `json:"token_amount"`
	YesPrice         Amount    `json:"yes_price"`
	NoPrice          Amount    `json:"no_price"`
}

func (d TradeData) EventType() EventType  { return EventTrade }
func (d TradeData) EventMarket() MarketID { return d.MarketID }

// LiquidityAddedData records a pool contribution.
type LiquidityAddedData struct {
	MarketID MarketID  `json:"market_id"`
	Provider AccountID `json:"provider"`
	Amount   Amount    `json:"amount"`
	LPShares Amount    `json:"lp_shares"`
}

func (d LiquidityAddedData) EventType() EventType  { return EventLiquidityAdded }
func (d LiquidityAddedData) EventMarket() MarketID { return d.MarketID }

// LiquidityRemovedData records a pool withdrawal.
type LiquidityRemovedData struct {
	MarketID MarketID  `json:"market_id"`
	Provider AccountID `json:"provider"`
	Amount   Amount    `json:"amount"`
	LPShares Amount    `json:"lp_shares"`
}

func (d LiquidityRemovedData) EventType() EventType  { return EventLiquidityRemoved }
func (d LiquidityRemovedData) EventMarket() MarketID { return d.MarketID }

// ResolutionSubmittedData records an assertion reaching the oracle.
type ResolutionSubmittedData struct {
	MarketID    MarketID  `json:"market_id"`
	Outcome     Outcome   `json:"outcome"`
	Resolver    AccountID `json:"resolver"`
	AssertionID string    `json:"assertion_id"`
}

func (d ResolutionSubmittedData) EventType() EventType  { return EventResolutionSubmitted }
func (d ResolutionSubmittedData) EventMarket() MarketID { return d.MarketID }

// MarketDisputedData records a dispute against an open assertion.
type MarketDisputedData struct {
	MarketID    MarketID  `json:"market_id"`
	AssertionID string    `json:"assertion_id"`
	Disputer    AccountID `json:"disputer"`
}

func (d MarketDisputedData) EventType() EventType  { return EventMarketDisputed }
func (d MarketDisputedData) EventMarket() MarketID { return d.MarketID }

// MarketSettledData records the terminal transition.
type MarketSettledData struct {
	MarketID MarketID `json:"market_id"`
	Outcome  Outcome  `json:"outcome"`
}

func (d MarketSettledData) EventType() EventType  { return EventMarketSettled }
func (d MarketSettledData) EventMarket() MarketID { return d.MarketID }

// RedeemedData records a post-settlement redemption payout.
type RedeemedData struct {
	MarketID      MarketID  `json:"market_id"`
	User          AccountID `json:"user"`
	CollateralOut Amount    `json:"collateral_out"`
}

func (d RedeemedData) EventType() EventType  { return EventRedeemed }
func (d RedeemedData) EventMarket() MarketID { return d.MarketID }

// EventRecord is the bus envelope: the emitted payload plus the host
// metadata (height, timestamp, transaction and receipt identity) the indexer
// needs for ordering and deduplication. Data holds exactly one payload; the
// array form is the envelope contract.
type EventRecord struct {
	Standard string    `json:"standard"`
	Version  string    `json:"version"`
	Event    EventType `json:"event"`

	Data []json.RawMessage `json:"data"`

	MarketID         MarketID `json:"market_id"`
	BlockHeight      uint64   `json:"block_height"`
	BlockTimestampNS NanoTime `json:"block_timestamp_ns"`
	TransactionID    string   `json:"transaction_id"`
	ReceiptID        string   `json:"receipt_id"`
}

// Payload returns the single payload object.
func (r EventRecord) Payload() json.RawMessage {
	if len(r.Data) == 0 {
		return nil
	}
	return r.Data[0]
}

// LiveTradeData is the WebSocket fan-out shape for trade events. Prices stay
// integer strings on the AMMScale; clients derive display percentages from
// the ratio.
type LiveTradeData struct {
	MarketID         MarketID  `json:"market_id"`
	Trader           AccountID `json:"trader"`
	Outcome          Outcome   `json:"outcome"`
	IsBuy            bool      `json:"is_buy"`
	CollateralAmount Amount    `json:"collateral_amount"`
	TokenAmount      Amount    `json:"token_amount"`
	YesPrice         Amount    `json:"yes_price"`
	NoPrice          Amount    `json:"no_price"`
	BlockHeight      uint64    `json:"block_height"`
	BlockTimestampMS int64     `json:"block_timestamp_ms"`
	TransactionID    string    `json:"transaction_id"`
	ReceiptID        string    `json:"receipt_id"`
}

// LiveTradeMessage is the envelope written to WS clients and the live
// pub/sub channel.
type LiveTradeMessage struct {
	Type string        `json:"type"`
	Data LiveTradeData `json:"data"`
}
