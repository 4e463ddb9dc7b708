package market

import (
	"encoding/json"
	"fmt"

	"github.com/nest-markets/nestd/internal/domain"
)

const defaultMarketsPageSize = 50

// MarketQuery addresses one market in a view call.
type MarketQuery struct {
	MarketID domain.MarketID `json:"market_id"`
}

// MarketsQuery pages through the append-only registry.
type MarketsQuery struct {
	FromIndex uint64 `json:"from_index"`
	Limit     uint64 `json:"limit"`
}

// EstimateBuyArgs quotes a buy without executing it.
type EstimateBuyArgs struct {
	MarketID     domain.MarketID `json:"market_id"`
	Outcome      domain.Outcome  `json:"outcome"`
	CollateralIn domain.Amount   `json:"collateral_in"`
}

// LPSharesArgs addresses one provider's position.
type LPSharesArgs struct {
	MarketID  domain.MarketID  `json:"market_id"`
	AccountID domain.AccountID `json:"account_id"`
}

func (e *Engine) handleView(method string, args json.RawMessage) (any, error) {
	switch method {
	case MethodGetMarket:
		var a MarketQuery
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode get_market: %w", err)
		}
		m, err := e.market(a.MarketID)
		if err != nil {
			return nil, err
		}
		return m.View(), nil

	case MethodGetMarkets:
		var a MarketsQuery
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode get_markets: %w", err)
		}
		return e.listMarkets(a), nil

	case MethodGetMarketCount:
		return e.marketCount, nil

	case MethodGetPrices:
		var a MarketQuery
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode get_prices: %w", err)
		}
		m, err := e.market(a.MarketID)
		if err != nil {
			return nil, err
		}
		yes, no := m.Prices()
		return domain.PricePair{YesPrice: yes, NoPrice: no}, nil

	case MethodEstimateBuy:
		var a EstimateBuyArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode estimate_buy: %w", err)
		}
		m, err := e.market(a.MarketID)
		if err != nil {
			return nil, err
		}
		q, err := quoteBuy(m, a.Outcome, a.CollateralIn)
		if err != nil {
			return nil, err
		}
		return q.tokensOut, nil

	case MethodGetLPShares:
		var a LPSharesArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("market: decode get_lp_shares: %w", err)
		}
		return e.lpPositions[lpKey{a.MarketID, a.AccountID}], nil

	case MethodGetConfig:
		return domain.ConfigView{
			Owner:               e.owner,
			CollateralToken:     e.collateral,
			OutcomeToken:        e.ledger,
			Oracle:              e.oracle,
			MarketCount:         e.marketCount,
			DefaultFeeBPS:       e.defaultFeeBPS,
			MinInitialLiquidity: e.minInitialLiquidity,
			AssertionLivenessNS: e.assertionLivenessNS,
		}, nil
	}
	return nil, fmt.Errorf("market: %s: %w", method, domain.ErrUnknownMethod)
}

// listMarkets walks ids from FromIndex upward. The registry is append-only
// and never gapped, so index paging is exact.
func (e *Engine) listMarkets(q MarketsQuery) []domain.MarketView {
	limit := q.Limit
	if limit == 0 {
		limit = defaultMarketsPageSize
	}
	out := make([]domain.MarketView, 0, limit)
	for id := q.FromIndex; id < e.marketCount && uint64(len(out)) < limit; id++ {
		if m, ok := e.markets[domain.MarketID(id)]; ok {
			out = append(out, m.View())
		}
	}
	return out
}
