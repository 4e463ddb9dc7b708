package market

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/collateral"
	"github.com/nest-markets/nestd/internal/domain"
)

// One market's complete journey on a wired devnet: alice seeds the pool, bob
// buys and later sells, carol provides and withdraws liquidity, the deadline
// passes, bob asserts YES, carol disputes, the oracle upholds the assertion
// and bob redeems his winnings. The final section accounts for every unit of
// collateral that moved.
func TestMarketLifecycleEndToEnd(t *testing.T) {
	te := newTestEnv(t)

	// Create: both reserves seeded with the full deposit.
	id := te.createMarket(t, alice, 10_000_000)
	v := te.marketView(t, id)
	assert.Equal(t, domain.StatusOpen, v.Status)
	assert.Equal(t, amt(10_000_000), v.YesReserve)
	assert.Equal(t, amt(10_000_000), v.NoReserve)
	assert.Equal(t, amt(90_000_000), te.collateralBalance(t, alice))

	// Buy: 1M at 200 bps nets 980_000 into the curve.
	out, err := te.buy(t, bob, id, domain.OutcomeYes, 1_000_000, 0)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.Equal(t, amt(892_532), te.outcomeBalance(t, id, domain.OutcomeYes, bob))

	trades := eventsOfType(out, domain.EventTrade)
	require.Len(t, trades, 1)
	var buyData domain.TradeData
	require.NoError(t, json.Unmarshal(trades[0].Data[0], &buyData))
	assert.True(t, buyData.IsBuy)
	assert.Equal(t, amt(892_532), buyData.TokenAmount)
	assert.Equal(t, amt(546_609), buyData.YesPrice)

	v = te.marketView(t, id)
	assert.Equal(t, amt(9_107_468), v.YesReserve)
	assert.Equal(t, amt(10_980_000), v.NoReserve)
	assert.Equal(t, amt(10_980_000), v.TotalCollateral)
	assert.Equal(t, amt(20_000), v.AccruedFees)

	// Add then remove liquidity: carol passes through the pool without
	// touching the price and leaves holding exactly what she brought.
	out, err = te.addLiquidity(t, carol, id, 1_098_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.Equal(t, amt(1_000_000), te.lpShares(t, id, carol))
	assert.Equal(t, amt(98_902_000), te.collateralBalance(t, carol))

	out, err = te.removeLiquidity(t, carol, id, 1_000_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.JSONEq(t, `"1098000"`, string(out.Value))

	removed := eventsOfType(out, domain.EventLiquidityRemoved)
	require.Len(t, removed, 1)
	var removeData domain.LiquidityRemovedData
	require.NoError(t, json.Unmarshal(removed[0].Data[0], &removeData))
	assert.Equal(t, amt(1_098_000), removeData.Amount)
	assert.Equal(t, amt(1_000_000), removeData.LPShares)

	assert.True(t, te.lpShares(t, id, carol).IsZero())
	assert.Equal(t, amt(100_000_000), te.collateralBalance(t, carol))

	v = te.marketView(t, id)
	assert.Equal(t, amt(9_107_468), v.YesReserve)
	assert.Equal(t, amt(10_980_000), v.NoReserve)
	assert.Equal(t, amt(10_000_000), v.TotalLPShares)

	// Sell part of the position back before the deadline.
	out, err = te.sell(t, bob, id, domain.OutcomeYes, 92_532, 0)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.JSONEq(t, `"90682"`, string(out.Value))
	assert.Equal(t, amt(800_000), te.outcomeBalance(t, id, domain.OutcomeYes, bob))
	assert.Equal(t, amt(99_090_682), te.collateralBalance(t, bob))

	v = te.marketView(t, id)
	assert.Equal(t, amt(9_107_468), v.YesReserve)
	assert.Equal(t, amt(10_869_565), v.NoReserve)
	assert.Equal(t, amt(10_887_468), v.TotalCollateral)
	assert.Equal(t, amt(21_850), v.AccruedFees)

	// Resolution: bob bonds a YES assertion once the deadline passed.
	te.clock.Advance(25 * time.Hour)

	out, err = te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	require.Len(t, eventsOfType(out, domain.EventResolutionSubmitted), 1)

	v = te.marketView(t, id)
	require.Equal(t, domain.StatusResolving, v.Status)
	claim := v.AssertionID
	assert.Equal(t, amt(98_990_682), te.collateralBalance(t, bob))

	// Dispute, then a truthful verdict: the market settles YES and the
	// asserter collects the whole bond pool.
	out, err = te.dispute(t, carol, claim, 80_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	require.Len(t, eventsOfType(out, domain.EventMarketDisputed), 1)
	assert.Equal(t, domain.StatusDisputed, te.marketView(t, id).Status)
	assert.Equal(t, amt(99_920_000), te.collateralBalance(t, carol))

	settleOut := te.settle(t, claim, true)
	require.Len(t, eventsOfType(settleOut, domain.EventMarketSettled), 1)

	v = te.marketView(t, id)
	require.Equal(t, domain.StatusSettled, v.Status)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, domain.OutcomeYes, *v.Outcome)
	assert.Equal(t, amt(99_170_682), te.collateralBalance(t, bob))

	// Redeem: winning tokens burn for collateral one to one.
	out, err = te.redeem(t, bob, id, 800_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)

	redeemed := eventsOfType(out, domain.EventRedeemed)
	require.Len(t, redeemed, 1)
	var redeemData domain.RedeemedData
	require.NoError(t, json.Unmarshal(redeemed[0].Data[0], &redeemData))
	assert.Equal(t, bob, redeemData.User)
	assert.Equal(t, amt(800_000), redeemData.CollateralOut)

	assert.True(t, te.outcomeBalance(t, id, domain.OutcomeYes, bob).IsZero())
	assert.Equal(t, amt(99_970_682), te.collateralBalance(t, bob))

	// Accounting: the market holds its pool plus accrued fees and nothing
	// else; every balance in the system sums back to the genesis supply.
	v = te.marketView(t, id)
	assert.Equal(t, amt(10_087_468), v.TotalCollateral)
	assert.Equal(t, amt(21_850), v.AccruedFees)

	marketBalance := te.collateralBalance(t, marketAccount)
	assert.Equal(t, v.TotalCollateral.Add(v.AccruedFees), marketBalance)
	assert.Equal(t, amt(10_109_318), marketBalance)

	assert.True(t, te.collateralBalance(t, oracleAccount).IsZero())

	raw, err := te.rt.View(context.Background(), tokenAccount, collateral.MethodTotalSupply, nil)
	require.NoError(t, err)
	var supply domain.Amount
	require.NoError(t, json.Unmarshal(raw, &supply))
	assert.Equal(t, amt(300_000_000), supply)

	total := te.collateralBalance(t, alice).
		Add(te.collateralBalance(t, bob)).
		Add(te.collateralBalance(t, carol)).
		Add(marketBalance)
	assert.Equal(t, supply, total)
}
