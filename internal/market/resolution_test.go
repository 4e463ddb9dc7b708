package market

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/collateral"
	"github.com/nest-markets/nestd/internal/crypto"
	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/oracle"
)

// oracleAssert bonds a claim at the oracle directly, without going through
// the market router.
func (te *testEnv) oracleAssert(t *testing.T, asserter domain.AccountID, claim string, bond uint64) (*chain.TxOutcome, error) {
	t.Helper()
	msg, err := json.Marshal(domain.OracleAction{
		Kind: domain.OracleActionAssertTruth,
		AssertTruth: &domain.AssertTruthAction{
			Claim:             claim,
			Asserter:          asserter,
			CallbackRecipient: marketAccount,
		},
	})
	require.NoError(t, err)
	return te.rt.Submit(context.Background(), asserter, tokenAccount, collateral.MethodTransferCall, map[string]any{
		"receiver_id": oracleAccount,
		"amount":      amt(bond),
		"msg":         string(msg),
	})
}

func (te *testEnv) dispute(t *testing.T, disputer domain.AccountID, claim string, bond uint64) (*chain.TxOutcome, error) {
	t.Helper()
	msg, err := json.Marshal(domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: claim},
	})
	require.NoError(t, err)
	return te.rt.Submit(context.Background(), disputer, tokenAccount, collateral.MethodTransferCall, map[string]any{
		"receiver_id": oracleAccount,
		"amount":      amt(bond),
		"msg":         string(msg),
	})
}

func TestSubmitResolutionBeforeDeadlineRefunds(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)

	out, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)
	require.NotEmpty(t, out.Failures)
	assert.Contains(t, out.Failures[0].Err, "resolution time has not passed yet")
	assert.JSONEq(t, `"0"`, string(out.Value))

	assert.Equal(t, domain.StatusOpen, te.marketView(t, id).Status)
	assert.Equal(t, amt(userFunds), te.collateralBalance(t, bob))
}

func TestResolutionSettlesMarket(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)
	_, err := te.buy(t, bob, id, domain.OutcomeYes, 1_000_000, 0)
	require.NoError(t, err)

	te.clock.Advance(25 * time.Hour)

	out, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.JSONEq(t, `"100000"`, string(out.Value))

	v := te.marketView(t, id)
	assert.Equal(t, domain.StatusResolving, v.Status)
	assert.Equal(t, bob, v.Resolver)
	require.NotNil(t, v.AssertedOutcome)
	assert.Equal(t, domain.OutcomeYes, *v.AssertedOutcome)
	assert.Len(t, v.AssertionID, 64)
	assert.Equal(t, te.nowNS(), v.AssertionSubmittedAtNS)
	assert.Equal(t, v.AssertionSubmittedAtNS+domain.NanoTime((2*time.Hour).Nanoseconds()), v.AssertionExpiresAtNS)

	submitted := eventsOfType(out, domain.EventResolutionSubmitted)
	require.Len(t, submitted, 1)
	var subData domain.ResolutionSubmittedData
	require.NoError(t, json.Unmarshal(submitted[0].Data[0], &subData))
	assert.Equal(t, v.AssertionID, subData.AssertionID)
	assert.Equal(t, bob, subData.Resolver)

	// The bond sits escrowed at the oracle against the claim.
	raw, err := te.rt.View(context.Background(), oracleAccount, oracle.MethodGetAssertion,
		map[string]any{"claim": v.AssertionID})
	require.NoError(t, err)
	var assertion oracle.AssertionView
	require.NoError(t, json.Unmarshal(raw, &assertion))
	assert.Equal(t, bob, assertion.Asserter)
	assert.Equal(t, marketAccount, assertion.CallbackRecipient)
	assert.Equal(t, amt(100_000), assertion.Bond)
	assert.False(t, assertion.Disputed)
	assert.Equal(t, amt(userFunds-1_000_000-100_000), te.collateralBalance(t, bob))

	// Trading is frozen while the assertion is live.
	frozen, err := te.buy(t, carol, id, domain.OutcomeNo, 1_000_000, 0)
	require.NoError(t, err)
	require.NotEmpty(t, frozen.Failures)
	assert.Contains(t, frozen.Failures[0].Err, "market is not open")
	assert.Equal(t, amt(userFunds), te.collateralBalance(t, carol))

	settleOut := te.settle(t, v.AssertionID, true)
	settledEvents := eventsOfType(settleOut, domain.EventMarketSettled)
	require.Len(t, settledEvents, 1)
	var settledData domain.MarketSettledData
	require.NoError(t, json.Unmarshal(settledEvents[0].Data[0], &settledData))
	assert.Equal(t, id, settledData.MarketID)
	assert.Equal(t, domain.OutcomeYes, settledData.Outcome)

	v = te.marketView(t, id)
	assert.Equal(t, domain.StatusSettled, v.Status)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, domain.OutcomeYes, *v.Outcome)

	// Truthful assertion, so the resolver recovered the bond.
	assert.Equal(t, amt(userFunds-1_000_000), te.collateralBalance(t, bob))
}

// When the oracle rejects the forwarded assertion the speculative Resolving
// transition is undone and the bond flows back to the resolver.
func TestResolutionRolledBackWhenOracleRejects(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)
	te.clock.Advance(25 * time.Hour)

	// Occupy the claim at the oracle so the market's forward is rejected as
	// a duplicate.
	claim := crypto.ClaimHex(id, domain.OutcomeYes, question)
	_, err := te.oracleAssert(t, alice, claim, 50_000)
	require.NoError(t, err)

	out, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)
	require.NotEmpty(t, out.Failures)
	assert.Contains(t, out.Failures[0].Err, "already asserted")
	assert.JSONEq(t, `"0"`, string(out.Value))
	assert.Empty(t, eventsOfType(out, domain.EventResolutionSubmitted))

	v := te.marketView(t, id)
	assert.Equal(t, domain.StatusOpen, v.Status)
	assert.Empty(t, v.AssertionID)
	assert.Nil(t, v.AssertedOutcome)
	assert.Empty(t, v.Resolver)
	assert.Zero(t, v.AssertionSubmittedAtNS)

	assert.Equal(t, amt(userFunds), te.collateralBalance(t, bob))
	assert.Equal(t, amt(10_000_000), te.collateralBalance(t, marketAccount))

	// The rollback leaves the market usable: the opposite outcome hashes to
	// a different claim and goes through.
	out, err = te.submitResolution(t, bob, id, domain.OutcomeNo, 100_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)

	v = te.marketView(t, id)
	assert.Equal(t, domain.StatusResolving, v.Status)
	require.NotNil(t, v.AssertedOutcome)
	assert.Equal(t, domain.OutcomeNo, *v.AssertedOutcome)
	assert.NotEqual(t, claim, v.AssertionID)
}

// Scenario: assert YES, dispute, verdict false. The market reopens Closed,
// the disputer collects the bond pool, and a fresh submission settles it.
func TestDisputedAssertionFalseVerdictAllowsRetry(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)
	te.clock.Advance(25 * time.Hour)

	_, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)
	claim := te.marketView(t, id).AssertionID

	out, err := te.dispute(t, carol, claim, 80_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)
	assert.JSONEq(t, `"80000"`, string(out.Value))

	disputedEvents := eventsOfType(out, domain.EventMarketDisputed)
	require.Len(t, disputedEvents, 1)
	var dispData domain.MarketDisputedData
	require.NoError(t, json.Unmarshal(disputedEvents[0].Data[0], &dispData))
	assert.Equal(t, carol, dispData.Disputer)
	assert.Equal(t, claim, dispData.AssertionID)

	v := te.marketView(t, id)
	assert.Equal(t, domain.StatusDisputed, v.Status)
	assert.Equal(t, carol, v.Disputer)

	frozen, err := te.buy(t, bob, id, domain.OutcomeYes, 1_000_000, 0)
	require.NoError(t, err)
	require.NotEmpty(t, frozen.Failures)
	assert.Contains(t, frozen.Failures[0].Err, "market is not open")

	settleOut := te.settle(t, claim, false)
	assert.Empty(t, eventsOfType(settleOut, domain.EventMarketSettled))

	v = te.marketView(t, id)
	assert.Equal(t, domain.StatusClosed, v.Status)
	assert.Nil(t, v.Outcome)
	assert.Nil(t, v.AssertedOutcome)
	assert.Empty(t, v.AssertionID)
	assert.Empty(t, v.Resolver)
	assert.Empty(t, v.Disputer)

	// The disputer won the pool; the resolver forfeited the bond.
	assert.Equal(t, amt(userFunds-80_000+180_000), te.collateralBalance(t, carol))
	assert.Equal(t, amt(userFunds-100_000), te.collateralBalance(t, bob))

	// Closed markets accept a fresh submission.
	out, err = te.submitResolution(t, bob, id, domain.OutcomeNo, 60_000)
	require.NoError(t, err)
	require.Empty(t, out.Failures)

	v = te.marketView(t, id)
	assert.Equal(t, domain.StatusResolving, v.Status)
	require.NotNil(t, v.AssertedOutcome)
	assert.Equal(t, domain.OutcomeNo, *v.AssertedOutcome)
	assert.NotEqual(t, claim, v.AssertionID)

	te.settle(t, v.AssertionID, true)
	v = te.marketView(t, id)
	assert.Equal(t, domain.StatusSettled, v.Status)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, domain.OutcomeNo, *v.Outcome)
}

func TestSubmitResolutionWhileResolvingRefunds(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)
	te.clock.Advance(25 * time.Hour)

	_, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)

	out, err := te.submitResolution(t, carol, id, domain.OutcomeYes, 50_000)
	require.NoError(t, err)
	require.NotEmpty(t, out.Failures)
	assert.Contains(t, out.Failures[0].Err, "status does not allow")
	assert.Equal(t, amt(userFunds), te.collateralBalance(t, carol))
	assert.Equal(t, bob, te.marketView(t, id).Resolver)
}

func TestResolutionCallbacksRequireOracle(t *testing.T) {
	te := newTestEnv(t)
	te.createMarket(t, alice, 10_000_000)

	_, err := te.rt.Submit(context.Background(), alice, marketAccount, MethodAssertionResolved, map[string]any{
		"assertion_id":        "deadbeef",
		"asserted_truthfully": true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	_, err = te.rt.Submit(context.Background(), oracleAccount, marketAccount, MethodAssertionResolved, map[string]any{
		"assertion_id":        "deadbeef",
		"asserted_truthfully": true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion not found")

	_, err = te.rt.Submit(context.Background(), alice, marketAccount, MethodAssertionDisputed, map[string]any{
		"assertion_id": "deadbeef",
		"disputer":     carol,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestLiquidityFrozenWhileResolving(t *testing.T) {
	te := newTestEnv(t)
	id := te.createMarket(t, alice, 10_000_000)
	te.clock.Advance(25 * time.Hour)

	_, err := te.submitResolution(t, bob, id, domain.OutcomeYes, 100_000)
	require.NoError(t, err)

	out, err := te.addLiquidity(t, carol, id, 1_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, out.Failures)
	assert.Contains(t, out.Failures[0].Err, "market is not open")

	_, err = te.removeLiquidity(t, alice, id, 1_000_000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market is not open")

	_, err = te.sell(t, alice, id, domain.OutcomeYes, 1_000, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market is not open")
}
