package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/collateral"
	"github.com/nest-markets/nestd/internal/domain"
)

const (
	oracleAccount = domain.AccountID("oracle.devnet")
	adminAccount  = domain.AccountID("owner.devnet")
	tokenAccount  = domain.AccountID("usdc.devnet")
	marketAccount = domain.AccountID("markets.devnet")
	alice         = domain.AccountID("alice.devnet")
	bob           = domain.AccountID("bob.devnet")
)

// marketProbe records the callbacks the oracle fires at the market.
type marketProbe struct {
	resolved []resolvedCallbackArgs
	disputed []disputedCallbackArgs
	failNext bool
}

func (m *marketProbe) Account() domain.AccountID { return marketAccount }

func (m *marketProbe) HandleCall(_ *chain.Env, method string, args json.RawMessage) (any, error) {
	if m.failNext {
		m.failNext = false
		return nil, errors.New("market rejected callback")
	}
	switch method {
	case methodResolvedCallback:
		var a resolvedCallbackArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		m.resolved = append(m.resolved, a)
		return nil, nil
	case methodDisputedCallback:
		var a disputedCallbackArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		m.disputed = append(m.disputed, a)
		return nil, nil
	}
	return nil, domain.ErrUnknownMethod
}

func setup(t *testing.T) (*chain.Runtime, *marketProbe) {
	t.Helper()
	rt := chain.New(chain.Config{})
	require.NoError(t, rt.Register(collateral.New(collateral.Config{
		Account: tokenAccount,
		Owner:   adminAccount,
		InitialBalances: map[domain.AccountID]domain.Amount{
			alice: domain.NewAmount(1_000_000),
			bob:   domain.NewAmount(1_000_000),
		},
	})))
	require.NoError(t, rt.Register(New(Config{
		Account:    oracleAccount,
		Admin:      adminAccount,
		Collateral: tokenAccount,
	})))
	probe := &marketProbe{}
	require.NoError(t, rt.Register(probe))
	return rt, probe
}

func bondTransfer(t *testing.T, rt *chain.Runtime, sender domain.AccountID, amount uint64, action domain.OracleAction) (*chain.TxOutcome, error) {
	t.Helper()
	msg, err := json.Marshal(action)
	require.NoError(t, err)
	return rt.Submit(context.Background(), sender, tokenAccount, collateral.MethodTransferCall, map[string]any{
		"receiver_id": oracleAccount,
		"amount":      domain.NewAmount(amount),
		"msg":         string(msg),
	})
}

func assertTruth(t *testing.T, rt *chain.Runtime, sender domain.AccountID, bond uint64, claim string) (*chain.TxOutcome, error) {
	t.Helper()
	return bondTransfer(t, rt, sender, bond, domain.OracleAction{
		Kind: domain.OracleActionAssertTruth,
		AssertTruth: &domain.AssertTruthAction{
			Claim:             claim,
			Asserter:          sender,
			CallbackRecipient: marketAccount,
		},
	})
}

func balanceOf(t *testing.T, rt *chain.Runtime, account domain.AccountID) domain.Amount {
	t.Helper()
	raw, err := rt.View(context.Background(), tokenAccount, collateral.MethodBalanceOf,
		map[string]any{"account_id": account})
	require.NoError(t, err)
	var out domain.Amount
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestAssertTruthEscrowsBond(t *testing.T) {
	rt, _ := setup(t)

	outcome, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)
	assert.Empty(t, outcome.Failures)
	assert.JSONEq(t, `"100000"`, string(outcome.Value))

	assert.Equal(t, domain.NewAmount(900_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(100_000), balanceOf(t, rt, oracleAccount))

	raw, err := rt.View(context.Background(), oracleAccount, MethodGetAssertion, getAssertionArgs{Claim: "claim-1"})
	require.NoError(t, err)
	var view AssertionView
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, alice, view.Asserter)
	assert.Equal(t, domain.NewAmount(100_000), view.Bond)
	assert.False(t, view.Disputed)
}

func TestDuplicateAssertionRefundsBond(t *testing.T) {
	rt, _ := setup(t)

	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)

	outcome, err := bondTransfer(t, rt, bob, 50_000, domain.OracleAction{
		Kind: domain.OracleActionAssertTruth,
		AssertTruth: &domain.AssertTruthAction{
			Claim:             "claim-1",
			Asserter:          bob,
			CallbackRecipient: marketAccount,
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Failures)
	assert.JSONEq(t, `"0"`, string(outcome.Value))
	assert.Equal(t, domain.NewAmount(1_000_000), balanceOf(t, rt, bob))
}

func TestDisputeNotifiesMarketAndEscrows(t *testing.T) {
	rt, probe := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)

	outcome, err := bondTransfer(t, rt, bob, 80_000, domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: "claim-1"},
	})
	require.NoError(t, err)
	assert.Empty(t, outcome.Failures)

	require.Len(t, probe.disputed, 1)
	assert.Equal(t, "claim-1", probe.disputed[0].AssertionID)
	assert.Equal(t, bob, probe.disputed[0].Disputer)

	assert.Equal(t, domain.NewAmount(920_000), balanceOf(t, rt, bob))
	assert.Equal(t, domain.NewAmount(180_000), balanceOf(t, rt, oracleAccount))
}

func TestDisputeRefundedWhenMarketCallbackFails(t *testing.T) {
	rt, probe := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)

	probe.failNext = true
	outcome, err := bondTransfer(t, rt, bob, 80_000, domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: "claim-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Failures)

	assert.Equal(t, domain.NewAmount(1_000_000), balanceOf(t, rt, bob))
	assert.Equal(t, domain.NewAmount(100_000), balanceOf(t, rt, oracleAccount))

	// The assertion is undisputed again.
	raw, err := rt.View(context.Background(), oracleAccount, MethodGetAssertion, getAssertionArgs{Claim: "claim-1"})
	require.NoError(t, err)
	var view AssertionView
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.False(t, view.Disputed)
}

func TestSettleTruthfulPaysAsserter(t *testing.T) {
	rt, probe := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)
	_, err = bondTransfer(t, rt, bob, 80_000, domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: "claim-1"},
	})
	require.NoError(t, err)

	_, err = rt.Submit(context.Background(), adminAccount, oracleAccount, MethodSettle,
		SettleArgs{Claim: "claim-1", AssertedTruthfully: true})
	require.NoError(t, err)

	require.Len(t, probe.resolved, 1)
	assert.True(t, probe.resolved[0].AssertedTruthfully)

	// Asserter wins both bonds.
	assert.Equal(t, domain.NewAmount(1_080_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(920_000), balanceOf(t, rt, bob))
	assert.True(t, balanceOf(t, rt, oracleAccount).IsZero())
}

func TestSettleFalsePaysDisputer(t *testing.T) {
	rt, probe := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)
	_, err = bondTransfer(t, rt, bob, 80_000, domain.OracleAction{
		Kind:    domain.OracleActionDispute,
		Dispute: &domain.DisputeAssertionAction{Claim: "claim-1"},
	})
	require.NoError(t, err)

	_, err = rt.Submit(context.Background(), adminAccount, oracleAccount, MethodSettle,
		SettleArgs{Claim: "claim-1", AssertedTruthfully: false})
	require.NoError(t, err)

	require.Len(t, probe.resolved, 1)
	assert.False(t, probe.resolved[0].AssertedTruthfully)

	assert.Equal(t, domain.NewAmount(900_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(1_100_000), balanceOf(t, rt, bob))
}

func TestSettleFalseUndisputedForfeitsToAdmin(t *testing.T) {
	rt, _ := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)

	_, err = rt.Submit(context.Background(), adminAccount, oracleAccount, MethodSettle,
		SettleArgs{Claim: "claim-1", AssertedTruthfully: false})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(100_000), balanceOf(t, rt, adminAccount))
	assert.Equal(t, domain.NewAmount(900_000), balanceOf(t, rt, alice))
}

func TestSettledClaimCanBeReasserted(t *testing.T) {
	rt, _ := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)
	_, err = rt.Submit(context.Background(), adminAccount, oracleAccount, MethodSettle,
		SettleArgs{Claim: "claim-1", AssertedTruthfully: false})
	require.NoError(t, err)

	outcome, err := assertTruth(t, rt, bob, 60_000, "claim-1")
	require.NoError(t, err)
	assert.Empty(t, outcome.Failures)
}

func TestSettleRequiresAdmin(t *testing.T) {
	rt, _ := setup(t)
	_, err := assertTruth(t, rt, alice, 100_000, "claim-1")
	require.NoError(t, err)

	_, err = rt.Submit(context.Background(), alice, oracleAccount, MethodSettle,
		SettleArgs{Claim: "claim-1", AssertedTruthfully: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestZeroBondRejected(t *testing.T) {
	rt, _ := setup(t)
	_, err := assertTruth(t, rt, alice, 0, "claim-1")
	// Zero-amount transfers fail inside the token before the oracle runs.
	require.Error(t, err)
}
