package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

const (
	ledgerAccount = domain.AccountID("outcomes.devnet")
	marketAccount = domain.AccountID("markets.devnet")
	alice         = domain.AccountID("alice.devnet")
	bob           = domain.AccountID("bob.devnet")
)

func setup(t *testing.T) *chain.Runtime {
	t.Helper()
	rt := chain.New(chain.Config{})
	require.NoError(t, rt.Register(New(Config{
		Account: ledgerAccount,
		Market:  marketAccount,
	})))
	return rt
}

func mintAs(t *testing.T, rt *chain.Runtime, caller domain.AccountID, market domain.MarketID, outcome domain.Outcome, account domain.AccountID, amount uint64) error {
	t.Helper()
	_, err := rt.Submit(context.Background(), caller, ledgerAccount, MethodMint, mutateArgs{
		MarketID: market, Outcome: outcome, AccountID: account, Amount: domain.NewAmount(amount),
	})
	return err
}

func balance(t *testing.T, rt *chain.Runtime, market domain.MarketID, outcome domain.Outcome, account domain.AccountID) domain.Amount {
	t.Helper()
	raw, err := rt.View(context.Background(), ledgerAccount, MethodBalanceOf, balanceOfArgs{
		MarketID: market, Outcome: outcome, AccountID: account,
	})
	require.NoError(t, err)
	var out domain.Amount
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func supply(t *testing.T, rt *chain.Runtime, market domain.MarketID, outcome domain.Outcome) domain.Amount {
	t.Helper()
	raw, err := rt.View(context.Background(), ledgerAccount, MethodTotalSupply, totalSupplyArgs{
		MarketID: market, Outcome: outcome,
	})
	require.NoError(t, err)
	var out domain.Amount
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMintAndBalance(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 1_000_000))

	assert.Equal(t, domain.NewAmount(1_000_000), balance(t, rt, 0, domain.OutcomeYes, alice))
	assert.Equal(t, domain.NewAmount(1_000_000), supply(t, rt, 0, domain.OutcomeYes))
	assert.True(t, balance(t, rt, 0, domain.OutcomeNo, alice).IsZero())
}

func TestBurnUpdatesBalanceAndSupply(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 1_000_000))

	_, err := rt.Submit(context.Background(), marketAccount, ledgerAccount, MethodBurn, mutateArgs{
		MarketID: 0, Outcome: domain.OutcomeYes, AccountID: alice, Amount: domain.NewAmount(400_000),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(600_000), balance(t, rt, 0, domain.OutcomeYes, alice))
	assert.Equal(t, domain.NewAmount(600_000), supply(t, rt, 0, domain.OutcomeYes))
}

func TestBurnInsufficientBalanceFailsAtomically(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 100))

	_, err := rt.Submit(context.Background(), marketAccount, ledgerAccount, MethodBurn, mutateArgs{
		MarketID: 0, Outcome: domain.OutcomeYes, AccountID: alice, Amount: domain.NewAmount(200),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	assert.Equal(t, domain.NewAmount(100), balance(t, rt, 0, domain.OutcomeYes, alice))
	assert.Equal(t, domain.NewAmount(100), supply(t, rt, 0, domain.OutcomeYes))
}

func TestInternalTransfer(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeNo, alice, 500))

	_, err := rt.Submit(context.Background(), marketAccount, ledgerAccount, MethodInternalTransfer, transferArgs{
		MarketID: 0, Outcome: domain.OutcomeNo, From: alice, To: bob, Amount: domain.NewAmount(200),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(300), balance(t, rt, 0, domain.OutcomeNo, alice))
	assert.Equal(t, domain.NewAmount(200), balance(t, rt, 0, domain.OutcomeNo, bob))
	assert.Equal(t, domain.NewAmount(500), supply(t, rt, 0, domain.OutcomeNo))
}

func TestInternalTransferInsufficient(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeNo, alice, 100))

	_, err := rt.Submit(context.Background(), marketAccount, ledgerAccount, MethodInternalTransfer, transferArgs{
		MarketID: 0, Outcome: domain.OutcomeNo, From: alice, To: bob, Amount: domain.NewAmount(101),
	})
	require.Error(t, err)
	assert.Equal(t, domain.NewAmount(100), balance(t, rt, 0, domain.OutcomeNo, alice))
	assert.True(t, balance(t, rt, 0, domain.OutcomeNo, bob).IsZero())
}

func TestUnauthorizedMutationsRejected(t *testing.T) {
	rt := setup(t)

	err := mintAs(t, rt, alice, 0, domain.OutcomeYes, alice, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 100))
	_, err = rt.Submit(context.Background(), bob, ledgerAccount, MethodBurn, mutateArgs{
		MarketID: 0, Outcome: domain.OutcomeYes, AccountID: alice, Amount: domain.NewAmount(1),
	})
	require.Error(t, err)
	_, err = rt.Submit(context.Background(), bob, ledgerAccount, MethodInternalTransfer, transferArgs{
		MarketID: 0, Outcome: domain.OutcomeYes, From: alice, To: bob, Amount: domain.NewAmount(1),
	})
	require.Error(t, err)
}

func TestZeroAmountMutationsAreNoOps(t *testing.T) {
	rt := setup(t)

	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 0))
	assert.True(t, supply(t, rt, 0, domain.OutcomeYes).IsZero())

	_, err := rt.Submit(context.Background(), marketAccount, ledgerAccount, MethodBurn, mutateArgs{
		MarketID: 0, Outcome: domain.OutcomeYes, AccountID: alice, Amount: domain.Amount{},
	})
	require.NoError(t, err)
}

func TestMarketsAreIsolated(t *testing.T) {
	rt := setup(t)
	require.NoError(t, mintAs(t, rt, marketAccount, 0, domain.OutcomeYes, alice, 100))
	require.NoError(t, mintAs(t, rt, marketAccount, 1, domain.OutcomeYes, alice, 200))

	assert.Equal(t, domain.NewAmount(100), balance(t, rt, 0, domain.OutcomeYes, alice))
	assert.Equal(t, domain.NewAmount(200), balance(t, rt, 1, domain.OutcomeYes, alice))
	assert.Equal(t, domain.NewAmount(100), supply(t, rt, 0, domain.OutcomeYes))
	assert.Equal(t, domain.NewAmount(200), supply(t, rt, 1, domain.OutcomeYes))
}
