package collateral

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

const (
	tokenAccount = domain.AccountID("usdc.devnet")
	ownerAccount = domain.AccountID("owner.devnet")
	alice        = domain.AccountID("alice.devnet")
	bob          = domain.AccountID("bob.devnet")
	appAccount   = domain.AccountID("app.devnet")
)

// consumer is a transfer receiver scripted to keep part of each deposit.
type consumer struct {
	unused func(amount domain.Amount) (domain.Amount, error)
}

func (c *consumer) Account() domain.AccountID { return appAccount }

func (c *consumer) HandleCall(_ *chain.Env, method string, args json.RawMessage) (any, error) {
	if method != "ft_on_transfer" {
		return nil, domain.ErrUnknownMethod
	}
	var a onTransferArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return c.unused(a.Amount)
}

func setup(t *testing.T, c *consumer) (*chain.Runtime, *Token) {
	t.Helper()
	rt := chain.New(chain.Config{Logger: slog.Default()})
	token := New(Config{
		Account: tokenAccount,
		Owner:   ownerAccount,
		InitialBalances: map[domain.AccountID]domain.Amount{
			alice: domain.NewAmount(1_000_000),
			bob:   domain.NewAmount(500_000),
		},
	})
	require.NoError(t, rt.Register(token))
	if c != nil {
		require.NoError(t, rt.Register(c))
	}
	return rt, token
}

func balanceOf(t *testing.T, rt *chain.Runtime, account domain.AccountID) domain.Amount {
	t.Helper()
	raw, err := rt.View(context.Background(), tokenAccount, MethodBalanceOf, balanceOfArgs{AccountID: account})
	require.NoError(t, err)
	var out domain.Amount
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestTransferMovesBalance(t *testing.T) {
	rt, _ := setup(t, nil)

	_, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransfer,
		transferArgs{ReceiverID: bob, Amount: domain.NewAmount(300_000)})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(700_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(800_000), balanceOf(t, rt, bob))
}

func TestTransferInsufficientBalance(t *testing.T) {
	rt, _ := setup(t, nil)

	_, err := rt.Submit(context.Background(), bob, tokenAccount, MethodTransfer,
		transferArgs{ReceiverID: alice, Amount: domain.NewAmount(500_001)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	assert.Equal(t, domain.NewAmount(1_000_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(500_000), balanceOf(t, rt, bob))
}

func TestTransferRejectsZeroAndSelf(t *testing.T) {
	rt, _ := setup(t, nil)

	_, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransfer,
		transferArgs{ReceiverID: bob, Amount: domain.Amount{}})
	require.Error(t, err)

	_, err = rt.Submit(context.Background(), alice, tokenAccount, MethodTransfer,
		transferArgs{ReceiverID: alice, Amount: domain.NewAmount(1)})
	require.Error(t, err)
}

func TestTransferCallFullyConsumed(t *testing.T) {
	c := &consumer{unused: func(domain.Amount) (domain.Amount, error) {
		return domain.Amount{}, nil
	}}
	rt, _ := setup(t, c)

	outcome, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransferCall,
		transferArgs{ReceiverID: appAccount, Amount: domain.NewAmount(250_000), Msg: `{"hello":1}`})
	require.NoError(t, err)
	assert.JSONEq(t, `"250000"`, string(outcome.Value), "ft_transfer_call resolves to the used amount")

	assert.Equal(t, domain.NewAmount(750_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(250_000), balanceOf(t, rt, appAccount))
}

func TestTransferCallPartialRefund(t *testing.T) {
	c := &consumer{unused: func(amount domain.Amount) (domain.Amount, error) {
		return domain.NewAmount(100_000), nil
	}}
	rt, _ := setup(t, c)

	_, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransferCall,
		transferArgs{ReceiverID: appAccount, Amount: domain.NewAmount(250_000)})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(850_000), balanceOf(t, rt, alice))
	assert.Equal(t, domain.NewAmount(150_000), balanceOf(t, rt, appAccount))
}

func TestTransferCallReceiverFailureRefundsAll(t *testing.T) {
	c := &consumer{unused: func(domain.Amount) (domain.Amount, error) {
		return domain.Amount{}, errors.New("rejected")
	}}
	rt, _ := setup(t, c)

	outcome, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransferCall,
		transferArgs{ReceiverID: appAccount, Amount: domain.NewAmount(250_000)})
	require.NoError(t, err, "the transfer itself succeeds; the action inside failed")
	require.NotEmpty(t, outcome.Failures)
	assert.JSONEq(t, `"0"`, string(outcome.Value), "nothing was consumed")

	assert.Equal(t, domain.NewAmount(1_000_000), balanceOf(t, rt, alice))
	assert.True(t, balanceOf(t, rt, appAccount).IsZero())
}

func TestTransferCallUnusedCappedAtDeposit(t *testing.T) {
	// A buggy receiver reporting more unused than it got refunds at most
	// the deposit.
	c := &consumer{unused: func(domain.Amount) (domain.Amount, error) {
		return domain.NewAmount(9_999_999), nil
	}}
	rt, _ := setup(t, c)

	_, err := rt.Submit(context.Background(), alice, tokenAccount, MethodTransferCall,
		transferArgs{ReceiverID: appAccount, Amount: domain.NewAmount(250_000)})
	require.NoError(t, err)

	assert.Equal(t, domain.NewAmount(1_000_000), balanceOf(t, rt, alice))
	assert.True(t, balanceOf(t, rt, appAccount).IsZero())
}

func TestMintOwnerOnly(t *testing.T) {
	rt, _ := setup(t, nil)

	_, err := rt.Submit(context.Background(), ownerAccount, tokenAccount, MethodMint,
		mintArgs{AccountID: bob, Amount: domain.NewAmount(42)})
	require.NoError(t, err)
	assert.Equal(t, domain.NewAmount(500_042), balanceOf(t, rt, bob))

	_, err = rt.Submit(context.Background(), alice, tokenAccount, MethodMint,
		mintArgs{AccountID: alice, Amount: domain.NewAmount(42)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestTotalSupplyTracksGenesisAndMint(t *testing.T) {
	rt, _ := setup(t, nil)

	raw, err := rt.View(context.Background(), tokenAccount, MethodTotalSupply, nil)
	require.NoError(t, err)
	var supply domain.Amount
	require.NoError(t, json.Unmarshal(raw, &supply))
	assert.Equal(t, domain.NewAmount(1_500_000), supply)

	_, err = rt.Submit(context.Background(), ownerAccount, tokenAccount, MethodMint,
		mintArgs{AccountID: alice, Amount: domain.NewAmount(500_000)})
	require.NoError(t, err)

	raw, err = rt.View(context.Background(), tokenAccount, MethodTotalSupply, nil)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &supply))
	assert.Equal(t, domain.NewAmount(2_000_000), supply)
}

func TestResolveTransferIsPrivate(t *testing.T) {
	rt, _ := setup(t, nil)

	_, err := rt.Submit(context.Background(), alice, tokenAccount, MethodResolveTransfer,
		resolveArgs{SenderID: alice, ReceiverID: bob, Amount: domain.NewAmount(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private")
}
