package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

type fakeAdmin struct {
	faucet  func(to domain.AccountID, amount domain.Amount) (*chain.TxOutcome, error)
	balance func(account domain.AccountID) (domain.Amount, error)
	settle  func(claim string, truthfully bool) (*chain.TxOutcome, error)
	dispute func(account domain.AccountID, bond domain.Amount, claim string) (*chain.TxOutcome, error)
}

func (f *fakeAdmin) Faucet(_ context.Context, to domain.AccountID, amount domain.Amount) (*chain.TxOutcome, error) {
	return f.faucet(to, amount)
}

func (f *fakeAdmin) Balance(_ context.Context, account domain.AccountID) (domain.Amount, error) {
	return f.balance(account)
}

func (f *fakeAdmin) SettleAssertion(_ context.Context, claim string, truthfully bool) (*chain.TxOutcome, error) {
	return f.settle(claim, truthfully)
}

func (f *fakeAdmin) DisputeAssertion(_ context.Context, account domain.AccountID, bond domain.Amount, claim string) (*chain.TxOutcome, error) {
	return f.dispute(account, bond, claim)
}

func TestFaucetMintsAndReportsBalance(t *testing.T) {
	admin := &fakeAdmin{
		faucet: func(to domain.AccountID, amount domain.Amount) (*chain.TxOutcome, error) {
			assert.Equal(t, domain.AccountID("alice.devnet"), to)
			assert.Equal(t, "1000000", amount.String())
			return &chain.TxOutcome{TransactionID: "tx-9", BlockHeight: 4}, nil
		},
		balance: func(account domain.AccountID) (domain.Amount, error) {
			return domain.NewAmount(2_500_000), nil
		},
	}
	h := NewAdminHandler(admin, testLogger(t))

	rec := postJSON(t, h.Faucet, `{"account":"alice.devnet","amount":"1000000"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp faucetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tx-9", resp.TransactionID)
	assert.Equal(t, "1000000", resp.Minted.String())
	assert.Equal(t, "2500000", resp.Balance.String())
}

func TestFaucetValidates(t *testing.T) {
	h := NewAdminHandler(&fakeAdmin{}, testLogger(t))

	rec := postJSON(t, h.Faucet, `{"amount":"1000000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.Faucet, `{"account":"alice.devnet","amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleForwardsVerdict(t *testing.T) {
	var gotClaim string
	var gotTruthfully bool
	admin := &fakeAdmin{
		settle: func(claim string, truthfully bool) (*chain.TxOutcome, error) {
			gotClaim = claim
			gotTruthfully = truthfully
			return &chain.TxOutcome{TransactionID: "tx-10", BlockHeight: 5}, nil
		},
	}
	h := NewAdminHandler(admin, testLogger(t))

	rec := postJSON(t, h.SettleAssertion, `{"claim":"0xabc","asserted_truthfully":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", gotClaim)
	assert.True(t, gotTruthfully)
}

func TestSettleRequiresClaim(t *testing.T) {
	h := NewAdminHandler(&fakeAdmin{}, testLogger(t))

	rec := postJSON(t, h.SettleAssertion, `{"asserted_truthfully":true}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleMapsUnknownAssertion(t *testing.T) {
	admin := &fakeAdmin{
		settle: func(_ string, _ bool) (*chain.TxOutcome, error) {
			return nil, flattened("oracle.devnet", "settle", domain.ErrAssertionNotFound)
		},
	}
	h := NewAdminHandler(admin, testLogger(t))

	rec := postJSON(t, h.SettleAssertion, `{"claim":"0xdead","asserted_truthfully":false}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisputeValidatesBond(t *testing.T) {
	h := NewAdminHandler(&fakeAdmin{}, testLogger(t))

	rec := postJSON(t, h.DisputeAssertion, `{"account":"bob.devnet","bond":"0","claim":"0xabc"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeSubmitsBondedChallenge(t *testing.T) {
	admin := &fakeAdmin{
		dispute: func(account domain.AccountID, bond domain.Amount, claim string) (*chain.TxOutcome, error) {
			assert.Equal(t, domain.AccountID("bob.devnet"), account)
			assert.Equal(t, "500", bond.String())
			assert.Equal(t, "0xabc", claim)
			return &chain.TxOutcome{TransactionID: "tx-11", BlockHeight: 6}, nil
		},
	}
	h := NewAdminHandler(admin, testLogger(t))

	rec := postJSON(t, h.DisputeAssertion, `{"account":"bob.devnet","bond":"500","claim":"0xabc"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}
