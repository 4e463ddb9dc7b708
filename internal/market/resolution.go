package market

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/crypto"
	"github.com/nest-markets/nestd/internal/domain"
)

type resolutionSubmittedArgs struct {
	MarketID    domain.MarketID     `json:"market_id"`
	Outcome     domain.Outcome      `json:"outcome"`
	Resolver    domain.AccountID    `json:"resolver"`
	AssertionID string              `json:"assertion_id"`
	Bond        domain.Amount       `json:"bond"`
	PrevStatus  domain.MarketStatus `json:"prev_status"`
}

type resolvedCallbackArgs struct {
	AssertionID        string `json:"assertion_id"`
	AssertedTruthfully bool   `json:"asserted_truthfully"`
}

type disputedCallbackArgs struct {
	AssertionID string           `json:"assertion_id"`
	Disputer    domain.AccountID `json:"disputer"`
}

// submitResolution escrows the deposit as an assertion bond and forwards it
// to the oracle. The market moves to Resolving speculatively; the forward
// call's callback either commits the assertion or rolls the market back and
// releases the bond to the resolver.
func (e *Engine) submitResolution(env *chain.Env, resolver domain.AccountID, bond domain.Amount, action domain.SubmitResolutionAction) (any, error) {
	m, err := e.market(action.MarketID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusOpen && m.Status != domain.StatusClosed {
		return nil, fmt.Errorf("market: resolution from %s: %w", m.Status, domain.ErrInvalidStatus)
	}
	if env.BlockTimestampNS() < m.ResolutionTimeNS {
		return nil, fmt.Errorf("market: %w", domain.ErrDeadlineNotReached)
	}

	claim := crypto.ClaimHex(m.ID, action.Outcome, m.Question)
	now := env.BlockTimestampNS()
	prev := m.Status

	next := m.Clone()
	next.Status = domain.StatusResolving
	outcome := action.Outcome
	next.AssertedOutcome = &outcome
	next.Resolver = resolver
	next.AssertionID = claim
	next.AssertionSubmittedAtNS = now
	next.AssertionExpiresAtNS = now + e.assertionLivenessNS
	e.markets[m.ID] = next
	e.assertionToMarket[claim] = m.ID

	msg, err := json.Marshal(domain.OracleAction{
		Kind: domain.OracleActionAssertTruth,
		AssertTruth: &domain.AssertTruthAction{
			Claim:             claim,
			Asserter:          resolver,
			CallbackRecipient: e.account,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("market: encode assertion: %w", err)
	}

	return env.Call(e.collateral, methodFtTransferCall, ftTransferCallArgs{
		ReceiverID: e.oracle,
		Amount:     bond,
		Msg:        string(msg),
	}).Then(methodOnResolutionSubmitted, resolutionSubmittedArgs{
		MarketID:    m.ID,
		Outcome:     action.Outcome,
		Resolver:    resolver,
		AssertionID: claim,
		Bond:        bond,
		PrevStatus:  prev,
	}), nil
}

// onResolutionSubmitted reconciles the speculative Resolving transition. The
// promise result is the amount of the bond the oracle consumed; zero or a
// failed forward means the assertion never took, so the prior status is
// restored and the full bond is reported unconsumed, refunding the resolver.
func (e *Engine) onResolutionSubmitted(env *chain.Env, a resolutionSubmittedArgs) (any, error) {
	if env.Predecessor() != e.account {
		return nil, fmt.Errorf("market: on_resolution_submitted is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("market: on_resolution_submitted expects one promise result, got %d", len(results))
	}

	var used domain.Amount
	accepted := results[0].OK
	if accepted {
		if err := json.Unmarshal(results[0].Value, &used); err != nil {
			accepted = false
		}
	}

	if !accepted || used.IsZero() {
		if m, ok := e.markets[a.MarketID]; ok {
			next := m.Clone()
			next.Status = a.PrevStatus
			next.AssertedOutcome = nil
			next.Resolver = ""
			next.AssertionID = ""
			next.AssertionSubmittedAtNS = 0
			next.AssertionExpiresAtNS = 0
			e.markets[m.ID] = next
		}
		delete(e.assertionToMarket, a.AssertionID)

		e.logger.Warn("assertion rejected by oracle, market rolled back",
			slog.Uint64("market_id", uint64(a.MarketID)),
			slog.String("resolver", string(a.Resolver)),
			slog.String("error", results[0].Err))
		return a.Bond, nil
	}

	env.Emit(domain.ResolutionSubmittedData{
		MarketID:    a.MarketID,
		Outcome:     a.Outcome,
		Resolver:    a.Resolver,
		AssertionID: a.AssertionID,
	})

	e.logger.Info("resolution submitted",
		slog.Uint64("market_id", uint64(a.MarketID)),
		slog.String("outcome", a.Outcome.String()),
		slog.String("resolver", string(a.Resolver)),
		slog.String("assertion_id", a.AssertionID))

	// Bond fully consumed.
	return domain.Amount{}, nil
}

// assertionResolved applies the oracle's verdict. A truthful assertion
// settles the market on the asserted outcome; a false one returns it to
// Closed with the assertion discarded, eligible for a fresh submission.
func (e *Engine) assertionResolved(env *chain.Env, a resolvedCallbackArgs) error {
	if env.Predecessor() != e.oracle {
		return fmt.Errorf("market: assertion_resolved_callback requires oracle: %w", domain.ErrUnauthorized)
	}
	id, ok := e.assertionToMarket[a.AssertionID]
	if !ok {
		return fmt.Errorf("market: assertion %s: %w", a.AssertionID, domain.ErrAssertionNotFound)
	}
	m, err := e.market(id)
	if err != nil {
		return err
	}
	if m.Status != domain.StatusResolving && m.Status != domain.StatusDisputed {
		return fmt.Errorf("market: resolved callback in %s: %w", m.Status, domain.ErrInvalidStatus)
	}
	if m.AssertedOutcome == nil {
		return fmt.Errorf("market: id %d has no asserted outcome: %w", id, domain.ErrInvalidStatus)
	}

	next := m.Clone()
	if a.AssertedTruthfully {
		outcome := *m.AssertedOutcome
		next.Outcome = &outcome
		next.Status = domain.StatusSettled
		e.markets[id] = next

		env.Emit(domain.MarketSettledData{MarketID: id, Outcome: outcome})
		e.logger.Info("market settled",
			slog.Uint64("market_id", uint64(id)),
			slog.String("outcome", outcome.String()))
		return nil
	}

	next.Status = domain.StatusClosed
	next.AssertedOutcome = nil
	next.Resolver = ""
	next.Disputer = ""
	next.AssertionID = ""
	next.AssertionSubmittedAtNS = 0
	next.AssertionExpiresAtNS = 0
	e.markets[id] = next
	delete(e.assertionToMarket, a.AssertionID)

	e.logger.Info("assertion rejected, market closed for retry",
		slog.Uint64("market_id", uint64(id)))
	return nil
}

// assertionDisputed marks the in-flight assertion as contested. The market
// stays frozen until the oracle's resolved callback delivers the verdict.
func (e *Engine) assertionDisputed(env *chain.Env, a disputedCallbackArgs) error {
	if env.Predecessor() != e.oracle {
		return fmt.Errorf("market: assertion_disputed_callback requires oracle: %w", domain.ErrUnauthorized)
	}
	id, ok := e.assertionToMarket[a.AssertionID]
	if !ok {
		return fmt.Errorf("market: assertion %s: %w", a.AssertionID, domain.ErrAssertionNotFound)
	}
	m, err := e.market(id)
	if err != nil {
		return err
	}
	if m.Status != domain.StatusResolving {
		return fmt.Errorf("market: disputed callback in %s: %w", m.Status, domain.ErrInvalidStatus)
	}

	next := m.Clone()
	next.Status = domain.StatusDisputed
	next.Disputer = a.Disputer
	e.markets[id] = next

	env.Emit(domain.MarketDisputedData{
		MarketID:    id,
		AssertionID: a.AssertionID,
		Disputer:    a.Disputer,
	})

	e.logger.Info("market disputed",
		slog.Uint64("market_id", uint64(id)),
		slog.String("disputer", string(a.Disputer)))
	return nil
}
