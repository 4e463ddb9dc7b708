// Package oracle implements the devnet optimistic-oracle stand-in. It
// escrows assertion and dispute bonds arriving as collateral transfers,
// lets an admin settle assertions, and drives the market's resolution
// callbacks. Bonds pay out to the winning side on settlement.
package oracle

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/domain"
)

// Method names accepted by the oracle component.
const (
	MethodOnTransfer   = "ft_on_transfer"
	MethodSettle       = "settle_assertion"
	MethodGetAssertion = "get_assertion"

	methodDisputeForwarded = "on_dispute_forwarded"

	// Methods the oracle invokes on the callback recipient.
	methodResolvedCallback = "assertion_resolved_callback"
	methodDisputedCallback = "assertion_disputed_callback"

	methodFtTransfer = "ft_transfer"
)

// Config wires an Oracle.
type Config struct {
	Account domain.AccountID
	// Admin may settle assertions; forfeited bonds land here.
	Admin domain.AccountID
	// Collateral is the token account bonds arrive from and pay out on.
	Collateral domain.AccountID
	Logger     *slog.Logger
}

type assertionState struct {
	Claim             string
	Asserter          domain.AccountID
	CallbackRecipient domain.AccountID
	Bond              domain.Amount
	Disputer          domain.AccountID
	DisputeBond       domain.Amount
	AssertedAtNS      domain.NanoTime
}

// Oracle is the oracle component. Assertions are keyed by claim hex; a
// settled claim is removed so a Closed market can retry the same claim.
type Oracle struct {
	account    domain.AccountID
	admin      domain.AccountID
	collateral domain.AccountID
	logger     *slog.Logger

	assertions map[string]*assertionState
}

// New creates the oracle.
func New(cfg Config) *Oracle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{
		account:    cfg.Account,
		admin:      cfg.Admin,
		collateral: cfg.Collateral,
		logger:     logger.With(slog.String("component", "oracle")),
		assertions: make(map[string]*assertionState),
	}
}

// Account implements chain.Component.
func (o *Oracle) Account() domain.AccountID { return o.account }

type onTransferArgs struct {
	SenderID domain.AccountID `json:"sender_id"`
	Amount   domain.Amount    `json:"amount"`
	Msg      string           `json:"msg"`
}

type disputeForwardedArgs struct {
	Claim  string        `json:"claim"`
	Amount domain.Amount `json:"amount"`
}

// SettleArgs is the admin settlement request.
type SettleArgs struct {
	Claim              string `json:"claim"`
	AssertedTruthfully bool   `json:"asserted_truthfully"`
}

type getAssertionArgs struct {
	Claim string `json:"claim"`
}

// AssertionView is the read-model of one open assertion.
type AssertionView struct {
	Claim             string           `json:"claim"`
	Asserter          domain.AccountID `json:"asserter"`
	CallbackRecipient domain.AccountID `json:"callback_recipient"`
	Bond              domain.Amount    `json:"bond"`
	Disputed          bool             `json:"disputed"`
	Disputer          domain.AccountID `json:"disputer,omitempty"`
	DisputeBond       domain.Amount    `json:"dispute_bond"`
	AssertedAtNS      domain.NanoTime  `json:"asserted_at_ns"`
}

type resolvedCallbackArgs struct {
	AssertionID        string `json:"assertion_id"`
	AssertedTruthfully bool   `json:"asserted_truthfully"`
}

type disputedCallbackArgs struct {
	AssertionID string           `json:"assertion_id"`
	Disputer    domain.AccountID `json:"disputer"`
}

type ftTransferArgs struct {
	ReceiverID domain.AccountID `json:"receiver_id"`
	Amount     domain.Amount    `json:"amount"`
}

// HandleCall implements chain.Component.
func (o *Oracle) HandleCall(env *chain.Env, method string, args json.RawMessage) (any, error) {
	switch method {
	case MethodOnTransfer:
		var a onTransferArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("oracle: decode ft_on_transfer: %w", err)
		}
		return o.onTransfer(env, a)

	case methodDisputeForwarded:
		var a disputeForwardedArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("oracle: decode on_dispute_forwarded: %w", err)
		}
		return o.disputeForwarded(env, a)

	case MethodSettle:
		var a SettleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("oracle: decode settle_assertion: %w", err)
		}
		return nil, o.settle(env, a)

	case MethodGetAssertion:
		var a getAssertionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("oracle: decode get_assertion: %w", err)
		}
		st, ok := o.assertions[a.Claim]
		if !ok {
			return nil, fmt.Errorf("oracle: claim %s: %w", a.Claim, domain.ErrAssertionNotFound)
		}
		return AssertionView{
			Claim:             st.Claim,
			Asserter:          st.Asserter,
			CallbackRecipient: st.CallbackRecipient,
			Bond:              st.Bond,
			Disputed:          st.Disputer != "",
			Disputer:          st.Disputer,
			DisputeBond:       st.DisputeBond,
			AssertedAtNS:      st.AssertedAtNS,
		}, nil
	}
	return nil, fmt.Errorf("oracle: %s: %w", method, domain.ErrUnknownMethod)
}

// onTransfer routes bonded oracle actions. A rejection returns an error so
// the collateral resolve refunds the full bond.
func (o *Oracle) onTransfer(env *chain.Env, a onTransferArgs) (any, error) {
	if env.Predecessor() != o.collateral {
		return nil, fmt.Errorf("oracle: deposits must come from %s: %w", o.collateral, domain.ErrUnauthorized)
	}
	if a.Amount.IsZero() {
		return nil, fmt.Errorf("oracle: bond: %w", domain.ErrInvalidAmount)
	}

	action, err := domain.ParseOracleAction([]byte(a.Msg))
	if err != nil {
		return nil, err
	}

	switch action.Kind {
	case domain.OracleActionAssertTruth:
		return o.assertTruth(env, a, *action.AssertTruth)
	case domain.OracleActionDispute:
		return o.dispute(env, a, *action.Dispute)
	}
	return nil, fmt.Errorf("oracle: action %q: %w", action.Kind, domain.ErrInvalidAction)
}

func (o *Oracle) assertTruth(env *chain.Env, a onTransferArgs, action domain.AssertTruthAction) (any, error) {
	if _, exists := o.assertions[action.Claim]; exists {
		return nil, fmt.Errorf("oracle: claim %s already asserted: %w", action.Claim, domain.ErrInvalidAction)
	}
	o.assertions[action.Claim] = &assertionState{
		Claim:             action.Claim,
		Asserter:          action.Asserter,
		CallbackRecipient: action.CallbackRecipient,
		Bond:              a.Amount,
		AssertedAtNS:      env.BlockTimestampNS(),
	}
	o.logger.Info("assertion bonded",
		slog.String("claim", action.Claim),
		slog.String("asserter", string(action.Asserter)),
		slog.String("bond", a.Amount.String()))

	// Bond fully consumed.
	return domain.Amount{}, nil
}

// dispute escrows the dispute bond and notifies the market. The result is
// deferred to on_dispute_forwarded so a failed market callback refunds the
// bond through the normal unconsumed-amount path.
func (o *Oracle) dispute(env *chain.Env, a onTransferArgs, action domain.DisputeAssertionAction) (any, error) {
	st, ok := o.assertions[action.Claim]
	if !ok {
		return nil, fmt.Errorf("oracle: claim %s: %w", action.Claim, domain.ErrAssertionNotFound)
	}
	if st.Disputer != "" {
		return nil, fmt.Errorf("oracle: claim %s already disputed: %w", action.Claim, domain.ErrInvalidAction)
	}
	st.Disputer = a.SenderID
	st.DisputeBond = a.Amount

	return env.Call(st.CallbackRecipient, methodDisputedCallback, disputedCallbackArgs{
		AssertionID: st.Claim,
		Disputer:    a.SenderID,
	}).Then(methodDisputeForwarded, disputeForwardedArgs{
		Claim:  st.Claim,
		Amount: a.Amount,
	}), nil
}

func (o *Oracle) disputeForwarded(env *chain.Env, a disputeForwardedArgs) (any, error) {
	if env.Predecessor() != o.account {
		return nil, fmt.Errorf("oracle: on_dispute_forwarded is private: %w", domain.ErrUnauthorized)
	}
	results := env.Results()
	if len(results) != 1 {
		return nil, fmt.Errorf("oracle: on_dispute_forwarded expects one promise result, got %d", len(results))
	}

	if results[0].OK {
		// Dispute stands, bond stays escrowed.
		return domain.Amount{}, nil
	}

	if st, ok := o.assertions[a.Claim]; ok {
		st.Disputer = ""
		st.DisputeBond = domain.Amount{}
	}
	o.logger.Warn("dispute callback failed, refunding bond",
		slog.String("claim", a.Claim),
		slog.String("error", results[0].Err))
	return a.Amount, nil
}

// settle closes an assertion: the market learns the verdict through its
// resolution callback and the bond pool pays the winning side. A false
// verdict with no disputer forfeits the bond to the admin.
func (o *Oracle) settle(env *chain.Env, a SettleArgs) error {
	if env.Predecessor() != o.admin {
		return fmt.Errorf("oracle: settle_assertion requires admin: %w", domain.ErrUnauthorized)
	}
	st, ok := o.assertions[a.Claim]
	if !ok {
		return fmt.Errorf("oracle: claim %s: %w", a.Claim, domain.ErrAssertionNotFound)
	}
	delete(o.assertions, a.Claim)

	env.Call(st.CallbackRecipient, methodResolvedCallback, resolvedCallbackArgs{
		AssertionID:        st.Claim,
		AssertedTruthfully: a.AssertedTruthfully,
	})

	pool := st.Bond.Add(st.DisputeBond)
	winner := st.Asserter
	if !a.AssertedTruthfully {
		winner = st.Disputer
		if winner == "" {
			winner = o.admin
		}
	}
	if !pool.IsZero() {
		env.Call(o.collateral, methodFtTransfer, ftTransferArgs{
			ReceiverID: winner,
			Amount:     pool,
		})
	}

	o.logger.Info("assertion settled",
		slog.String("claim", a.Claim),
		slog.Bool("truthful", a.AssertedTruthfully),
		slog.String("winner", string(winner)),
		slog.String("payout", pool.String()))
	return nil
}
