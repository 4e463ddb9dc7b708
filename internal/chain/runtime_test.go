package chain

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nest-markets/nestd/internal/domain"
)

// probe is a scriptable component used to exercise the runtime.
type probe struct {
	account domain.AccountID
	handle  func(env *Env, method string, args json.RawMessage) (any, error)
	calls   []string
}

func (p *probe) Account() domain.AccountID { return p.account }

func (p *probe) HandleCall(env *Env, method string, args json.RawMessage) (any, error) {
	p.calls = append(p.calls, method)
	return p.handle(env, method, args)
}

func newTestRuntime(t *testing.T) (*Runtime, *MemorySink) {
	t.Helper()
	sink := NewMemorySink()
	rt := New(Config{
		Logger: slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})),
		Sink:   sink,
		Now:    func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	return rt, sink
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSubmitRunsReceiptsFIFO(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var order []string
	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		order = append(order, "a."+method)
		if method == "start" {
			// Both calls are staged before either runs.
			env.Call("b.devnet", "first", nil)
			env.Call("b.devnet", "second", nil)
		}
		return nil, nil
	}
	b.handle = func(_ *Env, method string, _ json.RawMessage) (any, error) {
		order = append(order, "b."+method)
		return nil, nil
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	_, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.start", "b.first", "b.second"}, order)
}

func TestCallbackReceivesPromiseResults(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	var got []PromiseResult
	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		switch method {
		case "start":
			ok := env.Call("b.devnet", "ok", nil)
			bad := env.Call("b.devnet", "bad", nil)
			ok.And(bad).Then("reconcile", nil)
			return nil, nil
		case "reconcile":
			require.Equal(t, env.Account(), env.Predecessor(), "callbacks are private")
			got = append([]PromiseResult{}, env.Results()...)
			return nil, nil
		}
		return nil, errors.New("unexpected method")
	}
	b.handle = func(_ *Env, method string, _ json.RawMessage) (any, error) {
		if method == "bad" {
			return nil, errors.New("boom")
		}
		return "fine", nil
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	_, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].OK)
	assert.JSONEq(t, `"fine"`, string(got[0].Value))
	assert.False(t, got[1].OK)
	assert.Contains(t, got[1].Err, "boom")
}

func TestPanicBecomesFailedResult(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	var result PromiseResult
	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		switch method {
		case "start":
			env.Call("b.devnet", "explode", nil).Then("after", nil)
			return nil, nil
		case "after":
			result = env.Results()[0]
			return nil, nil
		}
		return nil, nil
	}
	b.handle = func(_ *Env, _ string, _ json.RawMessage) (any, error) {
		panic("amount overflow")
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	outcome, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err, "a poisoned receipt must not fail the transaction root")
	assert.False(t, result.OK)
	assert.Contains(t, result.Err, "amount overflow")
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "explode", outcome.Failures[0].Method)
}

func TestFailedReceiptCommitsNothing(t *testing.T) {
	rt, sink := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		env.Emit(domain.MarketSettledData{MarketID: 7, Outcome: domain.OutcomeYes})
		env.Call("b.devnet", "never", nil)
		return nil, errors.New("validation failed")
	}
	b.handle = func(_ *Env, _ string, _ json.RawMessage) (any, error) {
		return nil, nil
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	_, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.Error(t, err)
	assert.Empty(t, sink.Records(), "events of a failed receipt are discarded")
	assert.Empty(t, b.calls, "calls staged by a failed receipt never run")
}

func TestEmitWrapsEnvelope(t *testing.T) {
	rt, sink := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	a.handle = func(env *Env, _ string, _ json.RawMessage) (any, error) {
		env.Emit(domain.MarketSettledData{MarketID: 3, Outcome: domain.OutcomeNo})
		return nil, nil
	}
	require.NoError(t, rt.Register(a))

	outcome, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "go", nil)
	require.NoError(t, err)

	recs := sink.Records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, domain.EventStandard, rec.Standard)
	assert.Equal(t, domain.EventStandardVersion, rec.Version)
	assert.Equal(t, domain.EventMarketSettled, rec.Event)
	assert.Equal(t, domain.MarketID(3), rec.MarketID)
	assert.Equal(t, outcome.TransactionID, rec.TransactionID)
	assert.NotEmpty(t, rec.ReceiptID)
	assert.Equal(t, uint64(1), rec.BlockHeight)
	assert.Equal(t, domain.NanoTime(1_700_000_000*uint64(time.Second)), rec.BlockTimestampNS)

	var settled domain.MarketSettledData
	require.NoError(t, json.Unmarshal(rec.Payload(), &settled))
	assert.Equal(t, domain.OutcomeNo, settled.Outcome)
}

func TestViewCannotMutate(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		if method == "peek" {
			return map[string]int{"n": 42}, nil
		}
		env.Call("a.devnet", "peek", nil)
		return nil, nil
	}
	require.NoError(t, rt.Register(a))

	raw, err := rt.View(context.Background(), "a.devnet", "peek", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":42}`, string(raw))

	// Scheduling from a view is a programming error surfaced as a failure.
	_, err = rt.View(context.Background(), "a.devnet", "mutate", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "view call cannot schedule")
}

func TestReturnedPromiseDefersResult(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		// The call's result becomes b.work's result, not nil.
		return env.Call("b.devnet", "work", nil), nil
	}
	b.handle = func(_ *Env, _ string, _ json.RawMessage) (any, error) {
		return 99, nil
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	outcome, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `99`, string(outcome.Value))
}

func TestDeferredFailurePropagatesToDependents(t *testing.T) {
	rt, _ := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	b := &probe{account: "b.devnet"}

	var got PromiseResult
	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		switch method {
		case "start":
			env.Call("b.devnet", "forward", nil).Then("after", nil)
			return nil, nil
		case "after":
			got = env.Results()[0]
			return nil, nil
		}
		return nil, nil
	}
	b.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		if method == "forward" {
			return env.Call("b.devnet", "inner", nil), nil
		}
		return nil, errors.New("inner failed")
	}

	require.NoError(t, rt.Register(a))
	require.NoError(t, rt.Register(b))

	_, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err)
	assert.False(t, got.OK, "a callback on a deferred call sees the eventual result")
	assert.Contains(t, got.Err, "inner failed")
}

func TestSubmitToUnknownAccountFails(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.Submit(context.Background(), "user.devnet", "ghost.devnet", "anything", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown account")
}

func TestHeightAdvancesPerReceipt(t *testing.T) {
	rt, sink := newTestRuntime(t)

	a := &probe{account: "a.devnet"}
	a.handle = func(env *Env, method string, _ json.RawMessage) (any, error) {
		env.Emit(domain.MarketSettledData{MarketID: 1, Outcome: domain.OutcomeYes})
		if method == "start" {
			env.Call("a.devnet", "next", nil)
		}
		return nil, nil
	}
	require.NoError(t, rt.Register(a))

	_, err := rt.Submit(context.Background(), "user.devnet", "a.devnet", "start", nil)
	require.NoError(t, err)

	recs := sink.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, recs[0].BlockHeight+1, recs[1].BlockHeight)
	assert.NotEqual(t, recs[0].ReceiptID, recs[1].ReceiptID)
	assert.Equal(t, recs[0].TransactionID, recs[1].TransactionID)
}
