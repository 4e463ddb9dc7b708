// Package chain implements the single-process message-passing host the
// protocol components run on. Components are addressable by account id and
// communicate only through asynchronous calls (receipts) executed FIFO, one
// at a time. Atomicity is per receipt: a handler that returns an error (or
// panics) commits no scheduled calls and no events, and its failure is
// delivered as a promise result to whatever callback depends on it. There
// is no cross-receipt rollback; components reconcile multi-step flows in
// their own callbacks.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nest-markets/nestd/internal/domain"
)

// Component is a protocol participant registered on the runtime.
type Component interface {
	Account() domain.AccountID
	HandleCall(env *Env, method string, args json.RawMessage) (any, error)
}

// Config wires a Runtime.
type Config struct {
	Logger *slog.Logger
	Sink   EventSink
	// Now overrides the block clock, for tests.
	Now func() time.Time
}

// Runtime owns the receipt queue and the registered components.
type Runtime struct {
	mu         sync.Mutex
	components map[domain.AccountID]Component
	queue      []*Receipt

	height    uint64
	blockTime domain.NanoTime
	now       func() time.Time

	logger *slog.Logger
	sink   EventSink

	// Per-drain bookkeeping, valid only while Submit holds the mutex.
	cur     *TxOutcome
	curRoot *Receipt
}

// New creates an empty runtime.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NewMemorySink()
	}
	return &Runtime{
		components: make(map[domain.AccountID]Component),
		now:        now,
		logger:     logger.With(slog.String("component", "chain_runtime")),
		sink:       sink,
	}
}

// Register adds a component under its account id.
func (rt *Runtime) Register(c Component) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	id := c.Account()
	if _, exists := rt.components[id]; exists {
		return fmt.Errorf("chain: account %s already registered", id)
	}
	rt.components[id] = c
	return nil
}

// ReceiptFailure describes one non-root receipt that failed while a
// transaction drained. Failures are reconciled on-chain by callbacks; they
// are reported here so gateways can tell callers what actually happened.
type ReceiptFailure struct {
	Receiver domain.AccountID `json:"receiver"`
	Method   string           `json:"method"`
	Err      string           `json:"error"`
}

// TxOutcome is the observable result of one submitted transaction: the root
// call's return value plus everything that committed while the receipt
// queue drained.
type TxOutcome struct {
	TransactionID string
	BlockHeight   uint64
	Value         json.RawMessage
	Events        []domain.EventRecord
	Failures      []ReceiptFailure
}

// Submit executes one signed transaction: the root call plus every receipt
// it transitively schedules, in FIFO order. It returns an error only when
// the root call itself fails; downstream failures surface in the outcome.
func (rt *Runtime) Submit(ctx context.Context, signer, receiver domain.AccountID, method string, args any) (*TxOutcome, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal args for %s.%s: %w", receiver, method, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	root := &Receipt{
		ID:          rt.newID(),
		TxID:        rt.newID(),
		Predecessor: signer,
		Receiver:    receiver,
		Method:      method,
		Args:        raw,
	}
	rt.queue = append(rt.queue, root)

	outcome := &TxOutcome{TransactionID: root.TxID}
	rt.cur, rt.curRoot = outcome, root
	defer func() { rt.cur, rt.curRoot = nil, nil }()

	for len(rt.queue) > 0 {
		rc := rt.queue[0]
		rt.queue = rt.queue[1:]

		rt.height++
		rt.blockTime = domain.NanoTime(rt.now().UnixNano())
		if rc == root {
			outcome.BlockHeight = rt.height
		}

		rt.step(ctx, rc)
	}

	if !root.result.OK {
		return outcome, fmt.Errorf("chain: %s.%s: %s", receiver, method, root.result.Err)
	}
	outcome.Value = root.result.Value
	return outcome, nil
}

// step executes one receipt. On success its staged calls and events commit;
// a handler that returned a promise defers its result to that promise, so
// dependents see the eventual value instead of the scheduling acknowledgment
// (transfer-with-callback resolves to the consumed amount this way).
func (rt *Runtime) step(ctx context.Context, rc *Receipt) {
	env := &Env{ctx: ctx, rt: rt, receipt: rc}
	value, failure := rt.dispatch(env)
	if failure != "" {
		rt.logger.Warn("receipt failed",
			slog.String("receiver", string(rc.Receiver)),
			slog.String("method", rc.Method),
			slog.String("error", failure))
		rt.complete(rc, PromiseResult{Err: failure})
		return
	}

	rt.logger.Debug("receipt executed",
		slog.String("receiver", string(rc.Receiver)),
		slog.String("method", rc.Method),
		slog.Uint64("height", rt.height))

	rt.queue = append(rt.queue, env.pending...)
	for _, ev := range env.events {
		if rt.cur != nil {
			rt.cur.Events = append(rt.cur.Events, ev)
		}
		if err := rt.sink.PublishEvent(ctx, ev); err != nil {
			rt.logger.Warn("event sink publish failed",
				slog.String("event", string(ev.Event)),
				slog.String("error", err.Error()))
		}
	}

	if p, ok := value.(*Promise); ok && len(p.receipts) > 0 {
		target := p.receipts[len(p.receipts)-1]
		target.forwards = append(target.forwards, rc)
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		rt.complete(rc, PromiseResult{Err: fmt.Sprintf("marshal %s.%s result: %v", rc.Receiver, rc.Method, err)})
		return
	}
	rt.complete(rc, PromiseResult{OK: true, Value: raw})
}

// complete finalizes a receipt's result, releases its dependents, and
// propagates the result to receipts deferred on it.
func (rt *Runtime) complete(rc *Receipt, res PromiseResult) {
	rc.done, rc.result = true, res

	if !res.OK && rt.cur != nil && rc != rt.curRoot {
		rt.cur.Failures = append(rt.cur.Failures, ReceiptFailure{
			Receiver: rc.Receiver,
			Method:   rc.Method,
			Err:      res.Err,
		})
	}

	for _, edge := range rc.dependents {
		edge.target.results[edge.slot] = res
		edge.target.waits--
		if edge.target.waits == 0 {
			rt.queue = append(rt.queue, edge.target)
		}
	}
	for _, fwd := range rc.forwards {
		rt.complete(fwd, res)
	}
}

// View executes a read-only call. Nothing is scheduled, nothing is emitted,
// and the block state does not advance.
func (rt *Runtime) View(ctx context.Context, receiver domain.AccountID, method string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal args for %s.%s: %w", receiver, method, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rc := &Receipt{
		ID:       rt.newID(),
		Receiver: receiver,
		Method:   method,
		Args:     raw,
	}
	env := &Env{ctx: ctx, rt: rt, receipt: rc, view: true}
	value, failure := rt.dispatch(env)
	if failure != "" {
		return nil, fmt.Errorf("chain: view %s.%s: %s", receiver, method, failure)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal view %s.%s result: %w", receiver, method, err)
	}
	return out, nil
}

// dispatch runs the handler for one receipt. Panics (overflow checks in
// protocol math) are recovered into failures so a poisoned call cannot stop
// the queue.
func (rt *Runtime) dispatch(env *Env) (value any, failure string) {
	defer func() {
		if r := recover(); r != nil {
			value, failure = nil, fmt.Sprintf("%v", r)
		}
	}()

	comp, ok := rt.components[env.receipt.Receiver]
	if !ok {
		return nil, fmt.Sprintf("%s: %v", env.receipt.Receiver, domain.ErrUnknownAccount)
	}

	v, err := comp.HandleCall(env, env.receipt.Method, env.receipt.Args)
	if err != nil {
		return nil, err.Error()
	}
	return v, ""
}

func (rt *Runtime) newID() string {
	return uuid.NewString()
}
