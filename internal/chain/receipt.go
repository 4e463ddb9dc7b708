package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nest-markets/nestd/internal/domain"
)

// PromiseResult is the outcome of one completed receipt, delivered to the
// callback receipts that depend on it.
type PromiseResult struct {
	OK    bool
	Value json.RawMessage
	Err   string
}

// Receipt is one asynchronous component call scheduled on the runtime
// queue. A receipt with unresolved dependencies stays off the queue until
// every dependency has completed and filled its result slot.
type Receipt struct {
	ID          string
	TxID        string
	Predecessor domain.AccountID
	Receiver    domain.AccountID
	Method      string
	Args        json.RawMessage

	results    []PromiseResult
	waits      int
	dependents []depEdge
	// forwards are receipts whose handler returned the promise this receipt
	// belongs to; they complete with this receipt's result.
	forwards []*Receipt

	done   bool
	result PromiseResult
}

type depEdge struct {
	target *Receipt
	slot   int
}

// Promise tracks receipts whose results a callback can depend on.
type Promise struct {
	env      *Env
	receipts []*Receipt
}

// And joins another promise so a single callback sees both results, in
// order.
func (p *Promise) And(other *Promise) *Promise {
	return &Promise{env: p.env, receipts: append(append([]*Receipt{}, p.receipts...), other.receipts...)}
}

// Then schedules a callback to the calling component once every joined
// receipt has completed. The callback's predecessor is the component
// itself, which is what private-callback checks compare against.
func (p *Promise) Then(method string, args any) *Promise {
	cb := p.env.newReceipt(p.env.receipt.Receiver, p.env.receipt.Receiver, method, args)
	cb.results = make([]PromiseResult, len(p.receipts))
	cb.waits = len(p.receipts)
	for i, dep := range p.receipts {
		if dep.done {
			cb.results[i] = dep.result
			cb.waits--
			continue
		}
		dep.dependents = append(dep.dependents, depEdge{target: cb, slot: i})
	}
	p.env.pending = append(p.env.pending, cb)
	return &Promise{env: p.env, receipts: []*Receipt{cb}}
}

// Env is the execution context handed to a component for one receipt. Calls
// and events staged through it are committed only if the handler returns
// success; a failed receipt schedules nothing and emits nothing.
type Env struct {
	ctx     context.Context
	rt      *Runtime
	receipt *Receipt
	view    bool

	pending []*Receipt
	events  []domain.EventRecord
}

// Predecessor is the account that issued this call. View calls have none.
func (e *Env) Predecessor() domain.AccountID {
	return e.receipt.Predecessor
}

// Account is the component the call targets.
func (e *Env) Account() domain.AccountID {
	return e.receipt.Receiver
}

// BlockHeight is the height the receipt executes at.
func (e *Env) BlockHeight() uint64 {
	return e.rt.height
}

// BlockTimestampNS is the receipt's block time.
func (e *Env) BlockTimestampNS() domain.NanoTime {
	return e.rt.blockTime
}

// Results returns the promise results this callback depends on.
func (e *Env) Results() []PromiseResult {
	return e.receipt.results
}

// Call stages an asynchronous call to another component. args is marshaled
// to JSON; a marshal failure is a programming error and panics.
func (e *Env) Call(receiver domain.AccountID, method string, args any) *Promise {
	if e.view {
		panic("chain: view call cannot schedule receipts")
	}
	rc := e.newReceipt(e.receipt.Receiver, receiver, method, args)
	e.pending = append(e.pending, rc)
	return &Promise{env: e, receipts: []*Receipt{rc}}
}

// Emit stages a protocol event. The runtime stamps it with block metadata
// and forwards it to the event sink when the receipt commits.
func (e *Env) Emit(ev domain.ChainEvent) {
	if e.view {
		panic("chain: view call cannot emit events")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		panic(fmt.Sprintf("chain: marshal %s event: %v", ev.EventType(), err))
	}
	e.events = append(e.events, domain.EventRecord{
		Standard:         domain.EventStandard,
		Version:          domain.EventStandardVersion,
		Event:            ev.EventType(),
		Data:             []json.RawMessage{payload},
		MarketID:         ev.EventMarket(),
		BlockHeight:      e.rt.height,
		BlockTimestampNS: e.rt.blockTime,
		TransactionID:    e.receipt.TxID,
		ReceiptID:        e.receipt.ID,
	})
}

func (e *Env) newReceipt(predecessor, receiver domain.AccountID, method string, args any) *Receipt {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("chain: marshal args for %s.%s: %v", receiver, method, err))
	}
	return &Receipt{
		ID:          e.rt.newID(),
		TxID:        e.receipt.TxID,
		Predecessor: predecessor,
		Receiver:    receiver,
		Method:      method,
		Args:        raw,
	}
}
