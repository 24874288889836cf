// Package rpcqueue keeps, per CPE, the RPCs waiting to be sent and the
// results waiting to be read back.
package rpcqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/oktetlabs/test-environment-sub007/internal/arena"
	"github.com/oktetlabs/test-environment-sub007/pkg/cwmp"
)

var (
	ErrNotReady  = errors.New("result not ready")
	ErrNoSuchRpc = errors.New("no such rpc")
)

// ItemArenaLimit bounds the decoded size of one request plus its response.
const ItemArenaLimit = 4 << 20

// Item is one RPC: either CPE-directed (Kind set) or received from the
// CPE and recorded for the controller (AcsKind set).
type Item struct {
	RequestID uint32
	Kind      cwmp.RpcKind
	AcsKind   cwmp.AcsRpcKind

	Request  cwmp.Message
	Response cwmp.Message
	Fault    *cwmp.Fault

	Arena *arena.Arena

	EnqueuedAt time.Time
	SentAt     time.Time
	AnsweredAt time.Time

	answered bool
}

// Answered reports whether a response or a fault was recorded.
func (it *Item) Answered() bool {
	return it.answered
}

// Received reports whether the item records a CPE-initiated RPC.
func (it *Item) Received() bool {
	return it.AcsKind != cwmp.AcsRpcNone
}

// Release drops the queue's reference on the item arena.
func (it *Item) Release() {
	if it.Arena != nil {
		it.Arena.Release()
	}
}

// Queue is a pending FIFO plus a results list in arrival order. It is not
// safe for concurrent use; the event loop owns it.
type Queue struct {
	lastID  uint32
	pending []*Item
	results []*Item
}

func New() *Queue {
	return &Queue{}
}

func (q *Queue) nextID() uint32 {
	q.lastID++
	return q.lastID
}

// Enqueue appends a CPE-directed RPC. size is the accounted size of req.
// Kind NONE is a valid marker and carries no request.
func (q *Queue) Enqueue(kind cwmp.RpcKind, req cwmp.Message, size int) (*Item, error) {
	a := arena.New("rpc", ItemArenaLimit)
	if req != nil {
		if err := a.Hold(req, size); err != nil {
			a.Free()
			return nil, fmt.Errorf("enqueue %s: %w", kind, err)
		}
	}

	it := &Item{
		RequestID:  q.nextID(),
		Kind:       kind,
		Request:    req,
		Arena:      a,
		EnqueuedAt: time.Now(),
	}
	q.pending = append(q.pending, it)
	return it, nil
}

// PopPending removes and returns the head of the pending FIFO, or nil.
func (q *Queue) PopPending() *Item {
	if len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return it
}

// AttachAwaiting records a popped item as sent and awaiting its response.
func (q *Queue) AttachAwaiting(it *Item) {
	it.SentAt = time.Now()
	q.results = append(q.results, it)
}

// Complete stores the response of a sent item.
func (q *Queue) Complete(it *Item, resp cwmp.Message, size int) error {
	if resp != nil {
		if err := it.Arena.Hold(resp, size); err != nil {
			return fmt.Errorf("complete %d: %w", it.RequestID, err)
		}
	}
	it.Response = resp
	it.AnsweredAt = time.Now()
	it.answered = true
	return nil
}

// CompleteFault turns a sent item into a FAULT result.
func (q *Queue) CompleteFault(it *Item, f *cwmp.Fault) {
	it.Kind = cwmp.RpcFault
	it.Fault = f
	it.Response = f
	it.AnsweredAt = time.Now()
	it.answered = true
}

// AddReceived records an RPC initiated by the CPE.
func (q *Queue) AddReceived(kind cwmp.AcsRpcKind, msg cwmp.Message, size int) (*Item, error) {
	a := arena.New("acs-rpc", ItemArenaLimit)
	if err := a.Hold(msg, size); err != nil {
		a.Free()
		return nil, fmt.Errorf("record %s: %w", kind, err)
	}

	now := time.Now()
	it := &Item{
		RequestID:  q.nextID(),
		AcsKind:    kind,
		Request:    msg,
		Arena:      a,
		EnqueuedAt: now,
		AnsweredAt: now,
		answered:   true,
	}
	q.results = append(q.results, it)
	return it, nil
}

// ReadResult removes and returns the result of a CPE-directed RPC. An id of
// zero selects the oldest one. The caller owns the returned item and must
// Release it.
func (q *Queue) ReadResult(id uint32) (*Item, error) {
	for i, it := range q.results {
		if it.Received() {
			continue
		}
		if id != 0 && it.RequestID != id {
			continue
		}
		if !it.answered {
			return nil, ErrNotReady
		}
		q.removeResult(i)
		return it, nil
	}

	if id == 0 {
		if len(q.pending) > 0 {
			return nil, ErrNotReady
		}
		return nil, ErrNoSuchRpc
	}
	for _, it := range q.pending {
		if it.RequestID == id {
			return nil, ErrNotReady
		}
	}
	return nil, ErrNoSuchRpc
}

// ReadReceived removes and returns the oldest CPE-initiated RPC of the given
// kind; AcsRpcNone matches any kind.
func (q *Queue) ReadReceived(kind cwmp.AcsRpcKind) (*Item, error) {
	for i, it := range q.results {
		if !it.Received() {
			continue
		}
		if kind != cwmp.AcsRpcNone && it.AcsKind != kind {
			continue
		}
		q.removeResult(i)
		return it, nil
	}
	return nil, ErrNotReady
}

func (q *Queue) removeResult(i int) {
	copy(q.results[i:], q.results[i+1:])
	q.results[len(q.results)-1] = nil
	q.results = q.results[:len(q.results)-1]
}

// Pending returns the number of items not yet sent.
func (q *Queue) Pending() int {
	return len(q.pending)
}

// Results returns the number of items in the results list.
func (q *Queue) Results() int {
	return len(q.results)
}

// Reset frees every item. Request ids keep increasing afterwards.
func (q *Queue) Reset() {
	for _, it := range q.pending {
		it.Arena.Free()
	}
	for _, it := range q.results {
		it.Arena.Free()
	}
	q.pending = nil
	q.results = nil
}
