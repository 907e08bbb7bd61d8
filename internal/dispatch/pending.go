// Package dispatch implements the client-side dispatch actor: request/reply
// correlation, a handler registry for inbound envelopes, marco/polo
// discovery, and deferred ("pending") replies completed out of band.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/socratic-shell/symposium-sub000/internal/envelope"
)

// ErrExpired is returned by SendWithReply when no response arrives before
// the deadline.
var ErrExpired = errors.New("dispatch: reply wait timed out")

// pendingReply is one outstanding request/reply correlation.
type pendingReply struct {
	response chan *envelope.ResponsePayload
	deadline time.Time
}

// pendingTable tracks in-flight request ids and their response channels,
// grounded on the teacher's PermissionManager: a map guarded by a mutex, a
// buffered 1-slot channel per entry so Respond never blocks, and a periodic
// Cleanup sweep for entries nobody ever answers.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingReply
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingReply)}
}

func (t *pendingTable) add(id string, timeout time.Duration) <-chan *envelope.ResponsePayload {
	ch := make(chan *envelope.ResponsePayload, 1)
	t.mu.Lock()
	t.entries[id] = &pendingReply{response: ch, deadline: time.Now().Add(timeout)}
	t.mu.Unlock()
	return ch
}

// resolve delivers a response to the waiter for id, if any. Returns false if
// no one is waiting (e.g. the request already timed out).
func (t *pendingTable) resolve(id string, payload *envelope.ResponsePayload) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.response <- payload:
	default:
	}
	return true
}

// cancel stops waiting for id without delivering a response.
func (t *pendingTable) cancel(id string) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	close(entry.response)
	return true
}

// sweep removes entries past their deadline, closing their channels so any
// waiter unblocks with a closed-channel read rather than hanging forever.
func (t *pendingTable) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range t.entries {
		if now.After(entry.deadline) {
			close(entry.response)
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *pendingTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// handlerTable maps a deferred-reply token back to the original request id,
// so a later complete_pending(token, ...) call knows which request id its
// response envelope answers. Kept separate from pendingTable per spec.md §4.3: a handler may
// register a token well before — or well after — the requester's own
// deadline logic fires.
type handlerTable struct {
	mu     sync.Mutex
	tokens map[string]string // token -> request id
}

func newHandlerTable() *handlerTable {
	return &handlerTable{tokens: make(map[string]string)}
}

func (h *handlerTable) register(token, requestID string) {
	h.mu.Lock()
	h.tokens[token] = requestID
	h.mu.Unlock()
}

func (h *handlerTable) take(token string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.tokens[token]
	if ok {
		delete(h.tokens, token)
	}
	return id, ok
}

// Outcome is what a registered handler reports back to the dispatcher about
// one inbound envelope.
type Outcome int

const (
	// NotForMe means the handler declines this envelope; the dispatcher
	// tries the next handler registered for the same type.
	NotForMe Outcome = iota
	// Answered means the handler fully processed the envelope; no further
	// handlers run.
	Answered
	// Pending means the handler will answer later via CompletePending,
	// using the returned token.
	Pending
)

// HandlerResult is returned by a Handler.
type HandlerResult struct {
	Outcome Outcome
	Value   envelope.ResponsePayload // set when Outcome == Answered
	Token   string                   // set when Outcome == Pending
}

// Handler processes one inbound envelope of a type it was registered for.
type Handler func(ctx context.Context, env *envelope.Envelope) HandlerResult
