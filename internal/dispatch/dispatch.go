package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/socratic-shell/symposium-sub000/internal/envelope"
	"github.com/socratic-shell/symposium-sub000/internal/id"
	"github.com/socratic-shell/symposium-sub000/internal/logging"
	"github.com/socratic-shell/symposium-sub000/internal/transport"
)

// DefaultReplyTimeout bounds how long SendWithReply waits before giving up.
const DefaultReplyTimeout = 30 * time.Second

// DefaultSweepInterval is how often the pending-reply table is swept for
// expired entries (spec.md §12, modeled on PermissionManager.Cleanup).
const DefaultSweepInterval = 5 * time.Second

// Sender is the minimal interface the dispatcher needs to put an envelope
// on the wire; satisfied by *transport.Transport.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope, mode transport.SendMode) error
}

// Dispatcher is the client-side dispatch actor: it correlates replies,
// filters self-echo, answers marco/polo, and routes everything else through
// a type-keyed handler registry.
type Dispatcher struct {
	self   *envelope.Sender
	sender Sender

	pending  *pendingTable
	deferred *handlerTable

	mu       sync.Mutex
	handlers map[string][]Handler

	sweepStop chan struct{}
}

// New creates a dispatcher that uses self as the sender of the polo and
// response envelopes it builds and filters out any inbound envelope
// matching self (spec.md §4.3 step 1). Envelopes passed to SendOneway and
// SendWithReply are sent with whatever Sender they already carry.
func New(self *envelope.Sender, sender Sender) *Dispatcher {
	d := &Dispatcher{
		self:      self,
		sender:    sender,
		pending:   newPendingTable(),
		deferred:  newHandlerTable(),
		handlers:  make(map[string][]Handler),
		sweepStop: make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// NewPendingToken mints a fresh opaque token for a handler to return via
// HandlerResult.Token when it answers Pending, and to later pass back to
// CompletePending. Tokens never cross the wire, so a short random id is
// enough to avoid collisions within one process.
func (d *Dispatcher) NewPendingToken() string {
	return id.Generate()
}

// RegisterHandler adds h to the set consulted for inbound envelopes of the
// given type. Handlers for the same type run in registration order until
// one returns Answered or Pending.
func (d *Dispatcher) RegisterHandler(envelopeType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[envelopeType] = append(d.handlers[envelopeType], h)
}

// SendOneway puts env on the wire without tracking a reply.
func (d *Dispatcher) SendOneway(ctx context.Context, env *envelope.Envelope) error {
	return d.sender.Send(ctx, env, transport.SendLenient)
}

// SendWithReply sends a request envelope and blocks until a matching
// "response" envelope arrives, ctx is canceled, or timeout elapses.
func (d *Dispatcher) SendWithReply(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (*envelope.ResponsePayload, error) {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	ch := d.pending.add(env.ID, timeout)

	if err := d.sender.Send(ctx, env, transport.SendStrict); err != nil {
		d.pending.cancel(env.ID)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case payload, ok := <-ch:
		if !ok {
			return nil, ErrExpired
		}
		return payload, nil
	case <-ctx.Done():
		d.pending.cancel(env.ID)
		return nil, ctx.Err()
	case <-time.After(timeout):
		d.pending.cancel(env.ID)
		return nil, ErrExpired
	}
}

// Cancel stops waiting for a reply to id without an error surfacing to the
// original SendWithReply caller beyond ErrExpired.
func (d *Dispatcher) Cancel(id string) bool {
	return d.pending.cancel(id)
}

// CompletePending resolves a deferred reply previously registered under
// token by a handler that returned Pending. Per spec.md §4.3's
// complete_pending operation, this produces and sends a "response" envelope
// carrying the original request id onto the bus — the requester is a
// different peer's dispatcher, not a local waiter, so the reply has to
// travel over the wire rather than resolve anything in this process's own
// pending table.
func (d *Dispatcher) CompletePending(token string, result envelope.ResponsePayload) error {
	requestID, ok := d.deferred.take(token)
	if !ok {
		return fmt.Errorf("dispatch: unknown pending token %q", token)
	}
	resp, err := envelope.NewResponse(requestID, d.self, result)
	if err != nil {
		return fmt.Errorf("build response envelope: %w", err)
	}
	return d.SendOneway(context.Background(), resp)
}

// HandleInbound runs the full inbound pipeline for one envelope received
// from the transport actor: self-echo filter, response correlation,
// marco/polo, then the handler registry.
func (d *Dispatcher) HandleInbound(ctx context.Context, env *envelope.Envelope) {
	if env.IsSelf(d.self) {
		slog.Debug("dropping self-echoed envelope", "id", env.ID, "sender", env.Sender.String())
		return
	}

	switch env.Type {
	case envelope.TypeResponse:
		var payload envelope.ResponsePayload
		if err := env.UnmarshalPayload(&payload); err != nil {
			slog.Debug("malformed response payload", "id", env.ID, "error", err)
			return
		}
		if !d.pending.resolve(env.ID, &payload) {
			slog.Debug("response for unknown or expired request", "id", env.ID)
		}
		return

	case envelope.TypeMarco:
		d.handleMarco(ctx, env)
		return
	}

	d.dispatchToHandlers(ctx, env)
}

// handleMarco answers a discovery broadcast with a "polo" identifying this
// peer, per spec.md §7 scenario A.
func (d *Dispatcher) handleMarco(ctx context.Context, req *envelope.Envelope) {
	payload := envelope.PoloPayload{
		Identity: envelope.Identity{
			WorkingDirectory: d.self.WorkingDirectory,
			TaskspaceUUID:    d.self.TaskspaceUUID,
		},
	}
	if d.self.ShellPID != nil {
		payload.Identity.PID = *d.self.ShellPID
	}

	polo, err := envelope.New(envelope.TypePolo, id.NewEnvelopeID(), d.self, payload)
	if err != nil {
		slog.Debug("build polo reply failed", "error", err)
		return
	}
	if err := d.SendOneway(ctx, polo); err != nil {
		slog.Debug("send polo reply failed", "error", err)
	}
}

// dispatchToHandlers tries every handler registered for env.Type in order
// until one claims it (Answered or Pending). An unclaimed envelope is
// logged and dropped, matching spec.md §4.3's "no handler" edge case.
func (d *Dispatcher) dispatchToHandlers(ctx context.Context, env *envelope.Envelope) {
	d.mu.Lock()
	handlers := append([]Handler(nil), d.handlers[env.Type]...)
	d.mu.Unlock()

	for _, h := range handlers {
		result := h(ctx, env)
		switch result.Outcome {
		case Answered:
			resp, err := envelope.NewResponse(env.ID, d.self, result.Value)
			if err != nil {
				slog.Debug("build response envelope failed", "id", env.ID, "error", err)
				return
			}
			if err := d.SendOneway(ctx, resp); err != nil {
				slog.Debug("send response envelope failed", "id", env.ID, "error", err)
			}
			return
		case Pending:
			if result.Token != "" {
				d.deferred.register(result.Token, env.ID)
			}
			return
		case NotForMe:
			continue
		}
	}

	slog.Debug("no handler claimed envelope", "type", env.Type, "id", env.ID)
}

// PendingCount returns the number of requests currently awaiting a reply.
func (d *Dispatcher) PendingCount() int {
	return d.pending.count()
}

func (d *Dispatcher) sweepLoop() {
	defer logging.LogPanic("dispatch-sweep-loop", nil)

	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.sweepStop:
			return
		case <-ticker.C:
			if n := d.pending.sweep(); n > 0 {
				slog.Debug("swept expired pending replies", "count", n)
			}
		}
	}
}

// Close stops the background sweep goroutine.
func (d *Dispatcher) Close() {
	select {
	case <-d.sweepStop:
	default:
		close(d.sweepStop)
	}
}
