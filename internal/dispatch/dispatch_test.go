package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/socratic-shell/symposium-sub000/internal/envelope"
	"github.com/socratic-shell/symposium-sub000/internal/id"
	"github.com/socratic-shell/symposium-sub000/internal/transport"
)

// recordingSender captures every envelope handed to Send instead of putting
// it on a real wire.
type recordingSender struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
}

func (r *recordingSender) Send(ctx context.Context, env *envelope.Envelope, mode transport.SendMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingSender) last() *envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func newTestDispatcher() (*Dispatcher, *recordingSender) {
	self := &envelope.Sender{WorkingDirectory: "/w/a"}
	rs := &recordingSender{}
	d := New(self, rs)
	return d, rs
}

func TestSelfEchoFiltered(t *testing.T) {
	d, _ := newTestDispatcher()
	defer d.Close()

	var called bool
	d.RegisterHandler("ping", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		called = true
		return HandlerResult{Outcome: Answered}
	})

	selfEnv := &envelope.Envelope{Type: "ping", ID: "1", Sender: &envelope.Sender{WorkingDirectory: "/w/a"}}
	d.HandleInbound(context.Background(), selfEnv)

	if called {
		t.Error("handler should not run for a self-originated envelope")
	}
}

func TestMarcoPoloReply(t *testing.T) {
	d, rs := newTestDispatcher()
	defer d.Close()

	marco := &envelope.Envelope{Type: envelope.TypeMarco, ID: "m1", Sender: &envelope.Sender{WorkingDirectory: "/w/b"}}
	d.HandleInbound(context.Background(), marco)

	reply := rs.last()
	if reply == nil || reply.Type != envelope.TypePolo {
		t.Fatalf("expected a polo reply, got %+v", reply)
	}
}

func TestHandlerRegistryNotForMeFallsThrough(t *testing.T) {
	d, _ := newTestDispatcher()
	defer d.Close()

	var secondCalled bool
	d.RegisterHandler("custom", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		return HandlerResult{Outcome: NotForMe}
	})
	d.RegisterHandler("custom", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		secondCalled = true
		return HandlerResult{Outcome: Answered}
	})

	env := &envelope.Envelope{Type: "custom", ID: "c1", Sender: &envelope.Sender{WorkingDirectory: "/w/other"}}
	d.HandleInbound(context.Background(), env)

	if !secondCalled {
		t.Error("second handler should have run after first returned NotForMe")
	}
}

func TestCompletePendingSendsResponseEnvelope(t *testing.T) {
	// d plays peer B, the responder: it registers a handler that defers the
	// reply, then completes it later. Since the requester (peer A) is a
	// different process, the only observable effect from B's side is that a
	// "response" envelope with the original request id goes out on the wire.
	d, rs := newTestDispatcher()
	defer d.Close()

	token := d.NewPendingToken()
	d.RegisterHandler("ask", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		return HandlerResult{Outcome: Pending, Token: token}
	})

	reqID := id.NewEnvelopeID()
	req := &envelope.Envelope{Type: "ask", ID: reqID, Sender: &envelope.Sender{WorkingDirectory: "/w/other"}}
	d.HandleInbound(context.Background(), req)

	if err := d.CompletePending(token, envelope.ResponsePayload{Success: true, Data: json.RawMessage(`{"ok":true}`)}); err != nil {
		t.Fatalf("CompletePending() error = %v", err)
	}

	resp := rs.last()
	if resp == nil || resp.Type != envelope.TypeResponse || resp.ID != reqID {
		t.Fatalf("expected a response envelope for id %q, got %+v", reqID, resp)
	}
	var payload envelope.ResponsePayload
	if err := resp.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("unmarshal response payload: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected successful payload, got %+v", payload)
	}
}

func TestAnsweredHandlerSendsResponseEnvelope(t *testing.T) {
	// d plays peer B again, this time answering synchronously: the handler
	// returns Answered with a value, and the dispatcher must be the one that
	// builds and sends the "response" envelope (spec.md §4.3).
	d, rs := newTestDispatcher()
	defer d.Close()

	d.RegisterHandler("ask", func(ctx context.Context, env *envelope.Envelope) HandlerResult {
		return HandlerResult{Outcome: Answered, Value: envelope.ResponsePayload{Success: true}}
	})

	reqID := id.NewEnvelopeID()
	req := &envelope.Envelope{Type: "ask", ID: reqID, Sender: &envelope.Sender{WorkingDirectory: "/w/other"}}
	d.HandleInbound(context.Background(), req)

	resp := rs.last()
	if resp == nil || resp.Type != envelope.TypeResponse || resp.ID != reqID {
		t.Fatalf("expected a response envelope for id %q, got %+v", reqID, resp)
	}
	var payload envelope.ResponsePayload
	if err := resp.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("unmarshal response payload: %v", err)
	}
	if !payload.Success {
		t.Fatalf("expected successful payload, got %+v", payload)
	}
}

func TestSendWithReplyResolvedByInboundResponseEnvelope(t *testing.T) {
	// d plays peer A, the requester: SendWithReply blocks until a "response"
	// envelope with the matching id arrives back over HandleInbound, exactly
	// as it would after the transport delivers peer B's reply.
	d, _ := newTestDispatcher()
	defer d.Close()

	req := &envelope.Envelope{Type: "ask", ID: "req-1", Sender: &envelope.Sender{WorkingDirectory: "/w/a"}}

	replyCh := make(chan *envelope.ResponsePayload, 1)
	go func() {
		payload, err := d.SendWithReply(context.Background(), req, time.Second)
		if err == nil {
			replyCh <- payload
		} else {
			close(replyCh)
		}
	}()

	time.Sleep(10 * time.Millisecond)

	resp, err := envelope.NewResponse("req-1", &envelope.Sender{WorkingDirectory: "/w/other"}, envelope.ResponsePayload{Success: true})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	d.HandleInbound(context.Background(), resp)

	select {
	case payload := <-replyCh:
		if payload == nil || !payload.Success {
			t.Fatalf("expected successful payload, got %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestSendWithReplyTimesOut(t *testing.T) {
	d, _ := newTestDispatcher()
	defer d.Close()

	req := &envelope.Envelope{Type: "ask", ID: "req-timeout", Sender: &envelope.Sender{WorkingDirectory: "/w/a"}}
	_, err := d.SendWithReply(context.Background(), req, 20*time.Millisecond)
	if err != ErrExpired {
		t.Errorf("SendWithReply() error = %v, want ErrExpired", err)
	}
}

func TestPendingTableSweepExpires(t *testing.T) {
	pt := newPendingTable()
	ch := pt.add("x", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if n := pt.sweep(); n != 1 {
		t.Fatalf("sweep() removed %d entries, want 1", n)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed by sweep")
	}
}
