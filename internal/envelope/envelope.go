// Package envelope defines the wire message exchanged over the bus and the
// control-line commands the daemon interprets instead of broadcasting.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Well-known envelope types.
const (
	TypeMarco        = "marco"
	TypePolo         = "polo"
	TypeResponse     = "response"
	TypeShutdownNote = "reload_window"
)

// Sender identifies the peer that originated an envelope.
type Sender struct {
	WorkingDirectory string `json:"workingDirectory"`
	ShellPID         *int   `json:"shellPid,omitempty"`
	TaskspaceUUID    string `json:"taskspaceUuid,omitempty"`
}

// Envelope is the single unit of exchange on the bus. It is never mutated
// after creation; a peer that wants to reply constructs a new envelope with
// type "response" and the same id.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Sender  *Sender         `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validation errors.
var (
	ErrEmptyType    = errors.New("envelope: type is empty")
	ErrEmptyID      = errors.New("envelope: id is empty")
	ErrEmbeddedLine = errors.New("envelope: payload or field contains an embedded newline")
)

// ResponsePayload is the conventional shape of a "response" envelope's
// payload. The bus itself never inspects payload contents; this type exists
// only to make dispatch-actor code that follows the convention readable.
type ResponsePayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PoloPayload is the payload carried by a "polo" discovery reply.
type PoloPayload struct {
	Identity Identity `json:"identity"`
}

// Identity is a peer's self-description, used in discovery replies.
type Identity struct {
	Prefix           string `json:"prefix"`
	PID              int    `json:"pid"`
	WorkingDirectory string `json:"workingDirectory"`
	TaskspaceUUID    string `json:"taskspaceUuid,omitempty"`
}

// New constructs an envelope with the given type, id, sender and payload
// value (marshaled to JSON). Use NewResponse for reply envelopes.
func New(typ, id string, sender *Sender, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := &Envelope{
		Type:    typ,
		ID:      id,
		Sender:  sender,
		Payload: raw,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// NewResponse constructs a "response" envelope answering the request with
// the given id.
func NewResponse(requestID string, sender *Sender, payload ResponsePayload) (*Envelope, error) {
	return New(TypeResponse, requestID, sender, payload)
}

// Validate checks the invariants spec.md §3 requires: non-empty type and id,
// and no embedded newline anywhere a single-line wire encoding would break.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return ErrEmptyType
	}
	if e.ID == "" {
		return ErrEmptyID
	}
	if strings.ContainsRune(e.Type, '\n') || strings.ContainsRune(e.ID, '\n') {
		return ErrEmbeddedLine
	}
	return nil
}

// MarshalLine serializes the envelope to a single line of JSON terminated by
// a trailing newline, suitable for writing directly to a socket.
func (e *Envelope) MarshalLine() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if bytesContainNewline(data) {
		// json.Marshal never emits a raw newline inside a compact object,
		// but payloads carrying pre-escaped raw bytes could in principle;
		// guard the wire invariant explicitly rather than trust encoding/json.
		return nil, ErrEmbeddedLine
	}
	return append(data, '\n'), nil
}

// ParseLine parses a single line (without its trailing newline) as an
// envelope.
func ParseLine(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// UnmarshalPayload decodes the envelope's payload into v.
func (e *Envelope) UnmarshalPayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// IsSelf reports whether this envelope was sent by the given identity —
// the self-echo filter of spec.md §4.3. Matching is on working directory
// and, when set on self, shell PID and taskspace UUID; an envelope that
// lacks a PID or UUID that self has is not treated as self.
func (e *Envelope) IsSelf(self *Sender) bool {
	if e.Sender == nil || self == nil {
		return false
	}
	if e.Sender.WorkingDirectory != self.WorkingDirectory {
		return false
	}
	if self.ShellPID != nil {
		if e.Sender.ShellPID == nil || *e.Sender.ShellPID != *self.ShellPID {
			return false
		}
	}
	if self.TaskspaceUUID != "" && e.Sender.TaskspaceUUID != self.TaskspaceUUID {
		return false
	}
	return true
}

// Contains reports whether the candidate directory is the filter directory
// or a descendant of it — the "directory containment" routing predicate of
// spec.md §9. Both paths are compared as-is; callers are responsible for
// passing already-cleaned absolute paths.
func Contains(filterDir, candidateDir string) bool {
	if filterDir == candidateDir {
		return true
	}
	return strings.HasPrefix(candidateDir, strings.TrimSuffix(filterDir, "/")+"/")
}

func bytesContainNewline(b []byte) bool {
	for _, c := range b {
		if c == '\n' {
			return true
		}
	}
	return false
}

// String renders a peer identity for logging, e.g. "/w/a[1234]" when a
// shell PID is present, or just the working directory otherwise.
func (s *Sender) String() string {
	if s == nil {
		return "<nil>"
	}
	if pid := formatShellPID(s.ShellPID); pid != "" {
		return s.WorkingDirectory + "[" + pid + "]"
	}
	return s.WorkingDirectory
}

// formatShellPID renders an optional PID for display, e.g. in peer identity
// strings ("/w/a[1234]").
func formatShellPID(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
