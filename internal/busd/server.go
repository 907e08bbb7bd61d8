// Package busd implements the busd broadcast bus daemon: a single process
// bound to a Unix socket that fans out every line it receives from one peer
// to every other connected peer, interprets a small control-line vocabulary,
// and supervises its own lifetime.
package busd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/socratic-shell/symposium-sub000/internal/envelope"
	"github.com/socratic-shell/symposium-sub000/internal/event"
	"github.com/socratic-shell/symposium-sub000/internal/logging"
	"github.com/socratic-shell/symposium-sub000/internal/paths"
)

// PeerEventKind distinguishes the two lifecycle events a Server emits.
type PeerEventKind int

const (
	PeerConnected PeerEventKind = iota
	PeerDisconnected
)

// PeerEvent is emitted whenever a peer joins or leaves the bus, letting an
// embedding process observe bus membership without polling PeerCount.
type PeerEvent struct {
	Kind     PeerEventKind
	Identity string
	Peers    int // peer count immediately after this event
}

// Defaults for the configurable options enumerated in spec.md §9.
const (
	DefaultIdleTimeout  = 30 * time.Second
	DefaultHistorySize  = 1000
	DefaultMaxLineBytes = 1 << 20 // 1 MiB
	ShutdownGrace       = 100 * time.Millisecond
	ParentPollInterval  = time.Second
)

// ErrAlreadyRunning is returned by Start when a live daemon already answers
// the target socket.
var ErrAlreadyRunning = errors.New("busd: a daemon is already listening on this socket")

// Options configures a Server.
type Options struct {
	Prefix        string        // socket/display name segment
	ParentPID     int           // 0 disables parent-process supervision
	IdleTimeout   time.Duration // 0 uses DefaultIdleTimeout
	HistorySize   int           // 0 uses DefaultHistorySize
	MaxLineBytes  int           // 0 uses DefaultMaxLineBytes
	AdminPrefixes []string      // identity prefixes allowed to send #shutdown
}

func (o Options) idleTimeout() time.Duration {
	if o.IdleTimeout > 0 {
		return o.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (o Options) historySize() int {
	if o.HistorySize > 0 {
		return o.HistorySize
	}
	return DefaultHistorySize
}

func (o Options) maxLineBytes() int {
	if o.MaxLineBytes > 0 {
		return o.MaxLineBytes
	}
	return DefaultMaxLineBytes
}

func (o Options) isAdmin(prefix string) bool {
	for _, p := range o.AdminPrefixes {
		if p == prefix {
			return true
		}
	}
	return false
}

// peer is one connected socket and the per-peer state the daemon tracks.
type peer struct {
	conn       net.Conn
	identity   string
	connected  time.Time
	writeQueue chan []byte
	done       chan struct{}
}

// Server is the Unix socket broadcast daemon.
type Server struct {
	socketPath string
	opts       Options
	listener   net.Listener

	mu sync.Mutex
	// +checklocks:mu
	peers map[net.Conn]*peer
	// +checklocks:mu
	started bool
	done    chan struct{}

	idleMu    sync.Mutex
	idleTimer *time.Timer

	history *History
	events  event.Emitter[PeerEvent]
}

// NewServer creates a daemon bound to the socket path derived from
// opts.Prefix (see paths.SocketPath).
func NewServer(opts Options) *Server {
	return &Server{
		socketPath: paths.SocketPath(opts.Prefix),
		opts:       opts,
		peers:      make(map[net.Conn]*peer),
		done:       make(chan struct{}),
		history:    NewHistory(opts.historySize()),
	}
}

// OnPeerEvent registers a handler invoked whenever a peer connects or
// disconnects, letting an embedding process track bus membership.
func (s *Server) OnPeerEvent(handler func(PeerEvent)) {
	s.events.OnEvent(handler)
}

// SocketPath returns the socket path this server binds (or will bind).
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start binds the socket, probing for and removing a stale file first
// (spec.md §4.1), then begins accepting connections and the idle/parent
// supervisors. Returns ErrAlreadyRunning if a live daemon already answers
// the socket.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("busd: server already started")
	}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if probeStaleSocket(s.socketPath) {
		return ErrAlreadyRunning
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.started = true
	s.mu.Unlock()

	slog.Info("daemon started", "socket", s.socketPath, "prefix", s.opts.Prefix)

	go s.acceptLoop()
	s.armIdleTimer()
	if s.opts.ParentPID > 0 {
		go s.parentSupervisor()
	}

	return nil
}

// probeStaleSocket reports whether a live daemon already answers at path. A
// successful connect means another instance owns the socket.
func probeStaleSocket(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Server) acceptLoop() {
	defer logging.LogPanic("busd-accept-loop", nil)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept failed", "error", err)
				continue
			}
		}

		p := &peer{
			conn:       conn,
			identity:   "peer",
			connected:  time.Now(),
			writeQueue: make(chan []byte, 256),
			done:       make(chan struct{}),
		}

		s.mu.Lock()
		s.peers[conn] = p
		count := len(s.peers)
		s.mu.Unlock()

		slog.Debug("peer connected", "peers", count)
		s.events.Emit(PeerEvent{Kind: PeerConnected, Identity: p.identity, Peers: count})
		s.cancelIdleTimer()

		go s.writeLoop(p)
		go s.readLoop(p)
	}
}

// writeLoop serializes writes to one peer's connection, preserving
// per-sender FIFO (spec.md §5) without blocking the readers of other peers.
func (s *Server) writeLoop(p *peer) {
	defer logging.LogPanic("busd-write-loop", nil)
	for {
		select {
		case line, ok := <-p.writeQueue:
			if !ok {
				return
			}
			if _, err := p.conn.Write(line); err != nil {
				slog.Debug("write to peer failed", "identity", p.identity, "error", err)
				s.evict(p)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (s *Server) readLoop(p *peer) {
	defer logging.LogPanic("busd-read-loop", nil)
	defer s.evict(p)

	reader := bufio.NewReaderSize(p.conn, 64*1024)
	maxLine := s.opts.maxLineBytes()

	for {
		line, err := readLine(reader, maxLine)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				slog.Warn("line exceeded size cap, dropping peer", "identity", p.identity)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		if envelope.IsControlLine(line) {
			s.handleControl(p, string(line))
			continue
		}

		s.broadcast(p, line)
	}
}

var errLineTooLong = errors.New("busd: line exceeds max_line_bytes")

// readLine reads one '\n'-delimited line (without the delimiter), rejecting
// lines longer than maxLen.
func readLine(r *bufio.Reader, maxLen int) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLen {
			return nil, errLineTooLong
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// broadcast records a non-control line from sender p in history, then fans
// it out to every other connected peer. Writes are independent and
// best-effort: a slow or dead peer is evicted without blocking the
// broadcaster or any other peer.
func (s *Server) broadcast(sender *peer, line []byte) {
	s.history.Append(sender.identity, line)

	s.mu.Lock()
	targets := make([]*peer, 0, len(s.peers))
	for conn, p := range s.peers {
		if conn == sender.conn {
			continue
		}
		targets = append(targets, p)
	}
	s.mu.Unlock()

	framed := append(append([]byte{}, line...), '\n')
	for _, p := range targets {
		select {
		case p.writeQueue <- framed:
		default:
			slog.Warn("peer write queue full, evicting", "identity", p.identity)
			s.evict(p)
		}
	}
}

// handleControl interprets a "#command[:arg]" line. Control lines are never
// rebroadcast.
func (s *Server) handleControl(p *peer, line string) {
	ctrl := envelope.ParseControl(line)
	switch ctrl.Command {
	case envelope.ControlIdentify:
		s.mu.Lock()
		p.identity = ctrl.Argument
		s.mu.Unlock()
		slog.Debug("peer identified", "identity", ctrl.Argument)

	case envelope.ControlHistory:
		n := 0 // 0 means "all"
		if ctrl.HasArgument {
			if v, err := strconv.Atoi(ctrl.Argument); err == nil {
				n = v
			}
		}
		reply := s.history.JSON(n)
		select {
		case p.writeQueue <- append(reply, '\n'):
		default:
			slog.Warn("could not deliver history reply, peer queue full", "identity", p.identity)
		}

	case envelope.ControlShutdown:
		if !s.opts.isAdmin(p.identity) {
			slog.Warn("rejected #shutdown from non-admin peer", "identity", p.identity)
			return
		}
		go s.Shutdown(context.Background(), "admin #shutdown")

	default:
		slog.Debug("unknown control command", "command", ctrl.Raw)
	}
}

// evict removes a peer from the connection set and closes its socket. Safe
// to call more than once for the same peer.
func (s *Server) evict(p *peer) {
	s.mu.Lock()
	_, ok := s.peers[p.conn]
	if ok {
		delete(s.peers, p.conn)
	}
	count := len(s.peers)
	s.mu.Unlock()

	if !ok {
		return
	}

	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.conn.Close()
	s.events.Emit(PeerEvent{Kind: PeerDisconnected, Identity: p.identity, Peers: count})

	slog.Debug("peer disconnected", "identity", p.identity, "peers", count)
	if count == 0 {
		s.armIdleTimer()
	}
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// armIdleTimer (re)starts the idle-shutdown countdown. Called whenever the
// peer count drops to zero.
func (s *Server) armIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.opts.idleTimeout(), func() {
		defer logging.LogPanic("busd-idle-timer", nil)
		if s.PeerCount() == 0 {
			slog.Info("idle timeout reached, shutting down", "timeout", s.opts.idleTimeout())
			s.Shutdown(context.Background(), "idle timeout")
		}
	})
}

// cancelIdleTimer stops a pending idle-shutdown countdown, called whenever a
// new peer connects.
func (s *Server) cancelIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
}

// parentSupervisor polls the parent process's liveness and triggers
// shutdown once it disappears, so the daemon never outlives the window
// that spawned it.
func (s *Server) parentSupervisor() {
	defer logging.LogPanic("busd-parent-supervisor", nil)

	ticker := time.NewTicker(ParentPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !IsProcessRunning(s.opts.ParentPID) {
				slog.Info("parent process gone, shutting down", "parent_pid", s.opts.ParentPID)
				s.Shutdown(context.Background(), "parent process exited")
				return
			}
		}
	}
}

// Shutdown runs the graceful shutdown sequence of spec.md §4.1: broadcast a
// shutdown notice, wait a short grace period, close every connection,
// unlink the socket file. Safe to call more than once; only the first call
// acts.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	slog.Info("daemon shutting down", "reason", reason, "peers", len(peers))

	notice, err := envelope.New(envelope.TypeShutdownNote, "shutdown-"+strconv.FormatInt(time.Now().UnixNano(), 10), nil, map[string]string{"reason": reason})
	if err == nil {
		if line, err := notice.MarshalLine(); err == nil {
			for _, p := range peers {
				select {
				case p.writeQueue <- line:
				default:
				}
			}
		}
	}

	select {
	case <-time.After(ShutdownGrace):
	case <-ctx.Done():
	}

	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.peers = make(map[net.Conn]*peer)
	s.mu.Unlock()

	_ = os.Remove(s.socketPath)

	slog.Info("daemon stopped")
	return nil
}
