package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"gatewarden/internal/auth"
	"gatewarden/internal/creds"
	"gatewarden/internal/heart"
	"gatewarden/internal/knownhosts"
	"gatewarden/internal/recordings"
	"gatewarden/internal/store"
)

// LimitsConfig holds configurable resource limits for the server.
// TargetConfig is defined in target_config.go.
// Zero value means no limit. All values are loaded from config.yaml.
//
// Example config.yaml:
//
//	limits:
//	  max_connections: 100
//	  max_channels_per_conn: 10
type LimitsConfig struct {
	// MaxConnections is the maximum number of concurrent SSH connections
	// across all clients. Enforced by a semaphore — no race condition possible.
	// Recommended production value: 100–500 depending on server capacity.
	MaxConnections int

	// MaxChannelsPerConn is the maximum number of concurrent channels
	// within a single SSH connection. Each shell, exec or port-forward
	// request opens a new channel.
	// Recommended production value: 10.
	MaxChannelsPerConn int
}

// HostKeyPrompter decides whether a previously-unseen target host key
// should be trusted. Called once per unknown key, from the connection's
// event loop; returning true persists the key in the trust store.
// Only consulted in prompt mode — nil means unknown keys are refused.
type HostKeyPrompter func(ctx context.Context, host string, port int, key ssh.PublicKey) bool

// SSHServer represents a running instance of the Gatewarden bastion.
// It terminates inbound SSH sessions, authorizes them through the
// credential engine, and proxies them to target servers via TargetClient.
type SSHServer struct {
	addr     string
	config   *ssh.ServerConfig
	hostKey  ssh.Signer
	target   TargetConfig
	limits   LimitsConfig
	listener net.Listener
	wg       sync.WaitGroup

	trust       *knownhosts.Store
	hostKeyMode knownhosts.Mode
	prompter    HostKeyPrompter

	// sessions persists per-connection audit rows. nil disables them.
	sessions store.SessionStore

	// recorder creates session recordings. nil or a disabled manager
	// leaves sessions unrecorded; it never blocks a session either way.
	recorder *recordings.Manager

	// streams holds the live output fan-out for each active channel,
	// keyed by session id. Observers attach via WatchSession.
	streamsMu sync.Mutex
	streams   map[uuid.UUID]*recordings.Streamer

	// connSem is a buffered channel used as a semaphore to enforce MaxConnections.
	// Acquiring a slot:  connSem <- struct{}{}
	// Releasing a slot: <-connSem
	//
	// A buffered channel of capacity N guarantees that at most N goroutines
	// can hold a slot simultaneously — no race condition, no atomic counters needed.
	// nil when MaxConnections is 0 (no limit configured).
	connSem chan struct{}

	// ready is closed by Start() once the listener is bound and accepting.
	// Tests and callers can block on <-s.Ready() to avoid polling s.listener.
	ready chan struct{}
}

// ptyRequest holds the PTY parameters sent by the client.
// Stored before "shell" or "exec" arrives so it can be forwarded to the target session.
type ptyRequest struct {
	Term        string
	Width       uint32
	Height      uint32
	PixelWidth  uint32
	PixelHeight uint32
	Modes       string
}

// windowChangeRequest holds the terminal resize signal sent by the client.
// Without propagating this, TUI applications (vim, htop, tmux) will render incorrectly.
type windowChangeRequest struct {
	Width       uint32
	Height      uint32
	PixelWidth  uint32
	PixelHeight uint32
}

// NewSSHServer initialises the bastion server.
// Accepts a pre-parsed host key (ssh.Signer) so the caller can source it
// from a secret store, a database, or generate it in-memory for tests.
// The trust store and mode govern target host key verification.
func NewSSHServer(
	addr string,
	hostKey ssh.Signer,
	engine *auth.Engine,
	trust *knownhosts.Store,
	hostKeyMode knownhosts.Mode,
	target TargetConfig,
	limits LimitsConfig,
) (*SSHServer, error) {
	authenticator, err := NewAuthenticator(engine)
	if err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	if trust == nil {
		return nil, fmt.Errorf("host key trust store is required")
	}

	s := &SSHServer{
		addr:        addr,
		hostKey:     hostKey,
		target:      target,
		limits:      limits,
		trust:       trust,
		hostKeyMode: hostKeyMode,
		streams:     make(map[uuid.UUID]*recordings.Streamer),
		ready:       make(chan struct{}),
	}

	// Initialise the connection semaphore only when a limit is configured.
	// A nil semaphore means "no limit" — checked before every acquire.
	if limits.MaxConnections > 0 {
		s.connSem = make(chan struct{}, limits.MaxConnections)
	}

	config := &ssh.ServerConfig{
		PasswordCallback:  authenticator.PasswordCallback(),
		PublicKeyCallback: authenticator.PublicKeyCallback(),
		ServerVersion:     "SSH-2.0-GatewardenBastion_1.0",
	}

	config.AddHostKey(hostKey)
	s.config = config

	return s, nil
}

// SetSessionStore enables persistent session audit rows. Call before Start.
func (s *SSHServer) SetSessionStore(sessions store.SessionStore) {
	s.sessions = sessions
}

// SetRecorder enables session recording. Call before Start.
func (s *SSHServer) SetRecorder(m *recordings.Manager) {
	s.recorder = m
}

// SetHostKeyPrompter installs the decision hook for unknown target host
// keys in prompt mode. Call before Start.
func (s *SSHServer) SetHostKeyPrompter(p HostKeyPrompter) {
	s.prompter = p
}

// Start begins accepting connections and blocks until the context is cancelled
// or a SIGTERM/SIGINT signal is received.
//
// Graceful shutdown: the listener is closed first (no new connections),
// then the server waits for all active sessions to finish naturally.
func (s *SSHServer) Start(ctx context.Context) error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", s.addr, err)
	}
	log.Printf("[SSH] Gatewarden bastion listening on %s (max_connections=%d, max_channels_per_conn=%d)",
		s.addr, s.limits.MaxConnections, s.limits.MaxChannelsPerConn)

	// Signal that the listener is ready — unblocks Ready() waiters.
	// Closing a channel broadcasts to all receivers without race conditions.
	close(s.ready)

	// Watch for OS signals and context cancellation.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-quit:
			log.Printf("[SSH] Received signal %v — initiating graceful shutdown", sig)
		case <-ctx.Done():
			log.Printf("[SSH] Context cancelled — initiating graceful shutdown")
		}
		s.listener.Close()
	}()

	for {
		nConn, err := s.listener.Accept()
		if err != nil {
			if isListenerClosed(err) {
				log.Println("[SSH] Waiting for active sessions to finish...")
				s.wg.Wait()
				log.Println("[SSH] All sessions closed. Server stopped.")
				return nil
			}
			log.Printf("[SSH] Accept error: %v", err)
			continue
		}

		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			default:
				log.Printf("[LIMIT] Connection rejected from %s: limit reached (%d/%d)",
					nConn.RemoteAddr(), len(s.connSem), cap(s.connSem))
				nConn.Close()
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if s.connSem != nil {
				defer func() { <-s.connSem }()
			}
			s.handleConnection(nConn)
		}()
	}
}

// handleConnection performs the SSH handshake, dials the target via TargetClient,
// and dispatches incoming channels to the appropriate handlers.
func (s *SSHServer) handleConnection(nConn net.Conn) {
	defer nConn.Close()

	clientConn, clientChans, clientReqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		log.Printf("[SSH] Handshake failed with %s: %v", nConn.RemoteAddr(), err)
		return
	}
	defer clientConn.Close()
	log.Printf("[SSH] Connected: user=%s addr=%s client=%s",
		clientConn.User(), clientConn.RemoteAddr(), clientConn.ClientVersion())

	// One session row covers the whole connection, shared by every
	// recording made within it. A failed row is logged and the session
	// continues — losing the audit index must not lock users out.
	sessionID := uuid.New()
	if s.sessions != nil {
		row := store.Session{
			ID:         sessionID,
			Username:   clientConn.User(),
			RemoteAddr: clientConn.RemoteAddr().String(),
			Target:     s.target.Addr,
			Protocol:   creds.ProtocolSSH,
			Started:    time.Now().UTC(),
		}
		if err := s.startSessionRow(row); err != nil {
			log.Printf("[SESSION] Cannot persist session %s: %v", sessionID, err)
		} else {
			defer s.endSessionRow(sessionID)
		}
	}

	// Capture the client's SSH agent if they forwarded one.
	// Used by TargetClient when AgentForwarding is enabled in TargetConfig.
	var clientAgent agent.Agent
	go func() {
		for req := range clientReqs {
			switch req.Type {
			case "auth-agent-req@openssh.com":
				req.Reply(true, nil)
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	// The host key decision may wait on an operator, so it is bounded by
	// a per-connection context; tearing the connection down aborts any
	// pending decision instead of leaking it.
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, port := splitTargetAddr(s.target.Addr)
	events := make(chan knownhosts.Event, 8)
	hkBridge := knownhosts.NewBridge(connCtx, s.trust, s.hostKeyMode, events, host, port)
	go s.consumeHostKeyEvents(connCtx, host, port, events)
	defer hkBridge.Close()

	// Dial the target — one TargetClient shared across all channels for this connection.
	targetClient, err := Dial(s.target, hkBridge.Callback(), clientAgent)
	if err != nil {
		var mismatch *knownhosts.HostKeyMismatchError
		if errors.As(err, &mismatch) {
			log.Printf("[HOSTKEY] Refusing connection for user %s: %v", clientConn.User(), mismatch)
		} else {
			log.Printf("[PROXY] Cannot connect to target for user %s: %v", clientConn.User(), err)
		}
		// Reject all pending channels with a descriptive reason.
		for newChannel := range clientChans {
			newChannel.Reject(ssh.ConnectionFailed, "target server unavailable")
		}
		return
	}
	defer targetClient.Close()
	log.Printf("[PROXY] Connected to target %s for user %s", targetClient.Addr(), clientConn.User())

	// Per-connection channel semaphore.
	var chanSem chan struct{}
	if s.limits.MaxChannelsPerConn > 0 {
		chanSem = make(chan struct{}, s.limits.MaxChannelsPerConn)
	}

	for newChannel := range clientChans {
		switch newChannel.ChannelType() {

		case "session":
			if chanSem != nil {
				select {
				case chanSem <- struct{}{}:
				default:
					log.Printf("[LIMIT] Channel rejected for user %s: limit reached (%d/%d)",
						clientConn.User(), len(chanSem), cap(chanSem))
					newChannel.Reject(ssh.ResourceShortage, "too many channels")
					continue
				}
			}

			clientChan, clientChanReqs, err := newChannel.Accept()
			if err != nil {
				log.Printf("[SSH] Failed to accept session channel: %v", err)
				if chanSem != nil {
					<-chanSem
				}
				continue
			}

			// Each channel gets its own independent session on the target.
			targetSession, err := targetClient.NewSession()
			if err != nil {
				log.Printf("[PROXY] Failed to open target session: %v", err)
				clientChan.Close()
				if chanSem != nil {
					<-chanSem
				}
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if chanSem != nil {
					defer func() { <-chanSem }()
				}
				s.handleSession(clientConn, clientChan, clientChanReqs, targetSession, sessionID)
			}()

		case "direct-tcpip":
			newChannel.Reject(ssh.Prohibited, "port forwarding not supported")
			log.Printf("[SSH] Rejected direct-tcpip channel")

		default:
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			log.Printf("[SSH] Rejected channel of type %q", newChannel.ChannelType())
		}
	}
}

// consumeHostKeyEvents drains one connection's host key events until
// Disconnect or the connection context ends. Unknown keys are resolved
// through the prompter; with no prompter installed they are refused.
func (s *SSHServer) consumeHostKeyEvents(ctx context.Context, host string, port int, events <-chan knownhosts.Event) {
	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case knownhosts.HostKeyReceived:
				log.Printf("[HOSTKEY] %s:%d presented %s key (%s)",
					host, port, ev.Key.Type(), ssh.FingerprintSHA256(ev.Key))
			case knownhosts.HostKeyUnknown:
				accept := false
				if s.prompter != nil {
					accept = s.prompter(ctx, host, port, ev.Key)
				}
				ev.Reply <- accept
			case knownhosts.Disconnect:
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleSession negotiates PTY/shell/exec requests and runs the bridge
// between the client channel and the target session, teeing traffic into
// the session recorders when recording is enabled.
func (s *SSHServer) handleSession(
	conn *ssh.ServerConn,
	clientChan ssh.Channel,
	clientReqs <-chan *ssh.Request,
	targetSession *ssh.Session,
	sessionID uuid.UUID,
) {
	defer clientChan.Close()
	defer targetSession.Close()

	log.Printf("[SESSION] Opened for user: %s", conn.User())

	targetStdin, err := targetSession.StdinPipe()
	if err != nil {
		log.Printf("[SESSION] Failed to get target stdin pipe: %v", err)
		return
	}
	targetStdout, err := targetSession.StdoutPipe()
	if err != nil {
		log.Printf("[SESSION] Failed to get target stdout pipe: %v", err)
		return
	}
	targetStderr, err := targetSession.StderrPipe()
	if err != nil {
		log.Printf("[SESSION] Failed to get target stderr pipe: %v", err)
		return
	}

	var ptyReq ptyRequest
	var hasPTY bool

	for req := range clientReqs {
		switch req.Type {

		case "pty-req":
			if err := ssh.Unmarshal(req.Payload, &ptyReq); err != nil {
				log.Printf("[SESSION] Failed to parse pty-req: %v", err)
				req.Reply(false, nil)
				continue
			}
			hasPTY = true
			log.Printf("[SESSION] PTY requested: term=%s %dx%d", ptyReq.Term, ptyReq.Width, ptyReq.Height)
			req.Reply(true, nil)

		case "window-change":
			var winch windowChangeRequest
			if err := ssh.Unmarshal(req.Payload, &winch); err != nil {
				log.Printf("[SESSION] Failed to parse window-change: %v", err)
				req.Reply(false, nil)
				continue
			}
			if err := targetSession.WindowChange(int(winch.Height), int(winch.Width)); err != nil {
				log.Printf("[SESSION] Failed to propagate window-change: %v", err)
			}
			req.Reply(true, nil)

		case "shell":
			req.Reply(true, nil)

			if hasPTY {
				if err := targetSession.RequestPty(
					ptyReq.Term,
					int(ptyReq.Height),
					int(ptyReq.Width),
					ssh.TerminalModes{},
				); err != nil {
					log.Printf("[SESSION] RequestPty failed: %v", err)
					io.WriteString(clientChan, "terminal setup failed\r\n")
					return
				}
			}

			if err := targetSession.Shell(); err != nil {
				log.Printf("[SESSION] Failed to start shell: %v", err)
				io.WriteString(clientChan, "failed to start shell on target server\r\n")
				return
			}

			s.runBridge(sessionID, "shell", ptyReq, clientChan, clientReqs, targetSession,
				targetStdin, targetStdout, targetStderr)
			return

		case "exec":
			var execPayload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &execPayload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			log.Printf("[SESSION] exec: %q", execPayload.Command)

			if err := targetSession.Start(execPayload.Command); err != nil {
				log.Printf("[SESSION] Failed to exec %q: %v", execPayload.Command, err)
				return
			}

			s.runBridge(sessionID, "exec", ptyReq, clientChan, clientReqs, targetSession,
				targetStdin, targetStdout, targetStderr)
			return

		case "env":
			req.Reply(true, nil)

		default:
			log.Printf("[SESSION] Unsupported request type: %q", req.Type)
			req.Reply(false, nil)
		}
	}
}

// runBridge starts the recorders, relays traffic until either side hangs
// up, then finalizes the recordings. Late channel requests — resizes in
// particular — are serviced concurrently so TUI sessions stay usable and
// the cast file captures every geometry change.
func (s *SSHServer) runBridge(
	sessionID uuid.UUID,
	name string,
	ptyReq ptyRequest,
	clientChan ssh.Channel,
	clientReqs <-chan *ssh.Request,
	targetSession *ssh.Session,
	targetStdin io.WriteCloser,
	targetStdout, targetStderr io.Reader,
) {
	term, traffic := s.startRecorders(sessionID, name, ptyReq)
	live := s.attachStreamer(sessionID)
	defer s.detachStreamer(sessionID, live)

	bridge := heart.NewBridge(clientChan, targetStdin, targetStdout, targetStderr)
	outputs := []io.Writer{term, live}
	if traffic != nil {
		outputs = append(outputs, traffic.ChunkWriter(s.target.Addr, true))
		bridge.TeeInput(newSafeSink("traffic", traffic.ChunkWriter(s.target.Addr, false)))
	}
	bridge.TeeOutput(newSafeSink("terminal", io.MultiWriter(outputs...)))

	go s.forwardSessionRequests(clientReqs, targetSession, term)

	bridge.Run()

	if err := targetSession.Wait(); err != nil {
		log.Printf("[SESSION] %s exited with error: %v", name, err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := term.Close(closeCtx); err != nil {
		log.Printf("[RECORD] Failed to finalize terminal recording for session %s: %v", sessionID, err)
	}
	if traffic != nil {
		if err := traffic.Close(closeCtx); err != nil {
			log.Printf("[RECORD] Failed to finalize traffic recording for session %s: %v", sessionID, err)
		}
	}
}

// attachStreamer registers a live output fan-out for the session. A
// second channel within the same session reuses the existing streamer.
func (s *SSHServer) attachStreamer(sessionID uuid.UUID) *recordings.Streamer {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if st, ok := s.streams[sessionID]; ok {
		return st
	}
	st := recordings.NewStreamer(0)
	s.streams[sessionID] = st
	return st
}

func (s *SSHServer) detachStreamer(sessionID uuid.UUID, st *recordings.Streamer) {
	s.streamsMu.Lock()
	if s.streams[sessionID] == st {
		delete(s.streams, sessionID)
	}
	s.streamsMu.Unlock()
	st.Close()
}

// WatchSession attaches w as a live viewer of an active session's
// terminal output. Returns the unsubscribe function, or false when the
// session is not currently streaming.
func (s *SSHServer) WatchSession(sessionID uuid.UUID, w io.Writer) (func(), bool) {
	s.streamsMu.Lock()
	st, ok := s.streams[sessionID]
	s.streamsMu.Unlock()
	if !ok {
		return nil, false
	}
	unsubscribe, err := st.Subscribe(w)
	if err != nil {
		log.Printf("[STREAMER] Cannot attach viewer to session %s: %v", sessionID, err)
		return nil, false
	}
	return unsubscribe, true
}

// startRecorders opens the terminal and traffic recordings for one
// channel. Recording being disabled is normal operation; any other
// failure downgrades to an unrecorded session rather than killing it.
func (s *SSHServer) startRecorders(sessionID uuid.UUID, name string, ptyReq ptyRequest) (recordings.TerminalSink, *recordings.TrafficRecorder) {
	if s.recorder == nil {
		return recordings.NopTerminalRecorder{}, nil
	}

	width, height := int(ptyReq.Width), int(ptyReq.Height)
	if width == 0 {
		width = 80
	}
	if height == 0 {
		height = 24
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var term recordings.TerminalSink = recordings.NopTerminalRecorder{}
	tr, err := s.recorder.StartTerminal(ctx, sessionID, name+".cast", width, height)
	if errors.Is(err, recordings.ErrDisabled) {
		return term, nil
	}
	if err != nil {
		log.Printf("[RECORD] Cannot start terminal recording for session %s: %v", sessionID, err)
	} else {
		term = tr
	}

	traffic, err := s.recorder.StartTraffic(ctx, sessionID, name+".traffic")
	if err != nil && !errors.Is(err, recordings.ErrDisabled) {
		log.Printf("[RECORD] Cannot start traffic recording for session %s: %v", sessionID, err)
	}
	if err != nil {
		traffic = nil
	}

	return term, traffic
}

// forwardSessionRequests services channel requests that arrive while the
// bridge is running. Resizes are propagated to the target and mirrored
// into the terminal recording.
func (s *SSHServer) forwardSessionRequests(
	clientReqs <-chan *ssh.Request,
	targetSession *ssh.Session,
	term recordings.TerminalSink,
) {
	for req := range clientReqs {
		switch req.Type {

		case "window-change":
			var winch windowChangeRequest
			if err := ssh.Unmarshal(req.Payload, &winch); err != nil {
				log.Printf("[SESSION] Failed to parse window-change: %v", err)
				req.Reply(false, nil)
				continue
			}
			if err := targetSession.WindowChange(int(winch.Height), int(winch.Width)); err != nil {
				log.Printf("[SESSION] Failed to propagate window-change: %v", err)
			}
			if err := term.WriteResize(int(winch.Width), int(winch.Height)); err != nil {
				log.Printf("[RECORD] Failed to record resize: %v", err)
			}
			req.Reply(true, nil)

		case "env":
			req.Reply(true, nil)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// startSessionRow inserts the session's audit row.
func (s *SSHServer) startSessionRow(row store.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.sessions.StartSession(ctx, row)
}

// endSessionRow stamps the session's end time.
func (s *SSHServer) endSessionRow(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessions.EndSession(ctx, id, time.Now().UTC()); err != nil {
		log.Printf("[SESSION] Cannot finalize session %s: %v", id, err)
	}
}

// safeSink wraps a recording sink so its failures never surface to the
// session path. The first error is logged; subsequent writes to a dead
// sink are silently dropped while the session keeps flowing.
type safeSink struct {
	name string
	w    io.Writer
	dead atomic.Bool
	once sync.Once
}

func newSafeSink(name string, w io.Writer) *safeSink {
	return &safeSink{name: name, w: w}
}

func (sw *safeSink) Write(p []byte) (int, error) {
	if sw.dead.Load() {
		return len(p), nil
	}
	if _, err := sw.w.Write(p); err != nil {
		sw.dead.Store(true)
		sw.once.Do(func() {
			log.Printf("[RECORD] %s sink failed, session continues unrecorded: %v", sw.name, err)
		})
	}
	return len(p), nil
}

// splitTargetAddr breaks "host:port" apart for the trust store key.
// A missing or malformed port falls back to 22.
func splitTargetAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 22
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 22
	}
	return host, port
}

// isListenerClosed reports whether the error was caused by closing the listener.
// The net package does not expose a dedicated error type for this case.
func isListenerClosed(err error) bool {
	if err == nil {
		return false
	}
	const msg = "use of closed network connection"
	e := err.Error()
	for i := 0; i <= len(e)-len(msg); i++ {
		if e[i:i+len(msg)] == msg {
			return true
		}
	}
	return false
}

// activeConns returns the current number of open connections.
// Reads directly from the semaphore length — no separate counter needed.
func (s *SSHServer) activeConns() int {
	if s.connSem == nil {
		return 0
	}
	return len(s.connSem)
}

// Ready returns a channel that is closed once the listener is bound and
// accepting connections. Use it in tests to avoid polling s.listener:
//
//	<-srv.Ready()  // blocks until Start() has bound the port
func (s *SSHServer) Ready() <-chan struct{} {
	return s.ready
}
