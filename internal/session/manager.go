// Package session implements the Session Manager (C3) and Heartbeat
// Scheduler (C4): login handshake, reconnect policy, and the worker role
// lifecycle (Reader/Writer/Heartbeat, or Reader/Writer+Heartbeat in
// low_res mode) that the rest of the device agent runs inside of.
package session

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"devagent/internal/collab"
	"devagent/internal/rpc"
	"devagent/internal/transport"
)

// ErrLogin names spec.md §7 LoginError. login() reports a failed handshake
// by returning false; no function in this package returns ErrLogin.
var ErrLogin = fmt.Errorf("session: login failed")

const (
	loginBackoff     = 5 * time.Second
	reconnectPoll    = time.Second
	defaultPort      = 12345
	defaultHeartbeat = 60
)

// Config holds the immutable-after-construction parameters of spec.md §3.
type Config struct {
	UID    string
	Token  string
	IP     string // pre-supplied ip, overrides Address resolution if set
	Address string
	Port   int

	HeartbeatRequestedS int
	LogEnabled          bool
	LowRes              bool
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Address == "" {
		c.Address = "things.zerynth.com"
	}
	if c.HeartbeatRequestedS == 0 {
		c.HeartbeatRequestedS = defaultHeartbeat
	}
	return c
}

// OTAHandler processes one inbound {"cmd":"OTA",...} frame. Implemented by
// *fota.Machine; kept as an interface here so session does not import fota
// (fota already imports transport/collab — session stays a peer, not a
// parent, avoiding an import cycle and keeping the Reader's dependency on
// FOTA narrow).
type OTAHandler interface {
	HandleOTA(msg transport.Message)
}

// Hooks lets the embedding Device observe session lifecycle events for the
// debug API, metrics, and audit log (SPEC_FULL.md §9) without the session
// package depending on any of those concrete packages.
type Hooks struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnReconnect    func()
	OnFrameSent    func(msg any)
	OnFrameRecv    func(msg transport.Message)
	OnHeartbeat    func()

	// OnQueueDrop runs when Send's Enqueue times out (transport.ErrQueueFull),
	// for the devagent_outbound_queue_drops_total counter (SPEC_FULL.md §9.6).
	OnQueueDrop func()
}

func (h Hooks) connected()  { call0(h.OnConnected) }
func (h Hooks) reconnect()  { call0(h.OnReconnect) }
func (h Hooks) heartbeat()  { call0(h.OnHeartbeat) }
func (h Hooks) queueDrop()  { call0(h.OnQueueDrop) }
func (h Hooks) disconnected(err error) {
	if h.OnDisconnected != nil {
		h.OnDisconnected(err)
	}
}
func (h Hooks) frameSent(msg any) {
	if h.OnFrameSent != nil {
		h.OnFrameSent(msg)
	}
}
func (h Hooks) frameRecv(msg transport.Message) {
	if h.OnFrameRecv != nil {
		h.OnFrameRecv(msg)
	}
}
func call0(f func()) {
	if f != nil {
		f()
	}
}

// State is a snapshot of the session's live status, safe to read from any
// goroutine via Manager.Snapshot.
type State struct {
	Connected            bool   `json:"connected"`
	LoggedIn             bool   `json:"logged_in"`
	Reconnecting         bool   `json:"reconnecting"`
	HeartbeatEffectiveS  int    `json:"heartbeat_effective_s"`
	ServerTS             int64  `json:"server_ts"`
	LastError            string `json:"last_error,omitempty"`
}

// Manager owns the TCP connection and the three concurrent roles that
// multiplex it (spec.md §2/§5): Reader (drives RPC/FOTA dispatch), Writer
// (drains the outbound queue), and Heartbeat (emits HTBM on cadence) — or,
// in low_res mode, a single combined Writer+Heartbeat role.
type Manager struct {
	cfg     Config
	net     collab.Network
	vmInfo  collab.VMInfo
	store   collab.FotaStore
	clock   collab.Clock
	queue   *transport.Queue
	disp    *rpc.Dispatcher
	ota     OTAHandler
	hooks   Hooks

	mu           sync.Mutex
	state        State
	stream       collab.Stream
	codec        *transport.Codec
	reconnecting bool
	started      bool

	readerAlive    bool
	writerAlive    bool
	heartbeatAlive bool
}

// New builds a Manager. ota may be nil until the FOTA machine is wired
// (internal/device.New constructs both together).
func New(cfg Config, net collab.Network, vmInfo collab.VMInfo, store collab.FotaStore, clock collab.Clock, queue *transport.Queue, disp *rpc.Dispatcher, ota OTAHandler, hooks Hooks) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		net:    net,
		vmInfo: vmInfo,
		store:  store,
		clock:  clock,
		queue:  queue,
		disp:   disp,
		ota:    ota,
		hooks:  hooks,
	}
}

// SetOTAHandler wires the FOTA machine in after construction, breaking the
// construction-order cycle between session.New and fota.NewMachine (both
// need to exist before the other can be fully built; internal/device ties
// them together).
func (m *Manager) SetOTAHandler(ota OTAHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ota = ota
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.Reconnecting = m.reconnecting
	return st
}

// CloseStream force-closes the current transport connection, if any. The
// FOTA state machine calls this (wired as a fota.Closer by internal/device)
// to close the socket after a successful commit and before the MCU resets
// (spec.md §4.6/§7); the Reader role then observes the closed stream and
// drives the normal reconnect path.
func (m *Manager) CloseStream() {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// Send enqueues msg for the Writer role, returning transport.ErrQueueFull
// if the 1s enqueue deadline elapses (spec.md §4.2/§8).
func (m *Manager) Send(msg any) error {
	err := m.queue.Enqueue(msg)
	if err != nil {
		m.hooks.queueDrop()
	}
	return err
}

// Start loops login() with a 5s backoff until it succeeds, then spawns the
// worker roles. It is idempotent: calling Start while roles are already
// alive does not respawn them (spec.md §4.3).
func (m *Manager) Start() {
	for {
		if m.login() {
			break
		}
		m.clock.Sleep(loginBackoff)
	}

	m.mu.Lock()
	needReader := !m.readerAlive
	needWriter := !m.writerAlive
	needHeartbeat := !m.heartbeatAlive
	if needReader {
		m.readerAlive = true
	}
	if m.cfg.LowRes {
		if needWriter {
			m.writerAlive = true
			m.heartbeatAlive = true
		}
		needHeartbeat = false
	} else {
		if needWriter {
			m.writerAlive = true
		}
		if needHeartbeat {
			m.heartbeatAlive = true
		}
	}
	m.started = true
	m.reconnecting = false
	m.mu.Unlock()

	if needReader {
		go m.readLoop()
	}
	if m.cfg.LowRes {
		if needWriter {
			go m.writeHeartbeatLoop()
		}
	} else {
		if needWriter {
			go m.writeLoop()
		}
		if needHeartbeat {
			go m.heartbeatLoop()
		}
	}
}

// login performs the handshake of spec.md §4.3 and returns whether it
// succeeded. Failures close the socket and return false so Start retries.
func (m *Manager) login() bool {
	ip := m.cfg.IP
	if ip == "" {
		resolved, err := m.net.Resolve(m.cfg.Address)
		if err != nil {
			log.Warnf("session: resolve %s failed: %v", m.cfg.Address, err)
			return false
		}
		ip = resolved
	}

	log.Infof("session: connecting to %s:%d as %s", ip, m.cfg.Port, m.cfg.UID)
	stream, err := m.net.Dial(ip, m.cfg.Port)
	if err != nil {
		log.Warnf("session: dial failed: %v", err)
		return false
	}

	codec := transport.NewCodec(stream)
	envelope, err := m.buildLoginEnvelope()
	if err != nil {
		log.Warnf("session: building login envelope failed: %v", err)
		stream.Close()
		return false
	}

	if err := codec.Encode(envelope); err != nil {
		log.Warnf("session: send login envelope failed: %v", err)
		stream.Close()
		return false
	}
	m.hooks.frameSent(envelope)

	reply, err := codec.Decode()
	if err != nil {
		log.Warnf("session: read login reply failed: %v", err)
		stream.Close()
		return false
	}
	m.hooks.frameRecv(reply)

	if errMsg, ok := reply.String("err"); ok {
		log.Warnf("session: login rejected: %s", errMsg)
		stream.Close()
		return false
	}

	m.mu.Lock()
	m.stream = stream
	m.codec = codec
	m.state.Connected = true
	m.state.LoggedIn = true
	m.state.HeartbeatEffectiveS = m.cfg.HeartbeatRequestedS
	if ts, ok := reply.Int("ts"); ok {
		m.state.ServerTS = ts
	}
	if htbm, ok := reply.Int("htbm"); ok {
		m.state.HeartbeatEffectiveS = int(htbm)
	}
	m.mu.Unlock()

	// Best-effort: confirms the running image is healthy, locking in
	// rollback protection. Errors are swallowed (spec.md §4.3 step 5).
	if err := m.store.Accept(); err != nil {
		log.Debugf("session: fota accept: %v", err)
	}

	m.hooks.connected()
	return true
}

// buildLoginEnvelope shapes the handshake frame, including the optional
// bc/vm/chunk triple iff a valid FOTA runtime record exists (spec.md §4.3
// step 3).
func (m *Manager) buildLoginEnvelope() (transport.LoginEnvelope, error) {
	vmUID, platform := m.vmInfo.Info()
	env := transport.LoginEnvelope{
		UID:       m.cfg.UID,
		Token:     m.cfg.Token,
		Platform:  platform,
		VMUID:     vmUID,
		Heartbeat: m.cfg.HeartbeatRequestedS,
	}

	rec, err := m.store.GetRecord()
	if err != nil {
		env.OTA = false
		return env, nil
	}
	env.OTA = true
	if rec.ValidRuntime() {
		bc := rec.CurrentBCSlot()
		vm := rec.CurrentVMSlot()
		chunk := rec.ChunkSize()
		env.BC = &bc
		env.VM = &vm
		env.Chunk = &chunk
	}
	return env, nil
}

// reconnect is the single-flight guard of spec.md §4.3: if a reconnect is
// already underway, it is a no-op. Otherwise it tears the connection down
// and re-enters Start from scratch.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	stream := m.stream
	m.state.LoggedIn = false
	m.state.Connected = false
	m.mu.Unlock()

	m.hooks.reconnect()
	if stream != nil {
		stream.Close() // idempotent close, errors swallowed
	}

	log.Infof("session: reconnecting")
	m.Start()
}

// waitWhileReconnecting parks the calling role in 1s sleeps until the
// reconnect flag clears (spec.md §4.3/§5).
func (m *Manager) waitWhileReconnecting() {
	for {
		m.mu.Lock()
		r := m.reconnecting
		m.mu.Unlock()
		if !r {
			return
		}
		m.clock.Sleep(reconnectPoll)
	}
}

func (m *Manager) currentCodec() *transport.Codec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codec
}

func (m *Manager) heartbeatIntervalS() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.HeartbeatEffectiveS
}
