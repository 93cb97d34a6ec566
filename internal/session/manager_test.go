package session

import (
	"net"
	"testing"
	"time"

	"devagent/internal/collab"
	"devagent/internal/rpc"
	"devagent/internal/transport"
)

type fakeNetwork struct {
	server net.Conn
}

func (n *fakeNetwork) Resolve(host string) (string, error) { return "127.0.0.1", nil }
func (n *fakeNetwork) Dial(ip string, port int) (collab.Stream, error) {
	client, server := net.Pipe()
	n.server = server
	return client, nil
}

type fakeFotaStore struct {
	rec    collab.Record
	recErr error
}

func (f *fakeFotaStore) GetRecord() (collab.Record, error)       { return f.rec, f.recErr }
func (f *fakeFotaStore) FindBytecodeSlot() int64                 { return 0 }
func (f *fakeFotaStore) FindVMSlot() int64                       { return 0 }
func (f *fakeFotaStore) EraseSlot(addr, size int64) error        { return nil }
func (f *fakeFotaStore) WriteSlot(addr int64, data []byte) error { return nil }
func (f *fakeFotaStore) ChecksumSlot(addr, size int64) []byte    { return nil }
func (f *fakeFotaStore) CloseSlot(addr int64) error              { return nil }
func (f *fakeFotaStore) Attempt(bcSlot, vmSlot int64) error      { return nil }
func (f *fakeFotaStore) Accept() error                           { return nil }

type fakeVMInfo struct{ vmUID, platform string }

func (v fakeVMInfo) Info() (string, string) { return v.vmUID, v.platform }

type fakeClock struct{}

func (fakeClock) Now() time.Time        { return time.Now() }
func (fakeClock) Sleep(d time.Duration) {}

func TestBuildLoginEnvelopeOmitsFotaFieldsWithoutValidRuntime(t *testing.T) {
	store := &fakeFotaStore{rec: collab.Record{}} // ValidRuntime() false (index 0 == 0)
	m := New(Config{UID: "u", Token: "t"}, &fakeNetwork{}, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, Hooks{})

	env, err := m.buildLoginEnvelope()
	if err != nil {
		t.Fatalf("buildLoginEnvelope failed: %v", err)
	}
	if !env.OTA {
		t.Fatal("expected OTA=true whenever a FOTA record exists at all")
	}
	if env.BC != nil || env.VM != nil || env.Chunk != nil {
		t.Fatal("expected bc/vm/chunk to be omitted without a valid runtime record")
	}
}

func TestBuildLoginEnvelopeIncludesFotaFieldsWithValidRuntime(t *testing.T) {
	var rec collab.Record
	rec[0] = 1
	rec[1] = 0x2000
	rec[4] = 0x1000
	rec[8] = 512
	store := &fakeFotaStore{rec: rec}
	m := New(Config{UID: "u", Token: "t"}, &fakeNetwork{}, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, Hooks{})

	env, err := m.buildLoginEnvelope()
	if err != nil {
		t.Fatalf("buildLoginEnvelope failed: %v", err)
	}
	if env.BC == nil || *env.BC != 0x1000 {
		t.Fatalf("expected bc=0x1000, got %v", env.BC)
	}
	if env.VM == nil || *env.VM != 0x2000 {
		t.Fatalf("expected vm=0x2000, got %v", env.VM)
	}
	if env.Chunk == nil || *env.Chunk != 512 {
		t.Fatalf("expected chunk=512, got %v", env.Chunk)
	}
}

func TestBuildLoginEnvelopeNoFotaSupport(t *testing.T) {
	store := &fakeFotaStore{recErr: errNoFota{}}
	m := New(Config{UID: "u", Token: "t"}, &fakeNetwork{}, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, Hooks{})

	env, err := m.buildLoginEnvelope()
	if err != nil {
		t.Fatalf("buildLoginEnvelope failed: %v", err)
	}
	if env.OTA {
		t.Fatal("expected OTA=false when the platform reports no FOTA record at all")
	}
}

type errNoFota struct{}

func (errNoFota) Error() string { return "no fota support" }

func TestLoginSucceedsAndSetsState(t *testing.T) {
	fakeNet := &fakeNetwork{}
	store := &fakeFotaStore{recErr: errNoFota{}}
	connected := false
	hooks := Hooks{OnConnected: func() { connected = true }}
	m := New(Config{UID: "u", Token: "t"}, fakeNet, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, hooks)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for fakeNet.server == nil {
			time.Sleep(time.Millisecond)
		}
		codec := transport.NewCodec(fakeNet.server)
		if _, err := codec.Decode(); err != nil {
			t.Errorf("server failed to read login envelope: %v", err)
			return
		}
		codec.Encode(map[string]any{"htbm": 30, "ts": 1234})
	}()

	if ok := m.login(); !ok {
		t.Fatal("expected login to succeed")
	}
	<-serverDone

	if !connected {
		t.Fatal("expected OnConnected hook to fire")
	}
	snap := m.Snapshot()
	if !snap.Connected || !snap.LoggedIn {
		t.Fatalf("expected Connected/LoggedIn true, got %+v", snap)
	}
	if snap.HeartbeatEffectiveS != 30 {
		t.Fatalf("expected negotiated heartbeat 30, got %d", snap.HeartbeatEffectiveS)
	}
	if snap.ServerTS != 1234 {
		t.Fatalf("expected server ts 1234, got %d", snap.ServerTS)
	}
}

func TestLoginRejectedByServer(t *testing.T) {
	fakeNet := &fakeNetwork{}
	store := &fakeFotaStore{recErr: errNoFota{}}
	m := New(Config{UID: "u", Token: "bad"}, fakeNet, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, Hooks{})

	go func() {
		for fakeNet.server == nil {
			time.Sleep(time.Millisecond)
		}
		codec := transport.NewCodec(fakeNet.server)
		codec.Decode()
		codec.Encode(map[string]any{"err": "bad token"})
	}()

	if ok := m.login(); ok {
		t.Fatal("expected login to fail when the server returns err")
	}
}

func TestSendQueueDropFiresHook(t *testing.T) {
	dropped := false
	q := transport.NewQueue()
	m := New(Config{UID: "u", Token: "t"}, &fakeNetwork{}, fakeVMInfo{"vm", "plat"}, &fakeFotaStore{recErr: errNoFota{}}, fakeClock{}, q, rpc.NewDispatcher(nil), nil, Hooks{OnQueueDrop: func() { dropped = true }})

	for i := 0; i < transport.QueueCapacity; i++ {
		if err := m.Send(i); err != nil {
			t.Fatalf("unexpected enqueue failure: %v", err)
		}
	}
	if err := m.Send("overflow"); err == nil {
		t.Fatal("expected ErrQueueFull once the queue is saturated")
	}
	if !dropped {
		t.Fatal("expected OnQueueDrop hook to fire")
	}
}

func TestReadLoopFiresDisconnectedHookOnDecodeError(t *testing.T) {
	fakeNet := &fakeNetwork{}
	store := &fakeFotaStore{recErr: errNoFota{}}
	hookFired := make(chan error, 1)
	hooks := Hooks{OnDisconnected: func(err error) { hookFired <- err }}
	m := New(Config{UID: "u", Token: "t"}, fakeNet, fakeVMInfo{"vm", "plat"}, store, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, hooks)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for fakeNet.server == nil {
			time.Sleep(time.Millisecond)
		}
		codec := transport.NewCodec(fakeNet.server)
		codec.Decode()
		codec.Encode(map[string]any{"htbm": 30, "ts": 1})
	}()

	if ok := m.login(); !ok {
		t.Fatal("expected login to succeed")
	}
	<-serverDone

	go m.readLoop()

	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	stream.Close()

	select {
	case err := <-hookFired:
		if err == nil {
			t.Fatal("expected a non-nil error passed to OnDisconnected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnDisconnected to fire after the stream closed")
	}
}

func TestSetOTAHandlerWiresDispatch(t *testing.T) {
	m := New(Config{UID: "u", Token: "t"}, &fakeNetwork{}, fakeVMInfo{"vm", "plat"}, &fakeFotaStore{recErr: errNoFota{}}, fakeClock{}, transport.NewQueue(), rpc.NewDispatcher(nil), nil, Hooks{})

	handled := false
	m.SetOTAHandler(otaHandlerFunc(func(msg transport.Message) { handled = true }))
	m.dispatchInbound(transport.Message{"cmd": "OTA"})

	if !handled {
		t.Fatal("expected the wired OTA handler to be invoked")
	}
}

type otaHandlerFunc func(msg transport.Message)

func (f otaHandlerFunc) HandleOTA(msg transport.Message) { f(msg) }
