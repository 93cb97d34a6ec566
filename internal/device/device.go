// Package device implements the Public Device API (C8): the single type an
// embedding application constructs, starts, and sends messages through.
package device

import (
	"fmt"

	"devagent/internal/collab"
	"devagent/internal/fota"
	"devagent/internal/rpc"
	"devagent/internal/session"
	"devagent/internal/transport"
)

// Config is the full set of construction parameters (spec.md §3/§6).
// Device.New stores it and allocates the queue; construction performs no
// I/O, matching spec.md §8.
type Config struct {
	UID     string
	Token   string
	IP      string
	Address string
	Port    int

	HeartbeatRequestedS int
	LogEnabled          bool
	LowRes              bool

	// RPCHandlers maps method name to handler (spec.md §3).
	RPCHandlers map[string]rpc.Handler

	// FotaCallback is invoked at FOTA checkpoints 0/1/2; nil means no veto
	// gate is ever consulted.
	FotaCallback fota.Callback

	Network   collab.Network
	FotaStore collab.FotaStore
	VMInfo    collab.VMInfo
	Clock     collab.Clock
	Reset     collab.Reset

	// Hooks lets the embedding application (or the debug API / metrics /
	// audit log wiring in cmd/devagent) observe protocol traffic and FOTA
	// lifecycle events (SPEC_FULL.md §9).
	Hooks        session.Hooks
	FotaObserver fota.Observer

	// OnRPCDispatch, if set, is wired straight into the rpc.Dispatcher's
	// OnDispatch hook (SPEC_FULL.md §9.6 devagent_rpc_calls_total), without
	// this package exposing the dispatcher itself.
	OnRPCDispatch func(method, outcome string)
}

// Device is the embedding application's handle to the running agent.
type Device struct {
	mgr     *session.Manager
	machine *fota.Machine
}

// New constructs a Device. No I/O happens here (spec.md §8 "construct":
// "Stores config; allocates queue; no I/O").
func New(cfg Config) (*Device, error) {
	if cfg.UID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("device: uid and token are required")
	}
	if cfg.Network == nil || cfg.FotaStore == nil || cfg.VMInfo == nil {
		return nil, fmt.Errorf("device: Network, FotaStore, and VMInfo collaborators are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = collab.SystemClock{}
	}

	queue := transport.NewQueue()
	disp := rpc.NewDispatcher(cfg.RPCHandlers)
	disp.OnDispatch = cfg.OnRPCDispatch

	sessCfg := session.Config{
		UID:                 cfg.UID,
		Token:               cfg.Token,
		IP:                  cfg.IP,
		Address:             cfg.Address,
		Port:                cfg.Port,
		HeartbeatRequestedS: cfg.HeartbeatRequestedS,
		LogEnabled:          cfg.LogEnabled,
		LowRes:              cfg.LowRes,
	}

	mgr := session.New(sessCfg, cfg.Network, cfg.VMInfo, cfg.FotaStore, clock, queue, disp, nil, cfg.Hooks)

	machine := fota.NewMachine(cfg.FotaStore, clock, cfg.Reset, mgr.Send, mgr.CloseStream, cfg.FotaCallback, cfg.FotaObserver)
	mgr.SetOTAHandler(machine)

	return &Device{mgr: mgr, machine: machine}, nil
}

// Start is idempotent; blocks until the first successful login, then
// spawns the worker roles and returns (spec.md §8).
func (d *Device) Start() {
	d.mgr.Start()
}

// Send enqueues a pre-shaped message (spec.md §8 send(msg)).
func (d *Device) Send(msg transport.Raw) error {
	return d.mgr.Send(msg)
}

// SendEvent enqueues {"cmd":"EVNT","payload":payload} (spec.md §8).
func (d *Device) SendEvent(payload any) error {
	return d.mgr.Send(transport.NewEvent(payload))
}

// SendNotification enqueues {"cmd":"NTFY","payload":{"title":...,"text":...}}
// (spec.md §8).
func (d *Device) SendNotification(title, text string) error {
	return d.mgr.Send(transport.NewNotification(title, text))
}

// Status returns a snapshot of the session state, for the debug API.
func (d *Device) Status() session.State {
	return d.mgr.Snapshot()
}

// FotaPhase returns the current FOTA transfer phase, for the debug API.
func (d *Device) FotaPhase() fota.Phase {
	return d.machine.Phase()
}

// FotaState returns a snapshot of the current FOTA transfer state, for the
// debug API's /api/fota endpoint.
func (d *Device) FotaState() fota.State {
	return d.machine.State()
}
