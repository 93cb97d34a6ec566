package fota

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"devagent/internal/collab"
	"devagent/internal/transport"
)

// Sender enqueues an outbound frame (normally backed by the Session
// Manager's transport.Queue). Errors are logged but never fail the FOTA
// state machine itself — a send failure is a session fault and is handled
// by the Reader's reconnect path, not by FOTA abort (spec.md §7).
type Sender func(msg any) error

// Closer force-closes the session's current transport connection (normally
// backed by the Session Manager's stream). commit invokes it between the
// second callback gate and the reset sleep (spec.md §4.6/§7: "callback(2),
// close socket, sleep 1s, mcu.reset()"). A nil Closer is valid and treated
// as a no-op.
type Closer func()

// Observer receives FOTA lifecycle notifications for the ambient
// telemetry/audit/frame-log/metrics components (SPEC_FULL.md §9.2-§9.6).
// All methods are optional to implement usefully; a nil Observer is valid.
type Observer interface {
	OnPhaseChange(st State)
	OnAbort(reason string, st State)
	OnComplete(st State)
}

// Machine drives the FOTA protocol sub-state-machine (C6). It is only ever
// touched from the Reader role — no locking is required around its state
// (spec.md §5: "FOTA phase transitions occur only on Reader thread").
type Machine struct {
	store    collab.FotaStore
	clock    collab.Clock
	reset    collab.Reset
	send     Sender
	closer   Closer
	callback Callback
	observer Observer

	st State
}

// NewMachine wires the FOTA state machine to its collaborators. closer,
// callback, and observer may all be nil.
func NewMachine(store collab.FotaStore, clock collab.Clock, reset collab.Reset, send Sender, closer Closer, callback Callback, observer Observer) *Machine {
	return &Machine{store: store, clock: clock, reset: reset, send: send, closer: closer, callback: callback, observer: observer}
}

// Phase reports the current transfer phase, for status/debug reporting.
func (m *Machine) Phase() Phase { return m.st.Phase }

// State returns a copy of the current transfer state.
func (m *Machine) State() State { return m.st }

// HandleOTA processes one inbound {"cmd":"OTA",...} frame (spec.md §4.6).
// It never returns an error to the caller: all failure modes are reported
// on the wire via {"ko":1,"reason":...} and absorbed locally, since a FOTA
// fault must not trigger a session reconnect (spec.md §7).
func (m *Machine) HandleOTA(msg transport.Message) {
	rec, err := m.store.GetRecord()
	if err != nil {
		log.Warnf("fota: OTA unsupported: %v", err)
		m.fail("OTA unsupported")
		return
	}

	switch {
	case msg.Has("chunk"):
		m.handleStart(msg, rec)
	case msg.Has("bin"):
		m.handleBlock(msg)
	case msg.Has("crc"):
		m.handleCRC(msg)
	case msg.Has("ok"):
		m.handleReadyCheck(msg, rec)
	default:
		log.Warnf("fota: unrecognized OTA frame: %v", map[string]any(msg))
	}
}

func (m *Machine) handleStart(msg transport.Message, rec collab.Record) {
	if m.st.Phase != Idle {
		// A new start while a transfer is already in progress is not part
		// of the spec's happy path; treat the previous attempt as
		// abandoned and let the new one proceed cleanly rather than
		// wedging the session.
		log.Warnf("fota: new OTA start while phase=%s, discarding previous attempt", m.st.Phase)
		m.st.reset()
	}

	chunk, _ := msg.Int("chunk")
	vmsize, _ := msg.Int("vmsize")
	bcsize, _ := msg.Int("bcsize")
	bcSlot, _ := msg.Int("bc")
	vmSlot, _ := msg.Int("vm")

	if bcSlot == rec.CurrentBCSlot() || (vmsize > 0 && vmSlot == rec.CurrentVMSlot()) {
		log.Warnf("fota: invalid OTA request: bc=%d vm=%d match running slots", bcSlot, vmSlot)
		m.fail("Bad slots")
		return
	}

	st := State{
		ChunkSize:    chunk,
		BCSize:       bcsize,
		VMSize:       vmsize,
		BCSlot:       bcSlot,
		VMSlot:       vmSlot,
		GenerationID: uuid.NewString(),
	}
	if vmsize <= 0 {
		st.Type = OnlyBC
		st.NextBCAddr = m.store.FindBytecodeSlot()
		st.NextVMAddr = -1
	} else {
		st.Type = BCAndVM
		st.NextVMAddr = m.store.FindVMSlot()
		st.NextBCAddr = m.store.FindBytecodeSlot()
	}
	m.st = st

	if !gate(m.callback, EventValidated) {
		log.Infof("fota: event 0 stopped by callback")
		m.fail("stopped by callback")
		return
	}

	if m.st.NextBCAddr > 0 {
		log.Infof("fota: erasing bc slot 0x%x size %d", m.st.NextBCAddr, m.st.BCSize)
		if err := m.store.EraseSlot(m.st.NextBCAddr, m.st.BCSize); err != nil {
			log.Warnf("fota: erase bc slot failed: %v", err)
			m.fail("erase failed")
			return
		}
	}
	if m.st.NextVMAddr > 0 {
		log.Infof("fota: erasing vm slot 0x%x size %d", m.st.NextVMAddr, m.st.VMSize)
		if err := m.store.EraseSlot(m.st.NextVMAddr, m.st.VMSize); err != nil {
			log.Warnf("fota: erase vm slot failed: %v", err)
			m.fail("erase failed")
			return
		}
	}

	m.st.Phase = ReceivingBC
	m.st.BlockIndex = 0
	m.st.BytesWritten = 0
	m.notifyPhaseChange()
	m.sendFrame(transport.NewOTA(transport.OTABlockRequest{B: 0, T: string(KindBC)}))
}

func (m *Machine) handleBlock(msg transport.Message) {
	if m.st.Phase != ReceivingBC && m.st.Phase != ReceivingVM {
		log.Warnf("fota: unexpected bin frame in phase %s", m.st.Phase)
		m.fail("unexpected block")
		return
	}

	t, _ := msg.String("t")
	expected := m.st.currentKind()
	if ImageKind(t) != expected {
		log.Warnf("fota: bad OTA message: expected kind %s, got %s", expected, t)
		m.fail(fmt.Sprintf("%s only ota", expected))
		return
	}

	raw, _ := msg.String("bin")
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		log.Warnf("fota: bad base64 block: %v", err)
		m.fail("bad block encoding")
		return
	}

	addr := m.st.addrFor(expected)
	size := m.st.sizeFor(expected)
	writeAt := addr + m.st.ChunkSize*m.st.BlockIndex

	log.Debugf("fota: writing block %d at 0x%x (%d bytes)", m.st.BlockIndex, writeAt, len(data))
	if err := m.store.WriteSlot(writeAt, data); err != nil {
		log.Warnf("fota: write_slot failed: %v", err)
		m.fail("write failed")
		return
	}
	m.st.BlockIndex++
	m.st.BytesWritten += int64(len(data))

	if m.st.BytesWritten < size {
		m.sendFrame(transport.NewOTA(transport.OTABlockRequest{B: m.st.BlockIndex, T: t}))
		return
	}

	if expected == KindBC {
		m.st.Phase = ReceivingBCCRC
	} else {
		m.st.Phase = ReceivingVMCRC
	}
	m.notifyPhaseChange()
	m.sendFrame(transport.NewOTA(transport.OTACRCRequest{C: 0, T: t}))
}

func (m *Machine) handleCRC(msg transport.Message) {
	if m.st.Phase != ReceivingBCCRC && m.st.Phase != ReceivingVMCRC {
		log.Warnf("fota: unexpected crc frame in phase %s", m.st.Phase)
		m.fail("unexpected crc")
		return
	}

	kind := m.st.currentKind()
	addr := m.st.addrFor(kind)
	size := m.st.sizeFor(kind)

	checksum := m.store.ChecksumSlot(addr, size)
	if err := m.store.CloseSlot(addr); err != nil {
		log.Warnf("fota: close_slot failed: %v", err)
	}

	if len(checksum) == 0 {
		log.Infof("fota: checksum_slot returned empty, skipping CRC verification")
	} else {
		hexCRC, _ := msg.String("crc")
		if !crcMatches(hexCRC, checksum) {
			log.Warnf("fota: bad crc for %s image", kind)
			m.fail("Bad CRC")
			return
		}
	}

	log.Infof("fota: %s image verified ok", kind)

	if kind == KindBC && m.st.Type == BCAndVM {
		m.st.Phase = ReceivingVM
		m.st.BlockIndex = 0
		m.st.BytesWritten = 0
		m.notifyPhaseChange()
		m.sendFrame(transport.NewOTA(transport.OTABlockRequest{B: 0, T: string(KindVM)}))
		return
	}

	m.commit()
}

// crcMatches parses hexCRC as a hex string of byte pairs (spec.md §4.6:
// "CRC is a hex string of length 2 * len(checksum)") and compares it
// byte-wise against checksum.
func crcMatches(hexCRC string, checksum []byte) bool {
	if len(hexCRC) != 2*len(checksum) {
		return false
	}
	for i, want := range checksum {
		got, err := strconv.ParseUint(hexCRC[i*2:i*2+2], 16, 8)
		if err != nil || byte(got) != want {
			return false
		}
	}
	return true
}

// commit runs the final attempt/reset sequence (spec.md §4.6 BcCrc/VmCrc
// match path).
func (m *Machine) commit() {
	if !gate(m.callback, EventPreAttempt) {
		log.Infof("fota: event 1 stopped by callback")
		m.fail("stopped by callback")
		return
	}

	if err := m.store.Attempt(m.st.BCSlot, m.st.VMSlot); err != nil {
		log.Errorf("fota: attempt failed: %v", err)
		m.fail("attempt failed")
		return
	}

	if !gate(m.callback, EventPreReset) {
		log.Infof("fota: event 2 stopped by callback")
		m.fail("stopped by callback")
		return
	}

	if m.observer != nil {
		m.observer.OnComplete(m.st)
	}
	log.Infof("fota: committed bc=%d vm=%d, closing socket and resetting", m.st.BCSlot, m.st.VMSlot)
	if m.closer != nil {
		m.closer()
	}
	m.clock.Sleep(time.Second)
	m.reset.MCUReset()
}

func (m *Machine) handleReadyCheck(msg transport.Message, rec collab.Record) {
	bc, _ := msg.Int("bc")
	vm, _ := msg.Int("vm")
	if bc == rec.CurrentBCSlot() && vm == rec.CurrentVMSlot() {
		m.sendFrame(transport.NewOTA(transport.OTAReady{OK: 1}))
		return
	}
	m.fail("not ready")
}

// fail emits exactly one {"ko":1,"reason":...} and returns the machine to
// Idle (spec.md §4.6 Abort / §8 invariants).
func (m *Machine) fail(reason string) {
	st := m.st
	m.sendFrame(transport.NewOTA(transport.OTAFail{KO: 1, Reason: reason}))
	m.st.reset()
	if m.observer != nil {
		m.observer.OnAbort(reason, st)
	}
}

func (m *Machine) notifyPhaseChange() {
	if m.observer != nil {
		m.observer.OnPhaseChange(m.st)
	}
}

func (m *Machine) sendFrame(msg any) {
	if err := m.send(msg); err != nil {
		log.Warnf("fota: failed to send protocol frame: %v", err)
	}
}
