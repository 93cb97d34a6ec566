// Package fotastore provides an in-memory collab.FotaStore simulator for
// development, testing, and the devagent simulate-fota CLI subcommand. It
// models flash as a single flat byte slab addressed by absolute offset,
// mirroring the shard-free accounting of a small-MCU flash part rather than
// a sharded-for-parallelism backend (SPEC_FULL.md §2).
package fotastore

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"devagent/internal/collab"
)

// Memory is a flat byte-slab flash simulator. Two fixed regions hold the
// "currently running" bytecode and VM images; OTA writes land in whichever
// free region FindBytecodeSlot/FindVMSlot points at, and Attempt/Accept
// model the bootloader's provisional-commit/rollback bookkeeping.
type Memory struct {
	mu sync.Mutex

	data []byte

	bcSlots [2]int64 // addresses of the two alternating bytecode slots
	vmSlots [2]int64 // addresses of the two alternating VM slots
	chunk   int64

	activeBC int // index into bcSlots currently marked "running"
	activeVM int // index into vmSlots currently marked "running"
	pending  int // -1 = no pending attempt; 1 = an Attempt not yet confirmed by Accept

	bcSize int64
	vmSize int64

	vmUID    string
	platform string
}

// NewMemory allocates a simulator with two alternating slots each for
// bytecode and VM images, sized bcSize/vmSize, chunked at chunkSize bytes
// (the unit FOTA block transfers are written in).
func NewMemory(bcSize, vmSize, chunkSize int64, vmUID, platform string) *Memory {
	total := 2*bcSize + 2*vmSize
	m := &Memory{
		data:     make([]byte, total),
		chunk:    chunkSize,
		bcSize:   bcSize,
		vmSize:   vmSize,
		vmUID:    vmUID,
		platform: platform,
		pending:  -1,
	}
	m.bcSlots[0] = 0
	m.bcSlots[1] = bcSize
	m.vmSlots[0] = 2 * bcSize
	m.vmSlots[1] = 2*bcSize + vmSize
	return m
}

// GetRecord implements collab.FotaStore.
func (m *Memory) GetRecord() (collab.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rec collab.Record
	rec[0] = 1 // valid-runtime marker, see collab.Record.ValidRuntime
	rec[1] = m.vmSlots[m.activeVM]
	rec[4] = m.bcSlots[m.activeBC]
	rec[8] = m.chunk
	return rec, nil
}

// FindBytecodeSlot implements collab.FotaStore: returns the address of the
// bytecode slot that is NOT currently running.
func (m *Memory) FindBytecodeSlot() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bcSlots[1-m.activeBC]
}

// FindVMSlot implements collab.FotaStore: returns the address of the VM
// slot that is NOT currently running.
func (m *Memory) FindVMSlot() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vmSlots[1-m.activeVM]
}

// EraseSlot implements collab.FotaStore, zeroing size bytes from addr. A
// non-positive addr is the documented skip-erase sentinel (spec.md §4.6
// Open Questions) and is a no-op here too.
func (m *Memory) EraseSlot(addr, size int64) error {
	if addr <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBounds(addr, size); err != nil {
		return err
	}
	for i := addr; i < addr+size; i++ {
		m.data[i] = 0xFF
	}
	return nil
}

// WriteSlot implements collab.FotaStore.
func (m *Memory) WriteSlot(addr int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBounds(addr, int64(len(data))); err != nil {
		return err
	}
	copy(m.data[addr:addr+int64(len(data))], data)
	return nil
}

// ChecksumSlot implements collab.FotaStore, returning a sha256 digest of
// the region. A real MCU would use a CRC peripheral; sha256 is adopted
// here purely as a stand-in collision-resistant digest for the simulator.
func (m *Memory) ChecksumSlot(addr, size int64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBounds(addr, size); err != nil {
		return nil
	}
	sum := sha256.Sum256(m.data[addr : addr+size])
	return sum[:]
}

// CloseSlot implements collab.FotaStore; the simulator has nothing to flush.
func (m *Memory) CloseSlot(addr int64) error {
	return nil
}

// Attempt implements collab.FotaStore: marks bcSlot/vmSlot as the
// provisional next-boot image without discarding the currently-running
// one, mirroring bootloader attempt/accept semantics (spec.md §4.6).
func (m *Memory) Attempt(bcSlot, vmSlot int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bcIdx, ok := m.slotIndex(m.bcSlots, bcSlot)
	if !ok {
		return fmt.Errorf("fotastore: unknown bc slot 0x%x", bcSlot)
	}
	m.activeBC = bcIdx

	if vmSlot > 0 {
		vmIdx, ok := m.slotIndex(m.vmSlots, vmSlot)
		if !ok {
			return fmt.Errorf("fotastore: unknown vm slot 0x%x", vmSlot)
		}
		m.activeVM = vmIdx
	}
	m.pending = 1
	return nil
}

// Accept implements collab.FotaStore: clears the pending/rollback marker,
// confirming the currently-running image is healthy.
func (m *Memory) Accept() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = -1
	return nil
}

// Info implements collab.VMInfo.
func (m *Memory) Info() (vmUID, platform string) {
	return m.vmUID, m.platform
}

func (m *Memory) checkBounds(addr, size int64) error {
	if addr < 0 || size < 0 || addr+size > int64(len(m.data)) {
		return fmt.Errorf("fotastore: out of bounds write addr=0x%x size=%d", addr, size)
	}
	return nil
}

func (m *Memory) slotIndex(slots [2]int64, addr int64) (int, bool) {
	for i, s := range slots {
		if s == addr {
			return i, true
		}
	}
	return 0, false
}

// NoopReset is a collab.Reset stand-in for environments with no real MCU to
// reboot (the simulate-fota CLI subcommand, unit tests).
type NoopReset struct{}

func (NoopReset) MCUReset() {}

var (
	_ collab.FotaStore = (*Memory)(nil)
	_ collab.VMInfo    = (*Memory)(nil)
	_ collab.Reset     = NoopReset{}
)
