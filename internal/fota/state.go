package fota

// State is the FOTA transfer state owned by the Machine, valid only while
// Phase != Idle (spec.md §3).
type State struct {
	Phase Phase
	Type  Type

	ChunkSize int64
	BCSize    int64
	VMSize    int64

	BCSlot int64
	VMSlot int64

	NextBCAddr int64
	NextVMAddr int64

	BlockIndex   int64
	BytesWritten int64

	// GenerationID tags this attempt for telemetry and the debug API
	// (SPEC_FULL.md §9.5); empty outside of an active transfer.
	GenerationID string
}

// reset returns the state to Idle, clearing all transfer-scoped fields.
func (s *State) reset() {
	*s = State{}
}

// currentKind is the image kind expected for the phase currently in
// progress. Only meaningful during ReceivingBC/ReceivingVM/
// ReceivingBCCRC/ReceivingVMCRC.
func (s *State) currentKind() ImageKind {
	switch s.Phase {
	case ReceivingBC, ReceivingBCCRC:
		return KindBC
	case ReceivingVM, ReceivingVMCRC:
		return KindVM
	default:
		return ""
	}
}

func (s *State) addrFor(kind ImageKind) int64 {
	if kind == KindBC {
		return s.NextBCAddr
	}
	return s.NextVMAddr
}

func (s *State) sizeFor(kind ImageKind) int64 {
	if kind == KindBC {
		return s.BCSize
	}
	return s.VMSize
}
