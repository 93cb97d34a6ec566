package collab

import "testing"

func TestRecordAccessorsReadNamedSlots(t *testing.T) {
	var r Record
	r[0] = 1
	r[1] = 0x2000
	r[4] = 0x1000
	r[8] = 2048

	if !r.ValidRuntime() {
		t.Fatal("expected ValidRuntime true when slot 0 is non-zero")
	}
	if got := r.CurrentVMSlot(); got != 0x2000 {
		t.Fatalf("expected CurrentVMSlot=0x2000, got 0x%x", got)
	}
	if got := r.CurrentBCSlot(); got != 0x1000 {
		t.Fatalf("expected CurrentBCSlot=0x1000, got 0x%x", got)
	}
	if got := r.ChunkSize(); got != 2048 {
		t.Fatalf("expected ChunkSize=2048, got %d", got)
	}
}

func TestRecordZeroValueIsInvalidRuntime(t *testing.T) {
	var r Record
	if r.ValidRuntime() {
		t.Fatal("expected ValidRuntime false on the zero value")
	}
}
