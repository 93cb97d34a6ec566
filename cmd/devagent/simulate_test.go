package main

import "testing"

func TestRunSimulateFotaOnlyBCCompletes(t *testing.T) {
	if err := runSimulateFota(4096, 0, 1024); err != nil {
		t.Fatalf("expected the bytecode-only simulation to complete, got: %v", err)
	}
}

func TestRunSimulateFotaBCAndVMCompletes(t *testing.T) {
	if err := runSimulateFota(4096, 2048, 1024); err != nil {
		t.Fatalf("expected the bytecode+VM simulation to complete, got: %v", err)
	}
}

func TestRunSimulateFotaUnevenChunkSizeCompletes(t *testing.T) {
	if err := runSimulateFota(5000, 0, 1536); err != nil {
		t.Fatalf("expected a non-multiple chunk size to still complete, got: %v", err)
	}
}
