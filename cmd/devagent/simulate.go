package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"devagent/internal/collab"
	"devagent/internal/fota"
	"devagent/internal/fotastore"
	"devagent/internal/transport"
)

func newSimulateFotaCmd() *cobra.Command {
	var bcSize, vmSize, chunkSize int64

	cmd := &cobra.Command{
		Use:   "simulate-fota",
		Short: "Drive the FOTA state machine against the in-memory flash simulator",
		Long:  "Runs a full bytecode (and optionally VM) transfer through the FOTA state machine without a network connection, for local development and manual testing.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulateFota(bcSize, vmSize, chunkSize)
		},
	}

	cmd.Flags().Int64Var(&bcSize, "bc-size", 64*1024, "Bytecode image size in bytes")
	cmd.Flags().Int64Var(&vmSize, "vm-size", 0, "VM image size in bytes (0 = bytecode-only transfer)")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 2048, "Block transfer chunk size in bytes")

	return cmd
}

func runSimulateFota(bcSize, vmSize, chunkSize int64) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	store := fotastore.NewMemory(bcSize, vmSize, chunkSize, "sim-vm", "sim-platform")
	clock := collab.SystemClock{}

	sender := func(msg any) error {
		log.Infof("simulate-fota: -> %+v", msg)
		return nil
	}

	machine := fota.NewMachine(store, clock, fotastore.NoopReset{}, sender, nil, nil, nil)

	rec, err := store.GetRecord()
	if err != nil {
		return fmt.Errorf("simulate-fota: %w", err)
	}

	// Fields are float64 rather than int64: Message.Int mirrors how
	// encoding/json decodes numbers into map[string]any, and this command
	// never goes through an actual Decode call.
	startMsg := transport.Message{
		"chunk":  float64(chunkSize),
		"bcsize": float64(bcSize),
		"bc":     float64(store.FindBytecodeSlot()),
	}
	if vmSize > 0 {
		startMsg["vmsize"] = float64(vmSize)
		startMsg["vm"] = float64(store.FindVMSlot())
	} else {
		startMsg["vmsize"] = float64(0)
	}

	log.Infof("simulate-fota: starting transfer bc_size=%d vm_size=%d chunk_size=%d running_bc=0x%x running_vm=0x%x",
		bcSize, vmSize, chunkSize, rec.CurrentBCSlot(), rec.CurrentVMSlot())
	machine.HandleOTA(startMsg)

	for {
		st := machine.State()
		switch st.Phase {
		case fota.ReceivingBC, fota.ReceivingVM:
			if err := sendNextBlock(machine, st); err != nil {
				return err
			}
		case fota.ReceivingBCCRC:
			sendCRC(machine, store, st, fota.KindBC)
			if st.Type == fota.OnlyBC {
				log.Infof("simulate-fota: transfer complete")
				return nil
			}
		case fota.ReceivingVMCRC:
			sendCRC(machine, store, st, fota.KindVM)
			log.Infof("simulate-fota: transfer complete")
			return nil
		case fota.Idle:
			return fmt.Errorf("simulate-fota: transfer aborted before completion")
		default:
			return fmt.Errorf("simulate-fota: unexpected phase %s", st.Phase)
		}
	}
}

func sendNextBlock(machine *fota.Machine, st fota.State) error {
	kind := fota.KindBC
	size := st.BCSize
	if st.Phase == fota.ReceivingVM {
		kind = fota.KindVM
		size = st.VMSize
	}

	remaining := size - st.BytesWritten
	n := st.ChunkSize
	if n > remaining {
		n = remaining
	}
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		return fmt.Errorf("simulate-fota: generate block: %w", err)
	}

	machine.HandleOTA(transport.Message{
		"bin": base64.StdEncoding.EncodeToString(data),
		"t":   string(kind),
	})
	return nil
}

func sendCRC(machine *fota.Machine, store *fotastore.Memory, st fota.State, kind fota.ImageKind) {
	addr, size := st.NextBCAddr, st.BCSize
	if kind == fota.KindVM {
		addr, size = st.NextVMAddr, st.VMSize
	}
	checksum := store.ChecksumSlot(addr, size)
	machine.HandleOTA(transport.Message{
		"crc": hex.EncodeToString(checksum),
		"t":   string(kind),
	})
}
