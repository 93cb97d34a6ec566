package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"devagent/internal/audit"
	"devagent/internal/collab"
	"devagent/internal/config"
	"devagent/internal/debugapi"
	"devagent/internal/device"
	"devagent/internal/fota"
	"devagent/internal/fotastore"
	"devagent/internal/framelog"
	"devagent/internal/metrics"
	"devagent/internal/rpc"
	"devagent/internal/session"
	"devagent/internal/telemetry"
	"devagent/internal/transport"
)

// metricsObserver forwards FOTA lifecycle events to the telemetry history
// store and updates the Prometheus gauges/counters, so internal/telemetry
// and internal/metrics each stay single-purpose (SPEC_FULL.md §9.6).
type metricsObserver struct {
	next fota.Observer
	m    *metrics.Metrics
}

func (o metricsObserver) OnPhaseChange(st fota.State) {
	o.m.FotaPhase.Set(float64(st.Phase))
	o.next.OnPhaseChange(st)
}

func (o metricsObserver) OnAbort(reason string, st fota.State) {
	o.m.FotaPhase.Set(float64(fota.Idle))
	o.m.FotaBytesWritten.Add(float64(st.BytesWritten))
	o.next.OnAbort(reason, st)
}

func (o metricsObserver) OnComplete(st fota.State) {
	o.m.FotaBytesWritten.Add(float64(st.BytesWritten))
	o.next.OnComplete(st)
}

// demoRandomHandler is the "random" RPC method demonstrated by the
// original Simple_ADM example's do_random: returns a pseudo-random
// integer in [a, b].
func demoRandomHandler(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("random: expected 2 arguments, got %d", len(args))
	}
	a, aok := args[0].(float64)
	b, bok := args[1].(float64)
	if !aok || !bok {
		return nil, fmt.Errorf("random: arguments must be numbers")
	}
	lo, hi := int64(a), int64(b)
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rand.Int63n(hi-lo+1), nil
}

// demoFotaCallback logs each FOTA checkpoint, mirroring the original
// FOTA_updates example's fota_callback (events 0/1/2). It never vetoes.
func demoFotaCallback(event fota.CallbackEvent) bool {
	switch event {
	case fota.EventValidated:
		log.Info("devagent: FOTA started")
	case fota.EventPreAttempt:
		log.Info("devagent: FOTA record is changing")
	case fota.EventPreReset:
		log.Info("devagent: device is going to reset")
	}
	return true
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the Application Device Manager and run the agent loop",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("devagent: failed to load config: %v", err)
	}

	// Log to file instead of stdout, matching the teacher's container-pipe
	// avoidance (SPEC_FULL.md §8.1).
	if cfg.Logs.Path != "" {
		os.MkdirAll(cfg.Logs.Path, 0755)
		if f, err := os.OpenFile(cfg.Logs.Path+"/devagent.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(f)
		}
	}

	log.Infof("devagent v%s starting", Version)
	log.Infof("  uid: %s", cfg.Device.UID)
	log.Infof("  adm: %s:%d", cfg.Device.Address, cfg.Device.Port)
	log.Infof("  low_res: %v", cfg.Device.LowRes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("devagent: shutting down")
		cancel()
	}()

	auditLog := audit.NewWriter(cfg.Logs.Path, cfg.Logs.RetentionDays, cfg.Logs.Enabled, collab.SystemClock{})
	defer auditLog.Close()

	dataDir := cfg.Logs.Path
	frames := framelog.New(0)
	history := telemetry.NewStore(dataDir)
	m := metrics.New()

	store := fotastore.NewMemory(cfg.FOTA.BytecodeSlotSize, cfg.FOTA.VMSlotSize, cfg.FOTA.ChunkSize, cfg.FOTA.VMUID, cfg.FOTA.Platform)
	net := collab.NewNetDial(dataDir)

	var dbg *debugapi.Server

	hooks := session.Hooks{
		OnConnected:    func() { log.Info("devagent: connected and logged in") },
		OnDisconnected: func(err error) { log.Warnf("devagent: disconnected: %v", err) },
		OnReconnect:    func() { m.ReconnectsTotal.Inc() },
		OnHeartbeat:    func() { m.HeartbeatsSentTotal.Inc() },
		OnQueueDrop:    func() { m.OutboundQueueDrops.Inc() },
		OnFrameSent: func(msg any) {
			auditLog.LogFrame("out", msg)
			if dbg != nil {
				dbg.PublishFrame(framelog.Frame{Time: time.Now(), Direction: "out", Raw: msg})
			}
		},
		OnFrameRecv: func(msg transport.Message) {
			auditLog.LogFrame("in", msg)
			if dbg != nil {
				dbg.PublishFrame(framelog.Frame{Time: time.Now(), Direction: "in", Cmd: msg.Cmd(), Raw: map[string]any(msg)})
			}
		},
	}

	dev, err := device.New(device.Config{
		UID:                 cfg.Device.UID,
		Token:               cfg.Device.Token,
		IP:                  cfg.Device.IP,
		Address:             cfg.Device.Address,
		Port:                cfg.Device.Port,
		HeartbeatRequestedS: cfg.Device.HeartbeatRequestedS,
		LogEnabled:          cfg.Logs.Enabled,
		LowRes:              cfg.Device.LowRes,
		RPCHandlers: map[string]rpc.Handler{
			"random": demoRandomHandler,
		},
		Network:      net,
		FotaStore:    store,
		VMInfo:       store,
		Reset:        fotastore.NoopReset{},
		FotaCallback: demoFotaCallback,
		FotaObserver: metricsObserver{next: history, m: m},
		Hooks:        hooks,
		OnRPCDispatch: func(method, outcome string) {
			m.RPCCallsTotal.WithLabelValues(method, outcome).Inc()
		},
	})
	if err != nil {
		log.Fatalf("devagent: %v", err)
	}

	if cfg.Debug.Enabled {
		dbg = debugapi.New(cfg.Debug.Addr, Version, dev, frames, history, m)
		go func() {
			if err := dbg.Run(ctx); err != nil {
				log.Errorf("devagent: debug api: %v", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				auditLog.Cleanup()
			}
		}
	}()

	dev.Start()
	<-ctx.Done()
	return nil
}
