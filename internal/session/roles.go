package session

import (
	"time"

	log "github.com/sirupsen/logrus"

	"devagent/internal/transport"
)

// readLoop is the Reader role: single-threaded, dispatches RPC (C5) and
// FOTA (C6) synchronously as frames arrive (spec.md §4.5/§5 — "no
// head-of-line avoidance").
func (m *Manager) readLoop() {
	for {
		m.waitWhileReconnecting()

		codec := m.currentCodec()
		if codec == nil {
			m.clock.Sleep(reconnectPoll)
			continue
		}

		msg, err := codec.Decode()
		if err != nil {
			log.Warnf("session: reader: %v", err)
			m.hooks.disconnected(err)
			m.reconnect()
			continue
		}
		m.hooks.frameRecv(msg)
		m.dispatchInbound(msg)
	}
}

func (m *Manager) dispatchInbound(msg transport.Message) {
	switch {
	case m.disp.IsCall(msg):
		if reply := m.disp.Dispatch(msg); reply != nil {
			if err := m.Send(*reply); err != nil {
				log.Warnf("session: failed to enqueue RETN: %v", err)
			}
		}
	case msg.Has("terminate"):
		log.Infof("session: terminate requested by ADM")
		m.mu.Lock()
		stream := m.stream
		m.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
	case msg.Cmd() == "OTA":
		if m.ota != nil {
			m.ota.HandleOTA(msg)
		}
	default:
		log.Debugf("session: ignoring unrecognized frame: %v", map[string]any(msg))
	}
}

// writeLoop is the standalone Writer role (standard mode): sole producer
// on the socket, draining the outbound queue (spec.md §4.3/§5).
func (m *Manager) writeLoop() {
	done := make(chan struct{}) // never closed: role lifetime == process lifetime
	for {
		m.waitWhileReconnecting()

		msg, ok := m.queue.Dequeue(done)
		if !ok {
			continue
		}
		m.writeFrame(msg)
	}
}

// heartbeatLoop is the dedicated Heartbeat role (standard mode): sleeps
// for the negotiated interval then enqueues HTBM (spec.md §4.4).
func (m *Manager) heartbeatLoop() {
	for {
		m.waitWhileReconnecting()

		interval := m.heartbeatIntervalS()
		if interval <= 0 {
			interval = defaultHeartbeat
		}
		m.clock.Sleep(time.Duration(interval) * time.Second)

		if err := m.Send(transport.NewHeartbeat()); err != nil {
			log.Warnf("session: heartbeat enqueue failed: %v", err)
			m.reconnect()
			continue
		}
		m.hooks.heartbeat()
	}
}

// writeHeartbeatLoop is the combined Writer+Heartbeat role (low_res mode):
// a bounded wait on the outbound queue for the remaining heartbeat budget;
// queue-empty-by-timeout sends a heartbeat and resets the elapsed clock
// (spec.md §4.4).
func (m *Manager) writeHeartbeatLoop() {
	done := make(chan struct{})
	lastHeartbeat := m.clock.Now()

	for {
		m.waitWhileReconnecting()

		interval := m.heartbeatIntervalS()
		if interval <= 0 {
			interval = defaultHeartbeat
		}
		remaining := time.Duration(interval)*time.Second - m.clock.Now().Sub(lastHeartbeat)

		msg, ok := m.queue.DequeueTimeout(done, remaining)
		if !ok {
			// Queue empty for the whole remaining budget: the heartbeat is
			// due. Written directly rather than round-tripped through the
			// queue — the Writer is the only socket writer either way
			// (spec.md §4.4/§5).
			m.writeFrame(transport.NewHeartbeat())
			lastHeartbeat = m.clock.Now()
			m.hooks.heartbeat()
			continue
		}
		m.writeFrame(msg)
	}
}

func (m *Manager) writeFrame(msg any) {
	codec := m.currentCodec()
	if codec == nil {
		return
	}
	if err := codec.Encode(msg); err != nil {
		log.Warnf("session: write failed: %v", err)
		m.reconnect()
		return
	}
	m.hooks.frameSent(msg)
}
