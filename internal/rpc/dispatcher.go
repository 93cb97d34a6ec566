// Package rpc implements the RPC dispatcher (C5): routing inbound CALL
// frames to registered handlers and shaping RETN replies.
package rpc

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"devagent/internal/transport"
)

// Handler is a registered RPC method. Arguments and the result are raw JSON
// values (spec.md §3 rpc_handlers: "a callable of variadic JSON-value
// arguments returning a JSON value").
type Handler func(args []any) (result any, err error)

// Dispatcher routes CALL frames synchronously on the caller's goroutine —
// by design, the Reader role (spec.md §5: "no head-of-line avoidance; a
// slow RPC delays FOTA progress on the same session").
type Dispatcher struct {
	handlers map[string]Handler

	// OnDispatch, if set, runs after every Dispatch call with the method
	// name and "ok"/"error", for the Prometheus rpc_calls_total counter
	// (SPEC_FULL.md §9.6) without this package depending on internal/metrics.
	OnDispatch func(method, outcome string)
}

func NewDispatcher(handlers map[string]Handler) *Dispatcher {
	if handlers == nil {
		handlers = map[string]Handler{}
	}
	return &Dispatcher{handlers: handlers}
}

// IsCall reports whether msg satisfies all three conditions of spec.md §4.5:
// cmd=="CALL", a registered "method", and an "id".
func (d *Dispatcher) IsCall(msg transport.Message) bool {
	if msg.Cmd() != "CALL" {
		return false
	}
	method, ok := msg.String("method")
	if !ok {
		return false
	}
	if _, registered := d.handlers[method]; !registered {
		return false
	}
	return msg.Has("id")
}

// Dispatch invokes the handler for msg and returns the RETN frame to send,
// or nil if none should be sent ("ret" false or absent — spec.md §4.5).
func (d *Dispatcher) Dispatch(msg transport.Message) *transport.Return {
	method, _ := msg.String("method")
	id := msg["id"]

	var args []any
	if raw, ok := msg["args"].([]any); ok {
		args = raw
	}

	ret, _ := msg.Bool("ret")

	handler := d.handlers[method]
	log.Debugf("rpc: calling %s", method)
	result, err := invoke(handler, args)
	if err != nil {
		log.Warnf("rpc: exception in %s: %v", method, err)
		d.notifyDispatch(method, "error")
		if !ret {
			return nil
		}
		r := transport.NewReturnError(id, err.Error())
		return &r
	}
	d.notifyDispatch(method, "ok")
	if !ret {
		return nil
	}
	r := transport.NewReturnResult(id, result)
	return &r
}

func (d *Dispatcher) notifyDispatch(method, outcome string) {
	if d.OnDispatch != nil {
		d.OnDispatch(method, outcome)
	}
}

// invoke recovers from a handler panic the way the Python runtime's
// exception handling in zadm.py's _readloop naturally contains any
// exception raised inside self.rpc[msg["method"]](*args) to a single call.
func invoke(handler Handler, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(args)
}
