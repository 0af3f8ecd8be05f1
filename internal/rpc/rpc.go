// Package rpc implements the request/response envelope and method
// dispatch table carried over the transport connection: {id, method,
// params} -> {id, result?, error?}. It enforces the 10s RPC timeout from
// spec §5 and recovers registry-level panics at the dispatch boundary
// (spec §7: programmer errors are fatal in the Registry but must not
// take the whole process down in production).
package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/logging"

	"rendezvous-broker/internal/transport"
)

// DefaultTimeout is the RPC timeout enforced per spec §5. A handler that
// doesn't return within this window yields a timeout reply; registry
// work it already committed is not rolled back.
const DefaultTimeout = 10 * time.Second

// Request is one inbound RPC envelope.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the matching reply envelope. Exactly one of Result or
// Error is populated.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PublicError is implemented by domain errors (registry.Error) whose
// message text is always safe to return to the caller verbatim.
type PublicError interface {
	error
	Public() string
}

// Handler implements one RPC method. Returning a PublicError surfaces
// its Public() text; any other error surfaces as a generic internal
// error and is logged with full detail.
type Handler func(ctx context.Context, conn transport.Connection, params json.RawMessage) (any, error)

// Dispatcher holds the method table for one session coordinator.
type Dispatcher struct {
	handlers map[string]Handler
	timeout  time.Duration
	log      logging.LeveledLogger
}

// NewDispatcher creates an empty Dispatcher. timeout <= 0 defaults to
// DefaultTimeout.
func NewDispatcher(timeout time.Duration, log logging.LeveledLogger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		log:      log,
	}
}

// Handle registers h as the handler for method.
func (d *Dispatcher) Handle(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch parses raw as a Request, runs its handler under the
// dispatcher's timeout with panic recovery, and returns the marshaled
// Response. A malformed frame or unknown method yields an error
// Response rather than being silently dropped.
func (d *Dispatcher) Dispatch(conn transport.Connection, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(Response{Error: "Malformed request"})
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		return encode(Response{ID: req.ID, Error: "Unknown method"})
	}

	resp := d.invoke(conn, req, h)
	return encode(resp)
}

func (d *Dispatcher) invoke(conn transport.Connection, req Request, h Handler) (resp Response) {
	resp.ID = req.ID

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorf("rpc %s panicked: %v", req.Method, r)
				done <- outcome{err: errInternal}
			}
		}()
		result, err := h(ctx, conn, req.Params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if pe, ok := o.err.(PublicError); ok {
				resp.Error = pe.Public()
			} else {
				d.log.Errorf("rpc %s failed: %v", req.Method, o.err)
				resp.Error = "Internal error"
			}
			return resp
		}
		resp.Result = o.result
		return resp
	case <-ctx.Done():
		d.log.Warnf("rpc %s timed out after %s", req.Method, d.timeout)
		resp.Error = "Request timed out"
		return resp
	}
}

var errInternal = &internalError{}

type internalError struct{}

func (*internalError) Error() string { return "internal error" }

func encode(resp Response) []byte {
	body, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":"Internal error"}`)
	}
	return body
}
