// Package agent serves the runner over a stream socket. Each frame is a
// 4-byte big-endian length followed by a JSON message; a connection carries
// one request at a time, and row-eval and calc requests stream collect
// frames before their response.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/internal/runner"
)

// Listen opens a listener for unix:///path.sock, tcp://host:port or
// vsock://port. A bare path is treated as a unix socket.
func Listen(addr string) (net.Listener, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		scheme, rest = "unix", addr
	}
	switch scheme {
	case "unix":
		// A stale socket from an earlier run blocks bind.
		os.Remove(rest)
		return net.Listen("unix", rest)
	case "tcp":
		return net.Listen("tcp", rest)
	case "vsock":
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port %q: %w", rest, err)
		}
		return vsock.Listen(uint32(port), nil)
	}
	return nil, fmt.Errorf("unsupported listen address %q", addr)
}

// Server answers agent requests against a runner.
type Server struct {
	runner *runner.Runner

	wg sync.WaitGroup
}

func NewServer(r *runner.Runner) *Server {
	return &Server{runner: r}
}

// Serve accepts connections until ln fails or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logging.Op().Info("agent listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			logging.Op().Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn handles requests on conn until it is closed. Handles created
// on the connection are closed with it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := &connection{server: s, conn: conn, handles: make(map[string]bool)}
	defer c.closeHandles()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logging.Op().Warn("agent read failed", "remote", remoteAddr(conn), "error", err)
			}
			return
		}
		resp := c.handleMessage(ctx, msg)
		if err := WriteMessage(conn, resp); err != nil {
			logging.Op().Warn("agent write failed", "remote", remoteAddr(conn), "error", err)
			return
		}
	}
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

type connection struct {
	server  *Server
	conn    net.Conn
	handles map[string]bool
}

func (c *connection) closeHandles() {
	for id := range c.handles {
		if err := c.server.runner.Close(id); err == nil {
			logging.Op().Debug("handle closed with connection", "handle", id)
		}
	}
}

func (c *connection) handleMessage(ctx context.Context, msg *Message) *Message {
	var resp RespPayload
	start := time.Now()
	switch msg.Type {
	case MsgTypeInit:
		resp = c.handleInit(ctx, msg.Payload)
	case MsgTypeEval:
		resp = c.handleEval(ctx, msg.Payload)
	case MsgTypeCalc:
		resp = c.handleCalc(ctx, msg.Payload)
	case MsgTypeClose:
		resp = c.handleClose(msg.Payload)
	case MsgTypePing:
		resp = RespPayload{Status: "ok"}
	default:
		resp = errorResp(fmt.Errorf("unknown message type: %d", msg.Type))
	}
	resp.DurationMs = time.Since(start).Milliseconds()

	out, err := NewMessage(MsgTypeResp, resp)
	if err != nil {
		out, _ = NewMessage(MsgTypeResp, errorResp(domain.WrapConversion(err, "encode response")))
	}
	return out
}

func errorResp(err error) RespPayload {
	return RespPayload{Error: err.Error(), ErrorKind: domain.KindOf(err)}
}

func (c *connection) handleInit(ctx context.Context, payload json.RawMessage) RespPayload {
	var p InitPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errorResp(domain.ConfigurationError("invalid init payload: %v", err))
	}
	ctx, span := c.span(ctx, "agent.init", p.Trace)
	defer span.End()

	id, err := c.server.runner.Init(ctx, runner.InitRequest{
		Kind:        p.Kind,
		Config:      p.Config,
		ResultType:  p.ResultType,
		ResultTypes: p.ResultTypes,
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return errorResp(err)
	}
	c.handles[id] = true
	observability.SetSpanOK(span)
	return RespPayload{Handle: id, Status: "initialized"}
}

func (c *connection) handleEval(ctx context.Context, payload json.RawMessage) RespPayload {
	var p EvalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errorResp(domain.ConfigurationError("invalid eval payload: %v", err))
	}
	ctx, span := c.span(ctx, "agent.eval", p.Trace)
	defer span.End()
	ctx = executor.ContextWithRequestID(ctx, p.RequestID)

	args, err := decodeArgs(p.Args)
	if err != nil {
		observability.SetSpanError(span, err)
		return withRequest(errorResp(err), p.RequestID)
	}
	rows := executor.RowCollectorFunc(func(row []any) error {
		return c.collect(CollectPayload{Row: row})
	})
	result, err := c.server.runner.Eval(ctx, p.Handle, args, rows)
	if err != nil {
		observability.SetSpanError(span, err)
		return withRequest(errorResp(err), p.RequestID)
	}
	observability.SetSpanOK(span)
	return RespPayload{RequestID: p.RequestID, Handle: p.Handle, Result: result}
}

func (c *connection) handleCalc(ctx context.Context, payload json.RawMessage) RespPayload {
	var p CalcPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errorResp(domain.ConfigurationError("invalid calc payload: %v", err))
	}
	ctx, span := c.span(ctx, "agent.calc", p.Trace)
	defer span.End()
	ctx = executor.ContextWithRequestID(ctx, p.RequestID)

	frames := executor.FrameCollectorFunc(func(content, schema string) error {
		return c.collect(CollectPayload{Content: content, Schema: schema})
	})
	if err := c.server.runner.Calc(ctx, p.Handle, p.Metadata, p.Contents, frames); err != nil {
		observability.SetSpanError(span, err)
		return withRequest(errorResp(err), p.RequestID)
	}
	observability.SetSpanOK(span)
	return RespPayload{RequestID: p.RequestID, Handle: p.Handle}
}

func (c *connection) handleClose(payload json.RawMessage) RespPayload {
	var p ClosePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errorResp(domain.ConfigurationError("invalid close payload: %v", err))
	}
	if err := c.server.runner.Close(p.Handle); err != nil {
		return errorResp(err)
	}
	delete(c.handles, p.Handle)
	return RespPayload{Handle: p.Handle, Status: "closed"}
}

func (c *connection) collect(p CollectPayload) error {
	msg, err := NewMessage(MsgTypeCollect, p)
	if err != nil {
		return err
	}
	return WriteMessage(c.conn, msg)
}

func (c *connection) span(ctx context.Context, name string, tc *observability.TraceContext) (context.Context, trace.Span) {
	if tc != nil {
		ctx = observability.ContextWithTrace(ctx, *tc)
	}
	return observability.StartServerSpan(ctx, name)
}

func withRequest(resp RespPayload, requestID string) RespPayload {
	resp.RequestID = requestID
	return resp
}

// decodeArgs decodes call arguments keeping numbers exact. Empty and null
// arguments decode to nil.
func decodeArgs(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, domain.WrapConversion(err, "invalid args")
	}
	return v, nil
}
