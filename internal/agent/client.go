package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"

	"github.com/oriys/fnbridge/internal/observability"
)

// RemoteError is an error reported by the agent.
type RemoteError struct {
	Kind string
	Msg  string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Msg
	}
	return e.Kind + " error: " + e.Msg
}

// Client talks to an agent over one connection. Calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to an agent address accepted by Listen. vsock addresses
// take the form vsock://cid:port.
func Dial(ctx context.Context, addr string) (*Client, error) {
	scheme, rest, ok := strings.Cut(addr, "://")
	if !ok {
		scheme, rest = "unix", addr
	}
	var (
		conn net.Conn
		err  error
	)
	switch scheme {
	case "unix", "tcp":
		var d net.Dialer
		conn, err = d.DialContext(ctx, scheme, rest)
	case "vsock":
		var cid, port uint32
		if _, perr := fmt.Sscanf(rest, "%d:%d", &cid, &port); perr != nil {
			return nil, fmt.Errorf("invalid vsock address %q, want vsock://cid:port", addr)
		}
		conn, err = vsock.Dial(cid, port, nil)
	default:
		return nil, fmt.Errorf("unsupported agent address %q", addr)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends a request and reads collect frames until the response.
func (c *Client) roundTrip(typ int, payload any, onCollect func(CollectPayload) error) (*RespPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := NewMessage(typ, payload)
	if err != nil {
		return nil, err
	}
	if err := WriteMessage(c.conn, msg); err != nil {
		return nil, err
	}
	for {
		in, err := ReadMessage(c.conn)
		if err != nil {
			return nil, err
		}
		switch in.Type {
		case MsgTypeCollect:
			var p CollectPayload
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return nil, err
			}
			if onCollect != nil {
				if err := onCollect(p); err != nil {
					return nil, err
				}
			}
		case MsgTypeResp:
			var resp RespPayload
			dec := json.NewDecoder(strings.NewReader(string(in.Payload)))
			dec.UseNumber()
			if err := dec.Decode(&resp); err != nil {
				return nil, err
			}
			if resp.Error != "" {
				return &resp, &RemoteError{Kind: resp.ErrorKind, Msg: resp.Error}
			}
			return &resp, nil
		default:
			return nil, fmt.Errorf("unexpected message type %d", in.Type)
		}
	}
}

func (c *Client) Ping() error {
	_, err := c.roundTrip(MsgTypePing, struct{}{}, nil)
	return err
}

// Init creates an adapter on the agent and returns its handle.
func (c *Client) Init(ctx context.Context, p InitPayload) (string, error) {
	p.Trace = traceOf(ctx)
	resp, err := c.roundTrip(MsgTypeInit, p, nil)
	if err != nil {
		return "", err
	}
	return resp.Handle, nil
}

// Eval calls a handle. Rows of a row-eval handle are passed to onRow.
func (c *Client) Eval(ctx context.Context, handle string, args any, onRow func([]any) error) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	p := EvalPayload{Handle: handle, RequestID: uuid.New().String()[:8], Args: raw, Trace: traceOf(ctx)}
	resp, err := c.roundTrip(MsgTypeEval, p, func(cp CollectPayload) error {
		if onRow == nil {
			return nil
		}
		return onRow(cp.Row)
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Calc calls a dataframe-calc handle. Each output frame is passed to
// onFrame.
func (c *Client) Calc(ctx context.Context, handle string, metadata map[string]string, contents []string, onFrame func(content, schema string) error) error {
	p := CalcPayload{Handle: handle, RequestID: uuid.New().String()[:8], Metadata: metadata, Contents: contents, Trace: traceOf(ctx)}
	_, err := c.roundTrip(MsgTypeCalc, p, func(cp CollectPayload) error {
		if onFrame == nil {
			return nil
		}
		return onFrame(cp.Content, cp.Schema)
	})
	return err
}

// CloseHandle drops a handle on the agent.
func (c *Client) CloseHandle(handle string) error {
	_, err := c.roundTrip(MsgTypeClose, ClosePayload{Handle: handle}, nil)
	return err
}

func traceOf(ctx context.Context) *observability.TraceContext {
	tc := observability.ExtractTraceContext(ctx)
	if tc.TraceParent == "" {
		return nil
	}
	return &tc
}
