package agent

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/oriys/fnbridge/internal/codeloader"
	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/resolver"
	"github.com/oriys/fnbridge/internal/runner"
	"github.com/oriys/fnbridge/pkg/frame"
	"github.com/oriys/fnbridge/pkg/udf"
)

type adder struct{}

func (adder) Eval(a, b int64) int64 { return a + b }

type split struct{}

func (split) Eval(s string) []string { return []string{s[:1], s[1:]} }

func newTestServer() (*Server, *runner.Runner) {
	reg := udf.NewRegistry()
	reg.Register("t.add", adder{})
	reg.Register("t.split", split{})
	reg.Register("t.identity", func(df *frame.Frame) *frame.Frame { return df })
	loader := codeloader.New(codeloader.WithSearchPath(codeloader.NewSearchPath()), codeloader.WithModules(codeloader.NewModules()))
	r := runner.New(
		executor.WithLogger(logging.NewLogger(nil)),
		executor.WithResolverOptions(resolver.WithRegistry(reg), resolver.WithLoader(loader)),
	)
	return NewServer(r), r
}

func pipe(t *testing.T, s *Server) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.ServeConn(context.Background(), serverConn)
		close(done)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		<-done
	})
	return NewClient(clientConn)
}

func TestAgent_ScalarRoundTrip(t *testing.T) {
	s, _ := newTestServer()
	c := pipe(t, s)
	ctx := context.Background()

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	handle, err := c.Init(ctx, InitPayload{Kind: executor.CapScalarEval, Config: `{"className": "t.add"}`, ResultType: "LONG"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if handle == "" {
		t.Fatal("empty handle")
	}
	got, err := c.Eval(ctx, handle, []any{40, 2}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != json.Number("42") {
		t.Fatalf("Eval = %#v", got)
	}

	// A null argument short-circuits to a null result.
	got, err = c.Eval(ctx, handle, nil, nil)
	if err != nil || got != nil {
		t.Fatalf("Eval(nil) = %v, %v", got, err)
	}
}

func TestAgent_ErrorsKeepConnectionUsable(t *testing.T) {
	s, _ := newTestServer()
	c := pipe(t, s)
	ctx := context.Background()

	_, err := c.Init(ctx, InitPayload{Kind: executor.CapScalarEval, Config: `{"classObject": "eA==", "classObjectType": "PICKLE"}`})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Kind != "configuration" || remote.Msg != "Invalid class object type: PICKLE" {
		t.Fatalf("Init err = %#v", err)
	}

	handle, err := c.Init(ctx, InitPayload{Kind: executor.CapScalarEval, Config: `{"className": "t.add"}`, ResultType: "LONG"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Eval(ctx, handle, []any{"x", 1}, nil)
	if !errors.As(err, &remote) || remote.Kind != "conversion" {
		t.Fatalf("Eval err = %#v", err)
	}
	if _, err := c.Eval(ctx, "no-such-handle", 1, nil); !errors.As(err, &remote) || remote.Kind != "configuration" {
		t.Fatalf("unknown handle err = %#v", err)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("connection unusable after errors: %v", err)
	}
}

func TestAgent_RowEvalStreamsCollectFrames(t *testing.T) {
	s, _ := newTestServer()
	c := pipe(t, s)
	ctx := context.Background()

	handle, err := c.Init(ctx, InitPayload{Kind: executor.CapRowEval, Config: `{"className": "t.split"}`, ResultTypes: []string{"STRING"}})
	if err != nil {
		t.Fatal(err)
	}
	var rows [][]any
	if _, err := c.Eval(ctx, handle, "abc", func(row []any) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if diff := cmp.Diff([][]any{{"a"}, {"bc"}}, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestAgent_Calc(t *testing.T) {
	s, _ := newTestServer()
	c := pipe(t, s)
	ctx := context.Background()

	handle, err := c.Init(ctx, InitPayload{Kind: executor.CapDataFrameCalc, Config: `{"className": "t.identity"}`})
	if err != nil {
		t.Fatal(err)
	}
	var outputs []string
	err = c.Calc(ctx, handle, map[string]string{"input_col_names": `[["a", "b"]]`}, []string{"1,true\n"}, func(content, schema string) error {
		outputs = append(outputs, content, schema)
		return nil
	})
	if err != nil {
		t.Fatalf("Calc: %v", err)
	}
	if diff := cmp.Diff([]string{"1,true\n", "a long, b bool"}, outputs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestAgent_HandlesClosedWithConnection(t *testing.T) {
	s, r := newTestServer()
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.ServeConn(context.Background(), serverConn)
		close(done)
	}()
	c := NewClient(clientConn)

	handle, err := c.Init(context.Background(), InitPayload{Kind: executor.CapScalarEval, Config: `{"className": "t.add"}`, ResultType: "LONG"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CloseHandle(handle); err != nil {
		t.Fatalf("CloseHandle: %v", err)
	}
	if _, err := c.Init(context.Background(), InitPayload{Kind: executor.CapScalarEval, Config: `{"className": "t.add"}`}); err != nil {
		t.Fatal(err)
	}
	if n := len(r.Handles()); n != 1 {
		t.Fatalf("handles = %d, want 1", n)
	}

	c.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after client disconnect")
	}
	if n := len(r.Handles()); n != 0 {
		t.Fatalf("handles after disconnect = %d, want 0", n)
	}
}

func TestAgent_UnknownMessageType(t *testing.T) {
	s, _ := newTestServer()
	c := pipe(t, s)
	_, err := c.roundTrip(99, struct{}{}, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Kind != "internal" {
		t.Fatalf("err = %#v", err)
	}
}

func TestReadMessage_RejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxMessageBytes+1)
	buf.Write(lenBuf[:])
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg, err := NewMessage(MsgTypeCollect, CollectPayload{Content: "1\n", Schema: "a long"})
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatal(err)
	}
	if got := binary.BigEndian.Uint32(buf.Bytes()[:4]); int(got) != buf.Len()-4 {
		t.Fatalf("length prefix %d, payload %d", got, buf.Len()-4)
	}
	read, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var p CollectPayload
	if err := json.Unmarshal(read.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if read.Type != MsgTypeCollect || p.Schema != "a long" {
		t.Fatalf("read %+v %+v", read, p)
	}
}

func TestListen(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "agent.sock")
	ln, err := Listen("unix://" + sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ln.Close()

	tcp, err := Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen tcp: %v", err)
	}
	defer tcp.Close()

	s, _ := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, tcp) }()

	c, err := Dial(context.Background(), "tcp://"+tcp.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	c.Close()

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if _, err := Listen("udp://x"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
