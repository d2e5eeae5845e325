package agent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/observability"
)

const (
	MsgTypeInit    = 1
	MsgTypeEval    = 2
	MsgTypeCalc    = 3
	MsgTypeCollect = 4
	MsgTypeResp    = 5
	MsgTypePing    = 6
	MsgTypeClose   = 7
)

// MaxMessageBytes bounds a single frame.
const MaxMessageBytes = 8 * 1024 * 1024

// Message is one length-prefixed JSON frame.
type Message struct {
	Type    int             `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type InitPayload struct {
	Kind        executor.Capability        `json:"kind"`
	Config      string                     `json:"config"`
	ResultType  string                     `json:"result_type,omitempty"`
	ResultTypes []string                   `json:"result_types,omitempty"`
	Trace       *observability.TraceContext `json:"trace,omitempty"`
}

type EvalPayload struct {
	Handle    string                     `json:"handle"`
	RequestID string                     `json:"request_id"`
	Args      json.RawMessage            `json:"args"`
	Trace     *observability.TraceContext `json:"trace,omitempty"`
}

type CalcPayload struct {
	Handle    string                     `json:"handle"`
	RequestID string                     `json:"request_id"`
	Metadata  map[string]string          `json:"metadata"`
	Contents  []string                   `json:"contents"`
	Trace     *observability.TraceContext `json:"trace,omitempty"`
}

type ClosePayload struct {
	Handle string `json:"handle"`
}

// CollectPayload carries one row of a row-eval call or one output frame of
// a calc call.
type CollectPayload struct {
	Row     []any  `json:"row,omitempty"`
	Content string `json:"content,omitempty"`
	Schema  string `json:"schema,omitempty"`
}

type RespPayload struct {
	RequestID  string `json:"request_id,omitempty"`
	Handle     string `json:"handle,omitempty"`
	Status     string `json:"status,omitempty"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ReadMessage reads one frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}

	msgLen := binary.BigEndian.Uint32(lenBuf)
	if msgLen > MaxMessageBytes {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", msgLen, MaxMessageBytes)
	}
	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}

// WriteMessage writes msg to w as a single frame.
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxMessageBytes {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageBytes)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// NewMessage marshals payload into a frame of type typ.
func NewMessage(typ int, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: data}, nil
}
