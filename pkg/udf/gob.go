package udf

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
)

// MarshalGob encodes v as a GOB_BASE64 closure payload. The concrete type of v
// must be registered with gob.Register in both the producing and the
// resolving process.
func MarshalGob(v any) (string, error) {
	var buf bytes.Buffer
	// Encoding through a pointer to an interface keeps the concrete type name
	// in the stream so the decoder can rebuild it.
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return "", fmt.Errorf("gob encode %T: %w", v, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// UnmarshalGob decodes a payload produced by MarshalGob after base64 decoding.
func UnmarshalGob(data []byte) (any, error) {
	var v any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return v, nil
}
