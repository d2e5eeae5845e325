package resolver

import (
	"context"
	"sort"
	"sync"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/script"
	"github.com/oriys/fnbridge/pkg/udf"
)

// Decoder materializes a serialized class object. data is already base64
// decoded.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, data []byte) (any, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (any, error) { return f(ctx, data) }

// Decoders maps serialization formats to decoders.
type Decoders struct {
	mu       sync.RWMutex
	decoders map[domain.CodeFormat]Decoder
}

func NewDecoders() *Decoders {
	return &Decoders{decoders: make(map[domain.CodeFormat]Decoder)}
}

// DefaultDecoders returns a registry holding the built-in formats
// GOB_BASE64 and SHELL_BASE64.
func DefaultDecoders() *Decoders {
	d := NewDecoders()
	d.Register(domain.FormatGob, DecoderFunc(decodeGob))
	d.Register(domain.FormatShell, DecoderFunc(decodeShell))
	return d
}

// Register installs dec for format, replacing any previous decoder.
func (d *Decoders) Register(format domain.CodeFormat, dec Decoder) {
	d.mu.Lock()
	d.decoders[format] = dec
	d.mu.Unlock()
}

func (d *Decoders) Lookup(format domain.CodeFormat) (Decoder, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dec, ok := d.decoders[format]
	return dec, ok
}

// Formats lists the registered formats in sorted order.
func (d *Decoders) Formats() []domain.CodeFormat {
	d.mu.RLock()
	out := make([]domain.CodeFormat, 0, len(d.decoders))
	for f := range d.decoders {
		out = append(out, f)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeGob(_ context.Context, data []byte) (any, error) {
	return udf.UnmarshalGob(data)
}

// decodeShell parses the closure source. It does not run until called.
func decodeShell(_ context.Context, data []byte) (any, error) {
	return script.Parse("closure", data)
}
