package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oriys/fnbridge/internal/convert"
	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/pkg/frame"
	"github.com/oriys/fnbridge/pkg/udf"
)

// Metadata keys of a Calc call.
const (
	MetaInputColNames = "input_col_names"
	MetaUserParams    = "user_params"
)

// DataFrameFn runs a batch function over frames decoded from CSV and pushes
// every frame it returns to a collector.
type DataFrameFn struct {
	base
	collector FrameCollector
}

func NewDataFrameFn(opts ...Option) *DataFrameFn {
	f := &DataFrameFn{}
	f.setup(CapDataFrameCalc, opts)
	return f
}

// Init resolves the function described by configJSON. Bare functions are
// used as they are, without an Eval wrapper.
func (f *DataFrameFn) Init(ctx context.Context, configJSON string) error {
	return f.init(ctx, configJSON, false)
}

func (f *DataFrameFn) SetCollector(collector FrameCollector) {
	f.mu.Lock()
	f.collector = collector
	f.mu.Unlock()
}

// Calc decodes contents into frames named by metadata, calls the function
// with them in order and emits each output frame with its inferred schema.
// User params from metadata are passed only when the function declares
// them.
func (f *DataFrameFn) Calc(ctx context.Context, metadata map[string]string, contents []string) error {
	res, err := f.resolved()
	if err != nil {
		return err
	}
	f.mu.RLock()
	collector := f.collector
	f.mu.RUnlock()
	if collector == nil {
		return domain.ConfigurationError("frame collector is not set")
	}

	c := f.begin(ctx, "calc", res.Name)
	log := logging.OpContext(c.ctx)

	names, params, err := parseMetadata(metadata)
	if err != nil {
		return c.finish(err)
	}
	if len(names) != len(contents) {
		return c.finish(domain.ConversionError("%d column name lists for %d inputs", len(names), len(contents)))
	}

	args := make([]any, 0, len(contents)+1)
	for i, content := range contents {
		df, err := frame.ReadCSV(content, names[i])
		if err != nil {
			return c.finish(domain.WrapConversion(err, "input %d", i))
		}
		log.Info("input frame", "index", i, "rows", df.NumRows(), "head", df.Head(5))
		args = append(args, df)
	}
	c.entry.Inputs = len(args)

	if res.AcceptsUserParams() {
		log.Info("user_params declared, passing them in", "function", res.Name)
		args = append(args, params)
	} else {
		log.Info("user_params not declared, not passing them in", "function", res.Name)
	}

	out, err := invoke(res, args)
	if err != nil {
		return c.finish(err)
	}
	outputs, err := Frames(out)
	if err != nil {
		return c.finish(domain.WrapConversion(err, "result of %s", res.Name))
	}

	undetermined := 0
	for i, df := range outputs {
		schema, unknown := frame.InferSchema(df)
		for _, col := range unknown {
			log.Warn("cannot determine column type, using string", "output", i, "column", col)
		}
		undetermined += len(unknown)
		content, err := df.WriteCSV()
		if err != nil {
			return c.finish(domain.WrapConversion(err, "encode output %d", i))
		}
		log.Info("output frame", "index", i, "schema", schema.String(), "head", df.Head(5))
		if err := collector.CollectDataFrameFileName(content, schema.String()); err != nil {
			return c.finish(fmt.Errorf("collect output %d: %w", i, err))
		}
		c.entry.Outputs = i + 1
	}
	metrics.Global().RecordFrames(len(outputs), undetermined)
	return c.finish(nil)
}

func parseMetadata(metadata map[string]string) ([][]string, udf.UserParams, error) {
	raw, ok := metadata[MetaInputColNames]
	if !ok {
		return nil, nil, domain.ConversionError("metadata is missing %s", MetaInputColNames)
	}
	var names [][]string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, nil, domain.WrapConversion(err, "invalid %s", MetaInputColNames)
	}

	params := udf.UserParams{}
	if raw, ok := metadata[MetaUserParams]; ok {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var decoded map[string]any
		if err := dec.Decode(&decoded); err != nil {
			return nil, nil, domain.WrapConversion(err, "invalid %s", MetaUserParams)
		}
		for k, v := range decoded {
			params[k] = convert.ToNative(v)
		}
	}
	return names, params, nil
}

// Frames normalizes a batch function result to a list of frames. A single
// frame becomes a list of one.
func Frames(v any) ([]*frame.Frame, error) {
	switch out := v.(type) {
	case *frame.Frame:
		if out == nil {
			return nil, fmt.Errorf("function returned a nil frame")
		}
		return []*frame.Frame{out}, nil
	case frame.Frame:
		return []*frame.Frame{&out}, nil
	case []*frame.Frame:
		for i, df := range out {
			if df == nil {
				return nil, fmt.Errorf("output %d is a nil frame", i)
			}
		}
		return out, nil
	case []any:
		frames := make([]*frame.Frame, len(out))
		for i, x := range out {
			df, ok := x.(*frame.Frame)
			if !ok || df == nil {
				return nil, fmt.Errorf("output %d is %T, not a frame", i, x)
			}
			frames[i] = df
		}
		return frames, nil
	case nil:
		return nil, fmt.Errorf("function returned no frame")
	}
	return nil, fmt.Errorf("function returned %T, not a frame", v)
}
