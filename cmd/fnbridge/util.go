package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/oriys/fnbridge/internal/codeloader"
	"github.com/oriys/fnbridge/internal/config"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/objectstore"
)

// setupLoader installs the object store fetcher and the plugin policy on the
// process-wide loader.
func setupLoader(ctx context.Context, c *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	codeloader.DefaultModules().SetPluginsEnabled(c.Loader.EnablePlugins)
	if !c.ObjectStore.Enabled {
		return nil
	}
	store, err := objectstore.New(ctx, c.ObjectStore)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	codeloader.SetDefault(codeloader.New(codeloader.WithFetcher(store, c.Loader.FetchDir)))
	logging.Op().Info("object store enabled", "endpoint", c.ObjectStore.Endpoint, "fetch_dir", c.Loader.FetchDir)
	return nil
}

// readUDF returns the UDF configuration JSON named by ref: inline JSON when
// it starts with '{', otherwise a file path.
func readUDF(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("--udf is required")
	}
	if strings.HasPrefix(ref, "{") {
		return ref, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read udf config: %w", err)
	}
	return string(data), nil
}

// decodeJSON decodes text keeping numbers as json.Number. Empty text is nil.
func decodeJSON(text string) (any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON %q: %w", text, err)
	}
	return v, nil
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// calcInput is one --input flag: column names and the CSV file holding them.
type calcInput struct {
	Names []string
	Path  string
}

// parseInput parses "names=a,b:path.csv".
func parseInput(s string) (calcInput, error) {
	spec, ok := strings.CutPrefix(s, "names=")
	if !ok {
		return calcInput{}, fmt.Errorf("input %q: expected names=a,b:file.csv", s)
	}
	names, path, ok := strings.Cut(spec, ":")
	if !ok || path == "" {
		return calcInput{}, fmt.Errorf("input %q: missing file", s)
	}
	cols := splitList(names)
	if len(cols) == 0 {
		return calcInput{}, fmt.Errorf("input %q: no column names", s)
	}
	return calcInput{Names: cols, Path: path}, nil
}
