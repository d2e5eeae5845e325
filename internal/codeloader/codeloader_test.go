package codeloader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/oriys/fnbridge/internal/script"
)

func newTestLoader() *Loader {
	return New(WithSearchPath(NewSearchPath()), WithModules(NewModules()))
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSearchPath_AppendIsIdempotent(t *testing.T) {
	sp := NewSearchPath()
	if n := sp.Append("/a", "/b"); n != 2 {
		t.Fatalf("added %d, want 2", n)
	}
	if n := sp.Append("/a", "/b", "/c"); n != 1 {
		t.Fatalf("added %d, want 1", n)
	}
	want := []string{"/a", "/b", "/c"}
	if got := sp.Entries(); !slices.Equal(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestSearchPath_TrailingSeparatorCountsAsPresent(t *testing.T) {
	sp := NewSearchPath()
	sp.Append("/code" + string(os.PathSeparator))
	if sp.Append("/code") != 0 {
		t.Fatal("dir already present with trailing separator should not be added")
	}
	if !sp.Contains("/code") {
		t.Fatal("Contains should match trailing separator form")
	}
}

func TestMakeImportable_DirectoriesAndMissing(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")

	got, err := l.MakeImportable(context.Background(), []string{dir, missing, dir + "/./"})
	if err != nil {
		t.Fatalf("MakeImportable: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candidates = %v, want 3 entries", got)
	}
	if entries := l.SearchPath().Entries(); !slices.Equal(entries, []string{dir}) {
		t.Fatalf("search path = %v, want [%s]", entries, dir)
	}
}

func TestMakeImportable_SkipsUnsupportedFiles(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := l.MakeImportable(context.Background(), []string{txt, ""})
	if err != nil {
		t.Fatalf("unsupported file should be skipped, got %v", err)
	}
	if len(got) != 0 || l.SearchPath().Len() != 0 {
		t.Fatalf("expected nothing added, got %v / %v", got, l.SearchPath().Entries())
	}
}

func TestMakeImportable_SkipsMisnamedArchives(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.zip")
	if err := os.WriteFile(notes, []byte("just text"), 0o644); err != nil {
		t.Fatal(err)
	}
	zipped := filepath.Join(dir, "lib.tar.gz")
	writeZip(t, zipped, map[string]string{"x.sh": "x() { :; }\n"})

	got, err := l.MakeImportable(context.Background(), []string{notes, zipped})
	if err != nil {
		t.Fatalf("misnamed archives should be skipped, got %v", err)
	}
	if len(got) != 0 || l.SearchPath().Len() != 0 {
		t.Fatalf("expected nothing added, got %v / %v", got, l.SearchPath().Entries())
	}
	for _, d := range []string{filepath.Join(dir, "notes"), filepath.Join(dir, "lib")} {
		if _, err := os.Stat(d); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist: %v", d, err)
		}
	}
}

func TestMakeImportable_RemoteWithoutFetcherIsSkipped(t *testing.T) {
	l := newTestLoader()
	got, err := l.MakeImportable(context.Background(), []string{"s3://bucket/code.zip"})
	if err != nil || len(got) != 0 {
		t.Fatalf("got (%v, %v), want skip", got, err)
	}
}

type stubFetcher struct {
	path string
	uris []string
}

func (s *stubFetcher) Fetch(ctx context.Context, uri, dir string) (string, error) {
	s.uris = append(s.uris, uri)
	return s.path, nil
}

func TestMakeImportable_RemoteFetched(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeZip(t, archive, map[string]string{"tools.sh": "hi() { echo hi; }\n"})

	f := &stubFetcher{path: archive}
	l := New(WithSearchPath(NewSearchPath()), WithModules(NewModules()), WithFetcher(f, dir))
	got, err := l.MakeImportable(context.Background(), []string{"s3://bucket/bundle.zip"})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "bundle")
	if len(got) != 1 || got[0] != want {
		t.Fatalf("candidates = %v, want [%s]", got, want)
	}
	if len(f.uris) != 1 {
		t.Fatalf("fetcher called %d times", len(f.uris))
	}
}

func TestMakeImportable_ExpandsZip(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.zip")
	writeZip(t, archive, map[string]string{
		"mathx.sh":       "plus() { echo $(( $1 + $2 )); }\n",
		"nested/util.sh": "twice() { echo $1$1; }\n",
	})

	got, err := l.MakeImportable(context.Background(), []string{archive})
	if err != nil {
		t.Fatalf("MakeImportable: %v", err)
	}
	extracted := filepath.Join(dir, "pkg")
	if len(got) != 1 || got[0] != extracted {
		t.Fatalf("candidates = %v, want [%s]", got, extracted)
	}
	if _, err := os.Stat(filepath.Join(extracted, "nested", "util.sh")); err != nil {
		t.Fatalf("nested file not extracted: %v", err)
	}

	// Expanding again overwrites in place.
	writeZip(t, archive, map[string]string{"mathx.sh": "plus() { echo changed; }\n"})
	if _, err := l.MakeImportable(context.Background(), []string{archive}); err != nil {
		t.Fatalf("re-expansion: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(extracted, "mathx.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("changed")) {
		t.Fatalf("file not overwritten: %q", data)
	}
	if l.SearchPath().Len() != 1 {
		t.Fatalf("search path = %v, want one entry", l.SearchPath().Entries())
	}
}

func TestMakeImportable_ExpandsTarGz(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	archive := filepath.Join(dir, "lib.tar.gz")
	writeTarGz(t, archive, map[string]string{"a/b.sh": "f() { :; }\n"})

	got, err := l.MakeImportable(context.Background(), []string{archive})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != filepath.Join(dir, "lib") {
		t.Fatalf("candidates = %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "a", "b.sh")); err != nil {
		t.Fatal(err)
	}
}

func TestMakeImportable_ExpandsTarWithoutLitter(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	archive := filepath.Join(dir, "lib.tar")
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := "f() { :; }\n"
	if err := tw.WriteHeader(&tar.Header{Name: "m.sh", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := l.MakeImportable(context.Background(), []string{archive}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if !slices.Equal(names, []string{"lib", "lib.tar"}) {
		t.Fatalf("archive dir holds %v, want [lib lib.tar]", names)
	}
}

func TestMakeImportable_ZipDetectedByContent(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.bin")
	writeZip(t, archive, map[string]string{"x.sh": "x() { :; }\n"})

	typ, out, ok := DetectArchive(archive)
	if !ok || typ != ArchiveZip || out != filepath.Join(dir, "bundle") {
		t.Fatalf("DetectArchive = (%s, %s, %v)", typ, out, ok)
	}
}

func TestMakeImportable_ConcurrentExpansion(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	archive := filepath.Join(dir, "shared.zip")
	writeZip(t, archive, map[string]string{"m.sh": "f() { :; }\n"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.MakeImportable(context.Background(), []string{archive}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent expansion: %v", err)
	}
	if l.SearchPath().Len() != 1 {
		t.Fatalf("search path = %v", l.SearchPath().Entries())
	}
}

func TestExtractArchive_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{"../../escape.sh": "x"})
	if _, err := ExtractArchive(archive, filepath.Join(dir, "out"), ArchiveZip); err == nil {
		t.Fatal("expected error for entry escaping destination")
	}
}

func TestMakeImportable_CorruptArchiveFails(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(archive, []byte("PK\x03\x04 garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MakeImportable(context.Background(), []string{archive}); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
}

func TestMakeImportable_LoadsShellModuleFile(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	file := filepath.Join(dir, "strx.sh")
	if err := os.WriteFile(file, []byte("upper() { echo \"$1\" | tr a-z A-Z; }\nlen() { echo ${#1}; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := l.MakeImportable(context.Background(), []string{file})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("module files are not search path candidates, got %v", got)
	}
	v, ok := l.Modules().Lookup("strx", "len")
	if !ok {
		t.Fatal("strx.len not registered")
	}
	out, err := v.(*script.Function).Call("abcd")
	if err != nil {
		t.Fatal(err)
	}
	if out != script.Output("4") {
		t.Fatalf("len = %q, want 4", out)
	}
}

func TestMakeImportable_ShellSyntaxErrorFails(t *testing.T) {
	l := newTestLoader()
	file := filepath.Join(t.TempDir(), "bad.sh")
	if err := os.WriteFile(file, []byte("f() {\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MakeImportable(context.Background(), []string{file}); err == nil {
		t.Fatal("expected error for shell syntax error")
	}
}

func TestModules_FindProbesSearchPath(t *testing.T) {
	l := newTestLoader()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "textx.sh"), []byte("rev() { echo cba; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MakeImportable(context.Background(), []string{dir}); err != nil {
		t.Fatal(err)
	}

	v, err := l.Modules().Find(context.Background(), "pkg.textx.rev", l.SearchPath())
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if _, ok := v.(*script.Function); !ok {
		t.Fatalf("Find returned %T", v)
	}
	if _, ok := l.Modules().Get("pkg.textx"); !ok {
		t.Fatal("probed module should stay loaded")
	}

	_, err = l.Modules().Find(context.Background(), "pkg.textx.missing", l.SearchPath())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = l.Modules().Find(context.Background(), "nowhere.f", l.SearchPath())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = l.Modules().Find(context.Background(), "unqualified", l.SearchPath())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestModules_LastLoadWins(t *testing.T) {
	m := NewModules()
	dir := t.TempDir()
	first := filepath.Join(dir, "a", "dup.sh")
	second := filepath.Join(dir, "b", "dup.sh")
	for path, body := range map[string]string{first: "one() { :; }\n", second: "two() { :; }\n"} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ctx := context.Background()
	if _, err := m.Load(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Load(ctx, second); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Lookup("dup", "one"); ok {
		t.Fatal("earlier module should be replaced")
	}
	if _, ok := m.Lookup("dup", "two"); !ok {
		t.Fatal("latest module should be visible")
	}
}
