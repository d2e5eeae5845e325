package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/oriys/fnbridge/internal/config"
)

type fakeAPI struct {
	objects   map[string]string // bucket/key -> content
	etag      string
	downloads int
}

func (f *fakeAPI) StatObject(_ context.Context, bucket, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return minio.ObjectInfo{}, errors.New("no such key")
	}
	return minio.ObjectInfo{Key: key, Size: int64(len(data)), ETag: f.etag}, nil
}

func (f *fakeAPI) FGetObject(_ context.Context, bucket, key, path string, _ minio.GetObjectOptions) error {
	f.downloads++
	return os.WriteFile(path, []byte(f.objects[bucket+"/"+key]), 0o644)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{uri: "s3://code/udfs/math.zip", bucket: "code", key: "udfs/math.zip"},
		{uri: "s3://code/a.sh", bucket: "code", key: "a.sh"},
		{uri: "s3://code/", wantErr: true},
		{uri: "s3://code/dir/", wantErr: true},
		{uri: "gs://code/a.sh", wantErr: true},
		{uri: "s3:///a.sh", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s/%s", bucket, key)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Fatalf("got %s/%s, want %s/%s", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestFetch_CachesByETag(t *testing.T) {
	api := &fakeAPI{objects: map[string]string{"code/lib/strx.sh": "len() { echo 1; }\n"}, etag: "v1"}
	s := NewWithClient(api)
	dir := t.TempDir()
	ctx := context.Background()

	local, err := s.Fetch(ctx, "s3://code/lib/strx.sh", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if want := filepath.Join(dir, "code", "lib", "strx.sh"); local != want {
		t.Fatalf("local = %s, want %s", local, want)
	}
	if _, err := s.Fetch(ctx, "s3://code/lib/strx.sh", dir); err != nil {
		t.Fatal(err)
	}
	if api.downloads != 1 {
		t.Fatalf("downloads = %d, want 1", api.downloads)
	}

	// A fresh store picks the etag marker up from disk.
	if _, err := NewWithClient(api).Fetch(ctx, "s3://code/lib/strx.sh", dir); err != nil {
		t.Fatal(err)
	}
	if api.downloads != 1 {
		t.Fatalf("downloads after restart = %d, want 1", api.downloads)
	}

	api.etag = "v2"
	api.objects["code/lib/strx.sh"] = "len() { echo 2; }\n"
	if _, err := s.Fetch(ctx, "s3://code/lib/strx.sh", dir); err != nil {
		t.Fatal(err)
	}
	if api.downloads != 2 {
		t.Fatalf("downloads after change = %d, want 2", api.downloads)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "len() { echo 2; }\n" {
		t.Fatalf("content = %q", data)
	}
}

func TestFetch_Errors(t *testing.T) {
	s := NewWithClient(&fakeAPI{objects: map[string]string{}})
	if _, err := s.Fetch(context.Background(), "s3://code/missing.zip", t.TempDir()); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := s.Fetch(context.Background(), "s3://code/../../etc/passwd", t.TempDir()); err == nil {
		t.Fatal("expected error for escaping key")
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(context.Background(), config.ObjectStoreConfig{}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestNew_StaticKeys(t *testing.T) {
	s, err := New(context.Background(), config.ObjectStoreConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.api.(*minio.Client); !ok {
		t.Fatalf("api = %T, want *minio.Client", s.api)
	}
}
