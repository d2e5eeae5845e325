// Package objectstore fetches code bundles referenced as s3://bucket/key from
// an S3 compatible store into a local cache directory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/oriys/fnbridge/internal/config"
	"github.com/oriys/fnbridge/internal/logging"
)

const Scheme = "s3"

// objectAPI is the part of *minio.Client the store uses.
type objectAPI interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FGetObject(ctx context.Context, bucket, key, path string, opts minio.GetObjectOptions) error
}

// Store downloads objects and keeps them until their ETag changes.
type Store struct {
	api objectAPI

	mu    sync.Mutex
	etags map[string]string // local path -> etag of the cached copy
}

// New connects to the store described by cfg. Static keys take precedence;
// otherwise the AWS default credential chain is consulted when enabled, and
// requests are anonymous when neither is configured.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("objectstore: endpoint is required")
	}
	creds, err := resolveCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(api objectAPI) *Store {
	return &Store{api: api, etags: make(map[string]string)}
}

func resolveCredentials(ctx context.Context, cfg config.ObjectStoreConfig) (*credentials.Credentials, error) {
	var provider aws.CredentialsProvider
	switch {
	case cfg.AccessKey != "":
		provider = awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	case cfg.UseAWSChain:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("objectstore: load aws config: %w", err)
		}
		provider = awsCfg.Credentials
	default:
		logging.Op().Warn("object store has no credentials, using anonymous access", "endpoint", cfg.Endpoint)
		return credentials.NewStaticV4("", "", ""), nil
	}

	v, err := provider.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: retrieve credentials: %w", err)
	}
	if v.CanExpire {
		logging.Op().Info("object store credentials expire", "source", v.Source, "expires", v.Expires)
	}
	return credentials.NewStaticV4(v.AccessKeyID, v.SecretAccessKey, v.SessionToken), nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid object uri %q: %w", uri, err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("object uri %q must name a bucket and an object", uri)
	}
	return u.Host, key, nil
}

// Fetch downloads uri below dir, mirroring bucket and key, and returns the
// local file. An unchanged object is served from the cache without a
// download.
func (s *Store) Fetch(ctx context.Context, uri, dir string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	root := filepath.Join(dir, bucket)
	local := filepath.Join(root, filepath.FromSlash(key))
	if !strings.HasPrefix(local, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("object key escapes cache dir: %s", key)
	}

	info, err := s.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", uri, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached(local, info.ETag) {
		logging.Op().Debug("object cache hit", "uri", uri, "etag", info.ETag)
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", err
	}
	start := time.Now()
	if err := s.api.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("download %s: %w", uri, err)
	}
	if err := os.WriteFile(local+".etag", []byte(info.ETag), 0o644); err != nil {
		logging.Op().Warn("failed to record etag", "path", local, "error", err)
	}
	s.etags[local] = info.ETag
	logging.Op().Info("object downloaded", "uri", uri, "bytes", info.Size, "duration", time.Since(start))
	return local, nil
}

// cached reports whether local holds the object version etag. The on-disk
// marker lets a restarted process reuse earlier downloads.
func (s *Store) cached(local, etag string) bool {
	if etag == "" {
		return false
	}
	if _, err := os.Stat(local); err != nil {
		return false
	}
	if s.etags[local] == etag {
		return true
	}
	data, err := os.ReadFile(local + ".etag")
	if err != nil || string(data) != etag {
		return false
	}
	s.etags[local] = etag
	return true
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
