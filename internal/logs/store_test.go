package logs

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/oriys/fnbridge/internal/logging"
)

// newTestStore connects to a local Redis. Tests that require a running Redis
// instance are skipped automatically.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use a separate DB for tests
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewStore(client)
}

func TestStreamKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"mathx.plus", "fnbridge:invocations:mathx.plus"},
		{"", "fnbridge:invocations:_"},
		{"my func", "fnbridge:invocations:my_func"},
	}
	for _, tt := range tests {
		if got := StreamKey(tt.in); got != tt.want {
			t.Fatalf("StreamKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_SaveQueryRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fn := "test." + uuid.NewString()
	t.Cleanup(func() { s.Clear(ctx, fn) })

	for i, ok := range []bool{true, false, true} {
		entry := &logging.InvocationLog{
			RequestID:  uuid.NewString(),
			Function:   fn,
			Kind:       "scalar-eval",
			Success:    ok,
			DurationMs: int64(i),
		}
		if err := s.Save(ctx, entry); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := s.Query(ctx, QueryOptions{Function: fn})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("Query returned %d entries, want 3", len(all))
	}

	failed, err := s.Query(ctx, QueryOptions{Function: fn, FailedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].DurationMs != 1 {
		t.Fatalf("failed = %+v", failed)
	}

	recent, err := s.Recent(ctx, fn, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].DurationMs != 1 || recent[1].DurationMs != 2 {
		t.Fatalf("recent = %+v", recent)
	}
}
