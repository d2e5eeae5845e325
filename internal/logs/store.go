// Package logs keeps invocation records in Redis streams, one stream per
// function, so that records from every bridge process can be queried and
// tailed in one place.
package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/fnbridge/internal/logging"
)

const (
	streamPrefix = "fnbridge:invocations:"
	streamTTL    = 24 * time.Hour // Keep records for 24 hours
	maxEntries   = 10000          // Max entries per function
)

// Store manages invocation records in Redis Streams. It implements
// logging.Sink.
type Store struct {
	redis *redis.Client
}

var _ logging.Sink = (*Store)(nil)

func NewStore(client *redis.Client) *Store {
	return &Store{redis: client}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewStore(client), nil
}

// StreamKey returns the stream holding records of function.
func StreamKey(function string) string {
	if function == "" {
		function = "_"
	}
	return streamPrefix + strings.ReplaceAll(function, " ", "_")
}

// Save appends a record to its function's stream.
func (s *Store) Save(ctx context.Context, entry *logging.InvocationLog) error {
	key := StreamKey(entry.Function)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxEntries,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}

	s.redis.Expire(ctx, key, streamTTL)
	return nil
}

// QueryOptions narrows Query.
type QueryOptions struct {
	Function  string
	Since     time.Time
	Until     time.Time
	Limit     int64
	RequestID string
	// FailedOnly keeps only unsuccessful calls.
	FailedOnly bool
}

// Query returns records of one function in stream order.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]logging.InvocationLog, error) {
	start, end := "-", "+"
	if !opts.Since.IsZero() {
		start = fmt.Sprintf("%d", opts.Since.UnixMilli())
	}
	if !opts.Until.IsZero() {
		end = fmt.Sprintf("%d", opts.Until.UnixMilli())
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	messages, err := s.redis.XRange(ctx, StreamKey(opts.Function), start, end).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var entries []logging.InvocationLog
	for _, msg := range messages {
		entry, ok := decode(msg)
		if !ok {
			continue
		}
		if opts.RequestID != "" && entry.RequestID != opts.RequestID {
			continue
		}
		if opts.FailedOnly && entry.Success {
			continue
		}
		entries = append(entries, entry)
		if int64(len(entries)) >= limit {
			break
		}
	}
	return entries, nil
}

// Recent returns up to count of the newest records, oldest first.
func (s *Store) Recent(ctx context.Context, function string, count int64) ([]logging.InvocationLog, error) {
	if count == 0 {
		count = 50
	}
	messages, err := s.redis.XRevRangeN(ctx, StreamKey(function), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}
	entries := make([]logging.InvocationLog, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		if entry, ok := decode(messages[i]); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Tail streams new records of function until ctx is done.
func (s *Store) Tail(ctx context.Context, function string) <-chan logging.InvocationLog {
	key := StreamKey(function)
	ch := make(chan logging.InvocationLog, 100)

	go func() {
		defer close(ch)
		lastID := "$"
		for {
			if ctx.Err() != nil {
				return
			}
			streams, err := s.redis.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   100,
				Block:   time.Second,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					entry, ok := decode(msg)
					if !ok {
						continue
					}
					select {
					case ch <- entry:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Clear removes all records of function.
func (s *Store) Clear(ctx context.Context, function string) error {
	return s.redis.Del(ctx, StreamKey(function)).Err()
}

func (s *Store) Close() error {
	return s.redis.Close()
}

func decode(msg redis.XMessage) (logging.InvocationLog, bool) {
	var entry logging.InvocationLog
	data, ok := msg.Values["data"].(string)
	if !ok {
		return entry, false
	}
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return entry, false
	}
	return entry, true
}
