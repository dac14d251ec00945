package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	client *redis.Client
}

func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Cursor is the watcher position in one folder. UID is the highest UID already
// handed to the dispatcher; it is only meaningful under the same UIDValidity.
type Cursor struct {
	UIDValidity uint32
	UID         uint32
}

func cursorKey(folder string) string {
	return fmt.Sprintf("imap:cursor:%s", folder)
}

// GetCursor returns the stored cursor for folder and whether one exists.
func (s *Store) GetCursor(ctx context.Context, folder string) (Cursor, bool, error) {
	val, err := s.client.Get(ctx, cursorKey(folder)).Result()
	if err == redis.Nil {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, err
	}
	c, err := parseCursor(val)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("cursor for %s: %w", folder, err)
	}
	return c, true, nil
}

func (s *Store) SetCursor(ctx context.Context, folder string, c Cursor) error {
	return s.client.Set(ctx, cursorKey(folder), fmt.Sprintf("%d:%d", c.UIDValidity, c.UID), 0).Err()
}

func parseCursor(val string) (Cursor, error) {
	validity, uid, ok := strings.Cut(val, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("malformed cursor %q", val)
	}
	v, err := strconv.ParseUint(validity, 10, 32)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", val, err)
	}
	u, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor %q: %w", val, err)
	}
	return Cursor{UIDValidity: uint32(v), UID: uint32(u)}, nil
}

// RateLimit counts one hit for ip on action and reports whether the caller is
// still within limit for the current window.
func (s *Store) RateLimit(ctx context.Context, ip string, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", action, ip)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	return incr.Val() <= int64(limit), nil
}
