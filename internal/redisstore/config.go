package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"subjectfix/internal/subject"
)

// Dynamic configuration keys
const (
	KeyConfigPatterns = "config:patterns"
)

// AddPattern appends a subject pattern to the dynamic list. Duplicates are ignored.
func (s *Store) AddPattern(ctx context.Context, pattern string) error {
	existing, err := s.GetPatterns(ctx)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p == pattern {
			return nil
		}
	}
	return s.client.RPush(ctx, KeyConfigPatterns, pattern).Err()
}

// RemovePattern removes a pattern from the dynamic list and reports whether it was
// present.
func (s *Store) RemovePattern(ctx context.Context, pattern string) (bool, error) {
	n, err := s.client.LRem(ctx, KeyConfigPatterns, 0, pattern).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPatterns returns the dynamic patterns in insertion order.
// If empty, returns nil (caller should fallback to static config)
func (s *Store) GetPatterns(ctx context.Context) ([]string, error) {
	patterns, err := s.client.LRange(ctx, KeyConfigPatterns, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return patterns, nil
}

// LoadMatcher compiles the dynamic patterns, or fallback when none are stored.
func (s *Store) LoadMatcher(ctx context.Context, fallback []string) (*subject.Matcher, error) {
	patterns, err := s.GetPatterns(ctx)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = fallback
	}
	return subject.NewMatcher(patterns)
}
