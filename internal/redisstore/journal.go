package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"subjectfix/internal/domain"
)

const keyJournalIndex = "journal:index"

func journalKey(id string) string {
	return fmt.Sprintf("journal:%s", id)
}

func journalRawKey(id string) string {
	return fmt.Sprintf("journal:raw:%s", id)
}

// SaveJournalEntry writes entry and indexes it by creation time.
func (s *Store) SaveJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, journalKey(entry.ID), data, 0)
	pipe.ZAdd(ctx, keyJournalIndex, redis.Z{
		Score:  float64(entry.CreatedAt.UnixMilli()),
		Member: entry.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetJournalEntry(ctx context.Context, id string) (*domain.JournalEntry, error) {
	val, err := s.client.Get(ctx, journalKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("journal entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var entry domain.JournalEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListJournalEntries returns up to limit open entries, oldest first. Index members
// whose entry has vanished are skipped.
func (s *Store) ListJournalEntries(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, keyJournalIndex, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.JournalEntry{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, journalKey(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.JournalEntry, 0, len(vals))
	for _, val := range vals {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var entry domain.JournalEntry
		if err := json.Unmarshal([]byte(str), &entry); err == nil {
			entries = append(entries, &entry)
		}
	}
	return entries, nil
}

// DeleteJournalEntry removes the entry, its index member and any raw bytes kept in
// Redis for it.
func (s *Store) DeleteJournalEntry(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, journalKey(id), journalRawKey(id))
	pipe.ZRem(ctx, keyJournalIndex, id)
	_, err := pipe.Exec(ctx)
	return err
}

// PutBlob stores the original bytes of a journal entry.
func (s *Store) PutBlob(ctx context.Context, id string, data []byte) error {
	return s.client.Set(ctx, journalRawKey(id), data, 0).Err()
}

func (s *Store) GetBlob(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, journalRawKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("journal blob %s: %w", id, ErrNotFound)
	}
	return data, err
}

func (s *Store) DeleteBlob(ctx context.Context, id string) error {
	return s.client.Del(ctx, journalRawKey(id)).Err()
}
