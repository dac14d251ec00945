package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subjectfix/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, ok, err := s.GetCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCursor(ctx, "INBOX", Cursor{UIDValidity: 42, UID: 1007}))
	c, ok, err := s.GetCursor(ctx, "INBOX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Cursor{UIDValidity: 42, UID: 1007}, c)

	got, err := mr.Get("imap:cursor:INBOX")
	require.NoError(t, err)
	assert.Equal(t, "42:1007", got)

	require.NoError(t, mr.Set("imap:cursor:Broken", "garbage"))
	_, _, err = s.GetCursor(ctx, "Broken")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.IncrStat(ctx, "new_mail", "processed"))
	require.NoError(t, s.IncrStat(ctx, "new_mail", "processed"))
	require.NoError(t, s.IncrStat(ctx, "new_mail", "skipped"))
	require.NoError(t, s.IncrStat(ctx, "menu", "failed"))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Stats{
		{Trigger: "new_mail", Processed: 2, Skipped: 1},
		{Trigger: "menu", Failed: 1},
	}, stats)
}

func TestPatterns(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	got, err := s.GetPatterns(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.AddPattern(ctx, `\[EXTERN\]\s*`))
	require.NoError(t, s.AddPattern(ctx, `^EXT:\s*`))
	require.NoError(t, s.AddPattern(ctx, `\[EXTERN\]\s*`))

	got, err = s.GetPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{`\[EXTERN\]\s*`, `^EXT:\s*`}, got)

	removed, err := s.RemovePattern(ctx, `\[EXTERN\]\s*`)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemovePattern(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	got, err = s.GetPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{`^EXT:\s*`}, got)
}

func TestLoadMatcher(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	m, err := s.LoadMatcher(ctx, []string{`\[EXTERN\]\s*`})
	require.NoError(t, err)
	assert.True(t, m.HasMatch("[EXTERN] hi"))
	assert.False(t, m.HasMatch("EXT: hi"))

	require.NoError(t, s.AddPattern(ctx, `^EXT:\s*`))
	m, err = s.LoadMatcher(ctx, []string{`\[EXTERN\]\s*`})
	require.NoError(t, err)
	assert.True(t, m.HasMatch("EXT: hi"))
	assert.False(t, m.HasMatch("[EXTERN] hi"))
}

func TestJournalEntries(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &domain.JournalEntry{
		ID:        "01A",
		Message:   domain.MessageID{Folder: "INBOX", UID: 5},
		Folder:    "INBOX",
		Subject:   "[EXTERN] one",
		Props:     domain.Properties{Flagged: true, Tags: []string{"work"}},
		State:     domain.SagaPending,
		Size:      10,
		CreatedAt: now,
		UpdatedAt: now,
	}
	second := &domain.JournalEntry{ID: "01B", Folder: "INBOX", State: domain.SagaDeleted, CreatedAt: now.Add(time.Second), UpdatedAt: now}

	require.NoError(t, s.SaveJournalEntry(ctx, second))
	require.NoError(t, s.SaveJournalEntry(ctx, first))
	require.NoError(t, s.PutBlob(ctx, "01A", []byte("raw\r\n\r\nbytes")))

	got, err := s.GetJournalEntry(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, first.Props, got.Props)
	assert.Equal(t, first.Message, got.Message)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	list, err := s.ListJournalEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "01A", list[0].ID)
	assert.Equal(t, "01B", list[1].ID)

	list, err = s.ListJournalEntries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	blob, err := s.GetBlob(ctx, "01A")
	require.NoError(t, err)
	assert.Equal(t, "raw\r\n\r\nbytes", string(blob))

	require.NoError(t, s.DeleteJournalEntry(ctx, "01A"))
	_, err = s.GetJournalEntry(ctx, "01A")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetBlob(ctx, "01A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("journal:raw:01A"))

	list, err = s.ListJournalEntries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	for i := 0; i < 3; i++ {
		ok, err := s.RateLimit(ctx, "10.0.0.1", "login", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.RateLimit(ctx, "10.0.0.1", "login", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = s.RateLimit(ctx, "10.0.0.1", "login", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
