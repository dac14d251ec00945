// Package journal records in-flight message replacements in Redis so that an
// original whose copy never arrived can be found and put back.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/redisstore"
)

var ErrNotRestorable = errors.New("journal entry is not awaiting restore")

// ErrOriginalPresent means the original of an unfinished entry is still in its folder.
var ErrOriginalPresent = fmt.Errorf("original still in its folder: %w", ErrNotRestorable)

// BlobStore keeps the original bytes of each entry.
type BlobStore interface {
	PutBlob(ctx context.Context, id string, data []byte) error
	GetBlob(ctx context.Context, id string) ([]byte, error)
	DeleteBlob(ctx context.Context, id string) error
}

type Journal struct {
	store *redisstore.Store
	blobs BlobStore
	log   *zap.Logger
	now   func() time.Time
}

// New returns a journal over store. A nil blobs keeps originals in Redis.
func New(store *redisstore.Store, blobs BlobStore, logger *zap.Logger) *Journal {
	if blobs == nil {
		blobs = store
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{store: store, blobs: blobs, log: logger, now: time.Now}
}

// Begin assigns entry an id, saves the original bytes and then the entry.
func (j *Journal) Begin(ctx context.Context, entry *domain.JournalEntry, original []byte) error {
	now := j.now().UTC()
	entry.ID = ulid.Make().String()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.State == "" {
		entry.State = domain.SagaPending
	}

	if err := j.blobs.PutBlob(ctx, entry.ID, original); err != nil {
		return fmt.Errorf("save original: %w", err)
	}
	if err := j.store.SaveJournalEntry(ctx, entry); err != nil {
		_ = j.blobs.DeleteBlob(ctx, entry.ID)
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

func (j *Journal) Advance(ctx context.Context, id string, state domain.SagaState) error {
	entry, err := j.store.GetJournalEntry(ctx, id)
	if err != nil {
		return err
	}
	entry.State = state
	entry.UpdatedAt = j.now().UTC()
	return j.store.SaveJournalEntry(ctx, entry)
}

// Complete forgets the entry and its original bytes.
func (j *Journal) Complete(ctx context.Context, id string) error {
	if err := j.store.DeleteJournalEntry(ctx, id); err != nil {
		return err
	}
	if err := j.blobs.DeleteBlob(ctx, id); err != nil {
		j.log.Warn("original bytes left behind", zap.String("journal_id", id), zap.Error(err))
	}
	return nil
}

func (j *Journal) List(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	return j.store.ListJournalEntries(ctx, limit)
}

func (j *Journal) Get(ctx context.Context, id string) (*domain.JournalEntry, error) {
	return j.store.GetJournalEntry(ctx, id)
}

func (j *Journal) Original(ctx context.Context, id string) ([]byte, error) {
	return j.blobs.GetBlob(ctx, id)
}

// Restore imports the saved original of an entry back into its folder and
// completes the entry. A pending or deleting entry is only restored once the store
// confirms its original is gone from the folder; the process may have died right
// after moving it to the trash.
func (j *Journal) Restore(ctx context.Context, st mailstore.Store, id string) (domain.MessageID, error) {
	entry, err := j.store.GetJournalEntry(ctx, id)
	if err != nil {
		return domain.MessageID{}, err
	}
	switch entry.State {
	case domain.SagaRestoreFailed, domain.SagaDeleted:
	case domain.SagaPending, domain.SagaDeleting:
		if err := j.checkGone(ctx, st, entry); err != nil {
			return domain.MessageID{}, err
		}
	default:
		return domain.MessageID{}, fmt.Errorf("%s in state %s: %w", id, entry.State, ErrNotRestorable)
	}

	original, err := j.blobs.GetBlob(ctx, id)
	if err != nil {
		return domain.MessageID{}, fmt.Errorf("load original: %w", err)
	}

	imported, err := st.Import(ctx, original, entry.Folder, entry.Props)
	if err != nil {
		return domain.MessageID{}, fmt.Errorf("import original: %w", err)
	}
	j.log.Info("original restored from journal",
		zap.String("journal_id", id),
		zap.String("folder", entry.Folder),
		zap.String("subject", entry.Subject),
		zap.Stringer("imported", imported),
	)

	if err := j.Complete(ctx, id); err != nil {
		return imported, err
	}
	return imported, nil
}

func (j *Journal) checkGone(ctx context.Context, st mailstore.Store, entry *domain.JournalEntry) error {
	if entry.Message.UID == 0 {
		return fmt.Errorf("%s has no message id: %w", entry.ID, ErrNotRestorable)
	}
	_, err := st.Get(ctx, entry.Message)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", entry.ID, ErrOriginalPresent)
	case errors.Is(err, mailstore.ErrNotFound):
		j.log.Warn("unfinished entry lost its original, restoring",
			zap.String("journal_id", entry.ID),
			zap.String("state", string(entry.State)),
			zap.Stringer("message", entry.Message),
		)
		return nil
	default:
		return fmt.Errorf("look up original: %w", err)
	}
}
