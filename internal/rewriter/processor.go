// Package rewriter replaces a stored message with a copy whose Subject has the
// configured tag removed.
//
// The store cannot edit a message in place, so a replacement is two steps: the
// original goes to the trash and the rewritten bytes are imported into the same
// folder. If the import fails the original bytes are imported again. A Journal,
// when configured, keeps the original bytes outside the process for the window
// between the two steps.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/metrics"
	"subjectfix/internal/rawmsg"
	"subjectfix/internal/subject"
)

var (
	ErrFetch   = errors.New("fetch raw message failed")
	ErrDelete  = errors.New("move original to trash failed")
	ErrImport  = errors.New("import rewritten message failed")
	ErrRestore = errors.New("restore original failed")
	ErrJournal = errors.New("journal write failed")
)

// Journal persists in-flight replacements.
type Journal interface {
	Begin(ctx context.Context, entry *domain.JournalEntry, original []byte) error
	Advance(ctx context.Context, id string, state domain.SagaState) error
	Complete(ctx context.Context, id string) error
}

type Processor struct {
	matcher atomic.Pointer[subject.Matcher]
	journal Journal
	metrics *metrics.Metrics
	log     *zap.Logger
}

type Option func(*Processor)

func WithJournal(j Journal) Option {
	return func(p *Processor) { p.journal = j }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func New(matcher *subject.Matcher, opts ...Option) *Processor {
	p := &Processor{log: zap.NewNop()}
	p.matcher.Store(matcher)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Matcher() *subject.Matcher {
	return p.matcher.Load()
}

// SetMatcher swaps the patterns used by later Process calls.
func (p *Processor) SetMatcher(m *subject.Matcher) {
	p.matcher.Store(m)
}

// Process replaces msg if its subject matches. It reports whether the message was
// replaced; a false result with a nil error means the subject did not match.
// Failures before the original is trashed leave the store untouched.
func (p *Processor) Process(ctx context.Context, st mailstore.Store, msg *domain.Message) (bool, error) {
	matcher := p.matcher.Load()
	if !matcher.HasMatch(msg.Subject) {
		return false, nil
	}

	newSubject := matcher.Clean(msg.Subject)
	log := p.log.With(
		zap.Stringer("message", msg.ID),
		zap.String("subject", msg.Subject),
	)
	log.Info("processing", zap.String("new_subject", newSubject))

	original, err := st.GetRaw(ctx, msg.ID)
	if err != nil {
		return false, p.fail(log, "fetch", fmt.Errorf("%w: %w", ErrFetch, err))
	}
	log.Debug("raw message loaded", zap.Int("bytes", len(original)))

	rewritten, stats, err := rawmsg.RewriteWithStats(original, newSubject)
	if err != nil {
		kind := "no_boundary"
		if errors.Is(err, rawmsg.ErrNoSubjectHeader) {
			kind = "no_subject"
		}
		return false, p.fail(log, kind, fmt.Errorf("rewrite: %w", err))
	}
	log.Info("header rewritten",
		zap.Int("header_bytes_before", stats.HeaderBefore),
		zap.Int("header_bytes_after", stats.HeaderAfter),
		zap.Int("body_bytes", stats.Body),
	)
	if p.metrics != nil {
		p.metrics.RewriteBytes.WithLabelValues("header").Observe(float64(stats.HeaderAfter))
		p.metrics.RewriteBytes.WithLabelValues("body").Observe(float64(stats.Body))
	}

	props := msg.Properties()
	folder := msg.ID.Folder
	if msg.Folder != nil && msg.Folder.Path != "" {
		folder = msg.Folder.Path
	}

	entry, err := p.begin(ctx, msg, folder, props, original)
	if err != nil {
		return false, p.fail(log, "journal", fmt.Errorf("%w: %w", ErrJournal, err))
	}

	// From here on the original is about to leave its folder; finish regardless of
	// cancellation.
	ctx = context.WithoutCancel(ctx)

	read := true
	if err := st.Update(ctx, msg.ID, domain.MessageUpdate{Read: &read}); err != nil {
		p.complete(ctx, log, entry)
		return false, p.fail(log, "delete", fmt.Errorf("%w: mark read: %w", ErrDelete, err))
	}
	// The original must not move until this state is stored.
	if err := p.markDeleting(ctx, entry); err != nil {
		p.complete(ctx, log, entry)
		return false, p.fail(log, "journal", fmt.Errorf("%w: %w", ErrJournal, err))
	}
	if err := st.Delete(ctx, []domain.MessageID{msg.ID}, false); err != nil {
		p.complete(ctx, log, entry)
		return false, p.fail(log, "delete", fmt.Errorf("%w: %w", ErrDelete, err))
	}
	log.Info("original marked read and moved to trash")
	p.advance(ctx, log, entry, domain.SagaDeleted)

	imported, importErr := st.Import(ctx, rewritten, folder, props)
	if importErr == nil {
		log.Info("import succeeded", zap.Stringer("imported", imported), zap.String("new_subject", newSubject))
		p.complete(ctx, log, entry)
		return true, nil
	}

	err = fmt.Errorf("%w: %w", ErrImport, importErr)
	log.Error("import failed, restoring original", zap.Error(importErr))

	if _, restoreErr := st.Import(ctx, original, folder, props); restoreErr != nil {
		log.Error("MANUAL RECOVERY REQUIRED: original could not be restored and remains in the trash",
			zap.String("folder", folder),
			zap.Int("bytes", len(original)),
			zap.Error(restoreErr),
		)
		if p.metrics != nil {
			p.metrics.RestoreFailures.Inc()
		}
		p.advance(ctx, log, entry, domain.SagaRestoreFailed)
		return false, p.fail(log, "restore", fmt.Errorf("%w: %w: %w", err, ErrRestore, restoreErr))
	}

	log.Warn("original restored")
	p.complete(ctx, log, entry)
	return false, p.fail(log, "import", err)
}

func (p *Processor) fail(log *zap.Logger, kind string, err error) error {
	if p.metrics != nil {
		p.metrics.FailuresTotal.WithLabelValues(kind).Inc()
	}
	if kind != "restore" && kind != "import" {
		log.Warn("message not processed", zap.String("kind", kind), zap.Error(err))
	}
	return err
}

func (p *Processor) begin(ctx context.Context, msg *domain.Message, folder string, props domain.Properties, original []byte) (*domain.JournalEntry, error) {
	if p.journal == nil {
		return nil, nil
	}
	entry := &domain.JournalEntry{
		Message: msg.ID,
		Folder:  folder,
		Subject: msg.Subject,
		Props:   props,
		State:   domain.SagaPending,
		Size:    len(original),
	}
	if err := p.journal.Begin(ctx, entry, original); err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *Processor) markDeleting(ctx context.Context, entry *domain.JournalEntry) error {
	if entry == nil {
		return nil
	}
	return p.journal.Advance(ctx, entry.ID, domain.SagaDeleting)
}

func (p *Processor) advance(ctx context.Context, log *zap.Logger, entry *domain.JournalEntry, state domain.SagaState) {
	if entry == nil {
		return
	}
	if err := p.journal.Advance(ctx, entry.ID, state); err != nil {
		log.Error("journal update failed", zap.String("journal_id", entry.ID), zap.String("state", string(state)), zap.Error(err))
	}
}

func (p *Processor) complete(ctx context.Context, log *zap.Logger, entry *domain.JournalEntry) {
	if entry == nil {
		return
	}
	if err := p.journal.Complete(ctx, entry.ID); err != nil {
		log.Error("journal cleanup failed", zap.String("journal_id", entry.ID), zap.Error(err))
	}
}
