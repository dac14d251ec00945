// Package imapworker polls watched folders for new mail and hands every batch to
// the dispatcher.
package imapworker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"subjectfix/internal/config"
	"subjectfix/internal/dispatch"
	"subjectfix/internal/domain"
	"subjectfix/internal/imapstore"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/redisstore"
)

// Mailbox is one mail store session that can also report new arrivals.
type Mailbox interface {
	mailstore.Session
	Poll(ctx context.Context, folder string, after uint32) (*imapstore.PollResult, error)
}

type Dialer func(ctx context.Context) (Mailbox, error)

type CursorStore interface {
	GetCursor(ctx context.Context, folder string) (redisstore.Cursor, bool, error)
	SetCursor(ctx context.Context, folder string, c redisstore.Cursor) error
}

type Worker struct {
	cfg        *config.Config
	cursors    CursorStore
	dial       Dialer
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger

	// Refresh runs before every poll, typically to reload subject patterns.
	Refresh func(ctx context.Context) error
}

func New(cfg *config.Config, cursors CursorStore, dial Dialer, d *dispatch.Dispatcher, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, cursors: cursors, dial: dial, dispatcher: d, log: logger}
}

func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	w.log.Info("IMAP worker started", zap.Strings("folders", w.cfg.WatchFolders), zap.Duration("interval", w.cfg.PollInterval()))

	// Initial run
	if err := w.process(ctx); err != nil {
		w.log.Error("poll failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("IMAP worker stopping")
			return
		case <-ticker.C:
			if err := w.process(ctx); err != nil {
				w.log.Error("poll failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context) error {
	if w.Refresh != nil {
		if err := w.Refresh(ctx); err != nil {
			w.log.Warn("refresh failed, keeping previous settings", zap.Error(err))
		}
	}

	mb, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			w.log.Debug("logout failed", zap.Error(err))
		}
	}()

	for _, folder := range w.cfg.WatchFolders {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.processFolder(ctx, mb, folder); err != nil {
			w.log.Error("folder poll failed", zap.String("folder", folder), zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) processFolder(ctx context.Context, mb Mailbox, folder string) error {
	cur, found, err := w.cursors.GetCursor(ctx, folder)
	if err != nil {
		return fmt.Errorf("failed to get cursor: %w", err)
	}

	res, err := mb.Poll(ctx, folder, cur.UID)
	if err != nil {
		return err
	}

	switch {
	case !found && !w.cfg.ProcessExisting:
		w.log.Info("starting at current end of folder", zap.String("folder", folder), zap.Uint32("uidnext", res.UIDNext))
		return w.resetCursor(ctx, folder, res)
	case found && cur.UIDValidity != res.UIDValidity:
		w.log.Warn("UIDVALIDITY changed, skipping existing messages",
			zap.String("folder", folder),
			zap.Uint32("old", cur.UIDValidity),
			zap.Uint32("new", res.UIDValidity),
		)
		return w.resetCursor(ctx, folder, res)
	}

	if len(res.UIDs) == 0 {
		if !found {
			return w.cursors.SetCursor(ctx, folder, redisstore.Cursor{UIDValidity: res.UIDValidity})
		}
		return nil
	}

	w.log.Debug("new messages", zap.String("folder", folder), zap.Int("count", len(res.UIDs)))

	f := domain.Folder{Path: folder, Name: folder}
	batch := w.cfg.PageSize
	if batch <= 0 {
		batch = len(res.UIDs)
	}
	for start := 0; start < len(res.UIDs); start += batch {
		end := start + batch
		if end > len(res.UIDs) {
			end = len(res.UIDs)
		}
		chunk := res.UIDs[start:end]

		list := &domain.MessageList{Messages: make([]*domain.Message, 0, len(chunk))}
		for _, uid := range chunk {
			list.Messages = append(list.Messages, &domain.Message{
				ID:     domain.MessageID{Folder: folder, UID: uid},
				Folder: &f,
			})
		}
		w.dispatcher.OnNewMailReceived(ctx, mb, f, list)
		if ctx.Err() != nil {
			return nil
		}

		// Replacements land in the same folder with higher UIDs and show up in the
		// next poll, where their cleaned subject no longer matches.
		next := chunk[len(chunk)-1]
		if err := w.cursors.SetCursor(ctx, folder, redisstore.Cursor{UIDValidity: res.UIDValidity, UID: next}); err != nil {
			return fmt.Errorf("failed to update cursor: %w", err)
		}
	}
	return nil
}

func (w *Worker) resetCursor(ctx context.Context, folder string, res *imapstore.PollResult) error {
	uid := uint32(0)
	if res.UIDNext > 0 {
		uid = res.UIDNext - 1
	}
	return w.cursors.SetCursor(ctx, folder, redisstore.Cursor{UIDValidity: res.UIDValidity, UID: uid})
}
