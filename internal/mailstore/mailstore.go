// Package mailstore defines the operations the rewrite workflow needs from the
// mail store that owns the messages.
package mailstore

import (
	"context"
	"errors"

	"subjectfix/internal/domain"
)

var (
	ErrNotFound    = errors.New("message not found")
	ErrUnknownList = errors.New("unknown or expired list id")
)

// Store is the mail store as seen by the rewrite workflow. Implementations are used
// by one invocation at a time.
type Store interface {
	// GetRaw returns the complete message bytes without any decoding.
	GetRaw(ctx context.Context, id domain.MessageID) ([]byte, error)
	// Get returns the message metadata with a decoded subject.
	Get(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	Update(ctx context.Context, id domain.MessageID, upd domain.MessageUpdate) error
	// Delete moves messages to the trash, or erases them when permanent is set.
	Delete(ctx context.Context, ids []domain.MessageID, permanent bool) error
	// Import stores raw as a new message in folder with the given flags.
	Import(ctx context.Context, raw []byte, folder string, props domain.Properties) (domain.MessageID, error)
	ListSelected(ctx context.Context, sel domain.Selection) (*domain.MessageList, error)
	ContinueList(ctx context.Context, listID string) (*domain.MessageList, error)
}

// Session is a Store bound to one connection.
type Session interface {
	Store
	Close() error
}

// Dialer opens a new Session.
type Dialer func(ctx context.Context) (Session, error)
