// Package testutils provides test doubles shared by package tests.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
)

// Call is one recorded mail store invocation.
type Call struct {
	Op     string
	ID     domain.MessageID
	IDs    []domain.MessageID
	Folder string
	Raw    []byte
	Props  domain.Properties
	Update domain.MessageUpdate
	Perm   bool
}

type storedMessage struct {
	meta domain.Message
	raw  []byte
}

// FakeStore is an in-memory mailstore.Store that records every call. Failures can be
// injected per operation through the Fail* fields.
type FakeStore struct {
	mu       sync.Mutex
	Calls    []Call
	messages map[domain.MessageID]*storedMessage
	trash    []*storedMessage
	nextUID  map[string]uint32
	lists    map[string][]domain.MessageID
	listSeq  int
	PageSize int

	FailGetRaw error
	FailGet    error
	FailUpdate error
	FailDelete error
	// FailImport is consulted for each Import call in order; a nil entry succeeds.
	FailImport []error
}

var _ mailstore.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		messages: make(map[domain.MessageID]*storedMessage),
		nextUID:  make(map[string]uint32),
		lists:    make(map[string][]domain.MessageID),
		PageSize: 2,
	}
}

// Add stores a message in folder and returns its metadata.
func (s *FakeStore) Add(folder, subject string, raw []byte, props domain.Properties) *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(folder, subject, raw, props)
}

func (s *FakeStore) add(folder, subject string, raw []byte, props domain.Properties) *domain.Message {
	s.nextUID[folder]++
	id := domain.MessageID{Folder: folder, UID: s.nextUID[folder]}
	m := &storedMessage{
		meta: domain.Message{
			ID:      id,
			Subject: subject,
			Read:    props.Read,
			Flagged: props.Flagged,
			Junk:    props.Junk,
			Tags:    props.Tags,
			Folder:  &domain.Folder{Path: folder, Name: folder},
		},
		raw: append([]byte(nil), raw...),
	}
	s.messages[id] = m
	meta := m.meta
	return &meta
}

// Messages returns the metadata and raw bytes of everything in folder, by UID.
func (s *FakeStore) Messages(folder string) ([]domain.Message, [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []domain.MessageID
	for id := range s.messages {
		if id.Folder == folder {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].UID < ids[j].UID })

	var metas []domain.Message
	var raws [][]byte
	for _, id := range ids {
		metas = append(metas, s.messages[id].meta)
		raws = append(raws, s.messages[id].raw)
	}
	return metas, raws
}

// Trash returns the metadata of trashed messages in the order they were trashed.
func (s *FakeStore) Trash() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.trash {
		out = append(out, m.meta)
	}
	return out
}

// Ops returns the recorded operation names in order.
func (s *FakeStore) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, 0, len(s.Calls))
	for _, c := range s.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}

// Count returns how many times op was called.
func (s *FakeStore) Count(op string) int {
	n := 0
	for _, o := range s.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (s *FakeStore) record(c Call) {
	s.Calls = append(s.Calls, c)
}

func (s *FakeStore) GetRaw(_ context.Context, id domain.MessageID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "getRaw", ID: id})
	if s.FailGetRaw != nil {
		return nil, s.FailGetRaw
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, mailstore.ErrNotFound
	}
	return append([]byte(nil), m.raw...), nil
}

func (s *FakeStore) Get(_ context.Context, id domain.MessageID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "get", ID: id})
	if s.FailGet != nil {
		return nil, s.FailGet
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, mailstore.ErrNotFound
	}
	meta := m.meta
	return &meta, nil
}

func (s *FakeStore) Update(_ context.Context, id domain.MessageID, upd domain.MessageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "update", ID: id, Update: upd})
	if s.FailUpdate != nil {
		return s.FailUpdate
	}
	m, ok := s.messages[id]
	if !ok {
		return mailstore.ErrNotFound
	}
	if upd.Read != nil {
		m.meta.Read = *upd.Read
	}
	return nil
}

func (s *FakeStore) Delete(_ context.Context, ids []domain.MessageID, permanent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "delete", IDs: append([]domain.MessageID(nil), ids...), Perm: permanent})
	if s.FailDelete != nil {
		return s.FailDelete
	}
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok {
			return mailstore.ErrNotFound
		}
		delete(s.messages, id)
		if !permanent {
			s.trash = append(s.trash, m)
		}
	}
	return nil
}

func (s *FakeStore) Import(_ context.Context, raw []byte, folder string, props domain.Properties) (domain.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if c.Op == "import" {
			n++
		}
	}
	s.record(Call{Op: "import", Folder: folder, Raw: append([]byte(nil), raw...), Props: props})
	if n < len(s.FailImport) && s.FailImport[n] != nil {
		return domain.MessageID{}, s.FailImport[n]
	}
	m := s.add(folder, "", raw, props)
	return m.ID, nil
}

func (s *FakeStore) ListSelected(_ context.Context, sel domain.Selection) (*domain.MessageList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "listSelected", Folder: sel.Folder})
	ids := make([]domain.MessageID, 0, len(sel.UIDs))
	for _, uid := range sel.UIDs {
		ids = append(ids, domain.MessageID{Folder: sel.Folder, UID: uid})
	}
	return s.page(ids), nil
}

func (s *FakeStore) ContinueList(_ context.Context, listID string) (*domain.MessageList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Call{Op: "continueList"})
	ids, ok := s.lists[listID]
	if !ok {
		return nil, mailstore.ErrUnknownList
	}
	delete(s.lists, listID)
	return s.page(ids), nil
}

func (s *FakeStore) page(ids []domain.MessageID) *domain.MessageList {
	n := s.PageSize
	if n <= 0 || n > len(ids) {
		n = len(ids)
	}
	list := &domain.MessageList{Messages: []*domain.Message{}}
	for _, id := range ids[:n] {
		if m, ok := s.messages[id]; ok {
			meta := m.meta
			list.Messages = append(list.Messages, &meta)
		} else {
			list.Messages = append(list.Messages, &domain.Message{ID: id})
		}
	}
	if rest := ids[n:]; len(rest) > 0 {
		s.listSeq++
		list.ID = fmt.Sprintf("list-%d", s.listSeq)
		s.lists[list.ID] = rest
	}
	return list
}

// Session adapts a FakeStore to mailstore.Session and counts Close calls.
type Session struct {
	*FakeStore
	Closed int
}

func (s *Session) Close() error {
	s.Closed++
	return nil
}

// Dialer returns a mailstore.Dialer that always hands out sess.
func Dialer(sess *Session) mailstore.Dialer {
	return func(context.Context) (mailstore.Session, error) { return sess, nil }
}
