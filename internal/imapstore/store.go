// Package imapstore is the IMAP implementation of mailstore.Store.
package imapstore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/textproto"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/rawmsg"
)

const (
	junkKeyword    = "$Junk"
	notJunkKeyword = "$NotJunk"
	defaultTrash   = "Trash"
)

type Options struct {
	Host     string
	Port     int
	User     string
	Pass     string
	TLS      bool
	Trash    string
	PageSize int
	Timeout  time.Duration
}

// Store holds one authenticated IMAP connection. It is not safe for concurrent
// use; each invocation dials its own.
type Store struct {
	c        *client.Client
	opts     Options
	log      *zap.Logger
	selected string

	mu    sync.Mutex
	lists map[string][]domain.MessageID
	trash string
}

var _ mailstore.Store = (*Store)(nil)

func Dial(opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	var (
		c   *client.Client
		err error
	)
	if opts.TLS {
		c, err = client.DialTLS(addr, &tls.Config{ServerName: opts.Host})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial IMAP: %w", err)
	}
	if opts.Timeout > 0 {
		c.Timeout = opts.Timeout
	}

	if err := c.Login(opts.User, opts.Pass); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return newStore(c, opts, logger), nil
}

func newStore(c *client.Client, opts Options, logger *zap.Logger) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Store{
		c:     c,
		opts:  opts,
		log:   logger,
		lists: make(map[string][]domain.MessageID),
	}
}

func (s *Store) Close() error {
	return s.c.Logout()
}

func (s *Store) selectFolder(folder string, readOnly bool) (*imap.MailboxStatus, error) {
	mbox, err := s.c.Select(folder, readOnly)
	if err != nil {
		s.selected = ""
		return nil, fmt.Errorf("failed to select %s: %w", folder, err)
	}
	s.selected = folder
	return mbox, nil
}

func (s *Store) ensureSelected(folder string) error {
	if s.selected == folder && s.c.State() == imap.SelectedState {
		return nil
	}
	_, err := s.selectFolder(folder, false)
	return err
}

func uidSet(uids ...uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	return set
}

// fetchOne runs a UID FETCH for a single message and returns it, or ErrNotFound.
func (s *Store) fetchOne(id domain.MessageID, items []imap.FetchItem) (*imap.Message, error) {
	if err := s.ensureSelected(id.Folder); err != nil {
		return nil, err
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(uidSet(id.UID), items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if msg.Uid == id.UID {
			found = msg
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", id, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", id, mailstore.ErrNotFound)
	}
	return found, nil
}

func (s *Store) GetRaw(ctx context.Context, id domain.MessageID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	section := &imap.BodySectionName{Peek: true}
	msg, err := s.fetchOne(id, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
	if err != nil {
		return nil, err
	}
	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("server didn't return message body")
	}
	return io.ReadAll(r)
}

func (s *Store) Get(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	msg, err := s.fetchOne(id, []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()})
	if err != nil {
		return nil, err
	}
	return s.toMessage(id, msg, msg.GetBody(section)), nil
}

func (s *Store) toMessage(id domain.MessageID, msg *imap.Message, header io.Reader) *domain.Message {
	props := FlagsToProperties(msg.Flags)
	m := &domain.Message{
		ID:      id,
		Read:    props.Read,
		Flagged: props.Flagged,
		Junk:    props.Junk,
		Tags:    props.Tags,
		Folder:  &domain.Folder{Path: id.Folder, Name: folderName(id.Folder)},
	}
	if header != nil {
		subject, err := rawmsg.DecodeSubject(header)
		if err != nil {
			s.log.Warn("subject decoding failed", zap.Stringer("message", id), zap.Error(err))
		}
		m.Subject = subject
	}
	return m
}

func folderName(path string) string {
	if i := strings.LastIndexAny(path, "/."); i >= 0 && i < len(path)-1 {
		return path[i+1:]
	}
	return path
}

func (s *Store) Update(ctx context.Context, id domain.MessageID, upd domain.MessageUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if upd.Read == nil {
		return nil
	}
	if err := s.ensureSelected(id.Folder); err != nil {
		return err
	}
	var op imap.FlagsOp = imap.AddFlags
	if !*upd.Read {
		op = imap.RemoveFlags
	}
	item := imap.FormatFlagsOp(op, true)
	if err := s.c.UidStore(uidSet(id.UID), item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("store flags on %s failed: %w", id, err)
	}
	return nil
}

// Delete moves ids to the trash mailbox, or expunges them when permanent is set.
// All ids must live in the same folder.
func (s *Store) Delete(ctx context.Context, ids []domain.MessageID, permanent bool) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	folder := ids[0].Folder
	set := new(imap.SeqSet)
	for _, id := range ids {
		if id.Folder != folder {
			return fmt.Errorf("delete across folders %q and %q", folder, id.Folder)
		}
		set.AddNum(id.UID)
	}

	if permanent {
		if err := s.ensureSelected(folder); err != nil {
			return err
		}
		return s.expungeUIDs(set)
	}

	trash, err := s.trashFolder()
	if err != nil {
		return err
	}
	if err := s.ensureSelected(folder); err != nil {
		return err
	}
	if err := s.c.UidMove(set, trash); err != nil {
		// Some servers advertise MOVE without supporting it for every mailbox.
		s.log.Debug("UID MOVE rejected, falling back to copy", zap.String("folder", folder), zap.Error(err))
		if err := s.c.UidCopy(set, trash); err != nil {
			return fmt.Errorf("copy to %s failed: %w", trash, err)
		}
		return s.expungeUIDs(set)
	}
	return nil
}

// uidExpunge is the UIDPLUS UID EXPUNGE command (RFC 4315).
type uidExpunge struct {
	set *imap.SeqSet
}

func (cmd *uidExpunge) Command() *imap.Command {
	return &imap.Command{
		Name:      "UID",
		Arguments: []interface{}{imap.RawString("EXPUNGE"), cmd.set},
	}
}

// expungeUIDs erases the messages in set. Without UIDPLUS the server can only
// expunge the whole folder, which also removes anything else already flagged
// \Deleted there.
func (s *Store) expungeUIDs(set *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(set, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("flag deleted failed: %w", err)
	}

	if ok, _ := s.c.Support("UIDPLUS"); ok {
		status, err := s.c.Execute(&uidExpunge{set: set}, nil)
		if err == nil {
			err = status.Err()
		}
		if err != nil {
			return fmt.Errorf("uid expunge failed: %w", err)
		}
		return nil
	}

	s.log.Debug("server lacks UIDPLUS, expunging whole folder", zap.String("folder", s.selected))
	if err := s.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge failed: %w", err)
	}
	return nil
}

// trashFolder resolves the trash mailbox once per connection: the configured name,
// else the mailbox carrying the \Trash special-use attribute, else "Trash".
func (s *Store) trashFolder() (string, error) {
	if s.trash != "" {
		return s.trash, nil
	}
	if s.opts.Trash != "" {
		s.trash = s.opts.Trash
		return s.trash, nil
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()
	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("list mailboxes failed: %w", err)
	}
	s.trash = FindTrash(infos)
	return s.trash, nil
}

// FindTrash picks the \Trash special-use mailbox from a LIST result.
func FindTrash(infos []*imap.MailboxInfo) string {
	for _, info := range infos {
		for _, attr := range info.Attributes {
			if strings.EqualFold(attr, imap.TrashAttr) {
				return info.Name
			}
		}
	}
	for _, info := range infos {
		if strings.EqualFold(info.Name, defaultTrash) {
			return info.Name
		}
	}
	return defaultTrash
}

// Import appends raw to folder. The UID of the new message is resolved through its
// Message-Id header; without one the returned id has UID 0.
func (s *Store) Import(ctx context.Context, raw []byte, folder string, props domain.Properties) (domain.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageID{}, err
	}
	if err := s.c.Append(folder, PropertiesToFlags(props), time.Time{}, bytes.NewBuffer(raw)); err != nil {
		return domain.MessageID{}, fmt.Errorf("append to %s failed: %w", folder, err)
	}
	// APPEND does not change the selected mailbox state, but a cached selection
	// would not see the new message on every server.
	s.selected = ""

	id := domain.MessageID{Folder: folder}
	msgID := messageIDOf(raw)
	if msgID == "" {
		return id, nil
	}
	if err := s.ensureSelected(folder); err != nil {
		return id, nil
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", msgID)
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		s.log.Debug("locating imported message failed", zap.String("folder", folder), zap.Error(err))
		return id, nil
	}
	for _, uid := range uids {
		if uid > id.UID {
			id.UID = uid
		}
	}
	return id, nil
}

func messageIDOf(raw []byte) string {
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(hdr.Get("Message-Id"))
}

func (s *Store) ListSelected(ctx context.Context, sel domain.Selection) (*domain.MessageList, error) {
	ids := make([]domain.MessageID, 0, len(sel.UIDs))
	for _, uid := range sel.UIDs {
		ids = append(ids, domain.MessageID{Folder: sel.Folder, UID: uid})
	}
	return s.page(ctx, ids)
}

func (s *Store) ContinueList(ctx context.Context, listID string) (*domain.MessageList, error) {
	s.mu.Lock()
	ids, ok := s.lists[listID]
	delete(s.lists, listID)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", listID, mailstore.ErrUnknownList)
	}
	return s.page(ctx, ids)
}

func (s *Store) page(ctx context.Context, ids []domain.MessageID) (*domain.MessageList, error) {
	n := s.opts.PageSize
	if n > len(ids) {
		n = len(ids)
	}
	list := &domain.MessageList{Messages: make([]*domain.Message, 0, n)}
	for _, id := range ids[:n] {
		m, err := s.Get(ctx, id)
		if errors.Is(err, mailstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list.Messages = append(list.Messages, m)
	}
	if rest := ids[n:]; len(rest) > 0 {
		list.ID = ulid.Make().String()
		s.mu.Lock()
		s.lists[list.ID] = rest
		s.mu.Unlock()
	}
	return list, nil
}

// PollResult describes the messages that arrived in a folder after a cursor.
type PollResult struct {
	UIDValidity uint32
	UIDNext     uint32
	UIDs        []uint32
}

// Poll returns the UIDs greater than after, in ascending order.
func (s *Store) Poll(ctx context.Context, folder string, after uint32) (*PollResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mbox, err := s.selectFolder(folder, true)
	if err != nil {
		return nil, err
	}
	// The selection is read-only; force a re-select before any write.
	s.selected = ""

	res := &PollResult{UIDValidity: mbox.UidValidity, UIDNext: mbox.UidNext}
	if after+1 >= mbox.UidNext && mbox.UidNext != 0 {
		return res, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(after+1, 0)
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s failed: %w", folder, err)
	}
	// n:* always matches the highest UID, even when it is below n.
	for _, uid := range uids {
		if uid > after {
			res.UIDs = append(res.UIDs, uid)
		}
	}
	sort.Slice(res.UIDs, func(i, j int) bool { return res.UIDs[i] < res.UIDs[j] })
	return res, nil
}
