package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subjectfix/internal/domain"
	"subjectfix/internal/metrics"
	"subjectfix/internal/rewriter"
	"subjectfix/internal/subject"
	"subjectfix/internal/testutils"
)

func rawWithSubject(s string) []byte {
	return []byte("From: a@example.com\r\nSubject: " + s + "\r\n\r\nbody\r\n")
}

func newDispatcher(m *metrics.Metrics) *Dispatcher {
	p := rewriter.New(subject.MustMatcher(subject.DefaultPattern))
	d := New(p, nil)
	d.Delay = 0
	d.Metrics = m
	return d
}

type memStats map[string]int

func (s memStats) IncrStat(_ context.Context, trigger, result string) error {
	s[trigger+"/"+result]++
	return nil
}

func TestOnNewMailReceived(t *testing.T) {
	st := testutils.NewFakeStore()
	a := st.Add("INBOX", "[EXTERN] one", rawWithSubject("[EXTERN] one"), domain.Properties{})
	b := st.Add("INBOX", "two", rawWithSubject("two"), domain.Properties{})
	c := st.Add("INBOX", "[extern] three", rawWithSubject("[extern] three"), domain.Properties{})

	m := metrics.New(nil)
	stats := memStats{}
	d := newDispatcher(m)
	d.Stats = stats

	n := d.OnNewMailReceived(context.Background(), st, domain.Folder{Path: "INBOX"}, &domain.MessageList{
		Messages: []*domain.Message{a, b, c},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, st.Count("get"))
	assert.Len(t, st.Trash(), 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.MessagesTotal.WithLabelValues(metrics.TriggerNewMail, metrics.ResultProcessed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesTotal.WithLabelValues(metrics.TriggerNewMail, metrics.ResultSkipped)))
	assert.Equal(t, 2, stats["new_mail/processed"])
	assert.Equal(t, 1, stats["new_mail/skipped"])
}

func TestOnNewMailReceivedUsesFreshLookup(t *testing.T) {
	st := testutils.NewFakeStore()
	msg := st.Add("INBOX", "[EXTERN] moved", rawWithSubject("[EXTERN] moved"), domain.Properties{})
	stale := *msg
	stale.ID.UID = 99

	d := newDispatcher(nil)
	n := d.OnNewMailReceived(context.Background(), st, domain.Folder{Path: "INBOX"}, &domain.MessageList{
		Messages: []*domain.Message{&stale, msg},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, st.Count("import"))
}

type folderlessStore struct {
	*testutils.FakeStore
}

func (s folderlessStore) Get(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	m, err := s.FakeStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Folder = nil
	return m, nil
}

func TestOnNewMailReceivedSkipsMessagesWithoutFolder(t *testing.T) {
	fake := testutils.NewFakeStore()
	msg := fake.Add("INBOX", "[EXTERN] one", rawWithSubject("[EXTERN] one"), domain.Properties{})

	d := newDispatcher(nil)
	n := d.OnNewMailReceived(context.Background(), folderlessStore{fake}, domain.Folder{Path: "INBOX"}, &domain.MessageList{
		Messages: []*domain.Message{msg},
	})
	assert.Zero(t, n)
	assert.Equal(t, []string{"get"}, fake.Ops())
}

func TestOnNewMailReceivedContinuesAfterFailure(t *testing.T) {
	st := testutils.NewFakeStore()
	st.FailImport = []error{errors.New("quota"), nil, nil}
	a := st.Add("INBOX", "[EXTERN] one", rawWithSubject("[EXTERN] one"), domain.Properties{})
	b := st.Add("INBOX", "[EXTERN] two", rawWithSubject("[EXTERN] two"), domain.Properties{})

	m := metrics.New(nil)
	d := newDispatcher(m)
	n := d.OnNewMailReceived(context.Background(), st, domain.Folder{Path: "INBOX"}, &domain.MessageList{
		Messages: []*domain.Message{a, b},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, st.Count("import"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesTotal.WithLabelValues(metrics.TriggerNewMail, metrics.ResultFailed)))
}

func TestOnNewMailReceivedDelayHonoursCancel(t *testing.T) {
	st := testutils.NewFakeStore()
	msg := st.Add("INBOX", "[EXTERN] one", rawWithSubject("[EXTERN] one"), domain.Properties{})

	d := newDispatcher(nil)
	d.Delay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := d.OnNewMailReceived(ctx, st, domain.Folder{Path: "INBOX"}, &domain.MessageList{
		Messages: []*domain.Message{msg},
	})
	assert.Zero(t, n)
	assert.Empty(t, st.Calls)
}

func TestOnMenuClickedWalksPages(t *testing.T) {
	st := testutils.NewFakeStore()
	var uids []uint32
	for _, s := range []string{"[EXTERN] a", "b", "[EXTERN] c", "[EXTERN] d", "e"} {
		uids = append(uids, st.Add("INBOX", s, rawWithSubject(s), domain.Properties{}).ID.UID)
	}

	d := newDispatcher(nil)
	n := d.OnMenuClicked(context.Background(), st, domain.MenuClick{
		MenuItemID:       MenuID,
		SelectedMessages: &domain.Selection{Folder: "INBOX", UIDs: uids},
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, st.Count("listSelected"))
	assert.Equal(t, 2, st.Count("continueList"))
	assert.Len(t, st.Trash(), 3)
}

type folderlessListStore struct {
	*testutils.FakeStore
}

func (s folderlessListStore) ListSelected(ctx context.Context, sel domain.Selection) (*domain.MessageList, error) {
	list, err := s.FakeStore.ListSelected(ctx, sel)
	if err != nil {
		return nil, err
	}
	for _, m := range list.Messages[:1] {
		m.Folder = nil
	}
	return list, nil
}

func TestOnMenuClickedSkipsMessagesWithoutFolder(t *testing.T) {
	fake := testutils.NewFakeStore()
	a := fake.Add("INBOX", "[EXTERN] a", rawWithSubject("[EXTERN] a"), domain.Properties{})
	b := fake.Add("INBOX", "[EXTERN] b", rawWithSubject("[EXTERN] b"), domain.Properties{})

	m := metrics.New(nil)
	stats := memStats{}
	d := newDispatcher(m)
	d.Stats = stats
	n := d.OnMenuClicked(context.Background(), folderlessListStore{fake}, domain.MenuClick{
		MenuItemID:       MenuID,
		SelectedMessages: &domain.Selection{Folder: "INBOX", UIDs: []uint32{a.ID.UID, b.ID.UID}},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fake.Count("getRaw"))
	assert.Equal(t, b.ID, fake.Calls[1].ID)
	assert.Equal(t, 1, stats["menu/skipped"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesTotal.WithLabelValues(metrics.TriggerMenu, metrics.ResultSkipped)))
}

func TestOnMenuClickedIgnoresOtherClicks(t *testing.T) {
	st := testutils.NewFakeStore()
	msg := st.Add("INBOX", "[EXTERN] a", rawWithSubject("[EXTERN] a"), domain.Properties{})

	d := newDispatcher(nil)
	tests := []domain.MenuClick{
		{MenuItemID: "something-else", SelectedMessages: &domain.Selection{Folder: "INBOX", UIDs: []uint32{msg.ID.UID}}},
		{MenuItemID: MenuID},
		{MenuItemID: MenuID, SelectedMessages: &domain.Selection{Folder: "INBOX"}},
	}
	for _, click := range tests {
		assert.Zero(t, d.OnMenuClicked(context.Background(), st, click))
	}
	assert.Empty(t, st.Calls)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Menu))
	assert.Error(t, r.Register(Menu))
	assert.Error(t, r.Register(domain.MenuItem{Title: "no id"}))

	assert.True(t, r.Has(MenuID))
	items := r.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Remove [EXTERN] prefix", items[0].Title)
	assert.Equal(t, []string{"message_list"}, items[0].Contexts)
}
