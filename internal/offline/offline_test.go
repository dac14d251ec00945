package offline

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subjectfix/internal/rawmsg"
	"subjectfix/internal/subject"
)

func newRewriter() *Rewriter {
	return &Rewriter{Matcher: subject.MustMatcher(subject.DefaultPattern)}
}

func TestMessage(t *testing.T) {
	rw := newRewriter()
	raw := []byte("From: a@example.com\r\nSubject: [EXTERN] Invoice\r\n\r\nPay me\r\n")

	out, change, err := rw.Message(raw)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, "[EXTERN] Invoice", change.Before)
	assert.Equal(t, "Invoice", change.After)
	assert.Equal(t, "From: a@example.com\r\nSubject: Invoice\r\n\r\nPay me\r\n", string(out))

	out, change, err = rw.Message([]byte("Subject: plain\r\n\r\nx"))
	require.NoError(t, err)
	assert.Nil(t, change)
	assert.Equal(t, "Subject: plain\r\n\r\nx", string(out))

	_, _, err = rw.Message([]byte("Subject: [EXTERN] truncated"))
	assert.ErrorIs(t, err, rawmsg.ErrNoBoundary)
}

func TestMessageDryRun(t *testing.T) {
	rw := newRewriter()
	rw.DryRun = true
	raw := []byte("Subject: [EXTERN] Invoice\r\n\r\nPay me\r\n")

	out, change, err := rw.Message(raw)
	require.NoError(t, err)
	require.NotNil(t, change)
	assert.Equal(t, raw, out)
}

func buildMbox(t *testing.T, msgs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := mbox.NewWriter(&buf)
	for _, m := range msgs {
		dst, err := w.CreateMessage("a@example.com", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
		require.NoError(t, err)
		_, err = io.WriteString(dst, m)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readSubjects(t *testing.T, data []byte) ([]string, [][]byte) {
	t.Helper()
	var subjects []string
	var raws [][]byte
	r := mbox.NewReader(bytes.NewReader(data))
	for {
		msg, err := r.NextMessage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		raw, err := io.ReadAll(msg)
		require.NoError(t, err)
		s, err := rawmsg.MessageSubject(raw)
		require.NoError(t, err)
		subjects = append(subjects, s)
		raws = append(raws, raw)
	}
	return subjects, raws
}

func TestMbox(t *testing.T) {
	in := buildMbox(t,
		"From: a@example.com\nSubject: [EXTERN] first\nDate: Tue, 02 Jan 2024 03:04:05 +0000\n\nbody one\n",
		"From: b@example.com\nSubject: second\n\nbody two\n",
		"From: c@example.com\nSubject: [extern] =?UTF-8?Q?Gr=C3=BC=C3=9Fe?=\n\nbody three\n",
	)

	var changes []Change
	rw := newRewriter()
	rw.OnChange = func(c Change) { changes = append(changes, c) }

	var out bytes.Buffer
	res, err := rw.Mbox(bytes.NewReader(in), &out)
	require.NoError(t, err)
	assert.Equal(t, Result{Messages: 3, Rewritten: 2, Skipped: 1}, res)

	require.Len(t, changes, 2)
	assert.Equal(t, 1, changes[0].Index)
	assert.Equal(t, 3, changes[1].Index)
	assert.Equal(t, "Grüße", changes[1].After)

	subjects, raws := readSubjects(t, out.Bytes())
	assert.Equal(t, []string{"first", "second", "Grüße"}, subjects)
	assert.Contains(t, string(raws[2]), "body three")
}

func TestMboxDryRunWritesNothing(t *testing.T) {
	in := buildMbox(t, "Subject: [EXTERN] first\n\nbody\n")

	rw := newRewriter()
	rw.DryRun = true
	var out bytes.Buffer
	res, err := rw.Mbox(bytes.NewReader(in), &out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rewritten)
	assert.Zero(t, out.Len())
}

func TestEnvelope(t *testing.T) {
	from, date := envelope([]byte("From: Alice <alice@example.com>\r\nDate: Tue, 02 Jan 2024 03:04:05 +0000\r\n\r\n"))
	assert.Equal(t, "alice@example.com", from)
	assert.True(t, date.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	from, _ = envelope([]byte("Subject: x\r\n\r\n"))
	assert.Equal(t, "MAILER-DAEMON", from)
}
