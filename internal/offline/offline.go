// Package offline applies the subject rewrite to message files on disk: single
// .eml files and mbox archives.
package offline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"subjectfix/internal/rawmsg"
	"subjectfix/internal/subject"
)

// Result counts what happened to the messages of one run.
type Result struct {
	Messages  int
	Rewritten int
	Skipped   int
	Failed    int
}

// Change describes one rewritten message.
type Change struct {
	Index  int
	Before string
	After  string
}

type Rewriter struct {
	Matcher *subject.Matcher
	DryRun  bool
	Log     *zap.Logger

	// OnChange, if set, is called for every message whose subject was cleaned.
	OnChange func(Change)
}

// Message rewrites one raw message. It returns raw itself and a nil Change when
// the subject carries nothing to remove.
func (rw *Rewriter) Message(raw []byte) ([]byte, *Change, error) {
	subj, err := rawmsg.MessageSubject(raw)
	if err != nil && subj == "" {
		return raw, nil, err
	}
	if !rw.Matcher.HasMatch(subj) {
		return raw, nil, nil
	}

	cleaned := rw.Matcher.Clean(subj)
	change := &Change{Before: subj, After: cleaned}
	if rw.DryRun {
		return raw, change, nil
	}
	out, err := rawmsg.Rewrite(raw, cleaned)
	if err != nil {
		return raw, nil, err
	}
	return out, change, nil
}

// Mbox copies every message of the mbox stream r to w, rewriting subjects on the
// way. Messages that cannot be rewritten are copied unchanged and counted as
// failed.
func (rw *Rewriter) Mbox(r io.Reader, w io.Writer) (Result, error) {
	var res Result
	mr := mbox.NewReader(r)
	mw := mbox.NewWriter(w)

	for {
		msg, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read message %d: %w", res.Messages+1, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return res, fmt.Errorf("failed to read message %d: %w", res.Messages+1, err)
		}
		res.Messages++

		out, change, err := rw.Message(raw)
		switch {
		case err != nil:
			res.Failed++
			rw.logger().Warn("message left unchanged", zap.Int("index", res.Messages), zap.Error(err))
		case change != nil:
			res.Rewritten++
			change.Index = res.Messages
			rw.changed(*change)
		default:
			res.Skipped++
		}

		if rw.DryRun {
			continue
		}
		from, date := envelope(raw)
		dst, err := mw.CreateMessage(from, date)
		if err != nil {
			return res, fmt.Errorf("failed to write message %d: %w", res.Messages, err)
		}
		if _, err := dst.Write(out); err != nil {
			return res, fmt.Errorf("failed to write message %d: %w", res.Messages, err)
		}
	}

	if rw.DryRun {
		return res, nil
	}
	return res, mw.Close()
}

func (rw *Rewriter) changed(c Change) {
	rw.logger().Debug("subject cleaned",
		zap.Int("index", c.Index),
		zap.String("subject", c.Before),
		zap.String("cleaned", c.After),
	)
	if rw.OnChange != nil {
		rw.OnChange(c)
	}
}

func (rw *Rewriter) logger() *zap.Logger {
	if rw.Log == nil {
		return zap.NewNop()
	}
	return rw.Log
}

// envelope picks the sender and date for the mbox "From " separator line.
func envelope(raw []byte) (string, time.Time) {
	from, date := "MAILER-DAEMON", time.Now()
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return from, date
	}
	h := mail.Header{}
	h.Header.Header = hdr
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 && addrs[0].Address != "" {
		from = addrs[0].Address
	}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		date = t
	}
	return from, date
}
