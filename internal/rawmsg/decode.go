package rawmsg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// DecodeSubject reads a header block and returns its Subject decoded to UTF-8.
// When the encoded words cannot be decoded the raw value is returned along with
// the error.
func DecodeSubject(r io.Reader) (string, error) {
	hdr, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return "", fmt.Errorf("failed to read header: %w", err)
	}
	h := mail.Header{}
	h.Header.Header = hdr
	subject, err := h.Subject()
	if err != nil {
		return hdr.Get("Subject"), err
	}
	return subject, nil
}

// MessageSubject decodes the Subject of a complete raw message. Only the header
// block is parsed.
func MessageSubject(raw []byte) (string, error) {
	b, err := Locate(raw)
	if err != nil {
		return "", err
	}
	return DecodeSubject(bytes.NewReader(raw[:b.BodyStart]))
}
