package subject

import "strings"

const (
	maxChunkLen = 45
	foldCRLF    = "\r\n "
	upperHex    = "0123456789ABCDEF"
)

// Encode returns subject unchanged when it is printable 7-bit ASCII. Anything else
// becomes a run of RFC 2047 Q encoded words over the UTF-8 bytes, at most
// maxChunkLen encoded characters each, folded with CRLF SP.
func Encode(subject string) string {
	if isPrintableASCII(subject) {
		return subject
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		chunks = append(chunks, "=?UTF-8?Q?"+cur.String()+"?=")
		cur.Reset()
	}

	for i := 0; i < len(subject); i++ {
		unit := encodeByte(subject[i])
		if cur.Len() > 0 && cur.Len()+len(unit) > maxChunkLen {
			flush()
		}
		cur.WriteString(unit)
	}
	if cur.Len() > 0 {
		flush()
	}

	return strings.Join(chunks, foldCRLF)
}

// Fold rewrites the CRLF SP folding produced by Encode for a header block that
// uses lineEnding.
func Fold(encoded, lineEnding string) string {
	if lineEnding == "\r\n" {
		return encoded
	}
	return strings.ReplaceAll(encoded, foldCRLF, lineEnding+" ")
}

func encodeByte(b byte) string {
	switch {
	case b == ' ':
		return "_"
	case b >= 0x21 && b <= 0x7e && b != '?' && b != '=' && b != '_':
		return string(rune(b))
	default:
		return string([]byte{'=', upperHex[b>>4], upperHex[b&0x0f]})
	}
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
