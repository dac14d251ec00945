package rawmsg

import (
	"regexp"
	"strings"

	"subjectfix/internal/subject"
)

var subjectLineRe = regexp.MustCompile(`(?i)^Subject: ?`)

// Stats reports byte counts of one rewrite.
type Stats struct {
	HeaderBefore int
	HeaderAfter  int
	Body         int
}

// Rewrite replaces the Subject header of raw with newSubject. See RewriteWithStats.
func Rewrite(raw []byte, newSubject string) ([]byte, error) {
	out, _, err := RewriteWithStats(raw, newSubject)
	return out, err
}

// RewriteWithStats returns a new buffer holding raw with its first Subject header,
// continuation lines included, replaced by a single "Subject: " line carrying the
// encoded newSubject. Every other header line keeps its bytes and the body is
// copied from raw without being looked at. raw is not modified.
func RewriteWithStats(raw []byte, newSubject string) ([]byte, Stats, error) {
	b, err := Locate(raw)
	if err != nil {
		return nil, Stats{}, err
	}

	// string(raw[:n]) is a byte-for-byte copy; Go strings carry no encoding.
	lines := strings.Split(string(raw[:b.HeaderEnd]), b.LineEnding)

	start, end := findSubject(lines)
	if start < 0 {
		return nil, Stats{}, ErrNoSubjectHeader
	}

	encoded := subject.Fold(subject.Encode(newSubject), b.LineEnding)
	replaced := make([]string, 0, len(lines)-(end-start)+1)
	replaced = append(replaced, lines[:start]...)
	replaced = append(replaced, "Subject: "+encoded)
	replaced = append(replaced, lines[end:]...)
	header := strings.Join(replaced, b.LineEnding)

	sep := b.Separator()
	body := raw[b.BodyStart:]

	out := make([]byte, 0, len(header)+len(sep)+len(body))
	out = append(out, header...)
	out = append(out, sep...)
	out = append(out, body...)

	return out, Stats{
		HeaderBefore: b.HeaderEnd,
		HeaderAfter:  len(header),
		Body:         len(body),
	}, nil
}

// SubjectLine returns the raw, unfolded value of the first Subject header in raw.
// Encoded words are left as they are.
func SubjectLine(raw []byte) (string, error) {
	b, err := Locate(raw)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(raw[:b.HeaderEnd]), b.LineEnding)
	start, end := findSubject(lines)
	if start < 0 {
		return "", ErrNoSubjectHeader
	}

	value := subjectLineRe.ReplaceAllLiteralString(lines[start], "")
	for _, cont := range lines[start+1 : end] {
		value += cont
	}
	return value, nil
}

// findSubject returns the line span [start, end) of the first Subject header and
// its continuation lines, or -1, -1.
func findSubject(lines []string) (int, int) {
	for i, line := range lines {
		if !subjectLineRe.MatchString(line) {
			continue
		}
		end := i + 1
		for end < len(lines) && isContinuation(lines[end]) {
			end++
		}
		return i, end
	}
	return -1, -1
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}
