package imapstore

import (
	"strings"

	"github.com/emersion/go-imap"

	"subjectfix/internal/domain"
)

// FlagsToProperties maps IMAP flags onto message properties. System flags other
// than \Seen and \Flagged are dropped, keywords other than the junk markers
// become tags.
func FlagsToProperties(flags []string) domain.Properties {
	var p domain.Properties
	for _, f := range flags {
		switch {
		case strings.EqualFold(f, imap.SeenFlag):
			p.Read = true
		case strings.EqualFold(f, imap.FlaggedFlag):
			p.Flagged = true
		case strings.EqualFold(f, junkKeyword), strings.EqualFold(f, "Junk"):
			p.Junk = true
		case strings.EqualFold(f, notJunkKeyword), strings.EqualFold(f, "NonJunk"):
		case strings.HasPrefix(f, `\`):
		default:
			p.Tags = append(p.Tags, f)
		}
	}
	return p
}

// PropertiesToFlags is the inverse of FlagsToProperties, used for APPEND.
func PropertiesToFlags(p domain.Properties) []string {
	var flags []string
	if p.Read {
		flags = append(flags, imap.SeenFlag)
	}
	if p.Flagged {
		flags = append(flags, imap.FlaggedFlag)
	}
	if p.Junk {
		flags = append(flags, junkKeyword)
	}
	for _, t := range p.Tags {
		if t == "" || strings.ContainsAny(t, ` ()\{%*"]`) {
			continue
		}
		flags = append(flags, t)
	}
	return flags
}
