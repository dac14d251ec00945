package config

import (
	"errors"
	"fmt"
	"strings"

	"subjectfix/internal/subject"
)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.IMAPPort <= 0 || c.IMAPPort > 65535 {
		errs = append(errs, fmt.Errorf("IMAP_PORT %d out of range", c.IMAPPort))
	}
	if len(c.WatchFolders) == 0 {
		errs = append(errs, errors.New("WATCH_FOLDERS is empty"))
	}
	if c.PollSeconds <= 0 {
		errs = append(errs, fmt.Errorf("POLL_SECONDS must be positive, got %d", c.PollSeconds))
	}
	if c.NewMailDelayMS < 0 {
		errs = append(errs, fmt.Errorf("NEW_MAIL_DELAY_MS must not be negative, got %d", c.NewMailDelayMS))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize))
	}

	if len(c.SubjectPatterns) == 0 {
		errs = append(errs, errors.New("SUBJECT_PATTERNS is empty"))
	}
	for _, p := range c.SubjectPatterns {
		if _, err := subject.Compile(p); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not json or console", c.LogFormat))
	}

	switch c.JournalBlobs {
	case "redis":
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("JOURNAL_BLOBS=s3 needs S3_ENDPOINT and S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("JOURNAL_BLOBS %q is not redis or s3", c.JournalBlobs))
	}

	return errors.Join(errs...)
}
