package domain

import (
	"fmt"
	"time"
)

// MessageID identifies one message in the mail store: the folder it lives in and
// its IMAP UID inside that folder.
type MessageID struct {
	Folder string `json:"folder"`
	UID    uint32 `json:"uid"`
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s:%d", id.Folder, id.UID)
}

type Folder struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Message is the metadata view of a stored message. Subject is already decoded
// to UTF-8 by the store.
type Message struct {
	ID      MessageID `json:"id"`
	Subject string    `json:"subject"`
	Read    bool      `json:"read"`
	Flagged bool      `json:"flagged"`
	Junk    bool      `json:"junk"`
	Tags    []string  `json:"tags,omitempty"`
	Folder  *Folder   `json:"folder,omitempty"`
}

// Properties are the flags carried over a delete+import cycle.
type Properties struct {
	Read    bool     `json:"read"`
	Flagged bool     `json:"flagged"`
	Junk    bool     `json:"junk"`
	Tags    []string `json:"tags,omitempty"`
}

func (m *Message) Properties() Properties {
	p := Properties{Read: m.Read, Flagged: m.Flagged, Junk: m.Junk}
	if len(m.Tags) > 0 {
		p.Tags = append([]string(nil), m.Tags...)
	}
	return p
}

type MessageUpdate struct {
	Read *bool `json:"read,omitempty"`
}

// MessageList is one page of an enumeration. ID is empty on the last page.
type MessageList struct {
	ID       string     `json:"id,omitempty"`
	Messages []*Message `json:"messages"`
}

// Selection is a user-chosen set of messages in one folder.
type Selection struct {
	Folder string   `json:"folder"`
	UIDs   []uint32 `json:"uids"`
}

type MenuItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Contexts []string `json:"contexts"`
}

type MenuClick struct {
	MenuItemID       string     `json:"menuItemId"`
	SelectedMessages *Selection `json:"selectedMessages,omitempty"`
}

type SagaState string

const (
	SagaPending       SagaState = "pending"
	SagaDeleting      SagaState = "deleting"
	SagaDeleted       SagaState = "deleted"
	SagaRestoreFailed SagaState = "restore_failed"
)

// JournalEntry records one in-flight replacement so the original can be recovered
// if the process dies between trashing the original and importing its copy.
type JournalEntry struct {
	ID        string     `json:"id"`
	Message   MessageID  `json:"message"`
	Folder    string     `json:"folder"`
	Subject   string     `json:"subject"`
	Props     Properties `json:"properties"`
	State     SagaState  `json:"state"`
	Size      int        `json:"size"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Stats struct {
	Trigger   string `json:"trigger"`
	Processed int64  `json:"processed"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}
