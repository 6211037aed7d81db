package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies the collaboration surface a discussion came from.
type SourceType string

const (
	SourceSlack SourceType = "slack"
	SourceFigma SourceType = "figma"
	SourceEmail SourceType = "email"
)

// DiscussionStatus is the lifecycle state reflected back to the source
// surface (as a reaction or similar indicator, where supported).
type DiscussionStatus string

const (
	StatusPending    DiscussionStatus = "pending"
	StatusProcessing DiscussionStatus = "processing"
	StatusAnalyzed   DiscussionStatus = "analyzed"
	StatusCompleted  DiscussionStatus = "completed"
	StatusFailed     DiscussionStatus = "failed"
	StatusRetrying   DiscussionStatus = "retrying"
)

// Attachment is a file reference carried on a thread message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Mime string `json:"mime,omitempty"`
}

// ThreadMessage is one message in a discussion thread. Immutable once
// produced by an adapter.
type ThreadMessage struct {
	ID           string       `json:"id"`
	AuthorHandle string       `json:"author_handle"`
	Content      string       `json:"content"`
	Timestamp    time.Time    `json:"timestamp"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// DiscussionThread is a root message plus ordered replies. Replies are
// ascending by timestamp and never precede the root.
type DiscussionThread struct {
	ID           string            `json:"id"`
	RootMessage  ThreadMessage     `json:"root_message"`
	Replies      []ThreadMessage   `json:"replies"`
	Participants []string          `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Messages returns the root followed by replies, in order.
func (t *DiscussionThread) Messages() []ThreadMessage {
	msgs := make([]ThreadMessage, 0, len(t.Replies)+1)
	msgs = append(msgs, t.RootMessage)
	msgs = append(msgs, t.Replies...)
	return msgs
}

// PlainText renders the thread as "author: content" lines for analysis.
func (t *DiscussionThread) PlainText() string {
	var b strings.Builder
	for _, m := range t.Messages() {
		b.WriteString(m.AuthorHandle)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// ParsedDiscussion is the adapter's normalized output for one inbound event,
// and the only shape the pipeline accepts as input.
type ParsedDiscussion struct {
	Source       SourceType        `json:"source"`
	ThreadID     string            `json:"thread_id"`
	URL          string            `json:"url"`
	TeamID       string            `json:"team_id"`
	Author       string            `json:"author"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Participants []string          `json:"participants,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate returns the list of missing required fields. An empty list means
// the discussion is pipeline-ready.
func (p *ParsedDiscussion) Validate() []string {
	var missing []string
	if p.Source == "" {
		missing = append(missing, "source")
	}
	if p.ThreadID == "" {
		missing = append(missing, "thread_id")
	}
	if p.URL == "" {
		missing = append(missing, "url")
	}
	if p.TeamID == "" {
		missing = append(missing, "team_id")
	}
	if p.Author == "" {
		missing = append(missing, "author")
	}
	if p.Title == "" {
		missing = append(missing, "title")
	}
	if p.Content == "" {
		missing = append(missing, "content")
	}
	return missing
}

// ThreadID is the compound <primaryID>:<subID> key adapters produce and
// accept. SubID may be empty, in which case the adapter resolves to the most
// recently created root-level message.
type ThreadID struct {
	PrimaryID string
	SubID     string
}

// ParseThreadID splits a compound thread identifier on its first colon.
func ParseThreadID(s string) (ThreadID, error) {
	if s == "" {
		return ThreadID{}, fmt.Errorf("empty thread id")
	}
	primary, sub, _ := strings.Cut(s, ":")
	if primary == "" {
		return ThreadID{}, fmt.Errorf("thread id %q has no primary part", s)
	}
	return ThreadID{PrimaryID: primary, SubID: sub}, nil
}

func (id ThreadID) String() string {
	return id.PrimaryID + ":" + id.SubID
}
