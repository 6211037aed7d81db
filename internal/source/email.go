package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tasksync.app/tasksync/common"
	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/internal/domain"
)

// DefaultTeamID is the sentinel team an unmatched email recipient routes to.
// Misconfigured slugs degrade to the default inbox instead of dropping mail.
const DefaultTeamID = "default"

// EmailAdapter ingests inbound-parse webhooks (SendGrid-shaped JSON). Email
// has no thread API and no reply transport, so fetch is unsupported and the
// ack operations are no-ops.
type EmailAdapter struct {
	directory Directory
}

func NewEmailAdapter(directory Directory) *EmailAdapter {
	return &EmailAdapter{directory: directory}
}

func (a *EmailAdapter) Source() domain.SourceType {
	return domain.SourceEmail
}

type inboundEmail struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Headers struct {
		MessageID string `json:"message_id"`
	} `json:"headers"`
}

func (a *EmailAdapter) ParseIncoming(ctx context.Context, payload []byte) (*domain.ParsedDiscussion, error) {
	var mail inboundEmail
	if err := json.Unmarshal(payload, &mail); err != nil {
		return nil, fmt.Errorf("decoding inbound email: %w", err)
	}

	content := strings.TrimSpace(mail.Text)
	if content == "" {
		content = strings.TrimSpace(stripTags(mail.HTML))
	}
	if content == "" {
		return nil, fmt.Errorf("inbound email has no body")
	}
	author := emailAddress(mail.From)
	if author == "" {
		return nil, fmt.Errorf("inbound email has no sender")
	}

	teamID, err := a.resolveTeam(ctx, mail.To)
	if err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(mail.Subject)
	if subject == "" {
		subject = titleFromContent(content)
	}

	subjectSlug, err := common.Slugify(subject, "discussion")
	if err != nil {
		return nil, fmt.Errorf("deriving thread slug: %w", err)
	}
	messageID := strings.Trim(mail.Headers.MessageID, "<>")
	if messageID == "" {
		messageID = id.NewString()
	}
	threadID := domain.ThreadID{PrimaryID: subjectSlug, SubID: messageID}

	return &domain.ParsedDiscussion{
		Source:       domain.SourceEmail,
		ThreadID:     threadID.String(),
		URL:          "mailto:" + emailAddress(mail.To) + "?subject=" + subjectSlug,
		TeamID:       teamID,
		Author:       author,
		Title:        subject,
		Content:      content,
		Participants: []string{author},
		Timestamp:    time.Now().UTC(),
		Metadata: map[string]string{
			"message_id": messageID,
			"recipient":  emailAddress(mail.To),
		},
	}, nil
}

// resolveTeam matches the recipient local part's trailing slug against team
// slugs: "tasks+acme@in.example.com" routes on "acme", "acme@in.example.com"
// on "acme". Unmatched recipients fall back to the default team.
func (a *EmailAdapter) resolveTeam(ctx context.Context, to string) (string, error) {
	addr := emailAddress(to)
	local, _, _ := strings.Cut(addr, "@")
	if local == "" {
		return "", fmt.Errorf("inbound email has no recipient")
	}
	if _, suffix, found := strings.Cut(local, "+"); found {
		local = suffix
	}

	teamID, found, err := a.directory.TeamIDBySlug(ctx, local)
	if err != nil {
		return "", fmt.Errorf("resolving email team: %w", err)
	}
	if !found {
		return DefaultTeamID, nil
	}
	return teamID, nil
}

// FetchThread is unsupported: inbound email exposes no thread API. The
// pipeline synthesizes the thread from the parsed discussion instead.
func (a *EmailAdapter) FetchThread(ctx context.Context, threadID string, cfg *domain.SourceConfig) (*domain.DiscussionThread, error) {
	return nil, ErrFetchUnsupported
}

// PostReply succeeds without sending: no outbound mail transport is
// configured for this surface.
func (a *EmailAdapter) PostReply(ctx context.Context, threadID, message string, cfg *domain.SourceConfig) bool {
	return true
}

func (a *EmailAdapter) UpdateStatus(ctx context.Context, threadID string, status domain.DiscussionStatus, cfg *domain.SourceConfig) bool {
	return true
}

func (a *EmailAdapter) ValidateConfig(cfg *domain.SourceConfig) error {
	if cfg.TeamID == "" {
		return fmt.Errorf("team id is required")
	}
	return nil
}

func (a *EmailAdapter) TestConnection(ctx context.Context, cfg *domain.SourceConfig) error {
	return nil
}

// emailAddress extracts the bare address from "Name <addr@host>" forms.
func emailAddress(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.LastIndex(s, "<"); start >= 0 {
		if end := strings.Index(s[start:], ">"); end > 0 {
			return strings.TrimSpace(s[start+1 : start+end])
		}
	}
	return s
}

// stripTags is a crude HTML-to-text fallback for mail with no plain part.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
