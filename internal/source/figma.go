package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"tasksync.app/tasksync/internal/domain"
)

const defaultFigmaBaseURL = "https://api.figma.com"

// FigmaAdapter ingests FILE_COMMENT webhooks. Figma payloads carry no team
// reference, so the team is resolved by matching the webhook passcode
// against configured sources.
type FigmaAdapter struct {
	client    *http.Client
	baseURL   string
	directory Directory
}

func NewFigmaAdapter(client *http.Client, directory Directory) *FigmaAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FigmaAdapter{
		client:    client,
		baseURL:   defaultFigmaBaseURL,
		directory: directory,
	}
}

func (a *FigmaAdapter) Source() domain.SourceType {
	return domain.SourceFigma
}

type figmaWebhook struct {
	EventType string `json:"event_type"`
	Passcode  string `json:"passcode"`
	FileKey   string `json:"file_key"`
	FileName  string `json:"file_name"`
	CommentID string `json:"comment_id"`
	ParentID  string `json:"parent_id"`
	Timestamp string `json:"timestamp"`
	Comment   []struct {
		Text string `json:"text"`
	} `json:"comment"`
	TriggeredBy struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"triggered_by"`
}

func (a *FigmaAdapter) ParseIncoming(ctx context.Context, payload []byte) (*domain.ParsedDiscussion, error) {
	var hook figmaWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("decoding figma payload: %w", err)
	}
	if hook.EventType != "FILE_COMMENT" {
		return nil, fmt.Errorf("unsupported figma event type %q", hook.EventType)
	}
	if hook.FileKey == "" || hook.CommentID == "" {
		return nil, fmt.Errorf("figma event missing file key or comment id")
	}

	var parts []string
	for _, c := range hook.Comment {
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	content := strings.Join(parts, "\n")
	if content == "" {
		return nil, fmt.Errorf("figma comment has no text body")
	}

	teamID, found, err := a.directory.TeamIDByWebhookSecret(ctx, domain.SourceFigma, hook.Passcode)
	if err != nil {
		return nil, fmt.Errorf("resolving figma team: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no team configured for figma passcode")
	}

	// Replies attach to their root comment's thread.
	rootComment := hook.CommentID
	if hook.ParentID != "" {
		rootComment = hook.ParentID
	}
	threadID := domain.ThreadID{PrimaryID: hook.FileKey, SubID: rootComment}

	ts, _ := time.Parse(time.RFC3339, hook.Timestamp)

	return &domain.ParsedDiscussion{
		Source:       domain.SourceFigma,
		ThreadID:     threadID.String(),
		URL:          figmaCommentURL(hook.FileKey, rootComment),
		TeamID:       teamID,
		Author:       hook.TriggeredBy.Handle,
		Title:        titleFromContent(content),
		Content:      content,
		Participants: []string{hook.TriggeredBy.Handle},
		Timestamp:    ts,
		Metadata: map[string]string{
			"file_key":  hook.FileKey,
			"file_name": hook.FileName,
		},
	}, nil
}

type figmaComment struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Message  string `json:"message"`
	User     struct {
		Handle string `json:"handle"`
	} `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

type figmaCommentsResponse struct {
	Comments []figmaComment `json:"comments"`
}

func (a *FigmaAdapter) FetchThread(ctx context.Context, threadID string, cfg *domain.SourceConfig) (*domain.DiscussionThread, error) {
	id, err := domain.ParseThreadID(threadID)
	if err != nil {
		return nil, err
	}

	var resp figmaCommentsResponse
	endpoint := fmt.Sprintf("%s/v1/files/%s/comments", a.baseURL, id.PrimaryID)
	if err := getJSON(ctx, a.client, endpoint, figmaHeaders(cfg.SourceToken), &resp); err != nil {
		return nil, fmt.Errorf("fetching figma comments for %s: %w", id.PrimaryID, err)
	}

	rootID := id.SubID
	if rootID == "" {
		// No anchor: the most recently created root-level comment.
		var latest *figmaComment
		for i := range resp.Comments {
			c := &resp.Comments[i]
			if c.ParentID != "" {
				continue
			}
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
		if latest == nil {
			return nil, fmt.Errorf("file %s has no root-level comments", id.PrimaryID)
		}
		rootID = latest.ID
	}

	var root *figmaComment
	var replies []figmaComment
	for i := range resp.Comments {
		c := resp.Comments[i]
		switch {
		case c.ID == rootID:
			root = &resp.Comments[i]
		case c.ParentID == rootID:
			replies = append(replies, c)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("figma comment %s not found in file %s", rootID, id.PrimaryID)
	}
	sort.Slice(replies, func(i, j int) bool { return replies[i].CreatedAt.Before(replies[j].CreatedAt) })

	thread := &domain.DiscussionThread{
		ID:          domain.ThreadID{PrimaryID: id.PrimaryID, SubID: rootID}.String(),
		RootMessage: toFigmaMessage(*root),
		Metadata:    map[string]string{"file_key": id.PrimaryID},
	}
	seen := map[string]bool{root.User.Handle: true}
	thread.Participants = []string{root.User.Handle}
	for _, c := range replies {
		thread.Replies = append(thread.Replies, toFigmaMessage(c))
		if !seen[c.User.Handle] {
			seen[c.User.Handle] = true
			thread.Participants = append(thread.Participants, c.User.Handle)
		}
	}
	return thread, nil
}

func (a *FigmaAdapter) PostReply(ctx context.Context, threadID, message string, cfg *domain.SourceConfig) bool {
	id, err := domain.ParseThreadID(threadID)
	if err != nil {
		slog.WarnContext(ctx, "figma reply skipped, bad thread id", "thread_id", threadID, "error", err)
		return false
	}

	endpoint := fmt.Sprintf("%s/v1/files/%s/comments", a.baseURL, id.PrimaryID)
	payload := map[string]string{
		"message":    message,
		"comment_id": id.SubID,
	}
	if err := postJSON(ctx, a.client, endpoint, figmaHeaders(cfg.SourceToken), payload, nil); err != nil {
		slog.WarnContext(ctx, "figma reply failed", "thread_id", threadID, "error", err)
		return false
	}
	return true
}

// UpdateStatus is a no-op: Figma comments have no reaction or status concept.
func (a *FigmaAdapter) UpdateStatus(ctx context.Context, threadID string, status domain.DiscussionStatus, cfg *domain.SourceConfig) bool {
	return true
}

func (a *FigmaAdapter) ValidateConfig(cfg *domain.SourceConfig) error {
	if cfg.TeamID == "" {
		return fmt.Errorf("team id is required")
	}
	if !strings.HasPrefix(cfg.SourceToken, "figd_") {
		return fmt.Errorf("figma source token must be a personal access token (figd_)")
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("figma config requires a webhook passcode")
	}
	return nil
}

func (a *FigmaAdapter) TestConnection(ctx context.Context, cfg *domain.SourceConfig) error {
	var me struct {
		ID string `json:"id"`
	}
	return getJSON(ctx, a.client, a.baseURL+"/v1/me", figmaHeaders(cfg.SourceToken), &me)
}

func figmaHeaders(token string) map[string]string {
	return map[string]string{"X-Figma-Token": token}
}

func toFigmaMessage(c figmaComment) domain.ThreadMessage {
	return domain.ThreadMessage{
		ID:           c.ID,
		AuthorHandle: c.User.Handle,
		Content:      c.Message,
		Timestamp:    c.CreatedAt,
	}
}

func figmaCommentURL(fileKey, commentID string) string {
	return fmt.Sprintf("https://www.figma.com/file/%s#%s", fileKey, commentID)
}
