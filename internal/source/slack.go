package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tasksync.app/tasksync/internal/domain"
)

const defaultSlackBaseURL = "https://slack.com/api"

// SlackAdapter ingests Events API callbacks and talks back to the workspace
// through the Web API.
type SlackAdapter struct {
	client       *http.Client
	baseURL      string
	refetchDelay time.Duration
}

func NewSlackAdapter(client *http.Client) *SlackAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SlackAdapter{
		client:       client,
		baseURL:      defaultSlackBaseURL,
		refetchDelay: 2 * time.Second,
	}
}

func (a *SlackAdapter) Source() domain.SourceType {
	return domain.SourceSlack
}

type slackEnvelope struct {
	Type   string `json:"type"`
	TeamID string `json:"team_id"`
	Event  struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		User     string `json:"user"`
		BotID    string `json:"bot_id"`
		Text     string `json:"text"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		Files    []struct {
			Name       string `json:"name"`
			URLPrivate string `json:"url_private"`
			Mimetype   string `json:"mimetype"`
		} `json:"files"`
	} `json:"event"`
}

func (a *SlackAdapter) ParseIncoming(ctx context.Context, payload []byte) (*domain.ParsedDiscussion, error) {
	var envelope slackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decoding slack payload: %w", err)
	}
	if envelope.Type != "event_callback" {
		return nil, fmt.Errorf("unsupported slack payload type %q", envelope.Type)
	}

	ev := envelope.Event
	if ev.Type != "app_mention" && ev.Type != "message" {
		return nil, fmt.Errorf("unsupported slack event type %q", ev.Type)
	}
	if ev.BotID != "" || ev.Subtype == "bot_message" {
		return nil, fmt.Errorf("ignoring bot-authored slack event")
	}
	if envelope.TeamID == "" {
		return nil, fmt.Errorf("slack event carries no team id")
	}
	if ev.Channel == "" || ev.TS == "" {
		return nil, fmt.Errorf("slack event missing channel or timestamp")
	}

	content := strings.TrimSpace(ev.Text)
	if content == "" && len(ev.Files) > 0 {
		// File-share notifications can arrive before Slack has indexed the
		// message text. The live fetch in FetchThread picks up the final
		// content; this placeholder only satisfies intake validation.
		names := make([]string, 0, len(ev.Files))
		for _, f := range ev.Files {
			names = append(names, f.Name)
		}
		content = "shared files: " + strings.Join(names, ", ")
	}
	if content == "" {
		return nil, fmt.Errorf("slack event has no message body")
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}
	threadID := domain.ThreadID{PrimaryID: ev.Channel, SubID: threadTS}

	return &domain.ParsedDiscussion{
		Source:       domain.SourceSlack,
		ThreadID:     threadID.String(),
		URL:          slackPermalink(envelope.TeamID, ev.Channel, threadTS),
		TeamID:       envelope.TeamID,
		Author:       ev.User,
		Title:        titleFromContent(content),
		Content:      content,
		Participants: []string{ev.User},
		Timestamp:    slackTime(ev.TS),
		Metadata: map[string]string{
			"channel":    ev.Channel,
			"event_type": ev.Type,
		},
	}, nil
}

type slackMessage struct {
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Files    []struct {
		Name       string `json:"name"`
		URLPrivate string `json:"url_private"`
		Mimetype   string `json:"mimetype"`
	} `json:"files"`
}

type slackAPIResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Messages []slackMessage `json:"messages"`
}

func (a *SlackAdapter) FetchThread(ctx context.Context, threadID string, cfg *domain.SourceConfig) (*domain.DiscussionThread, error) {
	id, err := domain.ParseThreadID(threadID)
	if err != nil {
		return nil, err
	}

	thread, err := a.fetchOnce(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(thread.RootMessage.Content) == "" && a.refetchDelay > 0 {
		// Content-free root, usually a just-shared file. Give the source a
		// moment and try once more.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.refetchDelay):
		}
		return a.fetchOnce(ctx, id, cfg)
	}
	return thread, nil
}

func (a *SlackAdapter) fetchOnce(ctx context.Context, id domain.ThreadID, cfg *domain.SourceConfig) (*domain.DiscussionThread, error) {
	var (
		resp slackAPIResponse
		err  error
	)
	if id.SubID == "" {
		// No thread anchor: resolve to the channel's most recent root message.
		endpoint := fmt.Sprintf("%s/conversations.history?channel=%s&limit=20", a.baseURL, url.QueryEscape(id.PrimaryID))
		err = getJSON(ctx, a.client, endpoint, slackHeaders(cfg.SourceToken), &resp)
	} else {
		endpoint := fmt.Sprintf("%s/conversations.replies?channel=%s&ts=%s&limit=200",
			a.baseURL, url.QueryEscape(id.PrimaryID), url.QueryEscape(id.SubID))
		err = getJSON(ctx, a.client, endpoint, slackHeaders(cfg.SourceToken), &resp)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching slack thread %s: %w", id, err)
	}
	if err := slackOK(resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("slack thread %s has no messages", id)
	}

	messages := resp.Messages
	if id.SubID == "" {
		roots := make([]slackMessage, 0, len(messages))
		for _, m := range messages {
			if m.ThreadTS == "" || m.ThreadTS == m.TS {
				roots = append(roots, m)
			}
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("channel %s has no root-level messages", id.PrimaryID)
		}
		sort.Slice(roots, func(i, j int) bool { return roots[i].TS > roots[j].TS })
		messages = roots[:1]
	}

	root := toThreadMessage(messages[0])
	thread := &domain.DiscussionThread{
		ID:          domain.ThreadID{PrimaryID: id.PrimaryID, SubID: messages[0].TS}.String(),
		RootMessage: root,
		Metadata:    map[string]string{"channel": id.PrimaryID},
	}
	seen := map[string]bool{root.AuthorHandle: true}
	thread.Participants = []string{root.AuthorHandle}
	for _, m := range messages[1:] {
		msg := toThreadMessage(m)
		thread.Replies = append(thread.Replies, msg)
		if !seen[msg.AuthorHandle] {
			seen[msg.AuthorHandle] = true
			thread.Participants = append(thread.Participants, msg.AuthorHandle)
		}
	}
	return thread, nil
}

func (a *SlackAdapter) PostReply(ctx context.Context, threadID, message string, cfg *domain.SourceConfig) bool {
	id, err := domain.ParseThreadID(threadID)
	if err != nil {
		slog.WarnContext(ctx, "slack reply skipped, bad thread id", "thread_id", threadID, "error", err)
		return false
	}

	var resp slackAPIResponse
	err = postForm(ctx, a.client, a.baseURL+"/chat.postMessage", cfg.SourceToken, map[string]string{
		"channel":   id.PrimaryID,
		"thread_ts": id.SubID,
		"text":      message,
	}, &resp)
	if err == nil {
		err = slackOK(resp)
	}
	if err != nil {
		slog.WarnContext(ctx, "slack reply failed", "thread_id", threadID, "error", err)
		return false
	}
	return true
}

func (a *SlackAdapter) UpdateStatus(ctx context.Context, threadID string, status domain.DiscussionStatus, cfg *domain.SourceConfig) bool {
	id, err := domain.ParseThreadID(threadID)
	if err != nil {
		slog.WarnContext(ctx, "slack status skipped, bad thread id", "thread_id", threadID, "error", err)
		return false
	}
	indicator, ok := StatusIndicators[status]
	if !ok {
		return false
	}

	var resp slackAPIResponse
	err = postForm(ctx, a.client, a.baseURL+"/reactions.add", cfg.SourceToken, map[string]string{
		"channel":   id.PrimaryID,
		"timestamp": id.SubID,
		"name":      indicator,
	}, &resp)
	if err == nil && !resp.OK && resp.Error != "already_reacted" {
		err = fmt.Errorf("slack api error: %s", resp.Error)
	}
	if err != nil {
		slog.WarnContext(ctx, "slack status update failed", "thread_id", threadID, "status", status, "error", err)
		return false
	}
	return true
}

func (a *SlackAdapter) ValidateConfig(cfg *domain.SourceConfig) error {
	if cfg.TeamID == "" {
		return fmt.Errorf("team id is required")
	}
	if !strings.HasPrefix(cfg.SourceToken, "xoxb-") {
		return fmt.Errorf("slack source token must be a bot token (xoxb-)")
	}
	return nil
}

func (a *SlackAdapter) TestConnection(ctx context.Context, cfg *domain.SourceConfig) error {
	var resp slackAPIResponse
	if err := postForm(ctx, a.client, a.baseURL+"/auth.test", cfg.SourceToken, nil, &resp); err != nil {
		return err
	}
	return slackOK(resp)
}

func slackOK(resp slackAPIResponse) error {
	if resp.OK {
		return nil
	}
	if resp.Error == "ratelimited" {
		return domain.MarkTransient(fmt.Errorf("slack api error: %s", resp.Error))
	}
	return fmt.Errorf("slack api error: %s", resp.Error)
}

func slackHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func toThreadMessage(m slackMessage) domain.ThreadMessage {
	msg := domain.ThreadMessage{
		ID:           m.TS,
		AuthorHandle: m.User,
		Content:      m.Text,
		Timestamp:    slackTime(m.TS),
	}
	for _, f := range m.Files {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Name: f.Name,
			URL:  f.URLPrivate,
			Mime: f.Mimetype,
		})
	}
	return msg
}

// slackTime converts Slack's "seconds.fraction" timestamp format.
func slackTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func slackPermalink(teamID, channel, ts string) string {
	return fmt.Sprintf("https://app.slack.com/client/%s/%s/thread/%s-%s", teamID, channel, channel, ts)
}
