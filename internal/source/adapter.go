// Package source holds the per-surface adapters that translate between an
// external collaboration surface's native shapes and the canonical
// discussion model. The pipeline depends only on the Adapter interface,
// never on a concrete source.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasksync.app/tasksync/internal/domain"
)

// ErrFetchUnsupported is returned by adapters whose surface has no thread
// API (inbound email). The pipeline synthesizes the thread from the parsed
// discussion instead.
var ErrFetchUnsupported = errors.New("thread fetch not supported by this source")

// Adapter is the capability set every source surface implements.
type Adapter interface {
	Source() domain.SourceType

	// ParseIncoming converts a raw webhook body into a ParsedDiscussion.
	// Payloads lacking a minimum viable body or a resolvable team are
	// rejected with a non-retryable error.
	ParseIncoming(ctx context.Context, payload []byte) (*domain.ParsedDiscussion, error)

	// FetchThread resolves a compound <primaryId>:<subId> thread identifier
	// to a full thread. An empty subId resolves to the most recently
	// created root-level message. Not-found is non-retryable; 5xx and
	// rate limits are marked transient.
	FetchThread(ctx context.Context, threadID string, cfg *domain.SourceConfig) (*domain.DiscussionThread, error)

	// PostReply posts a threaded reply. Never fails the pipeline: remote
	// errors are logged and reported as false.
	PostReply(ctx context.Context, threadID, message string, cfg *domain.SourceConfig) bool

	// UpdateStatus reflects a pipeline status on the source surface.
	// Surfaces without a status concept no-op and report success.
	UpdateStatus(ctx context.Context, threadID string, status domain.DiscussionStatus, cfg *domain.SourceConfig) bool

	// ValidateConfig performs structural checks on the config.
	ValidateConfig(cfg *domain.SourceConfig) error

	// TestConnection performs one live round-trip with the config's
	// credential.
	TestConnection(ctx context.Context, cfg *domain.SourceConfig) error
}

// Directory resolves inbound routing hints to team identifiers. Backed by
// the source-config store.
type Directory interface {
	// TeamIDBySlug matches an email recipient slug against team slugs.
	TeamIDBySlug(ctx context.Context, slug string) (string, bool, error)
	// TeamIDByWebhookSecret matches a webhook passcode against configured
	// sources, for surfaces that carry no team reference in the payload.
	TeamIDByWebhookSecret(ctx context.Context, source domain.SourceType, secret string) (string, bool, error)
}

// StatusIndicators maps pipeline statuses to the indicator tokens surfaces
// with reaction support use.
var StatusIndicators = map[domain.DiscussionStatus]string{
	domain.StatusPending:    "eyes",
	domain.StatusProcessing: "hourglass",
	domain.StatusAnalyzed:   "robot",
	domain.StatusCompleted:  "check",
	domain.StatusFailed:     "cross",
	domain.StatusRetrying:   "repeat",
}

// Registry holds the configured adapters keyed by source type.
type Registry struct {
	adapters map[domain.SourceType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.SourceType]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

func (r *Registry) Get(s domain.SourceType) (Adapter, error) {
	a, ok := r.adapters[s]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", s)
	}
	return a, nil
}

// titleFromContent derives a discussion title from the first line of the
// body, capped at 80 runes.
func titleFromContent(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return line
}
