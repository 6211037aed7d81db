package domain

import "time"

// PropertyType mirrors the destination schema's property kinds that the
// field mapper distinguishes.
type PropertyType string

const (
	PropertyTitle    PropertyType = "title"
	PropertyRichText PropertyType = "rich_text"
	PropertySelect   PropertyType = "select"
	PropertyPerson   PropertyType = "people"
	PropertyDate     PropertyType = "date"
)

// PropertyMapping maps one AI field onto a destination property. ValueMap is
// used only for choice-typed destination properties.
type PropertyMapping struct {
	Property     string            `json:"property"`
	PropertyType PropertyType      `json:"property_type"`
	ValueMap     map[string]string `json:"value_map,omitempty"`
}

// FieldMapping is the configured correspondence between AI field names and
// destination schema properties.
type FieldMapping map[string]PropertyMapping

// SourceConfig is the per-(team, source) configuration record consumed by
// the pipeline. Exactly one destination association is active per config.
type SourceConfig struct {
	ID               int64        `json:"id"`
	TeamID           string       `json:"team_id"`
	Source           SourceType   `json:"source"`
	SourceToken      string       `json:"source_token"`
	WebhookSecret    string       `json:"webhook_secret,omitempty"`
	DestinationToken string       `json:"destination_token"`
	DestinationID    string       `json:"destination_id"`
	BotHandle        string       `json:"bot_handle,omitempty"`
	AIEnabled        bool         `json:"ai_enabled"`
	AutoProcess      bool         `json:"auto_process"`
	PostAck          bool         `json:"post_ack"`
	SummaryPrompt    string       `json:"summary_prompt,omitempty"`
	TaskPrompt       string       `json:"task_prompt,omitempty"`
	AvailableDomains []string     `json:"available_domains,omitempty"`
	FieldMapping     FieldMapping `json:"field_mapping,omitempty"`
	Active           bool         `json:"active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// IdentityMapping translates a source-specific user identifier (email or
// user ID) into a destination-specific one.
type IdentityMapping struct {
	ID            int64      `json:"id"`
	TeamID        string     `json:"team_id"`
	Source        SourceType `json:"source"`
	SourceUserID  string     `json:"source_user_id"`
	DestinationID string     `json:"destination_id"`
	CreatedAt     time.Time  `json:"created_at"`
}
