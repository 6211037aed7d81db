package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tasksync.app/tasksync/common"
	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/core/db"
	"tasksync.app/tasksync/internal/domain"
)

// SourceConfigStore manages per-(team, source) pipeline configurations. It
// also backs adapter-side team resolution (email slugs, webhook passcodes).
type SourceConfigStore interface {
	Create(ctx context.Context, cfg *domain.SourceConfig) (*domain.SourceConfig, error)
	Update(ctx context.Context, cfg *domain.SourceConfig) error
	GetActive(ctx context.Context, teamID string, source domain.SourceType) (*domain.SourceConfig, error)
	TeamIDBySlug(ctx context.Context, slug string) (string, bool, error)
	TeamIDByWebhookSecret(ctx context.Context, source domain.SourceType, secret string) (string, bool, error)
}

type sourceConfigStore struct {
	db *db.DB
}

const sourceConfigColumns = `
	id, team_id, source, source_token, webhook_secret, destination_token,
	destination_id, bot_handle, ai_enabled, auto_process, post_ack,
	summary_prompt, task_prompt, available_domains, field_mapping, active,
	created_at, updated_at`

// Create inserts a configuration and, when it is active, retires any previous
// active config for the same (team, source) in the same transaction so the
// pipeline never sees two active configs.
func (s *sourceConfigStore) Create(ctx context.Context, cfg *domain.SourceConfig) (*domain.SourceConfig, error) {
	cfg.ID = id.New()
	var created *domain.SourceConfig
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if cfg.Active {
			if _, err := tx.Exec(ctx, `
				UPDATE source_configs SET active = false, updated_at = now()
				WHERE team_id = $1 AND source = $2 AND active`,
				cfg.TeamID, cfg.Source,
			); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO source_configs (
				id, team_id, source, source_token, webhook_secret,
				destination_token, destination_id, bot_handle, ai_enabled,
				auto_process, post_ack, summary_prompt, task_prompt,
				available_domains, field_mapping, active
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			RETURNING`+sourceConfigColumns,
			cfg.ID, cfg.TeamID, cfg.Source, cfg.SourceToken, cfg.WebhookSecret,
			cfg.DestinationToken, cfg.DestinationID, cfg.BotHandle, cfg.AIEnabled,
			cfg.AutoProcess, cfg.PostAck, cfg.SummaryPrompt, cfg.TaskPrompt,
			cfg.AvailableDomains, cfg.FieldMapping, cfg.Active,
		)
		var err error
		created, err = scanSourceConfig(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *sourceConfigStore) Update(ctx context.Context, cfg *domain.SourceConfig) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE source_configs SET
			source_token = $2, webhook_secret = $3, destination_token = $4,
			destination_id = $5, bot_handle = $6, ai_enabled = $7,
			auto_process = $8, post_ack = $9, summary_prompt = $10,
			task_prompt = $11, available_domains = $12, field_mapping = $13,
			active = $14, updated_at = now()
		WHERE id = $1`,
		cfg.ID, cfg.SourceToken, cfg.WebhookSecret, cfg.DestinationToken,
		cfg.DestinationID, cfg.BotHandle, cfg.AIEnabled, cfg.AutoProcess,
		cfg.PostAck, cfg.SummaryPrompt, cfg.TaskPrompt, cfg.AvailableDomains,
		cfg.FieldMapping, cfg.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sourceConfigStore) GetActive(ctx context.Context, teamID string, source domain.SourceType) (*domain.SourceConfig, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT`+sourceConfigColumns+`
		FROM source_configs
		WHERE team_id = $1 AND source = $2 AND active
		ORDER BY updated_at DESC
		LIMIT 1`,
		teamID, source,
	)
	return scanSourceConfig(row)
}

// TeamIDBySlug matches an email recipient slug against team identifiers of
// active email configs.
func (s *sourceConfigStore) TeamIDBySlug(ctx context.Context, slug string) (string, bool, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT DISTINCT team_id FROM source_configs
		WHERE source = $1 AND active`,
		domain.SourceEmail,
	)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	for rows.Next() {
		var teamID string
		if err := rows.Scan(&teamID); err != nil {
			return "", false, err
		}
		if common.SlugEqual(teamID, slug) {
			return teamID, true, nil
		}
	}
	return "", false, rows.Err()
}

func (s *sourceConfigStore) TeamIDByWebhookSecret(ctx context.Context, source domain.SourceType, secret string) (string, bool, error) {
	if secret == "" {
		return "", false, nil
	}
	var teamID string
	err := s.db.Pool().QueryRow(ctx, `
		SELECT team_id FROM source_configs
		WHERE source = $1 AND webhook_secret = $2 AND active
		LIMIT 1`,
		source, secret,
	).Scan(&teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return teamID, true, nil
}

func scanSourceConfig(row pgx.Row) (*domain.SourceConfig, error) {
	var cfg domain.SourceConfig
	err := row.Scan(
		&cfg.ID, &cfg.TeamID, &cfg.Source, &cfg.SourceToken, &cfg.WebhookSecret,
		&cfg.DestinationToken, &cfg.DestinationID, &cfg.BotHandle,
		&cfg.AIEnabled, &cfg.AutoProcess, &cfg.PostAck, &cfg.SummaryPrompt,
		&cfg.TaskPrompt, &cfg.AvailableDomains, &cfg.FieldMapping, &cfg.Active,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning source config: %w", err)
	}
	return &cfg, nil
}
