package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tasksync.app/tasksync/common/id"
	"tasksync.app/tasksync/internal/domain"
)

// IdentityStore maps source-specific user identifiers onto destination user
// identifiers. A missing mapping is reported with found=false, not an error,
// because the mapper treats it as a soft skip.
type IdentityStore interface {
	Upsert(ctx context.Context, m *domain.IdentityMapping) error
	Resolve(ctx context.Context, teamID string, source domain.SourceType, sourceUserID string) (string, bool, error)
}

type identityStore struct {
	pool *pgxpool.Pool
}

func (s *identityStore) Upsert(ctx context.Context, m *domain.IdentityMapping) error {
	if m.ID == 0 {
		m.ID = id.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_mappings (id, team_id, source, source_user_id, destination_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, source, source_user_id)
		DO UPDATE SET destination_id = EXCLUDED.destination_id`,
		m.ID, m.TeamID, m.Source, m.SourceUserID, m.DestinationID,
	)
	return err
}

func (s *identityStore) Resolve(ctx context.Context, teamID string, source domain.SourceType, sourceUserID string) (string, bool, error) {
	var destinationID string
	err := s.pool.QueryRow(ctx, `
		SELECT destination_id FROM identity_mappings
		WHERE team_id = $1 AND source = $2 AND source_user_id = $3`,
		teamID, source, sourceUserID,
	).Scan(&destinationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return destinationID, true, nil
}
