// Package store persists source configurations, processing jobs, identity
// mappings, and created-task references on Postgres.
package store

import (
	"context"
	"errors"
	"fmt"

	"tasksync.app/tasksync/core/db"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Stores bundles the typed accessors over one database handle.
type Stores struct {
	SourceConfigs SourceConfigStore
	Jobs          JobStore
	Identities    IdentityStore
}

func New(database *db.DB) *Stores {
	pool := database.Pool()
	return &Stores{
		SourceConfigs: &sourceConfigStore{db: database},
		Jobs:          &jobStore{pool: pool},
		Identities:    &identityStore{pool: pool},
	}
}

// Migrate applies the schema. Idempotent; runs at service start.
func Migrate(ctx context.Context, database *db.DB) error {
	if _, err := database.Pool().Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
