package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fairdice/internal/model"
)

// ErrReferenceNotFound is returned when a status or outcome name has no row.
var ErrReferenceNotFound = errors.New("reference value not found")

// ReferenceRepository reads the game_statuses and game_outcomes tables.
type ReferenceRepository struct {
	pool *pgxpool.Pool
}

// NewReferenceRepository creates a new ReferenceRepository instance.
func NewReferenceRepository(pool *pgxpool.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

// FindStatusByName returns the status row with the given name.
func (r *ReferenceRepository) FindStatusByName(ctx context.Context, name model.StatusName) (*model.GameStatus, error) {
	const query = `SELECT id, name FROM game_statuses WHERE name = $1`

	var status model.GameStatus
	err := r.pool.QueryRow(ctx, query, string(name)).Scan(&status.ID, &status.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("status %s: %w", name, ErrReferenceNotFound)
		}
		return nil, fmt.Errorf("failed to get status %s: %w", name, err)
	}

	return &status, nil
}

// FindOutcomeByName returns the outcome row with the given name.
func (r *ReferenceRepository) FindOutcomeByName(ctx context.Context, name model.OutcomeName) (*model.GameOutcome, error) {
	const query = `SELECT id, name FROM game_outcomes WHERE name = $1`

	var outcome model.GameOutcome
	err := r.pool.QueryRow(ctx, query, string(name)).Scan(&outcome.ID, &outcome.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("outcome %s: %w", name, ErrReferenceNotFound)
		}
		return nil, fmt.Errorf("failed to get outcome %s: %w", name, err)
	}

	return &outcome, nil
}
