package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fairdice/internal/model"
)

// ErrGameNotFound is returned when no game row has the requested id.
var ErrGameNotFound = errors.New("game not found")

// LockedGameFunc mutates a game while its row is locked. It returns true
// when the game was modified and must be written back.
type LockedGameFunc func(g *model.Game) (dirty bool, err error)

// GameRepository handles game data persistence.
type GameRepository struct {
	pool *pgxpool.Pool
}

// NewGameRepository creates a new GameRepository instance.
func NewGameRepository(pool *pgxpool.Pool) *GameRepository {
	return &GameRepository{pool: pool}
}

const selectGame = `
	SELECT g.id, g.user_id,
		s.id, s.name,
		o.id, o.name,
		g.server_nonce, g.server_nonce_hash, g.client_nonce_hash, g.client_nonce,
		g.server_roll, g.client_roll,
		g.initiated_at, g.completed_at
	FROM games g
	JOIN game_statuses s ON s.id = g.status_id
	LEFT JOIN game_outcomes o ON o.id = g.outcome_id
	WHERE g.id = $1
`

// Create inserts a new in-progress game and sets its ID.
func (r *GameRepository) Create(ctx context.Context, g *model.Game) error {
	if g.Status == nil {
		return errors.New("game status is required")
	}

	const query = `
		INSERT INTO games (user_id, status_id, server_nonce, server_nonce_hash, client_nonce_hash, initiated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		g.UserID,
		g.Status.ID,
		g.ServerNonce,
		g.ServerNonceHash,
		g.ClientNonceHash,
		g.InitiatedAt,
	).Scan(&g.ID)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	return nil
}

// GetByID retrieves a game without locking it.
func (r *GameRepository) GetByID(ctx context.Context, id int64) (*model.Game, error) {
	g, err := scanGame(r.pool.QueryRow(ctx, selectGame, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return g, nil
}

// WithLockedGame loads the game with a row lock held for the duration of fn.
// Concurrent callers for the same id are serialized by the database.
func (r *GameRepository) WithLockedGame(ctx context.Context, id int64, fn LockedGameFunc) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		g, err := scanGame(tx.QueryRow(ctx, selectGame+" FOR UPDATE OF g", id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrGameNotFound
			}
			return fmt.Errorf("failed to lock game: %w", err)
		}

		dirty, err := fn(g)
		if err != nil {
			return err
		}
		if !dirty {
			return nil
		}

		return updateCompletion(ctx, tx, g)
	})
}

// RecentCompleted returns up to limit completed games of the user, newest first.
func (r *GameRepository) RecentCompleted(ctx context.Context, userID int64, limit int) ([]*model.HistoryEntry, error) {
	const query = `
		SELECT g.id, g.server_roll, g.client_roll, o.name, g.completed_at
		FROM games g
		JOIN game_statuses s ON s.id = g.status_id
		JOIN game_outcomes o ON o.id = g.outcome_id
		WHERE g.user_id = $1 AND s.name = $2
		ORDER BY g.completed_at DESC, g.id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, string(model.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var serverRoll, clientRoll int16
		if err := rows.Scan(&e.GameID, &serverRoll, &clientRoll, &e.Outcome, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.ServerRoll = int(serverRoll)
		e.ClientRoll = int(clientRoll)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

func updateCompletion(ctx context.Context, tx pgx.Tx, g *model.Game) error {
	if g.Status == nil {
		return errors.New("game status is required")
	}

	var outcomeID *int16
	if g.Outcome != nil {
		outcomeID = &g.Outcome.ID
	}

	const query = `
		UPDATE games
		SET status_id = $2, outcome_id = $3, client_nonce = $4,
			server_roll = $5, client_roll = $6, completed_at = $7
		WHERE id = $1
	`

	_, err := tx.Exec(ctx, query,
		g.ID,
		g.Status.ID,
		outcomeID,
		g.ClientNonce,
		g.ServerRoll,
		g.ClientRoll,
		g.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update game: %w", err)
	}

	return nil
}

func scanGame(row pgx.Row) (*model.Game, error) {
	var (
		g          model.Game
		status     model.GameStatus
		outcomeID  *int16
		outcome    *string
		serverRoll *int16
		clientRoll *int16
	)

	err := row.Scan(
		&g.ID,
		&g.UserID,
		&status.ID,
		&status.Name,
		&outcomeID,
		&outcome,
		&g.ServerNonce,
		&g.ServerNonceHash,
		&g.ClientNonceHash,
		&g.ClientNonce,
		&serverRoll,
		&clientRoll,
		&g.InitiatedAt,
		&g.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Status = &status
	if outcomeID != nil && outcome != nil {
		g.Outcome = &model.GameOutcome{ID: *outcomeID, Name: model.OutcomeName(*outcome)}
	}
	if serverRoll != nil {
		v := int(*serverRoll)
		g.ServerRoll = &v
	}
	if clientRoll != nil {
		v := int(*clientRoll)
		g.ClientRoll = &v
	}

	return &g, nil
}
