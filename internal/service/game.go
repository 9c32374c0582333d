package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"fairdice/internal/audit"
	"fairdice/internal/game/commit"
	"fairdice/internal/game/dice"
	"fairdice/internal/model"
	"fairdice/internal/refdata"
	"fairdice/internal/repository"
)

// GameStore persists games. WithLockedGame must hold an exclusive lock on
// the game for the duration of fn and write it back when fn reports a change.
type GameStore interface {
	Create(ctx context.Context, g *model.Game) error
	WithLockedGame(ctx context.Context, id int64, fn repository.LockedGameFunc) error
	RecentCompleted(ctx context.Context, userID int64, limit int) ([]*model.HistoryEntry, error)
}

// Publisher receives every completed game.
type Publisher interface {
	Publish(ctx context.Context, record audit.Record) error
}

// InitiateResult is returned to the player when a game starts.
type InitiateResult struct {
	GameID          int64  `json:"gameId"`
	ServerNonceHash string `json:"serverNonceHash"`
}

// RevealResult is returned for a completed game, including repeated reveals.
type RevealResult struct {
	GameOutcome model.OutcomeName `json:"gameOutcome"`
	ServerRoll  int               `json:"serverRoll"`
	ClientRoll  int               `json:"clientRoll"`
	ServerNonce string            `json:"serverNonce"`
}

// GameService runs the commit-reveal game lifecycle.
type GameService struct {
	games        GameStore
	refs         *refdata.Cache
	publisher    Publisher
	expiration   time.Duration
	historyLimit int

	now       func() time.Time
	newSecret func() (string, error)
}

// NewGameService creates a new GameService instance. publisher may be nil.
func NewGameService(
	games GameStore,
	refs *refdata.Cache,
	publisher Publisher,
	expiration time.Duration,
	historyLimit int,
) *GameService {
	return &GameService{
		games:        games,
		refs:         refs,
		publisher:    publisher,
		expiration:   expiration,
		historyLimit: historyLimit,
		now:          time.Now,
		newSecret:    commit.GenerateSecret,
	}
}

// Initiate starts a game for the user against their commitment and returns
// the server's own commitment.
func (s *GameService) Initiate(ctx context.Context, userID int64, clientNonceHash string) (*InitiateResult, error) {
	secret, err := s.newSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate server nonce: %w", err)
	}

	g := &model.Game{
		UserID:          userID,
		Status:          s.refs.InProgress(),
		ServerNonce:     secret,
		ServerNonceHash: commit.Commit(secret),
		ClientNonceHash: clientNonceHash,
		InitiatedAt:     s.now(),
	}
	if err := s.games.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to initiate game: %w", err)
	}

	log.Info().
		Int64("game_id", g.ID).
		Int64("user_id", userID).
		Msg("Game initiated")

	return &InitiateResult{GameID: g.ID, ServerNonceHash: g.ServerNonceHash}, nil
}

// Reveal completes the game with the client's secret. Revealing a completed
// game returns its stored result without changing it.
func (s *GameService) Reveal(ctx context.Context, gameID, userID int64, clientNonce string) (*RevealResult, error) {
	var (
		result    *RevealResult
		completed *model.Game
	)

	err := s.games.WithLockedGame(ctx, gameID, func(g *model.Game) (bool, error) {
		if g.UserID != userID {
			return false, ErrGameAccessDenied
		}
		if g.IsCompleted() {
			result = resultOf(g)
			return false, nil
		}
		if !commit.Verify(clientNonce, g.ClientNonceHash) {
			return false, ErrInvalidNonce
		}

		serverRoll, clientRoll := dice.Rolls(g.ServerNonce, clientNonce)
		now := s.now()

		outcome := s.refs.Outcome(dice.Compare(serverRoll, clientRoll))
		if now.Sub(g.InitiatedAt) > s.expiration {
			outcome = s.refs.Expired()
		}

		nonce := clientNonce
		g.Status = s.refs.Completed()
		g.Outcome = outcome
		g.ClientNonce = &nonce
		g.ServerRoll = &serverRoll
		g.ClientRoll = &clientRoll
		g.CompletedAt = &now

		result = resultOf(g)
		completed = g.Clone()
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrGameNotFound):
			return nil, ErrGameNotFound
		case errors.Is(err, ErrGameAccessDenied):
			log.Warn().Int64("game_id", gameID).Int64("user_id", userID).Msg("Reveal by non-owner rejected")
			return nil, err
		case errors.Is(err, ErrInvalidNonce):
			log.Info().Int64("game_id", gameID).Int64("user_id", userID).Msg("Reveal with mismatching nonce rejected")
			return nil, err
		}
		return nil, fmt.Errorf("failed to reveal game %d: %w", gameID, err)
	}

	if completed != nil {
		log.Info().
			Int64("game_id", gameID).
			Int64("user_id", userID).
			Str("outcome", string(result.GameOutcome)).
			Int("server_roll", result.ServerRoll).
			Int("client_roll", result.ClientRoll).
			Msg("Game completed")
		s.publish(ctx, completed)
	}

	return result, nil
}

// RecentGames returns the user's latest completed games, newest first.
func (s *GameService) RecentGames(ctx context.Context, userID int64) ([]*model.HistoryEntry, error) {
	entries, err := s.games.RecentCompleted(ctx, userID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get game history: %w", err)
	}
	if entries == nil {
		entries = []*model.HistoryEntry{}
	}
	return entries, nil
}

// publish hands the game to the audit feed. The game is already committed,
// so failures are logged and never reach the player.
func (s *GameService) publish(ctx context.Context, g *model.Game) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, audit.NewRecord(g)); err != nil {
		log.Error().Err(err).Int64("game_id", g.ID).Msg("Failed to publish audit record")
	}
}

func resultOf(g *model.Game) *RevealResult {
	r := &RevealResult{
		ServerNonce: g.ServerNonce,
	}
	if g.Outcome != nil {
		r.GameOutcome = g.Outcome.Name
	}
	if g.ServerRoll != nil {
		r.ServerRoll = *g.ServerRoll
	}
	if g.ClientRoll != nil {
		r.ClientRoll = *g.ClientRoll
	}
	return r
}
