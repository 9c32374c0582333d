// Package audit publishes completed games to a Redis list so that third
// parties can re-verify every reveal independently of the service.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fairdice/internal/config"
	"fairdice/internal/game/dice"
	"fairdice/internal/model"
)

// Record is the published view of one completed game. It carries every
// value needed to recompute both commitments and both rolls.
type Record struct {
	GameID          int64             `json:"game_id"`
	UserID          int64             `json:"user_id"`
	ServerNonce     string            `json:"server_nonce"`
	ServerNonceHash string            `json:"server_nonce_hash"`
	ClientNonce     string            `json:"client_nonce"`
	ClientNonceHash string            `json:"client_nonce_hash"`
	ServerRoll      int               `json:"server_roll"`
	ClientRoll      int               `json:"client_roll"`
	Outcome         model.OutcomeName `json:"outcome"`
	InitiatedAt     time.Time         `json:"initiated_at"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// NewRecord builds the audit record of a completed game.
func NewRecord(g *model.Game) Record {
	r := Record{
		GameID:          g.ID,
		UserID:          g.UserID,
		ServerNonce:     g.ServerNonce,
		ServerNonceHash: g.ServerNonceHash,
		ClientNonceHash: g.ClientNonceHash,
		InitiatedAt:     g.InitiatedAt,
	}
	if g.ClientNonce != nil {
		r.ClientNonce = *g.ClientNonce
	}
	if g.ServerRoll != nil {
		r.ServerRoll = *g.ServerRoll
	}
	if g.ClientRoll != nil {
		r.ClientRoll = *g.ClientRoll
	}
	if g.Outcome != nil {
		r.Outcome = g.Outcome.Name
	}
	if g.CompletedAt != nil {
		r.CompletedAt = *g.CompletedAt
	}
	return r
}

// Check recomputes the game from its published values and reports the first
// value that does not match. An EXPIRED outcome only needs matching rolls.
func (r Record) Check() error {
	verdict, err := dice.Replay(r.ServerNonce, r.ServerNonceHash, r.ClientNonce, r.ClientNonceHash)
	if err != nil {
		return err
	}
	if verdict.ServerRoll != r.ServerRoll || verdict.ClientRoll != r.ClientRoll {
		return fmt.Errorf("rolls %d/%d recorded, %d/%d recomputed",
			r.ServerRoll, r.ClientRoll, verdict.ServerRoll, verdict.ClientRoll)
	}
	if r.Outcome != model.OutcomeExpired && r.Outcome != verdict.Outcome {
		return fmt.Errorf("outcome %s recorded, %s recomputed", r.Outcome, verdict.Outcome)
	}
	return nil
}

// Publisher appends records to a Redis list.
type Publisher struct {
	rdb   *redis.Client
	queue string
}

// Connect creates the Redis client and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &Publisher{rdb: rdb, queue: cfg.Queue}, nil
}

// Publish serializes the record to JSON and pushes it to the queue.
func (p *Publisher) Publish(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Tail returns up to n of the most recently published records, oldest first.
func (p *Publisher) Tail(ctx context.Context, n int64) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := p.rdb.LRange(ctx, p.queue, -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis list '%s': %w", p.queue, err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var r Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("invalid audit record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
