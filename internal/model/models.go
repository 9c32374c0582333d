// Package model defines the data models for the fair dice service.
package model

import "time"

// User represents a player account. Accounts are created by the
// authentication collaborator or on first interaction with the bot.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// StatusName is the name of a game_statuses row.
type StatusName string

// OutcomeName is the name of a game_outcomes row.
type OutcomeName string

// Game status vocabulary.
const (
	StatusInProgress StatusName = "IN_PROGRESS"
	StatusCompleted  StatusName = "COMPLETED"
)

// Game outcome vocabulary.
const (
	OutcomeServerWin OutcomeName = "SERVER_WIN"
	OutcomeClientWin OutcomeName = "CLIENT_WIN"
	OutcomeTie       OutcomeName = "TIE"
	OutcomeExpired   OutcomeName = "EXPIRED"
)

// RequiredStatuses returns every status the engine references.
func RequiredStatuses() []StatusName {
	return []StatusName{StatusInProgress, StatusCompleted}
}

// RequiredOutcomes returns every outcome the engine references.
func RequiredOutcomes() []OutcomeName {
	return []OutcomeName{OutcomeServerWin, OutcomeClientWin, OutcomeTie, OutcomeExpired}
}

// GameStatus is a row of the game_statuses reference table.
type GameStatus struct {
	ID   int16      `db:"id"`
	Name StatusName `db:"name"`
}

// GameOutcome is a row of the game_outcomes reference table.
type GameOutcome struct {
	ID   int16       `db:"id"`
	Name OutcomeName `db:"name"`
}

// Game is one commit-reveal play attempt.
//
// ClientNonceHash and ServerNonceHash are fixed at creation. ClientNonce,
// the rolls, Outcome and CompletedAt stay nil until the game is completed.
type Game struct {
	ID              int64        `db:"id"`
	UserID          int64        `db:"user_id"`
	Status          *GameStatus  `db:"status_id"`
	Outcome         *GameOutcome `db:"outcome_id"`
	ServerNonce     string       `db:"server_nonce"`
	ServerNonceHash string       `db:"server_nonce_hash"`
	ClientNonceHash string       `db:"client_nonce_hash"`
	ClientNonce     *string      `db:"client_nonce"`
	ServerRoll      *int         `db:"server_roll"`
	ClientRoll      *int         `db:"client_roll"`
	InitiatedAt     time.Time    `db:"initiated_at"`
	CompletedAt     *time.Time   `db:"completed_at"`
}

// IsCompleted reports whether the game reached its terminal status.
func (g *Game) IsCompleted() bool {
	return g.Status != nil && g.Status.Name == StatusCompleted
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	c := *g
	if g.Status != nil {
		s := *g.Status
		c.Status = &s
	}
	if g.Outcome != nil {
		o := *g.Outcome
		c.Outcome = &o
	}
	if g.ClientNonce != nil {
		n := *g.ClientNonce
		c.ClientNonce = &n
	}
	if g.ServerRoll != nil {
		r := *g.ServerRoll
		c.ServerRoll = &r
	}
	if g.ClientRoll != nil {
		r := *g.ClientRoll
		c.ClientRoll = &r
	}
	if g.CompletedAt != nil {
		t := *g.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// HistoryEntry is one completed game as shown in a user's recent history.
type HistoryEntry struct {
	GameID      int64       `db:"id" json:"gameId"`
	ServerRoll  int         `db:"server_roll" json:"serverRoll"`
	ClientRoll  int         `db:"client_roll" json:"clientRoll"`
	Outcome     OutcomeName `db:"outcome" json:"outcome"`
	CompletedAt time.Time   `db:"completed_at" json:"completedAt"`
}
