package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fairdice/internal/model"
	"fairdice/internal/pkg/lock"
)

// MemoryGameStore keeps games in process memory. Mutations of one game are
// serialized by a per-id lock so it offers the same guarantee as the row
// lock taken by GameRepository.
type MemoryGameStore struct {
	mu     sync.RWMutex
	games  map[int64]*model.Game
	nextID int64
	locks  *lock.KeyLock
}

// NewMemoryGameStore creates an empty MemoryGameStore.
func NewMemoryGameStore() *MemoryGameStore {
	return &MemoryGameStore{
		games: make(map[int64]*model.Game),
		locks: lock.NewKeyLock(),
	}
}

// Create stores a copy of the game and sets its ID.
func (s *MemoryGameStore) Create(_ context.Context, g *model.Game) error {
	if g.Status == nil {
		return errors.New("game status is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	g.ID = s.nextID
	s.games[g.ID] = g.Clone()
	return nil
}

// GetByID returns a copy of the stored game.
func (s *MemoryGameStore) GetByID(_ context.Context, id int64) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Clone(), nil
}

// WithLockedGame runs fn on a copy of the game while holding its lock and
// stores the copy back when fn reports a change.
func (s *MemoryGameStore) WithLockedGame(ctx context.Context, id int64, fn LockedGameFunc) error {
	return s.locks.WithLockContext(ctx, id, func() error {
		g, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}

		dirty, err := fn(g)
		if err != nil || !dirty {
			return err
		}

		s.mu.Lock()
		s.games[id] = g.Clone()
		s.mu.Unlock()
		return nil
	})
}

// RecentCompleted returns up to limit completed games of the user, newest first.
func (s *MemoryGameStore) RecentCompleted(_ context.Context, userID int64, limit int) ([]*model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*model.HistoryEntry
	for _, g := range s.games {
		if g.UserID != userID || !g.IsCompleted() {
			continue
		}
		if g.Outcome == nil || g.ServerRoll == nil || g.ClientRoll == nil || g.CompletedAt == nil {
			continue
		}
		entries = append(entries, &model.HistoryEntry{
			GameID:      g.ID,
			ServerRoll:  *g.ServerRoll,
			ClientRoll:  *g.ClientRoll,
			Outcome:     g.Outcome.Name,
			CompletedAt: *g.CompletedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CompletedAt.Equal(entries[j].CompletedAt) {
			return entries[i].CompletedAt.After(entries[j].CompletedAt)
		}
		return entries[i].GameID > entries[j].GameID
	})

	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// MemoryReferenceStore serves the status and outcome vocabulary from memory.
type MemoryReferenceStore struct {
	statuses map[model.StatusName]model.GameStatus
	outcomes map[model.OutcomeName]model.GameOutcome
}

// NewMemoryReferenceStore returns a store seeded with the same ids the
// database migrations insert.
func NewMemoryReferenceStore() *MemoryReferenceStore {
	return &MemoryReferenceStore{
		statuses: map[model.StatusName]model.GameStatus{
			model.StatusInProgress: {ID: 1, Name: model.StatusInProgress},
			model.StatusCompleted:  {ID: 2, Name: model.StatusCompleted},
		},
		outcomes: map[model.OutcomeName]model.GameOutcome{
			model.OutcomeServerWin: {ID: 1, Name: model.OutcomeServerWin},
			model.OutcomeClientWin: {ID: 2, Name: model.OutcomeClientWin},
			model.OutcomeTie:       {ID: 3, Name: model.OutcomeTie},
			model.OutcomeExpired:   {ID: 4, Name: model.OutcomeExpired},
		},
	}
}

// FindStatusByName returns the status with the given name.
func (s *MemoryReferenceStore) FindStatusByName(_ context.Context, name model.StatusName) (*model.GameStatus, error) {
	st, ok := s.statuses[name]
	if !ok {
		return nil, fmt.Errorf("status %s: %w", name, ErrReferenceNotFound)
	}
	return &st, nil
}

// FindOutcomeByName returns the outcome with the given name.
func (s *MemoryReferenceStore) FindOutcomeByName(_ context.Context, name model.OutcomeName) (*model.GameOutcome, error) {
	o, ok := s.outcomes[name]
	if !ok {
		return nil, fmt.Errorf("outcome %s: %w", name, ErrReferenceNotFound)
	}
	return &o, nil
}

// RemoveOutcome drops an outcome from the vocabulary. Used to exercise
// startup checks against an incomplete reference table.
func (s *MemoryReferenceStore) RemoveOutcome(name model.OutcomeName) {
	delete(s.outcomes, name)
}

// MemoryUserStore keeps user accounts in process memory.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[int64]*model.User
	now   func() time.Time
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[int64]*model.User),
		now:   time.Now,
	}
}

// GetByID returns a copy of the user.
func (s *MemoryUserStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetOrCreate returns the user, creating it when missing. The bool reports creation.
func (s *MemoryUserStore) GetOrCreate(_ context.Context, id int64, username string) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}

	now := s.now()
	u := &model.User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}
	s.users[id] = u
	cp := *u
	return &cp, true, nil
}

// UpdateUsername changes the stored username.
func (s *MemoryUserStore) UpdateUsername(_ context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Username = username
	u.UpdatedAt = s.now()
	return nil
}

// Exists reports whether the user is stored.
func (s *MemoryUserStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[id]
	return ok, nil
}
