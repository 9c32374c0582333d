// Package service provides business logic implementations.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"fairdice/internal/model"
)

// UserStore persists player accounts.
type UserStore interface {
	GetOrCreate(ctx context.Context, id int64, username string) (*model.User, bool, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
}

// AccountService handles user account operations.
type AccountService struct {
	users UserStore
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users UserStore) *AccountService {
	return &AccountService{users: users}
}

// EnsureUser ensures a user exists, creating one if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, id int64, username string) (*model.User, bool, error) {
	user, created, err := s.users.GetOrCreate(ctx, id, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if created {
		log.Info().Int64("user_id", id).Str("username", username).Msg("User created")
		return user, true, nil
	}

	// Keep the stored name current; a failure here does not block the request.
	if user.Username != username && username != "" {
		if err := s.users.UpdateUsername(ctx, id, username); err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("Failed to update username")
		} else {
			user.Username = username
		}
	}

	return user, false, nil
}
