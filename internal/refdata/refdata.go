// Package refdata loads the game status and outcome vocabulary once at
// startup and serves it read-only afterwards.
package refdata

import (
	"context"
	"fmt"

	"fairdice/internal/model"
)

// Source looks up reference rows by name.
type Source interface {
	FindStatusByName(ctx context.Context, name model.StatusName) (*model.GameStatus, error)
	FindOutcomeByName(ctx context.Context, name model.OutcomeName) (*model.GameOutcome, error)
}

// Cache holds every status and outcome the engine needs. It is immutable
// after Load and safe for concurrent use.
type Cache struct {
	statuses map[model.StatusName]model.GameStatus
	outcomes map[model.OutcomeName]model.GameOutcome
}

// Load reads all required statuses and outcomes from src. A missing name is
// an error; callers treat it as fatal.
func Load(ctx context.Context, src Source) (*Cache, error) {
	c := &Cache{
		statuses: make(map[model.StatusName]model.GameStatus),
		outcomes: make(map[model.OutcomeName]model.GameOutcome),
	}

	for _, name := range model.RequiredStatuses() {
		st, err := src.FindStatusByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load game status %s: %w", name, err)
		}
		c.statuses[name] = *st
	}

	for _, name := range model.RequiredOutcomes() {
		o, err := src.FindOutcomeByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("load game outcome %s: %w", name, err)
		}
		c.outcomes[name] = *o
	}

	return c, nil
}

// InProgress returns the IN_PROGRESS status.
func (c *Cache) InProgress() *model.GameStatus { return c.status(model.StatusInProgress) }

// Completed returns the COMPLETED status.
func (c *Cache) Completed() *model.GameStatus { return c.status(model.StatusCompleted) }

// Expired returns the EXPIRED outcome.
func (c *Cache) Expired() *model.GameOutcome { return c.Outcome(model.OutcomeExpired) }

// Outcome returns a copy of the named outcome. It panics on a name that
// Load did not require, which is a programming error.
func (c *Cache) Outcome(name model.OutcomeName) *model.GameOutcome {
	o, ok := c.outcomes[name]
	if !ok {
		panic(fmt.Sprintf("refdata: unknown outcome %q", name))
	}
	return &o
}

func (c *Cache) status(name model.StatusName) *model.GameStatus {
	st, ok := c.statuses[name]
	if !ok {
		panic(fmt.Sprintf("refdata: unknown status %q", name))
	}
	return &st
}
