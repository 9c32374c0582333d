package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"fairdice/internal/audit"
	"fairdice/internal/game/commit"
	"fairdice/internal/game/dice"
	"fairdice/internal/model"
	"fairdice/internal/refdata"
	"fairdice/internal/repository"
)

var (
	clientSecret = strings.Repeat("a", 64)
	serverSecret = strings.Repeat("b", 64)
)

const (
	clientCommitment = "ffe054fe7ae0cb6dc65c3af9b61d5209f439851db43d0ba5997337df154668eb"
	serverCommitment = "a0fab1377f49a759b57f63318262ebe89fabfc990e8e93ceac2984561482b9d4"
)

type recordingPublisher struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r audit.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, r)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type failingStore struct{}

func (failingStore) Create(context.Context, *model.Game) error {
	return errors.New("connection reset")
}

func (failingStore) WithLockedGame(context.Context, int64, repository.LockedGameFunc) error {
	return errors.New("connection reset")
}

func (failingStore) RecentCompleted(context.Context, int64, int) ([]*model.HistoryEntry, error) {
	return nil, errors.New("connection reset")
}

type testEnv struct {
	svc   *GameService
	store *repository.MemoryGameStore
	pub   *recordingPublisher
	clock time.Time
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()

	refs, err := refdata.Load(context.Background(), repository.NewMemoryReferenceStore())
	require.NoError(t, err)

	env := &testEnv{
		store: repository.NewMemoryGameStore(),
		pub:   &recordingPublisher{},
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewGameService(env.store, refs, env.pub, 60*time.Second, 5)
	env.svc.now = func() time.Time { return env.clock }
	env.svc.newSecret = func() (string, error) { return serverSecret, nil }
	return env
}

func TestGameService_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, commit.Commit(clientSecret))
	require.NoError(t, err)
	assert.Equal(t, serverCommitment, started.ServerNonceHash)
	assert.NotZero(t, started.GameID)

	env.clock = env.clock.Add(5 * time.Second)
	result, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeTie, result.GameOutcome)
	assert.Equal(t, 2, result.ServerRoll)
	assert.Equal(t, 2, result.ClientRoll)
	assert.Equal(t, serverSecret, result.ServerNonce)
	assert.True(t, commit.Verify(result.ServerNonce, started.ServerNonceHash))

	stored, err := env.store.GetByID(ctx, started.GameID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted())
	require.NotNil(t, stored.ClientNonce)
	assert.Equal(t, clientSecret, *stored.ClientNonce)
	assert.Equal(t, env.clock, *stored.CompletedAt)

	require.Equal(t, 1, env.pub.count())
	rec := env.pub.records[0]
	assert.Equal(t, started.GameID, rec.GameID)
	assert.Equal(t, clientCommitment, rec.ClientNonceHash)
	assert.Equal(t, model.OutcomeTie, rec.Outcome)
}

func TestGameService_InitiateUsesFreshSecrets(t *testing.T) {
	env := newTestEnv(t)
	env.svc.newSecret = commit.GenerateSecret
	ctx := context.Background()

	a, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)
	b, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	assert.NotEqual(t, a.GameID, b.GameID)
	assert.NotEqual(t, a.ServerNonceHash, b.ServerNonceHash)

	g, err := env.store.GetByID(ctx, a.GameID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, g.Status.Name)
	assert.True(t, commit.Verify(g.ServerNonce, a.ServerNonceHash))
	assert.Equal(t, clientCommitment, g.ClientNonceHash)
}

func TestGameService_InitiateSecretFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.newSecret = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := env.svc.Initiate(context.Background(), 1, clientCommitment)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestGameService_RevealInvalidNonce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	_, err = env.svc.Reveal(ctx, started.GameID, 1, strings.Repeat("c", 64))
	assert.ErrorIs(t, err, ErrInvalidNonce)
	assert.Equal(t, KindInvalidNonce, KindOf(err))

	g, err := env.store.GetByID(ctx, started.GameID)
	require.NoError(t, err)
	assert.False(t, g.IsCompleted())
	assert.Nil(t, g.ClientNonce)
	assert.Nil(t, g.ServerRoll)
	assert.Zero(t, env.pub.count())

	// The game can still be completed with the right nonce.
	result, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTie, result.GameOutcome)
}

func TestGameService_RevealAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	result, err := env.svc.Reveal(ctx, started.GameID, 2, clientSecret)
	assert.ErrorIs(t, err, ErrGameAccessDenied)
	assert.Equal(t, KindAccessDenied, KindOf(err))
	assert.Nil(t, result)

	g, err := env.store.GetByID(ctx, started.GameID)
	require.NoError(t, err)
	assert.False(t, g.IsCompleted())

	// A completed game is not disclosed to other users either.
	_, err = env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)
	_, err = env.svc.Reveal(ctx, started.GameID, 2, clientSecret)
	assert.ErrorIs(t, err, ErrGameAccessDenied)
}

func TestGameService_RevealNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Reveal(context.Background(), 404, 1, clientSecret)
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGameService_RevealStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.games = failingStore{}
	ctx := context.Background()

	_, err := env.svc.Reveal(ctx, 1, 1, clientSecret)
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorContains(t, err, "connection reset")

	_, err = env.svc.Initiate(ctx, 1, clientCommitment)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = env.svc.RecentGames(ctx, 1)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestGameService_RevealIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	first, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)

	// Later reveals return the stored result even past the expiration
	// window and even with a different nonce.
	env.clock = env.clock.Add(time.Hour)
	second, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)
	third, err := env.svc.Reveal(ctx, started.GameID, 1, strings.Repeat("f", 64))
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	c, err := json.Marshal(third)
	require.NoError(t, err)

	assert.JSONEq(t, `{"gameOutcome":"TIE","serverRoll":2,"clientRoll":2,"serverNonce":"`+serverSecret+`"}`, string(a))
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, string(a), string(c))
	assert.Equal(t, 1, env.pub.count())
}

func TestGameService_RevealExpiration(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    model.OutcomeName
	}{
		{"well within window", 10 * time.Second, model.OutcomeTie},
		{"exactly at window", 60 * time.Second, model.OutcomeTie},
		{"just past window", 60*time.Second + time.Millisecond, model.OutcomeExpired},
		{"long expired", 10 * time.Minute, model.OutcomeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			started, err := env.svc.Initiate(ctx, 1, clientCommitment)
			require.NoError(t, err)

			env.clock = env.clock.Add(tt.elapsed)
			result, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
			require.NoError(t, err)

			assert.Equal(t, tt.want, result.GameOutcome)
			// Rolls are populated for expired games too.
			assert.Equal(t, 2, result.ServerRoll)
			assert.Equal(t, 2, result.ClientRoll)
			assert.Equal(t, serverSecret, result.ServerNonce)
		})
	}
}

func TestGameService_RevealExpiredIgnoresRollOrder(t *testing.T) {
	wouldBe := map[model.OutcomeName]int{}

	for i := 1; i <= 40; i++ {
		secret := fmt.Sprintf("%064x", i)
		serverRoll, clientRoll := dice.Rolls(secret, clientSecret)

		env := newTestEnv(t)
		env.svc.newSecret = func() (string, error) { return secret, nil }
		ctx := context.Background()

		started, err := env.svc.Initiate(ctx, 1, clientCommitment)
		require.NoError(t, err)

		env.clock = env.clock.Add(61 * time.Second)
		result, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
		require.NoError(t, err)

		assert.Equal(t, model.OutcomeExpired, result.GameOutcome, "secret %s", secret)
		assert.Equal(t, serverRoll, result.ServerRoll)
		assert.Equal(t, clientRoll, result.ClientRoll)

		g, err := env.store.GetByID(ctx, started.GameID)
		require.NoError(t, err)
		require.NotNil(t, g.Outcome)
		assert.Equal(t, model.OutcomeExpired, g.Outcome.Name)
		require.NotNil(t, g.ServerRoll)
		assert.Equal(t, serverRoll, *g.ServerRoll)

		wouldBe[dice.Compare(serverRoll, clientRoll)]++
	}

	require.NotZero(t, wouldBe[model.OutcomeServerWin], "no secret produced a server win")
	require.NotZero(t, wouldBe[model.OutcomeClientWin], "no secret produced a client win")
}

func TestGameService_ConcurrentReveals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	const callers = 25
	results := make([]*RevealResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, *results[0], *results[i])
	}
	assert.Equal(t, 1, env.pub.count(), "exactly one reveal performs the transition")
}

func TestGameService_ConcurrentRevealWithWrongNonce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	wrongSecret := strings.Repeat("c", 64)

	const rounds = 50
	for i := 0; i < rounds; i++ {
		started, err := env.svc.Initiate(ctx, 1, clientCommitment)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var right, wrong *RevealResult
		var rightErr, wrongErr error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			right, rightErr = env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
		}()
		go func() {
			defer wg.Done()
			<-start
			wrong, wrongErr = env.svc.Reveal(ctx, started.GameID, 1, wrongSecret)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, rightErr)
		assert.Equal(t, model.OutcomeTie, right.GameOutcome)
		if wrongErr != nil {
			assert.ErrorIs(t, wrongErr, ErrInvalidNonce)
		} else {
			// The wrong nonce arrived after completion and got the stored result.
			assert.Equal(t, *right, *wrong)
		}

		g, err := env.store.GetByID(ctx, started.GameID)
		require.NoError(t, err)
		require.NotNil(t, g.ClientNonce)
		assert.Equal(t, clientSecret, *g.ClientNonce)
	}

	assert.Equal(t, rounds, env.pub.count(), "each game transitions exactly once")
}

func TestGameService_PublishFailureDoesNotFailReveal(t *testing.T) {
	env := newTestEnv(t)
	env.pub.err = errors.New("redis down")
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)

	result, err := env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTie, result.GameOutcome)
}

func TestGameService_NilPublisher(t *testing.T) {
	env := newTestEnv(t)
	env.svc.publisher = nil
	ctx := context.Background()

	started, err := env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)
	_, err = env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
	require.NoError(t, err)
}

func TestGameService_RecentGames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entries, err := env.svc.RecentGames(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	var ids []int64
	for i := 0; i < 7; i++ {
		started, err := env.svc.Initiate(ctx, 1, clientCommitment)
		require.NoError(t, err)
		env.clock = env.clock.Add(time.Second)
		_, err = env.svc.Reveal(ctx, started.GameID, 1, clientSecret)
		require.NoError(t, err)
		ids = append(ids, started.GameID)
	}

	// An unrevealed game and another user's game are excluded.
	_, err = env.svc.Initiate(ctx, 1, clientCommitment)
	require.NoError(t, err)
	other, err := env.svc.Initiate(ctx, 2, clientCommitment)
	require.NoError(t, err)
	_, err = env.svc.Reveal(ctx, other.GameID, 2, clientSecret)
	require.NoError(t, err)

	entries, err = env.svc.RecentGames(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, ids[6-i], e.GameID)
		assert.Equal(t, model.OutcomeTie, e.Outcome)
		assert.Equal(t, 2, e.ServerRoll)
		assert.Equal(t, 2, e.ClientRoll)
	}
}

// TestRevealOwnershipProperty checks that only the owner can complete a game
// and that a rejected caller leaves it untouched.
func TestRevealOwnershipProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		owner := rapid.Int64Range(1, 50).Draw(rt, "owner")
		caller := rapid.Int64Range(1, 50).Draw(rt, "caller")

		started, err := env.svc.Initiate(ctx, owner, clientCommitment)
		if err != nil {
			rt.Fatalf("initiate: %v", err)
		}

		_, err = env.svc.Reveal(ctx, started.GameID, caller, clientSecret)
		g, getErr := env.store.GetByID(ctx, started.GameID)
		if getErr != nil {
			rt.Fatalf("get: %v", getErr)
		}

		if caller == owner {
			if err != nil {
				rt.Fatalf("owner reveal failed: %v", err)
			}
			if !g.IsCompleted() {
				rt.Fatalf("owner reveal did not complete the game")
			}
			return
		}

		if !errors.Is(err, ErrGameAccessDenied) {
			rt.Fatalf("expected access denied for caller %d on game of %d, got %v", caller, owner, err)
		}
		if g.IsCompleted() || g.ClientNonce != nil {
			rt.Fatalf("rejected reveal mutated the game")
		}
	})
}

// TestRevealNonceProperty checks that any nonce other than the committed one
// is rejected without completing the game.
func TestRevealNonceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		secret := rapid.StringMatching(`[a-f0-9]{64}`).Draw(rt, "secret")
		guess := rapid.StringMatching(`[a-f0-9]{64}`).Draw(rt, "guess")

		started, err := env.svc.Initiate(ctx, 1, commit.Commit(secret))
		if err != nil {
			rt.Fatalf("initiate: %v", err)
		}

		result, err := env.svc.Reveal(ctx, started.GameID, 1, guess)
		if guess == secret {
			if err != nil {
				rt.Fatalf("matching nonce rejected: %v", err)
			}
			if result.ServerRoll < 1 || result.ServerRoll > 6 || result.ClientRoll < 1 || result.ClientRoll > 6 {
				rt.Fatalf("rolls out of range: %+v", result)
			}
			return
		}
		if !errors.Is(err, ErrInvalidNonce) {
			rt.Fatalf("expected invalid nonce, got %v", err)
		}
	})
}
