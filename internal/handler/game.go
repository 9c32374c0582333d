// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"fairdice/internal/game/commit"
	"fairdice/internal/model"
	"fairdice/internal/service"
)

// commandTimeout bounds the work done for a single command.
const commandTimeout = 10 * time.Second

// Games is the game engine as used by the bot.
type Games interface {
	Initiate(ctx context.Context, userID int64, clientNonceHash string) (*service.InitiateResult, error)
	Reveal(ctx context.Context, gameID, userID int64, clientNonce string) (*service.RevealResult, error)
	RecentGames(ctx context.Context, userID int64) ([]*model.HistoryEntry, error)
}

// Accounts creates player accounts on first contact.
type Accounts interface {
	EnsureUser(ctx context.Context, id int64, username string) (*model.User, bool, error)
}

// GameHandler handles the dice game commands.
type GameHandler struct {
	games    Games
	accounts Accounts
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(games Games, accounts Accounts) *GameHandler {
	return &GameHandler{games: games, accounts: accounts}
}

// HandleStart handles the /start command.
func (h *GameHandler) HandleStart(c tele.Context) error {
	return h.reply(c, h.start)
}

// HandleRoll handles /roll <clientNonceHash>.
func (h *GameHandler) HandleRoll(c tele.Context) error {
	return h.reply(c, h.roll)
}

// HandleReveal handles /reveal <gameId> <clientNonce>.
func (h *GameHandler) HandleReveal(c tele.Context) error {
	return h.reply(c, h.reveal)
}

// HandleHistory handles /history.
func (h *GameHandler) HandleHistory(c tele.Context) error {
	return h.reply(c, h.history)
}

type commandFunc func(ctx context.Context, sender *tele.User, args []string) string

func (h *GameHandler) reply(c tele.Context, fn commandFunc) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	return c.Reply(fn(ctx, sender, c.Args()), tele.ModeMarkdown)
}

// ensureUser creates the account on the first command of a player.
func (h *GameHandler) ensureUser(ctx context.Context, sender *tele.User) error {
	username := sender.Username
	if username == "" {
		username = sender.FirstName
	}
	_, _, err := h.accounts.EnsureUser(ctx, sender.ID, username)
	return err
}

func (h *GameHandler) start(ctx context.Context, sender *tele.User, _ []string) string {
	if err := h.ensureUser(ctx, sender); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to ensure user")
		return msgInternal
	}
	return msgHelp
}

func (h *GameHandler) roll(ctx context.Context, sender *tele.User, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: /roll <sha256 of your secret>"
	}
	hash := strings.ToLower(args[0])
	if !commit.WellFormed(hash) {
		return "❌ The commitment must be 64 hex characters"
	}

	if err := h.ensureUser(ctx, sender); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to ensure user")
		return msgInternal
	}

	result, err := h.games.Initiate(ctx, sender.ID, hash)
	if err != nil {
		return replyForError(err)
	}

	return fmt.Sprintf(
		"🎲 Game #%d started\n\n"+
			"Server commitment:\n`%s`\n\n"+
			"Reveal your secret with:\n`/reveal %d <secret>`",
		result.GameID, result.ServerNonceHash, result.GameID,
	)
}

func (h *GameHandler) reveal(ctx context.Context, sender *tele.User, args []string) string {
	if len(args) != 2 {
		return "❌ Usage: /reveal <game id> <secret>"
	}

	gameID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || gameID <= 0 {
		return "❌ Invalid game id"
	}
	nonce := strings.ToLower(args[1])
	if !commit.WellFormed(nonce) {
		return "❌ The secret must be 64 hex characters"
	}

	result, err := h.games.Reveal(ctx, gameID, sender.ID, nonce)
	if err != nil {
		return replyForError(err)
	}

	return fmt.Sprintf(
		"%s Game #%d: %s\n\n"+
			"Server rolled: %d\n"+
			"You rolled: %d\n\n"+
			"Server secret:\n`%s`",
		outcomeEmoji(result.GameOutcome), gameID, outcomeText(result.GameOutcome),
		result.ServerRoll, result.ClientRoll, result.ServerNonce,
	)
}

func (h *GameHandler) history(ctx context.Context, sender *tele.User, _ []string) string {
	entries, err := h.games.RecentGames(ctx, sender.ID)
	if err != nil {
		return replyForError(err)
	}
	if len(entries) == 0 {
		return "📭 No finished games yet. Start one with /roll"
	}

	var sb strings.Builder
	sb.WriteString("📜 Recent games\n\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s #%d  %d vs %d  %s  (%s)\n",
			outcomeEmoji(e.Outcome), e.GameID, e.ServerRoll, e.ClientRoll,
			outcomeText(e.Outcome), e.CompletedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return sb.String()
}

const (
	msgInternal = "❌ Internal error, please try again later"
	msgHelp     = "🎲 Provably fair dice\n\n" +
		"1. Pick a random 64-hex secret and send its SHA-256:\n`/roll <hash>`\n" +
		"2. Reveal the secret within 60 seconds:\n`/reveal <game id> <secret>`\n" +
		"3. Check the server's secret against its commitment.\n\n" +
		"/history - your recent games"
)

func replyForError(err error) string {
	switch service.KindOf(err) {
	case service.KindNotFound:
		return "❌ Game not found"
	case service.KindAccessDenied:
		return "❌ This game belongs to another player"
	case service.KindInvalidNonce:
		return "❌ The secret does not match your commitment"
	default:
		log.Error().Err(err).Msg("Bot command failed")
		return msgInternal
	}
}

func outcomeText(o model.OutcomeName) string {
	switch o {
	case model.OutcomeServerWin:
		return "server wins"
	case model.OutcomeClientWin:
		return "you win"
	case model.OutcomeTie:
		return "tie"
	case model.OutcomeExpired:
		return "expired"
	default:
		return string(o)
	}
}

func outcomeEmoji(o model.OutcomeName) string {
	switch o {
	case model.OutcomeClientWin:
		return "🎉"
	case model.OutcomeServerWin:
		return "😢"
	case model.OutcomeTie:
		return "🤝"
	default:
		return "⌛"
	}
}
