// Package api exposes the dice game over HTTP with JSON bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"fairdice/internal/auth"
	"fairdice/internal/game/commit"
	"fairdice/internal/game/dice"
	"fairdice/internal/model"
	"fairdice/internal/service"
)

const maxBodyBytes = 1 << 16

// Games is the game engine as used by the HTTP handlers.
type Games interface {
	Initiate(ctx context.Context, userID int64, clientNonceHash string) (*service.InitiateResult, error)
	Reveal(ctx context.Context, gameID, userID int64, clientNonce string) (*service.RevealResult, error)
	RecentGames(ctx context.Context, userID int64) ([]*model.HistoryEntry, error)
}

// Accounts creates player accounts on first contact.
type Accounts interface {
	EnsureUser(ctx context.Context, id int64, username string) (*model.User, bool, error)
}

// Tokens verifies bearer tokens.
type Tokens interface {
	Parse(token string) (*auth.Identity, error)
}

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// AllHealthy combines checks into one that fails on the first failing check.
// Nil checks are skipped.
func AllHealthy(checks ...HealthFunc) HealthFunc {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Server holds the HTTP handlers.
type Server struct {
	games    Games
	accounts Accounts
	tokens   Tokens
	health   HealthFunc
}

// NewServer creates a new Server. health may be nil. A nil tokens leaves the
// authenticated game routes unregistered, so only /verify and /healthz are served.
func NewServer(games Games, accounts Accounts, tokens Tokens, health HealthFunc) *Server {
	return &Server{
		games:    games,
		accounts: accounts,
		tokens:   tokens,
		health:   health,
	}
}

// Handler returns the routed handler wrapped in recovery and logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.tokens != nil {
		mux.HandleFunc("POST /game", s.requireAuth(s.handleInitiate))
		mux.HandleFunc("POST /game/{id}/reveal", s.requireAuth(s.handleReveal))
		mux.HandleFunc("GET /game/history", s.requireAuth(s.handleHistory))
	}
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return Logging(Recovery(mux))
}

type initiateRequest struct {
	ClientNonceHash string `json:"clientNonceHash"`
}

type revealRequest struct {
	ClientNonce string `json:"clientNonce"`
}

type verifyRequest struct {
	ServerNonce     string `json:"serverNonce"`
	ServerNonceHash string `json:"serverNonceHash"`
	ClientNonce     string `json:"clientNonce"`
	ClientNonceHash string `json:"clientNonceHash,omitempty"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	*dice.Verdict
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req initiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !commit.WellFormed(req.ClientNonceHash) {
		writeError(w, http.StatusBadRequest, "clientNonceHash must be 64 lowercase hex characters")
		return
	}

	result, err := s.games.Initiate(r.Context(), id.UserID, req.ClientNonceHash)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	gameID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || gameID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}

	var req revealRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !commit.WellFormed(req.ClientNonce) {
		writeError(w, http.StatusBadRequest, "clientNonce must be 64 lowercase hex characters")
		return
	}

	result, err := s.games.Reveal(r.Context(), gameID, id.UserID, req.ClientNonce)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	entries, err := s.games.RecentGames(r.Context(), id.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !commit.WellFormed(req.ServerNonce) || !commit.WellFormed(req.ServerNonceHash) || !commit.WellFormed(req.ClientNonce) {
		writeError(w, http.StatusBadRequest, "nonces and hashes must be 64 lowercase hex characters")
		return
	}
	if req.ClientNonceHash != "" && !commit.WellFormed(req.ClientNonceHash) {
		writeError(w, http.StatusBadRequest, "clientNonceHash must be 64 lowercase hex characters")
		return
	}

	verdict, err := dice.Replay(req.ServerNonce, req.ServerNonceHash, req.ClientNonce, req.ClientNonceHash)
	if err != nil {
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, Verdict: verdict})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch service.KindOf(err) {
	case service.KindNotFound:
		writeError(w, http.StatusNotFound, "game not found")
	case service.KindAccessDenied:
		writeError(w, http.StatusForbidden, "access denied")
	case service.KindInvalidNonce:
		writeError(w, http.StatusBadRequest, "invalid nonce")
	default:
		if !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Request failed")
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
