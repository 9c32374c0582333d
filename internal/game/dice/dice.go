// Package dice derives dice rolls from the revealed secrets of both parties
// and compares them into a verdict.
package dice

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"fairdice/internal/game/commit"
	"fairdice/internal/model"
)

// Roll discriminators. Both rolls hash the same joint randomness but with a
// different prefix, so they are independent of each other.
const (
	RoleServer = "server"
	RoleClient = "client"
)

const (
	// MinRoll is the lowest face of the die.
	MinRoll = 1
	// MaxRoll is the highest face of the die.
	MaxRoll = 6
)

// Errors returned by Replay.
var (
	ErrServerCommitment = errors.New("server nonce does not match server commitment")
	ErrClientCommitment = errors.New("client nonce does not match client commitment")
)

// DeriveRoll computes SHA256(role || serverSecret || clientSecret), reads the
// first 4 bytes as a big-endian uint32 and maps it onto [1,6].
func DeriveRoll(role, serverSecret, clientSecret string) int {
	h := sha256.New()
	h.Write([]byte(role))
	h.Write([]byte(serverSecret))
	h.Write([]byte(clientSecret))
	sum := h.Sum(nil)

	v := binary.BigEndian.Uint32(sum[:4])
	return int(v%MaxRoll) + MinRoll
}

// Rolls derives the server and client rolls for a pair of secrets.
func Rolls(serverSecret, clientSecret string) (serverRoll, clientRoll int) {
	return DeriveRoll(RoleServer, serverSecret, clientSecret),
		DeriveRoll(RoleClient, serverSecret, clientSecret)
}

// Compare returns the verdict for a pair of rolls:
//   - serverRoll > clientRoll: SERVER_WIN
//   - serverRoll == clientRoll: TIE
//   - serverRoll < clientRoll: CLIENT_WIN
func Compare(serverRoll, clientRoll int) model.OutcomeName {
	switch {
	case serverRoll > clientRoll:
		return model.OutcomeServerWin
	case serverRoll == clientRoll:
		return model.OutcomeTie
	default:
		return model.OutcomeClientWin
	}
}

// Verdict is the recomputed result of a finished game.
type Verdict struct {
	ServerRoll int               `json:"serverRoll"`
	ClientRoll int               `json:"clientRoll"`
	Outcome    model.OutcomeName `json:"outcome"`
}

// Replay lets any third party audit a game from its published values. It
// checks the server nonce against the server commitment and, when a client
// commitment is given, the client nonce against it, then recomputes the
// rolls and the verdict. Expiration is a server-side timing rule and is not
// part of the replayed verdict.
func Replay(serverNonce, serverNonceHash, clientNonce, clientNonceHash string) (*Verdict, error) {
	if !commit.Verify(serverNonce, serverNonceHash) {
		return nil, ErrServerCommitment
	}
	if clientNonceHash != "" && !commit.Verify(clientNonce, clientNonceHash) {
		return nil, ErrClientCommitment
	}

	serverRoll, clientRoll := Rolls(serverNonce, clientNonce)
	return &Verdict{
		ServerRoll: serverRoll,
		ClientRoll: clientRoll,
		Outcome:    Compare(serverRoll, clientRoll),
	}, nil
}
