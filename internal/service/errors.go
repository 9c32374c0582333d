package service

import (
	"errors"

	"fairdice/internal/repository"
)

// Errors returned by GameService. They are client errors; anything else is internal.
var (
	ErrGameNotFound     = errors.New("game not found")
	ErrGameAccessDenied = errors.New("game belongs to another user")
	ErrInvalidNonce     = errors.New("client nonce does not match its commitment")
)

// Kind classifies service errors for the transport boundaries.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAccessDenied
	KindInvalidNonce
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindInvalidNonce:
		return "invalid_nonce"
	default:
		return "internal"
	}
}

// KindOf maps err to its Kind. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrGameNotFound), errors.Is(err, repository.ErrGameNotFound):
		return KindNotFound
	case errors.Is(err, ErrGameAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrInvalidNonce):
		return KindInvalidNonce
	default:
		return KindInternal
	}
}
