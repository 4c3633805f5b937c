package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session, exchange, or segment does not
// exist.
var ErrNotFound = errors.New("not found")

// Store persists sessions and exchanges. Exchanges are append-only.
// Implementations live in pkg/store.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error

	AppendExchange(ctx context.Context, ex Exchange) error
	UpdateExchange(ctx context.Context, ex Exchange) error
	ListExchanges(ctx context.Context, sessionID string) ([]Exchange, error)

	Close() error
}
