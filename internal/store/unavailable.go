package store

import (
	"context"
	"fmt"

	"github.com/weiawesome/roomchat/internal/domain"
)

// Unavailable stands in for a backend that could not be opened at startup.
// Every call fails with ErrStoreUnavailable.
type Unavailable struct {
	cause error
}

func NewUnavailable(cause error) *Unavailable {
	return &Unavailable{cause: cause}
}

func (u *Unavailable) err() error {
	if u.cause == nil {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, u.cause)
}

func (u *Unavailable) Insert(context.Context, *domain.Message) (string, error) {
	return "", u.err()
}

func (u *Unavailable) ListByRoom(context.Context, string) ([]domain.Message, error) {
	return nil, u.err()
}

func (u *Unavailable) DeleteAll(context.Context, string) (int64, error) {
	return 0, u.err()
}

func (u *Unavailable) DistinctRooms(context.Context) ([]string, error) {
	return nil, u.err()
}

func (u *Unavailable) Close() error {
	return nil
}
