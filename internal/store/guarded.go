package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/roomchat/internal/domain"
)

// Guarded bounds every call on the wrapped store by a timeout and reports
// any backend failure as ErrStoreUnavailable.
type Guarded struct {
	next    MessageStore
	timeout time.Duration
}

func NewGuarded(next MessageStore, timeout time.Duration) *Guarded {
	return &Guarded{next: next, timeout: timeout}
}

func (g *Guarded) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	// The backend works on a copy; it may still be running after a timeout.
	cp := *msg
	var id string
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = g.next.Insert(ctx, &cp)
		return err
	})
	if err != nil {
		return "", err
	}
	msg.ID = id
	return id, nil
}

func (g *Guarded) ListByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = g.next.ListByRoom(ctx, room)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (g *Guarded) DeleteAll(ctx context.Context, room string) (int64, error) {
	var n int64
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.next.DeleteAll(ctx, room)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Guarded) DistinctRooms(ctx context.Context) ([]string, error) {
	var rooms []string
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		rooms, err = g.next.DistinctRooms(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

func (g *Guarded) Close() error {
	return g.next.Close()
}

// call runs fn on its own goroutine so a backend that ignores ctx still
// cannot hold the caller past the timeout.
func (g *Guarded) call(ctx context.Context, fn func(context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
