package search

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/log"
)

const indexTimeout = 5 * time.Second

type indexOp struct {
	put        *domain.Message
	deleteRoom string
}

// IndexedStore mirrors successful writes of the wrapped store into a search
// index. Index updates run on one background worker in write order, so a
// room's clear is never overtaken by an earlier message. A full queue drops
// updates; the message log stays authoritative.
type IndexedStore struct {
	store.MessageStore

	index Index
	ops   chan indexOp
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewIndexedStore(inner store.MessageStore, index Index, queueSize int) *IndexedStore {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &IndexedStore{
		MessageStore: inner,
		index:        index,
		ops:          make(chan indexOp, queueSize),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *IndexedStore) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	id, err := s.MessageStore.Insert(ctx, msg)
	if err != nil {
		return "", err
	}
	cp := *msg
	cp.ID = id
	s.enqueue(indexOp{put: &cp})
	return id, nil
}

func (s *IndexedStore) DeleteAll(ctx context.Context, room string) (int64, error) {
	n, err := s.MessageStore.DeleteAll(ctx, room)
	if err != nil {
		return 0, err
	}
	s.enqueue(indexOp{deleteRoom: room})
	return n, nil
}

// Close drains pending index updates, then closes the wrapped store.
func (s *IndexedStore) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
	s.mu.Unlock()

	<-s.done
	return s.MessageStore.Close()
}

func (s *IndexedStore) enqueue(op indexOp) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ops <- op:
	default:
		l := log.L()
		l.Warn().Msg("search index queue full, dropping update")
	}
}

func (s *IndexedStore) run() {
	defer close(s.done)
	for op := range s.ops {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		var err error
		room := op.deleteRoom
		if op.put != nil {
			room = op.put.Room
			err = s.index.Put(ctx, *op.put)
		} else {
			err = s.index.DeleteRoom(ctx, op.deleteRoom)
		}
		cancel()

		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldRoom, room).Msg("search index update failed")
		}
	}
}
