package search

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/roomchat/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Query is a full-text search over message bodies, optionally limited to
// one room.
type Query struct {
	Text   string `form:"q" binding:"required"`
	Room   string `form:"room"`
	Offset int    `form:"offset"`
	Limit  int    `form:"limit"`
}

func (q *Query) normalize() {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// Hit is one matching message, newest first in a Result.
type Hit struct {
	ID        string `json:"message_id"`
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Body      string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type Result struct {
	Hits  []Hit `json:"hits"`
	Total int   `json:"total"`
}

// Index stores searchable copies of messages.
type Index interface {
	Put(ctx context.Context, msg domain.Message) error
	DeleteRoom(ctx context.Context, room string) error
	Search(ctx context.Context, q Query) (*Result, error)
}

// Searcher answers queries, collapsing identical concurrent ones into a
// single index request.
type Searcher struct {
	index Index
	sf    singleflight.Group
}

func NewSearcher(index Index) *Searcher {
	return &Searcher{index: index}
}

func (s *Searcher) Search(ctx context.Context, q Query) (*Result, error) {
	q.normalize()
	if q.Text == "" {
		return &Result{Hits: []Hit{}}, nil
	}

	key := fmt.Sprintf("%s\x00%s\x00%d\x00%d", q.Room, q.Text, q.Offset, q.Limit)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.index.Search(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}
