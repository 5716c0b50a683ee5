package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/weiawesome/roomchat/internal/config"
	"github.com/weiawesome/roomchat/internal/domain"
)

const cassandraSchema = `
	CREATE TABLE IF NOT EXISTS messages_by_room (
		room_id            text,
		created_at         bigint,
		message_id         text,
		sender             text,
		content            text,
		translated_content text,
		PRIMARY KEY ((room_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC)`

// CassandraStore keeps one partition per room, clustered by send time.
type CassandraStore struct {
	session *gocql.Session
}

func NewCassandraStore(cfg config.CassandraConfig) (*CassandraStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	if err := session.Query(cassandraSchema).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create messages_by_room table: %w", err)
	}

	return &CassandraStore{session: session}, nil
}

func (s *CassandraStore) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO messages_by_room (
			room_id, created_at, message_id, sender, content, translated_content
		) VALUES (?, ?, ?, ?, ?, ?)`

	err := s.session.Query(query,
		msg.Room,
		msg.Timestamp.UnixNano(),
		msg.ID,
		msg.Sender,
		msg.Body,
		msg.TranslatedMessage,
	).WithContext(ctx).Exec()
	if err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}
	return msg.ID, nil
}

func (s *CassandraStore) ListByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	query := `SELECT message_id, sender, content, translated_content, created_at
			  FROM messages_by_room
			  WHERE room_id = ?
			  ORDER BY created_at ASC, message_id ASC`

	iter := s.session.Query(query, room).WithContext(ctx).Iter()

	messages := []domain.Message{}
	var msg domain.Message
	var createdAt int64

	for iter.Scan(
		&msg.ID,
		&msg.Sender,
		&msg.Body,
		&msg.TranslatedMessage,
		&createdAt,
	) {
		msg.Room = room
		msg.Timestamp = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
		msg = domain.Message{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// DeleteAll counts the partition, then deletes up to the newest send time it
// counted. A message inserted after the count with a later timestamp
// survives, so the reported count matches what was removed.
func (s *CassandraStore) DeleteAll(ctx context.Context, room string) (int64, error) {
	count, upTo, err := s.countUpTo(ctx, room)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.deleteUpTo(ctx, room, upTo); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *CassandraStore) countUpTo(ctx context.Context, room string) (int64, int64, error) {
	var count, upTo int64
	if err := s.session.Query(`SELECT COUNT(*), MAX(created_at) FROM messages_by_room WHERE room_id = ?`, room).
		WithContext(ctx).Scan(&count, &upTo); err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, upTo, nil
}

func (s *CassandraStore) deleteUpTo(ctx context.Context, room string, upTo int64) error {
	if err := s.session.Query(`DELETE FROM messages_by_room WHERE room_id = ? AND created_at <= ?`, room, upTo).
		WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *CassandraStore) DistinctRooms(ctx context.Context) ([]string, error) {
	iter := s.session.Query(`SELECT DISTINCT room_id FROM messages_by_room`).WithContext(ctx).Iter()

	rooms := []string{}
	var room string
	for iter.Scan(&room) {
		rooms = append(rooms, room)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
