package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/pkg/database"
	"github.com/weiawesome/roomchat/pkg/log"
)

// MessageModel is the GORM row for a chat message. Timestamps are kept as
// unix nanoseconds so ordering is exact on every driver.
type MessageModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	Room              string `gorm:"size:255;not null;index:idx_messages_room_ts,priority:1"`
	Sender            string `gorm:"size:255;not null"`
	Body              string `gorm:"type:text;not null"`
	TranslatedMessage string `gorm:"type:text"`
	TimestampNs       int64  `gorm:"not null;index:idx_messages_room_ts,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func messageToModel(m *domain.Message) *MessageModel {
	return &MessageModel{
		ID:                m.ID,
		Room:              m.Room,
		Sender:            m.Sender,
		Body:              m.Body,
		TranslatedMessage: m.TranslatedMessage,
		TimestampNs:       m.Timestamp.UnixNano(),
	}
}

func (m *MessageModel) ToDomain() domain.Message {
	return domain.Message{
		ID:                m.ID,
		Room:              m.Room,
		Sender:            m.Sender,
		Body:              m.Body,
		TranslatedMessage: m.TranslatedMessage,
		Timestamp:         time.Unix(0, m.TimestampNs).UTC(),
	}
}

// GormStore persists messages through GORM (sqlite, postgres or mysql).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database described by cfg and migrates the
// messages table.
func NewGormStore(cfg *database.Config) (*GormStore, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db, &MessageModel{}); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to migrate messages table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened and migrated connection.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Insert(ctx context.Context, msg *domain.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(messageToModel(msg)).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, msg.Room).Msg("failed to insert message")
		return "", fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (s *GormStore) ListByRoom(ctx context.Context, room string) ([]domain.Message, error) {
	var models []MessageModel
	result := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("timestamp_ns ASC").
		Order("id ASC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %w", result.Error)
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = models[i].ToDomain()
	}
	return msgs, nil
}

func (s *GormStore) DeleteAll(ctx context.Context, room string) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("room = ?", room).Delete(&MessageModel{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldRoom, room).Int64(log.FieldDeleted, deleted).Msg("room history deleted")
	return deleted, nil
}

func (s *GormStore) DistinctRooms(ctx context.Context) ([]string, error) {
	var rooms []string
	result := s.db.WithContext(ctx).
		Model(&MessageModel{}).
		Distinct("room").
		Order("room ASC").
		Pluck("room", &rooms)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", result.Error)
	}
	if rooms == nil {
		rooms = []string{}
	}
	return rooms, nil
}

func (s *GormStore) Close() error {
	return database.Close(s.db)
}
