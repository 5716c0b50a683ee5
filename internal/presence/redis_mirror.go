package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/roomchat/internal/domain"
	"github.com/weiawesome/roomchat/pkg/log"
)

type update struct {
	room   string
	roster domain.Roster
}

// RedisMirror stores each occupied room's roster under a per-instance key
// with a TTL. A heartbeat keeps the keys of live rooms from expiring, so a
// crashed instance's rosters disappear on their own.
type RedisMirror struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string][]byte // key -> encoded roster
	updates           chan update
	mu                sync.RWMutex
	cancel            context.CancelFunc
	wg                sync.WaitGroup
}

func NewRedisMirror(client *redis.Client, instanceID, prefix string, keyTTL, heartbeatInterval time.Duration) *RedisMirror {
	return &RedisMirror{
		client:            client,
		instanceID:        instanceID,
		prefix:            prefix,
		keyTTL:            keyTTL,
		heartbeatInterval: heartbeatInterval,
		managedKeys:       make(map[string][]byte),
		updates:           make(chan update, 1024),
	}
}

func (m *RedisMirror) keyFor(room string) string {
	return fmt.Sprintf("%s:room:%s:instance:%s", m.prefix, room, m.instanceID)
}

func (m *RedisMirror) Publish(room string, roster domain.Roster) {
	select {
	case m.updates <- update{room: room, roster: roster}:
	default:
		l := log.L()
		l.Warn().Str(log.FieldRoom, room).Msg("presence mirror queue full, dropping snapshot")
	}
}

func (m *RedisMirror) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.applyLoop(ctx)
	go m.heartbeatLoop(ctx)

	l := log.L()
	l.Info().Dur("interval", m.heartbeatInterval).Dur("ttl", m.keyTTL).Msg("presence mirror started")
	return nil
}

func (m *RedisMirror) applyLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-m.updates:
			if err := m.apply(ctx, u); err != nil {
				l := log.L()
				l.Error().Err(err).Str(log.FieldRoom, u.room).Msg("failed to mirror roster")
			}
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, u update) error {
	key := m.keyFor(u.room)

	if len(u.roster) == 0 {
		m.mu.Lock()
		delete(m.managedKeys, key)
		m.mu.Unlock()
		if err := m.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete roster: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(u.roster)
	if err != nil {
		return fmt.Errorf("failed to marshal roster: %w", err)
	}

	m.mu.Lock()
	m.managedKeys[key] = data
	m.mu.Unlock()

	if err := m.client.Set(ctx, key, data, m.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set roster: %w", err)
	}
	return nil
}

// Roster reads back the roster this instance mirrored for room.
func (m *RedisMirror) Roster(ctx context.Context, room string) (domain.Roster, error) {
	data, err := m.client.Get(ctx, m.keyFor(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Roster{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get roster: %w", err)
	}

	var roster domain.Roster
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}
	return roster, nil
}

func (m *RedisMirror) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshKeys(ctx)
		}
	}
}

func (m *RedisMirror) refreshKeys(ctx context.Context) {
	m.mu.RLock()
	entries := make(map[string][]byte, len(m.managedKeys))
	for k, v := range m.managedKeys {
		entries[k] = v
	}
	m.mu.RUnlock()

	for key, data := range entries {
		if err := m.client.Set(ctx, key, data, m.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str("key", key).Err(err).Msg("failed to refresh key")
		}
	}
}

// Stop ends the loops and removes every key this instance still owns.
func (m *RedisMirror) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	keys := make([]string, 0, len(m.managedKeys))
	for k := range m.managedKeys {
		keys = append(keys, k)
	}
	m.managedKeys = make(map[string][]byte)
	m.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to clear mirrored rosters")
	}
}
