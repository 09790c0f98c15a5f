package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"diamonds-club/internal/config"
	"diamonds-club/internal/state"
)

const (
	keyRoomState  = "room:%s:state"
	keyRoomEvents = "room:%s:events"
	keyRateLimit  = "ratelimit:%s:%s"

	// Room state has no TTL: a room persists for its lifetime.
	eventJournalSize = 200
)

// StateStore persists room-state documents and the transient-event journal
// in redis, so a room survives relay restarts.
type StateStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewStateStore connects to redis and verifies the connection.
func NewStateStore(cfg *config.Config) (*StateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &StateStore{client: client, ctx: ctx}, nil
}

// SaveRoomState writes the merged room document.
func (s *StateStore) SaveRoomState(roomID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal room state: %v", err)
	}
	key := fmt.Sprintf(keyRoomState, roomID)
	return s.client.Set(s.ctx, key, data, 0).Err()
}

// LoadRoomState reads a previously persisted room document. A missing key
// returns a nil document and no error.
func (s *StateStore) LoadRoomState(roomID string) (map[string]any, error) {
	key := fmt.Sprintf(keyRoomState, roomID)

	data, err := s.client.Get(s.ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room state: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room state: %v", err)
	}
	return doc, nil
}

// DeleteRoomState removes a room document (used by tests).
func (s *StateStore) DeleteRoomState(roomID string) error {
	return s.client.Del(s.ctx, fmt.Sprintf(keyRoomState, roomID)).Err()
}

// AppendEvent pushes a transient event onto the room's capped journal.
func (s *StateStore) AppendEvent(roomID string, ev state.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}

	key := fmt.Sprintf(keyRoomEvents, roomID)
	if err := s.client.LPush(s.ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to journal event: %v", err)
	}
	return s.client.LTrim(s.ctx, key, 0, eventJournalSize-1).Err()
}

// RecentEvents returns the newest events from the journal, newest first.
func (s *StateStore) RecentEvents(roomID string, limit int64) ([]state.Event, error) {
	if limit <= 0 || limit > eventJournalSize {
		limit = 50
	}

	key := fmt.Sprintf(keyRoomEvents, roomID)
	items, err := s.client.LRange(s.ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event journal: %v", err)
	}

	var events []state.Event
	for _, item := range items {
		var ev state.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// CheckRateLimit counts actions per subject within the window and reports
// whether this one is still allowed.
func (s *StateStore) CheckRateLimit(subject, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(keyRateLimit, subject, action)

	count, err := s.client.Incr(s.ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %v", err)
	}
	if count == 1 {
		s.client.Expire(s.ctx, key, window)
	}
	return count <= int64(limit), nil
}

// Close releases the redis connection.
func (s *StateStore) Close() error {
	return s.client.Close()
}
