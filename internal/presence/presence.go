package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store tracks which users are currently active in an agency. Each heartbeat
// writes a key with a TTL; a user is active while the key lives.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a presence store backed by redis
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(agencyID, userID uint) string {
	return fmt.Sprintf("presence:%d:%d", agencyID, userID)
}

// Heartbeat marks a user active in an agency until the TTL expires
func (s *Store) Heartbeat(ctx context.Context, agencyID, userID uint, userName string) error {
	return s.client.Set(ctx, key(agencyID, userID), userName, s.ttl).Err()
}

// Entry is one currently-active user
type Entry struct {
	UserID   uint   `json:"user_id"`
	UserName string `json:"user_name"`
}

// Active returns the users with a live heartbeat in the agency
func (s *Store) Active(ctx context.Context, agencyID uint) ([]Entry, error) {
	pattern := fmt.Sprintf("presence:%d:*", agencyID)

	entries := []Entry{}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}

		for _, k := range keys {
			parts := strings.Split(k, ":")
			if len(parts) != 3 {
				continue
			}
			userID, err := strconv.ParseUint(parts[2], 10, 32)
			if err != nil {
				continue
			}

			userName, err := s.client.Get(ctx, k).Result()
			if err == redis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{UserID: uint(userID), UserName: userName})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return entries, nil
}
