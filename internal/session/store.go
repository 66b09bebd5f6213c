package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all presence hashes.
	SessionPrefix = "relay:session:"

	// SessionTTL is the time-to-live for presence keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session is the advisory presence record for one connected client. It is
// operational metadata only — room membership and delivery decisions live
// in the in-process registry, never here.
type Session struct {
	ID         string `redis:"id"`
	Server     string `redis:"server"`      // which relay instance holds the socket
	Rooms      int64  `redis:"rooms"`       // number of joined rooms
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new presence record with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"id":          sessionID,
		"server":      s.serverName,
		"rooms":       0,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var record Session
	err := s.client.HGetAll(ctx, key).Scan(&record)
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil // not found
	}
	return &record, nil
}

// TouchJoin bumps the room count and activity timestamp when a session
// joins a room, and refreshes the TTL.
func (s *Store) TouchJoin(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, "rooms", 1)
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshTTL extends the record's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a presence record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
