// Package session implements the Redis-backed session store. Sessions are
// JSON values keyed session:<id> with a per-user index set; termination
// deletes the session and leaves a TTL'd revocation marker so in-flight
// requests can be rejected.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "user_sessions:"
	revokedKeyPrefix = "session:revoked:"

	// revokedMarkerTTL bounds how long a terminated session's ID is
	// remembered; it only needs to outlive any token issued against it.
	revokedMarkerTTL = 24 * time.Hour
)

// Connect initializes a Redis client from URL or host:port input.
// Supporting both formats keeps local/dev and container config paths simple.
func Connect(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// Store is the Redis session store. It satisfies threat.SessionTerminator.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore creates a Store. ttl bounds session lifetime; 0 means 30 days.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Create registers a new session and returns it.
func (s *Store) Create(ctx context.Context, userID, ipAddress, userAgent, location string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Location:  location,
		CreatedAt: now,
		LastSeen:  now,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, s.ttl)
	pipe.SAdd(ctx, userIndexPrefix+userID, sess.ID)
	pipe.Expire(ctx, userIndexPrefix+userID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Get retrieves one session by ID.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// ListByUser returns a user's live sessions. Index entries whose session has
// expired are pruned as a side effect.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := s.client.SMembers(ctx, userIndexPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("list session index: %w", err)
	}

	var sessions []Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Expired: drop the stale index entry, best-effort.
				if remErr := s.client.SRem(ctx, userIndexPrefix+userID, id).Err(); remErr != nil {
					s.logger.Debug("session: prune stale index entry", zap.Error(remErr))
				}
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// Terminate removes a session and writes a revocation marker. It verifies
// ownership first so one user's remediation cannot kill another's session.
// Satisfies threat.SessionTerminator.
func (s *Store) Terminate(ctx context.Context, userID, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.SRem(ctx, userIndexPrefix+userID, sessionID)
	pipe.Set(ctx, revokedKeyPrefix+sessionID, "1", revokedMarkerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	s.logger.Info("session terminated",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
	)
	return nil
}

// TerminateAll terminates every live session a user has and returns how many.
func (s *Store) TerminateAll(ctx context.Context, userID string) (int, error) {
	sessions, err := s.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, sess := range sessions {
		if err := s.Terminate(ctx, userID, sess.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

// IsRevoked reports whether a session ID carries a revocation marker.
func (s *Store) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
