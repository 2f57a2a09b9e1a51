package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attachflow/internal/models"
	"attachflow/internal/redis"
)

const keyPrefix = "attachflow:draft:"

// Redis stores one JSON value per conversation. A zero TTL keeps drafts forever.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func draftKey(sessionID string) string { return keyPrefix + sessionID }

func (r *Redis) Load(ctx context.Context, sessionID string) (models.Draft, bool, error) {
	data, err := r.client.Get(ctx, draftKey(sessionID))
	if errors.Is(err, redis.ErrCacheMiss) {
		return models.Draft{}, false, nil
	}
	if err != nil {
		return models.Draft{}, false, fmt.Errorf("load draft %s: %w", sessionID, err)
	}
	s, err := decode(sessionID, data)
	if err != nil {
		return models.Draft{}, false, err
	}
	return s.draft(sessionID), true, nil
}

func (r *Redis) Save(ctx context.Context, d models.Draft) error {
	data, err := encode(d)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, draftKey(d.SessionID), data, r.ttl); err != nil {
		return fmt.Errorf("save draft %s: %w", d.SessionID, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, draftKey(sessionID)); err != nil {
		return fmt.Errorf("delete draft %s: %w", sessionID, err)
	}
	return nil
}
