package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/keytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

var upsertSession = redis.NewScript(upsertSessionScript)

const sessionsKey = "keytrack:sessions"

func sessionKey(id string) string { return "keytrack:session:" + id }

func sessionDateKey(date string) string { return "keytrack:sessions:date:" + date }

type sessionStore struct {
	client     *redis.Client
	ttlSeconds int64
}

// Upsert creates or updates a practice session
func (s *sessionStore) Upsert(ctx context.Context, session storage.PracticeSession) error {
	keys := []string{sessionKey(session.ID), sessionsKey, sessionDateKey(session.Date)}
	args := []interface{}{
		session.ID,
		session.Date,
		session.StartedAt.Format(time.RFC3339Nano),
		session.EndedAt.Format(time.RFC3339Nano),
		formatFloat(session.Seconds),
		session.StartedAt.Unix(),
		s.ttlSeconds,
	}
	return classify(upsertSession.Run(ctx, s.client, keys, args...).Err())
}

// List returns the sessions recorded for a date, oldest first
func (s *sessionStore) List(ctx context.Context, date string) ([]storage.PracticeSession, error) {
	ids, err := s.client.ZRange(ctx, sessionDateKey(date), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.PracticeSession{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.PracticeSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		p, err := parsePracticeSession(data)
		if err == nil {
			sessions = append(sessions, *p)
		}
	}

	return sessions, nil
}

// DeleteBefore removes sessions that started before cutoff
func (s *sessionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, sessionsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	deletedCount := 0
	for _, id := range ids {
		data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
		if err != nil {
			return deletedCount, err
		}

		if date, ok := data["date"]; ok {
			s.client.ZRem(ctx, sessionDateKey(date), id)
		}

		deleted, err := s.client.Del(ctx, sessionKey(id)).Result()
		if err != nil {
			return deletedCount, fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		deletedCount += int(deleted)

		if err := s.client.ZRem(ctx, sessionsKey, id).Err(); err != nil {
			return deletedCount, err
		}
	}

	return deletedCount, nil
}
