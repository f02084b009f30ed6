package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/repovista/repovista/internal/config"
	"github.com/repovista/repovista/internal/scheduler/model"
	"github.com/rs/zerolog/log"
)

// StatePublisher mirrors task state into an external store so pollers and
// crash recovery can see it without the scheduler process.
type StatePublisher interface {
	Publish(ctx context.Context, doc *model.TaskStateDoc)
}

// NewRedisClientFromConfig constructs a redis client from app config.
func NewRedisClientFromConfig(c *config.RedisConfig) *redis.Client {
	if c == nil {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// TaskStateStore keeps one document per transaction plus a repository-keyed
// pointer to it, both with a fixed retention window. All writes are
// best-effort: a nil client or a redis failure is logged, never propagated.
type TaskStateStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewTaskStateStore(rdb *redis.Client, ttl time.Duration) *TaskStateStore {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &TaskStateStore{redis: rdb, ttl: ttl}
}

func taskStateKey(transactionID string) string { return "task:state:" + transactionID }
func taskRepoKey(repoUUID string) string       { return "task:repo:" + repoUUID }

func (s *TaskStateStore) Publish(ctx context.Context, doc *model.TaskStateDoc) {
	if s == nil || s.redis == nil || doc == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Str("transaction", doc.TransactionID).Msg("failed to marshal task state")
		return
	}
	if err := s.redis.Set(ctx, taskStateKey(doc.TransactionID), data, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("transaction", doc.TransactionID).Msg("failed to publish task state")
		return
	}
	if err := s.redis.Set(ctx, taskRepoKey(doc.RepoUUID), doc.TransactionID, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("repo", doc.RepoUUID).Msg("failed to publish repo task pointer")
	}
}

// GetByTransaction reads a published document back, for pollers asking about
// runs this process no longer holds in memory.
func (s *TaskStateStore) GetByTransaction(ctx context.Context, transactionID string) (*model.TaskStateDoc, error) {
	if s == nil || s.redis == nil {
		return nil, model.ErrTaskNotFound
	}
	val, err := s.redis.Get(ctx, taskStateKey(transactionID)).Result()
	if err == redis.Nil {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc model.TaskStateDoc
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByRepo follows the repository pointer to the most recent run.
func (s *TaskStateStore) GetByRepo(ctx context.Context, repoUUID string) (*model.TaskStateDoc, error) {
	if s == nil || s.redis == nil {
		return nil, model.ErrTaskNotFound
	}
	txID, err := s.redis.Get(ctx, taskRepoKey(repoUUID)).Result()
	if err == redis.Nil {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetByTransaction(ctx, txID)
}
