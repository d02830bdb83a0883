package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IgnatG/langextract-api/internal/common/database"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/extraction"
)

const (
	taskKeyPrefix  = "task:"
	stateKeyPrefix = "task_state:"
	idemKeyPrefix  = "task_idempotency:"
)

// transitionScript swaps the state key to ARGV[1] only if the current
// value is one of ARGV[2..]. Returns 1 on success, 0 otherwise. The
// TTL on the key is preserved.
var transitionScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
for i = 2, #ARGV do
  if cur == ARGV[i] then
    redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
    return 1
  end
end
return 0
`)

// Store persists task records, their states and idempotency records
// in Redis. Records are TTL-bounded; expiry is Redis-enforced.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore wraps the shared Redis client. ttl bounds the lifetime of
// every record written.
func NewStore(rdb *database.RedisClient, ttl time.Duration) *Store {
	return &Store{client: rdb.GetClient(), ttl: ttl}
}

// Create writes a new task in PENDING.
func (s *Store) Create(ctx context.Context, t *Task) error {
	t.State = StatePending
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+t.ID, raw, s.ttl)
	pipe.Set(ctx, stateKeyPrefix+t.ID, string(StatePending), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Get loads a task and overlays its current state.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := s.client.Get(ctx, taskKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, apperrors.NewTaskNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}

	state, err := s.client.Get(ctx, stateKeyPrefix+id).Result()
	if err == nil {
		t.State = State(state)
	}
	return &t, nil
}

// Transition atomically moves the task from any of the given states to
// the target state. Returns false when the task is gone or its current
// state is not in from.
func (s *Store) Transition(ctx context.Context, id string, to State, from ...State) (bool, error) {
	argv := make([]interface{}, 0, len(from)+1)
	argv = append(argv, string(to))
	for _, f := range from {
		argv = append(argv, string(f))
	}

	n, err := transitionScript.Run(ctx, s.client, []string{stateKeyPrefix + id}, argv...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetResult stores the final result on the task record. Only the
// owning worker calls this, between claim and terminal transition.
func (s *Store) SetResult(ctx context.Context, id string, result extraction.Result) error {
	return s.update(ctx, id, func(t *Task) {
		t.Result = &result
		now := time.Now().UTC()
		t.CompletedAt = &now
	})
}

// ClearResult removes a stored result. Used when a revocation won the
// race against a finishing worker; post-revoke results are discarded.
func (s *Store) ClearResult(ctx context.Context, id string) error {
	return s.update(ctx, id, func(t *Task) {
		t.Result = nil
	})
}

// SetError stores the sanitized error detail on the task record.
func (s *Store) SetError(ctx context.Context, id, detail string) error {
	return s.update(ctx, id, func(t *Task) {
		t.ErrorDetail = detail
		now := time.Now().UTC()
		t.CompletedAt = &now
	})
}

func (s *Store) update(ctx context.Context, id string, mutate func(*Task)) error {
	raw, err := s.client.Get(ctx, taskKeyPrefix+id).Result()
	if err == redis.Nil {
		return apperrors.NewTaskNotFoundError(id)
	}
	if err != nil {
		return err
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return err
	}
	mutate(&t)

	updated, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, taskKeyPrefix+id, updated, redis.KeepTTL).Err()
}

// Delete removes a task record and its state key.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, taskKeyPrefix+id, stateKeyPrefix+id).Err()
}

// PutIdempotencyKey records key→taskID if no live record exists.
// Returns the winning task ID; won reports whether this call created
// the record. SETNX makes the race linearizable: exactly one creator
// wins, everyone else observes the winner's ID.
func (s *Store) PutIdempotencyKey(ctx context.Context, key, taskID string) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, idemKeyPrefix+key, taskID, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return taskID, true, nil
	}

	winner, err := s.client.Get(ctx, idemKeyPrefix+key).Result()
	if err == redis.Nil {
		// The winner's record expired between SETNX and GET; retry
		// once, then give up in the caller's favor.
		return s.PutIdempotencyKey(ctx, key, taskID)
	}
	if err != nil {
		return "", false, err
	}
	return winner, false, nil
}

// DeleteIdempotencyKey releases an idempotency record. Used when the
// submission that claimed it could not be completed.
func (s *Store) DeleteIdempotencyKey(ctx context.Context, key string) error {
	return s.client.Del(ctx, idemKeyPrefix+key).Err()
}

// LookupIdempotencyKey returns the task ID recorded for key, if any.
func (s *Store) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	id, err := s.client.Get(ctx, idemKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
