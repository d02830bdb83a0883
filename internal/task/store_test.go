package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IgnatG/langextract-api/internal/common/database"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/extraction"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	return NewStore(rdb, 24*time.Hour)
}

func newTask() *Task {
	return &Task{
		ID: uuid.New().String(),
		Request: Request{
			RawText: "Acme Corp hired Jane Doe.",
			Prompt:  "Extract organizations and people",
			Model:   "gpt-4o",
			Passes:  1,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := newTask()
	require.NoError(t, s.Create(ctx, created))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Equal(t, created.Request.RawText, got.Request.RawText)
}

func TestStore_GetUnknownTask(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTaskNotFound, apperrors.Normalize(err).Code)
}

func TestStore_DeleteRemovesAllRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask()
	require.NoError(t, s.Create(ctx, tk))
	_, won, err := s.PutIdempotencyKey(ctx, "client-key-1", tk.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, s.Delete(ctx, tk.ID))
	require.NoError(t, s.DeleteIdempotencyKey(ctx, "client-key-1"))

	_, err = s.Get(ctx, tk.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTaskNotFound, apperrors.Normalize(err).Code)

	_, found, err := s.LookupIdempotencyKey(ctx, "client-key-1")
	require.NoError(t, err)
	assert.False(t, found)

	// The key is claimable again.
	_, won, err = s.PutIdempotencyKey(ctx, "client-key-1", "replacement-task")
	require.NoError(t, err)
	assert.True(t, won)
}

func TestStore_TransitionClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask()
	require.NoError(t, s.Create(ctx, tk))

	claimed, err := s.Transition(ctx, tk.ID, StateStarted, StatePending)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim must lose.
	claimed, err = s.Transition(ctx, tk.ID, StateStarted, StatePending)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, got.State)
}

func TestStore_NoTransitionOutOfTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask()
	require.NoError(t, s.Create(ctx, tk))

	_, err := s.Transition(ctx, tk.ID, StateStarted, StatePending)
	require.NoError(t, err)
	_, err = s.Transition(ctx, tk.ID, StateSuccess, StateStarted)
	require.NoError(t, err)

	for _, to := range []State{StatePending, StateStarted, StateFailure, StateRevoked} {
		ok, err := s.Transition(ctx, tk.ID, to, StatePending, StateStarted)
		require.NoError(t, err)
		assert.False(t, ok, "no transition may leave SUCCESS")
	}

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, got.State)
}

func TestStore_TransitionUnknownTask(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Transition(context.Background(), "missing", StateStarted, StatePending)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask()
	require.NoError(t, s.Create(ctx, tk))

	result := extraction.Result{
		Entities: []extraction.Entity{
			{ExtractionClass: "organization", ExtractionText: "Acme Corp"},
		},
		Metadata: extraction.Metadata{Provider: "gpt-4o"},
	}
	require.NoError(t, s.SetResult(ctx, tk.ID, result))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Acme Corp", got.Result.Entities[0].ExtractionText)
	assert.NotNil(t, got.CompletedAt)
}

func TestStore_SetError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTask()
	require.NoError(t, s.Create(ctx, tk))

	require.NoError(t, s.SetError(ctx, tk.ID, "[PROVIDER_ERROR] Extraction provider 'gpt-4o' failed"))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorDetail, "PROVIDER_ERROR")
}

func TestStore_IdempotencyWinnerIsLinearizable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 16
	winners := make([]string, callers)
	wonFlags := make([]bool, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uuid.New().String()
			winner, won, err := s.PutIdempotencyKey(ctx, "client-key-1", id)
			assert.NoError(t, err)
			winners[i] = winner
			wonFlags[i] = won
		}(i)
	}
	wg.Wait()

	wonCount := 0
	for _, w := range wonFlags {
		if w {
			wonCount++
		}
	}
	assert.Equal(t, 1, wonCount, "exactly one submission creates the record")

	for i := 1; i < callers; i++ {
		assert.Equal(t, winners[0], winners[i], "every caller observes the same task ID")
	}

	id, found, err := s.LookupIdempotencyKey(ctx, "client-key-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, winners[0], id)
}

func TestStore_LookupUnknownIdempotencyKey(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.LookupIdempotencyKey(context.Background(), "never-used")
	require.NoError(t, err)
	assert.False(t, found)
}
