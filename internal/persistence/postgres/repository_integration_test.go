//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/domain"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/persistence/postgres"
	"github.com/ahsanshehayr-ship-it/calculator-Pro-Tools/internal/testsupport"
)

func TestRepositoryCreateWritesOutboxRow(t *testing.T) {
	ctx := context.Background()
	pool, _ := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	feedback := domain.Feedback{
		ID:        uuid.NewString(),
		Name:      "Ada",
		Email:     "ada@example.com",
		Message:   "The tile calculator saved me a trip.",
		Source:    "web",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.Create(ctx, feedback, "key-1"))

	stored, err := repo.Get(ctx, feedback.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, feedback.Message, stored.Message)
	require.True(t, feedback.CreatedAt.Equal(stored.CreatedAt))

	replay, err := repo.FindByIdempotency(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	require.Equal(t, feedback.ID, replay.ID)

	var eventType, topic, partitionKey string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT event_type, topic, partition_key FROM outbox WHERE aggregate_id=$1`, feedback.ID,
	).Scan(&eventType, &topic, &partitionKey))
	require.Equal(t, "feedback.submitted", eventType)
	require.Equal(t, "feedback_events", topic)
	require.Equal(t, feedback.ID, partitionKey)

	missing, err := repo.Get(ctx, "not-a-uuid")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryCreateDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	pool, _ := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	first := domain.Feedback{ID: uuid.NewString(), Message: "first", Source: "web", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, first, "key-dup"))

	second := domain.Feedback{ID: uuid.NewString(), Message: "second", Source: "web", CreatedAt: time.Now().UTC()}
	err := repo.Create(ctx, second, "key-dup")
	require.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)

	stored, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Nil(t, stored)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM outbox WHERE aggregate_id=$1`, second.ID,
	).Scan(&outboxRows))
	require.Zero(t, outboxRows)
}

func TestRepositoryListPaginates(t *testing.T) {
	ctx := context.Background()
	pool, _ := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	base := time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, domain.Feedback{
			ID:        uuid.NewString(),
			Message:   "entry",
			Source:    "web",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, ""))
	}

	first, next, err := repo.List(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, next)
	require.True(t, first[0].CreatedAt.After(first[2].CreatedAt))

	second, next, err := repo.List(ctx, next, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Nil(t, next)
	require.True(t, second[0].CreatedAt.Before(first[2].CreatedAt))
}
