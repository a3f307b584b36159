package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "booking:created:evt-1", Key("booking", "created", "evt-1"))
}

func TestRedisProcessedStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisProcessedStore(client, time.Hour)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "booking:created:evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkProcessed(ctx, "booking:created:evt-1")
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, time.Hour, mr.TTL("processed:booking:created:evt-1"))

	require.NoError(t, store.Release(ctx, "booking:created:evt-1"))
	replay, err := store.MarkProcessed(ctx, "booking:created:evt-1")
	require.NoError(t, err)
	assert.True(t, replay)

	mr.FastForward(2 * time.Hour)
	expired, err := store.MarkProcessed(ctx, "booking:created:evt-1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRedisProcessedStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	_, err := NewRedisProcessedStore(client, 0).MarkProcessed(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryProcessedStore(t *testing.T) {
	store := NewMemoryProcessedStore(time.Minute)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := store.MarkProcessed(ctx, "k")
	assert.True(t, ok)
	ok, _ = store.MarkProcessed(ctx, "k")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = store.MarkProcessed(ctx, "k")
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "k"))
	ok, _ = store.MarkProcessed(ctx, "k")
	assert.True(t, ok)
}

func TestPostgresProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresProcessedStore(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("booking:created:evt").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(ctx, "booking:created:evt")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("booking:created:evt").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.MarkProcessed(ctx, "booking:created:evt")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("DELETE FROM processed_events").WithArgs("booking:created:evt").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.Release(ctx, "booking:created:evt"))

	require.NoError(t, mock.ExpectationsWereMet())
}
