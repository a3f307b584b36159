package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/notify"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

type jobRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *jobRecorder) ObserveJob(_ string, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

type mockAlerter struct {
	payloads []notify.ErrorPayload
}

func (m *mockAlerter) SendErrorAlert(_ context.Context, p notify.ErrorPayload) (string, error) {
	m.payloads = append(m.payloads, p)
	return "alert-1", nil
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client), mr
}

func TestTrigger_ReturnsSummary(t *testing.T) {
	obs := &jobRecorder{}
	s := New(Config{}, nil, obs, nil, logging.Discard())
	require.NoError(t, s.Register(Job{
		Name: "reminders",
		Spec: "@hourly",
		Run:  func(context.Context) (any, error) { return map[string]int{"sent": 2}, nil },
	}))

	got, err := s.Trigger(context.Background(), "reminders")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sent": 2}, got)
	assert.Equal(t, []string{StatusOK}, obs.statuses)
}

func TestTrigger_UnknownJob(t *testing.T) {
	s := New(Config{}, nil, nil, nil, logging.Discard())
	_, err := s.Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTrigger_NonReentrant(t *testing.T) {
	s := New(Config{}, nil, nil, nil, logging.Discard())
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name: "weekly_report",
		Run: func(context.Context) (any, error) {
			close(started)
			<-release
			return "done", nil
		},
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Trigger(context.Background(), "weekly_report")
		done <- err
	}()
	<-started

	_, err := s.Trigger(context.Background(), "weekly_report")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 409, apperr.HTTPStatus(err))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Running)

	close(release)
	require.NoError(t, <-done)
}

func TestTrigger_RedisLockHeldElsewhere(t *testing.T) {
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set("lock:job:reminders", "other-replica"))

	ran := false
	s := New(Config{}, locker, nil, nil, logging.Discard())
	require.NoError(t, s.Register(Job{Name: "reminders", Run: func(context.Context) (any, error) {
		ran = true
		return nil, nil
	}}))

	_, err := s.Trigger(context.Background(), "reminders")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.False(t, ran)
}

func TestTrigger_RedisLockReleasedAfterRun(t *testing.T) {
	locker, mr := newRedisLocker(t)
	s := New(Config{LockTTL: time.Minute}, locker, nil, nil, logging.Discard())
	require.NoError(t, s.Register(Job{Name: "reminders", Run: func(context.Context) (any, error) {
		assert.True(t, mr.Exists("lock:job:reminders"))
		assert.Equal(t, time.Minute, mr.TTL("lock:job:reminders"))
		return nil, nil
	}}))

	_, err := s.Trigger(context.Background(), "reminders")
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:job:reminders"))
}

func TestTrigger_RedisDownRunsUnguarded(t *testing.T) {
	locker, mr := newRedisLocker(t)
	mr.Close()

	s := New(Config{}, locker, nil, nil, logging.Discard())
	require.NoError(t, s.Register(Job{Name: "reminders", Run: func(context.Context) (any, error) { return "ok", nil }}))

	got, err := s.Trigger(context.Background(), "reminders")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "weekly_report", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "weekly_report", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	// Lock expired and was taken by someone else.
	require.NoError(t, mr.Set("lock:job:weekly_report", "someone-else"))
	require.NoError(t, release(ctx))
	got, err := mr.Get("lock:job:weekly_report")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestScheduledFailureAlertsAdmin(t *testing.T) {
	alerter := &mockAlerter{}
	obs := &jobRecorder{}
	s := New(Config{}, nil, obs, alerter, logging.Discard())
	require.NoError(t, s.Register(Job{
		Name:      "reminders",
		Spec:      "@hourly",
		AlertKind: "reminder_sweep_error",
		Run:       func(context.Context) (any, error) { return nil, errors.New("store unavailable") },
	}))

	s.runScheduled(s.entries["reminders"])

	require.Len(t, alerter.payloads, 1)
	assert.Equal(t, "reminder_sweep_error", alerter.payloads[0].Kind)
	assert.Equal(t, "reminders", alerter.payloads[0].Reference)
	assert.Equal(t, []string{StatusError}, obs.statuses)
}

func TestRegister_Validation(t *testing.T) {
	s := New(Config{}, nil, nil, nil, logging.Discard())
	run := func(context.Context) (any, error) { return nil, nil }

	assert.Error(t, s.Register(Job{Name: "bad", Spec: "not a cron", Run: run}))
	assert.Error(t, s.Register(Job{Name: "", Run: run}))
	require.NoError(t, s.Register(Job{Name: "weekly_report", Spec: "0 8 * * MON", Run: run}))
	assert.Error(t, s.Register(Job{Name: "weekly_report", Run: run}))
}

func TestStartStop(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s := New(Config{Location: newYork}, nil, nil, nil, logging.Discard())
	require.NoError(t, s.Register(Job{Name: "weekly_report", Spec: "0 8 * * MON", Run: func(context.Context) (any, error) { return nil, nil }}))

	s.Start(context.Background())
	entries := s.Entries()
	require.Len(t, entries, 1)
	next := entries[0].NextRun.In(newYork)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 8, next.Hour())

	<-s.Stop().Done()
}
