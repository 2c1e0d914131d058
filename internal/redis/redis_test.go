package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), mr.Addr(), "", "", config.RedisPool{PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestClientOptions_PoolSettings(t *testing.T) {
	opts := clientOptions("cache:6379", "app", "secret", config.RedisPool{PoolSize: 64, MinIdleConns: 4, IOTimeout: time.Second})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "app", opts.Username)
	assert.Equal(t, 64, opts.PoolSize)
	assert.Equal(t, 4, opts.MinIdleConns)
	assert.Equal(t, time.Second, opts.ReadTimeout)
	assert.Equal(t, time.Second, opts.WriteTimeout)
}

func TestDoctorLock_ReleasesAfterRun(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 0)
	doctorID := uuid.New()

	ran := false
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:doctor:"+doctorID.String()))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:doctor:"+doctorID.String()))
}

func TestDoctorLock_BusyKeyFailsAfterWait(t *testing.T) {
	mr, rdb := newTestClient(t)
	doctorID := uuid.New()
	require.NoError(t, mr.Set("lock:doctor:"+doctorID.String(), "someone-else"))

	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 60*time.Millisecond)
	err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get("lock:doctor:" + doctorID.String())
	assert.Equal(t, "someone-else", got, "foreign lock must not be released")
}

func TestDoctorLock_SerializesConcurrentCallers(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewRedisDoctorLocker(rdb, 5*time.Second, 5*time.Second)
	doctorID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithDoctorLock(context.Background(), doctorID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestDoctorLock_PropagatesCallbackError(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewRedisDoctorLocker(rdb, time.Second, 0)
	boom := errors.New("boom")

	err := locker.WithDoctorLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	_, rdb := newTestClient(t)
	bus := NewEventBus(rdb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, "appointments.status")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "appointments.status", map[string]string{"newStatus": "CANCELED"}))

	select {
	case m := <-msgs:
		assert.JSONEq(t, `{"newStatus":"CANCELED"}`, string(m))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestEventBus_PublishFailsWhenRedisDown(t *testing.T) {
	mr, rdb := newTestClient(t)
	bus := NewEventBus(rdb, zerolog.Nop())
	bus.retry = RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	mr.Close()

	err := bus.Publish(context.Background(), "appointments.status", map[string]string{})
	assert.Error(t, err)
}

func TestDelayedQueue_PopDueOnlyReturnsDueMessages(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewDelayedQueue(rdb, "")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "one", map[string]int{"n": 1}, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, "two", map[string]int{"n": 2}, now.Add(time.Hour)))

	due, err := q.PopDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "one", due[0].ID)
	assert.JSONEq(t, `{"n":1}`, string(due[0].Payload))

	again, err := q.PopDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDelayedQueue_DrainDuePublishes(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewDelayedQueue(rdb, "reminders:test")
	bus := NewEventBus(rdb, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx, "appointments.reminders")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, q.Schedule(ctx, "a1", map[string]string{"appointmentId": "a1"}, now.Add(-time.Second)))

	sent, err := q.DrainDue(ctx, bus, "appointments.reminders", now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	select {
	case m := <-msgs:
		var body map[string]string
		require.NoError(t, json.Unmarshal(m, &body))
		assert.Equal(t, "a1", body["appointmentId"])
	case <-time.After(2 * time.Second):
		t.Fatal("reminder not forwarded")
	}
}

func TestDelayedQueue_ScheduleReplacesAndCancelRemoves(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewDelayedQueue(rdb, "")
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Schedule(ctx, "appt", map[string]string{"at": "10:00"}, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, "appt", map[string]string{"at": "14:00"}, now.Add(time.Hour)))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	due, err := q.PopDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "the replaced message is no longer due")

	require.NoError(t, q.Cancel(ctx, "appt"))
	require.NoError(t, q.Cancel(ctx, "unknown"))

	due, err = q.PopDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// flakyBus forwards okCalls messages, then fails every publish.
type flakyBus struct {
	okCalls int
	sent    []string
}

func (b *flakyBus) Publish(ctx context.Context, channel string, payload any) error {
	if len(b.sent) >= b.okCalls {
		return errors.New("bus unavailable")
	}
	raw, _ := payload.(json.RawMessage)
	b.sent = append(b.sent, string(raw))
	return nil
}

func TestDelayedQueue_DrainDueRequeuesUnsent(t *testing.T) {
	_, rdb := newTestClient(t)
	q := NewDelayedQueue(rdb, "")
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		due := now.Add(-time.Duration(3-i) * time.Second)
		require.NoError(t, q.Schedule(ctx, id, map[string]string{"id": id}, due))
	}

	bus := &flakyBus{okCalls: 1}
	sent, err := q.DrainDue(ctx, bus, "appointments.reminders", now)
	require.Error(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, bus.sent, 1)
	assert.JSONEq(t, `{"id":"a"}`, bus.sent[0])

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "unsent messages are back in the queue")

	bus.okCalls = 10
	sent, err = q.DrainDue(ctx, bus, "appointments.reminders", now)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, bus.sent, 3)
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}
