package scheduler

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/config"
)

func scheduleConfig(spec string) config.ScheduleConfig {
	return config.ScheduleConfig{Cron: spec, LockKey: "reecal:test:lock", LockTTL: time.Minute}
}

func TestNewSchedulerService(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr error
		invalid bool
	}{
		{name: "五段表达式", spec: "0 */6 * * *"},
		{name: "六段含秒", spec: "30 0 2 * * *"},
		{name: "描述符", spec: "@hourly"},
		{name: "间隔", spec: "@every 10m"},
		{name: "未配置", spec: "  ", wantErr: ErrNotScheduled},
		{name: "非法表达式", spec: "every day", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSchedulerService(scheduleConfig(tt.spec), nil, func(context.Context) error { return nil })
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.invalid:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.NotNil(t, s)
			}
		})
	}
}

func TestRunNowHoldsLock(t *testing.T) {
	lock := NewLocalLock()
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	s, err := NewSchedulerService(scheduleConfig("@hourly"), lock, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan bool)
	go func() {
		ran, _ := s.RunNow(context.Background())
		done <- ran
	}()
	<-started

	// 上一轮未结束时跳过
	ran, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// 锁已释放
	ok, err := lock.TryLock(context.Background(), "reecal:test:lock", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunNowRecordsError(t *testing.T) {
	boom := errors.New("参考样品不可用")
	s, err := NewSchedulerService(scheduleConfig("@hourly"), nil, func(context.Context) error { return boom })
	require.NoError(t, err)

	ran, err := s.RunNow(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	st := s.Status()
	assert.Equal(t, 1, st.RunCount)
	assert.Equal(t, "参考样品不可用", st.LastError)
	assert.False(t, st.LastRun.IsZero())
}

func TestSchedulerStartStop(t *testing.T) {
	var calls int32
	s, err := NewSchedulerService(scheduleConfig("@every 1s"), nil, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.False(t, s.Next().IsZero())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestLocalLock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lock := NewLocalLock()
	lock.now = func() time.Time { return now }
	ctx := context.Background()

	tests := []struct {
		name    string
		advance time.Duration
		unlock  bool
		want    bool
	}{
		{name: "首次获取", want: true},
		{name: "持有中", advance: 30 * time.Second, want: false},
		{name: "过期后重新获取", advance: 31 * time.Second, want: true},
		{name: "释放后重新获取", unlock: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = now.Add(tt.advance)
			if tt.unlock {
				require.NoError(t, lock.Unlock(ctx, "k"))
			}
			ok, err := lock.TryLock(ctx, "k", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestNewLockFallback(t *testing.T) {
	assert.IsType(t, &LocalLock{}, NewLock(context.Background(), nil))

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	assert.IsType(t, &LocalLock{}, NewLock(context.Background(), client))
}

// 需要本地 Redis，设置 REDIS_TEST_ADDR 时运行
func TestRedisLockLive(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("未设置 REDIS_TEST_ADDR")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	key := "reecal:test:lock:" + time.Now().Format("150405.000000")

	a := NewRedisLock(client)
	b := &RedisLock{client: client, instanceID: "other"}

	ok, err := a.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者不能释放
	require.NoError(t, b.Unlock(ctx, key))
	n, _ := client.Exists(ctx, key).Result()
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Unlock(ctx, key))
	n, _ = client.Exists(ctx, key).Result()
	assert.Equal(t, int64(0), n)
}
