/**
 * @module SchedulerService
 * @description 定时分析调度器，按 Cron 表达式重新分析配置的数据源
 * @architecture 基于 robfig/cron 的调度器，执行前获取互斥锁避免多实例重复执行
 * @documentReference DESIGN.md
 * @stateFlow Start -> 到点触发 -> 获取锁 -> 执行分析 -> 释放锁
 * @rules 支持 5 段或 6 段(含秒) Cron 表达式及 @every/@hourly 等描述符；上一次未结束时跳过本次
 * @dependencies github.com/robfig/cron/v3
 * @refs service/scheduler/lock.go, service/init.go
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reecal-service/service/config"
)

// ErrNotScheduled 未配置 Cron 表达式
var ErrNotScheduled = errors.New("未配置定时分析")

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job 定时执行的分析
type Job func(ctx context.Context) error

// SchedulerService 调度器服务
type SchedulerService struct {
	spec    string
	lock    Lock
	lockKey string
	lockTTL time.Duration
	job     Job

	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	runCount int
}

// NewSchedulerService 创建调度器服务
func NewSchedulerService(cfg config.ScheduleConfig, lock Lock, job Job) (*SchedulerService, error) {
	if !cfg.Enabled() {
		return nil, ErrNotScheduled
	}
	if _, err := parser.Parse(cfg.Cron); err != nil {
		return nil, fmt.Errorf("Cron表达式无效 %q: %v", cfg.Cron, err)
	}
	if lock == nil {
		lock = NewLocalLock()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		spec:    cfg.Cron,
		lock:    lock,
		lockKey: cfg.LockKey,
		lockTTL: ttl,
		job:     job,
		cron:    cron.New(cron.WithParser(parser)),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动调度器
func (s *SchedulerService) Start() error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunNow(s.ctx); err != nil {
			slog.Error("定时分析失败", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	slog.Info("定时分析调度器已启动", "cron", s.spec, "next", s.Next())
	return nil
}

// Stop 停止调度器并等待执行中的分析结束
func (s *SchedulerService) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("定时分析调度器已停止")
}

// Next 下一次触发时间
func (s *SchedulerService) Next() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// RunNow 获取锁后立即执行一次分析，锁被占用时返回 false
func (s *SchedulerService) RunNow(ctx context.Context) (bool, error) {
	ok, err := s.lock.TryLock(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Info("定时分析已在其他实例或上一轮执行中，跳过", "lock", s.lockKey)
		return false, nil
	}
	defer func() {
		// 释放锁不受分析上下文取消影响
		if err := s.lock.Unlock(context.Background(), s.lockKey); err != nil {
			slog.Warn("释放定时分析锁失败", "error", err)
		}
	}()

	begin := time.Now()
	err = s.job(ctx)

	s.mu.Lock()
	s.lastRun = begin
	s.lastErr = err
	s.runCount++
	s.mu.Unlock()

	slog.Info("定时分析执行完成", "duration", time.Since(begin), "error", err)
	return true, err
}

// Status 调度状态
type Status struct {
	Cron      string    `json:"cron"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	RunCount  int       `json:"run_count"`
}

// Status 返回调度状态
func (s *SchedulerService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Cron: s.spec, Next: s.Next(), LastRun: s.lastRun, RunCount: s.runCount}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
