/*
 * @module service/event/event_service
 * @description 分析事件服务，分析结束后向 Kafka、MQTT、Redis 发布 run.completed 事件
 * @architecture 发布订阅 - 事件服务持有一组发布器，逐个投递，单个失败不影响其余
 * @documentReference DESIGN.md
 * @stateFlow 分析完成 -> 构造事件 -> 序列化 -> 并发投递到各发布器
 * @rules 事件体为 JSON；投递失败只记录日志并汇总返回
 * @dependencies client/connectors, golang.org/x/sync/errgroup, github.com/google/uuid
 * @refs service/event/publisher.go, service/init.go
 */

package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reecal-service/service/models"
)

// 事件类型
const (
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"
)

// Event 分析事件
type Event struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Time            time.Time `json:"time"`
	RunID           string    `json:"run_id"`
	Name            string    `json:"name"`
	DataSourceID    string    `json:"data_source_id"`
	Trigger         string    `json:"trigger"`
	Status          string    `json:"status"`
	Observable      string    `json:"observable"`
	Processed       int       `json:"processed"`
	Skipped         int       `json:"skipped"`
	LOD             float64   `json:"lod,omitempty"`
	LOQ             float64   `json:"loq,omitempty"`
	LimitsDefined   bool      `json:"limits_defined"`
	ExperimentalLOD *float64  `json:"experimental_lod,omitempty"`
	ExperimentalLOQ *float64  `json:"experimental_loq,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// NewRunEvent 由分析记录构造事件，失败的记录生成 run.failed
func NewRunEvent(run *models.AnalysisRun) *Event {
	ev := &Event{
		ID:              uuid.New().String(),
		Type:            TypeRunCompleted,
		Time:            time.Now(),
		RunID:           run.ID,
		Name:            run.Name,
		DataSourceID:    run.DataSourceID,
		Trigger:         run.Trigger,
		Status:          run.Status,
		Observable:      run.Observable,
		Processed:       run.Processed,
		Skipped:         run.Skipped,
		LOD:             run.LOD,
		LOQ:             run.LOQ,
		LimitsDefined:   run.LimitsDefined,
		ExperimentalLOD: run.ExperimentalLOD,
		ExperimentalLOQ: run.ExperimentalLOQ,
		Error:           run.ErrorMessage,
	}
	if run.Status == models.RunStatusFailed {
		ev.Type = TypeRunFailed
	}
	return ev
}

// Publisher 事件投递目标
type Publisher interface {
	Name() string
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// EventService 事件服务
type EventService struct {
	mu         sync.RWMutex
	publishers []Publisher
	timeout    time.Duration
}

// NewEventService 创建事件服务
func NewEventService(publishers ...Publisher) *EventService {
	return &EventService{publishers: publishers, timeout: 10 * time.Second}
}

// AddPublisher 追加发布器
func (s *EventService) AddPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Publishers 已配置的发布器名称
func (s *EventService) Publishers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.publishers))
	for _, p := range s.publishers {
		names = append(names, p.Name())
	}
	return names
}

// Publish 向全部发布器投递事件，返回各发布器错误的汇总
func (s *EventService) Publish(ctx context.Context, ev *Event) error {
	s.mu.RLock()
	pubs := append([]Publisher(nil), s.publishers...)
	s.mu.RUnlock()
	if len(pubs) == 0 {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errs := make([]error, len(pubs))
	var g errgroup.Group
	for i, p := range pubs {
		i, p := i, p
		g.Go(func() error {
			if err := p.Publish(ctx, ev.RunID, payload); err != nil {
				slog.Warn("事件投递失败", "publisher", p.Name(), "event", ev.Type, "run_id", ev.RunID, "error", err)
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
				return nil
			}
			slog.Debug("事件已投递", "publisher", p.Name(), "event", ev.Type, "run_id", ev.RunID)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// PublishRun 发布分析记录对应的事件
func (s *EventService) PublishRun(ctx context.Context, run *models.AnalysisRun) error {
	return s.Publish(ctx, NewRunEvent(run))
}

// Close 关闭全部发布器
func (s *EventService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, p := range s.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	s.publishers = nil
	return errors.Join(errs...)
}
