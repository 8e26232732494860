/*
 * @module service/analysis/analysis_service
 * @description 分析服务：解析请求、发现样品、执行流水线、持久化结果并发布事件
 * @architecture 分层架构 - 业务服务层，连接数据源管理器、流水线、仓储和事件服务
 * @documentReference DESIGN.md
 * @stateFlow 请求 -> 配置与样品清单 -> 创建记录(pending) -> running -> success/failed -> 事件
 * @rules 请求参数错误在创建记录前返回；执行失败写入记录的错误信息；事件发布失败不影响分析结果
 * @dependencies service/pipeline, service/storage, service/datasource, service/event
 * @refs api/controllers/analysis_controller.go, service/scheduler
 */

package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reecal-service/service/config"
	"reecal-service/service/datasource"
	"reecal-service/service/event"
	"reecal-service/service/models"
	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
	"reecal-service/service/storage"
)

// ErrInvalidRequest 分析请求参数错误
var ErrInvalidRequest = errors.New("分析请求无效")

// Request 分析请求，空字段使用服务配置
type Request struct {
	Name          string            `json:"name" example:"Eu152 扫描"`
	DataSourceID  string            `json:"data_source_id,omitempty" example:"local"`
	HighLine      int               `json:"high_line,omitempty" example:"1408"`
	Observable    string            `json:"observable,omitempty" example:"Q"`
	FitModel      string            `json:"fit_model,omitempty" example:"linear"`
	Normalization string            `json:"normalization,omitempty" example:"events"`
	Samples       []pipeline.Sample `json:"samples,omitempty"`
}

// Service 分析服务
type Service struct {
	repo     *storage.RunRepository
	sources  *datasource.Manager
	events   *event.EventService
	observer pipeline.Observer
	base     config.AnalysisConfig

	wg sync.WaitGroup
}

// NewService 创建分析服务，events 和 observer 可为空
func NewService(repo *storage.RunRepository, sources *datasource.Manager, events *event.EventService, observer pipeline.Observer, base config.AnalysisConfig) *Service {
	return &Service{repo: repo, sources: sources, events: events, observer: observer, base: base}
}

// plan 一次分析的全部输入
type plan struct {
	dataSourceID string
	cfg          pipeline.Config
	loader       pipeline.Loader
	samples      []pipeline.Sample
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// prepare 解析请求，生成流水线配置、加载器和样品清单
func (s *Service) prepare(ctx context.Context, req Request) (*plan, error) {
	cfg, err := s.base.PipelineConfig()
	if err != nil {
		return nil, invalid("%v", err)
	}
	if req.HighLine != 0 {
		if cfg, err = cfg.WithHighLine(req.HighLine); err != nil {
			return nil, invalid("%v", err)
		}
	}
	if req.Observable != "" {
		cfg.Observable = strings.ToUpper(req.Observable)
	}
	if req.FitModel != "" {
		cfg.FitModel = req.FitModel
	}
	if req.Normalization != "" {
		cfg.Normalization = req.Normalization
	}
	if err := cfg.Validate(); err != nil {
		return nil, invalid("%v", err)
	}

	dsID := req.DataSourceID
	if dsID == "" {
		dsID = s.base.DataSourceID
	}
	ds, err := s.sources.Get(dsID)
	if err != nil {
		return nil, invalid("%v", err)
	}
	source, err := s.sources.Source(dsID)
	if err != nil {
		return nil, invalid("%v", err)
	}
	loader, err := pipeline.NewSourceLoader(source, cfg, ds.Unit())
	if err != nil {
		return nil, invalid("%v", err)
	}

	samples := req.Samples
	if len(samples) == 0 {
		samples, err = discover(ctx, source)
		if err != nil {
			return nil, err
		}
	}
	return &plan{dataSourceID: dsID, cfg: cfg, loader: loader, samples: samples}, nil
}

func discover(ctx context.Context, source spectrum.DatasetSource) ([]pipeline.Sample, error) {
	lister, ok := source.(datasource.Lister)
	if !ok {
		return nil, invalid("数据源不支持列举数据集，请在请求中提供样品清单")
	}
	ids, err := lister.ListDatasets(ctx)
	if err != nil {
		return nil, invalid("%v", err)
	}
	samples, ignored, err := pipeline.DiscoverSamples(ids)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if len(ignored) > 0 {
		slog.Warn("数据集名中没有浓度标记，已忽略", "datasets", ignored)
	}
	if len(samples) == 0 {
		return nil, invalid("数据源中没有可识别浓度的数据集")
	}
	return samples, nil
}

func (s *Service) create(ctx context.Context, req Request, trigger string, p *plan) (*models.AnalysisRun, error) {
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", p.dataSourceID, time.Now().Format("2006-01-02 15:04:05"))
	}
	run, err := storage.NewRun(name, trigger, p.dataSourceID, p.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Run 同步执行分析，返回已保存的分析记录
// 分析本身失败时记录状态为 failed，同时返回错误
func (s *Service) Run(ctx context.Context, req Request, trigger string) (*models.AnalysisRun, *pipeline.Result, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	run, err := s.create(ctx, req, trigger, p)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.execute(ctx, run, p)
	return run, res, err
}

// Submit 创建分析记录后在后台执行，立即返回 pending 状态的记录
func (s *Service) Submit(ctx context.Context, req Request, trigger string) (*models.AnalysisRun, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	run, err := s.create(ctx, req, trigger, p)
	if err != nil {
		return nil, err
	}
	queued := *run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(context.Background(), run, p); err != nil {
			slog.Error("后台分析失败", "run_id", run.ID, "error", err)
		}
	}()
	return &queued, nil
}

// Wait 等待后台分析结束
func (s *Service) Wait() {
	s.wg.Wait()
}

// RunScheduled 供调度器调用，使用服务配置分析默认数据源
func (s *Service) RunScheduled(ctx context.Context) error {
	_, _, err := s.Run(ctx, Request{}, models.TriggerSchedule)
	return err
}

func (s *Service) execute(ctx context.Context, run *models.AnalysisRun, p *plan) (*pipeline.Result, error) {
	// 记录在请求上下文取消后仍需落库
	store := context.WithoutCancel(ctx)

	if err := s.repo.MarkRunning(store, run.ID); err != nil {
		return nil, err
	}
	now := time.Now()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	slog.Info("分析开始", "run_id", run.ID, "data_source", p.dataSourceID, "samples", len(p.samples))

	var opts []pipeline.Option
	if s.observer != nil {
		opts = append(opts, pipeline.WithObserver(s.observer))
	}
	res, err := s.runPipeline(ctx, p, opts)
	if err != nil {
		if ferr := s.repo.Fail(store, run, err); ferr != nil {
			slog.Error("保存失败状态失败", "run_id", run.ID, "error", ferr)
		}
		slog.Error("分析失败", "run_id", run.ID, "error", err)
		s.publish(store, run)
		return nil, err
	}

	if err := s.repo.Complete(store, run, res); err != nil {
		return res, err
	}
	slog.Info("分析完成", "run_id", run.ID, "processed", res.Processed, "skipped", res.Skipped, "lod", res.Limits.LOD)
	s.publish(store, run)
	return res, nil
}

func (s *Service) runPipeline(ctx context.Context, p *plan, opts []pipeline.Option) (*pipeline.Result, error) {
	pl, err := pipeline.New(p.cfg, p.loader, opts...)
	if err != nil {
		return nil, err
	}
	return pl.Run(ctx, p.samples)
}

func (s *Service) publish(ctx context.Context, run *models.AnalysisRun) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRun(ctx, run); err != nil {
		slog.Warn("分析事件发布失败", "run_id", run.ID, "error", err)
	}
}

// Get 获取分析记录
func (s *Service) Get(ctx context.Context, id string) (*models.AnalysisRun, error) {
	return s.repo.Get(ctx, id)
}

// List 分页查询分析记录
func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]models.AnalysisRun, int64, error) {
	return s.repo.List(ctx, opts)
}

// Delete 删除分析记录
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
