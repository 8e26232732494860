/*
 * @module service/pipeline/pipeline
 * @description 标定流水线：加载参考样品，并发处理各浓度样品，拟合标定曲线并判定可检出性
 * @architecture 扇出/扇入 - 样品并发加载与积分，汇总后串行拟合和判定
 * @documentReference DESIGN.md
 * @stateFlow 校验配置 -> 加载参考 -> 并发处理样品 -> 拟合 -> 基线 -> 判定 -> 检出限
 * @rules 参考样品不可用或任一窗口净计数不为正时整次分析失败；单个样品失败只记录为跳过
 * @dependencies golang.org/x/sync/errgroup, service/calibration, service/detectability
 * @refs config.go, manifest.go, loader.go
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"reecal-service/service/calibration"
	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/observable"
	"reecal-service/service/peak"
	"reecal-service/service/spectrum"
)

var (
	// ErrReferenceUnavailable 参考样品无法加载
	ErrReferenceUnavailable = errors.New("参考样品不可用")
	// ErrReferenceDegenerate 参考样品某个窗口净计数不为正
	ErrReferenceDegenerate = errors.New("参考样品净计数不为正")
	// ErrNoSamples 样品清单为空
	ErrNoSamples = errors.New("样品清单为空")
)

// 基线来源
const (
	BaselineFromReference = "reference"
	BaselineFromIntercept = "fit_intercept"
)

// Baseline 判定时使用的零浓度观测量
type Baseline struct {
	Value       float64 `json:"value"`
	Uncertainty float64 `json:"uncertainty"`
	Source      string  `json:"source,omitempty"`
	Defined     bool    `json:"defined"`
}

// SampleResult 单个样品的处理结果
type SampleResult struct {
	Sample
	Skipped    bool    `json:"skipped"`
	SkipReason string  `json:"skip_reason,omitempty"`
	Events     float64 `json:"events"`
	NormFactor float64 `json:"norm_factor"`

	// Low/High 为原始净计数，归一化系数在 Q 中约去
	Low  peak.Measurement `json:"low"`
	High peak.Measurement `json:"high"`

	Observables observable.Set   `json:"observables"`
	Primary     observable.Value `json:"primary"`

	Assessment            detectability.Assessment `json:"assessment"`
	NormalizedZ           float64                  `json:"normalized_z"`
	NormalizedZDefined    bool                     `json:"normalized_z_defined"`
	RequiredEventFactor   float64                  `json:"required_event_factor"`
	RequiredFactorDefined bool                     `json:"required_factor_defined"`
	Estimate              calibration.Estimate     `json:"estimate"`

	Diagnostics spectrum.Diagnostics `json:"diagnostics"`
	Fingerprint string               `json:"fingerprint,omitempty"`
}

// Result 一次完整分析的结果
type Result struct {
	Config       Config                           `json:"config"`
	Reference    SampleResult                     `json:"reference"`
	Baseline     Baseline                         `json:"baseline"`
	Samples      []SampleResult                   `json:"samples"`
	Model        *calibration.Model               `json:"model,omitempty"`
	FitError     string                           `json:"fit_error,omitempty"`
	Limits       detectability.Limits             `json:"limits"`
	Experimental detectability.ExperimentalLimits `json:"experimental"`
	Processed    int                              `json:"processed"`
	Skipped      int                              `json:"skipped"`
	StartedAt    time.Time                        `json:"started_at"`
	Duration     time.Duration                    `json:"duration"`
}

// Observer 接收流水线进度，监控指标通过它采集
type Observer interface {
	SampleProcessed(r *SampleResult, elapsed time.Duration)
	RunFinished(r *Result, err error)
}

// Pipeline 一条参数化的标定流水线
type Pipeline struct {
	cfg      Config
	loader   Loader
	observer Observer
}

// Option 流水线选项
type Option func(*Pipeline)

// WithObserver 设置进度观察者
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New 创建流水线，配置无效时返回错误
func New(cfg Config, loader Loader, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, fmt.Errorf("未配置能谱加载器")
	}
	p := &Pipeline{cfg: cfg, loader: loader}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config 返回流水线配置
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Run 便捷入口，等价于 New 后调用 Run
func Run(ctx context.Context, cfg Config, loader Loader, samples []Sample) (*Result, error) {
	p, err := New(cfg, loader)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, samples)
}

// reference 参考样品的只读数据，所有样品共享
type reference struct {
	sample Sample
	spec   *spectrum.Spectrum
	low    peak.Measurement
	high   peak.Measurement
	events float64
}

// Run 执行一次分析
func (p *Pipeline) Run(ctx context.Context, samples []Sample) (res *Result, err error) {
	startedAt := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer.RunFinished(res, err)
		}
	}()

	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	ref, err := p.loadReference(ctx, samples)
	if err != nil {
		return nil, err
	}

	slog.Info("参考样品加载完成",
		"sample", ref.sample.Identifier,
		"events", ref.events,
		"low_net", ref.low.Net,
		"high_net", ref.high.Net)

	results := make([]SampleResult, len(samples))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.concurrency())
	for i := range samples {
		i, s := i, samples[i]
		g.Go(func() error {
			begin := time.Now()
			results[i] = p.processSample(ctx, s, ref)
			if p.observer != nil {
				p.observer.SampleProcessed(&results[i], time.Since(begin))
			}
			return nil
		})
	}
	_ = g.Wait()
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Concentration < results[j].Concentration
	})

	res = &Result{
		Config:    p.cfg,
		Samples:   results,
		StartedAt: startedAt,
	}
	p.assess(res)
	res.Duration = time.Since(startedAt)

	slog.Info("标定分析完成",
		"processed", res.Processed,
		"skipped", res.Skipped,
		"observable", p.cfg.Observable,
		"fit_model", p.cfg.FitModel,
		"lod", res.Limits.LOD,
		"duration", res.Duration)
	return res, nil
}

func (p *Pipeline) loadReference(ctx context.Context, samples []Sample) (*reference, error) {
	s, ok := referenceOf(samples)
	if !ok {
		return nil, fmt.Errorf("%w: 清单中没有 0%% 样品", ErrReferenceUnavailable)
	}
	spec, err := p.loader.Load(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReferenceUnavailable, s.Identifier, err)
	}
	ref := &reference{
		sample: s,
		spec:   spec,
		low:    peak.Integrate(spec, p.cfg.Low.Window),
		high:   peak.Integrate(spec, p.cfg.High.Window),
		events: spec.Entries(),
	}
	if ref.low.Net <= 0 || ref.high.Net <= 0 {
		return nil, fmt.Errorf("%w: %s 净计数 %s=%.1f %s=%.1f",
			ErrReferenceDegenerate, s.Identifier, p.cfg.Low.Name, ref.low.Net, p.cfg.High.Name, ref.high.Net)
	}
	return ref, nil
}

// processSample 加载并积分单个样品，失败时返回跳过记录
func (p *Pipeline) processSample(ctx context.Context, s Sample, ref *reference) SampleResult {
	out := SampleResult{Sample: s, NormFactor: 1}

	spec := ref.spec
	if !s.IsReference {
		var err error
		spec, err = p.loader.Load(ctx, s)
		if err != nil {
			out.Skipped = true
			out.SkipReason = err.Error()
			slog.Warn("样品加载失败，已跳过", "sample", s.Identifier, "concentration", s.Concentration, "error", err)
			return out
		}
	}

	out.Events = spec.Entries()
	out.Diagnostics = spec.Diagnostics()
	out.Fingerprint = spec.Fingerprint
	out.Low = peak.Integrate(spec, p.cfg.Low.Window)
	out.High = peak.Integrate(spec, p.cfg.High.Window)

	low, high := out.Low, out.High
	if p.cfg.Normalization == meta.NormalizationEvents && !s.IsReference && out.Events > 0 {
		out.NormFactor = ref.events / out.Events
		low = low.Normalize(out.NormFactor)
		high = high.Normalize(out.NormFactor)
	}

	if s.IsReference {
		out.Observables = observable.ComputeReference(low, high, p.cfg.RatioFloor)
	} else {
		out.Observables = observable.Compute(low, high, ref.low, ref.high, p.cfg.RatioFloor)
	}
	out.Primary = out.Observables.Select(p.cfg.Observable)

	if !out.Low.Valid || !out.High.Valid {
		slog.Warn("样品窗口净计数不显著",
			"sample", s.Identifier,
			"low_net", out.Low.Net,
			"high_net", out.High.Net)
	}
	slog.Debug("样品处理完成",
		"sample", s.Identifier,
		"concentration", s.Concentration,
		"events", out.Events,
		"observable", p.cfg.Observable,
		"value", out.Primary.Value,
		"defined", out.Primary.Defined)
	return out
}

// assess 汇总阶段：拟合、确定基线、逐样品判定并估算检出限
func (p *Pipeline) assess(res *Result) {
	th := p.cfg.Thresholds

	var points []calibration.Point
	for i := range res.Samples {
		r := &res.Samples[i]
		if r.Skipped {
			res.Skipped++
			continue
		}
		res.Processed++
		if r.IsReference {
			res.Reference = *r
		}
		points = append(points, calibration.Point{
			Label:         r.Label,
			Concentration: r.Concentration,
			Observable:    r.Primary,
		})
	}

	model, err := calibration.Fit(p.cfg.FitModel, points, p.cfg.FitDomain)
	if err != nil {
		res.FitError = err.Error()
		slog.Warn("标定拟合失败", "fit_model", p.cfg.FitModel, "points", len(points), "error", err)
	} else {
		res.Model = model
	}

	res.Baseline = baselineOf(res.Reference.Primary, model)
	refEvents := res.Reference.Events

	var observations []detectability.Observation
	for i := range res.Samples {
		r := &res.Samples[i]
		if r.Skipped {
			continue
		}
		if res.Baseline.Defined {
			r.Assessment = detectability.Classify(r.Primary, res.Baseline.Value, res.Baseline.Uncertainty, th)
			r.NormalizedZ, r.NormalizedZDefined = detectability.NormalizedZ(
				r.Primary, res.Baseline.Value, res.Baseline.Uncertainty, r.Events, refEvents)
		} else {
			r.Assessment = detectability.Assessment{Verdict: detectability.NotDetectable}
		}
		if r.Assessment.Defined && !r.IsReference {
			r.RequiredEventFactor, r.RequiredFactorDefined = detectability.RequiredEventFactor(r.Assessment.Z, th.Detection)
		}
		r.Estimate = model.Invert(r.Primary, r.Concentration)

		if r.Sweep == meta.SweepFine && r.Assessment.Defined {
			observations = append(observations, detectability.Observation{
				Concentration: r.Concentration,
				Verdict:       r.Assessment.Verdict,
			})
		}
	}
	res.Experimental = detectability.FindExperimentalLimits(observations)

	if model != nil {
		blank := res.Baseline.Uncertainty
		if blank <= 0 {
			blank = model.Sigma[0]
		}
		res.Limits = detectability.EstimateLimits(model.Sensitivity(), blank, th)
	}
}

// baselineOf 优先使用参考样品的观测量，未定义时退回拟合截距
func baselineOf(refObs observable.Value, model *calibration.Model) Baseline {
	if refObs.Defined && !math.IsNaN(refObs.Value) && !math.IsInf(refObs.Value, 0) {
		return Baseline{
			Value:       refObs.Value,
			Uncertainty: refObs.Uncertainty,
			Source:      BaselineFromReference,
			Defined:     true,
		}
	}
	if model != nil {
		v, u := model.Intercept()
		return Baseline{Value: v, Uncertainty: u, Source: BaselineFromIntercept, Defined: true}
	}
	return Baseline{}
}
