/*
 * @module service/monitoring/metrics
 * @description 分析流水线的 Prometheus 指标：样品处理数、跳过数、运行耗时、判定分布、最近一次 LOD/LOQ
 * @architecture 观察者模式 - 实现 pipeline.Observer，由流水线在样品和运行结束时回调
 * @documentReference DESIGN.md
 * @stateFlow 样品处理完成 -> 计数/耗时；运行结束 -> 状态计数/判定分布/检出限
 * @rules 指标注册到调用方提供的 Registerer，便于测试隔离
 * @dependencies github.com/prometheus/client_golang
 * @refs service/pipeline/pipeline.go, main.go
 */

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"reecal-service/service/pipeline"
)

const namespace = "reecal"

// Metrics 流水线指标
type Metrics struct {
	samples        *prometheus.CounterVec
	sampleDuration prometheus.Histogram
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	verdicts       *prometheus.CounterVec
	lod            *prometheus.GaugeVec
	loq            *prometheus.GaugeVec
	reducedChi2    prometheus.Gauge
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "按扫描类型和结果统计的样品数",
		}, []string{"sweep", "outcome"}),
		sampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "单个样品加载和积分耗时",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "分析运行次数",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "分析运行耗时",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "样品可检测性判定分布",
		}, []string{"verdict"}),
		lod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_lod_percent",
			Help:      "最近一次成功运行的检出限(%)",
		}, []string{"kind"}),
		loq: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_loq_percent",
			Help:      "最近一次成功运行的定量限(%)",
		}, []string{"kind"}),
		reducedChi2: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fit_reduced_chi_square",
			Help:      "最近一次标定拟合的 χ²/ndf",
		}),
	}
	reg.MustRegister(m.samples, m.sampleDuration, m.runs, m.runDuration, m.verdicts, m.lod, m.loq, m.reducedChi2)
	return m
}

// SampleProcessed 实现 pipeline.Observer
func (m *Metrics) SampleProcessed(r *pipeline.SampleResult, elapsed time.Duration) {
	outcome := "processed"
	if r.Skipped {
		outcome = "skipped"
	}
	m.samples.WithLabelValues(r.Sweep, outcome).Inc()
	m.sampleDuration.Observe(elapsed.Seconds())
}

// RunFinished 实现 pipeline.Observer
func (m *Metrics) RunFinished(r *pipeline.Result, err error) {
	if err != nil || r == nil {
		m.runs.WithLabelValues("failed").Inc()
		return
	}
	m.runs.WithLabelValues("success").Inc()
	m.runDuration.Observe(r.Duration.Seconds())

	for _, s := range r.Samples {
		if s.Skipped || !s.Assessment.Defined {
			continue
		}
		m.verdicts.WithLabelValues(string(s.Assessment.Verdict)).Inc()
	}

	if r.Limits.Defined {
		m.lod.WithLabelValues("estimated").Set(r.Limits.LOD)
		m.loq.WithLabelValues("estimated").Set(r.Limits.LOQ)
	}
	if r.Experimental.LODFound {
		m.lod.WithLabelValues("experimental").Set(r.Experimental.LOD)
	}
	if r.Experimental.LOQFound {
		m.loq.WithLabelValues("experimental").Set(r.Experimental.LOQ)
	}
	if r.Model != nil && r.Model.NDF > 0 {
		m.reducedChi2.Set(r.Model.ChiSquare / float64(r.Model.NDF))
	}
}
