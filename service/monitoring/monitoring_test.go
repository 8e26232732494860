package monitoring

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/calibration"
	"reecal-service/service/datasource"
	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/pipeline"
	"reecal-service/testutil"
)

func finishedRun() *pipeline.Result {
	return &pipeline.Result{
		Samples: []pipeline.SampleResult{
			{Sample: pipeline.Sample{Concentration: 0, IsReference: true}, Assessment: detectability.Assessment{Defined: true, Verdict: detectability.NotDetectable}},
			{Sample: pipeline.Sample{Concentration: 2}, Assessment: detectability.Assessment{Z: -5.5, Defined: true, Verdict: detectability.Detectable}},
			{Sample: pipeline.Sample{Concentration: 4}, Assessment: detectability.Assessment{Z: -10.3, Defined: true, Verdict: detectability.Quantifiable}},
			{Sample: pipeline.Sample{Concentration: 5}, Assessment: detectability.Assessment{Z: -12.5, Defined: true, Verdict: detectability.Quantifiable}},
			{Sample: pipeline.Sample{Concentration: 6}, Skipped: true},
		},
		Model:        &calibration.Model{Kind: meta.FitModelLinear, ChiSquare: 3, NDF: 2},
		Limits:       detectability.Limits{LOD: 0.93, LOQ: 3.1, Defined: true},
		Experimental: detectability.ExperimentalLimits{LOD: 2, LODFound: true},
		Duration:     2 * time.Second,
	}
}

func TestMetricsSampleProcessed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tests := []struct {
		name    string
		sample  pipeline.SampleResult
		sweep   string
		outcome string
	}{
		{name: "细扫处理", sample: pipeline.SampleResult{Sample: pipeline.Sample{Sweep: meta.SweepFine}}, sweep: meta.SweepFine, outcome: "processed"},
		{name: "粗扫跳过", sample: pipeline.SampleResult{Sample: pipeline.Sample{Sweep: meta.SweepCoarse}, Skipped: true}, sweep: meta.SweepCoarse, outcome: "skipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := promtest.ToFloat64(m.samples.WithLabelValues(tt.sweep, tt.outcome))
			m.SampleProcessed(&tt.sample, 5*time.Millisecond)
			assert.Equal(t, before+1, promtest.ToFloat64(m.samples.WithLabelValues(tt.sweep, tt.outcome)))
		})
	}
	assert.Equal(t, 1, promtest.CollectAndCount(m.sampleDuration))
}

func TestMetricsRunFinished(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunFinished(finishedRun(), nil)
	m.RunFinished(nil, errors.New("参考样品不可用"))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.runs.WithLabelValues("failed")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.verdicts.WithLabelValues(string(detectability.Quantifiable))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.verdicts.WithLabelValues(string(detectability.Detectable))))
	assert.Equal(t, 0.93, promtest.ToFloat64(m.lod.WithLabelValues("estimated")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.lod.WithLabelValues("experimental")))
	assert.Equal(t, 1.5, promtest.ToFloat64(m.reducedChi2))
	// 未找到实验 LOQ 时不写入
	assert.Equal(t, 1, promtest.CollectAndCount(m.loq))
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RunFinished(finishedRun(), nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		require.NoError(t, enc.Encode(mf))
	}

	var parser expfmt.TextParser
	parsed, err := parser.TextToMetricFamilies(&buf)
	require.NoError(t, err)

	for _, name := range []string{"reecal_runs_total", "reecal_run_duration_seconds", "reecal_last_lod_percent", "reecal_verdicts_total"} {
		assert.Contains(t, parsed, name)
	}
	hist := parsed["reecal_run_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.Equal(t, 2.0, hist.GetSampleSum())
}

func TestHealthChecker(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	mgr := datasource.NewDataSourceRegistry().GetManager()
	ctx := context.Background()
	require.NoError(t, mgr.Register(ctx, &datasource.Config{ID: "mem", Type: meta.DataSourceTypeMemory}))

	tests := []struct {
		name    string
		setup   func()
		overall string
		ready   bool
	}{
		{name: "全部正常", setup: func() {}, overall: StatusHealthy, ready: true},
		{
			name: "文件数据源未启动",
			setup: func() {
				require.NoError(t, mgr.Register(ctx, &datasource.Config{
					ID: "local", Type: meta.DataSourceTypeFileCSV,
					Connection: map[string]interface{}{"base_dir": t.TempDir()},
				}))
			},
			overall: StatusWarning,
			ready:   true,
		},
		{name: "结果库不可用", setup: func() { tdb.Close() }, overall: StatusCritical, ready: false},
	}

	checker := NewHealthChecker(tdb.DB, mgr)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			status := checker.Check(ctx)
			assert.Equal(t, tt.overall, status.Overall)
			assert.Equal(t, tt.ready, status.Ready())
			assert.Same(t, status, checker.Last())
		})
	}
}
