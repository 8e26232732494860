package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/observable"
	"reecal-service/service/peak"
	"reecal-service/service/spectrum"
	"reecal-service/testutil"
)

// 低能峰随浓度按 exp(-0.1C) 衰减，高能峰不变
func attenuatedSpectrum(c float64) *spectrum.Spectrum {
	return testutil.SyntheticSpectrum{
		Binning:    spectrum.DefaultBinning(),
		Background: 1000,
		Peaks: []testutil.SyntheticPeak{
			{Center: 122, Sigma: 1.5, Area: 10000 * math.Exp(-0.1*c)},
			{Center: 779, Sigma: 2.5, Area: 16000},
		},
	}.Build()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Low.Window = peak.Window{Center: 122, HalfWidth: 6}
	cfg.High.Window = peak.Window{Center: 779, HalfWidth: 10}
	return cfg
}

func scanSamples(sweep string, cs ...float64) []Sample {
	samples := make([]Sample, 0, len(cs))
	for _, c := range cs {
		samples = append(samples, Sample{
			Label:         fmt.Sprintf("%.2f%%", c),
			Identifier:    fmt.Sprintf("sample_%g", c),
			Concentration: c,
			Sweep:         sweep,
			IsReference:   c == 0,
		})
	}
	return samples
}

func syntheticLoader(failing ...string) LoaderFunc {
	fail := make(map[string]bool)
	for _, id := range failing {
		fail[id] = true
	}
	return func(_ context.Context, s Sample) (*spectrum.Spectrum, error) {
		if fail[s.Identifier] {
			return nil, fmt.Errorf("%w: %s", spectrum.ErrDataSourceUnavailable, s.Identifier)
		}
		return attenuatedSpectrum(s.Concentration), nil
	}
}

func TestRunEndToEnd(t *testing.T) {
	res, err := Run(context.Background(), testConfig(), syntheticLoader(), scanSamples(meta.SweepFine, 3, 0, 1, 5, 2, 4))
	require.NoError(t, err)

	require.Len(t, res.Samples, 6)
	assert.Equal(t, 6, res.Processed)
	assert.Equal(t, 0, res.Skipped)

	want := []struct {
		c       float64
		z       float64
		verdict detectability.Verdict
	}{
		{0, 0, detectability.NotDetectable},
		{1, -2.84, detectability.NotDetectable},
		{2, -5.52, detectability.Detectable},
		{3, -8.02, detectability.Detectable},
		{4, -10.34, detectability.Quantifiable},
		{5, -12.51, detectability.Quantifiable},
	}
	for i, w := range want {
		r := res.Samples[i]
		assert.Equal(t, w.c, r.Concentration)
		assert.True(t, r.Assessment.Defined, r.Label)
		assert.InDelta(t, w.z, r.Assessment.Z, 0.02, r.Label)
		assert.Equal(t, w.verdict, r.Assessment.Verdict, r.Label)
	}

	assert.Equal(t, BaselineFromReference, res.Baseline.Source)
	assert.InDelta(t, 0.625, res.Baseline.Value, 1e-9)
	assert.True(t, res.Reference.IsReference)
	assert.InDelta(t, 1.0, res.Reference.Observables.TLow.Value, 1e-12)
	assert.Equal(t, 0.0, res.Reference.Observables.TLow.Uncertainty)
	assert.Greater(t, res.Samples[1].Observables.TLow.Uncertainty, 0.0)

	require.NotNil(t, res.Model)
	assert.Empty(t, res.FitError)
	assert.Less(t, res.Model.Theta[1], 0.0)
	assert.True(t, res.Limits.Defined)
	assert.InDelta(t, 3*res.Baseline.Uncertainty/res.Model.Sensitivity(), res.Limits.LOD, 1e-12)

	assert.Equal(t, detectability.ExperimentalLimits{LOD: 2, LODFound: true, LOQ: 4, LOQFound: true}, res.Experimental)

	one := res.Samples[1]
	assert.True(t, one.RequiredFactorDefined)
	assert.InDelta(t, math.Pow(3/2.84, 2), one.RequiredEventFactor, 0.02)
	assert.True(t, one.Estimate.Defined)
	assert.InDelta(t, 1.0, one.Estimate.Concentration, 0.2)
	assert.False(t, res.Samples[0].RequiredFactorDefined)
}

func TestRunExperimentalLimitsOnlyFromFineSweep(t *testing.T) {
	samples := append(scanSamples(meta.SweepFine, 0, 1), scanSamples(meta.SweepCoarse, 2, 3, 4, 5)...)
	res, err := Run(context.Background(), testConfig(), syntheticLoader(), samples)
	require.NoError(t, err)

	assert.False(t, res.Experimental.LODFound)
	assert.False(t, res.Experimental.LOQFound)
}

func TestRunEventNormalization(t *testing.T) {
	samples := scanSamples(meta.SweepFine, 0, 1, 2, 3)
	raw, err := Run(context.Background(), testConfig(), syntheticLoader(), samples)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Normalization = meta.NormalizationEvents
	norm, err := Run(context.Background(), cfg, syntheticLoader(), samples)
	require.NoError(t, err)

	for i := range samples {
		r, n := raw.Samples[i], norm.Samples[i]
		// 归一化系数在 Q 中约去
		assert.Equal(t, r.Observables.Q, n.Observables.Q)
		assert.Equal(t, observable.CountRatio(n.Low, n.High), n.Observables.Q)
		assert.InDelta(t, r.Events/n.Events, 1.0, 1e-12)
		if n.IsReference {
			assert.Equal(t, 1.0, n.NormFactor)
			continue
		}
		assert.InDelta(t, norm.Reference.Events/n.Events, n.NormFactor, 1e-12)
		assert.Greater(t, n.NormFactor, 1.0)
		assert.InDelta(t, n.Low.Net*n.NormFactor/norm.Reference.Low.Net, n.Observables.TLow.Value, 1e-12)
	}
}

func TestRunSkipsFailedSample(t *testing.T) {
	res, err := Run(context.Background(), testConfig(), syntheticLoader("sample_3"), scanSamples(meta.SweepFine, 0, 1, 2, 3, 4, 5))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	skipped := res.Samples[3]
	assert.True(t, skipped.Skipped)
	assert.Contains(t, skipped.SkipReason, "sample_3")
	assert.False(t, skipped.Assessment.Defined)
	require.NotNil(t, res.Model)
	assert.Equal(t, 5, res.Model.PointsUsed)
}

type valuesSource map[string][]float64

func (v valuesSource) Open(_ context.Context, _ string) (spectrum.DatasetHandle, error) {
	return v, nil
}

func (v valuesSource) ReadValues(_ context.Context, column string) ([]float64, error) {
	return v[column], nil
}

func (v valuesSource) Close() error { return nil }

func TestRunNonFiniteEnergies(t *testing.T) {
	broken := valuesSource{"Energy": {0.122, math.NaN(), 0.779}}
	loader := func(target string) LoaderFunc {
		return func(ctx context.Context, s Sample) (*spectrum.Spectrum, error) {
			if s.Identifier == target {
				return spectrum.LoadSpectrum(ctx, broken, s.Identifier, "Energy", spectrum.DefaultBinning(), meta.UnitMeV)
			}
			return attenuatedSpectrum(s.Concentration), nil
		}
	}

	t.Run("样品含NaN时跳过", func(t *testing.T) {
		var res *Result
		var err error
		require.NotPanics(t, func() {
			res, err = Run(context.Background(), testConfig(), loader("sample_2"), scanSamples(meta.SweepFine, 0, 1, 2, 3, 4, 5))
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)
		assert.True(t, res.Samples[2].Skipped)
		assert.Contains(t, res.Samples[2].SkipReason, spectrum.ErrDataSourceUnavailable.Error())
	})
	t.Run("参考含NaN时分析失败", func(t *testing.T) {
		_, err := Run(context.Background(), testConfig(), loader("sample_0"), scanSamples(meta.SweepFine, 0, 1, 2))
		assert.ErrorIs(t, err, ErrReferenceUnavailable)
		assert.ErrorIs(t, err, spectrum.ErrDataSourceUnavailable)
	})
}

func TestRunReferenceFailures(t *testing.T) {
	flat := func(_ context.Context, s Sample) (*spectrum.Spectrum, error) {
		if s.IsReference {
			return testutil.SyntheticSpectrum{Binning: spectrum.DefaultBinning(), Background: 500}.Build(), nil
		}
		return attenuatedSpectrum(s.Concentration), nil
	}

	tests := []struct {
		name    string
		loader  Loader
		samples []Sample
		wantErr error
	}{
		{
			name:    "参考样品加载失败",
			loader:  syntheticLoader("sample_0"),
			samples: scanSamples(meta.SweepFine, 0, 1, 2),
			wantErr: ErrReferenceUnavailable,
		},
		{
			name:    "清单中没有参考样品",
			loader:  syntheticLoader(),
			samples: scanSamples(meta.SweepFine, 1, 2, 3),
			wantErr: ErrReferenceUnavailable,
		},
		{
			name:    "参考样品没有峰",
			loader:  LoaderFunc(flat),
			samples: scanSamples(meta.SweepFine, 0, 1, 2),
			wantErr: ErrReferenceDegenerate,
		},
		{
			name:    "空清单",
			loader:  syntheticLoader(),
			samples: nil,
			wantErr: ErrNoSamples,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), testConfig(), tt.loader, tt.samples)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunReferenceErrorKeepsCause(t *testing.T) {
	_, err := Run(context.Background(), testConfig(), syntheticLoader("sample_0"), scanSamples(meta.SweepFine, 0, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, spectrum.ErrDataSourceUnavailable))
	assert.Contains(t, err.Error(), "sample_0")
}

func TestRunInsufficientPoints(t *testing.T) {
	res, err := Run(context.Background(), testConfig(), syntheticLoader(), scanSamples(meta.SweepFine, 0, 1))
	require.NoError(t, err)

	assert.Nil(t, res.Model)
	assert.NotEmpty(t, res.FitError)
	assert.False(t, res.Limits.Defined)
	// 参考样品可用时仍然可以判定
	assert.True(t, res.Samples[1].Assessment.Defined)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loader := LoaderFunc(func(ctx context.Context, s Sample) (*spectrum.Spectrum, error) {
		if !s.IsReference {
			cancel()
			return nil, ctx.Err()
		}
		return attenuatedSpectrum(0), nil
	})
	_, err := Run(ctx, testConfig(), loader, scanSamples(meta.SweepFine, 0, 1, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	mu      sync.Mutex
	samples int
	runs    int
	lastErr error
}

func (o *recordingObserver) SampleProcessed(_ *SampleResult, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples++
}

func (o *recordingObserver) RunFinished(_ *Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	o.lastErr = err
}

func TestPipelineObserver(t *testing.T) {
	obs := &recordingObserver{}
	p, err := New(testConfig(), syntheticLoader(), WithObserver(obs))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), scanSamples(meta.SweepFine, 0, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, obs.samples)
	assert.Equal(t, 1, obs.runs)
	assert.NoError(t, obs.lastErr)

	_, err = p.Run(context.Background(), scanSamples(meta.SweepFine, 1, 2))
	assert.Error(t, err)
	assert.Equal(t, 2, obs.runs)
	assert.ErrorIs(t, obs.lastErr, ErrReferenceUnavailable)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Observable = "X"
	_, err := New(cfg, syntheticLoader())
	assert.Error(t, err)

	_, err = New(testConfig(), nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "默认配置", mutate: func(c *Config) {}},
		{name: "低能窗口高于高能窗口", mutate: func(c *Config) { c.Low, c.High = c.High, c.Low }, wantErr: true},
		{name: "窗口超出能谱范围", mutate: func(c *Config) { c.High.Window.Center = 2000 }, wantErr: true},
		{name: "半宽为零", mutate: func(c *Config) { c.Low.Window.HalfWidth = 0 }, wantErr: true},
		{name: "未知拟合模型", mutate: func(c *Config) { c.FitModel = "cubic" }, wantErr: true},
		{name: "未知归一化方式", mutate: func(c *Config) { c.Normalization = "live_time" }, wantErr: true},
		{name: "未知单位", mutate: func(c *Config) { c.Unit = "eV" }, wantErr: true},
		{name: "单位留空由数据源声明", mutate: func(c *Config) { c.Unit = "" }},
		{name: "拟合区间颠倒", mutate: func(c *Config) { c.FitDomain.Min, c.FitDomain.Max = 5, 1 }, wantErr: true},
		{name: "定量阈值低于检出阈值", mutate: func(c *Config) { c.Thresholds.Quantification = 2 }, wantErr: true},
		{name: "分道无效", mutate: func(c *Config) { c.Binning.Bins = 0 }, wantErr: true},
		{name: "指数模型与比值观测量", mutate: func(c *Config) {
			c.FitModel = meta.FitModelExponential
			c.Observable = meta.ObservableRatio
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithHighLine(t *testing.T) {
	cfg, err := DefaultConfig().WithHighLine(1408)
	require.NoError(t, err)
	assert.Equal(t, 1408.01, cfg.High.Window.Center)
	assert.Equal(t, 25.0, cfg.High.Window.HalfWidth)
	assert.NoError(t, cfg.Validate())

	_, err = DefaultConfig().WithHighLine(1000)
	assert.Error(t, err)
}

func TestParseConcentration(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    float64
		wantErr bool
	}{
		{name: "参考样品", id: "Eu152_REE_0p00", want: 0},
		{name: "质量分数 0.002", id: "Eu152_REE_0p002", want: 0.2},
		{name: "质量分数 0.01", id: "Eu152_REE_0p01", want: 1},
		{name: "质量分数 0.05", id: "Eu152_REE_0p05", want: 5},
		{name: "带扩展名", id: "Eu152_REE_0p004.csv", want: 0.4},
		{name: "整数百分比", id: "Am241_3_REE", want: 3},
		{name: "没有浓度标记", id: "background_run", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConcentration(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDiscoverSamples(t *testing.T) {
	samples, ignored, err := DiscoverSamples([]string{"Eu152_REE_0p02", "notes", "Eu152_REE_0p00", "Eu152_REE_0p01"})
	require.NoError(t, err)

	assert.Equal(t, []string{"notes"}, ignored)
	require.Len(t, samples, 3)
	assert.Equal(t, Sample{Label: "0.00%", Identifier: "Eu152_REE_0p00", Concentration: 0, Sweep: meta.SweepFine, IsReference: true}, samples[0])
	assert.Equal(t, meta.SweepFine, samples[1].Sweep)
	assert.Equal(t, meta.SweepCoarse, samples[2].Sweep)
	assert.Equal(t, "2.00%", samples[2].Label)

	_, _, err = DiscoverSamples([]string{"a_0p01", "b_1"})
	assert.Error(t, err)
}

func TestDefaultEu152Manifest(t *testing.T) {
	samples := DefaultEu152Manifest()
	require.Len(t, samples, 10)
	assert.True(t, samples[0].IsReference)
	assert.Equal(t, 5.0, samples[9].Concentration)

	fine := 0
	for _, s := range samples {
		if s.Sweep == meta.SweepFine {
			fine++
		}
	}
	assert.Equal(t, 6, fine)
}

func TestNewSourceLoader(t *testing.T) {
	cfg := DefaultConfig()

	l, err := NewSourceLoader(nil, cfg, meta.UnitKeV)
	require.NoError(t, err)
	assert.Equal(t, meta.UnitKeV, l.Unit)

	l, err = NewSourceLoader(nil, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, meta.UnitMeV, l.Unit)

	cfg.Unit = ""
	_, err = NewSourceLoader(nil, cfg, "")
	assert.ErrorIs(t, err, spectrum.ErrUnknownUnit)
}
