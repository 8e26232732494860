package detectability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/observable"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		obs     observable.Value
		want    Verdict
		wantZ   float64
		defined bool
	}{
		{"与参考相同", observable.Of(0.5, 0.01), NotDetectable, 0, true},
		{"两个半σ", observable.Of(0.5-0.025*math.Sqrt2, 0.01), NotDetectable, -2.5, true},
		{"五σ", observable.Of(0.5-0.05*math.Sqrt2, 0.01), Detectable, -5, true},
		{"十二σ", observable.Of(0.5+0.12*math.Sqrt2, 0.01), Quantifiable, 12, true},
		{"未定义", observable.Undefined("x"), NotDetectable, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Classify(tt.obs, 0.5, 0.01, th)
			assert.Equal(t, tt.defined, a.Defined)
			assert.InDelta(t, tt.wantZ, a.Z, 1e-6)
			assert.Equal(t, tt.want, a.Verdict)
		})
	}
}

func TestVerdictBoundaries(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, NotDetectable, VerdictFor(3, th))
	assert.Equal(t, Detectable, VerdictFor(-3.0001, th))
	assert.Equal(t, Detectable, VerdictFor(10, th))
	assert.Equal(t, Quantifiable, VerdictFor(10.0001, th))
}

func TestZScoreZeroUncertainty(t *testing.T) {
	z, ok := ZScore(observable.Value{Value: 1, Defined: true}, 1, 0)
	assert.True(t, ok)
	assert.Equal(t, 0.0, z)

	_, ok = ZScore(observable.Value{Value: 1.1, Defined: true}, 1, 0)
	assert.False(t, ok)
}

func TestEstimateLimits(t *testing.T) {
	l := EstimateLimits(-0.02, 0.004, DefaultThresholds())
	require.True(t, l.Defined)
	assert.InDelta(t, 0.2, l.Precision, 1e-12)
	assert.InDelta(t, 0.6, l.LOD, 1e-12)
	assert.InDelta(t, 2.0, l.LOQ, 1e-12)

	assert.False(t, EstimateLimits(0, 0.004, DefaultThresholds()).Defined)
	assert.False(t, EstimateLimits(math.NaN(), 0.004, DefaultThresholds()).Defined)
}

func TestEventScaling(t *testing.T) {
	l := EstimateLimits(0.05, 0.01, DefaultThresholds())

	for _, k := range []float64{1, 2, 3.5, 10} {
		factor := EventFactorForImprovement(k)
		assert.InDelta(t, k*k, factor, 1e-12)
		scaled := l.Scaled(factor)
		assert.InDelta(t, l.LOD/k, scaled.LOD, 1e-12)
		assert.InDelta(t, l.LOQ/k, scaled.LOQ, 1e-12)
	}

	assert.False(t, l.Scaled(0).Defined)
	assert.InDelta(t, 6.0, ZAfterScaling(3, 4), 1e-12)
}

func TestRequiredEventFactor(t *testing.T) {
	tests := []struct {
		name   string
		z      float64
		want   float64
		wantOK bool
	}{
		{"一点五σ需要四倍", 1.5, 4, true},
		{"负Z取绝对值", -1, 9, true},
		{"已超过目标", 6, 0.25, true},
		{"Z过小", 0.05, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RequiredEventFactor(tt.z, 3)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
			if ok {
				assert.InDelta(t, 3.0, math.Abs(ZAfterScaling(tt.z, got)), 1e-12)
			}
		})
	}
}

func TestNormalizedZ(t *testing.T) {
	obs := observable.Of(0.45, 0.01)
	raw, ok := ZScore(obs, 0.5, 0.01)
	require.True(t, ok)

	same, ok := NormalizedZ(obs, 0.5, 0.01, 1000, 1000)
	require.True(t, ok)
	assert.Equal(t, raw, same)

	// 样品事件数是参考的四倍，换算后误差加倍
	z, ok := NormalizedZ(obs, 0.5, 0.01, 4000, 1000)
	require.True(t, ok)
	assert.InDelta(t, -0.05/math.Hypot(0.02, 0.01), z, 1e-12)

	_, ok = NormalizedZ(obs, 0.5, 0.01, 0, 1000)
	assert.False(t, ok)
}

func TestFindExperimentalLimits(t *testing.T) {
	got := FindExperimentalLimits([]Observation{
		{Concentration: 0, Verdict: NotDetectable},
		{Concentration: 0.8, Verdict: Quantifiable},
		{Concentration: 0.2, Verdict: NotDetectable},
		{Concentration: 0.4, Verdict: Detectable},
		{Concentration: 0.6, Verdict: Detectable},
	})
	assert.Equal(t, ExperimentalLimits{LOD: 0.4, LODFound: true, LOQ: 0.8, LOQFound: true}, got)

	none := FindExperimentalLimits([]Observation{{Concentration: 0.2, Verdict: NotDetectable}})
	assert.False(t, none.LODFound)
	assert.False(t, none.LOQFound)
}
