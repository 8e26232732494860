/*
 * @module service/observable/observable_test
 * @description 观测量测试，覆盖误差传递公式、退化情形和蒙特卡罗一致性
 * @architecture 测试层
 * @documentReference DESIGN.md
 * @stateFlow 构造峰测量 -> 计算观测量 -> 与解析值或抽样统计比较
 * @rules 未定义值不得包含 NaN 或 Inf
 * @dependencies testify, gonum stat, gonum distuv
 * @refs observable.go, set.go
 */

package observable

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"reecal-service/service/meta"
	"reecal-service/service/peak"
)

func pm(net, err float64) peak.Measurement {
	return peak.Measurement{Raw: net, Net: net, Error: err, Valid: net > 3*err}
}

func TestTransmission(t *testing.T) {
	tests := []struct {
		name    string
		m, ref  peak.Measurement
		want    float64
		wantErr float64
		defined bool
	}{
		{
			name: "一般情形", m: pm(800, 40), ref: pm(1000, 50),
			want: 0.8, wantErr: 0.8 * math.Sqrt(0.05*0.05+0.05*0.05), defined: true,
		},
		{name: "参考为零", m: pm(800, 40), ref: pm(0, 0), defined: false},
		{name: "参考为负", m: pm(800, 40), ref: pm(-5, 10), defined: false},
		{name: "样品为零", m: pm(0, 10), ref: pm(1000, 50), want: 0, wantErr: 0.01, defined: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Transmission(tt.m, tt.ref)
			assert.Equal(t, tt.defined, v.Defined)
			if tt.defined {
				assert.InDelta(t, tt.want, v.Value, 1e-12)
				assert.InDelta(t, tt.wantErr, v.Uncertainty, 1e-12)
			} else {
				assert.Equal(t, 0.0, v.Value)
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}

func TestSelfTransmission(t *testing.T) {
	ref := peak.Measurement{Raw: 13000, Background: 3000, Net: 10000, Error: 126.5, Valid: true}
	v := SelfTransmission(ref)
	assert.True(t, v.Defined)
	assert.Equal(t, 1.0, v.Value)
	assert.Equal(t, 0.0, v.Uncertainty)

	l := Attenuation(v)
	assert.True(t, l.Defined)
	assert.Equal(t, 0.0, l.Value)
	assert.False(t, math.Signbit(l.Value))

	assert.Equal(t, ReasonNonPositiveReference, SelfTransmission(pm(0, 0)).Reason)
}

func TestTransmissionIdenticalMeasurements(t *testing.T) {
	tests := []struct {
		name   string
		m, ref peak.Measurement
	}{
		{"数值相同的独立样品", pm(1000, 50), pm(1000, 50)},
		{"同一测量值按独立传播", peak.Measurement{Raw: 13000, Background: 3000, Net: 10000, Error: 126.5, Valid: true},
			peak.Measurement{Raw: 13000, Background: 3000, Net: 10000, Error: 126.5, Valid: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Transmission(tt.m, tt.ref)
			require.True(t, v.Defined)
			assert.InDelta(t, 1.0, v.Value, 1e-12)
			assert.InDelta(t, math.Sqrt2*tt.m.Error/tt.m.Net, v.Uncertainty, 1e-12)
			assert.Greater(t, v.Uncertainty, 0.0)
		})
	}
}

func TestTransmissionIdempotent(t *testing.T) {
	m, ref := pm(812.5, 41.3), pm(1003.2, 49.9)
	a := Transmission(m, ref)
	b := Transmission(m, ref)
	assert.Equal(t, math.Float64bits(a.Value), math.Float64bits(b.Value))
	assert.Equal(t, math.Float64bits(a.Uncertainty), math.Float64bits(b.Uncertainty))
}

func TestAttenuation(t *testing.T) {
	v := Attenuation(Of(0.5, 0.01))
	require.True(t, v.Defined)
	assert.InDelta(t, math.Ln2, v.Value, 1e-12)
	assert.InDelta(t, 0.02, v.Uncertainty, 1e-12)

	assert.False(t, Attenuation(Of(0, 0.01)).Defined)
	assert.False(t, Attenuation(Of(-0.2, 0.01)).Defined)
	assert.Equal(t, ReasonUndefinedInput, Attenuation(Undefined("x")).Reason)
}

func TestRatioMatchesFourTermExpansion(t *testing.T) {
	low, lowRef := pm(7000, 140), pm(10000, 160)
	high, highRef := pm(14000, 190), pm(16000, 200)

	lLow := Attenuation(Transmission(low, lowRef))
	lHigh := Attenuation(Transmission(high, highRef))
	viaL := Ratio(lLow, lHigh, DefaultRatioFloor)
	direct := RatioFromCounts(low, lowRef, high, highRef, DefaultRatioFloor)

	require.True(t, viaL.Defined)
	require.True(t, direct.Defined)
	assert.InDelta(t, direct.Value, viaL.Value, 1e-12)
	assert.InDelta(t, direct.Uncertainty, viaL.Uncertainty, 1e-9)
}

func TestRatioFloor(t *testing.T) {
	tests := []struct {
		name    string
		high    Value
		defined bool
	}{
		{"高于下限", Of(0.01, 0.001), true},
		{"等于下限", Of(DefaultRatioFloor, 0.001), false},
		{"为零", Of(0, 0), false},
		{"为负", Of(-0.1, 0.01), false},
		{"输入未定义", Undefined(ReasonNonPositiveTransmission), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Ratio(Of(0.2, 0.01), tt.high, DefaultRatioFloor)
			assert.Equal(t, tt.defined, v.Defined)
			assert.False(t, math.IsNaN(v.Value))
			assert.False(t, math.IsInf(v.Value, 0))
		})
	}
}

func TestCountRatio(t *testing.T) {
	v := CountRatio(pm(5000, 50), pm(10000, 100))
	require.True(t, v.Defined)
	assert.Equal(t, 0.5, v.Value)
	assert.InDelta(t, 0.5*math.Sqrt(0.01*0.01+0.01*0.01), v.Uncertainty, 1e-12)

	assert.False(t, CountRatio(pm(5000, 50), pm(0, 10)).Defined)
}

func TestDifference(t *testing.T) {
	v := Difference(Of(0.3, 0.03), Of(0.1, 0.04))
	require.True(t, v.Defined)
	assert.InDelta(t, 0.2, v.Value, 1e-12)
	assert.InDelta(t, 0.05, v.Uncertainty, 1e-12)
	assert.False(t, Difference(Undefined("x"), Of(0.1, 0.01)).Defined)
}

func TestOfRejectsNonFinite(t *testing.T) {
	assert.False(t, Of(math.NaN(), 1).Defined)
	assert.False(t, Of(1, math.Inf(1)).Defined)
	assert.Equal(t, 2.0, Of(1, -2).Uncertainty)
}

func TestComputeReferenceSet(t *testing.T) {
	lowRef, highRef := pm(10000, 160), pm(16000, 200)
	s := ComputeReference(lowRef, highRef, DefaultRatioFloor)

	assert.Equal(t, 1.0, s.TLow.Value)
	assert.Equal(t, 0.0, s.TLow.Uncertainty)
	assert.Equal(t, 0.0, s.LLow.Value)
	assert.Equal(t, 0.0, s.LLow.Uncertainty)
	assert.False(t, s.R.Defined)
	assert.True(t, s.Q.Defined)
	assert.True(t, s.Delta.Defined)
	assert.Equal(t, s.Q, s.Select(meta.ObservableCountRatio))
	assert.Equal(t, s.R, s.Select(meta.ObservableRatio))
	assert.False(t, s.Select("X").Defined)

	// 数值与参考相同的其他样品仍带有误差
	other := Compute(pm(10000, 160), pm(16000, 200), lowRef, highRef, DefaultRatioFloor)
	assert.Equal(t, 1.0, other.TLow.Value)
	assert.Greater(t, other.TLow.Uncertainty, 0.0)
	assert.Equal(t, s.Q, other.Q)
}

// 泊松抽样下 T 的经验标准差应收敛到解析误差
func TestTransmissionErrorMonteCarlo(t *testing.T) {
	src := rand.NewSource(20240501)
	sample := distuv.Poisson{Lambda: 800, Src: src}
	reference := distuv.Poisson{Lambda: 1000, Src: src}

	const n = 20000
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = sample.Rand() / reference.Rand()
	}
	empirical := stat.StdDev(ts, nil)

	analytic := Transmission(pm(800, math.Sqrt(800)), pm(1000, math.Sqrt(1000)))
	require.True(t, analytic.Defined)
	assert.InEpsilon(t, analytic.Uncertainty, empirical, 0.05)
}
