/*
 * @module service/observable/observable
 * @description 透射率、衰减、双能比值、计数比和差值观测量及一阶误差传递
 * @architecture 纯函数 - 所有退化情形以 Defined=false 的值返回，不产生 NaN
 * @documentReference DESIGN.md
 * @stateFlow 峰测量 + 参考测量 -> T -> L -> R/Δ；低能/高能峰测量 -> Q
 * @rules 参考测量由调用方注入且只读；未定义值的数值字段为 0 并携带原因
 * @dependencies 无外部依赖
 * @refs service/peak, service/calibration, service/detectability
 */

package observable

import (
	"math"

	"reecal-service/service/peak"
)

// DefaultRatioFloor L_high 的最小值，低于此值比值不定义
const DefaultRatioFloor = 1e-3

// 未定义原因
const (
	ReasonNonPositiveReference    = "reference_non_positive"
	ReasonNonPositiveTransmission = "transmission_non_positive"
	ReasonDenominatorBelowFloor   = "denominator_below_floor"
	ReasonNonPositiveHigh         = "high_counts_non_positive"
	ReasonUndefinedInput          = "undefined_input"
	ReasonNonFinite               = "non_finite"
)

// Value 带不确定度的观测量
type Value struct {
	Value       float64 `json:"value"`
	Uncertainty float64 `json:"uncertainty"`
	Defined     bool    `json:"defined"`
	Reason      string  `json:"reason,omitempty"`
}

// Undefined 构造未定义值
func Undefined(reason string) Value {
	return Value{Reason: reason}
}

// Of 构造已定义值，非有限数值转为未定义
func Of(v, err float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(err) || math.IsInf(err, 0) {
		return Undefined(ReasonNonFinite)
	}
	return Value{Value: v, Uncertainty: math.Abs(err), Defined: true}
}

// RelativeUncertainty 相对不确定度
func (v Value) RelativeUncertainty() float64 {
	if !v.Defined || v.Value == 0 {
		return math.Inf(1)
	}
	return v.Uncertainty / math.Abs(v.Value)
}

// Transmission T = I / I0，样品与参考按独立测量传播误差，
// 两者数值相同也不视为同一测量
func Transmission(m, ref peak.Measurement) Value {
	if ref.Net <= 0 {
		return Undefined(ReasonNonPositiveReference)
	}
	t := m.Net / ref.Net
	errT := math.Hypot(m.Error/ref.Net, t*ref.Error/ref.Net)
	return Of(t, errT)
}

// SelfTransmission 参考样品与自身比较，分子分母完全相关，T=1 且误差为 0
func SelfTransmission(ref peak.Measurement) Value {
	if ref.Net <= 0 {
		return Undefined(ReasonNonPositiveReference)
	}
	return Value{Value: 1, Uncertainty: 0, Defined: true}
}

// Attenuation L = -ln T，errL = errT / T
func Attenuation(t Value) Value {
	if !t.Defined {
		return Undefined(ReasonUndefinedInput)
	}
	if t.Value <= 0 {
		return Undefined(ReasonNonPositiveTransmission)
	}
	l := -math.Log(t.Value)
	if l == 0 {
		// 避免 -0
		l = 0
	}
	return Of(l, t.Uncertainty/t.Value)
}

// Ratio R = L_low / L_high，L_high 不超过 floor 时不定义
func Ratio(low, high Value, floor float64) Value {
	if !low.Defined || !high.Defined {
		return Undefined(ReasonUndefinedInput)
	}
	if high.Value <= floor {
		return Undefined(ReasonDenominatorBelowFloor)
	}
	r := low.Value / high.Value
	errR := math.Hypot(low.Uncertainty, r*high.Uncertainty) / math.Abs(high.Value)
	return Of(r, errR)
}

// RatioFromCounts 由四个独立计数直接计算 R，误差按 I、I0、J、J0 四项偏导展开
func RatioFromCounts(low, lowRef, high, highRef peak.Measurement, floor float64) Value {
	if low.Net <= 0 || lowRef.Net <= 0 || high.Net <= 0 || highRef.Net <= 0 {
		return Undefined(ReasonNonPositiveTransmission)
	}
	lLow := -math.Log(low.Net / lowRef.Net)
	lHigh := -math.Log(high.Net / highRef.Net)
	if lHigh <= floor {
		return Undefined(ReasonDenominatorBelowFloor)
	}
	r := lLow / lHigh
	dI := -1 / (low.Net * lHigh)
	dI0 := 1 / (lowRef.Net * lHigh)
	dJ := r / (high.Net * lHigh)
	dJ0 := -r / (highRef.Net * lHigh)
	errR := math.Sqrt(sq(dI*low.Error) + sq(dI0*lowRef.Error) + sq(dJ*high.Error) + sq(dJ0*highRef.Error))
	return Of(r, errR)
}

// CountRatio Q = N_low / N_high
func CountRatio(low, high peak.Measurement) Value {
	if high.Net <= 0 {
		return Undefined(ReasonNonPositiveHigh)
	}
	q := low.Net / high.Net
	errQ := math.Hypot(low.Error/high.Net, q*high.Error/high.Net)
	return Of(q, errQ)
}

// Difference Δ = L_low - L_high
func Difference(low, high Value) Value {
	if !low.Defined || !high.Defined {
		return Undefined(ReasonUndefinedInput)
	}
	return Of(low.Value-high.Value, math.Hypot(low.Uncertainty, high.Uncertainty))
}

func sq(x float64) float64 {
	return x * x
}
