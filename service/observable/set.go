package observable

import (
	"reecal-service/service/meta"
	"reecal-service/service/peak"
)

// Set 单个样品相对参考的全部观测量
type Set struct {
	TLow  Value `json:"t_low"`
	THigh Value `json:"t_high"`
	LLow  Value `json:"l_low"`
	LHigh Value `json:"l_high"`
	R     Value `json:"r"`
	Q     Value `json:"q"`
	Delta Value `json:"delta"`
}

// Compute 计算样品的全部观测量，参考测量只读
func Compute(low, high, lowRef, highRef peak.Measurement, floor float64) Set {
	return derive(Set{
		TLow:  Transmission(low, lowRef),
		THigh: Transmission(high, highRef),
		Q:     CountRatio(low, high),
	}, floor)
}

// ComputeReference 参考样品自身的观测量
func ComputeReference(lowRef, highRef peak.Measurement, floor float64) Set {
	return derive(Set{
		TLow:  SelfTransmission(lowRef),
		THigh: SelfTransmission(highRef),
		Q:     CountRatio(lowRef, highRef),
	}, floor)
}

func derive(s Set, floor float64) Set {
	s.LLow = Attenuation(s.TLow)
	s.LHigh = Attenuation(s.THigh)
	s.R = Ratio(s.LLow, s.LHigh, floor)
	s.Delta = Difference(s.LLow, s.LHigh)
	return s
}

// Select 按观测量类型取值，未知类型返回未定义
func (s Set) Select(kind string) Value {
	switch kind {
	case meta.ObservableRatio:
		return s.R
	case meta.ObservableCountRatio:
		return s.Q
	case meta.ObservableDifference:
		return s.Delta
	case meta.ObservableAttenuation:
		return s.LLow
	case meta.ObservableTransmission:
		return s.TLow
	}
	return Undefined("unknown_observable")
}
