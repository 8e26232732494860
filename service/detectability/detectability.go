/*
 * @module service/detectability/detectability
 * @description 可检测性判定：相对空白参考的 Z 分数、检出限/定量限和统计量缩放
 * @architecture 纯函数 - 参考值与阈值由调用方注入
 * @documentReference DESIGN.md
 * @stateFlow 观测量 + 参考值 -> Z -> 判定；标定灵敏度 + 空白不确定度 -> LOD/LOQ
 * @rules |Z| > 定量阈值为可定量，|Z| > 检出阈值为可检出，否则不可检出；Z 随事件数平方根增长
 * @dependencies 无外部依赖
 * @refs service/observable, service/calibration, service/pipeline
 */

package detectability

import (
	"math"

	"reecal-service/service/observable"
)

// Verdict 可检测性判定
type Verdict string

const (
	NotDetectable Verdict = "NOT_DETECTABLE"
	Detectable    Verdict = "DETECTABLE"
	Quantifiable  Verdict = "QUANTIFIABLE"
)

// Thresholds 判定阈值(σ)
type Thresholds struct {
	Detection      float64 `json:"detection" yaml:"detection"`
	Quantification float64 `json:"quantification" yaml:"quantification"`
}

// DefaultThresholds 3σ 检出，10σ 定量
func DefaultThresholds() Thresholds {
	return Thresholds{Detection: 3, Quantification: 10}
}

// Assessment 单个样品的判定结果
type Assessment struct {
	Z       float64 `json:"z"`
	Defined bool    `json:"defined"`
	Verdict Verdict `json:"verdict"`
}

// ZScore Z = (x - x0) / sqrt(σx² + σ0²)
func ZScore(obs observable.Value, refValue, refUncertainty float64) (float64, bool) {
	if !obs.Defined {
		return 0, false
	}
	denom := math.Hypot(obs.Uncertainty, refUncertainty)
	diff := obs.Value - refValue
	if denom == 0 {
		// 与参考完全相同时 Z 取 0
		if diff == 0 {
			return 0, true
		}
		return 0, false
	}
	z := diff / denom
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, false
	}
	return z, true
}

// Classify 计算 Z 并判定
func Classify(obs observable.Value, refValue, refUncertainty float64, th Thresholds) Assessment {
	z, ok := ZScore(obs, refValue, refUncertainty)
	if !ok {
		return Assessment{Verdict: NotDetectable}
	}
	return Assessment{Z: z, Defined: true, Verdict: VerdictFor(z, th)}
}

// VerdictFor 按阈值判定
func VerdictFor(z float64, th Thresholds) Verdict {
	az := math.Abs(z)
	switch {
	case az > th.Quantification:
		return Quantifiable
	case az > th.Detection:
		return Detectable
	default:
		return NotDetectable
	}
}

// Limits 检出限和定量限，单位与标定浓度一致
type Limits struct {
	Precision float64 `json:"precision"`
	LOD       float64 `json:"lod"`
	LOQ       float64 `json:"loq"`
	Defined   bool    `json:"defined"`
}

// EstimateLimits LOD = k_d·σ0/|slope|，LOQ = k_q·σ0/|slope|
func EstimateLimits(slope, refUncertainty float64, th Thresholds) Limits {
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) || refUncertainty < 0 || math.IsNaN(refUncertainty) {
		return Limits{}
	}
	precision := refUncertainty / math.Abs(slope)
	return Limits{
		Precision: precision,
		LOD:       th.Detection * precision,
		LOQ:       th.Quantification * precision,
		Defined:   true,
	}
}

// Scaled 事件数乘以 eventFactor 后的限值，随 1/sqrt(eventFactor) 缩小
func (l Limits) Scaled(eventFactor float64) Limits {
	if !l.Defined || eventFactor <= 0 {
		return Limits{}
	}
	s := 1 / math.Sqrt(eventFactor)
	return Limits{
		Precision: l.Precision * s,
		LOD:       l.LOD * s,
		LOQ:       l.LOQ * s,
		Defined:   true,
	}
}

// EventFactorForImprovement 限值改善 k 倍所需的事件数倍数 k²
func EventFactorForImprovement(k float64) float64 {
	return k * k
}

// ZAfterScaling 事件数乘以 eventFactor 后的预期 Z
func ZAfterScaling(z, eventFactor float64) float64 {
	if eventFactor <= 0 {
		return 0
	}
	return z * math.Sqrt(eventFactor)
}

// MinimumZ 计算所需事件数时 |Z| 的下限，低于此值视为无法通过增加统计量达到目标
const MinimumZ = 0.1

// RequiredEventFactor 使 |Z| 达到 target 所需的事件数倍数 (target/|Z|)²
func RequiredEventFactor(z, target float64) (float64, bool) {
	az := math.Abs(z)
	if az < MinimumZ || math.IsNaN(z) || target <= 0 {
		return 0, false
	}
	return (target / az) * (target / az), true
}

// NormalizedZ 换算到参考事件数下的 Z：样品误差按 sqrt(N/N_ref) 缩放
func NormalizedZ(obs observable.Value, refValue, refUncertainty, events, refEvents float64) (float64, bool) {
	if events <= 0 || refEvents <= 0 {
		return 0, false
	}
	scaled := obs
	scaled.Uncertainty = obs.Uncertainty * math.Sqrt(events/refEvents)
	return ZScore(scaled, refValue, refUncertainty)
}

// Observation 参与实验检出限统计的样品
type Observation struct {
	Concentration float64
	Verdict       Verdict
}

// ExperimentalLimits 非零浓度中最低的可检出和可定量浓度
type ExperimentalLimits struct {
	LOD      float64 `json:"lod"`
	LODFound bool    `json:"lod_found"`
	LOQ      float64 `json:"loq"`
	LOQFound bool    `json:"loq_found"`
}

// FindExperimentalLimits 从细扫样品中找出实验 LOD/LOQ
func FindExperimentalLimits(obs []Observation) ExperimentalLimits {
	var out ExperimentalLimits
	for _, o := range obs {
		if o.Concentration <= 0 {
			continue
		}
		if o.Verdict == Detectable || o.Verdict == Quantifiable {
			if !out.LODFound || o.Concentration < out.LOD {
				out.LOD, out.LODFound = o.Concentration, true
			}
		}
		if o.Verdict == Quantifiable {
			if !out.LOQFound || o.Concentration < out.LOQ {
				out.LOQ, out.LOQFound = o.Concentration, true
			}
		}
	}
	return out
}
