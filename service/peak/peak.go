/*
 * @module service/peak/peak
 * @description 光电峰积分，左右边带扣除本底并给出泊松统计误差
 * @architecture 纯函数 - 输入能谱和积分窗口，输出不可变的峰测量值
 * @documentReference DESIGN.md
 * @stateFlow 窗口换算为道号 -> 峰区求和 -> 边带本底按道数缩放 -> 净计数与误差
 * @rules 边带在直方图边缘截断，任一边带为零道时本底取 0；峰区完全落在直方图外返回零值无效测量；净计数可以为负；空能谱返回零值无效测量
 * @dependencies 无外部依赖
 * @refs service/spectrum, service/observable
 */

package peak

import (
	"math"

	"reecal-service/service/spectrum"
)

// Window 积分窗口
type Window struct {
	Center    float64 `json:"center_kev" yaml:"center_kev"`
	HalfWidth float64 `json:"half_width_kev" yaml:"half_width_kev"`
}

// Measurement 单个能谱单个窗口的峰测量结果
type Measurement struct {
	Raw        float64 `json:"raw_counts"`
	Background float64 `json:"background"`
	Net        float64 `json:"net_counts"`
	Error      float64 `json:"error"`
	Valid      bool    `json:"valid"`

	PeakBins     int `json:"peak_bins"`
	SidebandBins int `json:"sideband_bins"`
}

// SignificanceSigma 有效峰的显著性阈值
const SignificanceSigma = 3.0

// Integrate 对能谱的一个窗口积分
func Integrate(s *spectrum.Spectrum, w Window) Measurement {
	return IntegratePeak(s, w.Center, w.HalfWidth)
}

// IntegratePeak 峰区 [c-w, c+w]，左边带 [c-2w, c-w)，右边带 (c+w, c+2w]
func IntegratePeak(s *spectrum.Spectrum, center, halfWidth float64) Measurement {
	if s == nil || halfWidth <= 0 || math.IsNaN(center) || math.IsNaN(halfWidth) {
		return Measurement{}
	}
	n := s.NBins()

	lo, hi := s.FindBin(center-halfWidth), s.FindBin(center+halfWidth)
	// 峰区与直方图没有交集时不折叠到边缘道
	if hi < 0 || lo >= n {
		return Measurement{}
	}
	peakLo := clamp(lo, 0, n-1)
	peakHi := clamp(hi, 0, n-1)
	if peakHi < peakLo {
		return Measurement{}
	}

	// 边带超出直方图范围的部分视为零宽
	leftLo := s.FindBin(center - 2*halfWidth)
	if leftLo < 0 {
		leftLo = 0
	}
	leftHi := peakLo - 1
	rightLo := peakHi + 1
	rightHi := s.FindBin(center + 2*halfWidth)
	if rightHi > n-1 {
		rightHi = n - 1
	}

	m := Measurement{
		Raw:      s.Sum(peakLo, peakHi),
		PeakBins: peakHi - peakLo + 1,
	}

	leftBins := binCount(leftLo, leftHi)
	rightBins := binCount(rightLo, rightHi)
	if leftBins > 0 && rightBins > 0 {
		sideband := s.Sum(leftLo, leftHi) + s.Sum(rightLo, rightHi)
		m.SidebandBins = leftBins + rightBins
		m.Background = sideband * float64(m.PeakBins) / float64(m.SidebandBins)
	}

	m.Net = m.Raw - m.Background
	m.Error = math.Sqrt(m.Raw + m.Background)
	m.Valid = m.Net > 0 && m.Net > SignificanceSigma*m.Error
	return m
}

// Normalize 按事件数归一化系数缩放净计数和误差，原始计数与本底保持不变
func (m Measurement) Normalize(factor float64) Measurement {
	out := m
	out.Net = m.Net * factor
	out.Error = m.Error * factor
	return out
}

// RelativeError 相对误差，净计数为零时返回 +Inf
func (m Measurement) RelativeError() float64 {
	if m.Net == 0 {
		return math.Inf(1)
	}
	return m.Error / math.Abs(m.Net)
}

func binCount(lo, hi int) int {
	if hi < lo {
		return 0
	}
	return hi - lo + 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
