/*
 * @module service/spectrum/spectrum
 * @description 能谱直方图，固定范围固定道数，显式记录下溢和上溢
 * @architecture 值对象 - 构造阶段可填充，交给下游后只读
 * @documentReference DESIGN.md
 * @stateFlow NewSpectrum -> Fill* -> 只读访问(Count/FindBin/Diagnostics)
 * @rules 小于下限计入下溢，大于等于上限计入上溢；Σ道计数 + 下溢 + 上溢 == 总计数
 * @dependencies go-hep hbook, gonum stat
 * @refs loader.go, service/peak
 */

package spectrum

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/stat"
)

// ErrInvalidBinning 道数或能量范围不合法
var ErrInvalidBinning = errors.New("能谱分道参数不合法")

// Binning 能谱分道参数，能量单位 keV
type Binning struct {
	Bins int     `json:"bins" yaml:"bins"`
	Min  float64 `json:"min_kev" yaml:"min_kev"`
	Max  float64 `json:"max_kev" yaml:"max_kev"`
}

// DefaultBinning 0-1600 keV 共 1600 道
func DefaultBinning() Binning {
	return Binning{Bins: 1600, Min: 0, Max: 1600}
}

// Validate 校验分道参数
func (b Binning) Validate() error {
	if b.Bins <= 0 {
		return fmt.Errorf("%w: 道数必须为正, 当前 %d", ErrInvalidBinning, b.Bins)
	}
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) || b.Max <= b.Min {
		return fmt.Errorf("%w: 能量范围 [%v, %v)", ErrInvalidBinning, b.Min, b.Max)
	}
	return nil
}

// Width 单道宽度
func (b Binning) Width() float64 {
	return (b.Max - b.Min) / float64(b.Bins)
}

// Spectrum 能量沉积直方图
type Spectrum struct {
	hist      *hbook.H1D
	binning   Binning
	entries   float64
	underflow float64
	overflow  float64

	// Source 数据集标识，Fingerprint 原始数值摘要
	Source      string
	Fingerprint string
}

// NewSpectrum 创建空能谱
func NewSpectrum(binning Binning) (*Spectrum, error) {
	if err := binning.Validate(); err != nil {
		return nil, err
	}
	return &Spectrum{
		hist:    hbook.NewH1D(binning.Bins, binning.Min, binning.Max),
		binning: binning,
	}, nil
}

// Fill 以单位权重填充一个能量值(keV)
func (s *Spectrum) Fill(energy float64) {
	s.FillWeighted(energy, 1)
}

// FillWeighted 以给定权重填充，合成能谱按道填充计数时使用。
// NaN 能量或权重不计入任何计数，-Inf/+Inf 分别计入下溢/上溢
func (s *Spectrum) FillWeighted(energy, weight float64) {
	if math.IsNaN(energy) || math.IsNaN(weight) {
		return
	}
	s.entries += weight
	switch {
	case energy < s.binning.Min:
		s.underflow += weight
	case energy >= s.binning.Max:
		s.overflow += weight
	default:
		idx := s.FindBin(energy)
		// 浮点边界上按本包的分道规则落道，与 FindBin 保持一致
		s.hist.Fill(s.hist.Binning.Bins[idx].XMid(), weight)
	}
}

// Binning 分道参数
func (s *Spectrum) Binning() Binning {
	return s.binning
}

// NBins 道数
func (s *Spectrum) NBins() int {
	return s.binning.Bins
}

// FindBin 能量所在道号，范围外返回 -1 或 NBins()，NaN 返回 NBins()
func (s *Spectrum) FindBin(energy float64) int {
	if math.IsNaN(energy) {
		return s.binning.Bins
	}
	if energy < s.binning.Min {
		return -1
	}
	if energy >= s.binning.Max {
		return s.binning.Bins
	}
	idx := int(math.Floor((energy - s.binning.Min) / s.binning.Width()))
	if idx >= s.binning.Bins {
		idx = s.binning.Bins - 1
	}
	return idx
}

// Count 第 i 道计数，越界返回 0
func (s *Spectrum) Count(i int) float64 {
	if i < 0 || i >= s.binning.Bins {
		return 0
	}
	return s.hist.Binning.Bins[i].SumW()
}

// BinCenter 第 i 道中心能量
func (s *Spectrum) BinCenter(i int) float64 {
	return s.binning.Min + (float64(i)+0.5)*s.binning.Width()
}

// Sum 闭区间 [lo, hi] 道计数之和，自动截断到有效道
func (s *Spectrum) Sum(lo, hi int) float64 {
	if lo < 0 {
		lo = 0
	}
	if hi >= s.binning.Bins {
		hi = s.binning.Bins - 1
	}
	total := 0.0
	for i := lo; i <= hi; i++ {
		total += s.hist.Binning.Bins[i].SumW()
	}
	return total
}

// Entries 总填充计数(含下溢和上溢)
func (s *Spectrum) Entries() float64 {
	return s.entries
}

// Underflow 下溢计数
func (s *Spectrum) Underflow() float64 {
	return s.underflow
}

// Overflow 上溢计数
func (s *Spectrum) Overflow() float64 {
	return s.overflow
}

// InRange 范围内计数
func (s *Spectrum) InRange() float64 {
	return s.Sum(0, s.binning.Bins-1)
}

// Histogram 底层 hbook 直方图，供绘图使用
func (s *Spectrum) Histogram() *hbook.H1D {
	return s.hist
}

// Diagnostics 能谱诊断信息
type Diagnostics struct {
	Entries      float64 `json:"entries"`
	InRange      float64 `json:"in_range"`
	Underflow    float64 `json:"underflow"`
	Overflow     float64 `json:"overflow"`
	Mean         float64 `json:"mean_kev"`
	RMS          float64 `json:"rms_kev"`
	MaxBinEnergy float64 `json:"max_bin_kev"`
	MaxBinCount  float64 `json:"max_bin_count"`
}

// Diagnostics 计算诊断信息，均值和RMS按范围内道中心加权
func (s *Spectrum) Diagnostics() Diagnostics {
	d := Diagnostics{
		Entries:   s.entries,
		Underflow: s.underflow,
		Overflow:  s.overflow,
	}

	mids := make([]float64, s.binning.Bins)
	weights := make([]float64, s.binning.Bins)
	maxIdx := 0
	for i := range mids {
		mids[i] = s.BinCenter(i)
		weights[i] = s.Count(i)
		d.InRange += weights[i]
		if weights[i] > weights[maxIdx] {
			maxIdx = i
		}
	}
	if d.InRange > 0 {
		d.Mean, d.RMS = stat.PopMeanStdDev(mids, weights)
		d.MaxBinEnergy = mids[maxIdx]
		d.MaxBinCount = weights[maxIdx]
	}
	return d
}
