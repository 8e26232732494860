/*
 * @module service/pipeline/config
 * @description 标定流水线参数：双能窗口、观测量、拟合模型、归一化方式、拟合区间、判定阈值、分道与单位
 * @architecture 参数化配置 - 同一条流水线覆盖所有分析变体
 * @documentReference DESIGN.md
 * @stateFlow DefaultConfig -> 覆盖字段 -> Validate -> Run
 * @rules 低能窗口必须低于高能窗口；单位必须显式声明
 * @dependencies service/meta, service/calibration, service/detectability, service/spectrum
 * @refs pipeline.go
 */

package pipeline

import (
	"fmt"
	"math"

	"reecal-service/service/calibration"
	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/observable"
	"reecal-service/service/peak"
	"reecal-service/service/spectrum"
)

// ROI 一个能量窗口
type ROI struct {
	Name   string      `json:"name" yaml:"name"`
	Window peak.Window `json:"window" yaml:"window"`
}

// ROIFromLine 由特征线生成窗口
func ROIFromLine(line meta.GammaLine) ROI {
	return ROI{
		Name:   line.Label,
		Window: peak.Window{Center: line.Energy, HalfWidth: line.HalfWidth},
	}
}

// Config 流水线配置
type Config struct {
	Low           ROI                      `json:"low"`
	High          ROI                      `json:"high"`
	Observable    string                   `json:"observable"`
	FitModel      string                   `json:"fit_model"`
	Normalization string                   `json:"normalization"`
	FitDomain     calibration.Domain       `json:"fit_domain"`
	Thresholds    detectability.Thresholds `json:"thresholds"`
	Binning       spectrum.Binning         `json:"binning"`
	Unit          string                   `json:"unit"`
	Column        string                   `json:"column"`
	RatioFloor    float64                  `json:"ratio_floor"`
	Concurrency   int                      `json:"concurrency"`
}

// DefaultConfig Eu-152 122/779 keV 双能分析，计数比线性标定
func DefaultConfig() Config {
	low := meta.GammaLines[meta.DefaultLowLine]
	high := meta.GammaLines[meta.DefaultHighLine]
	return Config{
		Low:           ROIFromLine(low),
		High:          ROIFromLine(high),
		Observable:    meta.ObservableCountRatio,
		FitModel:      meta.FitModelLinear,
		Normalization: meta.NormalizationRaw,
		FitDomain:     calibration.AllConcentrations(),
		Thresholds:    detectability.DefaultThresholds(),
		Binning:       spectrum.DefaultBinning(),
		Unit:          meta.UnitMeV,
		Column:        "Energy",
		RatioFloor:    observable.DefaultRatioFloor,
		Concurrency:   4,
	}
}

// WithHighLine 按能量选择高能线，例如 1408
func (c Config) WithHighLine(kev int) (Config, error) {
	line, err := meta.HighLineForEnergy(kev)
	if err != nil {
		return c, err
	}
	c.High = ROIFromLine(line)
	return c, nil
}

// Validate 校验配置
func (c Config) Validate() error {
	if err := c.Binning.Validate(); err != nil {
		return err
	}
	for _, roi := range []ROI{c.Low, c.High} {
		if roi.Window.HalfWidth <= 0 || math.IsNaN(roi.Window.Center) {
			return fmt.Errorf("窗口 %s 参数无效: %+v", roi.Name, roi.Window)
		}
		if roi.Window.Center <= c.Binning.Min || roi.Window.Center >= c.Binning.Max {
			return fmt.Errorf("窗口 %s 中心 %.2f keV 超出能谱范围", roi.Name, roi.Window.Center)
		}
	}
	if c.Low.Window.Center >= c.High.Window.Center {
		return fmt.Errorf("低能窗口 %.2f keV 必须低于高能窗口 %.2f keV", c.Low.Window.Center, c.High.Window.Center)
	}
	if !meta.IsValidObservable(c.Observable) {
		return fmt.Errorf("不支持的观测量: %s", c.Observable)
	}
	if !meta.IsValidFitModel(c.FitModel) {
		return fmt.Errorf("不支持的拟合模型: %s", c.FitModel)
	}
	if c.Normalization != meta.NormalizationRaw && c.Normalization != meta.NormalizationEvents {
		return fmt.Errorf("不支持的归一化方式: %s", c.Normalization)
	}
	if c.Unit != "" && !meta.IsValidUnit(c.Unit) {
		return fmt.Errorf("不支持的能量单位: %s", c.Unit)
	}
	if c.FitDomain.Min > c.FitDomain.Max {
		return fmt.Errorf("拟合区间无效: [%g, %g]", c.FitDomain.Min, c.FitDomain.Max)
	}
	if c.Thresholds.Detection <= 0 || c.Thresholds.Quantification < c.Thresholds.Detection {
		return fmt.Errorf("判定阈值无效: %+v", c.Thresholds)
	}
	return nil
}

func (c Config) concurrency() int {
	if c.Concurrency <= 0 {
		return 1
	}
	return c.Concurrency
}
