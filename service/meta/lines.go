/*
 * @module service/meta/lines
 * @description 伽马射线特征谱线目录、观测量类型和拟合模型常量
 * @architecture 常量层 - 元数据定义
 * @documentReference DESIGN.md
 * @stateFlow 常量定义 -> 配置校验 -> 流水线使用
 * @rules 能量单位统一为 keV，半宽取自标定扫描的默认窗口
 * @dependencies 无外部依赖
 * @refs service/pipeline, service/config
 */

package meta

import (
	"fmt"
	"sort"
)

// GammaLine 伽马特征谱线及其默认积分窗口
type GammaLine struct {
	Nuclide   string  `json:"nuclide"`
	Energy    float64 `json:"energy_kev"`
	HalfWidth float64 `json:"half_width_kev"`
	Label     string  `json:"label"`
}

// GammaLines 内置谱线目录，键为 "<核素>-<取整能量>"
var GammaLines = map[string]GammaLine{
	"Eu152-122":  {Nuclide: "Eu-152", Energy: 121.78, HalfWidth: 12, Label: "Eu-152 121.78 keV"},
	"Eu152-344":  {Nuclide: "Eu-152", Energy: 344.28, HalfWidth: 15, Label: "Eu-152 344.28 keV"},
	"Eu152-779":  {Nuclide: "Eu-152", Energy: 778.90, HalfWidth: 20, Label: "Eu-152 778.90 keV"},
	"Eu152-964":  {Nuclide: "Eu-152", Energy: 964.08, HalfWidth: 20, Label: "Eu-152 964.08 keV"},
	"Eu152-1112": {Nuclide: "Eu-152", Energy: 1112.07, HalfWidth: 22, Label: "Eu-152 1112.07 keV"},
	"Eu152-1408": {Nuclide: "Eu-152", Energy: 1408.01, HalfWidth: 25, Label: "Eu-152 1408.01 keV"},
	"Am241-60":   {Nuclide: "Am-241", Energy: 59.54, HalfWidth: 5, Label: "Am-241 59.54 keV"},
	"Na22-511":   {Nuclide: "Na-22", Energy: 511.0, HalfWidth: 15, Label: "Na-22 511 keV"},
}

// 默认低能/高能谱线
const (
	DefaultLowLine  = "Eu152-122"
	DefaultHighLine = "Eu152-779"
	AltHighLine     = "Eu152-1408"
)

// GetGammaLine 获取谱线定义
func GetGammaLine(key string) (GammaLine, error) {
	line, ok := GammaLines[key]
	if !ok {
		return GammaLine{}, fmt.Errorf("未知谱线: %s", key)
	}
	return line, nil
}

// HighLineForEnergy 按能量取整值选择 Eu-152 高能谱线，命令行 -high-line 使用
func HighLineForEnergy(kev int) (GammaLine, error) {
	return GetGammaLine(fmt.Sprintf("Eu152-%d", kev))
}

// ListGammaLines 按能量升序返回全部谱线
func ListGammaLines() []GammaLine {
	lines := make([]GammaLine, 0, len(GammaLines))
	for _, line := range GammaLines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Energy < lines[j].Energy })
	return lines
}

// 观测量类型
const (
	ObservableRatio        = "R"     // L_low / L_high
	ObservableCountRatio   = "Q"     // N_low / N_high
	ObservableDifference   = "DELTA" // L_low - L_high
	ObservableAttenuation  = "L"     // 低能线 -ln T
	ObservableTransmission = "T"     // 低能线透射率
)

// 拟合模型
const (
	FitModelLinear      = "linear"
	FitModelExponential = "exponential"
)

// 事件数归一化策略
const (
	NormalizationRaw    = "raw"
	NormalizationEvents = "events"
)

// 扫描类型
const (
	SweepFine   = "fine"   // 低浓度细扫，用于实验LOD验证
	SweepCoarse = "coarse" // 高浓度粗扫，用于标定
)

// 能量单位
const (
	UnitMeV = "MeV"
	UnitKeV = "keV"
)

// IsValidObservable 验证观测量类型
func IsValidObservable(kind string) bool {
	switch kind {
	case ObservableRatio, ObservableCountRatio, ObservableDifference, ObservableAttenuation, ObservableTransmission:
		return true
	}
	return false
}

// IsValidFitModel 验证拟合模型
func IsValidFitModel(model string) bool {
	return model == FitModelLinear || model == FitModelExponential
}

// IsValidUnit 验证能量单位
func IsValidUnit(unit string) bool {
	return unit == UnitMeV || unit == UnitKeV
}
