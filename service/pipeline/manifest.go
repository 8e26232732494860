package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"reecal-service/service/meta"
)

// FineSweepMax 细扫的最大浓度(%)，含
const FineSweepMax = 1.0

// Sample 一个浓度点的数据集
type Sample struct {
	Label         string  `json:"label" yaml:"label"`
	Identifier    string  `json:"identifier" yaml:"identifier"`
	Concentration float64 `json:"concentration" yaml:"concentration"` // 百分比
	Sweep         string  `json:"sweep" yaml:"sweep"`
	IsReference   bool    `json:"is_reference" yaml:"is_reference"`
}

var (
	// 0p002 形式为质量分数，0.002 即 0.2%
	fractionToken = regexp.MustCompile(`(?:^|_)(\d+)p(\d+)(?:_|$)`)
	// 纯整数形式为百分比，如 Am241_3_REE
	percentToken = regexp.MustCompile(`(?:^|_)(\d+)(?:_|$)`)
)

// ParseConcentration 从数据集名解析浓度(%)
func ParseConcentration(identifier string) (float64, error) {
	name := strings.TrimSuffix(identifier, extOf(identifier))
	if m := fractionToken.FindStringSubmatch(name); m != nil {
		frac, err := cast.ToFloat64E(m[1] + "." + m[2])
		if err != nil {
			return 0, fmt.Errorf("无法解析浓度 %q: %v", identifier, err)
		}
		return roundPercent(frac * 100), nil
	}
	if m := percentToken.FindStringSubmatch(name); m != nil {
		return cast.ToFloat64E(m[1])
	}
	return 0, fmt.Errorf("数据集名 %q 中没有浓度标记", identifier)
}

// SweepFor 按浓度划分细扫和粗扫
func SweepFor(concentration float64) string {
	if concentration <= FineSweepMax {
		return meta.SweepFine
	}
	return meta.SweepCoarse
}

// DiscoverSamples 由数据集名列表生成样品清单，按浓度排序，浓度为 0 的样品作为参考
// 无法解析浓度的数据集被忽略并返回在 ignored 中
func DiscoverSamples(identifiers []string) (samples []Sample, ignored []string, err error) {
	seen := make(map[float64]string)
	for _, id := range identifiers {
		c, perr := ParseConcentration(id)
		if perr != nil {
			ignored = append(ignored, id)
			continue
		}
		if prev, dup := seen[c]; dup {
			return nil, nil, fmt.Errorf("数据集 %s 与 %s 浓度相同 (%.3f%%)", id, prev, c)
		}
		seen[c] = id
		samples = append(samples, Sample{
			Label:         fmt.Sprintf("%.2f%%", c),
			Identifier:    id,
			Concentration: c,
			Sweep:         SweepFor(c),
			IsReference:   c == 0,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Concentration < samples[j].Concentration })
	return samples, ignored, nil
}

// DefaultEu152Manifest 默认 Eu-152 扫描：0.2% 步长细扫到 1%，1% 步长粗扫到 5%
func DefaultEu152Manifest() []Sample {
	ids := []string{
		"Eu152_REE_0p00", "Eu152_REE_0p002", "Eu152_REE_0p004", "Eu152_REE_0p006",
		"Eu152_REE_0p008", "Eu152_REE_0p01", "Eu152_REE_0p02", "Eu152_REE_0p03",
		"Eu152_REE_0p04", "Eu152_REE_0p05",
	}
	samples, _, _ := DiscoverSamples(ids)
	return samples
}

func referenceOf(samples []Sample) (Sample, bool) {
	for _, s := range samples {
		if s.IsReference {
			return s, true
		}
	}
	return Sample{}, false
}

func roundPercent(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return name[i:]
}
