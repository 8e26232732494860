package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/tabwriter"

	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
)

// Summary 命令行输出的文本摘要
func Summary(res *pipeline.Result) string {
	var b strings.Builder
	cfg := res.Config
	fmt.Fprintf(&b, "观测量 %s  低能窗 %s  高能窗 %s  归一化 %s\n",
		cfg.Observable, cfg.Low.Name, cfg.High.Name, cfg.Normalization)
	fmt.Fprintf(&b, "处理 %d 个样品，跳过 %d 个，用时 %s\n", res.Processed, res.Skipped, res.Duration)
	if res.Baseline.Defined {
		fmt.Fprintf(&b, "基线 %.5g ± %.2g (%s)\n", res.Baseline.Value, res.Baseline.Uncertainty, res.Baseline.Source)
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "浓度(%)\t扫描\t观测量\tZ\t判定\t反演浓度(%)")
	for _, s := range res.Samples {
		if s.Skipped {
			fmt.Fprintf(tw, "%g\t%s\t跳过: %s\t\t\t\n", s.Concentration, s.Sweep, s.SkipReason)
			continue
		}
		obs, z, est := "-", "-", "-"
		if s.Primary.Defined {
			obs = fmt.Sprintf("%.5g ± %.2g", s.Primary.Value, s.Primary.Uncertainty)
		}
		if s.Assessment.Defined {
			z = fmt.Sprintf("%.2f", s.Assessment.Z)
		}
		if s.Estimate.Defined {
			est = fmt.Sprintf("%.3g ± %.2g", s.Estimate.Concentration, s.Estimate.Uncertainty)
		}
		fmt.Fprintf(tw, "%g\t%s\t%s\t%s\t%s\t%s\n", s.Concentration, s.Sweep, obs, z, s.Assessment.Verdict, est)
	}
	tw.Flush()

	switch {
	case res.Model != nil:
		m := res.Model
		fmt.Fprintf(&b, "拟合 %s: θ0 = %.5g ± %.2g, θ1 = %.5g ± %.2g, χ²/ndf = %.2f/%d\n",
			m.Kind, m.Theta[0], m.Sigma[0], m.Theta[1], m.Sigma[1], m.ChiSquare, m.NDF)
	case res.FitError != "":
		fmt.Fprintf(&b, "拟合失败: %s\n", res.FitError)
	}
	if res.Limits.Defined {
		fmt.Fprintf(&b, "估算 LOD = %.3g%%, LOQ = %.3g%%\n", res.Limits.LOD, res.Limits.LOQ)
	}
	exp := res.Experimental
	fmt.Fprintf(&b, "实验 LOD = %s, LOQ = %s\n", limitText(exp.LOD, exp.LODFound), limitText(exp.LOQ, exp.LOQFound))
	return b.String()
}

func limitText(v float64, found bool) string {
	if !found {
		return "未达到"
	}
	return fmt.Sprintf("%g%%", v)
}

// CollectingLoader 记录加载过的能谱，用于输出能谱图
type CollectingLoader struct {
	inner pipeline.Loader

	mu      sync.Mutex
	spectra map[string]*spectrum.Spectrum
}

// NewCollectingLoader 包装加载器
func NewCollectingLoader(inner pipeline.Loader) *CollectingLoader {
	return &CollectingLoader{inner: inner, spectra: make(map[string]*spectrum.Spectrum)}
}

// Load 实现 pipeline.Loader
func (c *CollectingLoader) Load(ctx context.Context, s pipeline.Sample) (*spectrum.Spectrum, error) {
	spec, err := c.inner.Load(ctx, s)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.spectra[s.Identifier] = spec
	c.mu.Unlock()
	return spec, nil
}

// Spectra 已加载的能谱，按数据集名索引
func (c *CollectingLoader) Spectra() map[string]*spectrum.Spectrum {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*spectrum.Spectrum, len(c.spectra))
	for k, v := range c.spectra {
		out[k] = v
	}
	return out
}
