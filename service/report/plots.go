package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
)

var errNothingToPlot = errors.New("没有可绘制的样品")

// 图中文字不用中文，默认字体不含中文字形
var (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
	dashed     = []vg.Length{vg.Points(4), vg.Points(2)}
)

// errPoints 带纵向误差的点集
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

func (e errPoints) Len() int { return len(e.XYs) }

func validSamples(res *pipeline.Result) []pipeline.SampleResult {
	var out []pipeline.SampleResult
	for _, s := range res.Samples {
		if s.Skipped || !s.Primary.Defined {
			continue
		}
		out = append(out, s)
	}
	return out
}

func concentrationRange(samples []pipeline.SampleResult) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		lo = math.Min(lo, s.Concentration)
		hi = math.Max(hi, s.Concentration)
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// PlotCalibration 观测量随浓度变化及拟合曲线
func PlotCalibration(res *pipeline.Result, path string) error {
	samples := validSamples(res)
	if len(samples) == 0 {
		return errNothingToPlot
	}

	pts := errPoints{
		XYs:     make(plotter.XYs, len(samples)),
		YErrors: make(plotter.YErrors, len(samples)),
	}
	for i, s := range samples {
		pts.XYs[i] = plotter.XY{X: s.Concentration, Y: s.Primary.Value}
		pts.YErrors[i].Low = s.Primary.Uncertainty
		pts.YErrors[i].High = s.Primary.Uncertainty
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration (%s)", res.Config.Observable)
	p.X.Label.Text = "Concentration (%)"
	p.Y.Label.Text = res.Config.Observable

	sc, err := plotter.NewScatter(pts.XYs)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Shape = plotutil.Shape(0)
	eb, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return err
	}
	p.Add(sc, eb)
	p.Legend.Add("measured", sc)

	if res.Model != nil {
		lo, hi := concentrationRange(samples)
		fn := plotter.NewFunction(res.Model.Eval)
		fn.XMin, fn.XMax = lo, hi
		fn.Samples = 200
		fn.Color = plotutil.Color(1)
		p.Add(fn)
		p.Legend.Add(fmt.Sprintf("%s fit chi2/ndf=%.2f/%d", res.Model.Kind, res.Model.ChiSquare, res.Model.NDF), fn)
	}
	p.Legend.Top = true
	return p.Save(plotWidth, plotHeight, path)
}

// PlotZScores Z 值随浓度变化，带检出和定量阈值线
func PlotZScores(res *pipeline.Result, path string) error {
	var pts plotter.XYs
	for _, s := range res.Samples {
		if s.Skipped || !s.Assessment.Defined {
			continue
		}
		pts = append(pts, plotter.XY{X: s.Concentration, Y: s.Assessment.Z})
	}
	if len(pts) == 0 {
		return errNothingToPlot
	}

	p := plot.New()
	p.Title.Text = "Z score"
	p.X.Label.Text = "Concentration (%)"
	p.Y.Label.Text = "Z (σ)"

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	p.Add(line, points)
	p.Add(plotter.NewGrid())

	th := res.Config.Thresholds
	addThreshold(p, th.Detection, plotutil.Color(2), "detection")
	addThreshold(p, -th.Detection, plotutil.Color(2), "")
	addThreshold(p, th.Quantification, plotutil.Color(1), "quantification")
	addThreshold(p, -th.Quantification, plotutil.Color(1), "")
	return p.Save(plotWidth, plotHeight, path)
}

// PlotDetectability 各样品 |Z| 柱状图
func PlotDetectability(res *pipeline.Result, path string) error {
	var (
		values plotter.Values
		names  []string
	)
	for _, s := range res.Samples {
		if s.Skipped || !s.Assessment.Defined || s.IsReference {
			continue
		}
		values = append(values, math.Abs(s.Assessment.Z))
		names = append(names, s.Label)
	}
	if len(values) == 0 {
		return errNothingToPlot
	}

	p := plot.New()
	p.Title.Text = "Detectability"
	p.Y.Label.Text = "|Z| (σ)"

	bars, err := plotter.NewBarChart(values, vg.Points(16))
	if err != nil {
		return err
	}
	bars.Color = plotutil.Color(0)
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	th := res.Config.Thresholds
	addThreshold(p, th.Detection, plotutil.Color(2), "detection")
	addThreshold(p, th.Quantification, plotutil.Color(1), "quantification")
	return p.Save(plotWidth, plotHeight, path)
}

// PlotSpectra 参考样品与最高浓度样品的能谱叠加
func PlotSpectra(res *pipeline.Result, spectra map[string]*spectrum.Spectrum, path string) error {
	var ids []string
	if s, ok := spectra[res.Reference.Identifier]; ok && s != nil {
		ids = append(ids, res.Reference.Identifier)
	}
	samples := append([]pipeline.SampleResult(nil), res.Samples...)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Concentration > samples[j].Concentration })
	for _, s := range samples {
		if s.Skipped || s.IsReference {
			continue
		}
		if sp, ok := spectra[s.Identifier]; ok && sp != nil {
			ids = append(ids, s.Identifier)
			break
		}
	}
	if len(ids) == 0 {
		return errNothingToPlot
	}

	p := plot.New()
	p.Title.Text = "Spectra"
	p.X.Label.Text = "Energy (keV)"
	p.Y.Label.Text = "Counts"

	for i, id := range ids {
		h := hplot.NewH1D(spectra[id].Histogram())
		h.FillColor = nil
		h.LineStyle.Color = plotutil.Color(i)
		h.Infos.Style = hplot.HInfoNone
		p.Add(h)
		p.Legend.Add(id, h)
	}
	p.Legend.Top = true
	return p.Save(plotWidth, plotHeight, path)
}

func addThreshold(p *plot.Plot, y float64, c color.Color, label string) {
	fn := plotter.NewFunction(func(float64) float64 { return y })
	fn.Color = c
	fn.Dashes = dashed
	p.Add(fn)
	if label != "" {
		p.Legend.Add(label, fn)
	}
}
