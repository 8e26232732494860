/*
 * @module service/report/report
 * @description 分析结果输出：CSV 表格、JSON 结构化记录、PNG 图和文本摘要
 * @architecture 输出适配器 - 流水线只产出结构化结果，序列化集中在此处
 * @documentReference DESIGN.md
 * @stateFlow pipeline.Result -> CSV/JSON/PNG 文件 -> 文件清单
 * @rules 未定义的数值在 CSV 中留空；CSV 可按 GBK 编码输出
 * @dependencies golang.org/x/text, gonum.org/v1/plot, go-hep.org/x/hep/hplot
 * @refs plots.go, summary.go
 */

package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"reecal-service/service/detectability"
	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
)

// 输出文件名
const (
	FileCSV           = "results.csv"
	FileJSON          = "results.json"
	FileCalibration   = "calibration.png"
	FileZScore        = "zscore.png"
	FileDetectability = "detectability.png"
	FileSpectra       = "spectra.png"
)

// CSVHeader 结果表列
var CSVHeader = []string{
	"concentration", "sweep", "identifier", "skipped",
	"events", "norm_factor",
	"n_low", "err_n_low", "n_high", "err_n_high",
	"q", "err_q",
	"observable", "err_observable",
	"z_score", "z_norm", "detectable", "quantifiable", "verdict",
	"required_event_factor",
	"estimated_concentration", "err_estimated_concentration", "bias",
}

// Emitter 将分析结果写入目录
type Emitter struct {
	Dir      string
	Prefix   string
	Encoding string // utf-8, gbk, gb18030
	NoPlots  bool
}

// Emit 写出全部文件，返回生成的文件路径
func (e *Emitter) Emit(res *pipeline.Result, spectra map[string]*spectrum.Spectrum) ([]string, error) {
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %v", err)
	}

	var files []string
	write := func(name string, fn func(w io.Writer) error) error {
		path := e.path(name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("创建 %s 失败: %v", path, err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("写入 %s 失败: %v", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		files = append(files, path)
		return nil
	}

	if err := write(FileCSV, func(w io.Writer) error { return WriteCSV(w, res, e.Encoding) }); err != nil {
		return files, err
	}
	if err := write(FileJSON, func(w io.Writer) error { return WriteJSON(w, res) }); err != nil {
		return files, err
	}
	if e.NoPlots {
		return files, nil
	}

	plots := []struct {
		name string
		fn   func(string) error
	}{
		{FileCalibration, func(p string) error { return PlotCalibration(res, p) }},
		{FileZScore, func(p string) error { return PlotZScores(res, p) }},
		{FileDetectability, func(p string) error { return PlotDetectability(res, p) }},
		{FileSpectra, func(p string) error { return PlotSpectra(res, spectra, p) }},
	}
	for _, pl := range plots {
		path := e.path(pl.name)
		if err := pl.fn(path); err != nil {
			// 图形失败不影响数值结果
			slog.Warn("生成图形失败", "file", path, "error", err)
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

func (e *Emitter) path(name string) string {
	if e.Prefix != "" {
		name = e.Prefix + "_" + name
	}
	return filepath.Join(e.Dir, name)
}

// WriteJSON 输出完整结构化结果
func WriteJSON(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteCSV 输出结果表，encoding 为空或 utf-8 时不转码
func WriteCSV(w io.Writer, res *pipeline.Result, encoding string) error {
	var tw io.WriteCloser
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
	case "gbk":
		tw = transform.NewWriter(w, simplifiedchinese.GBK.NewEncoder())
		w = tw
	case "gb18030":
		tw = transform.NewWriter(w, simplifiedchinese.GB18030.NewEncoder())
		w = tw
	default:
		return fmt.Errorf("不支持的编码: %s", encoding)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range res.Samples {
		if err := cw.Write(csvRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

func csvRecord(r pipeline.SampleResult) []string {
	rec := []string{
		num(r.Concentration), r.Sweep, r.Identifier, strconv.FormatBool(r.Skipped),
	}
	if r.Skipped {
		for len(rec) < len(CSVHeader) {
			rec = append(rec, "")
		}
		return rec
	}

	a := r.Assessment
	rec = append(rec,
		num(r.Events), num(r.NormFactor),
		num(r.Low.Net), num(r.Low.Error), num(r.High.Net), num(r.High.Error),
		opt(r.Observables.Q.Value, r.Observables.Q.Defined), opt(r.Observables.Q.Uncertainty, r.Observables.Q.Defined),
		opt(r.Primary.Value, r.Primary.Defined), opt(r.Primary.Uncertainty, r.Primary.Defined),
		opt(a.Z, a.Defined), opt(r.NormalizedZ, r.NormalizedZDefined),
		yesNo(a.Defined && a.Verdict != detectability.NotDetectable),
		yesNo(a.Defined && a.Verdict == detectability.Quantifiable),
		string(a.Verdict),
		opt(r.RequiredEventFactor, r.RequiredFactorDefined),
		opt(r.Estimate.Concentration, r.Estimate.Defined),
		opt(r.Estimate.Uncertainty, r.Estimate.Defined),
		opt(r.Estimate.Bias, r.Estimate.Defined),
	)
	return rec
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func opt(v float64, defined bool) string {
	if !defined {
		return ""
	}
	return num(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
