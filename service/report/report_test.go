package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"reecal-service/service/meta"
	"reecal-service/service/peak"
	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
	"reecal-service/testutil"
)

func runScan(t *testing.T, loader pipeline.Loader, failing string) *pipeline.Result {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Low.Window = peak.Window{Center: 122, HalfWidth: 6}
	cfg.High.Window = peak.Window{Center: 779, HalfWidth: 10}

	var samples []pipeline.Sample
	for _, c := range []float64{0, 1, 2, 3, 4, 5} {
		samples = append(samples, pipeline.Sample{
			Label:         fmt.Sprintf("%.2f%%", c),
			Identifier:    fmt.Sprintf("铕样品_%g", c),
			Concentration: c,
			Sweep:         meta.SweepFine,
			IsReference:   c == 0,
		})
	}
	if failing != "" {
		samples = append(samples, pipeline.Sample{Label: "坏数据", Identifier: failing, Concentration: 6, Sweep: meta.SweepCoarse})
	}

	res, err := pipeline.Run(context.Background(), cfg, loader, samples)
	require.NoError(t, err)
	return res
}

func syntheticLoader() pipeline.LoaderFunc {
	return func(_ context.Context, s pipeline.Sample) (*spectrum.Spectrum, error) {
		if strings.HasPrefix(s.Identifier, "missing") {
			return nil, spectrum.ErrDataSourceUnavailable
		}
		return testutil.SyntheticSpectrum{
			Binning:    spectrum.DefaultBinning(),
			Background: 1000,
			Peaks: []testutil.SyntheticPeak{
				{Center: 122, Sigma: 1.5, Area: 10000 * math.Exp(-0.1*s.Concentration)},
				{Center: 779, Sigma: 2.5, Area: 16000},
			},
		}.Build(), nil
	}
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	records, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return records
}

func TestEmit(t *testing.T) {
	loader := NewCollectingLoader(syntheticLoader())
	res := runScan(t, loader, "")
	assert.Len(t, loader.Spectra(), 6)

	dir := t.TempDir()
	e := &Emitter{Dir: dir, Prefix: "eu152"}
	files, err := e.Emit(res, loader.Spectra())
	require.NoError(t, err)
	require.Len(t, files, 6)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), f)
		assert.True(t, strings.HasPrefix(filepath.Base(f), "eu152_"))
	}

	f, err := os.Open(filepath.Join(dir, "eu152_"+FileCSV))
	require.NoError(t, err)
	defer f.Close()
	records := readCSV(t, f)
	require.Len(t, records, 7)
	assert.Equal(t, CSVHeader, records[0])

	// 2% 为首个可检出样品
	row := records[3]
	assert.Equal(t, "2", row[0])
	assert.Equal(t, "yes", row[16])
	assert.Equal(t, "no", row[17])
	assert.Equal(t, "DETECTABLE", row[18])

	raw, err := os.ReadFile(filepath.Join(dir, "eu152_"+FileJSON))
	require.NoError(t, err)
	var decoded pipeline.Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded.Samples, 6)
	assert.True(t, decoded.Experimental.LODFound)
}

func TestEmitNoPlots(t *testing.T) {
	res := runScan(t, syntheticLoader(), "")
	files, err := (&Emitter{Dir: filepath.Join(t.TempDir(), "out"), NoPlots: true}).Emit(res, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{FileCSV, FileJSON}, []string{filepath.Base(files[0]), filepath.Base(files[1])})
	assert.Len(t, files, 2)
}

func TestEmitSkipsFailingPlot(t *testing.T) {
	res := runScan(t, syntheticLoader(), "")
	// 没有能谱时能谱图失败，其余文件照常生成
	files, err := (&Emitter{Dir: t.TempDir()}).Emit(res, nil)
	require.NoError(t, err)
	assert.Len(t, files, 5)
	for _, f := range files {
		assert.NotEqual(t, FileSpectra, filepath.Base(f))
	}
}

func TestWriteCSVSkippedRow(t *testing.T) {
	res := runScan(t, syntheticLoader(), "missing_6")

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res, ""))
	records := readCSV(t, &buf)
	require.Len(t, records, 8)

	last := records[7]
	assert.Equal(t, "missing_6", last[2])
	assert.Equal(t, "true", last[3])
	require.Len(t, last, len(CSVHeader))
	for _, cell := range last[4:] {
		assert.Empty(t, cell)
	}

	// 参考样品的 Z 为 0
	ref := records[1]
	assert.Equal(t, "0", ref[14])
	assert.Equal(t, "NOT_DETECTABLE", ref[18])
}

func TestWriteCSVEncoding(t *testing.T) {
	res := runScan(t, syntheticLoader(), "")

	var plain bytes.Buffer
	require.NoError(t, WriteCSV(&plain, res, "utf-8"))

	tests := []struct {
		name     string
		encoding string
	}{
		{name: "GBK", encoding: "gbk"},
		{name: "GB18030", encoding: "GB18030"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteCSV(&buf, res, tt.encoding))
			assert.NotEqual(t, plain.Bytes(), buf.Bytes())

			decoded, err := io.ReadAll(transform.NewReader(&buf, simplifiedchinese.GB18030.NewDecoder()))
			require.NoError(t, err)
			assert.Equal(t, plain.String(), string(decoded))
		})
	}

	assert.Error(t, WriteCSV(io.Discard, res, "latin1"))
}

func TestSummary(t *testing.T) {
	res := runScan(t, syntheticLoader(), "missing_6")
	text := Summary(res)

	assert.Contains(t, text, "处理 6 个样品，跳过 1 个")
	assert.Contains(t, text, "拟合 linear")
	assert.Contains(t, text, "实验 LOD = 2%, LOQ = 4%")
	assert.Contains(t, text, "跳过: ")
	assert.Contains(t, text, "DETECTABLE")
}

func TestPlotsWithoutData(t *testing.T) {
	empty := &pipeline.Result{Config: pipeline.DefaultConfig()}
	dir := t.TempDir()

	assert.ErrorIs(t, PlotCalibration(empty, filepath.Join(dir, FileCalibration)), errNothingToPlot)
	assert.ErrorIs(t, PlotZScores(empty, filepath.Join(dir, FileZScore)), errNothingToPlot)
	assert.ErrorIs(t, PlotDetectability(empty, filepath.Join(dir, FileDetectability)), errNothingToPlot)
	assert.ErrorIs(t, PlotSpectra(empty, nil, filepath.Join(dir, FileSpectra)), errNothingToPlot)
}
