package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"reecal-service/api/controllers"
	"reecal-service/service/analysis"
	"reecal-service/service/config"
	"reecal-service/service/datasource"
	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/models"
	"reecal-service/service/monitoring"
	"reecal-service/service/report"
	"reecal-service/service/spectrum"
	"reecal-service/service/storage"
	"reecal-service/testutil"
)

type runResponse struct {
	Status int                `json:"status"`
	Msg    string             `json:"msg"`
	Data   models.AnalysisRun `json:"data"`
}

func newTestRouter(t *testing.T) (*chi.Mux, *analysis.Service) {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)

	manager := datasource.NewDataSourceRegistry().GetManager()
	require.NoError(t, manager.Register(context.Background(), &datasource.Config{
		ID:         "mem",
		Type:       meta.DataSourceTypeMemory,
		Connection: map[string]interface{}{"unit": meta.UnitMeV},
	}))
	ds, err := manager.Get("mem")
	require.NoError(t, err)
	mem := ds.(*datasource.MemoryDataSource)
	for i, c := range []float64{0, 1, 2, 3, 4} {
		events := testutil.SyntheticSpectrum{
			Binning:    spectrum.DefaultBinning(),
			Background: 20,
			Peaks: []testutil.SyntheticPeak{
				{Center: 121.78, Sigma: 1.5, Area: 6000 * math.Exp(-0.15*c)},
				{Center: 778.9, Sigma: 2.5, Area: 9000},
			},
		}.Events(0.001)
		mem.Put(fmt.Sprintf("Eu152_REE_0p0%d", i), "Energy", events)
	}

	base := config.Default().Analysis
	base.DataSourceID = "mem"
	svc := analysis.NewService(storage.NewRunRepository(tdb.DB), manager, nil, nil, base)

	r := chi.NewRouter()
	Register(r, Dependencies{
		Analysis:    svc,
		DataSources: manager,
		Health:      monitoring.NewHealthChecker(tdb.DB, manager),
		Thresholds:  detectability.DefaultThresholds(),
	})
	return r, svc
}

func TestHealthRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		path   string
		status string
	}{
		{name: "存活检查", path: "/health", status: "ok"},
		{name: "就绪检查", path: "/ready", status: "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoJSON(t, r, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var resp controllers.HealthResponse
			testutil.DecodeJSON(t, rec, &resp)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestMetaRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name     string
		path     string
		contains string
	}{
		{name: "谱线目录", path: "/meta/lines", contains: "Eu-152 778.90 keV"},
		{name: "数据源类型", path: "/meta/data-source-types", contains: meta.DataSourceTypeFileCSV},
		{name: "分析参数", path: "/meta/analysis-options", contains: meta.FitModelExponential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoJSON(t, r, http.MethodGet, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestDataSourceRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := testutil.DoJSON(t, r, http.MethodGet, "/data-sources/mem/datasets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var datasets struct {
		Data []string `json:"data"`
	}
	testutil.DecodeJSON(t, rec, &datasets)
	assert.Len(t, datasets.Data, 5)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{
			name:     "注册CSV目录",
			body:     controllers.RegisterDataSourceRequest{ID: "csv", Type: meta.DataSourceTypeFileCSV, Connection: map[string]interface{}{"base_dir": t.TempDir(), "unit": "keV"}},
			wantCode: http.StatusOK,
		},
		{
			name:     "缺少单位",
			body:     controllers.RegisterDataSourceRequest{ID: "csv2", Type: meta.DataSourceTypeFileCSV, Connection: map[string]interface{}{"base_dir": t.TempDir()}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "未知类型",
			body:     controllers.RegisterDataSourceRequest{ID: "x", Type: "ftp", Connection: map[string]interface{}{}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "重复ID",
			body:     controllers.RegisterDataSourceRequest{ID: "mem", Type: meta.DataSourceTypeMemory, Connection: map[string]interface{}{"unit": "MeV"}},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoJSON(t, r, http.MethodPost, "/data-sources", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	rec = testutil.DoJSON(t, r, http.MethodDelete, "/data-sources/csv", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = testutil.DoJSON(t, r, http.MethodDelete, "/data-sources/csv", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalysisRoutes(t *testing.T) {
	r, svc := newTestRouter(t)

	rec := testutil.DoJSON(t, r, http.MethodPost, "/analyses?wait=true", analysis.Request{Name: "同步"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created runResponse
	testutil.DecodeJSON(t, rec, &created)
	assert.Equal(t, models.RunStatusSuccess, created.Data.Status)
	assert.Len(t, created.Data.Samples, 5)
	id := created.Data.ID

	rec = testutil.DoJSON(t, r, http.MethodPost, "/analyses", analysis.Request{Name: "异步"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued runResponse
	testutil.DecodeJSON(t, rec, &queued)
	assert.Equal(t, models.RunStatusPending, queued.Data.Status)
	svc.Wait()

	rec = testutil.DoJSON(t, r, http.MethodGet, "/analyses?page=1&size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page controllers.PaginatedResponse
	testutil.DecodeJSON(t, rec, &page)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.Size)

	rec = testutil.DoJSON(t, r, http.MethodGet, "/analyses/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = testutil.DoJSON(t, r, http.MethodPost, "/analyses?wait=true", analysis.Request{DataSourceID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = testutil.DoJSON(t, r, http.MethodGet, "/analyses/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = testutil.DoJSON(t, r, http.MethodDelete, "/analyses/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = testutil.DoJSON(t, r, http.MethodDelete, "/analyses/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportCSV(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := testutil.DoJSON(t, r, http.MethodPost, "/analyses?wait=true", analysis.Request{})
	require.Equal(t, http.StatusOK, rec.Code)
	var created runResponse
	testutil.DecodeJSON(t, rec, &created)
	path := "/analyses/" + created.Data.ID + "/results.csv"

	tests := []struct {
		name     string
		encoding string
		decode   func(io.Reader) io.Reader
	}{
		{name: "UTF-8", decode: func(r io.Reader) io.Reader { return r }},
		{name: "GBK", encoding: "gbk", decode: func(r io.Reader) io.Reader {
			return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := path
			if tt.encoding != "" {
				url += "?encoding=" + tt.encoding
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))

			records, err := csv.NewReader(tt.decode(rec.Body)).ReadAll()
			require.NoError(t, err)
			require.Len(t, records, 6)
			assert.Equal(t, report.CSVHeader, records[0])
			assert.Equal(t, "Eu152_REE_0p00", records[1][2])
		})
	}

	rec = testutil.DoJSON(t, r, http.MethodGet, path+"?encoding=latin1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectionRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{name: "外推", body: analysis.ProjectionRequest{Z: -1.5}, wantCode: http.StatusOK},
		{name: "负倍数", body: analysis.ProjectionRequest{Z: 1, EventFactor: -1}, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.DoJSON(t, r, http.MethodPost, "/detectability/projection", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}
