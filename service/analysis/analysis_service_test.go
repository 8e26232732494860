package analysis

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/config"
	"reecal-service/service/datasource"
	"reecal-service/service/detectability"
	"reecal-service/service/event"
	"reecal-service/service/meta"
	"reecal-service/service/models"
	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
	"reecal-service/service/storage"
	"reecal-service/testutil"
)

type recordingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fixture struct {
	svc    *Service
	repo   *storage.RunRepository
	memory *datasource.MemoryDataSource
	pub    *recordingPublisher
}

// 122 keV 峰随浓度衰减，779 keV 峰不变
func fillScan(mem *datasource.MemoryDataSource, ids map[string]float64) {
	for id, c := range ids {
		events := testutil.SyntheticSpectrum{
			Binning:    spectrum.DefaultBinning(),
			Background: 20,
			Peaks: []testutil.SyntheticPeak{
				{Center: 121.78, Sigma: 1.5, Area: 6000 * math.Exp(-0.15*c)},
				{Center: 778.9, Sigma: 2.5, Area: 9000},
			},
		}.Events(0.001)
		mem.Put(id, "Energy", events)
	}
}

func pipelineSample(id string, c float64) pipeline.Sample {
	return pipeline.Sample{
		Label:         id,
		Identifier:    id,
		Concentration: c,
		Sweep:         pipeline.SweepFor(c),
		IsReference:   c == 0,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tdb := testutil.NewTestDB()
	t.Cleanup(tdb.Close)
	repo := storage.NewRunRepository(tdb.DB)

	manager := datasource.NewDataSourceRegistry().GetManager()
	require.NoError(t, manager.Register(context.Background(), &datasource.Config{
		ID:         "mem",
		Type:       meta.DataSourceTypeMemory,
		Connection: map[string]interface{}{"unit": meta.UnitMeV},
	}))
	ds, err := manager.Get("mem")
	require.NoError(t, err)
	mem := ds.(*datasource.MemoryDataSource)

	fillScan(mem, map[string]float64{
		"Eu152_REE_0p00": 0,
		"Eu152_REE_0p01": 1,
		"Eu152_REE_0p02": 2,
		"Eu152_REE_0p03": 3,
		"Eu152_REE_0p04": 4,
	})
	mem.Put("说明文件", "Energy", []float64{0.1})

	pub := &recordingPublisher{}
	base := config.Default().Analysis
	base.DataSourceID = "mem"
	svc := NewService(repo, manager, event.NewEventService(pub), nil, base)
	return &fixture{svc: svc, repo: repo, memory: mem, pub: pub}
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	run, res, err := f.svc.Run(context.Background(), Request{Name: "同步分析"}, models.TriggerAPI)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, "Eu152_REE_0p00", res.Reference.Identifier)
	assert.Equal(t, 1, f.pub.count())

	stored, err := f.svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, stored.Status)
	assert.Equal(t, "mem", stored.DataSourceID)
	assert.Len(t, stored.Samples, 5)
	assert.NotNil(t, stored.FinishedAt)

	runs, total, err := f.svc.List(context.Background(), storage.ListOptions{DataSourceID: "mem"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, runs, 1)
}

func TestRunInvalidRequest(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  Request
	}{
		{name: "未注册数据源", req: Request{DataSourceID: "nope"}},
		{name: "未知高能线", req: Request{HighLine: 1234}},
		{name: "未知观测量", req: Request{Observable: "X"}},
		{name: "未知拟合模型", req: Request{FitModel: "cubic"}},
		{name: "未知归一化", req: Request{Normalization: "live-time"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, res, err := f.svc.Run(context.Background(), tt.req, models.TriggerAPI)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, run)
			assert.Nil(t, res)
		})
	}

	_, total, err := f.repo.List(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, f.pub.count())
}

func TestRunMissingReferenceFails(t *testing.T) {
	f := newFixture(t)
	f.memory.Delete("Eu152_REE_0p00")

	run, res, err := f.svc.Run(context.Background(), Request{}, models.TriggerAPI)
	require.Error(t, err)
	assert.Nil(t, res)
	require.NotNil(t, run)

	stored, gerr := f.svc.Get(context.Background(), run.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.Equal(t, 1, f.pub.count())
}

func TestRunExplicitSamples(t *testing.T) {
	f := newFixture(t)
	samples := []struct {
		id string
		c  float64
	}{{"Eu152_REE_0p00", 0}, {"Eu152_REE_0p02", 2}, {"Eu152_REE_0p04", 4}}

	req := Request{Name: "指定样品"}
	for _, s := range samples {
		req.Samples = append(req.Samples, pipelineSample(s.id, s.c))
	}
	_, res, err := f.svc.Run(context.Background(), req, models.TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	queued, err := f.svc.Submit(context.Background(), Request{Name: "后台分析"}, models.TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, queued.Status)

	f.svc.Wait()
	stored, err := f.svc.Get(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, stored.Status)
	assert.Equal(t, 1, f.pub.count())

	_, err = f.svc.Submit(context.Background(), Request{DataSourceID: "nope"}, models.TriggerAPI)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunScheduled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RunScheduled(context.Background()))

	runs, _, err := f.repo.List(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggerSchedule, runs[0].Trigger)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	run, _, err := f.svc.Run(context.Background(), Request{}, models.TriggerAPI)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), run.ID))
	_, err = f.svc.Get(context.Background(), run.ID)
	assert.True(t, errors.Is(err, storage.ErrRunNotFound))
}

func TestProject(t *testing.T) {
	th := detectability.DefaultThresholds()
	limits := &detectability.Limits{Defined: true, LOD: 0.4, LOQ: 1.2}

	tests := []struct {
		name        string
		req         ProjectionRequest
		wantFactor  float64
		wantZ       float64
		wantVerdict detectability.Verdict
		wantErr     bool
	}{
		{
			name:        "默认外推到检出阈值",
			req:         ProjectionRequest{Z: -1.5},
			wantFactor:  4,
			wantZ:       -3,
			wantVerdict: "",
		},
		{
			name:        "指定事件倍数",
			req:         ProjectionRequest{Z: 2, EventFactor: 36},
			wantFactor:  36,
			wantZ:       12,
			wantVerdict: detectability.Quantifiable,
		},
		{
			name:        "按显著性提升倍数",
			req:         ProjectionRequest{Z: 1, Improvement: 2, Limits: limits},
			wantFactor:  4,
			wantZ:       2,
			wantVerdict: detectability.NotDetectable,
		},
		{
			name:        "Z 为 0 时不外推",
			req:         ProjectionRequest{Z: 0},
			wantFactor:  1,
			wantZ:       0,
			wantVerdict: detectability.NotDetectable,
		},
		{name: "负倍数", req: ProjectionRequest{Z: 1, EventFactor: -2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Project(tt.req, th)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantFactor, got.EventFactor, 1e-9)
			assert.InDelta(t, tt.wantZ, got.ProjectedZ, 1e-9)
			if tt.wantVerdict != "" {
				assert.Equal(t, tt.wantVerdict, got.ProjectedVerdict)
			}
			assert.Equal(t, th.Detection, got.Target)
			if tt.req.Limits != nil {
				require.NotNil(t, got.ProjectedLimits)
				assert.Less(t, got.ProjectedLimits.LOD, limits.LOD)
			} else {
				assert.Nil(t, got.ProjectedLimits)
			}
		})
	}
}
