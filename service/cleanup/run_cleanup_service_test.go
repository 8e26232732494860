package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/config"
	"reecal-service/service/models"
	"reecal-service/service/storage"
	"reecal-service/testutil"
)

func TestCleanupExpiredRuns(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	repo := storage.NewRunRepository(tdb.DB)
	ctx := context.Background()
	now := time.Date(2024, 6, 30, 2, 0, 0, 0, time.UTC)

	runs := []struct {
		name   string
		age    time.Duration
		status string
		kept   bool
	}{
		{name: "old-success", age: 40 * 24 * time.Hour, status: models.RunStatusSuccess},
		{name: "old-failed", age: 31 * 24 * time.Hour, status: models.RunStatusFailed},
		{name: "old-running", age: 40 * 24 * time.Hour, status: models.RunStatusRunning, kept: true},
		{name: "recent", age: 24 * time.Hour, status: models.RunStatusSuccess, kept: true},
	}
	ids := make(map[string]string)
	for _, r := range runs {
		run := &models.AnalysisRun{Name: r.name, Status: r.status, CreatedAt: now.Add(-r.age)}
		run.Samples = []models.SampleResult{{Label: "0.00%", IsReference: true}}
		require.NoError(t, repo.Save(ctx, run))
		ids[r.name] = run.ID
	}

	svc := NewRunCleanupService(repo, config.RetentionConfig{Days: 30, Cron: "0 0 2 * * *"})
	svc.now = func() time.Time { return now }

	deleted, err := svc.CleanupExpiredRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	for _, r := range runs {
		_, err := repo.Get(ctx, ids[r.name])
		if r.kept {
			assert.NoError(t, err, r.name)
		} else {
			assert.ErrorIs(t, err, storage.ErrRunNotFound, r.name)
		}
	}

	var orphans int64
	require.NoError(t, tdb.DB.Model(&models.SampleResult{}).
		Where("run_id IN ?", []string{ids["old-success"], ids["old-failed"]}).Count(&orphans).Error)
	assert.Zero(t, orphans)
}

func TestRunCleanupServiceStart(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RetentionConfig
		wantErr bool
	}{
		{name: "六段表达式", cfg: config.RetentionConfig{Days: 7, Cron: "0 0 2 * * *"}},
		{name: "描述符", cfg: config.RetentionConfig{Days: 7, Cron: "@daily"}},
		{name: "五段表达式", cfg: config.RetentionConfig{Days: 7, Cron: "0 2 * * *"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewRunCleanupService(noopStore{}, tt.cfg)
			err := svc.Start()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Error(t, svc.Start())
			svc.Stop()
			svc.Stop()
		})
	}
}

type noopStore struct{}

func (noopStore) DeleteFinishedBefore(context.Context, time.Time) (int64, error) { return 0, nil }
