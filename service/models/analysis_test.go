package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newModelTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接独立
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&AnalysisRun{}, &SampleResult{}))
	return db
}

func TestAnalysisRunBeforeCreate(t *testing.T) {
	db := newModelTestDB(t)

	run := &AnalysisRun{Name: "默认值", Config: JSONB{"observable": "Q", "concurrency": float64(4)}}
	require.NoError(t, db.Create(run).Error)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, TriggerAPI, run.Trigger)

	var got AnalysisRun
	require.NoError(t, db.First(&got, "id = ?", run.ID).Error)
	assert.Equal(t, "Q", got.Config["observable"])
	assert.Equal(t, float64(4), got.Config["concurrency"])
}

func TestAnalysisRunValidateStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr bool
	}{
		{name: "待执行", status: RunStatusPending},
		{name: "执行中", status: RunStatusRunning},
		{name: "成功", status: RunStatusSuccess},
		{name: "失败", status: RunStatusFailed},
		{name: "未知状态", status: "cancelled", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&AnalysisRun{Status: tt.status}).ValidateStatus()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	db := newModelTestDB(t)
	assert.Error(t, db.Create(&AnalysisRun{Status: "cancelled"}).Error)
}

func TestSampleResultRequiresRun(t *testing.T) {
	db := newModelTestDB(t)

	assert.Error(t, db.Create(&SampleResult{Label: "孤立样品"}).Error)

	run := &AnalysisRun{Name: "样品归属"}
	require.NoError(t, db.Create(run).Error)
	s := &SampleResult{RunID: run.ID, Label: "0.20%"}
	require.NoError(t, db.Create(s).Error)
	assert.NotEmpty(t, s.ID)
}

func TestJSONB(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	j, err := ToJSONB(payload{Name: "R", Value: 0.5})
	require.NoError(t, err)

	v, err := j.Value()
	require.NoError(t, err)

	var scanned JSONB
	require.NoError(t, scanned.Scan(v))
	var out payload
	require.NoError(t, scanned.Decode(&out))
	assert.Equal(t, payload{Name: "R", Value: 0.5}, out)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)
	assert.Error(t, scanned.Scan(42))

	var empty JSONB
	v, err = empty.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
