package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reecal-service/service/meta"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"REECAL_CONFIG", "LISTEN_PORT", "BASE_CONTEXT", "DATABASE_URL", "DB_DRIVER", "DB_HOST", "DB_PORT",
		"REDIS_HOST", "REDIS_PORT", "KAFKA_BROKERS", "MQTT_BROKER", "REECAL_DATA_DIR", "REECAL_HIGH_LINE", "REECAL_CRON",
		"SUBMIT_LIMIT", "SUBMIT_LIMIT_PER_CLIENT", "RUN_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Schedule.Enabled())
	assert.False(t, cfg.Server.SubmitLimit.Enabled())
	assert.False(t, cfg.Retention.Enabled())
	assert.Empty(t, cfg.DataSources)

	pc, err := cfg.Analysis.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, meta.ObservableCountRatio, pc.Observable)
	assert.Equal(t, 778.90, pc.High.Window.Center)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "reecal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
analysis:
  data_source_id: sim
  high_line: Eu152-1408
  observable: R
  fit_model: exponential
  normalization: events
  fit_min: 1
  detection: 2
  quantification: 8
schedule:
  cron: "0 */6 * * *"
  lock_ttl: 10m
data_sources:
  - id: sim
    type: file_csv
    connection:
      base_dir: /data/sim
      unit: MeV
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Schedule.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.Schedule.LockTTL)

	ds, ok := cfg.DataSource("sim")
	require.True(t, ok)
	dsCfg := ds.ToDataSource()
	assert.Equal(t, "/data/sim", dsCfg.Connection["base_dir"])

	pc, err := cfg.Analysis.PipelineConfig()
	require.NoError(t, err)
	assert.Equal(t, 1408.01, pc.High.Window.Center)
	assert.Equal(t, meta.ObservableRatio, pc.Observable)
	assert.Equal(t, meta.FitModelExponential, pc.FitModel)
	assert.Equal(t, meta.NormalizationEvents, pc.Normalization)
	assert.Equal(t, 1.0, pc.FitDomain.Min)
	assert.Equal(t, 2.0, pc.Thresholds.Detection)
	assert.Equal(t, 8.0, pc.Thresholds.Quantification)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_PORT", "9090")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REECAL_DATA_DIR", "/data/eu152")
	t.Setenv("REECAL_HIGH_LINE", "1408")
	t.Setenv("REECAL_CRON", "@hourly")
	t.Setenv("SUBMIT_LIMIT_PER_CLIENT", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN(), "host=pg port=6543")
	assert.Equal(t, "cache:6379", cfg.Redis.Address)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "Eu152-1408", cfg.Analysis.HighLine)
	assert.Equal(t, "@hourly", cfg.Schedule.Cron)
	assert.True(t, cfg.Server.SubmitLimit.Enabled())
	assert.Equal(t, 5, cfg.Server.SubmitLimit.PerClient)
	assert.Equal(t, 60, cfg.Server.SubmitLimit.WindowSeconds)

	ds, ok := cfg.DataSource(DefaultDataSourceID)
	require.True(t, ok)
	assert.Equal(t, meta.DataSourceTypeFileCSV, ds.Type)
	assert.Equal(t, "/data/eu152", ds.Connection["base_dir"])
	assert.Equal(t, meta.UnitMeV, ds.Connection["unit"])
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "端口不是整数", env: map[string]string{"LISTEN_PORT": "eighty"}},
		{name: "未知高能线", env: map[string]string{"REECAL_HIGH_LINE": "1000"}},
		{name: "未知数据库驱动", env: map[string]string{"DB_DRIVER": "oracle"}},
		{name: "数据源ID重复", file: "data_sources:\n  - {id: a, type: memory}\n  - {id: a, type: memory}\n"},
		{name: "未知数据源类型", file: "data_sources:\n  - {id: a, type: ftp}\n"},
		{name: "未知观测量", file: "analysis:\n  observable: X\n"},
		{name: "未知谱线", file: "analysis:\n  low_line: Cs137-662\n"},
		{name: "保留天数为负", env: map[string]string{"RUN_RETENTION_DAYS": "-1"}},
		{name: "限流窗口无效", file: "server:\n  submit_limit: {window_seconds: 0, max_requests: 10}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "c.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o644))
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
