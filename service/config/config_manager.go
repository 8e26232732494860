/*
 * @module service/config/config_manager
 * @description 服务配置加载：默认值 -> YAML/JSON 文件 -> 环境变量覆盖 -> 校验
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow 默认配置 -> 读取配置文件 -> 环境变量覆盖 -> 校验 -> 生成流水线配置
 * @rules 配置文件可选，未找到时使用默认值；环境变量优先于文件
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs service/pipeline/config.go, service/datasource
 */

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"reecal-service/service/calibration"
	"reecal-service/service/datasource"
	"reecal-service/service/detectability"
	"reecal-service/service/meta"
	"reecal-service/service/peak"
	"reecal-service/service/pipeline"
	"reecal-service/service/spectrum"
)

// DefaultDataSourceID 由 REECAL_DATA_DIR 生成的本地 CSV 数据源
const DefaultDataSourceID = "local"

// Config 服务配置
type Config struct {
	App         AppConfig          `json:"app" yaml:"app"`
	Server      ServerConfig       `json:"server" yaml:"server"`
	Database    DatabaseConfig     `json:"database" yaml:"database"`
	Redis       RedisConfig        `json:"redis" yaml:"redis"`
	Kafka       KafkaConfig        `json:"kafka" yaml:"kafka"`
	MQTT        MQTTConfig         `json:"mqtt" yaml:"mqtt"`
	Analysis    AnalysisConfig     `json:"analysis" yaml:"analysis"`
	Schedule    ScheduleConfig     `json:"schedule" yaml:"schedule"`
	Retention   RetentionConfig    `json:"retention" yaml:"retention"`
	DataSources []DataSourceConfig `json:"data_sources" yaml:"data_sources"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `json:"name" yaml:"name"`
	Environment string `json:"environment" yaml:"environment"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int             `json:"port" yaml:"port"`
	BaseContext    string          `json:"base_context" yaml:"base_context"`
	AllowedOrigins []string        `json:"allowed_origins" yaml:"allowed_origins"`
	SubmitLimit    RateLimitConfig `json:"submit_limit" yaml:"submit_limit"`
}

// RateLimitConfig 分析提交限流，MaxRequests 为 0 表示不限流
type RateLimitConfig struct {
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds"`
	MaxRequests   int `json:"max_requests" yaml:"max_requests"`
	PerClient     int `json:"per_client" yaml:"per_client"`
}

// Enabled 是否启用限流
func (r RateLimitConfig) Enabled() bool {
	return r.MaxRequests > 0 || r.PerClient > 0
}

// DatabaseConfig 结果库配置，Driver 为 postgres 或 sqlite
type DatabaseConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	URL        string `json:"url" yaml:"url"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Database   string `json:"database" yaml:"database"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	SSLMode    string `json:"ssl_mode" yaml:"ssl_mode"`
	Schema     string `json:"schema" yaml:"schema"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

// DSN postgres 连接串，URL 优先
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode, d.Schema)
}

// RedisConfig Redis 配置，Address 为空表示不启用
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`
	Channel  string `json:"channel" yaml:"channel"`
}

// KafkaConfig Kafka 配置，Brokers 为空表示不启用
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// MQTTConfig MQTT 配置，Broker 为空表示不启用
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
}

// ScheduleConfig 定时重新分析
type ScheduleConfig struct {
	Cron    string        `json:"cron" yaml:"cron"`
	LockKey string        `json:"lock_key" yaml:"lock_key"`
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
}

// Enabled 是否配置了定时任务
func (s ScheduleConfig) Enabled() bool {
	return strings.TrimSpace(s.Cron) != ""
}

// RetentionConfig 分析记录保留策略，Days 为 0 表示永久保留
type RetentionConfig struct {
	Days int    `json:"days" yaml:"days"`
	Cron string `json:"cron" yaml:"cron"` // 秒 分 时 日 月 周
}

// Enabled 是否定期清理过期分析记录
func (r RetentionConfig) Enabled() bool {
	return r.Days > 0
}

// DataSourceConfig 数据集来源配置
type DataSourceConfig struct {
	ID         string                 `json:"id" yaml:"id"`
	Type       string                 `json:"type" yaml:"type"`
	Connection map[string]interface{} `json:"connection" yaml:"connection"`
}

// ToDataSource 转换为数据源注册配置
func (d DataSourceConfig) ToDataSource() *datasource.Config {
	conn := make(map[string]interface{}, len(d.Connection))
	for k, v := range d.Connection {
		conn[k] = v
	}
	return &datasource.Config{ID: d.ID, Type: d.Type, Connection: conn}
}

// AnalysisConfig 分析参数，谱线用目录键表示
type AnalysisConfig struct {
	DataSourceID   string   `json:"data_source_id" yaml:"data_source_id"`
	DataDir        string   `json:"data_dir" yaml:"data_dir"`
	LowLine        string   `json:"low_line" yaml:"low_line"`
	HighLine       string   `json:"high_line" yaml:"high_line"`
	LowHalfWidth   float64  `json:"low_half_width" yaml:"low_half_width"`
	HighHalfWidth  float64  `json:"high_half_width" yaml:"high_half_width"`
	Observable     string   `json:"observable" yaml:"observable"`
	FitModel       string   `json:"fit_model" yaml:"fit_model"`
	Normalization  string   `json:"normalization" yaml:"normalization"`
	FitMin         *float64 `json:"fit_min,omitempty" yaml:"fit_min,omitempty"`
	FitMax         *float64 `json:"fit_max,omitempty" yaml:"fit_max,omitempty"`
	Detection      float64  `json:"detection" yaml:"detection"`
	Quantification float64  `json:"quantification" yaml:"quantification"`
	Bins           int      `json:"bins" yaml:"bins"`
	MinKeV         float64  `json:"min_kev" yaml:"min_kev"`
	MaxKeV         float64  `json:"max_kev" yaml:"max_kev"`
	Unit           string   `json:"unit" yaml:"unit"`
	Column         string   `json:"column" yaml:"column"`
	RatioFloor     float64  `json:"ratio_floor" yaml:"ratio_floor"`
	Concurrency    int      `json:"concurrency" yaml:"concurrency"`
}

// PipelineConfig 生成流水线配置，未设置的字段取默认值
func (a AnalysisConfig) PipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	if a.LowLine != "" {
		line, err := meta.GetGammaLine(a.LowLine)
		if err != nil {
			return cfg, err
		}
		cfg.Low = pipeline.ROIFromLine(line)
	}
	if a.HighLine != "" {
		line, err := meta.GetGammaLine(a.HighLine)
		if err != nil {
			return cfg, err
		}
		cfg.High = pipeline.ROIFromLine(line)
	}
	if a.LowHalfWidth > 0 {
		cfg.Low.Window = peak.Window{Center: cfg.Low.Window.Center, HalfWidth: a.LowHalfWidth}
	}
	if a.HighHalfWidth > 0 {
		cfg.High.Window = peak.Window{Center: cfg.High.Window.Center, HalfWidth: a.HighHalfWidth}
	}
	if a.Observable != "" {
		cfg.Observable = a.Observable
	}
	if a.FitModel != "" {
		cfg.FitModel = a.FitModel
	}
	if a.Normalization != "" {
		cfg.Normalization = a.Normalization
	}
	if a.FitMin != nil || a.FitMax != nil {
		d := calibration.AllConcentrations()
		if a.FitMin != nil {
			d.Min = *a.FitMin
		}
		if a.FitMax != nil {
			d.Max = *a.FitMax
		}
		cfg.FitDomain = d
	}
	if a.Detection > 0 || a.Quantification > 0 {
		th := detectability.DefaultThresholds()
		if a.Detection > 0 {
			th.Detection = a.Detection
		}
		if a.Quantification > 0 {
			th.Quantification = a.Quantification
		}
		cfg.Thresholds = th
	}
	if a.Bins > 0 || a.MaxKeV > 0 {
		b := spectrum.DefaultBinning()
		if a.Bins > 0 {
			b.Bins = a.Bins
		}
		b.Min = a.MinKeV
		if a.MaxKeV > 0 {
			b.Max = a.MaxKeV
		}
		cfg.Binning = b
	}
	if a.Unit != "" {
		cfg.Unit = a.Unit
	}
	if a.Column != "" {
		cfg.Column = a.Column
	}
	if a.RatioFloor > 0 {
		cfg.RatioFloor = a.RatioFloor
	}
	if a.Concurrency > 0 {
		cfg.Concurrency = a.Concurrency
	}
	return cfg, cfg.Validate()
}

// Default 默认配置
func Default() *Config {
	return &Config{
		App:    AppConfig{Name: "reecal-service", Environment: "development"},
		Server: ServerConfig{
			Port:           80,
			AllowedOrigins: []string{"*"},
			SubmitLimit:    RateLimitConfig{WindowSeconds: 60},
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Host:       "localhost",
			Port:       5432,
			Database:   "postgres",
			Username:   "postgres",
			SSLMode:    "disable",
			Schema:     "public",
			SQLitePath: "reecal.db",
		},
		Redis: RedisConfig{Channel: "reecal:events"},
		Kafka: KafkaConfig{Topic: "reecal.analysis"},
		MQTT:  MQTTConfig{ClientID: "reecal-service", Topic: "reecal/analysis"},
		Analysis: AnalysisConfig{
			DataSourceID: DefaultDataSourceID,
			LowLine:      meta.DefaultLowLine,
			HighLine:     meta.DefaultHighLine,
		},
		Schedule:  ScheduleConfig{LockKey: "reecal:lock:scheduled-analysis", LockTTL: 30 * time.Minute},
		Retention: RetentionConfig{Cron: "0 0 2 * * *"},
	}
}

// Load 加载配置，path 为空时依次尝试 REECAL_CONFIG、config.yaml、config.json
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := []string{path}
	if path == "" {
		candidates = []string{os.Getenv("REECAL_CONFIG"), "config.yaml", "config.json"}
	}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if path != "" {
				return nil, fmt.Errorf("配置文件不存在: %s", p)
			}
			continue
		}
		if err := loadFile(p, cfg); err != nil {
			return nil, err
		}
		break
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %v", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %v", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("不支持的配置文件格式: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("解析配置文件失败: %v", err)
	}
	return nil
}

// applyEnvironmentOverrides 环境变量覆盖
func applyEnvironmentOverrides(cfg *Config) error {
	var err error
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			var n int
			if n, err = cast.ToIntE(v); err != nil {
				err = fmt.Errorf("环境变量 %s 不是整数: %q", key, v)
				return
			}
			*dst = n
		}
	}

	setInt("LISTEN_PORT", &cfg.Server.Port)
	setString("BASE_CONTEXT", &cfg.Server.BaseContext)
	setInt("SUBMIT_LIMIT", &cfg.Server.SubmitLimit.MaxRequests)
	setInt("SUBMIT_LIMIT_PER_CLIENT", &cfg.Server.SubmitLimit.PerClient)

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}
	if os.Getenv("DB_HOST") != "" {
		cfg.Database.Driver = "postgres"
	}
	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("DB_HOST", &cfg.Database.Host)
	setInt("DB_PORT", &cfg.Database.Port)
	setString("DB_USER", &cfg.Database.Username)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_NAME", &cfg.Database.Database)
	setString("DB_SSLMODE", &cfg.Database.SSLMode)
	setString("DB_SCHEMA", &cfg.Database.Schema)
	setString("SQLITE_PATH", &cfg.Database.SQLitePath)

	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		cfg.Redis.Address = host + ":" + port
	}
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.Database)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	setString("MQTT_BROKER", &cfg.MQTT.Broker)

	setString("REECAL_DATA_DIR", &cfg.Analysis.DataDir)
	if v := os.Getenv("REECAL_HIGH_LINE"); v != "" && err == nil {
		kev, cerr := cast.ToIntE(v)
		if cerr != nil {
			return fmt.Errorf("环境变量 REECAL_HIGH_LINE 不是整数: %q", v)
		}
		if _, lerr := meta.HighLineForEnergy(kev); lerr != nil {
			return lerr
		}
		cfg.Analysis.HighLine = fmt.Sprintf("Eu152-%d", kev)
	}
	setString("REECAL_CRON", &cfg.Schedule.Cron)
	setInt("RUN_RETENTION_DAYS", &cfg.Retention.Days)
	if err != nil {
		return err
	}

	ensureDataDirSource(cfg)
	return nil
}

// ensureDataDirSource 配置了数据目录但没有同名数据源时，生成本地 CSV 数据源
func ensureDataDirSource(cfg *Config) {
	if cfg.Analysis.DataDir == "" {
		return
	}
	for _, ds := range cfg.DataSources {
		if ds.ID == DefaultDataSourceID {
			return
		}
	}
	unit := cfg.Analysis.Unit
	if unit == "" {
		unit = meta.UnitMeV
	}
	cfg.DataSources = append(cfg.DataSources, DataSourceConfig{
		ID:   DefaultDataSourceID,
		Type: meta.DataSourceTypeFileCSV,
		Connection: map[string]interface{}{
			"base_dir": cfg.Analysis.DataDir,
			"unit":     unit,
		},
	})
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("服务器端口无效: %d", c.Server.Port)
	}
	if l := c.Server.SubmitLimit; l.Enabled() && (l.WindowSeconds <= 0 || l.MaxRequests < 0 || l.PerClient < 0) {
		return fmt.Errorf("分析提交限流配置无效: 窗口 %d 秒, 全局 %d, 单客户端 %d", l.WindowSeconds, l.MaxRequests, l.PerClient)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("数据库主机不能为空")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite 路径不能为空")
		}
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}

	seen := make(map[string]bool)
	for _, ds := range c.DataSources {
		if ds.ID == "" {
			return fmt.Errorf("数据源ID不能为空")
		}
		if seen[ds.ID] {
			return fmt.Errorf("数据源ID重复: %s", ds.ID)
		}
		seen[ds.ID] = true
		if _, ok := meta.DataSourceTypes[ds.Type]; !ok {
			return fmt.Errorf("数据源 %s 类型不支持: %s", ds.ID, ds.Type)
		}
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("分析记录保留天数无效: %d", c.Retention.Days)
	}
	if c.Retention.Enabled() && strings.TrimSpace(c.Retention.Cron) == "" {
		return fmt.Errorf("分析记录清理周期不能为空")
	}

	if _, err := c.Analysis.PipelineConfig(); err != nil {
		return fmt.Errorf("分析参数无效: %w", err)
	}
	return nil
}

// DataSource 按ID查找数据源配置
func (c *Config) DataSource(id string) (DataSourceConfig, bool) {
	for _, ds := range c.DataSources {
		if ds.ID == id {
			return ds, true
		}
	}
	return DataSourceConfig{}, false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
