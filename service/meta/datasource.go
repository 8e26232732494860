/*
 * @module service/meta/datasource
 * @description 能谱数据集来源类型元数据定义，描述每种来源的连接配置字段和校验规则
 * @architecture 元数据驱动 - 由类型定义驱动配置校验和前端展示
 * @documentReference DESIGN.md
 * @stateFlow 无状态，启动时注册全部内置类型
 * @rules 所有数据集来源必须在此注册类型定义，连接配置按定义校验
 * @dependencies regexp
 * @refs service/datasource/registry.go, service/config/config_manager.go
 */

package meta

import (
	"fmt"
	"regexp"
	"sort"
)

// 数据集来源类型
const (
	DataSourceTypeMemory         = "memory"
	DataSourceTypeFileCSV        = "file_csv"
	DataSourceTypeDBSQLite       = "db_sqlite"
	DataSourceTypeDBPostgreSQL   = "db_postgresql"
	DataSourceTypeCacheRedis     = "cache_redis"
	DataSourceTypeMessagingKafka = "messaging_kafka"
	DataSourceTypeMessagingMQTT  = "messaging_mqtt"
	DataSourceTypeApiHTTP        = "api_http"
)

// 数据集来源分类
const (
	DataSourceCategoryFile      = "file"
	DataSourceCategoryDatabase  = "database"
	DataSourceCategoryMessaging = "messaging"
	DataSourceCategoryAPI       = "api"
	DataSourceCategoryMemory    = "memory"
)

// DataSourceTypeDefinition 数据集来源类型定义
type DataSourceTypeDefinition struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Category    string                  `json:"category"`
	Description string                  `json:"description"`
	IsStream    bool                    `json:"is_stream"` // 流式来源需要读取超时
	Fields      []DataSourceConfigField `json:"fields"`
}

// DataSourceConfigField 连接配置字段定义
type DataSourceConfigField struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Type         string      `json:"type"` // string, number, boolean, array
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Description  string      `json:"description"`
	Options      []string    `json:"options,omitempty"`
	Pattern      string      `json:"pattern,omitempty"`
}

// ValidationResult 配置校验结果
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateConfig 按字段定义校验连接配置
func (d *DataSourceTypeDefinition) ValidateConfig(config map[string]interface{}) *ValidationResult {
	result := &ValidationResult{
		IsValid:  true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	for _, field := range d.Fields {
		value, exists := config[field.Name]

		if field.Required && (!exists || value == nil || value == "") {
			result.Errors = append(result.Errors, fmt.Sprintf("缺少必需字段: %s", field.DisplayName))
			result.IsValid = false
			continue
		}
		if !exists || value == nil {
			continue
		}

		if !validateFieldType(value, field.Type) {
			result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 类型不正确，期望: %s", field.DisplayName, field.Type))
			result.IsValid = false
			continue
		}

		strVal, isString := value.(string)
		if len(field.Options) > 0 && isString {
			found := false
			for _, option := range field.Options {
				if option == strVal {
					found = true
					break
				}
			}
			if !found {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 值不在允许的选项中: %v", field.DisplayName, field.Options))
				result.IsValid = false
			}
		}

		if field.Pattern != "" && isString {
			matched, err := regexp.MatchString(field.Pattern, strVal)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("字段 %s 正则表达式验证失败: %v", field.DisplayName, err))
			} else if !matched {
				result.Errors = append(result.Errors, fmt.Sprintf("字段 %s 格式不正确", field.DisplayName))
				result.IsValid = false
			}
		}
	}

	for name := range config {
		if d.field(name) == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("未知配置字段: %s", name))
		}
	}
	sort.Strings(result.Warnings)

	return result
}

func (d *DataSourceTypeDefinition) field(name string) *DataSourceConfigField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// validateFieldType 校验字段值类型
func validateFieldType(value interface{}, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		// 字符串按逗号分隔的列表处理，便于环境变量覆盖
		switch value.(type) {
		case []interface{}, []string, string:
			return true
		}
		return false
	default:
		return true
	}
}

// identifierPattern 表名、列名等SQL标识符格式
const identifierPattern = `^[A-Za-z_][A-Za-z0-9_]*$`

// 通用字段
var (
	columnField = DataSourceConfigField{
		Name: "column", DisplayName: "能量列名", Type: "string", DefaultValue: "Energy",
		Description: "能量沉积数据所在的列/字段名", Pattern: identifierPattern,
	}
	unitField = DataSourceConfigField{
		Name: "unit", DisplayName: "能量单位", Type: "string", Required: true,
		Description: "数据集能量单位，必须显式声明", Options: []string{"MeV", "keV"},
	}
	transformField = DataSourceConfigField{
		Name: "transform_script", DisplayName: "能量变换脚本", Type: "string",
		Description: "可选的Go脚本函数体，参数 e float64，返回 float64",
	}
	timeoutField = DataSourceConfigField{
		Name: "read_timeout", DisplayName: "读取超时(秒)", Type: "number", DefaultValue: 30,
		Description: "流式来源等待数据的最长时间",
	}
)

// DataSourceTypes 内置数据集来源类型
var DataSourceTypes = map[string]*DataSourceTypeDefinition{
	DataSourceTypeMemory: {
		ID: DataSourceTypeMemory, Name: "内存数据集", Category: DataSourceCategoryMemory,
		Description: "进程内注册的数据集，用于测试和合成能谱",
		Fields:      []DataSourceConfigField{columnField, unitField, transformField},
	},
	DataSourceTypeFileCSV: {
		ID: DataSourceTypeFileCSV, Name: "CSV文件", Category: DataSourceCategoryFile,
		Description: "目录下每个样品一个CSV文件，首行为表头",
		Fields: []DataSourceConfigField{
			{Name: "base_dir", DisplayName: "数据目录", Type: "string", Required: true, Description: "样品CSV文件所在目录"},
			{Name: "extension", DisplayName: "文件扩展名", Type: "string", DefaultValue: ".csv", Description: "标识符不含扩展名时自动追加"},
			{Name: "encoding", DisplayName: "文件编码", Type: "string", DefaultValue: "utf-8", Options: []string{"utf-8", "gbk", "gb18030"}},
			{Name: "delimiter", DisplayName: "分隔符", Type: "string", DefaultValue: ","},
			columnField, unitField, transformField,
		},
	},
	DataSourceTypeDBSQLite: {
		ID: DataSourceTypeDBSQLite, Name: "SQLite数据库", Category: DataSourceCategoryDatabase,
		Description: "SQLite中的打分表，每行一个事件的能量沉积",
		Fields: []DataSourceConfigField{
			{Name: "path", DisplayName: "数据库文件", Type: "string", Required: true},
			{Name: "table", DisplayName: "表名", Type: "string", DefaultValue: "scoring", Pattern: identifierPattern},
			{Name: "sample_column", DisplayName: "样品列名", Type: "string", DefaultValue: "sample", Pattern: identifierPattern},
			columnField, unitField, transformField,
		},
	},
	DataSourceTypeDBPostgreSQL: {
		ID: DataSourceTypeDBPostgreSQL, Name: "PostgreSQL数据库", Category: DataSourceCategoryDatabase,
		Description: "PostgreSQL中的打分表，每行一个事件的能量沉积",
		Fields: []DataSourceConfigField{
			{Name: "host", DisplayName: "主机", Type: "string", Required: true},
			{Name: "port", DisplayName: "端口", Type: "number", DefaultValue: 5432},
			{Name: "database", DisplayName: "数据库", Type: "string", Required: true},
			{Name: "username", DisplayName: "用户名", Type: "string", Required: true},
			{Name: "password", DisplayName: "密码", Type: "string"},
			{Name: "sslmode", DisplayName: "SSL模式", Type: "string", DefaultValue: "disable", Options: []string{"disable", "require", "verify-ca", "verify-full"}},
			{Name: "schema", DisplayName: "模式", Type: "string", DefaultValue: "public", Pattern: identifierPattern},
			{Name: "table", DisplayName: "表名", Type: "string", DefaultValue: "scoring", Pattern: identifierPattern},
			{Name: "sample_column", DisplayName: "样品列名", Type: "string", DefaultValue: "sample", Pattern: identifierPattern},
			columnField, unitField, transformField,
		},
	},
	DataSourceTypeCacheRedis: {
		ID: DataSourceTypeCacheRedis, Name: "Redis列表", Category: DataSourceCategoryDatabase,
		Description: "Redis列表，键为 <key_prefix>:<样品>:<列名>",
		Fields: []DataSourceConfigField{
			{Name: "address", DisplayName: "地址", Type: "string", Required: true},
			{Name: "password", DisplayName: "密码", Type: "string"},
			{Name: "database", DisplayName: "库编号", Type: "number", DefaultValue: 0},
			{Name: "key_prefix", DisplayName: "键前缀", Type: "string", DefaultValue: "reecal:dataset"},
			columnField, unitField, transformField,
		},
	},
	DataSourceTypeMessagingKafka: {
		ID: DataSourceTypeMessagingKafka, Name: "Kafka主题", Category: DataSourceCategoryMessaging, IsStream: true,
		Description: "每个样品一个Kafka主题，从最早偏移量读取到末尾",
		Fields: []DataSourceConfigField{
			{Name: "brokers", DisplayName: "Broker列表", Type: "array", Required: true},
			{Name: "topic_prefix", DisplayName: "主题前缀", Type: "string", DefaultValue: "reecal."},
			columnField, unitField, transformField, timeoutField,
		},
	},
	DataSourceTypeMessagingMQTT: {
		ID: DataSourceTypeMessagingMQTT, Name: "MQTT主题", Category: DataSourceCategoryMessaging, IsStream: true,
		Description: "每个样品一个MQTT主题，收到结束标记或空闲超时后结束",
		Fields: []DataSourceConfigField{
			{Name: "broker", DisplayName: "Broker地址", Type: "string", Required: true},
			{Name: "client_id", DisplayName: "客户端ID", Type: "string"},
			{Name: "username", DisplayName: "用户名", Type: "string"},
			{Name: "password", DisplayName: "密码", Type: "string"},
			{Name: "topic_prefix", DisplayName: "主题前缀", Type: "string", DefaultValue: "reecal/datasets"},
			{Name: "idle_timeout", DisplayName: "空闲超时(秒)", Type: "number", DefaultValue: 5},
			columnField, unitField, transformField, timeoutField,
		},
	},
	DataSourceTypeApiHTTP: {
		ID: DataSourceTypeApiHTTP, Name: "HTTP接口", Category: DataSourceCategoryAPI,
		Description: "GET <base_url>/<样品>?column=<列名>，返回数值数组或对象数组",
		Fields: []DataSourceConfigField{
			{Name: "base_url", DisplayName: "基础URL", Type: "string", Required: true, Pattern: `^https?://`},
			{Name: "token", DisplayName: "访问令牌", Type: "string"},
			columnField, unitField, transformField, timeoutField,
		},
	},
}

// GetDataSourceTypeDefinition 获取数据集来源类型定义
func GetDataSourceTypeDefinition(dsType string) (*DataSourceTypeDefinition, error) {
	definition, ok := DataSourceTypes[dsType]
	if !ok {
		return nil, fmt.Errorf("数据源类型定义不存在: %s", dsType)
	}
	return definition, nil
}

// ListDataSourceTypes 按ID排序返回全部类型定义
func ListDataSourceTypes() []*DataSourceTypeDefinition {
	list := make([]*DataSourceTypeDefinition, 0, len(DataSourceTypes))
	for _, definition := range DataSourceTypes {
		list = append(list, definition)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
