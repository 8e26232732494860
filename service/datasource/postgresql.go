/*
 * @module service/datasource/postgresql
 * @description PostgreSQL数据集来源，每行一个事件的能量沉积，按样品列区分数据集
 * @architecture 连接池模式 - 管理数据库连接的生命周期
 * @documentReference DESIGN.md, service/meta/datasource.go
 * @stateFlow PostgreSQL连接生命周期：初始化连接串 -> 启动连接池 -> Open 校验样品存在 -> ReadValues 查询能量列 -> 关闭连接池
 * @rules 常驻数据源；表名和列名一律经 pq.QuoteIdentifier 引用，样品标识通过参数绑定
 * @dependencies database/sql, github.com/lib/pq, context
 * @refs interface.go, base.go
 */

package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// undefinedColumn PostgreSQL 列不存在错误码
const undefinedColumn = "42703"

// PostgreSQLDataSource PostgreSQL数据源实现
type PostgreSQLDataSource struct {
	*BaseDataSource
	db           *sql.DB
	connStr      string
	maxConns     int
	maxIdleConns int
	connTimeout  time.Duration
}

// NewPostgreSQLDataSource 创建PostgreSQL数据源
func NewPostgreSQLDataSource() DataSourceInterface {
	base := NewBaseDataSource(meta.DataSourceTypeDBPostgreSQL, true)
	return &PostgreSQLDataSource{
		BaseDataSource: base,
		maxConns:       10,
		maxIdleConns:   2,
		connTimeout:    30 * time.Second,
	}
}

// Init 初始化PostgreSQL数据源
func (p *PostgreSQLDataSource) Init(ctx context.Context, cfg *Config) error {
	if err := p.BaseDataSource.Init(ctx, cfg); err != nil {
		return err
	}
	p.connStr = p.buildConnectionString()
	p.connTimeout = p.DurationParam("read_timeout", p.connTimeout)
	return nil
}

// Start 启动PostgreSQL数据源
func (p *PostgreSQLDataSource) Start(ctx context.Context) error {
	db, err := sql.Open("postgres", p.connStr)
	if err != nil {
		return fmt.Errorf("创建数据库连接失败: %v", err)
	}
	db.SetMaxOpenConns(p.maxConns)
	db.SetMaxIdleConns(p.maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, p.connTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("数据库连接测试失败: %v", err)
	}

	if err := p.BaseDataSource.Start(ctx); err != nil {
		db.Close()
		return err
	}
	p.db = db
	return nil
}

// Open 校验样品存在并返回句柄
func (p *PostgreSQLDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", p.table(), pq.QuoteIdentifier(p.sampleColumn()))
	var exists bool
	if err := p.db.QueryRowContext(ctx, query, identifier).Scan(&exists); err != nil {
		return nil, fmt.Errorf("查询样品失败: %v", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
	}
	return p.WrapHandle(&postgresHandle{p: p, identifier: identifier}), nil
}

// ListDatasets 列出表中全部样品
func (p *PostgreSQLDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	if err := p.ensureStarted(); err != nil {
		return nil, err
	}
	sample := pq.QuoteIdentifier(p.sampleColumn())
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s", sample, p.table(), sample)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询样品列表失败: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("读取样品失败: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stop 停止PostgreSQL数据源
func (p *PostgreSQLDataSource) Stop(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("关闭数据库连接失败: %v", err)
		}
		p.db = nil
	}
	return p.BaseDataSource.Stop(ctx)
}

// HealthCheck PostgreSQL健康检查
func (p *PostgreSQLDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := p.BaseDataSource.HealthCheck(ctx)
	if err != nil || status.Status != "online" {
		return status, err
	}

	startTime := time.Now()
	if err := p.db.PingContext(ctx); err != nil {
		status.Status = "error"
		status.Message = fmt.Sprintf("数据库连接测试失败: %v", err)
	} else {
		stats := p.db.Stats()
		status.Details["connection_pool"] = map[string]interface{}{
			"max_open_connections": stats.MaxOpenConnections,
			"open_connections":     stats.OpenConnections,
			"in_use_connections":   stats.InUse,
			"idle_connections":     stats.Idle,
		}
	}
	status.ResponseTime = time.Since(startTime)
	return status, nil
}

func (p *PostgreSQLDataSource) table() string {
	return pq.QuoteIdentifier(p.StringParam("schema", "public")) + "." + pq.QuoteIdentifier(p.StringParam("table", "scoring"))
}

func (p *PostgreSQLDataSource) sampleColumn() string {
	return p.StringParam("sample_column", "sample")
}

// buildConnectionString 构建连接字符串
func (p *PostgreSQLDataSource) buildConnectionString() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.StringParam("host", "localhost")),
		fmt.Sprintf("port=%d", p.IntParam("port", 5432)),
		fmt.Sprintf("dbname=%s", p.StringParam("database", "")),
		fmt.Sprintf("user=%s", p.StringParam("username", "")),
		fmt.Sprintf("sslmode=%s", p.StringParam("sslmode", "disable")),
	}
	if password := p.StringParam("password", ""); password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", password))
	}
	return strings.Join(parts, " ")
}

type postgresHandle struct {
	p          *PostgreSQLDataSource
	identifier string
}

func (h *postgresHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		pq.QuoteIdentifier(column), h.p.table(), pq.QuoteIdentifier(h.p.sampleColumn()))
	rows, err := h.p.db.QueryContext(ctx, query, h.identifier)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedColumn {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
		}
		return nil, fmt.Errorf("查询能量列失败: %v", err)
	}
	defer rows.Close()

	values := make([]float64, 0, 1024)
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("读取能量值失败: %v", err)
		}
		if v.Valid {
			values = append(values, v.Float64)
		}
	}
	return values, rows.Err()
}

func (h *postgresHandle) Close() error {
	return nil
}
