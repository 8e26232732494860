/*
 * @module service/datasource/file_csv
 * @description CSV文件数据源，目录下每个样品一个文件，首行为表头
 * @architecture 文件系统适配器
 * @documentReference DESIGN.md
 * @stateFlow Open 定位文件 -> ReadValues 按表头找列 -> 逐行解析数值
 * @rules 标识符不能跳出数据目录；空单元格跳过；非数值单元格报错并给出行号
 * @dependencies encoding/csv, golang.org/x/text/encoding/simplifiedchinese, github.com/spf13/cast
 * @refs interface.go, base.go
 */

package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// CSVFileDataSource CSV文件数据源
type CSVFileDataSource struct {
	*BaseDataSource
	baseDir   string
	extension string
	encoding  string
	delimiter rune
}

// NewCSVFileDataSource 创建CSV文件数据源
func NewCSVFileDataSource() DataSourceInterface {
	return &CSVFileDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeFileCSV, false),
		delimiter:      ',',
	}
}

// Init 初始化
func (c *CSVFileDataSource) Init(ctx context.Context, cfg *Config) error {
	if err := c.BaseDataSource.Init(ctx, cfg); err != nil {
		return err
	}
	c.baseDir = c.StringParam("base_dir", ".")
	c.extension = c.StringParam("extension", ".csv")
	if c.extension != "" && !strings.HasPrefix(c.extension, ".") {
		c.extension = "." + c.extension
	}
	c.encoding = strings.ToLower(c.StringParam("encoding", "utf-8"))
	if d := []rune(c.StringParam("delimiter", ",")); len(d) == 1 {
		c.delimiter = d[0]
	} else if len(d) > 1 {
		return fmt.Errorf("分隔符必须是单个字符: %q", string(d))
	}
	return nil
}

// Start 检查数据目录
func (c *CSVFileDataSource) Start(ctx context.Context) error {
	info, err := os.Stat(c.baseDir)
	if err != nil {
		return fmt.Errorf("数据目录不可用: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("数据目录不是目录: %s", c.baseDir)
	}
	return c.BaseDataSource.Start(ctx)
}

// Open 打开样品文件
func (c *CSVFileDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := c.ensureStarted(); err != nil {
		return nil, err
	}
	path, err := c.resolvePath(identifier)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
		}
		return nil, fmt.Errorf("打开文件失败: %v", err)
	}
	return c.WrapHandle(&csvHandle{file: f, decode: c.decode, delimiter: c.delimiter, path: path}), nil
}

// ListDatasets 列出目录下的样品（去掉扩展名）
func (c *CSVFileDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return nil, fmt.Errorf("读取数据目录失败: %v", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if c.extension != "" {
			if !strings.EqualFold(filepath.Ext(name), c.extension) {
				continue
			}
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *CSVFileDataSource) resolvePath(identifier string) (string, error) {
	if identifier == "" || identifier != filepath.Base(identifier) || identifier == ".." {
		return "", fmt.Errorf("%w: 非法标识符 %q", ErrDatasetNotFound, identifier)
	}
	name := identifier
	if c.extension != "" && !strings.EqualFold(filepath.Ext(name), c.extension) {
		name += c.extension
	}
	return filepath.Join(c.baseDir, name), nil
}

func (c *CSVFileDataSource) decode(r io.Reader) io.Reader {
	switch c.encoding {
	case "gbk":
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	case "gb18030":
		return transform.NewReader(r, simplifiedchinese.GB18030.NewDecoder())
	default:
		return r
	}
}

type csvHandle struct {
	file      *os.File
	decode    func(io.Reader) io.Reader
	delimiter rune
	path      string
	consumed  bool
}

// ReadValues 读取一列，重复读取时从文件头重新开始
func (h *csvHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	if h.consumed {
		if _, err := h.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("重置文件失败: %v", err)
		}
	}
	h.consumed = true

	r := csv.NewReader(h.decode(h.file))
	r.Comma = h.delimiter
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s (空文件)", ErrColumnNotFound, column)
		}
		return nil, fmt.Errorf("读取表头失败: %v", err)
	}
	idx := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}

	var values []float64
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行解析失败: %v", filepath.Base(h.path), line, err)
		}
		if idx >= len(record) {
			continue
		}
		cell := strings.TrimSpace(record[idx])
		if cell == "" {
			continue
		}
		v, err := cast.ToFloat64E(cell)
		if err != nil {
			return nil, fmt.Errorf("%s 第 %d 行不是数值 %q", filepath.Base(h.path), line, cell)
		}
		values = append(values, v)
	}
	return values, nil
}

func (h *csvHandle) Close() error {
	return h.file.Close()
}
