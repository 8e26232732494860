/*
 * @module service/spectrum/loader
 * @description 从外部数据集加载能量沉积列并构建能谱
 * @architecture 适配器模式 - 数据集来源通过 DatasetSource 接口注入
 * @documentReference DESIGN.md
 * @stateFlow Open -> ReadValues -> 单位换算 -> Fill -> Close
 * @rules 单位由调用方显式声明，不根据数据范围猜测；打开失败、缺列或含 NaN 返回 ErrDataSourceUnavailable，零记录返回 ErrEmptyDataset；±Inf 计入下溢/上溢
 * @dependencies golang.org/x/crypto/blake2b
 * @refs spectrum.go, service/datasource
 */

package spectrum

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrDataSourceUnavailable 数据集无法打开或缺少能量列
	ErrDataSourceUnavailable = errors.New("数据集不可用")
	// ErrEmptyDataset 数据集没有任何记录
	ErrEmptyDataset = errors.New("数据集为空")
	// ErrUnknownUnit 未声明或不支持的能量单位
	ErrUnknownUnit = errors.New("不支持的能量单位")
)

// DatasetSource 外部数据集来源
type DatasetSource interface {
	Open(ctx context.Context, identifier string) (DatasetHandle, error)
}

// DatasetHandle 已打开的数据集
type DatasetHandle interface {
	ReadValues(ctx context.Context, column string) ([]float64, error)
	Close() error
}

// UnitScale 换算到 keV 的系数
func UnitScale(unit string) (float64, error) {
	switch unit {
	case "MeV":
		return 1000, nil
	case "keV":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
}

// LoadSpectrum 读取数据集的能量列并构建能谱
func LoadSpectrum(ctx context.Context, source DatasetSource, identifier, column string, binning Binning, unit string) (*Spectrum, error) {
	scale, err := UnitScale(unit)
	if err != nil {
		return nil, err
	}
	spec, err := NewSpectrum(binning)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s: 未配置数据源", ErrDataSourceUnavailable, identifier)
	}

	handle, err := source.Open(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 %s 失败: %v", ErrDataSourceUnavailable, identifier, err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			slog.Warn("关闭数据集失败", "identifier", identifier, "error", cerr)
		}
	}()

	values, err := handle.ReadValues(ctx, column)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取 %s 的列 %s 失败: %v", ErrDataSourceUnavailable, identifier, column, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, identifier)
	}

	for i, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: %s 的列 %s 第 %d 条记录不是数值", ErrDataSourceUnavailable, identifier, column, i+1)
		}
	}

	hasher, _ := blake2b.New256(nil)
	buf := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		hasher.Write(buf)
		spec.Fill(v * scale)
	}
	spec.Source = identifier
	spec.Fingerprint = hex.EncodeToString(hasher.Sum(nil))

	slog.Debug("能谱加载完成",
		"identifier", identifier,
		"entries", spec.Entries(),
		"underflow", spec.Underflow(),
		"overflow", spec.Overflow())
	return spec, nil
}
