package pipeline

import (
	"context"
	"fmt"

	"reecal-service/service/spectrum"
)

// Loader 为样品生成能谱
type Loader interface {
	Load(ctx context.Context, sample Sample) (*spectrum.Spectrum, error)
}

// LoaderFunc 函数形式的 Loader
type LoaderFunc func(ctx context.Context, sample Sample) (*spectrum.Spectrum, error)

// Load 调用函数本身
func (f LoaderFunc) Load(ctx context.Context, sample Sample) (*spectrum.Spectrum, error) {
	return f(ctx, sample)
}

// SourceLoader 从数据集来源读取能量列并分道
type SourceLoader struct {
	Source  spectrum.DatasetSource
	Column  string
	Binning spectrum.Binning
	Unit    string
}

// NewSourceLoader 按流水线配置创建 Loader
// declaredUnit 为数据源声明的单位，优先于 cfg.Unit
func NewSourceLoader(source spectrum.DatasetSource, cfg Config, declaredUnit string) (*SourceLoader, error) {
	unit := declaredUnit
	if unit == "" {
		unit = cfg.Unit
	}
	if _, err := spectrum.UnitScale(unit); err != nil {
		return nil, fmt.Errorf("数据集单位未声明或无效: %w", err)
	}
	return &SourceLoader{
		Source:  source,
		Column:  cfg.Column,
		Binning: cfg.Binning,
		Unit:    unit,
	}, nil
}

// Load 读取一个样品
func (l *SourceLoader) Load(ctx context.Context, sample Sample) (*spectrum.Spectrum, error) {
	return spectrum.LoadSpectrum(ctx, l.Source, sample.Identifier, l.Column, l.Binning, l.Unit)
}
