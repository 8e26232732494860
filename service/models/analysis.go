/*
 * @module service/models/analysis
 * @description 标定分析记录模型，一次分析对应一条 AnalysisRun 和若干 SampleResult
 * @architecture DDD领域驱动设计 - 实体模型
 * @documentReference DESIGN.md
 * @stateFlow 创建(pending) -> 执行中(running) -> 成功(success)/失败(failed)
 * @rules 分析ID为UUID；样品结果随分析级联删除
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/storage, service/pipeline
 */

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 分析状态
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// 触发方式
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// AnalysisRun 一次标定分析
type AnalysisRun struct {
	ID            string `json:"id" gorm:"primaryKey;type:varchar(36)" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name          string `json:"name" gorm:"size:200" example:"Eu152 REE 扫描"`
	Trigger       string `json:"trigger" gorm:"not null;size:20;default:'api'" example:"api"` // api, schedule, cli
	DataSourceID  string `json:"data_source_id" gorm:"size:100;index" example:"eu152-csv"`
	Status        string `json:"status" gorm:"not null;size:20;default:'pending';index" example:"success"`
	Observable    string `json:"observable" gorm:"size:10" example:"Q"`
	FitModel      string `json:"fit_model" gorm:"size:20" example:"linear"`
	Normalization string `json:"normalization" gorm:"size:20" example:"raw"`
	LowLine       string `json:"low_line" gorm:"size:50" example:"Eu-152 121.78 keV"`
	HighLine      string `json:"high_line" gorm:"size:50" example:"Eu-152 778.90 keV"`
	Config        JSONB  `json:"config,omitempty" gorm:"type:jsonb"`

	// 标定拟合
	Theta0    float64 `json:"theta0"`
	Theta1    float64 `json:"theta1"`
	Sigma0    float64 `json:"sigma0"`
	Sigma1    float64 `json:"sigma1"`
	ChiSquare float64 `json:"chi_square"`
	NDF       int     `json:"ndf"`
	PValue    float64 `json:"p_value"`
	FitError  string  `json:"fit_error,omitempty" gorm:"type:text"`

	// 检出限
	Precision       float64  `json:"precision"`
	LOD             float64  `json:"lod"`
	LOQ             float64  `json:"loq"`
	LimitsDefined   bool     `json:"limits_defined"`
	ExperimentalLOD *float64 `json:"experimental_lod,omitempty"`
	ExperimentalLOQ *float64 `json:"experimental_loq,omitempty"`

	Processed    int        `json:"processed"`
	Skipped      int        `json:"skipped"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Samples []SampleResult `json:"samples,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate GORM钩子，创建前生成UUID并校验状态
func (r *AnalysisRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RunStatusPending
	}
	if r.Trigger == "" {
		r.Trigger = TriggerAPI
	}
	return r.ValidateStatus()
}

// ValidateStatus 校验状态取值
func (r *AnalysisRun) ValidateStatus() error {
	switch r.Status {
	case RunStatusPending, RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return nil
	}
	return fmt.Errorf("无效的分析状态: %s", r.Status)
}

// IsFinished 是否已结束
func (r *AnalysisRun) IsFinished() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}

// SampleResult 单个样品在一次分析中的结果
type SampleResult struct {
	ID            string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RunID         string  `json:"run_id" gorm:"not null;type:varchar(36);index"`
	Label         string  `json:"label" gorm:"size:50"`
	Identifier    string  `json:"identifier" gorm:"size:255"`
	Concentration float64 `json:"concentration"`
	Sweep         string  `json:"sweep" gorm:"size:10"`
	IsReference   bool    `json:"is_reference"`
	Skipped       bool    `json:"skipped"`
	SkipReason    string  `json:"skip_reason,omitempty" gorm:"type:text"`

	Events     float64 `json:"events"`
	NormFactor float64 `json:"norm_factor"`
	LowNet     float64 `json:"low_net"`
	LowError   float64 `json:"low_error"`
	HighNet    float64 `json:"high_net"`
	HighError  float64 `json:"high_error"`

	Q                 float64 `json:"q"`
	QError            float64 `json:"q_error"`
	QDefined          bool    `json:"q_defined"`
	Observable        float64 `json:"observable"`
	ObservableError   float64 `json:"observable_error"`
	ObservableDefined bool    `json:"observable_defined"`

	Z                   float64 `json:"z"`
	ZDefined            bool    `json:"z_defined"`
	NormalizedZ         float64 `json:"normalized_z"`
	Verdict             string  `json:"verdict" gorm:"size:20"`
	RequiredEventFactor float64 `json:"required_event_factor"`

	EstimatedConcentration float64 `json:"estimated_concentration"`
	EstimateUncertainty    float64 `json:"estimate_uncertainty"`
	EstimateDefined        bool    `json:"estimate_defined"`

	Fingerprint string `json:"fingerprint,omitempty" gorm:"size:64"`
}

// BeforeCreate GORM钩子，创建前生成UUID
func (s *SampleResult) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.RunID == "" {
		return fmt.Errorf("样品结果缺少分析ID")
	}
	return nil
}
