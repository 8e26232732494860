package analysis

import (
	"fmt"

	"reecal-service/service/detectability"
)

// ProjectionRequest 统计量外推请求
// 给定当前 Z 或检出限，估算增加事件数后的效果
type ProjectionRequest struct {
	Z           float64               `json:"z" example:"-2.8"`
	Target      float64               `json:"target,omitempty" example:"3"`
	EventFactor float64               `json:"event_factor,omitempty" example:"4"`
	Improvement float64               `json:"improvement,omitempty" example:"2"`
	Limits      *detectability.Limits `json:"limits,omitempty"`
}

// ProjectionResult 外推结果
type ProjectionResult struct {
	Target                float64               `json:"target"`
	RequiredEventFactor   float64               `json:"required_event_factor,omitempty"`
	RequiredFactorDefined bool                  `json:"required_factor_defined"`
	EventFactor           float64               `json:"event_factor"`
	ProjectedZ            float64               `json:"projected_z"`
	ProjectedVerdict      detectability.Verdict `json:"projected_verdict"`
	ProjectedLimits       *detectability.Limits `json:"projected_limits,omitempty"`
}

// Project 按 Z ∝ sqrt(N) 外推
// Improvement 与 EventFactor 同时给出时以 EventFactor 为准
func Project(req ProjectionRequest, th detectability.Thresholds) (*ProjectionResult, error) {
	if req.EventFactor < 0 || req.Improvement < 0 || req.Target < 0 {
		return nil, fmt.Errorf("%w: 倍数和目标值不能为负", ErrInvalidRequest)
	}
	target := req.Target
	if target == 0 {
		target = th.Detection
	}
	factor := req.EventFactor
	if factor == 0 && req.Improvement > 0 {
		factor = detectability.EventFactorForImprovement(req.Improvement)
	}

	out := &ProjectionResult{Target: target}
	out.RequiredEventFactor, out.RequiredFactorDefined = detectability.RequiredEventFactor(req.Z, target)
	if factor == 0 {
		if !out.RequiredFactorDefined {
			factor = 1
		} else {
			factor = out.RequiredEventFactor
		}
	}
	out.EventFactor = factor
	out.ProjectedZ = detectability.ZAfterScaling(req.Z, factor)
	out.ProjectedVerdict = detectability.VerdictFor(out.ProjectedZ, th)
	if req.Limits != nil && req.Limits.Defined {
		scaled := req.Limits.Scaled(factor)
		out.ProjectedLimits = &scaled
	}
	return out, nil
}
