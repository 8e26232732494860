package storage

import (
	"reecal-service/service/calibration"
	"reecal-service/service/detectability"
	"reecal-service/service/models"
	"reecal-service/service/observable"
	"reecal-service/service/peak"
	"reecal-service/service/pipeline"
)

// NewRun 由流水线配置生成待执行的分析记录
func NewRun(name, trigger, dataSourceID string, cfg pipeline.Config) (*models.AnalysisRun, error) {
	cfgJSON, err := models.ToJSONB(cfg)
	if err != nil {
		return nil, err
	}
	return &models.AnalysisRun{
		Name:          name,
		Trigger:       trigger,
		DataSourceID:  dataSourceID,
		Status:        models.RunStatusPending,
		Observable:    cfg.Observable,
		FitModel:      cfg.FitModel,
		Normalization: cfg.Normalization,
		LowLine:       cfg.Low.Name,
		HighLine:      cfg.High.Name,
		Config:        cfgJSON,
	}, nil
}

// ApplyResult 将流水线结果写入分析记录
func ApplyResult(run *models.AnalysisRun, res *pipeline.Result) error {
	cfgJSON, err := models.ToJSONB(res.Config)
	if err != nil {
		return err
	}
	run.Config = cfgJSON
	run.Observable = res.Config.Observable
	run.FitModel = res.Config.FitModel
	run.Normalization = res.Config.Normalization
	run.LowLine = res.Config.Low.Name
	run.HighLine = res.Config.High.Name

	if m := res.Model; m != nil {
		run.Theta0, run.Theta1 = m.Theta[0], m.Theta[1]
		run.Sigma0, run.Sigma1 = m.Sigma[0], m.Sigma[1]
		run.ChiSquare = m.ChiSquare
		run.NDF = m.NDF
		run.PValue = m.PValue
	}
	run.FitError = res.FitError

	run.Precision = res.Limits.Precision
	run.LOD = res.Limits.LOD
	run.LOQ = res.Limits.LOQ
	run.LimitsDefined = res.Limits.Defined
	run.ExperimentalLOD, run.ExperimentalLOQ = nil, nil
	if res.Experimental.LODFound {
		v := res.Experimental.LOD
		run.ExperimentalLOD = &v
	}
	if res.Experimental.LOQFound {
		v := res.Experimental.LOQ
		run.ExperimentalLOQ = &v
	}

	run.Processed = res.Processed
	run.Skipped = res.Skipped
	started := res.StartedAt
	finished := started.Add(res.Duration)
	run.StartedAt = &started
	run.FinishedAt = &finished
	run.DurationMs = res.Duration.Milliseconds()
	run.ErrorMessage = ""

	run.Samples = make([]models.SampleResult, 0, len(res.Samples))
	for _, s := range res.Samples {
		run.Samples = append(run.Samples, sampleRecord(run.ID, s))
	}
	return nil
}

func sampleRecord(runID string, s pipeline.SampleResult) models.SampleResult {
	return models.SampleResult{
		RunID:                  runID,
		Label:                  s.Label,
		Identifier:             s.Identifier,
		Concentration:          s.Concentration,
		Sweep:                  s.Sweep,
		IsReference:            s.IsReference,
		Skipped:                s.Skipped,
		SkipReason:             s.SkipReason,
		Events:                 s.Events,
		NormFactor:             s.NormFactor,
		LowNet:                 s.Low.Net,
		LowError:               s.Low.Error,
		HighNet:                s.High.Net,
		HighError:              s.High.Error,
		Q:                      s.Observables.Q.Value,
		QError:                 s.Observables.Q.Uncertainty,
		QDefined:               s.Observables.Q.Defined,
		Observable:             s.Primary.Value,
		ObservableError:        s.Primary.Uncertainty,
		ObservableDefined:      s.Primary.Defined,
		Z:                      s.Assessment.Z,
		ZDefined:               s.Assessment.Defined,
		NormalizedZ:            s.NormalizedZ,
		Verdict:                string(s.Assessment.Verdict),
		RequiredEventFactor:    s.RequiredEventFactor,
		EstimatedConcentration: s.Estimate.Concentration,
		EstimateUncertainty:    s.Estimate.Uncertainty,
		EstimateDefined:        s.Estimate.Defined,
		Fingerprint:            s.Fingerprint,
	}
}

// RestoreResult 由已保存的记录还原结果表，用于重新导出 CSV
// 拟合模型和诊断信息不还原
func RestoreResult(run *models.AnalysisRun) (*pipeline.Result, error) {
	res := &pipeline.Result{
		FitError:  run.FitError,
		Processed: run.Processed,
		Skipped:   run.Skipped,
		Limits: detectability.Limits{
			Precision: run.Precision,
			LOD:       run.LOD,
			LOQ:       run.LOQ,
			Defined:   run.LimitsDefined,
		},
	}
	if len(run.Config) > 0 {
		if err := run.Config.Decode(&res.Config); err != nil {
			return nil, err
		}
	}
	if run.ExperimentalLOD != nil {
		res.Experimental.LOD, res.Experimental.LODFound = *run.ExperimentalLOD, true
	}
	if run.ExperimentalLOQ != nil {
		res.Experimental.LOQ, res.Experimental.LOQFound = *run.ExperimentalLOQ, true
	}

	res.Samples = make([]pipeline.SampleResult, 0, len(run.Samples))
	for _, s := range run.Samples {
		r := restoreSample(s)
		if r.IsReference {
			res.Reference = r
		}
		res.Samples = append(res.Samples, r)
	}
	return res, nil
}

func restoreSample(s models.SampleResult) pipeline.SampleResult {
	r := pipeline.SampleResult{
		Sample: pipeline.Sample{
			Label:         s.Label,
			Identifier:    s.Identifier,
			Concentration: s.Concentration,
			Sweep:         s.Sweep,
			IsReference:   s.IsReference,
		},
		Skipped:     s.Skipped,
		SkipReason:  s.SkipReason,
		Fingerprint: s.Fingerprint,
	}
	if s.Skipped {
		return r
	}
	r.Events = s.Events
	r.NormFactor = s.NormFactor
	r.Low = peak.Measurement{Net: s.LowNet, Error: s.LowError, Valid: true}
	r.High = peak.Measurement{Net: s.HighNet, Error: s.HighError, Valid: true}
	if s.QDefined {
		r.Observables.Q = observable.Of(s.Q, s.QError)
	}
	if s.ObservableDefined {
		r.Primary = observable.Of(s.Observable, s.ObservableError)
	}
	r.Assessment = detectability.Assessment{Z: s.Z, Defined: s.ZDefined, Verdict: detectability.Verdict(s.Verdict)}
	r.NormalizedZ, r.NormalizedZDefined = s.NormalizedZ, s.ZDefined
	r.RequiredEventFactor, r.RequiredFactorDefined = s.RequiredEventFactor, s.RequiredEventFactor > 0
	if s.EstimateDefined {
		r.Estimate = calibration.Estimate{
			Concentration: s.EstimatedConcentration,
			Uncertainty:   s.EstimateUncertainty,
			Bias:          s.EstimatedConcentration - s.Concentration,
			Defined:       true,
		}
	}
	return r
}
