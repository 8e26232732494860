package controllers

import (
	"net/http"

	"github.com/go-chi/render"

	"reecal-service/service/detectability"
	"reecal-service/service/meta"
)

type MetaController struct {
}

func NewMetaController() *MetaController {
	return &MetaController{}
}

// AnalysisOptions 分析请求可选参数
type AnalysisOptions struct {
	Observables    []string                 `json:"observables"`
	FitModels      []string                 `json:"fit_models"`
	Normalizations []string                 `json:"normalizations"`
	Sweeps         []string                 `json:"sweeps"`
	Units          []string                 `json:"units"`
	Thresholds     detectability.Thresholds `json:"thresholds"`
}

// @Summary 获取伽马特征谱线
// @Description 获取内置谱线目录，按能量升序
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]meta.GammaLine}
// @Router /meta/lines [get]
func (c *MetaController) GetGammaLines(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取谱线目录成功", meta.ListGammaLines()))
}

// @Summary 获取所有数据源类型元数据
// @Description 获取所有数据源类型及其连接配置字段
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=[]meta.DataSourceTypeDefinition}
// @Router /meta/data-source-types [get]
func (c *MetaController) GetDataSourceTypes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取数据源类型元数据成功", meta.ListDataSourceTypes()))
}

// @Summary 获取分析参数选项
// @Description 获取观测量、拟合模型、归一化方式等可选值及默认判定阈值
// @Tags 元数据
// @Produce json
// @Success 200 {object} APIResponse{data=AnalysisOptions}
// @Router /meta/analysis-options [get]
func (c *MetaController) GetAnalysisOptions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取分析参数选项成功", AnalysisOptions{
		Observables: []string{
			meta.ObservableCountRatio, meta.ObservableRatio, meta.ObservableDifference,
			meta.ObservableAttenuation, meta.ObservableTransmission,
		},
		FitModels:      []string{meta.FitModelLinear, meta.FitModelExponential},
		Normalizations: []string{meta.NormalizationRaw, meta.NormalizationEvents},
		Sweeps:         []string{meta.SweepFine, meta.SweepCoarse},
		Units:          []string{meta.UnitMeV, meta.UnitKeV},
		Thresholds:     detectability.DefaultThresholds(),
	}))
}
