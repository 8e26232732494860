/*
 * @module service/calibration/calibration
 * @description 标定曲线加权最小二乘拟合，支持线性和指数模型
 * @architecture 纯函数 - 输入 (浓度, 观测量) 点集和拟合区间，输出不可变的标定模型
 * @documentReference DESIGN.md
 * @stateFlow 过滤点 -> 权重 1/σ² -> 线性: 正规方程 Cholesky 求解；指数: 对数线性初值 -> go-hep fit 单纯形 -> 高斯牛顿精修 -> 协方差
 * @rules 未定义值、零或非有限不确定度、区间外的点不参与拟合；参与点少于 3 个返回 ErrInsufficientPoints
 * @dependencies gonum mat, gonum distuv, gonum optimize, go-hep fit
 * @refs service/observable, service/detectability
 */

package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go-hep.org/x/hep/fit"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"reecal-service/service/meta"
	"reecal-service/service/observable"
)

// NumParams 两个模型都是两参数
const NumParams = 2

var (
	// ErrInsufficientPoints 参与拟合的点不足
	ErrInsufficientPoints = errors.New("拟合点数不足")
	// ErrSingularSystem 正规方程奇异，例如所有点浓度相同
	ErrSingularSystem = errors.New("正规方程奇异")
	// ErrUnknownModel 未知拟合模型
	ErrUnknownModel = errors.New("未知拟合模型")
)

// 点被排除的原因
const (
	ExcludedUndefined      = "undefined"
	ExcludedBadUncertainty = "bad_uncertainty"
	ExcludedOutsideDomain  = "outside_domain"
)

// Point 标定点
type Point struct {
	Label         string           `json:"label"`
	Concentration float64          `json:"concentration"`
	Observable    observable.Value `json:"observable"`
}

// Exclusion 未参与拟合的点
type Exclusion struct {
	Label         string  `json:"label"`
	Concentration float64 `json:"concentration"`
	Reason        string  `json:"reason"`
}

// Domain 浓度拟合区间，闭区间
type Domain struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AllConcentrations 不限制浓度
func AllConcentrations() Domain {
	return Domain{Min: math.Inf(-1), Max: math.Inf(1)}
}

// Contains 浓度是否在区间内
func (d Domain) Contains(c float64) bool {
	return c >= d.Min && c <= d.Max
}

type domainJSON struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// MarshalJSON 无穷边界写为 null
func (d Domain) MarshalJSON() ([]byte, error) {
	var out domainJSON
	if !math.IsInf(d.Min, 0) {
		out.Min = &d.Min
	}
	if !math.IsInf(d.Max, 0) {
		out.Max = &d.Max
	}
	return json.Marshal(out)
}

// UnmarshalJSON 缺省或 null 边界视为无穷
func (d *Domain) UnmarshalJSON(data []byte) error {
	var in domainJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = AllConcentrations()
	if in.Min != nil {
		d.Min = *in.Min
	}
	if in.Max != nil {
		d.Max = *in.Max
	}
	return nil
}

// Model 标定模型
type Model struct {
	Kind       string                        `json:"kind"`
	Theta      [NumParams]float64            `json:"theta"`
	Sigma      [NumParams]float64            `json:"sigma"`
	Covariance [NumParams][NumParams]float64 `json:"covariance"`
	ChiSquare  float64                       `json:"chi_square"`
	NDF        int                           `json:"ndf"`
	PValue     float64                       `json:"p_value"`
	UsedDomain Domain                        `json:"used_domain"`
	PointsUsed int                           `json:"points_used"`
	Excluded   []Exclusion                   `json:"excluded,omitempty"`
}

// Fit 按模型类型拟合
func Fit(kind string, points []Point, domain Domain) (*Model, error) {
	switch kind {
	case meta.FitModelLinear:
		return FitLinear(points, domain)
	case meta.FitModelExponential:
		return FitExponential(points, domain)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, kind)
}

// FitLinear 拟合 y = θ0 + θ1·C
func FitLinear(points []Point, domain Domain) (*Model, error) {
	xs, ys, ws, excluded, err := selectPoints(points, domain)
	if err != nil {
		return nil, err
	}

	jac := func(x float64, _ []float64) [NumParams]float64 { return [NumParams]float64{1, x} }
	theta, cov, err := solveNormal(xs, ys, ws, jac, nil)
	if err != nil {
		return nil, err
	}

	m := newModel(meta.FitModelLinear, theta, cov, xs, excluded)
	m.ChiSquare = chiSquare(xs, ys, ws, m.Eval)
	m.PValue = pValue(m.ChiSquare, m.NDF)
	return m, nil
}

// FitExponential 拟合 y = θ0·exp(-θ1·C)
func FitExponential(points []Point, domain Domain) (*Model, error) {
	xs, ys, ws, excluded, err := selectPoints(points, domain)
	if err != nil {
		return nil, err
	}

	f := func(x float64, ps []float64) float64 { return ps[0] * math.Exp(-ps[1]*x) }
	jac := func(x float64, ps []float64) [NumParams]float64 {
		e := math.Exp(-ps[1] * x)
		return [NumParams]float64{e, -ps[0] * x * e}
	}

	ps := expInitialGuess(xs, ys, ws)

	errs := make([]float64, len(ws))
	for i, w := range ws {
		errs[i] = 1 / math.Sqrt(w)
	}
	res, ferr := fit.Curve1D(fit.Func1D{
		F:   f,
		X:   xs,
		Y:   ys,
		Err: errs,
		Ps:  []float64{ps[0], ps[1]},
	}, nil, &optimize.NelderMead{})
	if ferr != nil {
		slog.Warn("指数拟合单纯形优化失败，使用对数线性初值", "error", ferr)
	} else if len(res.X) == NumParams && finite(res.X[0]) && finite(res.X[1]) {
		ps = [NumParams]float64{res.X[0], res.X[1]}
	}

	theta, cov, err := gaussNewton(xs, ys, ws, f, jac, ps)
	if err != nil {
		return nil, err
	}

	m := newModel(meta.FitModelExponential, theta, cov, xs, excluded)
	m.ChiSquare = chiSquare(xs, ys, ws, m.Eval)
	m.PValue = pValue(m.ChiSquare, m.NDF)
	return m, nil
}

// Eval 模型在浓度 c 处的值
func (m *Model) Eval(c float64) float64 {
	if m.Kind == meta.FitModelExponential {
		return m.Theta[0] * math.Exp(-m.Theta[1]*c)
	}
	return m.Theta[0] + m.Theta[1]*c
}

// Derivative 模型在浓度 c 处对浓度的导数
func (m *Model) Derivative(c float64) float64 {
	if m.Kind == meta.FitModelExponential {
		return -m.Theta[0] * m.Theta[1] * math.Exp(-m.Theta[1]*c)
	}
	return m.Theta[1]
}

// Sensitivity 零浓度处的灵敏度 |dy/dC|，用于估算检出限
func (m *Model) Sensitivity() float64 {
	return math.Abs(m.Derivative(0))
}

// Intercept 零浓度处的模型值及其不确定度
func (m *Model) Intercept() (float64, float64) {
	return m.Eval(0), m.Sigma[0]
}

// Estimate 反演浓度
type Estimate struct {
	Concentration float64 `json:"concentration"`
	Uncertainty   float64 `json:"uncertainty"`
	Bias          float64 `json:"bias"`
	Defined       bool    `json:"defined"`
}

// Invert 由观测量反演浓度，nominal 为名义浓度，用于计算偏差
func (m *Model) Invert(obs observable.Value, nominal float64) Estimate {
	if m == nil || !obs.Defined {
		return Estimate{}
	}
	var c float64
	switch m.Kind {
	case meta.FitModelExponential:
		if m.Theta[0] == 0 || m.Theta[1] == 0 || obs.Value/m.Theta[0] <= 0 {
			return Estimate{}
		}
		c = -math.Log(obs.Value/m.Theta[0]) / m.Theta[1]
	default:
		if m.Theta[1] == 0 {
			return Estimate{}
		}
		c = (obs.Value - m.Theta[0]) / m.Theta[1]
	}
	slope := math.Abs(m.Derivative(c))
	if slope == 0 || !finite(c) {
		return Estimate{}
	}
	return Estimate{
		Concentration: c,
		Uncertainty:   obs.Uncertainty / slope,
		Bias:          c - nominal,
		Defined:       true,
	}
}

func selectPoints(points []Point, domain Domain) (xs, ys, ws []float64, excluded []Exclusion, err error) {
	for _, p := range points {
		reason := ""
		switch {
		case !p.Observable.Defined || !finite(p.Observable.Value):
			reason = ExcludedUndefined
		case p.Observable.Uncertainty <= 0 || !finite(p.Observable.Uncertainty):
			reason = ExcludedBadUncertainty
		case !domain.Contains(p.Concentration):
			reason = ExcludedOutsideDomain
		}
		if reason != "" {
			excluded = append(excluded, Exclusion{Label: p.Label, Concentration: p.Concentration, Reason: reason})
			continue
		}
		xs = append(xs, p.Concentration)
		ys = append(ys, p.Observable.Value)
		ws = append(ws, 1/(p.Observable.Uncertainty*p.Observable.Uncertainty))
	}
	if len(xs) < NumParams+1 {
		return nil, nil, nil, excluded, fmt.Errorf("%w: 需要至少 %d 个点, 实际 %d 个", ErrInsufficientPoints, NumParams+1, len(xs))
	}
	return xs, ys, ws, excluded, nil
}

// solveNormal 求解加权正规方程 (JᵀWJ)θ = JᵀWy，并返回 (JᵀWJ)⁻¹
func solveNormal(xs, ys, ws []float64, jac func(float64, []float64) [NumParams]float64, ps []float64) ([NumParams]float64, *mat.SymDense, error) {
	var theta [NumParams]float64
	a := mat.NewSymDense(NumParams, nil)
	b := mat.NewVecDense(NumParams, nil)
	for i, x := range xs {
		j := jac(x, ps)
		for r := 0; r < NumParams; r++ {
			b.SetVec(r, b.AtVec(r)+ws[i]*j[r]*ys[i])
			for c := r; c < NumParams; c++ {
				a.SetSym(r, c, a.At(r, c)+ws[i]*j[r]*j[c])
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return theta, nil, ErrSingularSystem
	}
	sol := mat.NewVecDense(NumParams, nil)
	if err := chol.SolveVecTo(sol, b); err != nil {
		return theta, nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	cov := mat.NewSymDense(NumParams, nil)
	if err := chol.InverseTo(cov); err != nil {
		return theta, nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}
	for i := range theta {
		theta[i] = sol.AtVec(i)
	}
	return theta, cov, nil
}

// gaussNewton 从初值出发迭代精修，返回参数和 (JᵀWJ)⁻¹
func gaussNewton(xs, ys, ws []float64, f func(float64, []float64) float64, jac func(float64, []float64) [NumParams]float64, start [NumParams]float64) ([NumParams]float64, *mat.SymDense, error) {
	ps := []float64{start[0], start[1]}
	resid := make([]float64, len(xs))
	var cov *mat.SymDense
	for iter := 0; iter < 50; iter++ {
		for i, x := range xs {
			resid[i] = ys[i] - f(x, ps)
		}
		delta, c, err := solveNormal(xs, resid, ws, jac, ps)
		if err != nil {
			return start, nil, err
		}
		cov = c
		converged := true
		for k := range ps {
			ps[k] += delta[k]
			if math.Abs(delta[k]) > 1e-12*math.Max(1, math.Abs(ps[k])) {
				converged = false
			}
		}
		if converged {
			break
		}
	}
	// 协方差在最终参数处重新计算
	_, cov2, err := solveNormal(xs, resid, ws, jac, ps)
	if err == nil {
		cov = cov2
	}
	return [NumParams]float64{ps[0], ps[1]}, cov, nil
}

// expInitialGuess 对 ln y 做加权线性拟合得到初值，ln y 的权重为 (y/σ)²
func expInitialGuess(xs, ys, ws []float64) [NumParams]float64 {
	var lx, ly, lw []float64
	for i, y := range ys {
		if y > 0 {
			lx = append(lx, xs[i])
			ly = append(ly, math.Log(y))
			lw = append(lw, ws[i]*y*y)
		}
	}
	if len(lx) >= NumParams {
		jac := func(x float64, _ []float64) [NumParams]float64 { return [NumParams]float64{1, x} }
		theta, _, err := solveNormal(lx, ly, lw, jac, nil)
		if err == nil {
			return [NumParams]float64{math.Exp(theta[0]), -theta[1]}
		}
	}
	mean := 0.0
	for _, y := range ys {
		mean += y
	}
	return [NumParams]float64{mean / float64(len(ys)), 0}
}

func newModel(kind string, theta [NumParams]float64, cov *mat.SymDense, xs []float64, excluded []Exclusion) *Model {
	m := &Model{
		Kind:       kind,
		Theta:      theta,
		NDF:        len(xs) - NumParams,
		PointsUsed: len(xs),
		Excluded:   excluded,
	}
	for r := 0; r < NumParams; r++ {
		for c := 0; c < NumParams; c++ {
			m.Covariance[r][c] = cov.At(r, c)
		}
		m.Sigma[r] = math.Sqrt(math.Max(cov.At(r, r), 0))
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	m.UsedDomain = Domain{Min: sorted[0], Max: sorted[len(sorted)-1]}
	return m
}

func chiSquare(xs, ys, ws []float64, eval func(float64) float64) float64 {
	chi2 := 0.0
	for i, x := range xs {
		r := ys[i] - eval(x)
		chi2 += ws[i] * r * r
	}
	return chi2
}

// pValue χ² 右尾概率
func pValue(chi2 float64, ndf int) float64 {
	if ndf <= 0 {
		return 0
	}
	return distuv.ChiSquared{K: float64(ndf)}.Survival(chi2)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
