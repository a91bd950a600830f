package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"frapdiff/internal/models"
	"frapdiff/pkg/extraction"
)

// Parameter bounds applied after the log transform
const (
	minRate = 1e-12
	maxRate = 1e6
)

// Diffusion fits a 1-D reaction-diffusion model with reflecting outer
// boundaries:
//
//	du/dt = D d²u/dx² + koff (I0 - u)
//
// The first post-bleach profile is the initial condition. It is padded with
// L_f reservoir pixels at intensity I0 on each side. D and koff are fitted
// by Nelder-Mead in log space, L_f by scanning the integers inside its bounds.
type Diffusion struct {
	// Substeps is the number of implicit Euler steps per frame interval
	Substeps int

	// MaxIterations bounds the Nelder-Mead iterations per L_f candidate
	MaxIterations int
}

// NewDiffusion returns a fitter with default solver settings
func NewDiffusion() *Diffusion {
	return &Diffusion{Substeps: 4, MaxIterations: 500}
}

// Fit reads the profile table at profilePath and fits it
func (d *Diffusion) Fit(ctx context.Context, profilePath, name string, params models.FitParams) (Result, error) {
	loc, values, err := extraction.LoadTable(profilePath)
	if err != nil {
		return nil, err
	}
	return d.FitTable(ctx, name, loc, values, params)
}

// model holds everything needed to simulate one L_f candidate
type model struct {
	initial  []float64
	observed *mat.Dense
	lf       int
	i0       float64
	dx, dt   float64
	substeps int
}

// simulate integrates the model for the observed number of frames and
// returns the predicted profile (positions x frames)
func (m *model) simulate(D, koff float64) *mat.Dense {
	n := len(m.initial)
	cells := n + 2*m.lf
	_, frames := m.observed.Dims()

	u := make([]float64, cells)
	for i := range u {
		u[i] = m.i0
	}
	copy(u[m.lf:], m.initial)

	h := m.dt / float64(m.substeps)
	r := D * h / (m.dx * m.dx)
	k := koff * h

	// tridiagonal system of one backward Euler step
	lower := make([]float64, cells)
	diag := make([]float64, cells)
	upper := make([]float64, cells)
	for i := 0; i < cells; i++ {
		diag[i] = 1 + 2*r + k
		lower[i] = -r
		upper[i] = -r
	}
	// zero-flux ends
	diag[0] = 1 + r + k
	diag[cells-1] = 1 + r + k
	lower[0] = 0
	upper[cells-1] = 0

	pred := mat.NewDense(n, frames, nil)
	pred.SetCol(0, m.initial)

	rhs := make([]float64, cells)
	scratch := make([]float64, cells)
	for f := 1; f < frames; f++ {
		for s := 0; s < m.substeps; s++ {
			for i := range rhs {
				rhs[i] = u[i] + k*m.i0
			}
			solveTridiagonal(lower, diag, upper, rhs, u, scratch)
		}
		pred.SetCol(f, u[m.lf:m.lf+n])
	}
	return pred
}

// sse returns the squared error over all frames after the first
func (m *model) sse(pred *mat.Dense) float64 {
	n, frames := m.observed.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		for f := 1; f < frames; f++ {
			e := pred.At(i, f) - m.observed.At(i, f)
			sum += e * e
		}
	}
	return sum
}

// solveTridiagonal solves the system with the Thomas algorithm, writing the
// solution into x. scratch must have the length of diag.
func solveTridiagonal(lower, diag, upper, rhs, x, scratch []float64) {
	n := len(diag)
	c := scratch
	c[0] = upper[0] / diag[0]
	x[0] = rhs[0] / diag[0]
	for i := 1; i < n; i++ {
		denom := diag[i] - lower[i]*c[i-1]
		c[i] = upper[i] / denom
		x[i] = (rhs[i] - lower[i]*x[i-1]) / denom
	}
	for i := n - 2; i >= 0; i-- {
		x[i] -= c[i] * x[i+1]
	}
}

func clampRate(logValue float64) float64 {
	return math.Min(math.Max(math.Exp(logValue), minRate), maxRate)
}

// lfCandidates returns the integer reservoir widths inside [min, max]
func lfCandidates(minLf, maxLf float64) []int {
	lo := int(math.Ceil(minLf))
	hi := int(math.Floor(maxLf))
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	out := make([]int, 0, hi-lo+1)
	for lf := lo; lf <= hi; lf++ {
		out = append(out, lf)
	}
	return out
}

// FitTable fits a profile given as location column and positions x frames values
func (d *Diffusion) FitTable(ctx context.Context, name string, loc []float64, values *mat.Dense, params models.FitParams) (Result, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}

	n, frames := values.Dims()
	if frames < 2 {
		return nil, fmt.Errorf("need at least 2 post-bleach frames to fit, got %d", frames)
	}
	if len(loc) != n {
		return nil, fmt.Errorf("location column has %d entries for %d positions", len(loc), n)
	}

	dx := 1.0
	if n > 1 {
		dx = loc[1] - loc[0]
	}
	if dx <= 0 {
		return nil, fmt.Errorf("location spacing must be positive, got %g", dx)
	}

	substeps := d.Substeps
	if substeps < 1 {
		substeps = 1
	}

	var (
		best     Result
		bestSSE  = math.Inf(1)
		initialX = []float64{math.Log(params.DGuess), math.Log(params.KoffGuess)}
	)

	for _, lf := range lfCandidates(params.MinLf, params.MaxLf) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m := &model{
			initial:  mat.Col(nil, 0, values),
			observed: values,
			lf:       lf,
			i0:       params.I0,
			dx:       dx,
			dt:       params.FrameInterval,
			substeps: substeps,
		}

		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				return m.sse(m.simulate(clampRate(x[0]), clampRate(x[1])))
			},
		}
		settings := &optimize.Settings{
			MajorIterations: d.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Relative:   1e-12,
				Iterations: 60,
			},
		}

		res, err := optimize.Minimize(problem, initialX, settings, &optimize.NelderMead{})
		if res == nil {
			return nil, fmt.Errorf("fit with L_f=%d failed: %w", lf, err)
		}

		if res.F < bestSSE {
			bestSSE = res.F
			D, koff := clampRate(res.X[0]), clampRate(res.X[1])
			best = Result{
				"name": name,
				"D":    D,
				"koff": koff,
				"L_f":  lf,
				"sse":  res.F,
				"r2":   rSquared(values, res.F),
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("fit did not converge for any L_f in [%g, %g]", params.MinLf, params.MaxLf)
	}
	return best, nil
}

// rSquared compares the residual error with the variance of the fitted
// frames
func rSquared(values *mat.Dense, sse float64) float64 {
	n, frames := values.Dims()
	observed := make([]float64, 0, n*(frames-1))
	for i := 0; i < n; i++ {
		observed = append(observed, mat.Row(nil, i, values)[1:]...)
	}
	mean := stat.Mean(observed, nil)

	deviations := make([]float64, len(observed))
	for i, v := range observed {
		deviations[i] = (v - mean) * (v - mean)
	}
	sst := floats.Sum(deviations)
	if sst == 0 {
		return 1
	}
	return 1 - sse/sst
}
