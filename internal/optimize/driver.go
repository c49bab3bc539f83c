// Package optimize implements the Optimizer Driver (C8): an L-BFGS
// minimizer run over a reg.Metric's value/gradient closures, plus a
// multi-scale wrapper that Gaussian-smooths fixed/moving across a list
// of sigmas before handing each level to the driver in turn. Levels are
// not downsampled: every level runs at full resolution.
package optimize

import (
	"math"

	gonumopt "gonum.org/v1/gonum/optimize"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
	"github.com/npl-go/npcore/internal/reg"
)

// StopReason tags why a Driver run terminated.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopGradient
	StopStep
	StopFunction
	StopFunctionBelowThreshold
	StopIterations
	StopFailure
)

func (r StopReason) String() string {
	switch r {
	case StopGradient:
		return "gradient-norm-converged"
	case StopStep:
		return "step-size-converged"
	case StopFunction:
		return "function-value-converged"
	case StopFunctionBelowThreshold:
		return "function-below-threshold"
	case StopIterations:
		return "max-iterations"
	case StopFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Driver wraps gonum's L-BFGS method behind a reg.Metric, exposing the
// handful of stopping knobs the registration pipeline needs without any
// I/O of its own.
type Driver struct {
	History       int
	StopGrad      float64
	StopFunc      float64
	StopFBelow    float64
	HasStopFBelow bool
	MaxIter       int
}

// NewDriver returns a Driver with the teacher-standard defaults: history
// length 5, loose convergence thresholds suitable for registration cost
// functions, and a generous iteration cap.
func NewDriver() *Driver {
	return &Driver{
		History:  5,
		StopGrad: 1e-5,
		StopFunc: 1e-8,
		MaxIter:  200,
	}
}

// SetStopFBelow sets an optional "good enough" absolute function-value
// floor. It does not stop the run early: when gonum reports Success and
// the final value is at or below the floor, Run reports
// StopFunctionBelowThreshold instead of StopFunction.
func (d *Driver) SetStopFBelow(v float64) {
	d.StopFBelow = v
	d.HasStopFBelow = true
}

// Result is the outcome of a single Run.
type Result struct {
	X          []float64
	F          float64
	Gradient   []float64
	Iterations int
	Reason     StopReason
}

// Run minimizes m starting from x0, returning the best parameters found.
func (d *Driver) Run(m reg.Metric, x0 []float64) (*Result, error) {
	if len(x0) != m.Dim() {
		return nil, &coreerr.InvalidArgument{Op: "optimize.Driver.Run", Reason: "x0 length does not match metric dimension"}
	}

	problem := gonumopt.Problem{
		Func: m.Value,
		Grad: func(grad, x []float64) {
			m.Grad(x, grad)
		},
	}

	method := &gonumopt.LBFGS{Store: d.History}
	settings := gonumopt.Settings{
		MajorIterations:   d.MaxIter,
		GradientThreshold: d.StopGrad,
		Converger: &gonumopt.FunctionConverge{
			Absolute:   d.StopFunc,
			Iterations: 10,
		},
	}

	res, err := gonumopt.Minimize(problem, x0, &settings, method)
	if err != nil && res == nil {
		return nil, &coreerr.RuntimeError{Op: "optimize.Driver.Run", Err: err}
	}

	reason := classifyStatus(res, d)
	return &Result{
		X:          res.X,
		F:          res.F,
		Gradient:   res.Gradient,
		Iterations: int(res.MajorIterations),
		Reason:     reason,
	}, nil
}

func classifyStatus(res *gonumopt.Result, d *Driver) StopReason {
	if res == nil {
		return StopFailure
	}
	switch res.Status {
	case gonumopt.GradientThreshold:
		return StopGradient
	case gonumopt.FunctionConvergence:
		return StopFunction
	case gonumopt.StepConvergence:
		return StopStep
	case gonumopt.IterationLimit:
		return StopIterations
	case gonumopt.Success:
		if d.HasStopFBelow && res.F <= d.StopFBelow {
			return StopFunctionBelowThreshold
		}
		return StopFunction
	default:
		return StopUnknown
	}
}

// MultiScaleDriver runs a Driver at each of a sequence of Gaussian
// smoothing sigmas, from coarsest to finest, seeding each level with the
// previous level's converged transform. No level is downsampled; every
// level, coarse or fine, runs at full resolution.
type MultiScaleDriver struct {
	Sigmas []float64
	Driver *Driver
	// NewMetric builds a fresh Metric for a (possibly smoothed/resampled)
	// fixed/moving pair at one pyramid level.
	NewMetric func(fixed, moving *mrimage.Image) (reg.Metric, error)
}

// NewMultiScaleDriver returns a MultiScaleDriver over the given sigma
// schedule (coarsest first, 0 meaning full resolution).
func NewMultiScaleDriver(sigmas []float64, newMetric func(fixed, moving *mrimage.Image) (reg.Metric, error)) *MultiScaleDriver {
	return &MultiScaleDriver{Sigmas: sigmas, Driver: NewDriver(), NewMetric: newMetric}
}

// Run executes the pyramid, smoothing fixed/moving at each sigma before
// constructing that level's metric, and returns the final level's result
// as the metric reports it; the parameters are not converted to RAS
// space.
func (md *MultiScaleDriver) Run(fixed, moving *mrimage.Image, x0 []float64) (*Result, error) {
	x := append([]float64(nil), x0...)
	var last *Result
	for _, sigma := range md.Sigmas {
		lf := smoothImage(fixed, sigma)
		lm := smoothImage(moving, sigma)
		metric, err := md.NewMetric(lf, lm)
		if err != nil {
			return nil, err
		}
		res, err := md.Driver.Run(metric, x)
		if err != nil {
			return nil, err
		}
		x = res.X
		last = res
	}
	if last == nil {
		return nil, &coreerr.InvalidArgument{Op: "optimize.MultiScaleDriver.Run", Reason: "empty sigma schedule"}
	}
	return last, nil
}

// smoothImage applies separable Gaussian smoothing with standard
// deviation sigma (in voxels) to img, returning a new Image sharing the
// same orientation. sigma<=0 returns img unchanged.
func smoothImage(img *mrimage.Image, sigma float64) *mrimage.Image {
	if sigma <= 0 {
		return img
	}
	shape := img.Store.Shape()
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var ksum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		ksum += w
	}
	for i := range kernel {
		kernel[i] /= ksum
	}

	cur := img.Store
	for axis := 0; axis < len(shape); axis++ {
		cur = convolveAxis(cur, axis, kernel, radius)
	}
	out := mrimage.New(cur)
	_ = out.SetOrient(img.Origin(), img.Spacing(), img.Direction(), false)
	return out
}

func convolveAxis(s *ndarray.Store, axis int, kernel []float64, radius int) *ndarray.Store {
	shape := s.Shape()
	out, err := ndarray.Create(shape, ndarray.KindFloat64)
	if err != nil {
		return s
	}
	in := ndarray.NewAccessorFloat64(s)
	outAcc := ndarray.NewAccessorFloat64(out)

	idx := make([]int, len(shape))
	var walk func(d int)
	walk = func(d int) {
		if d == len(shape) {
			var acc float64
			for k := -radius; k <= radius; k++ {
				pos := idx[axis] + k
				if pos < 0 {
					pos = 0
				}
				if pos >= shape[axis] {
					pos = shape[axis] - 1
				}
				idx2 := append([]int(nil), idx...)
				idx2[axis] = pos
				v, _ := in.Get(idx2...)
				acc += v * kernel[k+radius]
			}
			_ = outAcc.Set(acc, idx...)
			return
		}
		for i := 0; i < shape[d]; i++ {
			idx[d] = i
			walk(d + 1)
		}
	}
	walk(0)
	return out
}
