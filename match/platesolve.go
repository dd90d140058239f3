package match

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
)

// SolveState tracks the plate-solve loop.
type SolveState int

const (
	StateInit SolveState = iota
	StateMatching
	StateRefining
	StateConverged
	StateFailed
)

func (s SolveState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateMatching:
		return "matching"
	case StateRefining:
		return "refining"
	case StateConverged:
		return "converged"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SolveState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SolveState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Solution maps image pixels onto the sky.
type Solution struct {
	Center      SkyCoord    `json:"center"`      // tangent point
	ImageCenter orb.Point   `json:"imageCenter"` // pixel that maps onto Center
	Transform   Transform   `json:"transform"`
	Homography  *Homography `json:"homography"`
	Pairs       []Pair      `json:"pairs"`
	Stars       []Point     `json:"stars"`   // image stars, pair IA indexes these
	Catalog     []Point     `json:"catalog"` // catalog projected around Center, pair IB indexes these
	Diagnostics Diagnostics `json:"diagnostics"`
	State       SolveState  `json:"state"`
	Trials      int         `json:"trials"`
	Metric      float64     `json:"metric"`
	PixelScale  float64     `json:"pixelScale"` // arcsec per pixel
	RotationDeg float64     `json:"rotationDeg"`
}

// PixelToSky maps an image position onto the sky.
func (s *Solution) PixelToSky(x, y float64) (SkyCoord, bool) {
	xi, eta, ok := s.Homography.Apply(x, y)
	if !ok {
		return SkyCoord{}, false
	}
	return Deproject(xi, eta, s.Center), true
}

// Solver runs the plate-solve convergence loop.
type Solver struct {
	matcher *Matcher
	logger  *slog.Logger
}

// NewSolver returns a Solver driving m.
func NewSolver(m *Matcher) *Solver {
	return &Solver{matcher: m, logger: m.logger}
}

// Solve matches image stars against catalog stars projected around guess and
// then moves the tangent point onto the sky position of imageCenter until it
// stops moving. A nil imageCenter means the centre of the stars' bounding box.
//
// A solution whose latest fit has too few inliers is still returned, together
// with ErrNotEnoughInliers. When the loop runs out of trials, or a refit fails
// part way, the last good solution is returned with Converged unset together
// with ErrConvergenceNotReached.
func (s *Solver) Solve(stars []Point, catalog []CatalogStar, guess SkyCoord, imageCenter *orb.Point) (*Solution, error) {
	p := s.matcher.params
	state := StateInit
	var ic orb.Point
	if imageCenter != nil {
		ic = *imageCenter
	} else {
		mp := make(orb.MultiPoint, len(stars))
		for i, st := range stars {
			mp[i] = st.XY()
		}
		ic = mp.Bound().Center()
	}

	state = StateMatching
	center := guess
	res, err := s.matcher.Match(stars, ProjectCatalog(catalog, center))
	if res == nil {
		s.logger.Debug("plate solve failed", "state", state, "error", err)
		return nil, fmt.Errorf("matching around %s: %w", center, err)
	}
	// soft holds the caveat on the current solution's fit
	soft := err
	if soft != nil {
		s.logger.Warn("initial match is weak", "error", soft)
	}
	sol := newSolution(res, center, ic)

	if p.Solve.MaxTrials == 0 {
		sol.State = StateConverged
		sol.Diagnostics.Converged = true
		return sol, softError(soft)
	}

	state = StateRefining
	for trial := 1; trial <= p.Solve.MaxTrials; trial++ {
		xi, eta, ok := sol.Homography.Apply(ic[0], ic[1])
		if !ok {
			return s.giveUp(sol, trial-1, fmt.Errorf("image centre maps to infinity"), soft)
		}
		next := Deproject(xi, eta, center)
		metric := relativeChange(center.RA, wrapDegrees(next.RA-center.RA)) + relativeChange(center.Dec, next.Dec-center.Dec)

		// the old plane differs from the new one by the centre offset
		t := sol.Transform
		t.X[0] -= xi
		t.Y[0] -= eta

		res, err := s.matcher.Refine(sol.Stars, ProjectCatalog(catalog, next), t)
		if res == nil || (err != nil && !errors.Is(err, ErrNotEnoughInliers)) {
			return s.giveUp(sol, trial-1, err, soft)
		}

		center = next
		soft = err
		sol = newSolution(res, center, ic)
		sol.Trials = trial
		sol.Metric = metric
		sol.Diagnostics.TrialsUsed = trial
		s.logger.Debug("plate solve trial", "trial", trial, "center", center, "metric", metric, "pairs", len(sol.Pairs), "inliers", sol.Diagnostics.Inliers)

		if metric < p.Solve.ConvergenceTolerance {
			sol.State = StateConverged
			sol.Diagnostics.Converged = true
			return sol, softError(soft)
		}
	}

	s.logger.Debug("plate solve exhausted trials", "state", state, "trials", p.Solve.MaxTrials)
	return s.giveUp(sol, p.Solve.MaxTrials, nil, soft)
}

func softError(soft error) error {
	if soft == nil {
		return nil
	}
	return fmt.Errorf("plate solve: %w", soft)
}

// giveUp marks sol as the best-effort answer after trials completed trials.
// soft is the caveat on sol's own fit, if any.
func (s *Solver) giveUp(sol *Solution, trials int, cause, soft error) (*Solution, error) {
	sol.State = StateFailed
	sol.Trials = trials
	sol.Diagnostics.Converged = false
	sol.Diagnostics.TrialsUsed = trials
	var err error
	if cause != nil {
		err = fmt.Errorf("after %d trials (%v): %w", trials, cause, ErrConvergenceNotReached)
	} else {
		err = fmt.Errorf("after %d trials: %w", trials, ErrConvergenceNotReached)
	}
	if soft != nil {
		return sol, errors.Join(err, soft)
	}
	return sol, err
}

func newSolution(res *Result, center SkyCoord, imageCenter orb.Point) *Solution {
	h := res.Homography
	det := h.H[0]*h.H[4] - h.H[1]*h.H[3]
	d := res.Diagnostics
	d.Converged = false
	return &Solution{
		Center:      center,
		ImageCenter: imageCenter,
		Transform:   res.Transform,
		Homography:  h,
		Pairs:       res.Pairs,
		Stars:       res.PointsA,
		Catalog:     res.PointsB,
		Diagnostics: d,
		State:       StateRefining,
		PixelScale:  math.Sqrt(math.Abs(det)),
		RotationDeg: math.Atan2(h.H[3], h.H[0]) * 180 / math.Pi,
	}
}

// relativeChange is |delta/old|, falling back to |delta| when old is zero.
func relativeChange(old, delta float64) float64 {
	if old == 0 {
		return math.Abs(delta)
	}
	return math.Abs(delta / old)
}
