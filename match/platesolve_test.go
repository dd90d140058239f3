package match

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skyField is a synthetic exposure: image stars plus the catalog entries
// they were generated from.
type skyField struct {
	stars   []Point
	catalog []CatalogStar
	center  orb.Point
}

// newSkyField places n stars on a size² image that maps onto the sky around
// truth at scale arcsec/px, rotated by rotDeg.
func newSkyField(seed int64, n int, size, scale, rotDeg float64, truth SkyCoord) skyField {
	rng := rand.New(rand.NewSource(seed))
	c := size / 2
	m := similarityAffine(scale, rotDeg, 0, 0)
	f := skyField{center: orb.Point{c, c}}
	for i := 0; i < n; i++ {
		x, y := rng.Float64()*size, rng.Float64()*size
		xi, eta := m.apply(x-c, y-c)
		f.stars = append(f.stars, Point{ID: i, X: x, Y: y, Brightness: float64(1000 - i), MatchID: NoMatch})
		f.catalog = append(f.catalog, CatalogStar{ID: 100 + i, Sky: Deproject(xi, eta, truth), Mag: 6 + 0.1*float64(i)})
	}
	return f
}

func newTestSolver(t *testing.T, maxTrials int) *Solver {
	t.Helper()
	return NewSolver(newTestMatcher(t, func(p *Params) {
		p.Solve.MaxTrials = maxTrials
	}))
}

func TestSolve_Converges(t *testing.T) {
	truth := SkyCoord{RA: 150, Dec: 30}
	f := newSkyField(11, 40, 1024, 2, 10, truth)
	guess := SkyCoord{RA: 150.05, Dec: 30.03}

	sol, err := newTestSolver(t, 20).Solve(f.stars, f.catalog, guess, &f.center)
	require.NoError(t, err)

	assert.Equal(t, StateConverged, sol.State)
	assert.True(t, sol.Diagnostics.Converged)
	assert.Greater(t, sol.Trials, 1)
	assert.Less(t, sol.Metric, 1e-8)
	assert.InDelta(t, truth.RA, sol.Center.RA, 1e-6)
	assert.InDelta(t, truth.Dec, sol.Center.Dec, 1e-6)
	assert.InDelta(t, 2.0, sol.PixelScale, 1e-3)
	assert.InDelta(t, 10.0, sol.RotationDeg, 1e-2)
	assert.Equal(t, 40, len(sol.Pairs))

	for _, p := range sol.Pairs {
		assert.Equal(t, sol.Stars[p.IA].ID+100, sol.Catalog[p.IB].ID, "star %d matched the wrong catalog entry", sol.Stars[p.IA].ID)
	}

	sky, ok := sol.PixelToSky(f.center[0], f.center[1])
	require.True(t, ok)
	assert.InDelta(t, truth.RA, sky.RA, 1e-6)
	assert.InDelta(t, truth.Dec, sky.Dec, 1e-6)
}

func TestSolve_ZeroTrials(t *testing.T) {
	f := newSkyField(11, 40, 1024, 2, 10, SkyCoord{RA: 150, Dec: 30})
	guess := SkyCoord{RA: 150.05, Dec: 30.03}

	sol, err := newTestSolver(t, 0).Solve(f.stars, f.catalog, guess, &f.center)
	require.NoError(t, err)
	assert.Equal(t, StateConverged, sol.State)
	assert.True(t, sol.Diagnostics.Converged)
	assert.Equal(t, guess, sol.Center)
	assert.Equal(t, 0, sol.Trials)
}

func TestSolve_ExhaustsTrials(t *testing.T) {
	truth := SkyCoord{RA: 150, Dec: 30}
	f := newSkyField(11, 40, 1024, 2, 10, truth)

	sol, err := newTestSolver(t, 1).Solve(f.stars, f.catalog, SkyCoord{RA: 150.05, Dec: 30.03}, &f.center)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConvergenceNotReached))
	assert.True(t, IsSoft(err))

	require.NotNil(t, sol, "best-effort solution must be returned")
	assert.Equal(t, StateFailed, sol.State)
	assert.False(t, sol.Diagnostics.Converged)
	assert.Equal(t, 1, sol.Trials)
	// one step already lands close to the truth
	assert.InDelta(t, truth.RA, sol.Center.RA, 1e-4)
	assert.InDelta(t, truth.Dec, sol.Center.Dec, 1e-4)
}

func TestSolve_TrialsBounded(t *testing.T) {
	f := newSkyField(5, 40, 1024, 1.5, -30, SkyCoord{RA: 10, Dec: -45})
	guess := SkyCoord{RA: 10.04, Dec: -45.02}

	for _, max := range []int{1, 2, 3, 5} {
		sol, err := newTestSolver(t, max).Solve(f.stars, f.catalog, guess, &f.center)
		require.NotNil(t, sol, "maxTrials=%d: %v", max, err)
		assert.LessOrEqual(t, sol.Trials, max)
		if err != nil {
			assert.ErrorIs(t, err, ErrConvergenceNotReached)
			assert.Equal(t, max, sol.Trials)
		}
	}
}

// newDistortedSkyField is newSkyField without rotation plus a quadratic
// distortion of amp arcsec along xi, zero at the image centre.
func newDistortedSkyField(seed int64, n int, size, scale, amp float64, truth SkyCoord) skyField {
	rng := rand.New(rand.NewSource(seed))
	c := size / 2
	f := skyField{center: orb.Point{c, c}}
	for i := 0; i < n; i++ {
		x, y := rng.Float64()*size, rng.Float64()*size
		u := (x - c) / c
		xi, eta := scale*(x-c)+amp*u*u, scale*(y-c)
		f.stars = append(f.stars, Point{ID: i, X: x, Y: y, Brightness: float64(1000 - i), MatchID: NoMatch})
		f.catalog = append(f.catalog, CatalogStar{ID: 100 + i, Sky: Deproject(xi, eta, truth), Mag: 6 + 0.1*float64(i)})
	}
	return f
}

func TestSolve_ReportsWeakFit(t *testing.T) {
	f := newDistortedSkyField(17, 40, 1024, 2, 5, SkyCoord{RA: 150, Dec: 30})
	guess := SkyCoord{RA: 150.02, Dec: 30.01}

	for _, maxTrials := range []int{0, 20} {
		// the quadratic terms absorb the distortion, an affine homography cannot
		m := newTestMatcher(t, func(p *Params) {
			p.Matching.Order = Quadratic
			p.Matching.TriangleTolerance = 0.01
			p.Matching.MatchRadius = 0.5
			p.Homography.Model = ModelAffine
			p.Homography.MinInlierFraction = 1
			p.Solve.MaxTrials = maxTrials
		})

		sol, err := NewSolver(m).Solve(f.stars, f.catalog, guess, &f.center)
		require.NotNil(t, sol, "maxTrials=%d: %v", maxTrials, err)
		require.Error(t, err, "maxTrials=%d", maxTrials)
		assert.ErrorIs(t, err, ErrNotEnoughInliers, "maxTrials=%d", maxTrials)
		assert.True(t, IsSoft(err))
		assert.Less(t, sol.Diagnostics.Inliers, sol.Diagnostics.PairMatched)
		if sol.State == StateFailed {
			assert.ErrorIs(t, err, ErrConvergenceNotReached)
		}
	}
}

func TestSolve_ExplicitZeroImageCenter(t *testing.T) {
	f := newSkyField(11, 40, 1024, 2, 10, SkyCoord{RA: 150, Dec: 30})

	sol, err := newTestSolver(t, 0).Solve(f.stars, f.catalog, SkyCoord{RA: 150, Dec: 30}, &orb.Point{})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{}, sol.ImageCenter)
}

func TestGiveUp_JoinsWeakFit(t *testing.T) {
	s := newTestSolver(t, 1)
	sol, err := s.giveUp(&Solution{}, 1, nil, fmt.Errorf("2 of 8 pairs: %w", ErrNotEnoughInliers))
	assert.Equal(t, StateFailed, sol.State)
	assert.ErrorIs(t, err, ErrConvergenceNotReached)
	assert.ErrorIs(t, err, ErrNotEnoughInliers)

	_, err = s.giveUp(&Solution{}, 1, nil, nil)
	assert.ErrorIs(t, err, ErrConvergenceNotReached)
	assert.NotErrorIs(t, err, ErrNotEnoughInliers)
}

func TestSolve_DefaultImageCenter(t *testing.T) {
	f := newSkyField(11, 40, 1024, 2, 10, SkyCoord{RA: 150, Dec: 30})

	sol, err := newTestSolver(t, 0).Solve(f.stars, f.catalog, SkyCoord{RA: 150, Dec: 30}, nil)
	require.NoError(t, err)

	var mp orb.MultiPoint
	for _, s := range f.stars {
		mp = append(mp, s.XY())
	}
	assert.Equal(t, mp.Bound().Center(), sol.ImageCenter)
}

func TestSolve_TooFewStars(t *testing.T) {
	f := newSkyField(11, 40, 1024, 2, 10, SkyCoord{RA: 150, Dec: 30})

	sol, err := newTestSolver(t, 5).Solve(f.stars[:2], f.catalog, SkyCoord{RA: 150, Dec: 30}, &f.center)
	assert.Nil(t, sol)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestRelativeChange(t *testing.T) {
	assert.Equal(t, 0.5, relativeChange(-2, 1))
	assert.Equal(t, 3.0, relativeChange(0, -3))
	assert.False(t, math.IsNaN(relativeChange(0, 0)))
}
