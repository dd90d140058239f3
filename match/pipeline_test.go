package match

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_ThreePointRotation(t *testing.T) {
	a := []Point{
		{ID: 0, X: 0, Y: 0},
		{ID: 1, X: 10, Y: 0},
		{ID: 2, X: 0, Y: 10},
	}
	// rotate 90°, scale 2, translate (5, 5)
	m := similarityAffine(2, 90, 5, 5)
	b := mapPoints(nil, a, m, 0)

	matcher := newTestMatcher(t, func(p *Params) { p.Matching.Order = Linear })
	res, err := matcher.Match(a, b)
	require.NoError(t, err)

	tr := res.Transform
	assert.InDelta(t, 2.0, tr.Scale(), 1e-6)
	assert.InDelta(t, 90.0, tr.RotationDeg(), 1e-6)
	assert.InDelta(t, 5.0, tr.Translation()[0], 1e-6)
	assert.InDelta(t, 5.0, tr.Translation()[1], 1e-6)
	assert.Equal(t, 3, res.Diagnostics.PairMatched)
	assert.Equal(t, 3, res.Diagnostics.Inliers)
	assert.False(t, res.Diagnostics.Suspect)

	for _, p := range res.PointsA {
		assert.Equal(t, p.ID, p.MatchID, "point %d matched the wrong counterpart", p.ID)
	}
}

func TestMatch_FiftyPointsWithNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	real := randomField(rng, 45, 1000)
	m := affine{a: 1.002, b: 0.004, tx: 3.5, c: -0.003, d: 0.998, ty: -2.25}

	a := withNoise(rng, real, 5, 100, 1000)
	b := withNoise(rng, mapPoints(rng, real, m, 0.05), 5, 200, 1000)
	require.Len(t, a, 50)
	require.Len(t, b, 50)

	res, err := newTestMatcher(t, nil).Match(a, b)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Diagnostics.PairMatched, 40)
	assert.GreaterOrEqual(t, res.Diagnostics.Inliers, 40)

	wrong := 0
	for _, p := range res.Pairs {
		if res.PointsA[p.IA].ID != res.PointsB[p.IB].ID {
			wrong++
		}
	}
	assert.LessOrEqual(t, wrong, 1, "unexpected mismatched pairs")
}

func TestMatch_RecoversKnownAffine(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const (
		sigma    = 0.3
		outliers = 10
	)
	a := randomField(rng, 60, 1000)
	m := similarityAffine(1.5, 30, 100, -50)
	b := withNoise(rng, mapPoints(rng, a, m, sigma), outliers, 500, 1500)

	res, err := newTestMatcher(t, nil).Match(a, b)
	require.NoError(t, err)

	tr := res.Transform
	assert.InDelta(t, m.tx, tr.X[0], 20*sigma)
	assert.InDelta(t, m.a, tr.X[1], 0.01)
	assert.InDelta(t, m.b, tr.X[2], 0.01)
	assert.InDelta(t, m.ty, tr.Y[0], 20*sigma)
	assert.InDelta(t, m.c, tr.Y[1], 0.01)
	assert.InDelta(t, m.d, tr.Y[2], 0.01)
	assert.InDelta(t, 1.5, tr.Scale(), 0.005)
	assert.InDelta(t, 30.0, tr.RotationDeg(), 0.1)

	outlierFraction := float64(outliers) / float64(len(b))
	d := res.Diagnostics
	require.Positive(t, d.PairMatched)
	assert.GreaterOrEqual(t, float64(d.Inliers)/float64(d.PairMatched), 1-outlierFraction-0.05)
	assert.GreaterOrEqual(t, d.PairMatched, 55)
}

func TestMatch_DoesNotModifyInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomField(rng, 30, 500)
	b := mapPoints(rng, a, similarityAffine(1, 5, 10, 10), 0)
	before := append([]Point(nil), a...)

	res, err := newTestMatcher(t, nil).Match(a, b)
	require.NoError(t, err)
	assert.Equal(t, before, a)
	for _, p := range b {
		assert.Equal(t, NoMatch, p.MatchID)
	}
	assert.NotEmpty(t, res.Pairs)
}

func TestMatch_Correspondences_AreInjective(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	a := randomField(rng, 40, 800)
	b := withNoise(rng, mapPoints(rng, a, similarityAffine(0.8, -45, 0, 300), 0.2), 8, 400, 800)

	res, err := newTestMatcher(t, nil).Match(a, b)
	require.NoError(t, err)

	seenA := map[int]bool{}
	seenB := map[int]bool{}
	for _, p := range res.Pairs {
		assert.False(t, seenA[p.IA], "A index %d paired twice", p.IA)
		assert.False(t, seenB[p.IB], "B index %d paired twice", p.IB)
		seenA[p.IA] = true
		seenB[p.IB] = true
	}
}

func TestMatch_InsufficientPoints(t *testing.T) {
	matcher := newTestMatcher(t, nil)
	two := []Point{{ID: 0, X: 0, Y: 0}, {ID: 1, X: 1, Y: 1}}
	three := []Point{{ID: 0, X: 0, Y: 0}, {ID: 1, X: 10, Y: 0}, {ID: 2, X: 0, Y: 10}}

	_, err := matcher.Match(two, three)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, err = matcher.Match(three, two)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	cubic := newTestMatcher(t, func(p *Params) { p.Matching.Order = Cubic })
	_, err = cubic.Match(three, three)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestMatch_NoCandidateMatch(t *testing.T) {
	a := []Point{{ID: 0, X: 0, Y: 0}, {ID: 1, X: 10, Y: 0}, {ID: 2, X: 0, Y: 10}}
	b := []Point{{ID: 0, X: 0, Y: 0}, {ID: 1, X: 10, Y: 0}, {ID: 2, X: 3, Y: 4}}

	res, err := newTestMatcher(t, nil).Match(a, b)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoCandidateMatch)
}

func TestMatch_ScaleWindowRelaxed(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomField(rng, 30, 600)
	b := mapPoints(rng, a, similarityAffine(3, 0, 0, 0), 0)

	// the window excludes the true scale, so only the relaxed attempt can match
	matcher := newTestMatcher(t, func(p *Params) {
		p.Matching.ScaleBounds = &Bounds{Min: 0.8, Max: 1.2}
	})
	res, err := matcher.Match(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.InDelta(t, 3.0, res.Transform.Scale(), 1e-6)
}

func TestMatch_RotationWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	a := randomField(rng, 25, 600)
	b := mapPoints(rng, a, similarityAffine(1, 40, 0, 0), 0)

	ok := newTestMatcher(t, func(p *Params) {
		p.Matching.RotationBounds = &RotationWindow{Angle: 40, Tolerance: 2}
	})
	res, err := ok.Match(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, res.Transform.RotationDeg(), 1e-6)

	wrong := newTestMatcher(t, func(p *Params) {
		p.Matching.RotationBounds = &RotationWindow{Angle: -120, Tolerance: 2}
	})
	_, err = wrong.Match(a, b)
	assert.ErrorIs(t, err, ErrNoCandidateMatch)
}

func TestMatchReference_SharedAcrossCalls(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	refPts := randomField(rng, 35, 1000)
	matcher := newTestMatcher(t, nil)
	ref, err := matcher.NewReference(refPts)
	require.NoError(t, err)
	require.Equal(t, 35, ref.Len())

	for i, shift := range []float64{0, 12.5, -40} {
		frame := mapPoints(rng, refPts, similarityAffine(1, float64(i), shift, -shift), 0.1)
		res, err := matcher.MatchReference(frame, ref)
		require.NoError(t, err, "frame %d", i)
		// frame -> reference is the inverse mapping
		inv := similarityAffine(1, -float64(i), 0, 0)
		assert.InDelta(t, inv.a, res.Transform.X[1], 1e-3)
		assert.GreaterOrEqual(t, res.Diagnostics.PairMatched, 33)
	}
	for _, p := range ref.Points() {
		assert.Equal(t, NoMatch, p.MatchID, "reference points must stay untouched")
	}
}

func TestRefine_FromKnownTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	a := randomField(rng, 40, 1000)
	m := similarityAffine(1, 0.5, 30, -20)
	b := mapPoints(rng, a, m, 0.1)

	guess := IdentityTransform()
	guess.X[0], guess.Y[0] = 30, -20

	res, err := newTestMatcher(t, func(p *Params) { p.Matching.MatchRadius = 20 }).Refine(a, b, guess)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Transform.RotationDeg(), 0.01)
	assert.GreaterOrEqual(t, res.Diagnostics.PairMatched, 36)
}

func TestNewMatcher_InvalidParams(t *testing.T) {
	p := DefaultParams()
	p.Matching.MaxRatio = 1.5
	_, err := NewMatcher(p)
	assert.Error(t, err)

	p = DefaultParams()
	p.Matching.ScaleBounds = &Bounds{Min: 2, Max: 1}
	_, err = NewMatcher(p)
	assert.Error(t, err)
}

func TestIsSoft(t *testing.T) {
	assert.True(t, IsSoft(ErrNotEnoughInliers))
	assert.True(t, IsSoft(errors.Join(errors.New("x"), ErrConvergenceNotReached)))
	assert.False(t, IsSoft(ErrNoCandidateMatch))
	assert.False(t, IsSoft(nil))
	assert.True(t, errors.Is(ErrNotEnoughPairs, ErrInsufficientPoints))
}
