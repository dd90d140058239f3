package match

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3×3 projective mapping from A's frame into B's frame,
// stored row-major and normalised so H[8] (h22) is 1.
type Homography struct {
	H           [9]float64      `json:"h"`
	Model       HomographyModel `json:"model"`
	PairMatched int             `json:"pairMatched"`
	Inliers     int             `json:"inliers"`
	Suspect     bool            `json:"suspect"`
}

// IdentityHomography returns the identity mapping.
func IdentityHomography() Homography {
	return Homography{H: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}, Model: ModelAffine}
}

// Apply maps (x, y) through h. ok is false when the point maps to infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	denom := h.H[6]*x + h.H[7]*y + h.H[8]
	if math.Abs(denom) < 1e-12 {
		return 0, 0, false
	}
	return (h.H[0]*x + h.H[1]*y + h.H[2]) / denom, (h.H[3]*x + h.H[4]*y + h.H[5]) / denom, true
}

// ApplyPoint maps p through h, returning p unchanged if it maps to infinity.
func (h Homography) ApplyPoint(p orb.Point) orb.Point {
	x, y, ok := h.Apply(p[0], p[1])
	if !ok {
		return p
	}
	return orb.Point{x, y}
}

// Matrix returns h as a gonum matrix.
func (h Homography) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), h.H[:]...))
}

// EstimateHomography fits a homography to the matched pairs. Pairs whose
// reprojection residual is below radius count as inliers. When the fit
// succeeds but too few pairs agree with it, the homography is returned along
// with ErrNotEnoughInliers.
func EstimateHomography(a, b []Point, pairs []Pair, hp HomographyParams, radius float64) (*Homography, error) {
	model := hp.Model
	if model == ModelAuto {
		model = ModelAffine
		if len(pairs) >= ModelProjective.MinPairs() {
			model = ModelProjective
		}
	}
	if len(pairs) < model.MinPairs() {
		return nil, fmt.Errorf("%s homography needs %d pairs, got %d: %w", model, model.MinPairs(), len(pairs), ErrInsufficientPoints)
	}

	src := make([]orb.Point, len(pairs))
	dst := make([]orb.Point, len(pairs))
	for i, p := range pairs {
		src[i] = a[p.IA].XY()
		dst[i] = b[p.IB].XY()
	}

	H, err := solveHomography(model, src, dst)
	if err != nil {
		return nil, err
	}

	h := &Homography{H: H, Model: model, PairMatched: len(pairs)}
	for i := range src {
		x, y, ok := h.Apply(src[i][0], src[i][1])
		if ok && planar.Distance(orb.Point{x, y}, dst[i]) < radius {
			h.Inliers++
		}
	}

	tol := hp.SanityTolerance
	if tol > 0 {
		h.Suspect = math.Abs(math.Abs(H[0])-math.Abs(H[4])) > tol ||
			math.Abs(math.Abs(H[1])-math.Abs(H[3])) > tol
	}

	if h.Inliers < model.MinPairs() || float64(h.Inliers) < hp.MinInlierFraction*float64(len(pairs)) {
		return h, fmt.Errorf("%d of %d pairs agree with the %s fit: %w", h.Inliers, len(pairs), model, ErrNotEnoughInliers)
	}
	return h, nil
}

// solveHomography runs a normalised DLT with h22 fixed at 1. Both point sets
// are translated to their centroid and scaled to a mean distance of √2 before
// solving, then the result is mapped back.
func solveHomography(model HomographyModel, src, dst []orb.Point) ([9]float64, error) {
	ts, err := hartley(src)
	if err != nil {
		return [9]float64{}, err
	}
	td, err := hartley(dst)
	if err != nil {
		return [9]float64{}, err
	}

	unknowns := 8
	if model == ModelAffine {
		unknowns = 6
	}
	n := len(src)
	A := mat.NewDense(2*n, unknowns, nil)
	rhs := mat.NewVecDense(2*n, nil)
	for i := range src {
		X, Y := ts.apply(src[i])
		x, y := td.apply(dst[i])
		r := 2 * i
		A.Set(r, 0, X)
		A.Set(r, 1, Y)
		A.Set(r, 2, 1)
		A.Set(r+1, 3, X)
		A.Set(r+1, 4, Y)
		A.Set(r+1, 5, 1)
		if model == ModelProjective {
			A.Set(r, 6, -X*x)
			A.Set(r, 7, -Y*x)
			A.Set(r+1, 6, -X*y)
			A.Set(r+1, 7, -Y*y)
		}
		rhs.SetVec(r, x)
		rhs.SetVec(r+1, y)
	}

	x, err := leastSquares(A, rhs)
	if err != nil {
		return [9]float64{}, fmt.Errorf("%s homography: %w", model, err)
	}
	sol := x[0]

	hn := mat.NewDense(3, 3, []float64{
		sol.AtVec(0), sol.AtVec(1), sol.AtVec(2),
		sol.AtVec(3), sol.AtVec(4), sol.AtVec(5),
		0, 0, 1,
	})
	if model == ModelProjective {
		hn.Set(2, 0, sol.AtVec(6))
		hn.Set(2, 1, sol.AtVec(7))
	}

	// H = Td⁻¹ · Hn · Ts
	var tmp, full mat.Dense
	tmp.Mul(hn, ts.matrix())
	full.Mul(td.inverse(), &tmp)

	h22 := full.At(2, 2)
	if math.Abs(h22) < 1e-12 {
		return [9]float64{}, fmt.Errorf("%s homography: h22 vanishes: %w", model, ErrDegenerateGeometry)
	}
	var H [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			H[3*r+c] = full.At(r, c) / h22
		}
	}
	return H, nil
}

// similarity is the isotropic scale-and-shift used for point normalisation.
type similarity struct {
	s, cx, cy float64
}

func hartley(pts []orb.Point) (similarity, error) {
	c, _ := planar.CentroidArea(orb.MultiPoint(pts))
	var mean float64
	for _, p := range pts {
		mean += planar.Distance(p, c)
	}
	mean /= float64(len(pts))
	if mean < 1e-12 {
		return similarity{}, fmt.Errorf("coincident points: %w", ErrDegenerateGeometry)
	}
	return similarity{s: math.Sqrt2 / mean, cx: c[0], cy: c[1]}, nil
}

func (n similarity) apply(p orb.Point) (float64, float64) {
	return n.s * (p[0] - n.cx), n.s * (p[1] - n.cy)
}

func (n similarity) matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		n.s, 0, -n.s * n.cx,
		0, n.s, -n.s * n.cy,
		0, 0, 1,
	})
}

func (n similarity) inverse() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1 / n.s, 0, n.cx,
		0, 1 / n.s, n.cy,
		0, 0, 1,
	})
}
