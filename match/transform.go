package match

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

// Transform is a polynomial mapping from set A's frame into set B's frame:
//
//	x' = X·basis(x, y)
//	y' = Y·basis(x, y)
//
// where basis is 1, x, y for Linear, adds x², xy, y² for Quadratic and
// x(x²+y²), y(x²+y²) for Cubic. Only the first Order.Terms() coefficients are used.
type Transform struct {
	Order   Order             `json:"order"`
	X       [maxTerms]float64 `json:"x"`
	Y       [maxTerms]float64 `json:"y"`
	SigX    float64           `json:"sigX"` // RMS residual along x at fit time
	SigY    float64           `json:"sigY"`
	Matched int               `json:"matched"`
}

// IdentityTransform returns the linear identity mapping.
func IdentityTransform() Transform {
	t := Transform{Order: Linear}
	t.X[1] = 1
	t.Y[2] = 1
	return t
}

// basis fills dst with the polynomial terms of order o at (x, y).
func basis(o Order, x, y float64, dst *[maxTerms]float64) {
	dst[0] = 1
	dst[1] = x
	dst[2] = y
	if o >= Quadratic {
		dst[3] = x * x
		dst[4] = x * y
		dst[5] = y * y
	}
	if o >= Cubic {
		r2 := x*x + y*y
		dst[6] = x * r2
		dst[7] = y * r2
	}
}

// Apply maps (x, y) from A's frame into B's frame.
func (t Transform) Apply(x, y float64) (float64, float64) {
	var b [maxTerms]float64
	basis(t.Order, x, y, &b)
	var ox, oy float64
	for i := 0; i < t.Order.Terms(); i++ {
		ox += t.X[i] * b[i]
		oy += t.Y[i] * b[i]
	}
	return ox, oy
}

// ApplyPoint maps p from A's frame into B's frame.
func (t Transform) ApplyPoint(p orb.Point) orb.Point {
	x, y := t.Apply(p[0], p[1])
	return orb.Point{x, y}
}

// Scale returns the mean linear scale factor of the first-order terms.
func (t Transform) Scale() float64 {
	det := t.X[1]*t.Y[2] - t.X[2]*t.Y[1]
	return math.Sqrt(math.Abs(det))
}

// RotationDeg returns the rotation of the first-order terms in degrees.
func (t Transform) RotationDeg() float64 {
	return math.Atan2(t.Y[1], t.X[1]) * 180 / math.Pi
}

// Translation returns the constant terms.
func (t Transform) Translation() orb.Point {
	return orb.Point{t.X[0], t.Y[0]}
}

// FitTransform solves the least-squares polynomial mapping src[i] -> dst[i].
// Columns of the design matrix are equilibrated before QR so that higher-order
// terms on large coordinates do not dominate the condition number.
func FitTransform(order Order, src, dst []orb.Point) (Transform, error) {
	if order.Terms() == 0 {
		return Transform{}, fmt.Errorf("invalid transform order %d", int(order))
	}
	if len(src) != len(dst) {
		return Transform{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	n, k := len(src), order.Terms()
	if n < order.MinPairs() {
		return Transform{}, fmt.Errorf("%s fit needs %d pairs, got %d: %w", order, order.MinPairs(), n, ErrInsufficientPoints)
	}

	A := mat.NewDense(n, k, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	var row [maxTerms]float64
	for i := range src {
		basis(order, src[i][0], src[i][1], &row)
		for j := 0; j < k; j++ {
			A.Set(i, j, row[j])
		}
		bx.SetVec(i, dst[i][0])
		by.SetVec(i, dst[i][1])
	}

	scale := make([]float64, k)
	for j := 0; j < k; j++ {
		norm := mat.Norm(A.ColView(j), 2)
		if norm == 0 {
			return Transform{}, fmt.Errorf("%s fit: zero column %d: %w", order, j, ErrDegenerateGeometry)
		}
		scale[j] = norm
		for i := 0; i < n; i++ {
			A.Set(i, j, A.At(i, j)/norm)
		}
	}

	sol, err := leastSquares(A, bx, by)
	if err != nil {
		return Transform{}, fmt.Errorf("%s fit: %w", order, err)
	}
	cx, cy := sol[0], sol[1]

	t := Transform{Order: order, Matched: n}
	for j := 0; j < k; j++ {
		t.X[j] = cx.AtVec(j) / scale[j]
		t.Y[j] = cy.AtVec(j) / scale[j]
		if math.IsNaN(t.X[j]) || math.IsNaN(t.Y[j]) || math.IsInf(t.X[j], 0) || math.IsInf(t.Y[j], 0) {
			return Transform{}, fmt.Errorf("%s fit: non-finite coefficient: %w", order, ErrDegenerateGeometry)
		}
	}

	var sx, sy float64
	for i := range src {
		x, y := t.Apply(src[i][0], src[i][1])
		dx, dy := x-dst[i][0], y-dst[i][1]
		sx += dx * dx
		sy += dy * dy
	}
	t.SigX = math.Sqrt(sx / float64(n))
	t.SigY = math.Sqrt(sy / float64(n))
	return t, nil
}

// fitPairs fits order to the given pairs of a and b.
func fitPairs(order Order, a, b []Point, pairs []Pair) (Transform, error) {
	src := make([]orb.Point, len(pairs))
	dst := make([]orb.Point, len(pairs))
	for i, p := range pairs {
		src[i] = a[p.IA].XY()
		dst[i] = b[p.IB].XY()
	}
	return FitTransform(order, src, dst)
}

// residuals recomputes Pair.Dist under t and returns the pairs in place.
func residuals(t Transform, a, b []Point, pairs []Pair) []Pair {
	for i := range pairs {
		pairs[i].Dist = planar.Distance(t.ApplyPoint(a[pairs[i].IA].XY()), b[pairs[i].IB].XY())
	}
	return pairs
}
