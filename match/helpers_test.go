package match

import (
	"math"
	"math/rand"
	"testing"
)

// affine is x' = a·x + b·y + tx, y' = c·x + d·y + ty.
type affine struct {
	a, b, tx float64
	c, d, ty float64
}

func similarityAffine(scale, rotDeg, tx, ty float64) affine {
	th := rotDeg * math.Pi / 180
	cos, sin := math.Cos(th), math.Sin(th)
	return affine{a: scale * cos, b: -scale * sin, tx: tx, c: scale * sin, d: scale * cos, ty: ty}
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.b*y + m.tx, m.c*x + m.d*y + m.ty
}

// randomField returns n points uniformly spread over [0, size)², brightest first.
func randomField(rng *rand.Rand, n int, size float64) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{ID: i, X: rng.Float64() * size, Y: rng.Float64() * size, Brightness: float64(1000 - i), MatchID: NoMatch}
	}
	return pts
}

// mapPoints applies m to every point and adds Gaussian noise of sigma.
func mapPoints(rng *rand.Rand, pts []Point, m affine, sigma float64) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		x, y := m.apply(p.X, p.Y)
		if sigma > 0 {
			x += rng.NormFloat64() * sigma
			y += rng.NormFloat64() * sigma
		}
		out[i] = Point{ID: p.ID, X: x, Y: y, Brightness: p.Brightness, MatchID: NoMatch}
	}
	return out
}

// withNoise appends n unrelated points with IDs from firstID, their
// brightness interleaved with the existing points.
func withNoise(rng *rand.Rand, pts []Point, n, firstID int, size float64) []Point {
	out := append([]Point(nil), pts...)
	for i := 0; i < n; i++ {
		out = append(out, Point{
			ID:         firstID + i,
			X:          rng.Float64() * size,
			Y:          rng.Float64() * size,
			Brightness: float64(1000-(i+1)*7) - 0.5,
			MatchID:    NoMatch,
		})
	}
	return out
}

func pointByID(t *testing.T, pts []Point, id int) Point {
	t.Helper()
	for _, p := range pts {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("point %d not found", id)
	return Point{}
}

func newTestMatcher(t *testing.T, mutate func(*Params)) *Matcher {
	t.Helper()
	p := DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	m, err := NewMatcher(p)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}
