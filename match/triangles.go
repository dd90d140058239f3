package match

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb/planar"
)

const (
	// minSide is the shortest longest-side a triangle may have.
	minSide = 1e-9
	// minShape rejects nearly collinear triples: twice the area over a².
	minShape = 1e-6
	// isoceles is the relative b-c difference below which B and C are
	// labelled by winding instead of side length.
	isoceles = 1e-6
)

// Triangle is a scale and rotation invariant descriptor of three points.
// A, B and C index the source point slice; side a (opposite A, from B to C)
// is the longest and c the shortest.
type Triangle struct {
	A, B, C int
	BA      float64 // b/a
	CA      float64 // c/a
	CB      float64 // c/b
	Side    float64 // length of side a
	Angle   float64 // direction of side a, radians
	MatchID int     // index of the matched triangle in the other set, or NoMatch
}

// BuildTriangles forms every 3-combination of points and returns the
// non-degenerate triangles with BA <= maxRatio, sorted by BA.
func BuildTriangles(points []Point, maxRatio float64) ([]Triangle, error) {
	n := len(points)
	if n < 3 {
		return nil, fmt.Errorf("triangles need 3 points, got %d: %w", n, ErrInsufficientPoints)
	}
	if maxRatio <= 0 {
		maxRatio = 1
	}

	tris := make([]Triangle, 0, n*(n-1)*(n-2)/6)
	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				t, ok := newTriangle(points, i, j, k)
				if !ok || t.BA > maxRatio {
					continue
				}
				tris = append(tris, t)
			}
		}
	}
	if len(tris) == 0 {
		return nil, fmt.Errorf("no usable triangles among %d points: %w", n, ErrDegenerateGeometry)
	}

	sort.Slice(tris, func(i, j int) bool {
		if tris[i].BA != tris[j].BA {
			return tris[i].BA < tris[j].BA
		}
		return tris[i].CA < tris[j].CA
	})
	return tris, nil
}

func newTriangle(points []Point, i, j, k int) (Triangle, bool) {
	idx := [3]int{i, j, k}
	// side[v] is the length of the side opposite vertex idx[v]
	var side [3]float64
	for v := 0; v < 3; v++ {
		side[v] = planar.Distance(points[idx[(v+1)%3]].XY(), points[idx[(v+2)%3]].XY())
	}

	order := [3]int{0, 1, 2}
	sort.Slice(order[:], func(x, y int) bool { return side[order[x]] > side[order[y]] })
	a, b, c := side[order[0]], side[order[1]], side[order[2]]
	if a < minSide || c == 0 {
		return Triangle{}, false
	}

	pa, pb, pc := points[idx[order[0]]], points[idx[order[1]]], points[idx[order[2]]]
	cross := (pb.X-pa.X)*(pc.Y-pa.Y) - (pb.Y-pa.Y)*(pc.X-pa.X)
	if math.Abs(cross)/(a*a) < minShape {
		return Triangle{}, false
	}

	t := Triangle{
		A:       idx[order[0]],
		B:       idx[order[1]],
		C:       idx[order[2]],
		BA:      b / a,
		CA:      c / a,
		CB:      c / b,
		Side:    a,
		MatchID: NoMatch,
	}
	// B and C are interchangeable when b ≈ c; pick the counter-clockwise labelling.
	if (b-c)/a < isoceles && cross < 0 {
		t.B, t.C = t.C, t.B
		pb, pc = pc, pb
	}
	t.Angle = math.Atan2(pc.Y-pb.Y, pc.X-pb.X)
	return t, true
}
