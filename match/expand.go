package match

import (
	"math"
	"sort"

	"github.com/paulmach/orb/planar"
)

// ExpandMatches maps every point of a through t and pairs it with a point of
// b within radius. Candidate pairs are accepted by ascending distance, each
// point taking part in at most one pair, so a larger radius never yields
// fewer pairs.
func ExpandMatches(t Transform, a, b []Point, radius float64) []Pair {
	if len(a) == 0 || len(b) == 0 || radius <= 0 {
		return nil
	}

	// bucket B on a grid of radius-sized cells
	cell := radius
	type key struct{ x, y int }
	grid := make(map[key][]int, len(b))
	for i, p := range b {
		k := key{int(math.Floor(p.X / cell)), int(math.Floor(p.Y / cell))}
		grid[k] = append(grid[k], i)
	}

	r2 := radius * radius
	var cands []Pair
	for ia, p := range a {
		q := t.ApplyPoint(p.XY())
		cx, cy := int(math.Floor(q[0]/cell)), int(math.Floor(q[1]/cell))
		for gx := cx - 1; gx <= cx+1; gx++ {
			for gy := cy - 1; gy <= cy+1; gy++ {
				for _, ib := range grid[key{gx, gy}] {
					if d2 := planar.DistanceSquared(q, b[ib].XY()); d2 <= r2 {
						cands = append(cands, Pair{IA: ia, IB: ib, Dist: math.Sqrt(d2)})
					}
				}
			}
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Dist != cands[j].Dist {
			return cands[i].Dist < cands[j].Dist
		}
		if cands[i].IA != cands[j].IA {
			return cands[i].IA < cands[j].IA
		}
		return cands[i].IB < cands[j].IB
	})

	usedA := make([]bool, len(a))
	usedB := make([]bool, len(b))
	pairs := make([]Pair, 0, min(len(a), len(b)))
	for _, c := range cands {
		if usedA[c.IA] || usedB[c.IB] {
			continue
		}
		usedA[c.IA] = true
		usedB[c.IB] = true
		pairs = append(pairs, c)
	}
	return pairs
}
