package match

import (
	"math"
	"sort"
)

// Candidate is a vertex correspondence proposed by triangle voting.
type Candidate struct {
	IA, IB int
	Votes  int
}

// voteTriangles compares A-side triangles against the BA-sorted B-side
// triangles and counts one vote per implied vertex pair. ta is private to the
// caller and receives MatchIDs; tb is never written.
func voteTriangles(ta, tb []Triangle, nA, nB int, mp MatchingParams, scale *Bounds) []Candidate {
	tol := mp.TriangleTolerance
	votes := make([]int, nA*nB)

	for i := range ta {
		t := &ta[i]
		t.MatchID = NoMatch
		best := math.Inf(1)

		lo := sort.Search(len(tb), func(k int) bool { return tb[k].BA >= t.BA-tol })
		for k := lo; k < len(tb) && tb[k].BA <= t.BA+tol; k++ {
			u := &tb[k]
			d := math.Hypot(u.BA-t.BA, u.CA-t.CA)
			if d > tol {
				continue
			}
			if scale != nil && !scale.Contains(u.Side/t.Side) {
				continue
			}
			if mp.RotationBounds != nil && !mp.RotationBounds.Contains((u.Angle-t.Angle)*180/math.Pi) {
				continue
			}
			votes[t.A*nB+u.A]++
			votes[t.B*nB+u.B]++
			votes[t.C*nB+u.C]++
			if d < best {
				best = d
				t.MatchID = k
			}
		}
	}

	need := effectiveMinVotes(mp.MinVotes, min(nA, nB))
	var cands []Candidate
	for ia := 0; ia < nA; ia++ {
		for ib := 0; ib < nB; ib++ {
			if v := votes[ia*nB+ib]; v >= need {
				cands = append(cands, Candidate{IA: ia, IB: ib, Votes: v})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Votes > cands[j].Votes })
	return cands
}

// effectiveMinVotes caps the vote threshold at the number of triangles one
// vertex belongs to among n points, C(n-1, 2).
func effectiveMinVotes(minVotes, n int) int {
	if minVotes < 1 {
		minVotes = 1
	}
	if n < 3 {
		return minVotes
	}
	return min(minVotes, (n-1)*(n-2)/2)
}

// selectCandidates takes candidates in vote order and keeps those whose
// points are still unclaimed on both sides.
func selectCandidates(cands []Candidate) []Pair {
	usedA := make(map[int]bool, len(cands))
	usedB := make(map[int]bool, len(cands))
	var pairs []Pair
	for _, c := range cands {
		if usedA[c.IA] || usedB[c.IB] {
			continue
		}
		usedA[c.IA] = true
		usedB[c.IB] = true
		pairs = append(pairs, Pair{IA: c.IA, IB: c.IB})
	}
	return pairs
}
