package match

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RejectOutliers refits t from pairs and discards high-residual pairs until
// the fit settles. Each round fits, measures residuals, halts when the mean
// squared residual is below HaltSigma, and otherwise drops pairs beyond
// NSigma times the SigmaPercentile residual. It stops when a round rejects
// nothing or after MaxIter rounds. The returned pairs carry residuals under
// the returned transform.
func RejectOutliers(order Order, a, b []Point, pairs []Pair, fp FitParams) (Transform, []Pair, error) {
	pairs = append([]Pair(nil), pairs...)
	if len(pairs) < order.MinPairs() {
		return Transform{}, nil, fmt.Errorf("%d pairs for %s fit: %w", len(pairs), order, ErrNotEnoughPairs)
	}

	maxIter := max(fp.MaxIter, 1)
	var t Transform
	for iter := 0; iter < maxIter; iter++ {
		var err error
		t, err = fitPairs(order, a, b, pairs)
		if err != nil {
			return Transform{}, nil, err
		}
		residuals(t, a, b, pairs)

		var sumSq float64
		dists := make([]float64, len(pairs))
		for i, p := range pairs {
			sumSq += p.Dist * p.Dist
			dists[i] = p.Dist
		}
		if sumSq/float64(len(pairs)) < fp.HaltSigma {
			return t, pairs, nil
		}

		sort.Float64s(dists)
		sigma := stat.Quantile(fp.SigmaPercentile, stat.Empirical, dists, nil)
		limit := fp.NSigma * sigma
		if limit <= 0 {
			return t, pairs, nil
		}

		kept := pairs[:0]
		for _, p := range pairs {
			if p.Dist <= limit {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(pairs) {
			return t, pairs, nil
		}
		pairs = kept
		if len(pairs) < order.MinPairs() {
			return Transform{}, nil, fmt.Errorf("%d pairs left after rejection for %s fit: %w", len(pairs), order, ErrNotEnoughPairs)
		}
	}

	// the last round rejected pairs; refit on the survivors
	t, err := fitPairs(order, a, b, pairs)
	if err != nil {
		return Transform{}, nil, err
	}
	return t, residuals(t, a, b, pairs), nil
}
