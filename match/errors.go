package match

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateGeometry reports near-singular input: collinear points or a
	// rank-deficient least-squares system.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrInsufficientPoints reports fewer points than the requested fit needs.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrNoCandidateMatch reports that triangle voting produced too few
	// mutually consistent correspondences on every retry attempt.
	ErrNoCandidateMatch = errors.New("no candidate match")

	// ErrNotEnoughPairs reports that outlier rejection left fewer pairs than
	// the transform order needs. It matches ErrInsufficientPoints with errors.Is.
	ErrNotEnoughPairs = fmt.Errorf("not enough pairs: %w", ErrInsufficientPoints)

	// ErrNotEnoughInliers is a soft failure: the homography was computed but
	// too few pairs agree with it.
	ErrNotEnoughInliers = errors.New("not enough inliers")

	// ErrConvergenceNotReached is a soft failure: the plate-solve loop stopped
	// before the tangent point stabilised. The last good solution is still returned.
	ErrConvergenceNotReached = errors.New("convergence not reached")
)

// IsSoft reports whether err is a soft failure whose accompanying result may
// still be used with a caveat.
func IsSoft(err error) bool {
	return errors.Is(err, ErrNotEnoughInliers) || errors.Is(err, ErrConvergenceNotReached)
}
