package match

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the smallest |R_ii| relative to the largest that the QR
// solver accepts as full rank.
const rankTolerance = 1e-10

// leastSquares solves min ‖A·x − b‖ for each right-hand side using a QR
// factorisation of A. Rank-deficient systems report ErrDegenerateGeometry.
func leastSquares(A *mat.Dense, rhs ...*mat.VecDense) ([]*mat.VecDense, error) {
	var qr mat.QR
	qr.Factorize(A)

	var r mat.Dense
	qr.RTo(&r)
	_, k := A.Dims()
	var lo, hi float64 = math.Inf(1), 0
	for i := 0; i < k; i++ {
		v := math.Abs(r.At(i, i))
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == 0 || lo < rankTolerance*hi {
		return nil, fmt.Errorf("rank deficient system: %w", ErrDegenerateGeometry)
	}

	out := make([]*mat.VecDense, len(rhs))
	for i, b := range rhs {
		var x mat.VecDense
		if err := qr.SolveVecTo(&x, false, b); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrDegenerateGeometry)
		}
		out[i] = &x
	}
	return out, nil
}
