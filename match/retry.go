package match

// Attempt is one step of the initial estimator's relaxation schedule.
type Attempt struct {
	Nobj        int     `json:"nobj"`
	ScaleBounds *Bounds `json:"scaleBounds,omitempty"`
}

// Schedule lists the attempts the initial estimator makes for sets of nA and
// nB points. The first attempt uses nobj points and the caller's scale
// window, the second drops the window, and each later one widens nobj by
// NobjStep. Attempts that would repeat an earlier one are skipped and the
// schedule ends once nobj covers both sets without a scale window.
func (r RetryPolicy) Schedule(nobj int, scale *Bounds, nA, nB int) []Attempt {
	maxAttempts := max(r.MaxAttempts, 1)
	largest := max(nA, nB)

	var out []Attempt
	for k := 1; k <= maxAttempts; k++ {
		a := Attempt{Nobj: nobj}
		switch {
		case k == 1:
			a.ScaleBounds = scale
		case k >= 3:
			a.Nobj = nobj + (k-2)*r.NobjStep
		}

		if len(out) > 0 {
			prev := out[len(out)-1]
			if prev.ScaleBounds == nil && a.ScaleBounds == nil && min(prev.Nobj, largest) == min(a.Nobj, largest) {
				continue
			}
		}
		out = append(out, a)
		if a.ScaleBounds == nil && a.Nobj >= largest {
			break
		}
	}
	return out
}
