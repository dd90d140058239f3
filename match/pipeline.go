package match

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Result is the outcome of matching set A against set B.
type Result struct {
	Transform   Transform   `json:"transform"`
	Homography  *Homography `json:"homography"`
	Pairs       []Pair      `json:"pairs"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Attempts    int         `json:"attempts"`

	// PointsA and PointsB are the brightness-sorted copies the pair indices
	// refer to, with MatchID filled in for paired points.
	PointsA []Point `json:"pointsA"`
	PointsB []Point `json:"pointsB"`
}

// Matcher runs the matching pipeline with a fixed parameter set. It holds no
// per-match state and is safe for concurrent use.
type Matcher struct {
	params Params
	logger *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger used for pipeline debug output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMatcher returns a Matcher for p. Zero fields take their defaults.
func NewMatcher(p Params, opts ...Option) (*Matcher, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{params: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Params returns the effective parameters.
func (m *Matcher) Params() Params {
	return m.params
}

// Reference is a point set prepared for repeated matching: a sorted private
// copy plus its triangles for every nobj the retry schedule can ask for. It is
// read-only after construction and may be shared between goroutines.
type Reference struct {
	points    []Point
	triangles map[int][]Triangle
}

// Points returns the reference's brightness-sorted points. Callers must not
// modify the returned slice.
func (r *Reference) Points() []Point {
	return r.points
}

// Len returns the number of reference points.
func (r *Reference) Len() int {
	return len(r.points)
}

// NewReference prepares points as the B side of later matches.
func (m *Matcher) NewReference(points []Point) (*Reference, error) {
	ref := &Reference{points: prepare(points), triangles: make(map[int][]Triangle)}
	if len(ref.points) < 3 {
		return nil, fmt.Errorf("reference has %d points: %w", len(ref.points), ErrInsufficientPoints)
	}

	mp := m.params.Matching
	for _, at := range m.params.Retry.Schedule(mp.Nobj, mp.ScaleBounds, len(ref.points), len(ref.points)) {
		n := min(at.Nobj, len(ref.points))
		if _, ok := ref.triangles[n]; ok {
			continue
		}
		tris, err := BuildTriangles(ref.points[:n], mp.MaxRatio)
		if err != nil {
			if errors.Is(err, ErrDegenerateGeometry) {
				continue
			}
			return nil, err
		}
		ref.triangles[n] = tris
	}
	if len(ref.triangles) == 0 {
		return nil, fmt.Errorf("reference has no usable triangles: %w", ErrDegenerateGeometry)
	}
	return ref, nil
}

func (r *Reference) trianglesFor(n int, maxRatio float64) ([]Triangle, error) {
	n = min(n, len(r.points))
	if tris, ok := r.triangles[n]; ok {
		return tris, nil
	}
	return BuildTriangles(r.points[:n], maxRatio)
}

// prepare copies points, clears MatchIDs and sorts brightest first.
func prepare(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	for i := range out {
		out[i].MatchID = NoMatch
	}
	sortByBrightness(out)
	return out
}

// Match finds correspondences between a and b and fits the transform from
// a's frame into b's. Neither input is modified. A result returned with an
// error satisfying IsSoft is usable with a caveat.
func (m *Matcher) Match(a, b []Point) (*Result, error) {
	ref, err := m.NewReference(b)
	if err != nil {
		return nil, err
	}
	return m.MatchReference(a, ref)
}

// MatchReference matches a against a prepared reference.
func (m *Matcher) MatchReference(a []Point, ref *Reference) (*Result, error) {
	pa := prepare(a)
	pb := ref.points
	order := m.params.Matching.Order
	if len(pa) < max(3, order.MinPairs()) {
		return nil, fmt.Errorf("set A has %d points, %s needs %d: %w", len(pa), order, max(3, order.MinPairs()), ErrInsufficientPoints)
	}
	if len(pb) < order.MinPairs() {
		return nil, fmt.Errorf("set B has %d points, %s needs %d: %w", len(pb), order, order.MinPairs(), ErrInsufficientPoints)
	}

	t, attempts, err := m.initialTransform(pa, ref)
	if err != nil {
		return nil, err
	}

	res, err := m.refine(pa, pb, t)
	if res != nil {
		res.Attempts = attempts
	}
	return res, err
}

// initialTransform walks the retry schedule until triangle voting yields a
// seed transform that expansion confirms.
func (m *Matcher) initialTransform(a []Point, ref *Reference) (Transform, int, error) {
	mp := m.params.Matching
	b := ref.points
	order := mp.Order
	schedule := m.params.Retry.Schedule(mp.Nobj, mp.ScaleBounds, len(a), len(b))

	for i, at := range schedule {
		sa := Brightest(a, at.Nobj)
		sb := Brightest(b, at.Nobj)

		ta, err := BuildTriangles(sa, mp.MaxRatio)
		if err != nil {
			m.logger.Debug("attempt skipped", "attempt", i+1, "nobj", at.Nobj, "error", err)
			continue
		}
		tb, err := ref.trianglesFor(at.Nobj, mp.MaxRatio)
		if err != nil {
			m.logger.Debug("attempt skipped", "attempt", i+1, "nobj", at.Nobj, "error", err)
			continue
		}

		cands := voteTriangles(ta, tb, len(sa), len(sb), mp, at.ScaleBounds)
		seed := selectCandidates(cands)
		m.logger.Debug("triangle vote",
			"attempt", i+1, "nobj", at.Nobj, "scaleWindow", at.ScaleBounds != nil,
			"trianglesA", len(ta), "trianglesB", len(tb),
			"candidates", len(cands), "seed", len(seed))
		if len(seed) < order.MinPairs() {
			continue
		}

		t, err := m.seedTransform(a, b, seed)
		if err != nil {
			m.logger.Debug("seed fit failed", "attempt", i+1, "error", err)
			continue
		}
		if n := len(ExpandMatches(t, a, b, mp.MatchRadius)); n < order.MinPairs() {
			m.logger.Debug("seed not confirmed", "attempt", i+1, "expanded", n)
			continue
		}
		return t, i + 1, nil
	}

	return Transform{}, len(schedule), fmt.Errorf("%d attempts: %w", len(schedule), ErrNoCandidateMatch)
}

// seedTransform fits the voted pairs and drops the worst one while its
// residual exceeds the match radius and more than the minimum remain.
func (m *Matcher) seedTransform(a, b []Point, seed []Pair) (Transform, error) {
	order := m.params.Matching.Order
	pairs := append([]Pair(nil), seed...)
	for {
		t, err := fitPairs(order, a, b, pairs)
		if err != nil {
			return Transform{}, err
		}
		residuals(t, a, b, pairs)

		worst := 0
		for i := range pairs {
			if pairs[i].Dist > pairs[worst].Dist {
				worst = i
			}
		}
		if pairs[worst].Dist <= m.params.Matching.MatchRadius || len(pairs) <= order.MinPairs() {
			return t, nil
		}
		pairs = append(pairs[:worst], pairs[worst+1:]...)
	}
}

// Refine expands, cleans and fits correspondences between a and b starting
// from t. Use it when a transform is already known, for instance from a
// previous frame.
func (m *Matcher) Refine(a, b []Point, t Transform) (*Result, error) {
	return m.refine(prepare(a), prepare(b), t)
}

// refine runs expansion, outlier rejection and the homography fit on
// prepared sets. pb is only read.
func (m *Matcher) refine(pa, pb []Point, t Transform) (*Result, error) {
	mp := m.params.Matching
	pairs := ExpandMatches(t, pa, pb, mp.MatchRadius)
	m.logger.Debug("expanded matches", "pairs", len(pairs), "radius", mp.MatchRadius)

	t, pairs, err := RejectOutliers(mp.Order, pa, pb, pairs, m.params.Fit)
	if err != nil {
		return nil, err
	}

	h, herr := EstimateHomography(pa, pb, pairs, m.params.Homography, mp.MatchRadius)
	if h == nil {
		return nil, herr
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].IA < pairs[j].IA })
	res := &Result{
		Transform:  t,
		Homography: h,
		Pairs:      pairs,
		PointsA:    pa,
		PointsB:    make([]Point, len(pb)),
		Diagnostics: Diagnostics{
			PairMatched: h.PairMatched,
			Inliers:     h.Inliers,
			ResidualX:   t.SigX,
			ResidualY:   t.SigY,
			Converged:   true,
			Suspect:     h.Suspect,
		},
	}
	copy(res.PointsB, pb)
	for _, p := range pairs {
		res.PointsA[p.IA].MatchID = res.PointsB[p.IB].ID
		res.PointsB[p.IB].MatchID = res.PointsA[p.IA].ID
	}

	m.logger.Debug("match complete",
		"pairs", h.PairMatched, "inliers", h.Inliers,
		"sigX", t.SigX, "sigY", t.SigY, "suspect", h.Suspect)
	if herr != nil {
		return res, herr
	}
	return res, nil
}
