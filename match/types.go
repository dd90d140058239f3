package match

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// NoMatch marks a point or triangle whose counterpart has not been resolved.
const NoMatch = -1

// Point is a star centroid (or projected catalog star) in one coordinate frame.
// ID is stable across transforms; MatchID holds the ID of the corresponding
// point in the other set once a matching pass has resolved it.
type Point struct {
	ID         int     `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Brightness float64 `json:"brightness"`
	MatchID    int     `json:"matchId"`
}

// XY returns the point's coordinates as an orb.Point.
func (p Point) XY() orb.Point {
	return orb.Point{p.X, p.Y}
}

// Matched reports whether the point has a resolved counterpart.
func (p Point) Matched() bool {
	return p.MatchID != NoMatch
}

// Pair links point A[IA] to point B[IB]. Dist is the residual distance in B's
// frame under the transform that produced the pair.
type Pair struct {
	IA   int     `json:"ia"`
	IB   int     `json:"ib"`
	Dist float64 `json:"dist"`
}

// Order selects the polynomial degree of a Transform.
type Order int

const (
	Linear Order = iota + 1
	Quadratic
	Cubic
)

// maxTerms is the number of basis terms of the largest order (Cubic).
const maxTerms = 8

// Terms returns the number of basis terms per output axis.
func (o Order) Terms() int {
	switch o {
	case Linear:
		return 3
	case Quadratic:
		return 6
	case Cubic:
		return 8
	default:
		return 0
	}
}

// MinPairs returns the minimum number of matched pairs needed to fit o.
func (o Order) MinPairs() int {
	return o.Terms()
}

func (o Order) String() string {
	switch o {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	case Cubic:
		return "cubic"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder accepts "linear", "quadratic" or "cubic" (also 1, 2, 3).
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "1":
		return Linear, nil
	case "quadratic", "2":
		return Quadratic, nil
	case "cubic", "3":
		return Cubic, nil
	}
	return 0, fmt.Errorf("unknown transform order %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Order) MarshalText() ([]byte, error) {
	if o == 0 {
		return []byte{}, nil
	}
	if o.Terms() == 0 {
		return nil, fmt.Errorf("invalid transform order %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*o = 0
		return nil
	}
	v, err := ParseOrder(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Bounds is a closed [Min, Max] interval.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within b.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// RotationWindow accepts orientation differences within Tolerance degrees of Angle.
type RotationWindow struct {
	Angle     float64 `yaml:"angle" json:"angle"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// Contains reports whether the rotation deg (degrees) falls inside the window,
// taking wrap-around at ±180° into account.
func (w RotationWindow) Contains(deg float64) bool {
	d := wrapDegrees(deg - w.Angle)
	return d >= -w.Tolerance && d <= w.Tolerance
}

// wrapDegrees maps an angle to (-180, 180].
func wrapDegrees(deg float64) float64 {
	for deg > 180 {
		deg -= 360
	}
	for deg <= -180 {
		deg += 360
	}
	return deg
}

// Diagnostics summarises one matching or solving attempt for logging and
// telemetry consumers.
type Diagnostics struct {
	PairMatched int     `json:"pairMatched"`
	Inliers     int     `json:"inliers"`
	ResidualX   float64 `json:"residualX"`
	ResidualY   float64 `json:"residualY"`
	Converged   bool    `json:"converged"`
	TrialsUsed  int     `json:"trialsUsed"`
	Suspect     bool    `json:"suspect"`
}
