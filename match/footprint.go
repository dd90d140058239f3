package match

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// edgeSamples is the number of points taken along each image edge.
const edgeSamples = 16

// footprintTolerance is the Douglas-Peucker tolerance, in degrees, applied
// to the sampled sky outline.
const footprintTolerance = 1e-5

// imageOutline walks the image border counter-clockwise in pixel space.
func imageOutline(width, height float64) orb.Ring {
	corners := []orb.Point{{0, 0}, {width, 0}, {width, height}, {0, height}}
	ring := make(orb.Ring, 0, 4*edgeSamples+1)
	for i := range corners {
		p, q := corners[i], corners[(i+1)%len(corners)]
		for k := 0; k < edgeSamples; k++ {
			f := float64(k) / edgeSamples
			ring = append(ring, orb.Point{p[0] + f*(q[0]-p[0]), p[1] + f*(q[1]-p[1])})
		}
	}
	return append(ring, ring[0])
}

// TangentFootprint maps the image outline onto the tangent plane (arcsec).
func TangentFootprint(sol *Solution, width, height float64) (orb.Ring, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %gx%g", width, height)
	}
	outline := imageOutline(width, height)
	ring := make(orb.Ring, len(outline))
	for i, p := range outline {
		xi, eta, ok := sol.Homography.Apply(p[0], p[1])
		if !ok {
			return nil, fmt.Errorf("image point (%g, %g) maps to infinity: %w", p[0], p[1], ErrDegenerateGeometry)
		}
		ring[i] = orb.Point{xi, eta}
	}
	return ring, nil
}

// Footprint returns the image outline on the sky as an (RA, Dec) polygon in
// degrees. Edges are sampled and then simplified, so curvature from the
// projection survives where it is measurable.
func Footprint(sol *Solution, width, height float64) (orb.Polygon, error) {
	plane, err := TangentFootprint(sol, width, height)
	if err != nil {
		return nil, err
	}
	sky := make(orb.LineString, len(plane))
	for i, p := range plane {
		c := Deproject(p[0], p[1], sol.Center)
		sky[i] = orb.Point{c.RA, c.Dec}
	}
	simplified, ok := simplify.DouglasPeucker(footprintTolerance).Simplify(sky).(orb.LineString)
	if !ok || len(simplified) < 4 {
		simplified = sky
	}
	return orb.Polygon{orb.Ring(simplified)}, nil
}

// FieldArea returns the footprint area in square arcminutes.
func FieldArea(sol *Solution, width, height float64) (float64, error) {
	plane, err := TangentFootprint(sol, width, height)
	if err != nil {
		return 0, err
	}
	return math.Abs(planar.Area(plane)) / 3600, nil
}

// FootprintGeoJSON renders the solution as a FeatureCollection: the sky
// footprint polygon followed by one point per matched catalog star.
func FootprintGeoJSON(sol *Solution, width, height float64) ([]byte, error) {
	poly, err := Footprint(sol, width, height)
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(poly)
	f.Properties = geojson.Properties{
		"kind":        "footprint",
		"ra":          sol.Center.RA,
		"dec":         sol.Center.Dec,
		"pixelScale":  sol.PixelScale,
		"rotation":    sol.RotationDeg,
		"pairMatched": sol.Diagnostics.PairMatched,
		"inliers":     sol.Diagnostics.Inliers,
		"converged":   sol.Diagnostics.Converged,
		"trials":      sol.Trials,
	}
	if area, err := FieldArea(sol, width, height); err == nil {
		f.Properties["areaArcmin2"] = area
	}
	fc.Append(f)

	for _, p := range sol.Pairs {
		cat := sol.Catalog[p.IB]
		star := sol.Stars[p.IA]
		c := Deproject(cat.X, cat.Y, sol.Center)
		sf := geojson.NewFeature(orb.Point{c.RA, c.Dec})
		sf.Properties = geojson.Properties{
			"kind":     "star",
			"catalog":  cat.ID,
			"star":     star.ID,
			"x":        star.X,
			"y":        star.Y,
			"residual": p.Dist,
		}
		fc.Append(sf)
	}

	return fc.MarshalJSON()
}
