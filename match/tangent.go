package match

import (
	"fmt"
	"math"
)

const arcsecPerRad = 180 * 3600 / math.Pi

// SkyCoord is an equatorial position in degrees.
type SkyCoord struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

func (c SkyCoord) String() string {
	return fmt.Sprintf("RA %.6f° Dec %+.6f°", c.RA, c.Dec)
}

// CatalogStar is a catalog entry at a known sky position.
type CatalogStar struct {
	ID  int      `json:"id"`
	Sky SkyCoord `json:"sky"`
	Mag float64  `json:"mag"`
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func radToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Project maps p onto the plane tangent to the sphere at center (gnomonic
// projection). Coordinates are standard coordinates ξ, η in arcseconds, ξ
// increasing with RA. ok is false for points 90° or more from center.
func Project(p, center SkyCoord) (xi, eta float64, ok bool) {
	ra, dec := degToRad(p.RA), degToRad(p.Dec)
	ra0, dec0 := degToRad(center.RA), degToRad(center.Dec)
	dra := ra - ra0

	cosc := math.Sin(dec0)*math.Sin(dec) + math.Cos(dec0)*math.Cos(dec)*math.Cos(dra)
	if cosc <= 0 {
		return 0, 0, false
	}
	xi = math.Cos(dec) * math.Sin(dra) / cosc
	eta = (math.Cos(dec0)*math.Sin(dec) - math.Sin(dec0)*math.Cos(dec)*math.Cos(dra)) / cosc
	return xi * arcsecPerRad, eta * arcsecPerRad, true
}

// Deproject is the inverse of Project.
func Deproject(xi, eta float64, center SkyCoord) SkyCoord {
	x, y := xi/arcsecPerRad, eta/arcsecPerRad
	ra0, dec0 := degToRad(center.RA), degToRad(center.Dec)

	denom := math.Cos(dec0) - y*math.Sin(dec0)
	ra := ra0 + math.Atan2(x, denom)
	dec := math.Atan2(math.Sin(dec0)+y*math.Cos(dec0), math.Hypot(x, denom))

	return SkyCoord{RA: normalizeRA(radToDeg(ra)), Dec: radToDeg(dec)}
}

// normalizeRA maps an angle in degrees to [0, 360).
func normalizeRA(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// ProjectCatalog projects stars around center into a point set in arcseconds.
// Stars on the far hemisphere are skipped. Brightness is 10^(-0.4 mag) and the
// result is sorted brightest first. IDs are the catalog IDs.
func ProjectCatalog(stars []CatalogStar, center SkyCoord) []Point {
	points := make([]Point, 0, len(stars))
	for _, s := range stars {
		xi, eta, ok := Project(s.Sky, center)
		if !ok {
			continue
		}
		points = append(points, Point{
			ID:         s.ID,
			X:          xi,
			Y:          eta,
			Brightness: math.Pow(10, -0.4*s.Mag),
			MatchID:    NoMatch,
		})
	}
	sortByBrightness(points)
	return points
}
