package match

import (
	"math"
	"math/rand"
	"testing"
)

func TestProjectDeproject_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(61))
	centers := []SkyCoord{
		{RA: 0, Dec: 0},
		{RA: 83.8, Dec: -5.4},
		{RA: 359.9, Dec: 45},
		{RA: 180, Dec: -89},
		{RA: 10, Dec: 89.5},
	}
	for _, c := range centers {
		for i := 0; i < 200; i++ {
			// within a few degrees of the tangent point
			dra := (rng.Float64() - 0.5) * 6
			ddec := (rng.Float64() - 0.5) * 6
			p := SkyCoord{RA: normalizeRA(c.RA + dra), Dec: math.Max(-89.9, math.Min(89.9, c.Dec+ddec))}

			xi, eta, ok := Project(p, c)
			if !ok {
				t.Fatalf("Project(%v, %v) not ok", p, c)
			}
			got := Deproject(xi, eta, c)

			if d := math.Abs(got.Dec - p.Dec); d > 1e-9 {
				t.Errorf("center %v point %v: dec off by %g", c, p, d)
			}
			if d := math.Abs(wrapDegrees(got.RA-p.RA)) * math.Cos(degToRad(p.Dec)); d > 1e-9 {
				t.Errorf("center %v point %v: ra off by %g", c, p, d)
			}
		}
	}
}

func TestProject_Center(t *testing.T) {
	c := SkyCoord{RA: 123.4, Dec: 56.7}
	xi, eta, ok := Project(c, c)
	if !ok || math.Abs(xi) > 1e-9 || math.Abs(eta) > 1e-9 {
		t.Errorf("Project(center) = (%g, %g, %v), want (0, 0, true)", xi, eta, ok)
	}
}

func TestProject_Axes(t *testing.T) {
	c := SkyCoord{RA: 100, Dec: 0}

	// one arcminute north lands on +eta
	xi, eta, _ := Project(SkyCoord{RA: 100, Dec: 1.0 / 60}, c)
	if math.Abs(xi) > 1e-9 || math.Abs(eta-60) > 1e-3 {
		t.Errorf("north offset projects to (%g, %g)", xi, eta)
	}

	// one arcminute east lands on +xi
	xi, eta, _ = Project(SkyCoord{RA: 100 + 1.0/60, Dec: 0}, c)
	if math.Abs(xi-60) > 1e-3 || math.Abs(eta) > 1e-9 {
		t.Errorf("east offset projects to (%g, %g)", xi, eta)
	}
}

func TestProject_FarHemisphere(t *testing.T) {
	if _, _, ok := Project(SkyCoord{RA: 180, Dec: 0}, SkyCoord{RA: 0, Dec: 0}); ok {
		t.Error("antipodal point should not project")
	}
}

func TestDeproject_NormalizesRA(t *testing.T) {
	got := Deproject(-3600, 0, SkyCoord{RA: 0.5, Dec: 0})
	if got.RA < 0 || got.RA >= 360 {
		t.Fatalf("RA = %g, want within [0, 360)", got.RA)
	}
	// on the equator xi = tan(ΔRA)
	want := 360 + 0.5 - radToDeg(math.Atan(3600/arcsecPerRad))
	if math.Abs(got.RA-want) > 1e-9 {
		t.Errorf("RA = %g, want %g", got.RA, want)
	}
}

func TestProjectCatalog(t *testing.T) {
	c := SkyCoord{RA: 50, Dec: 20}
	stars := []CatalogStar{
		{ID: 7, Sky: SkyCoord{RA: 50.01, Dec: 20}, Mag: 9},
		{ID: 3, Sky: SkyCoord{RA: 50, Dec: 20.01}, Mag: 6},
		{ID: 5, Sky: SkyCoord{RA: 230, Dec: -20}, Mag: 1}, // far side
	}
	pts := ProjectCatalog(stars, c)
	if len(pts) != 2 {
		t.Fatalf("len = %d, want 2", len(pts))
	}
	if pts[0].ID != 3 || pts[1].ID != 7 {
		t.Errorf("order = [%d %d], want brightest (3) first", pts[0].ID, pts[1].ID)
	}
	if pts[0].MatchID != NoMatch {
		t.Errorf("MatchID = %d, want NoMatch", pts[0].MatchID)
	}
}
