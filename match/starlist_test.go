package match

import (
	"math"
	"strings"
	"testing"
)

func TestParseStarList(t *testing.T) {
	input := `# catalog extract
   x        y       mag1  mag2
---------------------------------
`
	// the header line is not numeric, so use a custom comment char for it
	_, err := ParseStarList(strings.NewReader(input), ParseOptions{})
	if err == nil {
		t.Fatal("expected error for non-numeric header line")
	}

	input = `# catalog extract
--- --- ---
12.5  -3.25  8.1  8.9

-100  200    10.5
# trailing comment
`
	recs, err := ParseStarList(strings.NewReader(input), ParseOptions{})
	if err != nil {
		t.Fatalf("ParseStarList: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].X != 12.5 || recs[0].Y != -3.25 || recs[0].Mag1 != 8.1 || !recs[0].HasMag || recs[0].Mag2 != 8.9 {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if recs[1].HasMag {
		t.Errorf("record 1 should have no second magnitude: %+v", recs[1])
	}
}

func TestParseStarList_CustomComment(t *testing.T) {
	input := "; header\n1 2 3\n"
	recs, err := ParseStarList(strings.NewReader(input), ParseOptions{Comment: ';'})
	if err != nil {
		t.Fatalf("ParseStarList: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
}

func TestParseStarList_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"too few fields", "1 2\n", "line 1"},
		{"bad number", "# ok\n1 2 3\n1 x 3\n", "line 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStarList(strings.NewReader(tt.input), ParseOptions{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestFromDetections_StopsAtSentinel(t *testing.T) {
	dets := []Detection{
		{X: 1, Y: 1, Brightness: 5},
		{X: 2, Y: 2, Brightness: 9},
		{},
		{X: 3, Y: 3, Brightness: 7},
	}
	pts := FromDetections(dets)
	if len(pts) != 2 {
		t.Fatalf("len = %d, want 2", len(pts))
	}
	if pts[0].ID != 1 || pts[1].ID != 0 {
		t.Errorf("IDs = [%d %d], want brightest first [1 0]", pts[0].ID, pts[1].ID)
	}
	for _, p := range pts {
		if p.Matched() {
			t.Errorf("point %d should be unmatched", p.ID)
		}
	}

	nan := FromDetections([]Detection{{X: 1, Y: 1, Brightness: 1}, {X: math.NaN(), Y: 0, Brightness: 2}})
	if len(nan) != 1 {
		t.Errorf("NaN sentinel: len = %d, want 1", len(nan))
	}
}

func TestCatalogPoints_Brightness(t *testing.T) {
	pts := CatalogPoints([]CatalogRecord{
		{X: 0, Y: 0, Mag1: 10},
		{X: 1, Y: 1, Mag1: 5},
	})
	if pts[0].ID != 1 {
		t.Errorf("brightest ID = %d, want 1", pts[0].ID)
	}
	if ratio := pts[0].Brightness / pts[1].Brightness; math.Abs(ratio-100) > 1e-9 {
		t.Errorf("5 magnitudes should be a factor 100, got %g", ratio)
	}
}

func TestBrightest(t *testing.T) {
	pts := make([]Point, 5)
	if got := len(Brightest(pts, 3)); got != 3 {
		t.Errorf("Brightest(5, 3) = %d", got)
	}
	if got := len(Brightest(pts, 10)); got != 5 {
		t.Errorf("Brightest(5, 10) = %d", got)
	}
}
