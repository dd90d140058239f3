package match

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Detection is one entry of a detector's star list. Lists are terminated by
// the zero value (or any entry with a NaN coordinate).
type Detection struct {
	X, Y       float64
	Brightness float64
}

func (d Detection) isSentinel() bool {
	return d == (Detection{}) || math.IsNaN(d.X) || math.IsNaN(d.Y)
}

// FromDetections converts a detector's star list into a point set. IDs follow
// input order; reading stops at the first sentinel entry.
func FromDetections(dets []Detection) []Point {
	points := make([]Point, 0, len(dets))
	for i, d := range dets {
		if d.isSentinel() {
			break
		}
		points = append(points, Point{ID: i, X: d.X, Y: d.Y, Brightness: d.Brightness, MatchID: NoMatch})
	}
	sortByBrightness(points)
	return points
}

// CatalogRecord is one parsed line of a catalog or star list file:
// tangent-plane coordinates and one or two magnitudes.
type CatalogRecord struct {
	X, Y   float64
	Mag1   float64
	Mag2   float64
	HasMag bool // Mag2 present
}

// ParseOptions controls star list parsing.
type ParseOptions struct {
	Comment byte // defaults to '#'
}

// ParseStarList reads whitespace-delimited "x y mag1 [mag2]" records. Blank
// lines, comment lines and "---" table separators are skipped.
func ParseStarList(r io.Reader, opts ParseOptions) ([]CatalogRecord, error) {
	comment := opts.Comment
	if comment == 0 {
		comment = '#'
	}

	var records []CatalogRecord
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == comment || strings.HasPrefix(line, "---") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected at least 3 fields, got %d", lineNo, len(fields))
		}

		var vals [4]float64
		n := min(len(fields), 4)
		for i := 0; i < n; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %d: %w", lineNo, i+1, err)
			}
			vals[i] = v
		}
		records = append(records, CatalogRecord{
			X: vals[0], Y: vals[1], Mag1: vals[2], Mag2: vals[3], HasMag: n == 4,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading star list: %w", err)
	}
	return records, nil
}

// CatalogPoints converts parsed records into a point set. Magnitudes become
// linear brightness (10^(-0.4 mag)) so the brightest stars sort first.
func CatalogPoints(records []CatalogRecord) []Point {
	points := make([]Point, len(records))
	for i, r := range records {
		points[i] = Point{
			ID:         i,
			X:          r.X,
			Y:          r.Y,
			Brightness: math.Pow(10, -0.4*r.Mag1),
			MatchID:    NoMatch,
		}
	}
	sortByBrightness(points)
	return points
}

// Brightest returns the first n points of a brightness-sorted set.
func Brightest(points []Point, n int) []Point {
	if n >= len(points) || n < 0 {
		return points
	}
	return points[:n]
}

func sortByBrightness(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Brightness > points[j].Brightness
	})
}
