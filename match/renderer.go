package match

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorReference = color.RGBA{40, 90, 220, 255}
	colorStar      = color.RGBA{220, 40, 40, 255}
	colorLink      = color.RGBA{30, 160, 60, 255}
	colorText      = color.RGBA{0, 0, 0, 255}
)

// RenderLabeledPNG rasterises res at width pixels wide and labels every
// matched star with its ID in set A. A legend with the diagnostics is drawn
// in the top-left corner.
func RenderLabeledPNG(w io.Writer, res *Result, width int) error {
	if width <= 0 {
		return fmt.Errorf("invalid width %d", width)
	}
	r := NewOverlayRenderer(res)
	f, err := r.frame()
	if err != nil {
		return err
	}

	// rescale the millimetre frame to pixels
	k := float64(width) / f.width
	height := int(f.height*k + 0.5)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	toPixel := func(x, y float64) (int, int) {
		// canvas y grows upwards, image y downwards
		return int(x*k + 0.5), height - int(y*k+0.5)
	}

	for _, p := range res.Pairs {
		ax, ay := toPixel(f.toCanvas(r.mapA(res.PointsA[p.IA])))
		bx, by := toPixel(f.toCanvas(res.PointsB[p.IB].XY()))
		drawLine(img, ax, ay, bx, by, colorLink)
	}
	for _, p := range res.PointsB {
		x, y := toPixel(f.toCanvas(p.XY()))
		drawRing(img, x, y, 4, colorReference)
	}
	for _, p := range res.PointsA {
		x, y := toPixel(f.toCanvas(r.mapA(p)))
		drawDot(img, x, y, 2, colorStar)
		if p.Matched() {
			drawText(img, x+5, y-5, strconv.Itoa(p.ID), colorText)
		}
	}

	d := res.Diagnostics
	drawText(img, 8, 16, fmt.Sprintf("pairs %d  inliers %d", d.PairMatched, d.Inliers), colorText)
	drawText(img, 8, 32, fmt.Sprintf("rms %.3f, %.3f", d.ResidualX, d.ResidualY), colorText)
	if d.Suspect {
		drawText(img, 8, 48, "suspect", colorStar)
	}

	return png.Encode(w, img)
}

func drawDot(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

func drawRing(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := dx*dx + dy*dy
			if d <= r*r && d >= (r-1)*(r-1) {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawLine draws a line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
