package match

import (
	"fmt"
	"image/png"
	"io"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// OverlayRenderer draws a match result in B's frame: set B as open circles,
// set A mapped through the fitted transform as filled dots, and a line for
// every matched pair.
type OverlayRenderer struct {
	Result        *Result
	Size          float64           // canvas size of the longer side in millimetres
	Padding       float64           // fraction of the canvas kept clear on each side
	DotRadius     float64           // millimetres
	Resolution    canvas.Resolution // PNG resolution
	UseHomography bool              // map A through the homography instead of the polynomial
}

// NewOverlayRenderer creates an overlay renderer with default settings
func NewOverlayRenderer(res *Result) *OverlayRenderer {
	return &OverlayRenderer{
		Result:     res,
		Size:       200,
		Padding:    0.05,
		DotRadius:  0.8,
		Resolution: canvas.DPI(150),
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// overlayFrame maps B-frame coordinates onto the canvas.
type overlayFrame struct {
	bound         orb.Bound
	scale         float64
	width, height float64
	pad           float64
}

func (f overlayFrame) toCanvas(p orb.Point) (float64, float64) {
	return f.pad + (p[0]-f.bound.Min[0])*f.scale, f.pad + (p[1]-f.bound.Min[1])*f.scale
}

func (r *OverlayRenderer) mapA(p Point) orb.Point {
	if r.UseHomography && r.Result.Homography != nil {
		return r.Result.Homography.ApplyPoint(p.XY())
	}
	return r.Result.Transform.ApplyPoint(p.XY())
}

func (r *OverlayRenderer) frame() (overlayFrame, error) {
	if r.Result == nil || len(r.Result.PointsB) == 0 {
		return overlayFrame{}, fmt.Errorf("nothing to render")
	}
	b := orb.Bound{Min: r.Result.PointsB[0].XY(), Max: r.Result.PointsB[0].XY()}
	for _, p := range r.Result.PointsB {
		b = b.Extend(p.XY())
	}
	for _, p := range r.Result.PointsA {
		b = b.Extend(r.mapA(p))
	}

	extent := max(b.Right()-b.Left(), b.Top()-b.Bottom())
	if extent <= 0 {
		extent = 1
	}
	scale := (r.Size * (1 - 2*r.Padding)) / extent
	pad := r.Size * r.Padding
	return overlayFrame{
		bound:  b,
		scale:  scale,
		width:  (b.Right()-b.Left())*scale + 2*pad,
		height: (b.Top()-b.Bottom())*scale + 2*pad,
		pad:    pad,
	}, nil
}

// RenderToSVG writes the overlay as an SVG to the provided writer
func (r *OverlayRenderer) RenderToSVG(w io.Writer) error {
	f, err := r.frame()
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, f.width, f.height, nil)
	r.renderToCanvas(svgRenderer, f)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as a PNG to the provided writer
func (r *OverlayRenderer) RenderToPNG(w io.Writer) error {
	f, err := r.frame()
	if err != nil {
		return err
	}
	rast := rasterizer.New(f.width, f.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f)
	return png.Encode(w, rast)
}

func (r *OverlayRenderer) renderToCanvas(renderer canvasRenderer, f overlayFrame) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(f.width, f.height), bgStyle, canvas.Identity)

	linkStyle := canvas.DefaultStyle
	linkStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	linkStyle.Stroke = canvas.Paint{Color: canvas.Green}
	linkStyle.StrokeWidth = r.DotRadius / 3
	for _, p := range r.Result.Pairs {
		ax, ay := f.toCanvas(r.mapA(r.Result.PointsA[p.IA]))
		bx, by := f.toCanvas(r.Result.PointsB[p.IB].XY())
		link := &canvas.Path{}
		link.MoveTo(ax, ay)
		link.LineTo(bx, by)
		renderer.RenderPath(link, linkStyle, canvas.Identity)
	}

	refStyle := canvas.DefaultStyle
	refStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	refStyle.Stroke = canvas.Paint{Color: canvas.Blue}
	refStyle.StrokeWidth = r.DotRadius / 3
	for _, p := range r.Result.PointsB {
		x, y := f.toCanvas(p.XY())
		renderer.RenderPath(canvas.Circle(r.DotRadius*1.5).Translate(x, y), refStyle, canvas.Identity)
	}

	starStyle := canvas.DefaultStyle
	starStyle.Fill = canvas.Paint{Color: canvas.Red}
	starStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, p := range r.Result.PointsA {
		x, y := f.toCanvas(r.mapA(p))
		renderer.RenderPath(canvas.Circle(r.DotRadius).Translate(x, y), starStyle, canvas.Identity)
	}
}
