// Package track holds the rasterized environment cars drive on. A Track is
// built once per run and never mutated afterwards, so any number of cars may
// sample it concurrently.
package track

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Cell is the classification of one raster sample.
type Cell uint8

const (
	CellOutOfBounds Cell = iota
	CellFinish
	CellObstacle
	CellRoad
	CellCenterLine
	CellOther
)

func (c Cell) String() string {
	switch c {
	case CellOutOfBounds:
		return "out_of_bounds"
	case CellFinish:
		return "finish"
	case CellObstacle:
		return "obstacle"
	case CellRoad:
		return "road"
	case CellCenterLine:
		return "center_line"
	default:
		return "other"
	}
}

// Reserved track colours.
var (
	RoadColor       = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	CenterLineColor = color.RGBA{R: 100, G: 100, B: 100, A: 255}
	FinishColor     = color.RGBA{R: 56, G: 111, B: 56, A: 255}
	ObstacleMin     = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	ObstacleMax     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

type Track struct {
	width  int
	height int
	pix    *image.RGBA
}

// New copies img into a track raster.
func New(img image.Image) (*Track, error) {
	if img == nil {
		return nil, fmt.Errorf("track image is required")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("track image is empty: %dx%d", b.Dx(), b.Dy())
	}
	pix := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(pix, pix.Bounds(), img, b.Min, draw.Src)
	return &Track{width: b.Dx(), height: b.Dy(), pix: pix}, nil
}

// Filled returns a w×h track painted with a single colour.
func Filled(w, h int, c color.RGBA) *Track {
	pix := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(pix, pix.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return &Track{width: w, height: h, pix: pix}
}

func (t *Track) Width() int  { return t.width }
func (t *Track) Height() int { return t.height }

// Image exposes the raster for presentation code. Callers must not modify it.
func (t *Track) Image() image.Image { return t.pix }

func (t *Track) InBounds(x, y int) bool {
	return x >= 0 && x < t.width && y >= 0 && y < t.height
}

// At returns the raw colour at (x, y). Out-of-bounds samples are transparent black.
func (t *Track) At(x, y int) color.RGBA {
	if !t.InBounds(x, y) {
		return color.RGBA{}
	}
	return t.pix.RGBAAt(x, y)
}

// Classify maps the sample at (x, y) to a Cell. Rules are evaluated in order
// and the first match wins, so a finish-coloured cell is never an obstacle.
func (t *Track) Classify(x, y int) Cell {
	if !t.InBounds(x, y) {
		return CellOutOfBounds
	}
	return ClassifyColor(t.At(x, y))
}

// ClassifyColor applies the reserved colour rules to a single pixel.
// Road and center line match on RGB only; finish requires an exact RGBA match.
func ClassifyColor(c color.RGBA) Cell {
	switch {
	case c == FinishColor:
		return CellFinish
	case inRange(c, ObstacleMin, ObstacleMax):
		return CellObstacle
	case sameRGB(c, RoadColor):
		return CellRoad
	case sameRGB(c, CenterLineColor):
		return CellCenterLine
	default:
		return CellOther
	}
}

func inRange(c, lo, hi color.RGBA) bool {
	return c.R >= lo.R && c.R <= hi.R &&
		c.G >= lo.G && c.G <= hi.G &&
		c.B >= lo.B && c.B <= hi.B
}

func sameRGB(a, b color.RGBA) bool {
	return a.R == b.R && a.G == b.G && a.B == b.B
}

// Painter builds tracks programmatically, mostly for tests and fixtures.
type Painter struct {
	pix *image.RGBA
}

func NewPainter(w, h int, background color.RGBA) *Painter {
	return &Painter{pix: Filled(w, h, background).pix}
}

// Rect fills the half-open rectangle [x0,x1)×[y0,y1).
func (p *Painter) Rect(x0, y0, x1, y1 int, c color.RGBA) *Painter {
	draw.Draw(p.pix, image.Rect(x0, y0, x1, y1), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return p
}

func (p *Painter) Track() *Track {
	b := p.pix.Bounds()
	return &Track{width: b.Dx(), height: b.Dy(), pix: p.pix}
}
