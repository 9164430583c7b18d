// Package assets loads the track raster and car sprite and composes
// snapshot frames from them. Nothing here feeds back into the simulation.
package assets

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/transform"

	"carsim/internal/track"
)

// LoadTrack decodes a PNG track and scales it to w×h. Nearest-neighbour
// sampling keeps the reserved colours exact.
func LoadTrack(path string, w, h int) (*track.Track, error) {
	img, err := readPNG(path)
	if err != nil {
		return nil, fmt.Errorf("load track: %w", err)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("load track: invalid size %dx%d", w, h)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		img = transform.Resize(img, w, h, transform.NearestNeighbor)
	}
	return track.New(img)
}

// LoadSprite decodes a PNG car sprite facing heading 0 and scales it to w×h.
func LoadSprite(path string, w, h int) (image.Image, error) {
	img, err := readPNG(path)
	if err != nil {
		return nil, fmt.Errorf("load sprite: %w", err)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("load sprite: invalid size %dx%d", w, h)
	}
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img, nil
	}
	return transform.Resize(img, w, h, transform.Linear), nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Pose places one sprite: X/Y is the top-left of the car box, Heading is in
// degrees counter-clockwise on screen.
type Pose struct {
	X       float64
	Y       float64
	Width   float64
	Height  float64
	Heading float64
}

// RotateSprite turns the sprite to heading. bild rotates clockwise, the
// simulation's headings run counter-clockwise.
func RotateSprite(sprite image.Image, heading float64) *image.RGBA {
	return transform.Rotate(sprite, -heading, &transform.RotationOptions{ResizeBounds: true})
}

// ComposeFrame draws every pose over a copy of background, each rotated
// sprite centred on its car box.
func ComposeFrame(background, sprite image.Image, poses []Pose) *image.RGBA {
	frame := image.NewRGBA(background.Bounds())
	draw.Draw(frame, frame.Bounds(), background, background.Bounds().Min, draw.Src)
	for _, p := range poses {
		rotated := RotateSprite(sprite, p.Heading)
		rb := rotated.Bounds()
		cx := int(p.X + p.Width/2)
		cy := int(p.Y + p.Height/2)
		at := image.Rect(cx-rb.Dx()/2, cy-rb.Dy()/2, cx-rb.Dx()/2+rb.Dx(), cy-rb.Dy()/2+rb.Dy())
		draw.Draw(frame, at, rotated, rb.Min, draw.Over)
	}
	return frame
}

func WriteSnapshot(path string, background, sprite image.Image, poses []Pose) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, ComposeFrame(background, sprite, poses)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
