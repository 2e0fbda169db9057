package cardnews

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// FillRoundedRect fills r with c, rounding each corner with the given radius.
// The radius is clamped to half the shorter side.
func FillRoundedRect(dst draw.Image, r image.Rectangle, radius int, c color.Color) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	mask := &roundedMask{rect: r, radius: clampRadius(r, radius)}
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, r.Min, draw.Over)
}

func clampRadius(r image.Rectangle, radius int) int {
	limit := min(r.Dx(), r.Dy()) / 2
	return max(0, min(radius, limit))
}

// roundedMask is an alpha mask covering a rectangle minus the parts of its
// corners outside the corner circles.
type roundedMask struct {
	rect   image.Rectangle
	radius int
}

func (m *roundedMask) ColorModel() color.Model { return color.AlphaModel }

func (m *roundedMask) Bounds() image.Rectangle { return m.rect }

func (m *roundedMask) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.rect) {
		return color.Transparent
	}
	if m.radius == 0 {
		return color.Opaque
	}

	rad := float64(m.radius)
	left := float64(m.rect.Min.X) + rad
	right := float64(m.rect.Max.X) - rad
	top := float64(m.rect.Min.Y) + rad
	bottom := float64(m.rect.Max.Y) - rad

	// sample at the pixel centre
	px, py := float64(x)+0.5, float64(y)+0.5

	var cx, cy float64
	switch {
	case px < left:
		cx = left
	case px > right:
		cx = right
	default:
		return color.Opaque
	}
	switch {
	case py < top:
		cy = top
	case py > bottom:
		cy = bottom
	default:
		return color.Opaque
	}

	dx, dy := px-cx, py-cy
	if dx*dx+dy*dy <= rad*rad {
		return color.Opaque
	}
	return color.Transparent
}
