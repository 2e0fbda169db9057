package cardnews

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// FaceFunc returns a font face at the given pixel size. The caller closes it.
type FaceFunc func(size int) (font.Face, error)

// TextWidth returns the pixel advance width of s.
func TextWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// WrapText greedily breaks text into lines no wider than maxWidth pixels.
// Words are separated by whitespace; a word wider than maxWidth is kept
// on a line of its own.
func WrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if TextWidth(face, candidate) <= maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}

// FitFontSize walks down from maxSize to minSize and returns the first
// size at which text wraps into at most maxLines lines. minSize is
// returned when no size fits.
func FitFontSize(text string, maxWidth, maxLines, maxSize, minSize int, faceAt FaceFunc) (int, error) {
	if minSize > maxSize {
		minSize = maxSize
	}
	for size := maxSize; size > minSize; size-- {
		face, err := faceAt(size)
		if err != nil {
			return 0, err
		}
		n := len(WrapText(face, text, maxWidth))
		face.Close()
		if n <= maxLines {
			return size, nil
		}
	}
	return minSize, nil
}

// drawText draws s with its top-left corner at (x, y).
func drawText(dst draw.Image, face font.Face, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + face.Metrics().Ascent},
	}
	d.DrawString(s)
}
