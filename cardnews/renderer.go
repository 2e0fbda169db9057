// Package cardnews renders card news images: a headline, a hashtag pill
// and a summary box drawn over a template background.
package cardnews

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
)

// ErrBackgroundNotFound is returned when the template background is missing.
var ErrBackgroundNotFound = errors.New("background image not found")

// Layout holds card geometry in pixels.
type Layout struct {
	MarginX         int
	TitleSize       int
	TitleMinSize    int
	TitleMaxLines   int
	TitleY          int
	TitleLineGap    int
	ContentSize     int
	ContentY        int
	ContentLineGap  int
	BoxPaddingX     int
	BoxPaddingY     int
	BoxRadius       int
	HashtagSize     int
	HashtagY        int
	HashtagPaddingX int
	HashtagPaddingY int
	HashtagRadius   int
	BoxColor        color.RGBA
	SourceText      string
	SourceSize      int
	SourceX         int
	SourceY         int
	SourceColor     color.RGBA
}

// DefaultLayout returns the layout of the stock card template.
func DefaultLayout() Layout {
	return Layout{
		MarginX:         130,
		TitleSize:       65,
		TitleMinSize:    40,
		TitleMaxLines:   2,
		TitleY:          170,
		TitleLineGap:    10,
		ContentSize:     30,
		ContentY:        530,
		ContentLineGap:  5,
		BoxPaddingX:     40,
		BoxPaddingY:     30,
		BoxRadius:       20,
		HashtagSize:     25,
		HashtagY:        405,
		HashtagPaddingX: 30,
		HashtagPaddingY: 15,
		HashtagRadius:   15,
		BoxColor:        color.RGBA{R: 31, G: 73, B: 165, A: 255},
		SourceText:      "※ 출처 : MQ(Money Quotient)",
		SourceSize:      20,
		SourceX:         600,
		SourceY:         858,
		SourceColor:     color.RGBA{R: 100, G: 100, B: 100, A: 255},
	}
}

// ParseHexColor parses a #RRGGBB colour.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Card is the copy printed on one image.
type Card struct {
	Title   string
	Content string
	Hashtag string
	// Number is the 1-based position of the card in its batch.
	Number int
}

// Rendered describes a card written to disk.
type Rendered struct {
	Path     string
	Filename string
	Width    int
	Height   int
}

// Renderer draws cards onto a background template.
type Renderer struct {
	backgroundPath string
	font           *opentype.Font
	outputDir      string
	layout         Layout
	now            func() time.Time
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithOutputDir sets the directory cards are written to.
func WithOutputDir(dir string) Option {
	return func(r *Renderer) {
		r.outputDir = dir
	}
}

// WithLayout overrides the default layout.
func WithLayout(l Layout) Option {
	return func(r *Renderer) {
		r.layout = l
	}
}

// WithClock sets the time source used for output file names.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

// NewRenderer creates a renderer. When the font at fontPath cannot be
// loaded, Go Bold is used instead.
func NewRenderer(backgroundPath, fontPath string, opts ...Option) (*Renderer, error) {
	f, err := loadFont(fontPath)
	if err != nil {
		slog.Warn("falling back to built-in font", "path", fontPath, "error", err)
		f, err = opentype.Parse(gobold.TTF)
		if err != nil {
			return nil, fmt.Errorf("parse fallback font: %w", err)
		}
	}

	r := &Renderer{
		backgroundPath: backgroundPath,
		font:           f,
		outputDir:      "output",
		layout:         DefaultLayout(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func loadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return f, nil
}

// Render draws card and writes it as output_dir/YYYYMMDD_N.png.
func (r *Renderer) Render(card Card) (*Rendered, error) {
	img, err := r.Draw(card)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%d.png", r.now().Format("20060102"), card.Number)
	path := filepath.Join(r.outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create card file: %w", err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return nil, fmt.Errorf("encode card: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close card file: %w", err)
	}

	slog.Info("card rendered", "path", path, "number", card.Number)

	return &Rendered{
		Path:     path,
		Filename: filename,
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
	}, nil
}

// Draw composes card over the background and returns the image.
func (r *Renderer) Draw(card Card) (*image.RGBA, error) {
	bg, err := r.loadBackground()
	if err != nil {
		return nil, err
	}

	bounds := bg.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(img, img.Bounds(), bg, bounds.Min, draw.Src)

	l := r.layout
	width := img.Bounds().Dx()
	maxWidth := width - 2*l.MarginX

	titleSize, err := FitFontSize(card.Title, maxWidth, l.TitleMaxLines, l.TitleSize, l.TitleMinSize, r.faceAt)
	if err != nil {
		return nil, err
	}

	faces, err := r.faces(titleSize, l.ContentSize, l.HashtagSize, l.SourceSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, f := range faces {
			f.Close()
		}
	}()
	titleFace, contentFace, hashtagFace, sourceFace := faces[0], faces[1], faces[2], faces[3]

	titleLines := WrapText(titleFace, card.Title, maxWidth)
	contentLines := WrapText(contentFace, card.Content, maxWidth)
	contentLineHeight := l.ContentSize + l.ContentLineGap

	if hashtag := strings.TrimSpace(card.Hashtag); hashtag != "" {
		boxWidth := TextWidth(hashtagFace, hashtag) + 2*l.HashtagPaddingX
		boxX := (width - boxWidth) / 2
		FillRoundedRect(img, image.Rect(
			boxX, l.HashtagY-l.HashtagPaddingY,
			boxX+boxWidth, l.HashtagY+l.HashtagSize+l.HashtagPaddingY,
		), l.HashtagRadius, l.BoxColor)
		drawText(img, hashtagFace, boxX+l.HashtagPaddingX, l.HashtagY, hashtag, color.White)
	}

	FillRoundedRect(img, image.Rect(
		l.MarginX-l.BoxPaddingX, l.ContentY-l.BoxPaddingY,
		width-l.MarginX+l.BoxPaddingX, l.ContentY+len(contentLines)*contentLineHeight+l.BoxPaddingY,
	), l.BoxRadius, l.BoxColor)

	y := l.TitleY
	for _, line := range titleLines {
		x := (width - TextWidth(titleFace, line)) / 2
		drawText(img, titleFace, x, y, line, color.Black)
		y += titleSize + l.TitleLineGap
	}

	y = l.ContentY
	for _, line := range contentLines {
		drawText(img, contentFace, l.MarginX, y, line, color.White)
		y += contentLineHeight
	}

	if l.SourceText != "" {
		drawText(img, sourceFace, l.SourceX, l.SourceY, l.SourceText, l.SourceColor)
	}

	return img, nil
}

func (r *Renderer) loadBackground() (image.Image, error) {
	file, err := os.Open(r.backgroundPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackgroundNotFound, r.backgroundPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open background: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	return img, nil
}

func (r *Renderer) faceAt(size int) (font.Face, error) {
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create %dpx face: %w", size, err)
	}
	return face, nil
}

func (r *Renderer) faces(sizes ...int) ([]font.Face, error) {
	faces := make([]font.Face, 0, len(sizes))
	for _, size := range sizes {
		face, err := r.faceAt(size)
		if err != nil {
			for _, f := range faces {
				f.Close()
			}
			return nil, err
		}
		faces = append(faces, face)
	}
	return faces, nil
}
