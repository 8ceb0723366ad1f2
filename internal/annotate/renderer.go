// Package annotate draws detector output onto the uploaded image.
package annotate

import (
	"bytes"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

const (
	defaultLineWidth = 3
	defaultQuality   = 95
	labelPadding     = 2
)

var (
	boxColor  = color.RGBA{R: 255, A: 255}
	textColor = color.White
)

// Renderer draws boxes and "label:confidence" tags. Detections are given in
// the coordinate space of referenceSize and scaled to the image; a zero
// reference size means they are already in image pixels.
type Renderer struct {
	referenceSize image.Point
	face          font.Face
	lineWidth     float64
	quality       int
}

type Option func(*Renderer)

func WithFontFace(face font.Face) Option {
	return func(r *Renderer) {
		r.face = face
	}
}

func WithJPEGQuality(quality int) Option {
	return func(r *Renderer) {
		r.quality = quality
	}
}

func NewRenderer(referenceSize image.Point, opts ...Option) *Renderer {
	r := &Renderer{
		referenceSize: referenceSize,
		lineWidth:     defaultLineWidth,
		quality:       defaultQuality,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadFont reads a TrueType font for label text.
func LoadFont(path string, points float64) (Option, error) {
	face, err := gg.LoadFontFace(path, points)
	if err != nil {
		return nil, fmt.Errorf("error loading label font %s: %w", path, err)
	}
	return WithFontFace(face), nil
}

// Draw returns a JPEG copy of original with every detection drawn on it. It
// never fails: if the image cannot be rendered the original bytes are
// returned unchanged.
func (r *Renderer) Draw(original []byte, detections []types.Detection) []byte {
	out, err := r.render(original, detections)
	if err != nil {
		slog.Error("error rendering detections, using original image", "detections", len(detections), "error", err)
		return original
	}
	return out
}

func (r *Renderer) render(original []byte, detections []types.Detection) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("renderer panicked: %v", p)
		}
	}()

	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	dc := gg.NewContextForImage(img)
	if r.face != nil {
		dc.SetFontFace(r.face)
	}

	width, height := float64(dc.Width()), float64(dc.Height())
	sx, sy := 1.0, 1.0
	if r.referenceSize.X > 0 && r.referenceSize.Y > 0 {
		sx = width / float64(r.referenceSize.X)
		sy = height / float64(r.referenceSize.Y)
	}

	for _, det := range detections {
		x1, y1 := det.BoundingBox[0]*sx, det.BoundingBox[1]*sy
		x2, y2 := det.BoundingBox[2]*sx, det.BoundingBox[3]*sy

		dc.SetColor(boxColor)
		dc.SetLineWidth(r.lineWidth)
		dc.DrawRectangle(x1, y1, x2-x1, y2-y1)
		dc.Stroke()

		r.drawTag(dc, fmt.Sprintf("%s:%.2f", det.Label, det.Confidence), x1, y1, width)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, dc.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("error encoding annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawTag places a filled tag above the box corner. Tags that would leave the
// image at the top are moved inside the box, and tags past the right edge are
// shifted left.
func (r *Renderer) drawTag(dc *gg.Context, text string, x, y, imageWidth float64) {
	tw, th := dc.MeasureString(text)
	tagW, tagH := tw+2*labelPadding, th+2*labelPadding

	left, top := x, y-tagH
	if top < 0 {
		top = max(y, 0)
	}
	if left+tagW > imageWidth {
		left = imageWidth - tagW
	}
	left = max(left, 0)

	dc.SetColor(boxColor)
	dc.DrawRectangle(left, top, tagW, tagH)
	dc.Fill()

	dc.SetColor(textColor)
	dc.DrawStringAnchored(text, left+labelPadding, top+labelPadding, 0, 1)
}
