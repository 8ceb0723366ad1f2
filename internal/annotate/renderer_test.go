package annotate_test

import (
	"bytes"
	"fire-detection-backend/internal/annotate"
	"fire-detection-backend/internal/core/types"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err, "output is not a jpeg")
	return img
}

func isReddish(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 150 && g>>8 < 100 && b>>8 < 100
}

func TestDrawDetections(t *testing.T) {
	original := solidPNG(t, 200, 200, color.Gray{Y: 40})
	renderer := annotate.NewRenderer(image.Point{})

	out := renderer.Draw(original, []types.Detection{
		{BoundingBox: types.BoundingBox{40, 60, 140, 160}, Confidence: 0.83, Label: "smoke"},
	})

	img := decodeJPEG(t, out)
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())

	assert.True(t, isReddish(img.At(40, 110)), "left edge of box is not drawn")
	assert.True(t, isReddish(img.At(90, 160)), "bottom edge of box is not drawn")
	assert.False(t, isReddish(img.At(90, 110)), "box interior should be untouched")
	assert.False(t, isReddish(img.At(10, 10)))
}

func TestDrawScalesFromReferenceSize(t *testing.T) {
	original := solidPNG(t, 704, 352, color.Gray{Y: 40})
	renderer := annotate.NewRenderer(image.Pt(352, 352))

	out := renderer.Draw(original, []types.Detection{
		{BoundingBox: types.BoundingBox{100, 100, 200, 200}, Confidence: 0.5, Label: "smoke"},
	})

	img := decodeJPEG(t, out)
	assert.True(t, isReddish(img.At(200, 150)))
	assert.True(t, isReddish(img.At(400, 150)))
	assert.False(t, isReddish(img.At(100, 150)))
}

func TestDrawWithoutDetectionsStillReencodes(t *testing.T) {
	original := solidPNG(t, 50, 30, color.Gray{Y: 200})

	out := annotate.NewRenderer(image.Point{}).Draw(original, nil)

	img := decodeJPEG(t, out)
	assert.Equal(t, image.Rect(0, 0, 50, 30), img.Bounds())
	r, g, b, _ := img.At(25, 15).RGBA()
	assert.InDelta(t, 200, r>>8, 3)
	assert.InDelta(t, 200, g>>8, 3)
	assert.InDelta(t, 200, b>>8, 3)
}

func TestDrawLabelAtImageEdges(t *testing.T) {
	original := solidPNG(t, 120, 80, color.Gray{Y: 40})

	out := annotate.NewRenderer(image.Point{}).Draw(original, []types.Detection{
		{BoundingBox: types.BoundingBox{0, 0, 120, 80}, Confidence: 0.999, Label: "smoke"},
		{BoundingBox: types.BoundingBox{110, 2, 119, 20}, Confidence: 0.2, Label: "smoke"},
	})

	img := decodeJPEG(t, out)
	assert.Equal(t, image.Rect(0, 0, 120, 80), img.Bounds())
	// The second tag would overflow the right edge, so it is shifted left.
	assert.True(t, isReddish(img.At(100, 3)))
}

func TestDrawReturnsOriginalOnFailure(t *testing.T) {
	corrupt := []byte("not an image at all")

	out := annotate.NewRenderer(image.Point{}).Draw(corrupt, []types.Detection{
		{BoundingBox: types.BoundingBox{1, 1, 5, 5}, Confidence: 0.9, Label: "smoke"},
	})

	assert.Equal(t, corrupt, out)
}
