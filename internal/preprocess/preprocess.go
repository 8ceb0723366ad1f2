// Package preprocess turns uploaded image bytes into model input tensors.
package preprocess

import (
	"bytes"
	"errors"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	DetectorInputSize   = 352
	ClassifierInputSize = 224
)

var (
	// ErrMalformedImage means the bytes could not be decoded as an image.
	ErrMalformedImage = errors.New("malformed image")
	// ErrAdapter means the image decoded but could not be converted.
	ErrAdapter = errors.New("preprocessing failed")
)

// Resampling filter shared by both adapters. Catmull-Rom is the bicubic
// kernel used when the models were exported.
var resampleFilter = imaging.CatmullRom

func decode(data []byte) (img image.Image, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedImage)
	}

	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: decoder panicked: %v", ErrMalformedImage, r)
		}
	}()

	img, err = imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrMalformedImage)
	}
	return img, nil
}

// toRGB resizes img to size x size and returns its pixels as interleaved RGB
// bytes. Alpha is discarded without compositing.
func toRGB(img image.Image, size int) (rgb []uint8, err error) {
	defer func() {
		if r := recover(); r != nil {
			rgb, err = nil, fmt.Errorf("%w: %v", ErrAdapter, r)
		}
	}()

	opaque := imaging.Clone(img)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 0xff
	}

	resized := imaging.Resize(opaque, size, size, resampleFilter)
	if resized.Bounds().Dx() != size || resized.Bounds().Dy() != size {
		return nil, fmt.Errorf("%w: resize produced %v", ErrAdapter, resized.Bounds().Size())
	}

	rgb = make([]uint8, 0, size*size*3)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			rgb = append(rgb, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return rgb, nil
}

func prepare(data []byte, size int, shape []int, scale float32) (types.Tensor, error) {
	img, err := decode(data)
	if err != nil {
		return types.Tensor{}, err
	}

	rgb, err := toRGB(img, size)
	if err != nil {
		return types.Tensor{}, err
	}

	values := make([]float32, len(rgb))
	for i, v := range rgb {
		values[i] = float32(v) * scale
	}

	return types.Tensor{
		Shape:        shape,
		Data:         values,
		SourceWidth:  img.Bounds().Dx(),
		SourceHeight: img.Bounds().Dy(),
	}, nil
}

// ForDetector returns a [352, 352, 3] tensor with raw 0-255 channel values.
func ForDetector(data []byte) (types.Tensor, error) {
	return prepare(data, DetectorInputSize, []int{DetectorInputSize, DetectorInputSize, 3}, 1)
}

// ForClassifier returns a [1, 224, 224, 3] tensor scaled into [0, 1].
func ForClassifier(data []byte) (types.Tensor, error) {
	return prepare(data, ClassifierInputSize, []int{1, ClassifierInputSize, ClassifierInputSize, 3}, 1.0/255)
}
