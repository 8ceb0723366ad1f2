package yolo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillNCHW(t *testing.T) {
	// 2x2 image, pixels (r, g, b) = (0,51,255), (255,0,0), (102,102,102), (0,0,255)
	src := []float32{0, 51, 255, 255, 0, 0, 102, 102, 102, 0, 0, 255}
	dst := make([]float32, len(src))

	fillNCHW(dst, src, 2)

	assert.InDeltaSlice(t, []float32{
		0, 1, 0.4, 0,
		0.2, 0, 0.4, 0,
		1, 0, 0.4, 1,
	}, dst, 1e-6)
}
