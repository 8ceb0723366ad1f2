package core_test

import (
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// yoloHead builds a [4+classes, anchors] output from per-anchor rows of
// cx, cy, w, h, scores...
func yoloHead(anchors [][]float32) []float32 {
	rows := len(anchors[0])
	out := make([]float32, rows*len(anchors))
	for a, values := range anchors {
		for r, v := range values {
			out[r*len(anchors)+a] = v
		}
	}
	return out
}

var decodeOpts = core.DecodeOptions{
	ConfidenceThreshold: core.DefaultConfidenceThreshold,
	IoUThreshold:        core.DefaultIoUThreshold,
	MaxDetections:       core.DefaultMaxDetections,
	InputSize:           352,
}

func TestDecodeYOLOOutput(t *testing.T) {
	output := yoloHead([][]float32{
		{30, 30, 40, 40, 0.83},
		{200, 200, 20, 20, 0.05},
		{300, 100, 50, 50, 0.4},
	})

	detections, err := core.DecodeYOLOOutput(output, 3, []string{"smoke"}, decodeOpts)
	require.NoError(t, err)

	assert.Equal(t, []types.Detection{
		{BoundingBox: types.BoundingBox{10, 10, 50, 50}, Confidence: float64(float32(0.83)), Label: "smoke"},
		{BoundingBox: types.BoundingBox{275, 75, 325, 125}, Confidence: float64(float32(0.4)), Label: "smoke"},
	}, detections)
}

func TestDecodeYOLOOutputThresholdIsInclusive(t *testing.T) {
	output := yoloHead([][]float32{
		{30, 30, 10, 10, 0.1},
		{200, 200, 10, 10, 0.09},
	})
	threshold := float64(float32(0.1))

	detections, err := core.DecodeYOLOOutput(output, 2, []string{"smoke"}, core.DecodeOptions{ConfidenceThreshold: threshold, InputSize: 352})
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, threshold, detections[0].Confidence)
	assert.Equal(t, types.BoundingBox{25, 25, 35, 35}, detections[0].BoundingBox)
}

func TestDecodeYOLOOutputSuppressesOverlaps(t *testing.T) {
	output := yoloHead([][]float32{
		{50, 50, 40, 40, 0.6, 0.1},
		{51, 51, 40, 40, 0.9, 0.1},
		{50, 50, 40, 40, 0.1, 0.7},
	})

	detections, err := core.DecodeYOLOOutput(output, 3, []string{"smoke", "fire"}, decodeOpts)
	require.NoError(t, err)

	require.Len(t, detections, 2)
	assert.Equal(t, "smoke", detections[0].Label)
	assert.InDelta(t, 0.9, detections[0].Confidence, 1e-6)
	assert.Equal(t, "fire", detections[1].Label)
}

func TestDecodeYOLOOutputClampsBoxes(t *testing.T) {
	output := yoloHead([][]float32{{5, 350, 20, 20, 0.5}})

	detections, err := core.DecodeYOLOOutput(output, 1, []string{"smoke"}, decodeOpts)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, types.BoundingBox{0, 340, 15, 352}, detections[0].BoundingBox)
}

func TestDecodeYOLOOutputRejectsWrongShape(t *testing.T) {
	_, err := core.DecodeYOLOOutput(make([]float32, 9), 2, []string{"smoke"}, decodeOpts)
	assert.Error(t, err)
}
