package core

import (
	"fire-detection-backend/internal/core/types"
	"fmt"
	"math"
	"sort"
)

const (
	DefaultConfidenceThreshold = 0.1
	DefaultIoUThreshold        = 0.7
	DefaultMaxDetections       = 300
)

type DecodeOptions struct {
	ConfidenceThreshold float64
	IoUThreshold        float64
	MaxDetections       int

	// InputSize is the side of the square detector input. Boxes are clamped
	// to [0, InputSize].
	InputSize int
}

// DecodeYOLOOutput turns a YOLOv8 head of shape [4+len(labels), anchors] into
// detections. Each anchor column holds cx, cy, w, h followed by one score per
// class. Boxes scoring below the confidence threshold are dropped and
// overlapping boxes of the same class are suppressed. The result is sorted by
// confidence, highest first, and is never nil.
func DecodeYOLOOutput(output []float32, anchors int, labels []string, opts DecodeOptions) ([]types.Detection, error) {
	rows := 4 + len(labels)
	if anchors <= 0 || len(output) != rows*anchors {
		return nil, fmt.Errorf("unexpected detector output size %d for %d classes and %d anchors", len(output), len(labels), anchors)
	}

	candidates := make([]types.Detection, 0)
	for a := 0; a < anchors; a++ {
		bestClass, bestScore := -1, float32(0)
		for c := range labels {
			score := output[(4+c)*anchors+a]
			if bestClass < 0 || score > bestScore {
				bestClass, bestScore = c, score
			}
		}

		confidence := float64(bestScore)
		if math.IsNaN(confidence) || confidence < opts.ConfidenceThreshold {
			continue
		}

		cx, cy := float64(output[a]), float64(output[anchors+a])
		w, h := float64(output[2*anchors+a]), float64(output[3*anchors+a])

		box := types.BoundingBox{
			clamp(cx-w/2, opts.InputSize),
			clamp(cy-h/2, opts.InputSize),
			clamp(cx+w/2, opts.InputSize),
			clamp(cy+h/2, opts.InputSize),
		}
		if box.Area() == 0 {
			continue
		}

		candidates = append(candidates, types.Detection{
			BoundingBox: box,
			Confidence:  min(confidence, 1),
			Label:       labels[bestClass],
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	return nonMaxSuppression(candidates, opts.IoUThreshold, opts.MaxDetections), nil
}

func nonMaxSuppression(sorted []types.Detection, iouThreshold float64, maxDetections int) []types.Detection {
	kept := make([]types.Detection, 0, len(sorted))
	for _, candidate := range sorted {
		if maxDetections > 0 && len(kept) >= maxDetections {
			break
		}

		suppressed := false
		for _, k := range kept {
			if k.Label == candidate.Label && iou(k.BoundingBox, candidate.BoundingBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func iou(a, b types.BoundingBox) float64 {
	inter := types.BoundingBox{
		max(a[0], b[0]), max(a[1], b[1]), min(a[2], b[2]), min(a[3], b[3]),
	}.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v float64, size int) float64 {
	if size <= 0 {
		return max(v, 0)
	}
	return min(max(v, 0), float64(size))
}
