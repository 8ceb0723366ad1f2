package types

// NeutralProbability is stored in place of a classifier probability when the
// request did not run the classifier.
const NeutralProbability = -1.0

// BoundingBox is [x1, y1, x2, y2] in pixels of the detector input.
type BoundingBox [4]float64

func (b BoundingBox) Width() float64 {
	return b[2] - b[0]
}

func (b BoundingBox) Height() float64 {
	return b[3] - b[1]
}

func (b BoundingBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

type Detection struct {
	BoundingBox BoundingBox `json:"bbox"`
	Confidence  float64     `json:"confidence"`
	Label       string      `json:"label"`
}

// Tensor is a dense float32 buffer in row-major order. SourceWidth and
// SourceHeight record the dimensions of the image it was produced from.
type Tensor struct {
	Shape []int
	Data  []float32

	SourceWidth  int
	SourceHeight int
}

func (t Tensor) NumElements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Prediction is the raw output of a model. Detectors fill Detections,
// classifiers fill Probability.
type Prediction struct {
	Detections  []Detection
	Probability float64
}
