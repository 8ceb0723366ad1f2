package core

import (
	"fire-detection-backend/internal/core/types"
	"fmt"
	"strings"
)

// ModelKind identifies one of the two model families served by the backend.
type ModelKind string

const (
	Detector   ModelKind = "detector"
	Classifier ModelKind = "classifier"
)

var modelTypeAliases = map[string]ModelKind{
	"yolo":       Detector,
	"detector":   Detector,
	"cnn":        Classifier,
	"classifier": Classifier,
}

// ParseModelType maps the model_type form value onto a kind. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseModelType(s string) (ModelKind, error) {
	kind, ok := modelTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("invalid model type '%s'", s)
	}
	return kind, nil
}

// WireName is the model_type value clients send for this kind.
func (k ModelKind) WireName() string {
	switch k {
	case Detector:
		return "yolo"
	case Classifier:
		return "cnn"
	default:
		return string(k)
	}
}

func (k ModelKind) DisplayName() string {
	return strings.ToUpper(k.WireName())
}

type Model interface {
	Predict(input types.Tensor) (types.Prediction, error)

	Release()
}

type ModelLoader func() (Model, error)
