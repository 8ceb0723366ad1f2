package api

import "time"

type Detection struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Label      string     `json:"label"`
}

type PredictResponse struct {
	Id                    uint        `json:"id"`
	Detections            []Detection `json:"detections"`
	ClassifierProbability float64     `json:"classifierProbability"`
	ProcessingTimeSeconds float64     `json:"processingTimeSeconds"`
	ImageWithBoxes        string      `json:"image_with_boxes,omitempty"`
}

type ResultResponse struct {
	Id                    uint        `json:"id"`
	OriginalFilename      string      `json:"original_filename"`
	ModelType             string      `json:"model_type"`
	Detections            []Detection `json:"detections"`
	ClassifierProbability float64     `json:"classifierProbability"`
	ProcessingTimeSeconds float64     `json:"processingTimeSeconds"`
	Timestamp             time.Time   `json:"timestamp"`
	HasProcessedImage     bool        `json:"has_processed_image"`
	ImageWithBoxes        string      `json:"image_with_boxes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ModelStatus struct {
	Kind      string `json:"kind"`
	ModelType string `json:"model_type"`
	State     string `json:"state"`
}

type ModelsResponse struct {
	Models []ModelStatus `json:"models"`
}
