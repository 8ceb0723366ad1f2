package api

import (
	"encoding/base64"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/types"
	"fire-detection-backend/internal/pipeline"
	"fire-detection-backend/pkg/api"
)

func convertDetections(ds []types.Detection) []api.Detection {
	detections := make([]api.Detection, 0, len(ds))
	for _, d := range ds {
		detections = append(detections, api.Detection{
			BBox:       d.BoundingBox,
			Confidence: d.Confidence,
			Label:      d.Label,
		})
	}
	return detections
}

func encodeImage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func convertPredictResult(res *pipeline.Result) api.PredictResponse {
	return api.PredictResponse{
		Id:                    res.Id,
		Detections:            convertDetections(res.Detections),
		ClassifierProbability: res.ClassifierProbability,
		ProcessingTimeSeconds: res.ProcessingTimeSeconds,
		ImageWithBoxes:        encodeImage(res.Image),
	}
}

func convertResult(res *pipeline.Result) api.ResultResponse {
	return api.ResultResponse{
		Id:                    res.Id,
		OriginalFilename:      res.OriginalFilename,
		ModelType:             res.ModelKind.WireName(),
		Detections:            convertDetections(res.Detections),
		ClassifierProbability: res.ClassifierProbability,
		ProcessingTimeSeconds: res.ProcessingTimeSeconds,
		Timestamp:             res.Timestamp,
		HasProcessedImage:     res.HasProcessedImage,
		ImageWithBoxes:        encodeImage(res.Image),
	}
}

func convertModelStatus(kind core.ModelKind, state core.LoadState) api.ModelStatus {
	return api.ModelStatus{
		Kind:      string(kind),
		ModelType: kind.WireName(),
		State:     state.String(),
	}
}
