package database

import (
	"database/sql"
	"encoding/json"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// PredictionRecord is the persisted result of one /predict request. Rows are
// written once and never updated.
type PredictionRecord struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	OriginalFilename   string         `gorm:"size:255"`
	ImagePath          string         `gorm:"size:1024;not null"`
	ProcessedImagePath sql.NullString `gorm:"size:1024"`

	Detections            datatypes.JSON `gorm:"not null"`
	ClassifierProbability float64        `gorm:"not null;default:-1"`
	ProcessingTime        float64        `gorm:"not null"`

	Timestamp time.Time `gorm:"type:timestamp;not null;index"`
	ModelKind string    `gorm:"size:20;not null"`
}

func (PredictionRecord) TableName() string {
	return "image_result"
}

// EncodeDetections serializes detections for storage. An empty or nil slice is
// stored as [] so the column is never null.
func EncodeDetections(detections []types.Detection) (datatypes.JSON, error) {
	if len(detections) == 0 {
		return datatypes.JSON("[]"), nil
	}
	data, err := json.Marshal(detections)
	if err != nil {
		return nil, fmt.Errorf("error encoding detections: %w", err)
	}
	return datatypes.JSON(data), nil
}

func (r *PredictionRecord) GetDetections() ([]types.Detection, error) {
	detections := []types.Detection{}
	if len(r.Detections) == 0 {
		return detections, nil
	}
	if err := json.Unmarshal(r.Detections, &detections); err != nil {
		return nil, fmt.Errorf("error decoding detections for record %d: %w", r.Id, err)
	}
	if detections == nil {
		detections = []types.Detection{}
	}
	return detections, nil
}
