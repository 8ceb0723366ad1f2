package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ImageResult struct {
	Id uint `gorm:"primaryKey;autoIncrement"`

	OriginalFilename   string         `gorm:"size:255"`
	ImagePath          string         `gorm:"size:1024;not null"`
	ProcessedImagePath sql.NullString `gorm:"size:1024"`

	Detections            datatypes.JSON `gorm:"not null"`
	ClassifierProbability float64        `gorm:"not null;default:-1"`
	ProcessingTime        float64        `gorm:"not null"`

	Timestamp time.Time `gorm:"type:timestamp;not null"`
	ModelKind string    `gorm:"size:20;not null"`
}

func (ImageResult) TableName() string {
	return "image_result"
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&ImageResult{}); err != nil {
		return fmt.Errorf("error creating image_result table: %w", err)
	}
	return nil
}
