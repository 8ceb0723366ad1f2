package migration_1

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type ImageResult struct {
	Timestamp time.Time `gorm:"index"`
}

func (ImageResult) TableName() string {
	return "image_result"
}

const indexName = "idx_image_result_timestamp"

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateIndex(&ImageResult{}, "Timestamp"); err != nil {
		return fmt.Errorf("error creating %s: %w", indexName, err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropIndex(&ImageResult{}, indexName); err != nil {
		return fmt.Errorf("error dropping %s: %w", indexName, err)
	}
	return nil
}
