package database_test

import (
	"context"
	"database/sql"
	"errors"
	"fire-detection-backend/internal/core/types"
	"fire-detection-backend/internal/database"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createDB(t *testing.T, maxConns int) *gorm.DB {
	db, closeDB, err := database.NewDatabase(context.Background(), database.Config{
		URL:      "sqlite://" + filepath.Join(t.TempDir(), "predictions.db"),
		MaxConns: maxConns,
		MinConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(closeDB)
	return db
}

func detectorRecord(t *testing.T) *database.PredictionRecord {
	detections, err := database.EncodeDetections([]types.Detection{
		{BoundingBox: types.BoundingBox{10, 10, 50, 50}, Confidence: 0.83, Label: "smoke"},
		{BoundingBox: types.BoundingBox{1, 2, 3, 4}, Confidence: 0.2, Label: "smoke"},
	})
	require.NoError(t, err)

	return &database.PredictionRecord{
		OriginalFilename:      "forest.jpg",
		ImagePath:             "uploads/abc.jpg",
		ProcessedImagePath:    sql.NullString{String: "processed_images/processed_abc.jpg", Valid: true},
		Detections:            detections,
		ClassifierProbability: types.NeutralProbability,
		ProcessingTime:        0.42,
		ModelKind:             "detector",
	}
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	gateway := database.NewGateway(createDB(t, 4), time.Second)

	before := time.Now().UTC().Add(-time.Second)
	id, err := gateway.Insert(ctx, detectorRecord(t))
	require.NoError(t, err)
	assert.NotZero(t, id)

	record, err := gateway.GetByID(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, record.Id)
	assert.Equal(t, "forest.jpg", record.OriginalFilename)
	assert.Equal(t, "uploads/abc.jpg", record.ImagePath)
	assert.Equal(t, sql.NullString{String: "processed_images/processed_abc.jpg", Valid: true}, record.ProcessedImagePath)
	assert.Equal(t, types.NeutralProbability, record.ClassifierProbability)
	assert.Equal(t, 0.42, record.ProcessingTime)
	assert.Equal(t, "detector", record.ModelKind)
	assert.True(t, record.Timestamp.After(before))

	detections, err := record.GetDetections()
	require.NoError(t, err)
	assert.Equal(t, []types.Detection{
		{BoundingBox: types.BoundingBox{10, 10, 50, 50}, Confidence: 0.83, Label: "smoke"},
		{BoundingBox: types.BoundingBox{1, 2, 3, 4}, Confidence: 0.2, Label: "smoke"},
	}, detections)

	second, err := gateway.Insert(ctx, detectorRecord(t))
	require.NoError(t, err)
	assert.Greater(t, second, id)
}

func TestClassifierRecordStoresEmptyDetections(t *testing.T) {
	ctx := context.Background()
	gateway := database.NewGateway(createDB(t, 2), time.Second)

	id, err := gateway.Insert(ctx, &database.PredictionRecord{
		OriginalFilename:      "x.png",
		ImagePath:             "uploads/x.png",
		ClassifierProbability: 0.7,
		ModelKind:             "classifier",
	})
	require.NoError(t, err)

	record, err := gateway.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, record.ProcessedImagePath.Valid)
	assert.JSONEq(t, "[]", string(record.Detections))

	detections, err := record.GetDetections()
	require.NoError(t, err)
	assert.NotNil(t, detections)
	assert.Empty(t, detections)
}

func TestGetMissingRecord(t *testing.T) {
	gateway := database.NewGateway(createDB(t, 2), time.Second)

	_, err := gateway.GetByID(context.Background(), 12345)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestInsertRequiresImagePath(t *testing.T) {
	gateway := database.NewGateway(createDB(t, 2), time.Second)

	_, err := gateway.Insert(context.Background(), &database.PredictionRecord{ModelKind: "classifier"})
	assert.ErrorIs(t, err, database.ErrPersistence)
}

func failCreates(t *testing.T, db *gorm.DB) {
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:fail_create", func(txn *gorm.DB) {
		txn.AddError(errors.New("forced failure"))
	}))
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	var count int64
	require.NoError(t, db.Model(&database.PredictionRecord{}).Count(&count).Error)
	return count
}

func TestFailedInsertRollsBack(t *testing.T) {
	db := createDB(t, 2)
	gateway := database.NewGateway(db, time.Second)
	failCreates(t, db)

	record := detectorRecord(t)
	id, err := gateway.Insert(context.Background(), record)
	assert.ErrorIs(t, err, database.ErrPersistence)
	assert.Zero(t, id)
	assert.Zero(t, record.Id)

	assert.EqualValues(t, 0, countRecords(t, db))
}

func TestFailedInsertsDoNotLeakConnections(t *testing.T) {
	db := createDB(t, 1)
	gateway := database.NewGateway(db, 200*time.Millisecond)
	failCreates(t, db)

	for i := 0; i < 20; i++ {
		_, err := gateway.Insert(context.Background(), detectorRecord(t))
		require.ErrorIs(t, err, database.ErrPersistence)
		require.NotErrorIs(t, err, database.ErrPoolExhausted)
	}

	stats, err := gateway.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.InUse)

	_, err = gateway.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPanicReturnsConnection(t *testing.T) {
	gateway := database.NewGateway(createDB(t, 1), 200*time.Millisecond)

	assert.Panics(t, func() {
		_ = gateway.WithConn(context.Background(), func(conn *gorm.DB) error {
			panic("boom")
		})
	})

	_, err := gateway.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPoolExhaustion(t *testing.T) {
	gateway := database.NewGateway(createDB(t, 1), 100*time.Millisecond)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- gateway.WithConn(context.Background(), func(conn *gorm.DB) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	start := time.Now()
	_, err := gateway.Insert(context.Background(), detectorRecord(t))
	assert.ErrorIs(t, err, database.ErrPoolExhausted)
	assert.NotErrorIs(t, err, database.ErrPersistence)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = gateway.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, database.ErrPoolExhausted)

	close(release)
	require.NoError(t, <-done)

	id, err := gateway.Insert(context.Background(), detectorRecord(t))
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestRecordCache(t *testing.T) {
	db := createDB(t, 2)
	gateway := database.NewGateway(db, time.Second, database.WithRecordCache(time.Minute))

	id, err := gateway.Insert(context.Background(), detectorRecord(t))
	require.NoError(t, err)

	require.NoError(t, db.Exec("DELETE FROM image_result").Error)

	record, err := gateway.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, record.Id)
}

func TestMigrationsApplyOnFreshDatabase(t *testing.T) {
	db := createDB(t, 1)
	migrator := database.GetMigrator(db)
	require.NoError(t, migrator.Migrate())
	assert.True(t, db.Migrator().HasTable(&database.PredictionRecord{}))
	assert.True(t, db.Migrator().HasIndex(&database.PredictionRecord{}, "idx_image_result_timestamp"))
}
