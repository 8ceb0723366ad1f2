// Package pipeline sequences a prediction request through validation,
// preprocessing, inference, annotation and persistence, and serves stored
// results back.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/types"
	"fire-detection-backend/internal/database"
	"fire-detection-backend/internal/messaging"
	"fire-detection-backend/internal/metrics"
	"fire-detection-backend/internal/preprocess"
	"fire-detection-backend/internal/storage"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

const eventPublishTimeout = 2 * time.Second

type ModelRunner interface {
	Infer(kind core.ModelKind, input types.Tensor) (types.Prediction, error)
}

type Annotator interface {
	Draw(original []byte, detections []types.Detection) []byte
}

type RecordStore interface {
	Insert(ctx context.Context, record *database.PredictionRecord) (uint, error)

	GetByID(ctx context.Context, id uint) (*database.PredictionRecord, error)
}

type Preprocessor func(data []byte) (types.Tensor, error)

type Config struct {
	UploadFolder    string
	ProcessedFolder string
}

type Orchestrator struct {
	models    ModelRunner
	annotator Annotator
	records   RecordStore
	files     storage.FileStore

	preprocessors map[core.ModelKind]Preprocessor
	events        messaging.Publisher
	metrics       *metrics.Metrics
	newName       func() string

	uploadFolder    string
	processedFolder string
}

type Option func(*Orchestrator)

// WithPublisher announces every stored prediction on publisher.
func WithPublisher(publisher messaging.Publisher) Option {
	return func(o *Orchestrator) {
		o.events = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithPreprocessor(kind core.ModelKind, fn Preprocessor) Option {
	return func(o *Orchestrator) {
		o.preprocessors[kind] = fn
	}
}

func WithNameGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newName = fn
	}
}

func NewOrchestrator(models ModelRunner, annotator Annotator, records RecordStore, files storage.FileStore, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		models:    models,
		annotator: annotator,
		records:   records,
		files:     files,
		preprocessors: map[core.ModelKind]Preprocessor{
			core.Detector:   preprocess.ForDetector,
			core.Classifier: preprocess.ForClassifier,
		},
		newName:         func() string { return uuid.New().String() },
		uploadFolder:    cfg.UploadFolder,
		processedFolder: cfg.ProcessedFolder,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Upload struct {
	Filename     string
	Data         []byte
	ModelType    string
	IncludeImage bool
}

type Result struct {
	Id                    uint
	OriginalFilename      string
	ModelKind             core.ModelKind
	Detections            []types.Detection
	ClassifierProbability float64
	ProcessingTimeSeconds float64
	Timestamp             time.Time
	HasProcessedImage     bool

	// Image is the processed image, or the original when there is none. It is
	// nil when the caller did not ask for it.
	Image []byte
}

func (o *Orchestrator) validate(upload Upload) (core.ModelKind, string, error) {
	if strings.TrimSpace(upload.Filename) == "" || len(upload.Data) == 0 {
		return "", "", newError(Validation, "No image provided", nil)
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if !allowedExtensions[ext] {
		return "", "", newError(Validation, "Invalid image format", nil).withDetails("allowed extensions are png, jpg, jpeg and gif")
	}

	if strings.TrimSpace(upload.ModelType) == "" {
		return "", "", newError(Validation, "model_type is required", nil)
	}

	kind, err := core.ParseModelType(upload.ModelType)
	if err != nil {
		return "", "", newError(Validation, "Invalid model_type", err).withDetails("model_type must be one of yolo, cnn")
	}

	return kind, ext, nil
}

func (o *Orchestrator) stage(kind core.ModelKind, name string, start time.Time) {
	o.metrics.ObserveStage(kind.WireName(), name, time.Since(start))
}

// Predict runs one upload through the whole pipeline. Nothing is written
// unless the upload validates, preprocesses and infers successfully. Files
// saved before a later persistence failure are left in place.
func (o *Orchestrator) Predict(ctx context.Context, upload Upload) (result *Result, err error) {
	requestStart := time.Now()
	modelLabel := "invalid"
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = KindOf(err).String()
		}
		o.metrics.ObservePrediction(modelLabel, outcome, time.Since(requestStart))
	}()

	kind, ext, err := o.validate(upload)
	if err != nil {
		return nil, err
	}
	modelLabel = kind.WireName()

	processingStart := time.Now()

	tensor, err := o.preprocess(kind, upload.Data)
	if err != nil {
		return nil, err
	}
	o.stage(kind, "preprocessing", processingStart)

	inferStart := time.Now()
	detections, probability, err := o.infer(kind, tensor)
	if err != nil {
		return nil, err
	}
	o.stage(kind, "inferring", inferStart)

	var processed []byte
	if kind == core.Detector {
		annotateStart := time.Now()
		processed = o.annotator.Draw(upload.Data, detections)
		o.stage(kind, "annotating", annotateStart)
		o.metrics.ObserveDetections(len(detections))
	}

	processingTime := time.Since(processingStart).Seconds()

	persistStart := time.Now()
	record, err := o.persist(ctx, kind, upload, ext, detections, probability, processed, processingTime)
	if err != nil {
		return nil, err
	}
	o.stage(kind, "persisting", persistStart)

	slog.Info("prediction stored", "id", record.Id, "kind", kind, "detections", len(detections), "processing_time", processingTime)

	o.publish(ctx, record, detections)

	result = &Result{
		Id:                    record.Id,
		OriginalFilename:      record.OriginalFilename,
		ModelKind:             kind,
		Detections:            detections,
		ClassifierProbability: probability,
		ProcessingTimeSeconds: processingTime,
		Timestamp:             record.Timestamp,
		HasProcessedImage:     record.ProcessedImagePath.Valid,
	}

	if upload.IncludeImage {
		path := record.ImagePath
		if record.ProcessedImagePath.Valid {
			path = record.ProcessedImagePath.String
		}
		image, err := o.files.Read(ctx, path)
		if err != nil {
			slog.Error("error reading stored image for response", "id", record.Id, "error", err)
			return nil, newError(Encoding, "Failed to encode result image", err)
		}
		result.Image = image
	}

	return result, nil
}

func (o *Orchestrator) preprocess(kind core.ModelKind, data []byte) (types.Tensor, error) {
	fn, ok := o.preprocessors[kind]
	if !ok {
		return types.Tensor{}, newError(Preprocess, fmt.Sprintf("Failed to preprocess image for %s", kind.DisplayName()), fmt.Errorf("no preprocessor for %s", kind))
	}

	tensor, err := fn(data)
	if err != nil {
		perr := newError(Preprocess, fmt.Sprintf("Failed to preprocess image for %s", kind.DisplayName()), err)
		if errors.Is(err, preprocess.ErrMalformedImage) {
			perr.clientFault = true
			perr.Details = "image could not be decoded"
		} else {
			slog.Error("error preprocessing image", "kind", kind, "error", err)
		}
		return types.Tensor{}, perr
	}
	return tensor, nil
}

// infer returns the active output for kind together with the neutral value
// for the inactive one.
func (o *Orchestrator) infer(kind core.ModelKind, tensor types.Tensor) ([]types.Detection, float64, error) {
	prediction, err := o.models.Infer(kind, tensor)
	if err != nil {
		if errors.Is(err, core.ErrModelUnavailable) {
			return nil, 0, newError(ModelUnavailable, fmt.Sprintf("%s model not loaded", kind.DisplayName()), err)
		}
		slog.Error("error during prediction", "kind", kind, "error", err)
		return nil, 0, newError(Inference, fmt.Sprintf("Error during %s prediction", kind.DisplayName()), err)
	}

	switch kind {
	case core.Classifier:
		p := prediction.Probability
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, 0, newError(Inference, "Error during CNN prediction", fmt.Errorf("classifier probability %v out of range", p))
		}
		return []types.Detection{}, p, nil
	default:
		detections := prediction.Detections
		if detections == nil {
			detections = []types.Detection{}
		}
		return detections, types.NeutralProbability, nil
	}
}

func (o *Orchestrator) persist(
	ctx context.Context,
	kind core.ModelKind,
	upload Upload,
	ext string,
	detections []types.Detection,
	probability float64,
	processed []byte,
	processingTime float64,
) (*database.PredictionRecord, error) {
	name := o.newName() + ext

	imagePath, err := o.files.Save(ctx, upload.Data, o.uploadFolder, name)
	if err != nil {
		slog.Error("error saving uploaded image", "error", err)
		return nil, newError(Storage, "Failed to save image", err)
	}

	var processedPath sql.NullString
	if processed != nil {
		path, err := o.files.Save(ctx, processed, o.processedFolder, "processed_"+name)
		if err != nil {
			slog.Error("error saving processed image", "error", err)
			return nil, newError(Storage, "Failed to save image", err)
		}
		processedPath = sql.NullString{String: path, Valid: true}
	}

	encoded, err := database.EncodeDetections(detections)
	if err != nil {
		return nil, newError(Persistence, "Failed to save results to database", err)
	}

	record := &database.PredictionRecord{
		OriginalFilename:      upload.Filename,
		ImagePath:             imagePath,
		ProcessedImagePath:    processedPath,
		Detections:            encoded,
		ClassifierProbability: probability,
		ProcessingTime:        processingTime,
		ModelKind:             string(kind),
	}

	if _, err := o.records.Insert(ctx, record); err != nil {
		if errors.Is(err, database.ErrPoolExhausted) {
			slog.Warn("database pool exhausted while saving results", "error", err)
			return nil, newError(PoolExhausted, "Database connection pool exhausted", err).withDetails("retry the request later")
		}
		slog.Error("error saving results to database", "error", err)
		return nil, newError(Persistence, "Failed to save results to database", err)
	}

	return record, nil
}

func (o *Orchestrator) publish(ctx context.Context, record *database.PredictionRecord, detections []types.Detection) {
	if o.events == nil {
		return
	}

	maxConfidence := 0.0
	for _, d := range detections {
		maxConfidence = max(maxConfidence, d.Confidence)
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	err := o.events.PublishPredictionEvent(publishCtx, messaging.PredictionEvent{
		Id:                    record.Id,
		ModelKind:             record.ModelKind,
		DetectionCount:        len(detections),
		MaxConfidence:         maxConfidence,
		ClassifierProbability: record.ClassifierProbability,
		ProcessingTimeSeconds: record.ProcessingTime,
		Timestamp:             record.Timestamp,
	})
	if err != nil {
		o.metrics.IncEventPublishErrors()
		slog.Warn("error publishing prediction event", "id", record.Id, "error", err)
	}
}

func (o *Orchestrator) getRecord(ctx context.Context, id uint) (*database.PredictionRecord, error) {
	record, err := o.records.GetByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return nil, newError(NotFound, "Image result not found", err)
		case errors.Is(err, database.ErrPoolExhausted):
			return nil, newError(PoolExhausted, "Database connection pool exhausted", err).withDetails("retry the request later")
		default:
			slog.Error("error fetching result from database", "id", id, "error", err)
			return nil, newError(Persistence, "Failed to fetch results from database", err)
		}
	}
	return record, nil
}

// ResolveServableImage picks the file to serve for a record: the processed
// image when it is recorded and present, otherwise the original when present.
func (o *Orchestrator) ResolveServableImage(ctx context.Context, record *database.PredictionRecord) (string, error) {
	candidates := make([]string, 0, 2)
	if record.ProcessedImagePath.Valid && record.ProcessedImagePath.String != "" {
		candidates = append(candidates, record.ProcessedImagePath.String)
	}
	if record.ImagePath != "" {
		candidates = append(candidates, record.ImagePath)
	}

	for _, path := range candidates {
		exists, err := o.files.Exists(ctx, path)
		if err != nil {
			slog.Error("error checking stored image", "id", record.Id, "error", err)
			return "", newError(Storage, "Failed to retrieve image", err)
		}
		if exists {
			return path, nil
		}
	}

	return "", newError(NotFound, "Image not found", storage.ErrFileNotFound)
}

// GetResult returns a stored prediction. When includeImage is set the
// servable image is attached if one still exists.
func (o *Orchestrator) GetResult(ctx context.Context, id uint, includeImage bool) (*Result, error) {
	record, err := o.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	detections, err := record.GetDetections()
	if err != nil {
		return nil, newError(Persistence, "Failed to fetch results from database", err)
	}

	result := &Result{
		Id:                    record.Id,
		OriginalFilename:      record.OriginalFilename,
		ModelKind:             core.ModelKind(record.ModelKind),
		Detections:            detections,
		ClassifierProbability: record.ClassifierProbability,
		ProcessingTimeSeconds: record.ProcessingTime,
		Timestamp:             record.Timestamp,
		HasProcessedImage:     record.ProcessedImagePath.Valid,
	}

	if !includeImage {
		return result, nil
	}

	image, err := o.readServable(ctx, record)
	if err != nil {
		if KindOf(err) == NotFound {
			slog.Warn("no stored image for result", "id", id)
			return result, nil
		}
		return nil, err
	}
	result.Image = image

	return result, nil
}

// GetImageBytes returns the servable image for a stored prediction.
func (o *Orchestrator) GetImageBytes(ctx context.Context, id uint) ([]byte, error) {
	record, err := o.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.readServable(ctx, record)
}

func (o *Orchestrator) readServable(ctx context.Context, record *database.PredictionRecord) ([]byte, error) {
	path, err := o.ResolveServableImage(ctx, record)
	if err != nil {
		return nil, err
	}

	data, err := o.files.Read(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, newError(NotFound, "Image not found", err)
		}
		slog.Error("error reading stored image", "id", record.Id, "error", err)
		return nil, newError(Storage, "Failed to retrieve image", err)
	}
	return data, nil
}
