package api

import (
	"errors"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/metrics"
	"fire-detection-backend/internal/pipeline"
	"fire-detection-backend/pkg/api"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const multipartMemory = 8 << 20

type BackendService struct {
	orchestrator   *pipeline.Orchestrator
	registry       *core.Registry
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

func NewBackendService(orchestrator *pipeline.Orchestrator, registry *core.Registry, m *metrics.Metrics, maxUploadBytes int64) *BackendService {
	return &BackendService{
		orchestrator:   orchestrator,
		registry:       registry,
		metrics:        m,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Post("/predict", RestHandler(s.Predict))
	r.Get("/results/{id}", RestHandler(s.GetResult))
	r.Get("/get_image/{id}", s.GetImage)
	r.Route("/models", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListModels))
		r.Post("/{kind}/reload", RestHandler(s.ReloadModel))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{Status: "ok"}, nil
}

type imageParams struct {
	IncludeImage bool `schema:"include_image"`
}

func (p *imageParams) setDefaults() {
	p.IncludeImage = true
}

func readUpload(r *http.Request, maxBytes int64) (pipeline.Upload, error) {
	var upload pipeline.Upload

	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return upload, CodedErrorf(http.StatusRequestEntityTooLarge, "image exceeds the %d byte upload limit", maxErr.Limit)
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			slog.Warn("error parsing multipart form", "error", err)
		}
		// The orchestrator reports the missing image.
		return upload, nil
	}

	upload.ModelType = r.PostFormValue("model_type")

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return upload, nil
		}
		return upload, CodedErrorf(http.StatusBadRequest, "unable to read uploaded image")
	}
	defer file.Close()

	data, err := readFile(file)
	if err != nil {
		return upload, err
	}

	upload.Filename = header.Filename
	upload.Data = data
	return upload, nil
}

func readFile(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("error reading uploaded image", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded image")
	}
	return data, nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[imageParams](r)
	if err != nil {
		return nil, err
	}

	upload, err := readUpload(r, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	upload.IncludeImage = params.IncludeImage

	result, err := s.orchestrator.Predict(r.Context(), upload)
	if err != nil {
		return nil, err
	}

	return convertPredictResult(result), nil
}

func (s *BackendService) GetResult(r *http.Request) (any, error) {
	id, err := URLParamID(r, "id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[imageParams](r)
	if err != nil {
		return nil, err
	}

	result, err := s.orchestrator.GetResult(r.Context(), id, params.IncludeImage)
	if err != nil {
		return nil, err
	}

	return convertResult(result), nil
}

// GetImage writes the raw bytes of the servable image. The Content-Type is
// sniffed from the bytes rather than fixed to image/jpeg: annotated images are
// always JPEG but the fallback original keeps its uploaded format.
func (s *BackendService) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := s.orchestrator.GetImageBytes(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing image response", "id", id, "error", err)
	}
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	kinds := s.registry.Kinds()
	res := api.ModelsResponse{Models: make([]api.ModelStatus, 0, len(kinds))}
	for _, kind := range kinds {
		res.Models = append(res.Models, convertModelStatus(kind, s.registry.State(kind)))
	}
	return res, nil
}

func (s *BackendService) ReloadModel(r *http.Request) (any, error) {
	kind, err := core.ParseModelType(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, CodedErrorf(http.StatusNotFound, "unknown model '%s'", chi.URLParam(r, "kind"))
	}

	if err := s.registry.Reload(kind); err != nil {
		slog.Error("error reloading model", "kind", kind, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "%s model failed to load", kind.DisplayName())
	}

	slog.Info("model reloaded", "kind", kind)
	return convertModelStatus(kind, s.registry.State(kind)), nil
}
