package core

import (
	"errors"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInference        = errors.New("model inference failed")
	ErrUnknownModelKind = errors.New("unknown model kind")
)

type UnavailableError struct {
	Kind  ModelKind
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s model not loaded", e.Kind)
	}
	return fmt.Sprintf("%s model not loaded: %v", e.Kind, e.Cause)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrModelUnavailable}
	}
	return []error{ErrModelUnavailable, e.Cause}
}

type LoadState int

const (
	Unloaded LoadState = iota
	Loaded
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

type modelHandle struct {
	kind   ModelKind
	loader ModelLoader

	// mu guards every field below it and serializes load transitions.
	mu      sync.Mutex
	state   LoadState
	model   Model
	err     error
	retried bool

	// inUse is read-held for the duration of each prediction so that the model
	// is never released underneath a caller.
	inUse   sync.RWMutex
	inferMu sync.Mutex
}

type LoadObserver func(kind ModelKind, elapsed time.Duration, err error)

// Registry owns one handle per model kind. Models are loaded lazily on first
// use and at most once, unless a failed load is retried.
type Registry struct {
	handles    map[ModelKind]*modelHandle
	concurrent bool
	observer   LoadObserver
}

type RegistryOption func(*Registry)

// WithConcurrentInference lets predictions on the same kind run in parallel.
// Only use it with backends that are safe for concurrent calls.
func WithConcurrentInference(enabled bool) RegistryOption {
	return func(r *Registry) {
		r.concurrent = enabled
	}
}

func WithLoadObserver(observer LoadObserver) RegistryOption {
	return func(r *Registry) {
		r.observer = observer
	}
}

func NewRegistry(loaders map[ModelKind]ModelLoader, opts ...RegistryOption) *Registry {
	r := &Registry{handles: make(map[ModelKind]*modelHandle, len(loaders))}
	for kind, loader := range loaders {
		r.handles[kind] = &modelHandle{kind: kind, loader: loader}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) handle(kind ModelKind) (*modelHandle, error) {
	h, ok := r.handles[kind]
	if !ok {
		return nil, &UnavailableError{Kind: kind, Cause: ErrUnknownModelKind}
	}
	return h, nil
}

// Kinds lists the registered model kinds in a stable order.
func (r *Registry) Kinds() []ModelKind {
	kinds := make([]ModelKind, 0, len(r.handles))
	for kind := range r.handles {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

func (r *Registry) State(kind ModelKind) LoadState {
	h, err := r.handle(kind)
	if err != nil {
		return Failed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// EnsureLoaded loads the model if it has not been attempted yet and reports
// whether it is usable. It never retries a failed load.
func (r *Registry) EnsureLoaded(kind ModelKind) bool {
	h, err := r.handle(kind)
	if err != nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Unloaded {
		r.load(h)
	}
	return h.state == Loaded
}

// Reload discards the current model, if any, and loads the artifact again.
// It also clears a sticky failure.
func (r *Registry) Reload(kind ModelKind) error {
	h, err := r.handle(kind)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.inUse.Lock()
	if h.model != nil {
		h.model.Release()
		h.model = nil
	}
	h.state = Unloaded
	h.retried = false
	h.inUse.Unlock()

	r.load(h)
	if h.state != Loaded {
		return &UnavailableError{Kind: kind, Cause: h.err}
	}
	return nil
}

func (r *Registry) Infer(kind ModelKind, input types.Tensor) (types.Prediction, error) {
	h, err := r.handle(kind)
	if err != nil {
		return types.Prediction{}, err
	}

	model, err := r.acquire(h)
	if err != nil {
		return types.Prediction{}, err
	}
	defer h.inUse.RUnlock()

	if !r.concurrent {
		h.inferMu.Lock()
		defer h.inferMu.Unlock()
	}

	prediction, err := predict(model, input)
	if err != nil {
		return types.Prediction{}, fmt.Errorf("%w: %s model: %w", ErrInference, kind, err)
	}
	return prediction, nil
}

// acquire returns the loaded model with h.inUse read-locked. A failed handle
// gets exactly one automatic reload attempt per failure episode.
func (r *Registry) acquire(h *modelHandle) (Model, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case Unloaded:
		r.load(h)
	case Failed:
		if !h.retried {
			h.retried = true
			slog.Info("retrying failed model load", "kind", h.kind)
			r.load(h)
		}
	}

	if h.state != Loaded {
		return nil, &UnavailableError{Kind: h.kind, Cause: h.err}
	}

	h.inUse.RLock()
	return h.model, nil
}

// load must be called with h.mu held.
func (r *Registry) load(h *modelHandle) {
	start := time.Now()
	model, err := safeLoad(h.loader)
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer(h.kind, elapsed, err)
	}

	if err != nil {
		slog.Error("error loading model", "kind", h.kind, "error", err)
		h.state = Failed
		h.err = err
		return
	}

	slog.Info("model loaded", "kind", h.kind, "elapsed", elapsed)
	h.model = model
	h.state = Loaded
	h.err = nil
	h.retried = false
}

func safeLoad(loader ModelLoader) (model Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model, err = nil, fmt.Errorf("model loader panicked: %v", r)
		}
	}()

	model, err = loader()
	if err == nil && model == nil {
		err = errors.New("model loader returned no model")
	}
	return model, err
}

func predict(model Model, input types.Tensor) (prediction types.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked during prediction: %v", r)
		}
	}()
	return model.Predict(input)
}

// Close releases every loaded model. The registry can still be used
// afterwards; models are loaded again on demand.
func (r *Registry) Close() {
	for _, h := range r.handles {
		h.mu.Lock()
		h.inUse.Lock()
		if h.model != nil {
			h.model.Release()
			h.model = nil
		}
		h.state = Unloaded
		h.retried = false
		h.inUse.Unlock()
		h.mu.Unlock()
	}
}
