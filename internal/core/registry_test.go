package core_test

import (
	"errors"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/types"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubModel struct {
	probability float64
	delay       time.Duration
	err         error

	active    atomic.Int32
	maxActive atomic.Int32
	released  atomic.Bool
}

func (m *stubModel) Predict(input types.Tensor) (types.Prediction, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(m.delay)
	if m.err != nil {
		return types.Prediction{}, m.err
	}
	return types.Prediction{Probability: m.probability}, nil
}

func (m *stubModel) Release() {
	m.released.Store(true)
}

type countingLoader struct {
	calls atomic.Int32
	fail  atomic.Bool
	model *stubModel
}

func (l *countingLoader) load() (core.Model, error) {
	l.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if l.fail.Load() {
		return nil, errors.New("artifact missing")
	}
	return l.model, nil
}

func TestEnsureLoadedLoadsOnceUnderConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := &countingLoader{model: &stubModel{probability: 0.5}}
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{core.Classifier: loader.load})

	assert.Equal(t, core.Unloaded, registry.State(core.Classifier))

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, registry.EnsureLoaded(core.Classifier))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, loader.calls.Load())
	assert.Equal(t, core.Loaded, registry.State(core.Classifier))
}

func TestInferLoadsLazily(t *testing.T) {
	loader := &countingLoader{model: &stubModel{probability: 0.25}}
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{core.Classifier: loader.load})

	pred, err := registry.Infer(core.Classifier, types.Tensor{})
	require.NoError(t, err)
	assert.Equal(t, 0.25, pred.Probability)
	assert.EqualValues(t, 1, loader.calls.Load())

	_, err = registry.Infer(core.Classifier, types.Tensor{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestFailedLoadRetriesOnceThenSticks(t *testing.T) {
	loader := &countingLoader{model: &stubModel{}}
	loader.fail.Store(true)
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{core.Classifier: loader.load})

	assert.False(t, registry.EnsureLoaded(core.Classifier))
	assert.Equal(t, core.Failed, registry.State(core.Classifier))
	assert.EqualValues(t, 1, loader.calls.Load())

	// EnsureLoaded does not retry a failed handle.
	assert.False(t, registry.EnsureLoaded(core.Classifier))
	assert.EqualValues(t, 1, loader.calls.Load())

	for i := 0; i < 5; i++ {
		_, err := registry.Infer(core.Classifier, types.Tensor{})
		assert.ErrorIs(t, err, core.ErrModelUnavailable)

		var unavailable *core.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, core.Classifier, unavailable.Kind)
	}
	assert.EqualValues(t, 2, loader.calls.Load())

	loader.fail.Store(false)
	_, err := registry.Infer(core.Classifier, types.Tensor{})
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.EqualValues(t, 2, loader.calls.Load())

	require.NoError(t, registry.Reload(core.Classifier))
	assert.Equal(t, core.Loaded, registry.State(core.Classifier))

	_, err = registry.Infer(core.Classifier, types.Tensor{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, loader.calls.Load())
}

func TestAutomaticRetryCanRecover(t *testing.T) {
	loader := &countingLoader{model: &stubModel{probability: 0.9}}
	loader.fail.Store(true)
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{core.Classifier: loader.load})

	assert.False(t, registry.EnsureLoaded(core.Classifier))

	loader.fail.Store(false)
	pred, err := registry.Infer(core.Classifier, types.Tensor{})
	require.NoError(t, err)
	assert.Equal(t, 0.9, pred.Probability)
	assert.Equal(t, core.Loaded, registry.State(core.Classifier))
}

func TestPanickingLoaderDegradesKind(t *testing.T) {
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Detector: func() (core.Model, error) {
			panic("corrupt artifact")
		},
		core.Classifier: func() (core.Model, error) {
			return &stubModel{probability: 0.1}, nil
		},
	})

	assert.False(t, registry.EnsureLoaded(core.Detector))
	_, err := registry.Infer(core.Detector, types.Tensor{})
	assert.ErrorIs(t, err, core.ErrModelUnavailable)

	// Kinds fail independently.
	pred, err := registry.Infer(core.Classifier, types.Tensor{})
	require.NoError(t, err)
	assert.Equal(t, 0.1, pred.Probability)
}

func TestNilModelIsALoadFailure(t *testing.T) {
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Detector: func() (core.Model, error) { return nil, nil },
	})
	assert.False(t, registry.EnsureLoaded(core.Detector))
}

func TestUnknownKind(t *testing.T) {
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{})

	assert.False(t, registry.EnsureLoaded(core.Detector))
	_, err := registry.Infer(core.Detector, types.Tensor{})
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.ErrorIs(t, err, core.ErrUnknownModelKind)
}

func TestInferenceErrorsAreWrapped(t *testing.T) {
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Classifier: func() (core.Model, error) {
			return &stubModel{err: errors.New("bad tensor")}, nil
		},
	})

	_, err := registry.Infer(core.Classifier, types.Tensor{})
	assert.ErrorIs(t, err, core.ErrInference)
	assert.NotErrorIs(t, err, core.ErrModelUnavailable)
	assert.ErrorContains(t, err, "bad tensor")
}

func runParallelInference(t *testing.T, registry *core.Registry) {
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Infer(core.Classifier, types.Tensor{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestInferenceIsSerializedByDefault(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := &stubModel{delay: 5 * time.Millisecond}
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Classifier: func() (core.Model, error) { return model, nil },
	})

	runParallelInference(t, registry)
	assert.EqualValues(t, 1, model.maxActive.Load())
}

func TestConcurrentInferenceOption(t *testing.T) {
	model := &stubModel{delay: 20 * time.Millisecond}
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Classifier: func() (core.Model, error) { return model, nil },
	}, core.WithConcurrentInference(true))

	runParallelInference(t, registry)
	assert.Greater(t, model.maxActive.Load(), int32(1))
}

func TestReloadAndCloseReleaseModels(t *testing.T) {
	first, second := &stubModel{}, &stubModel{}
	models := []*stubModel{first, second}
	calls := 0
	registry := core.NewRegistry(map[core.ModelKind]core.ModelLoader{
		core.Detector: func() (core.Model, error) {
			m := models[calls]
			calls++
			return m, nil
		},
	})

	require.True(t, registry.EnsureLoaded(core.Detector))
	require.NoError(t, registry.Reload(core.Detector))
	assert.True(t, first.released.Load())
	assert.False(t, second.released.Load())

	registry.Close()
	assert.True(t, second.released.Load())
	assert.Equal(t, core.Unloaded, registry.State(core.Detector))
}

func TestLoadObserver(t *testing.T) {
	var observed []error
	registry := core.NewRegistry(
		map[core.ModelKind]core.ModelLoader{
			core.Detector: func() (core.Model, error) { return nil, errors.New("missing") },
		},
		core.WithLoadObserver(func(kind core.ModelKind, _ time.Duration, err error) {
			assert.Equal(t, core.Detector, kind)
			observed = append(observed, err)
		}),
	)

	registry.EnsureLoaded(core.Detector)
	require.Len(t, observed, 1)
	assert.ErrorContains(t, observed[0], "missing")
}

func TestParseModelType(t *testing.T) {
	for input, expected := range map[string]core.ModelKind{
		"yolo":       core.Detector,
		"YOLO":       core.Detector,
		" detector ": core.Detector,
		"cnn":        core.Classifier,
		"Classifier": core.Classifier,
	} {
		kind, err := core.ParseModelType(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, kind, input)
	}

	for _, input := range []string{"", "resnet", "yolov8"} {
		_, err := core.ParseModelType(input)
		assert.Error(t, err, input)
	}

	assert.Equal(t, "cnn", core.Classifier.WireName())
	assert.Equal(t, "YOLO", core.Detector.DisplayName())
}
