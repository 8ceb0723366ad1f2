package yolo

import (
	"errors"
	"fire-detection-backend/internal/core"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime loads the onnxruntime shared library once per process. An empty
// path lets onnxruntime_go fall back to its platform default.
func InitRuntime(sharedLibraryPath string) error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("error initializing onnxruntime environment: %w", err)
		}
	})
	return initErr
}

type Config struct {
	ModelPath string
	InputSize int
	Labels    []string
	Threads   int

	ConfidenceThreshold float64
	IoUThreshold        float64
}

// Detector runs a YOLOv8 export. Input and output tensors are bound to the
// session once, so predictions are serialized internally.
type Detector struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	anchors int
	cfg     Config

	mu sync.Mutex
}

func LoadDetector(cfg Config) (*Detector, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid detector input size %d", cfg.InputSize)
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.New("detector requires at least one label")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading detector model %s: %w", cfg.ModelPath, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("detector model must have one input and one output, found %d and %d", len(inputs), len(outputs))
	}

	outShape := outputs[0].Dimensions
	if len(outShape) != 3 || outShape[1] != int64(4+len(cfg.Labels)) || outShape[2] <= 0 {
		return nil, fmt.Errorf("detector output shape %v does not match %d classes", outShape, len(cfg.Labels))
	}

	size := int64(cfg.InputSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("error allocating detector input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, outShape[1], outShape[2]))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error allocating detector output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
			slog.Warn("unable to set detector thread count", "threads", cfg.Threads, "error", err)
		}
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating detector session: %w", err)
	}

	slog.Info("loaded detector model", "path", cfg.ModelPath, "anchors", outShape[2], "classes", len(cfg.Labels))

	return &Detector{
		session: session,
		input:   input,
		output:  output,
		anchors: int(outShape[2]),
		cfg:     cfg,
	}, nil
}

var _ core.Model = (*Detector)(nil)

// fillNCHW converts an HWC image with values in [0, 255] into the planar
// [0, 1] layout the exported model expects.
func fillNCHW(dst []float32, src []float32, size int) {
	plane := size * size
	for i := 0; i < plane; i++ {
		dst[i] = src[i*3] / 255
		dst[plane+i] = src[i*3+1] / 255
		dst[2*plane+i] = src[i*3+2] / 255
	}
}

func (d *Detector) Predict(input types.Tensor) (types.Prediction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return types.Prediction{}, errors.New("detector has been released")
	}

	size := d.cfg.InputSize
	if len(input.Data) != size*size*3 {
		return types.Prediction{}, fmt.Errorf("detector expects %dx%dx3 input, got %d values", size, size, len(input.Data))
	}

	fillNCHW(d.input.GetData(), input.Data, size)

	if err := d.session.Run(); err != nil {
		return types.Prediction{}, fmt.Errorf("detector session run error: %w", err)
	}

	detections, err := core.DecodeYOLOOutput(d.output.GetData(), d.anchors, d.cfg.Labels, core.DecodeOptions{
		ConfidenceThreshold: d.cfg.ConfidenceThreshold,
		IoUThreshold:        d.cfg.IoUThreshold,
		MaxDetections:       core.DefaultMaxDetections,
		InputSize:           size,
	})
	if err != nil {
		return types.Prediction{}, err
	}

	return types.Prediction{Detections: detections, Probability: types.NeutralProbability}, nil
}

func (d *Detector) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			slog.Error("error destroying detector session", "error", err)
		}
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
}
