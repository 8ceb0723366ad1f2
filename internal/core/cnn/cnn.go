package cnn

import (
	"errors"
	"fire-detection-backend/internal/core/types"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"
)

// Classifier runs a binary smoke classifier exported to TensorFlow Lite. The
// model takes a [1, 224, 224, 3] float32 image scaled to [0, 1] and emits a
// single sigmoid probability.
type Classifier struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter

	mu sync.Mutex
}

func resolveThreads(threads int) int {
	if threads <= 0 {
		return max(1, runtime.NumCPU())
	}
	return threads
}

func LoadClassifier(modelPath string, threads int) (*Classifier, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("classifier model %s is not accessible: %w", modelPath, err)
	}

	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("cannot load tflite model from %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()
	options.SetNumThread(resolveThreads(threads))
	options.SetErrorReporter(func(msg string, _ any) {
		slog.Error("tflite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.New("cannot create tflite interpreter")
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	slog.Info("loaded classifier model", "path", modelPath, "threads", resolveThreads(threads))

	return &Classifier{model: model, interpreter: interpreter}, nil
}

func tensorElements(t *tflite.Tensor) int {
	n := 1
	for i := 0; i < t.NumDims(); i++ {
		n *= t.Dim(i)
	}
	return n
}

func (c *Classifier) Predict(input types.Tensor) (types.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter == nil {
		return types.Prediction{}, errors.New("classifier has been released")
	}

	inputTensor := c.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return types.Prediction{}, errors.New("classifier has no input tensor")
	}
	if expected := tensorElements(inputTensor); expected != len(input.Data) {
		return types.Prediction{}, fmt.Errorf("classifier expects %d input values, got %d", expected, len(input.Data))
	}
	copy(inputTensor.Float32s(), input.Data)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return types.Prediction{}, fmt.Errorf("classifier invoke failed: %v", status)
	}

	outputTensor := c.interpreter.GetOutputTensor(0)
	if outputTensor == nil {
		return types.Prediction{}, errors.New("classifier has no output tensor")
	}
	output := outputTensor.Float32s()
	if len(output) == 0 {
		return types.Prediction{}, errors.New("classifier produced an empty output")
	}

	return toPrediction(output[0])
}

// toPrediction validates a raw sigmoid output and clamps it into [0, 1].
func toPrediction(raw float32) (types.Prediction, error) {
	p := float64(raw)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return types.Prediction{}, fmt.Errorf("classifier produced a non-finite probability %v", p)
	}
	return types.Prediction{Probability: min(max(p, 0), 1)}, nil
}

func (c *Classifier) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}
