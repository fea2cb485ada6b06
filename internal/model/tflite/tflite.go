// Package tflite loads TensorFlow Lite pitch models. Input tensor 0 receives
// the audio window; outputs are read either from the first three output
// tensors or from the first three values of a single output tensor, in
// pitch, confidence, amplitude order.
package tflite

import (
	"fmt"
	"os"
	"runtime"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/pitchnet-go/internal/cpuspec"
	"github.com/tphakala/pitchnet-go/internal/logger"
	"github.com/tphakala/pitchnet-go/internal/model"
)

// Extension is the file extension handled by this backend.
const Extension = "tflite"

func init() {
	model.Register("tflite", Extension, Open)
}

// Model wraps a TFLite interpreter. It is not safe for concurrent use; the
// model.Slot serializes calls.
type Model struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputSize   int
	outputs     int
}

// Open loads the model file at path and allocates its tensors.
func Open(path string, meta model.Metadata, opts model.Options) (model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	tm := tflite.NewModel(data)
	if tm == nil {
		return nil, fmt.Errorf("cannot parse TensorFlow Lite model %s", meta.Name)
	}

	threads := determineThreadCount(opts.Threads)
	options := tflite.NewInterpreterOptions()
	log := logger.Global().Module("model").Module("tflite")
	if opts.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, using default CPU kernels")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(tm, options)
	if interpreter == nil {
		options.Delete()
		tm.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		tm.Delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}

	m := &Model{
		model:       tm,
		options:     options,
		interpreter: interpreter,
		inputSize:   len(interpreter.GetInputTensor(0).Float32s()),
		outputs:     interpreter.GetOutputTensorCount(),
	}
	if m.inputSize != meta.ChunkSize {
		log.Warn("input tensor size differs from declared chunk size",
			logger.String("model", meta.Name),
			logger.Int("input_size", m.inputSize),
			logger.Int("chunk_size", meta.ChunkSize))
	}

	log.Info("TFLite model initialized",
		logger.String("model", meta.Name),
		logger.Int("threads", threads),
		logger.Int("total_cpus", runtime.NumCPU()),
		logger.Bool("xnnpack", opts.UseXNNPACK))
	return m, nil
}

// Infer copies window into the input tensor and invokes the interpreter.
func (m *Model) Infer(window []float32) (model.Prediction, error) {
	input := m.interpreter.GetInputTensor(0).Float32s()
	n := copy(input, window)
	clear(input[n:])

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return model.Prediction{}, fmt.Errorf("invoke failed with status %v", status)
	}

	var vals [3]float32
	switch {
	case m.outputs >= 3:
		for i := range vals {
			out := m.interpreter.GetOutputTensor(i).Float32s()
			if len(out) == 0 {
				return model.Prediction{}, fmt.Errorf("output tensor %d is empty", i)
			}
			vals[i] = out[0]
		}
	case m.outputs >= 1:
		out := m.interpreter.GetOutputTensor(0).Float32s()
		if len(out) < 3 {
			return model.Prediction{}, fmt.Errorf("output tensor holds %d values, need 3", len(out))
		}
		copy(vals[:], out)
	default:
		return model.Prediction{}, fmt.Errorf("model has no output tensors")
	}

	return model.Prediction{Pitch: vals[0], Confidence: vals[1], Amplitude: vals[2]}, nil
}

// Close releases the interpreter and model.
func (m *Model) Close() error {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}

// determineThreadCount resolves the configured thread count against the host.
func determineThreadCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 {
		if optimal := cpuspec.GetCPUSpec().GetOptimalThreadCount(); optimal > 0 {
			return min(optimal, cpus)
		}
		return cpus
	}
	return min(configured, cpus)
}
