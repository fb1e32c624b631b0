//go:build silero

package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	sileroWindowSize = 512
	sileroStateSize  = 128
	sileroSampleRate = 16000
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroONNX runs the Silero VAD v5 model through ONNX Runtime. One
// instance holds one RNN hidden state and must not be shared across
// concurrent sessions; call NewSileroONNX per session and Close when it ends.
type SileroONNX struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32]
	stateTensor  *ort.Tensor[float32]
	srTensor     *ort.Tensor[int64]
	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pcmBuf    []float32
	threshold float64
}

// NewSileroONNX loads the model at modelPath and initializes ONNX
// Runtime against the shared library at ortLibPath (both configured
// per deployment since the model and runtime binary aren't embedded
// in this module).
func NewSileroONNX(modelPath, ortLibPath string, threshold float64) (*SileroONNX, error) {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(ortLibPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: initialize onnxruntime: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(sileroSampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: sample-rate tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &SileroONNX{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, sileroWindowSize*2),
		threshold:    threshold,
	}, nil
}

func (s *SileroONNX) Name() string { return "silero-onnx" }

// IsSpeech buffers pcm until a full 512-sample window accumulates, then
// runs inference and reports whether the most recent window crossed
// threshold. A chunk that doesn't complete a window returns false
// rather than erroring.
func (s *SileroONNX) IsSpeech(pcm []int16) (bool, error) {
	s.pcmBuf = append(s.pcmBuf, int16ToFloat32(pcm)...)

	var lastProb float32
	ran := false
	for len(s.pcmBuf) >= sileroWindowSize {
		prob, err := s.infer(s.pcmBuf[:sileroWindowSize])
		if err != nil {
			return false, err
		}
		s.pcmBuf = s.pcmBuf[sileroWindowSize:]
		lastProb = prob
		ran = true
	}
	if !ran {
		return false, nil
	}
	return float64(lastProb) >= s.threshold, nil
}

func (s *SileroONNX) infer(window []float32) (float32, error) {
	copy(s.inputTensor.GetData(), window)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	prob := s.outputTensor.GetData()[0]
	copy(s.stateTensor.GetData(), s.stateNTensor.GetData())
	return prob, nil
}

// Reset clears the RNN hidden state and any partial window buffer.
func (s *SileroONNX) Reset() {
	for i := range s.stateTensor.GetData() {
		s.stateTensor.GetData()[i] = 0
	}
	s.pcmBuf = s.pcmBuf[:0]
}

// Close releases the ONNX Runtime session and tensors.
func (s *SileroONNX) Close() error {
	s.session.Destroy()
	s.inputTensor.Destroy()
	s.stateTensor.Destroy()
	s.srTensor.Destroy()
	s.outputTensor.Destroy()
	s.stateNTensor.Destroy()
	return nil
}

func int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}
