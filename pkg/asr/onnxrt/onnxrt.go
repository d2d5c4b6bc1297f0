/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package onnxrt implements tdtbeam.PredictorNetwork and tdtbeam.JointNetwork
// over a sherpa-onnx-style exported TDT model: a decoder (prediction network)
// session with a two-tensor LSTM state, and a joiner (joint network) session
// combining one encoder frame with one decoder output.
package onnxrt

import (
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/tdtbeam/pkg/asr/tdtbeam"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Config describes the exported ONNX sessions to load and the tensor names
// within them. Names follow the sherpa-onnx Parakeet/TDT export convention.
type Config struct {
	// SharedLibraryPath points at the onnxruntime shared library; left empty
	// to use the platform default search path.
	SharedLibraryPath string

	DecoderPath        string
	DecoderInputNames  []string // targets, target_length, state1, state2
	DecoderOutputNames []string // outputs, prednet_lengths, new_state1, new_state2

	JointPath        string
	JointInputNames  []string // encoder_outputs, decoder_outputs
	JointOutputNames []string // outputs

	// HiddenDim is the LSTM hidden width used to shape the two state
	// tensors, each [2, 1, HiddenDim].
	HiddenDim int64
}

// decoderState holds one hypothesis's two-tensor LSTM state.
type decoderState struct {
	s1, s2 []float32
}

// Backend wires one loaded decoder/joiner session pair into tdtbeam's
// predictor/joint contracts.
type Backend struct {
	mu sync.Mutex // onnxruntime sessions are not documented safe for concurrent Run calls

	decoder   *ort.DynamicAdvancedSession
	joint     *ort.DynamicAdvancedSession
	hiddenDim int64
}

// Load initializes the onnxruntime environment and opens both sessions.
func Load(cfg Config) (*Backend, error) {
	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.WithMessage(err, "initialize onnxruntime environment")
	}

	decoder, err := ort.NewDynamicAdvancedSession(cfg.DecoderPath, cfg.DecoderInputNames, cfg.DecoderOutputNames, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "load decoder session")
	}
	joint, err := ort.NewDynamicAdvancedSession(cfg.JointPath, cfg.JointInputNames, cfg.JointOutputNames, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "load joiner session")
	}

	return &Backend{decoder: decoder, joint: joint, hiddenDim: cfg.HiddenDim}, nil
}

// Close releases both onnxruntime sessions.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoder.Destroy()
	b.joint.Destroy()
	return nil
}

// InitializeState returns a zeroed two-tensor LSTM state for one hypothesis.
func (b *Backend) InitializeState(_ *tensors.Tensor) (tdtbeam.PredictorState, error) {
	n := int(2 * 1 * b.hiddenDim)
	return &decoderState{s1: make([]float32, n), s2: make([]float32, n)}, nil
}

// ScoreHypothesis runs the decoder session on h's last token and state.
func (b *Backend) ScoreHypothesis(h *tdtbeam.Hypothesis, cache *tdtbeam.PredictorCache) (*tensors.Tensor, tdtbeam.PredictorState, error) {
	key := h.Key()
	if out, state, ok := cache.Get(key); ok {
		return out, state, nil
	}

	state, ok := h.PredictorState.(*decoderState)
	if !ok {
		return nil, nil, errors.New("hypothesis predictor state is not an onnxrt decoder state")
	}
	lastToken := h.Tokens[len(h.Tokens)-1]

	out, newState, err := b.runDecoder([]int32{lastToken}, state)
	if err != nil {
		return nil, nil, err
	}
	cache.Put(key, out, newState)
	return out, newState, nil
}

// BatchScoreHypothesis runs the decoder session once per hypothesis: the
// exported decoder graph fixes its batch axis at 1 (sherpa-onnx convention),
// so each hypothesis is scored through ScoreHypothesis (one decoder run per
// cache miss) and the resulting states are returned as a []*decoderState
// batch. The stateBuffer argument is ignored.
func (b *Backend) BatchScoreHypothesis(hyps []*tdtbeam.Hypothesis, cache *tdtbeam.PredictorCache, _ tdtbeam.PredictorState) ([]*tensors.Tensor, tdtbeam.PredictorState, error) {
	outs := make([]*tensors.Tensor, len(hyps))
	states := make([]*decoderState, len(hyps))
	for i, h := range hyps {
		out, newState, err := b.ScoreHypothesis(h, cache)
		if err != nil {
			return nil, nil, err
		}
		outs[i] = out
		states[i] = newState.(*decoderState)
	}
	return outs, states, nil
}

// BatchInitializeStates packs per-hypothesis states into a slice, the batch
// representation BatchScoreHypothesis/BatchSelectState expect.
func (b *Backend) BatchInitializeStates(_ tdtbeam.PredictorState, states []tdtbeam.PredictorState) (tdtbeam.PredictorState, error) {
	out := make([]*decoderState, len(states))
	for i, s := range states {
		ds, ok := s.(*decoderState)
		if !ok {
			return nil, errors.Errorf("state %d is not an onnxrt decoder state", i)
		}
		out[i] = ds
	}
	return out, nil
}

// BatchSelectState extracts hypothesis i's state from a batch.
func (b *Backend) BatchSelectState(buffer tdtbeam.PredictorState, i int) (tdtbeam.PredictorState, error) {
	states, ok := buffer.([]*decoderState)
	if !ok {
		return nil, errors.New("state buffer is not a []*decoderState")
	}
	if i < 0 || i >= len(states) {
		return nil, errors.Errorf("state index %d out of range [0, %d)", i, len(states))
	}
	return states[i], nil
}

// Joint runs the joiner session on one (encoder frame, decoder output) pair.
func (b *Backend) Joint(encoderFrame, predictorOut *tensors.Tensor) (*tensors.Tensor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frameData, err := flatFloat32(encoderFrame)
	if err != nil {
		return nil, err
	}
	decData, err := flatFloat32(predictorOut)
	if err != nil {
		return nil, err
	}

	ef, err := ort.NewTensor(ort.NewShape(1, int64(len(frameData)), 1), frameData)
	if err != nil {
		return nil, errors.WithMessage(err, "build encoder-frame tensor")
	}
	defer ef.Destroy()
	df, err := ort.NewTensor(ort.NewShape(1, b.hiddenDim, 1), decData)
	if err != nil {
		return nil, errors.WithMessage(err, "build decoder-output tensor")
	}
	defer df.Destroy()

	jointOut := []ort.Value{nil}
	if err := b.joint.Run([]ort.Value{ef, df}, jointOut); err != nil {
		return nil, errors.WithMessage(err, "joiner run")
	}
	defer jointOut[0].Destroy()

	logits := getFloat32(jointOut[0])
	return tensors.FromFlatDataAndDimensions(copyF32(logits), 1, len(logits)), nil
}

func (b *Backend) runDecoder(targets []int32, state *decoderState) (*tensors.Tensor, *decoderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tgt, err := ort.NewTensor(ort.NewShape(1, int64(len(targets))), targets)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "build target tensor")
	}
	defer tgt.Destroy()
	tl, err := ort.NewTensor(ort.NewShape(1), []int32{int32(len(targets))})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "build target-length tensor")
	}
	defer tl.Destroy()
	st1, err := ort.NewTensor(ort.NewShape(2, 1, b.hiddenDim), state.s1)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "build state1 tensor")
	}
	defer st1.Destroy()
	st2, err := ort.NewTensor(ort.NewShape(2, 1, b.hiddenDim), state.s2)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "build state2 tensor")
	}
	defer st2.Destroy()

	decOut := []ort.Value{nil, nil, nil, nil}
	if err := b.decoder.Run([]ort.Value{tgt, tl, st1, st2}, decOut); err != nil {
		return nil, nil, errors.WithMessage(err, "decoder run")
	}
	defer decOut[1].Destroy()

	out := copyF32(getFloat32(decOut[0]))
	newState := &decoderState{
		s1: copyF32(getFloat32(decOut[2])),
		s2: copyF32(getFloat32(decOut[3])),
	}
	decOut[0].Destroy()
	decOut[2].Destroy()
	decOut[3].Destroy()

	return tensors.FromFlatDataAndDimensions(out, 1, len(out)), newState, nil
}

func flatFloat32(t *tensors.Tensor) ([]float32, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	return tensors.MustCopyFlatData[float32](t), nil
}

func getFloat32(v ort.Value) []float32 {
	if t, ok := v.(*ort.Tensor[float32]); ok {
		return t.GetData()
	}
	return nil
}

func copyF32(src []float32) []float32 {
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
