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

// Package gomlxrt implements tdtbeam.PredictorNetwork and tdtbeam.JointNetwork
// over prediction and joint sub-networks compiled as GoMLX graphs, for callers
// who have trained or exported their TDT model directly to a GoMLX context
// rather than to ONNX. It mirrors the gomlx-native backend.
package gomlxrt

import (
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/tdtbeam/pkg/asr/tdtbeam"

	"github.com/pkg/errors"
)

// SubModel is a named, compiled graph executor for one of the predictor or
// joint networks.
type SubModel struct {
	Name string
	Exec *context.Exec
}

// Backend wires a predictor sub-model and a joint sub-model, both compiled
// GoMLX graphs, into the tdtbeam.PredictorNetwork/tdtbeam.JointNetwork
// contracts. State is kept as plain *tensors.Tensor values: the predictor's
// recurrent state for a single hypothesis is whatever shape the compiled
// predictor graph says it is, and batching stacks those tensors along a new
// leading axis.
type Backend struct {
	mu sync.RWMutex

	predictor *SubModel
	joint     *SubModel

	stateShape []int // excluding batch dim; not set by any method of Backend
}

// New constructs a Backend with no sub-models configured; use WithPredictor
// and WithJoint before passing it to tdtbeam.NewDecoder.
func New() *Backend {
	return &Backend{}
}

// WithPredictor attaches the compiled predictor network executor.
func (b *Backend) WithPredictor(exec *context.Exec) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.predictor = &SubModel{Name: "predictor", Exec: exec}
	return b
}

// WithJoint attaches the compiled joint network executor.
func (b *Backend) WithJoint(exec *context.Exec) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joint = &SubModel{Name: "joint", Exec: exec}
	return b
}

// InitializeState returns a single-hypothesis float32 zero state of shape
// [1, D], where D is the last dimension of template (the encoder output,
// following the reference seq2seq backend's encoder-output-as-template
// convention).
func (b *Backend) InitializeState(template *tensors.Tensor) (tdtbeam.PredictorState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.predictor == nil {
		return nil, errors.New("predictor executor not initialized")
	}
	shape := template.Shape()
	featDim := shape.Dimensions[shape.Rank()-1]
	zeros := make([]float32, featDim)
	return tensors.FromFlatDataAndDimensions(zeros, 1, featDim), nil
}

// ScoreHypothesis runs the predictor graph on h's last token and current
// state, consulting cache first.
func (b *Backend) ScoreHypothesis(h *tdtbeam.Hypothesis, cache *tdtbeam.PredictorCache) (*tensors.Tensor, tdtbeam.PredictorState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.predictor == nil || b.predictor.Exec == nil {
		return nil, nil, errors.New("predictor executor not initialized")
	}

	key := h.Key()
	if out, state, ok := cache.Get(key); ok {
		return out, state, nil
	}

	lastToken := h.Tokens[len(h.Tokens)-1]
	tokenTensor := tensors.FromFlatDataAndDimensions([]int32{lastToken}, 1, 1)
	state, _ := h.PredictorState.(*tensors.Tensor)

	outputs, err := b.predictor.Exec.Exec(tokenTensor, state)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "predictor execution failed")
	}
	if len(outputs) < 2 {
		return nil, nil, errors.Errorf("predictor graph must return (output, new_state), got %d outputs", len(outputs))
	}

	out, newState := outputs[0], outputs[1]
	cache.Put(key, out, newState)
	return out, newState, nil
}

// BatchInitializeStates stacks per-hypothesis state tensors along a new
// leading batch axis. The buffer argument is ignored: a new stacked tensor is
// built on every call.
func (b *Backend) BatchInitializeStates(_ tdtbeam.PredictorState, states []tdtbeam.PredictorState) (tdtbeam.PredictorState, error) {
	if len(states) == 0 {
		return nil, errors.New("batch_initialize_states called with no hypotheses")
	}
	tensorStates := make([]*tensors.Tensor, len(states))
	for i, s := range states {
		t, ok := s.(*tensors.Tensor)
		if !ok {
			return nil, errors.Errorf("state %d is not a *tensors.Tensor", i)
		}
		tensorStates[i] = t
	}
	return stackTensors(tensorStates)
}

// BatchScoreHypothesis runs the predictor graph once over the whole batch.
func (b *Backend) BatchScoreHypothesis(hyps []*tdtbeam.Hypothesis, cache *tdtbeam.PredictorCache, stateBuffer tdtbeam.PredictorState) ([]*tensors.Tensor, tdtbeam.PredictorState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.predictor == nil || b.predictor.Exec == nil {
		return nil, nil, errors.New("predictor executor not initialized")
	}

	tokens := make([]int32, len(hyps))
	for i, h := range hyps {
		tokens[i] = h.Tokens[len(h.Tokens)-1]
	}
	tokenBatch := tensors.FromFlatDataAndDimensions(tokens, len(tokens), 1)

	stateTensor, _ := stateBuffer.(*tensors.Tensor)
	outputs, err := b.predictor.Exec.Exec(tokenBatch, stateTensor)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "batched predictor execution failed")
	}
	if len(outputs) < 2 {
		return nil, nil, errors.Errorf("predictor graph must return (outputs, new_states), got %d outputs", len(outputs))
	}

	batchOut, batchState := outputs[0], outputs[1]
	predOuts, err := splitBatch(batchOut, len(hyps))
	if err != nil {
		return nil, nil, err
	}
	for i, h := range hyps {
		cache.Put(h.Key(), predOuts[i], nil)
	}
	return predOuts, batchState, nil
}

// BatchSelectState extracts hypothesis i's state out of a batched state
// tensor whose leading dimension is the batch axis.
func (b *Backend) BatchSelectState(buffer tdtbeam.PredictorState, i int) (tdtbeam.PredictorState, error) {
	t, ok := buffer.(*tensors.Tensor)
	if !ok {
		return nil, errors.New("state buffer is not a *tensors.Tensor")
	}
	parts, err := splitBatch(t, t.Shape().Dimensions[0])
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(parts) {
		return nil, errors.Errorf("state index %d out of range [0, %d)", i, len(parts))
	}
	return parts[i], nil
}

// Joint runs the joint graph on one (encoder frame, predictor output) pair.
func (b *Backend) Joint(encoderFrame, predictorOut *tensors.Tensor) (*tensors.Tensor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.joint == nil || b.joint.Exec == nil {
		return nil, errors.New("joint executor not initialized")
	}
	outputs, err := b.joint.Exec.Exec(encoderFrame, predictorOut)
	if err != nil {
		return nil, errors.WithMessage(err, "joint execution failed")
	}
	if len(outputs) == 0 {
		return nil, errors.New("joint graph returned no outputs")
	}
	return outputs[0], nil
}

// stackTensors concatenates rank-2 [1, D] tensors into one [N, D] tensor.
func stackTensors(ts []*tensors.Tensor) (*tensors.Tensor, error) {
	featDim := ts[0].Shape().Dimensions[ts[0].Shape().Rank()-1]
	flat := make([]float32, 0, len(ts)*featDim)
	for _, t := range ts {
		data := tensors.MustCopyFlatData[float32](t)
		flat = append(flat, data...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(ts), featDim), nil
}

// splitBatch splits a [N, ...] tensor's leading axis into n single-item
// tensors, each retaining the trailing dimensions.
func splitBatch(t *tensors.Tensor, n int) ([]*tensors.Tensor, error) {
	shape := t.Shape()
	if shape.Rank() < 1 || shape.Dimensions[0] != n {
		return nil, errors.Errorf("expected leading dimension %d, got shape %s", n, shape)
	}
	data := tensors.MustCopyFlatData[float32](t)
	itemSize := len(data) / n
	out := make([]*tensors.Tensor, n)
	dims := append([]int{1}, shape.Dimensions[1:]...)
	for i := 0; i < n; i++ {
		item := make([]float32, itemSize)
		copy(item, data[i*itemSize:(i+1)*itemSize])
		out[i] = tensors.FromFlatDataAndDimensions(item, dims...)
	}
	return out, nil
}
