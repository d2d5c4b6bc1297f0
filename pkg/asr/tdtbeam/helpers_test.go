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

package tdtbeam

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// fakePredictor is a PredictorNetwork stand-in whose output carries no real
// information: frameTableJoint below decides logits purely from the encoder
// frame, so the predictor only needs to satisfy the interface.
type fakePredictor struct{}

func (fakePredictor) InitializeState(_ *tensors.Tensor) (PredictorState, error) {
	return 0, nil
}

func (fakePredictor) ScoreHypothesis(h *Hypothesis, _ *PredictorCache) (*tensors.Tensor, PredictorState, error) {
	return tensors.FromFlatDataAndDimensions([]float32{0}, 1), len(h.Tokens), nil
}

func (fakePredictor) BatchScoreHypothesis(hyps []*Hypothesis, _ *PredictorCache, _ PredictorState) ([]*tensors.Tensor, PredictorState, error) {
	outs := make([]*tensors.Tensor, len(hyps))
	states := make([]int, len(hyps))
	for i, h := range hyps {
		outs[i] = tensors.FromFlatDataAndDimensions([]float32{0}, 1)
		states[i] = len(h.Tokens)
	}
	return outs, states, nil
}

func (fakePredictor) BatchInitializeStates(_ PredictorState, states []PredictorState) (PredictorState, error) {
	out := make([]int, len(states))
	for i, s := range states {
		out[i] = s.(int)
	}
	return out, nil
}

func (fakePredictor) BatchSelectState(buffer PredictorState, i int) (PredictorState, error) {
	return buffer.([]int)[i], nil
}

// frameTableJoint is a JointNetwork whose output depends only on the frame
// index, which it recovers from the single feature value sliceEncoderFrame
// produced for that frame (see newFrameEncoderOutput). rows[t] holds the
// flat [vocab..., duration...] logits for frame t.
type frameTableJoint struct {
	rows [][]float64
}

func (j *frameTableJoint) Joint(encoderFrame, _ *tensors.Tensor) (*tensors.Tensor, error) {
	flat := tensors.MustCopyFlatData[float32](encoderFrame)
	t := int(flat[0])
	row := j.rows[t]
	data := make([]float32, len(row))
	for i, v := range row {
		data[i] = float32(v)
	}
	return tensors.FromFlatDataAndDimensions(data, 1, len(data)), nil
}

// newFrameEncoderOutput builds a [1, numFrames, 1] tensor whose value at
// frame t is t itself, so frameTableJoint can recover the frame index.
func newFrameEncoderOutput(numFrames int) *tensors.Tensor {
	data := make([]float32, numFrames)
	for i := range data {
		data[i] = float32(i)
	}
	return tensors.FromFlatDataAndDimensions(data, 1, numFrames, 1)
}

// constantJoint always returns the same row, regardless of frame.
type constantJoint struct {
	row []float64
}

func (j *constantJoint) Joint(_, _ *tensors.Tensor) (*tensors.Tensor, error) {
	data := make([]float32, len(j.row))
	for i, v := range j.row {
		data[i] = float32(v)
	}
	return tensors.FromFlatDataAndDimensions(data, 1, len(data)), nil
}

// fakeNgramLM returns a fixed log10 score for every symbol, regardless of
// state, enough to exercise LMAdapter's offset/conversion logic.
type fakeNgramLM struct {
	log10Score float64
}

func (l *fakeNgramLM) BeginSentence() (LMState, error) {
	return 0, nil
}

func (l *fakeNgramLM) BaseScore(state LMState, _ string) (float64, LMState, error) {
	return l.log10Score, state.(int) + 1, nil
}
