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
	"github.com/pkg/errors"
)

// PredictorState is opaque state owned by a Hypothesis and threaded through
// PredictorNetwork calls. Implementations may back it with tensors, arenas,
// or anything else; the search never inspects its contents.
type PredictorState any

// LMState is opaque state threaded through NgramLM calls.
type LMState any

// PredictorCache memoizes prediction-network outputs under the key string the
// PredictorNetwork implementation supplies, so that re-visiting an
// already-scored hypothesis does not re-run the prediction network. The
// backends in this module use Hypothesis.Key(), which combines the token
// sequence with LastFrame: the same token sequence reached at a different
// LastFrame is a separate entry and is scored again. It is owned by a single
// Decode call and discarded on return.
type PredictorCache struct {
	outputs map[string]*tensors.Tensor
	states  map[string]PredictorState
}

// NewPredictorCache creates an empty per-call cache.
func NewPredictorCache() *PredictorCache {
	return &PredictorCache{
		outputs: make(map[string]*tensors.Tensor),
		states:  make(map[string]PredictorState),
	}
}

// Get looks up a previously scored hypothesis by key (typically Hypothesis.Key()).
// Implementations of PredictorNetwork are expected to consult this before
// re-running the prediction network for an already-seen prefix.
func (c *PredictorCache) Get(key string) (*tensors.Tensor, PredictorState, bool) {
	out, ok := c.outputs[key]
	if !ok {
		return nil, nil, false
	}
	return out, c.states[key], true
}

// Put records the prediction-network output and resulting state for key.
func (c *PredictorCache) Put(key string, out *tensors.Tensor, state PredictorState) {
	c.outputs[key] = out
	c.states[key] = state
}

// PredictorNetwork is the external prediction network collaborator. It is
// stateful per hypothesis: ScoreHypothesis/BatchScoreHypothesis advance a
// hypothesis's PredictorState by one token and return the corresponding
// output vector that the JointNetwork combines with the encoder frame.
type PredictorNetwork interface {
	// InitializeState returns a fresh zero state. template is typically the
	// encoder output; implementations may read its dtype, device or shape,
	// or ignore it.
	InitializeState(template *tensors.Tensor) (PredictorState, error)

	// ScoreHypothesis scores a single hypothesis's current token sequence,
	// consulting cache to avoid recomputation for an already-seen prefix.
	ScoreHypothesis(h *Hypothesis, cache *PredictorCache) (predOut *tensors.Tensor, newState PredictorState, err error)

	// BatchScoreHypothesis scores a batch of hypotheses at once. stateBuffer
	// is scratch space owned by the caller and may be reused across calls.
	BatchScoreHypothesis(hyps []*Hypothesis, cache *PredictorCache, stateBuffer PredictorState) (predOuts []*tensors.Tensor, newStateBuffer PredictorState, err error)

	// BatchInitializeStates packs the given per-hypothesis states into a
	// fresh batched state buffer.
	BatchInitializeStates(buffer PredictorState, states []PredictorState) (PredictorState, error)

	// BatchSelectState extracts the i-th hypothesis's state out of a batched
	// state buffer.
	BatchSelectState(buffer PredictorState, i int) (PredictorState, error)
}

// JointNetwork is the external joint network collaborator. Joint combines one
// encoder frame with one prediction-network output and returns logits of
// shape [..., V+|D|]: the first V entries are vocabulary logits (blank
// included), the trailing |D| entries are duration logits.
type JointNetwork interface {
	Joint(encoderFrame, predictorOut *tensors.Tensor) (logits *tensors.Tensor, err error)
}

// NgramLM is the external n-gram language model collaborator, modeled after a
// KenLM-style state machine: BeginSentence seeds a start state, and BaseScore
// advances that state by one symbol, returning a log10 probability.
type NgramLM interface {
	BeginSentence() (LMState, error)
	BaseScore(state LMState, symbol string) (log10Score float64, next LMState, err error)
}

var errNilPredictor = errors.New("predictor network must not be nil")
var errNilJoint = errors.New("joint network must not be nil")
