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
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Hypothesis is a single partial decoding path. Treat it as immutable once
// constructed: branching produces a new Hypothesis whose Tokens, Timesteps,
// and PredictorOutputs are fresh slices, never a mutated view into a parent's
// backing array.
type Hypothesis struct {
	// Score is the cumulative natural-log probability of this path.
	Score float64

	// Tokens is the emitted token sequence. Position 0 is always the blank
	// sentinel; only non-blank tokens are appended thereafter.
	Tokens []int32

	// Timesteps is the frame index at which each token in Tokens was
	// emitted, aligned 1:1 with Tokens. Position 0 is always -1.
	Timesteps []int32

	// LastFrame is the next frame at which this hypothesis will be advanced.
	LastFrame int32

	// PredictorState is the opaque state of the prediction network after
	// having consumed Tokens.
	PredictorState PredictorState

	// PredictorOutputs caches prediction-network outputs, one per successful
	// expansion, indexed parallel to non-blank appends. Only populated by
	// mAES.
	PredictorOutputs []*tensors.Tensor

	// LMState is the n-gram LM state after having consumed Tokens. Only
	// populated by mAES when an LM is configured.
	LMState LMState

	// key memoizes the (Tokens, LastFrame) dedup/cache key. Branches start
	// with an empty key; Key() builds it from the full Tokens slice on first
	// use and caches it. Code that mutates Tokens or LastFrame afterwards
	// must reset it to "".
	key string
}

// newSentinelHypothesis constructs the initial single-token hypothesis every
// search starts from: Tokens=[blank], Timesteps=[-1], Score=0, LastFrame=0.
func newSentinelHypothesis(blank int32, state PredictorState) *Hypothesis {
	h := &Hypothesis{
		Score:          0,
		Tokens:         []int32{blank},
		Timesteps:      []int32{-1},
		LastFrame:      0,
		PredictorState: state,
	}
	h.key = h.computeKey()
	return h
}

// Key returns the (Tokens, LastFrame) identity used for duplicate suppression
// and predictor-cache lookups.
func (h *Hypothesis) Key() string {
	if h.key == "" {
		h.key = h.computeKey()
	}
	return h.key
}

func (h *Hypothesis) computeKey() string {
	var b strings.Builder
	for _, t := range h.Tokens {
		b.WriteString(strconv.Itoa(int(t)))
		b.WriteByte(',')
	}
	b.WriteByte('@')
	b.WriteString(strconv.Itoa(int(h.LastFrame)))
	return b.String()
}

// cloneTokens returns a fresh copy of Tokens with room for one more append,
// so a branch never aliases a sibling branch's backing array.
func (h *Hypothesis) cloneTokens() []int32 {
	out := make([]int32, len(h.Tokens), len(h.Tokens)+1)
	copy(out, h.Tokens)
	return out
}

func (h *Hypothesis) cloneTimesteps() []int32 {
	out := make([]int32, len(h.Timesteps), len(h.Timesteps)+1)
	copy(out, h.Timesteps)
	return out
}

func (h *Hypothesis) clonePredictorOutputs() []*tensors.Tensor {
	if h.PredictorOutputs == nil {
		return nil
	}
	out := make([]*tensors.Tensor, len(h.PredictorOutputs), len(h.PredictorOutputs)+1)
	copy(out, h.PredictorOutputs)
	return out
}

// extendBlank returns a branch that advances LastFrame without emitting a
// token: the token sequence carries over unchanged, Score is set to score,
// and predictor state is shared (not re-scored).
func (h *Hypothesis) extendBlank(score float64, lastFrame int32) *Hypothesis {
	return &Hypothesis{
		Score:            score,
		Tokens:           h.Tokens,
		Timesteps:        h.Timesteps,
		LastFrame:        lastFrame,
		PredictorState:   h.PredictorState,
		PredictorOutputs: h.PredictorOutputs,
		LMState:          h.LMState,
	}
}

// extendToken returns a branch that appends a non-blank token at frame t,
// with a freshly allocated Tokens/Timesteps pair.
func (h *Hypothesis) extendToken(token int32, t int32, score float64, lastFrame int32, state PredictorState) *Hypothesis {
	tokens := append(h.cloneTokens(), token)
	timesteps := append(h.cloneTimesteps(), t)
	return &Hypothesis{
		Score:          score,
		Tokens:         tokens,
		Timesteps:      timesteps,
		LastFrame:      lastFrame,
		PredictorState: state,
	}
}

// appendPredictorOutput updates h in place, appending out to a fresh copy of
// PredictorOutputs and replacing PredictorState, and returns h — used by mAES
// after a batched predictor refresh following a successful expansion.
func (h *Hypothesis) appendPredictorOutput(out *tensors.Tensor, state PredictorState) *Hypothesis {
	h.PredictorOutputs = append(h.clonePredictorOutputs(), out)
	h.PredictorState = state
	return h
}

// lastPredictorOutput returns the most recently cached predictor output,
// used by mAES to batch the active hypotheses' decoder outputs.
func (h *Hypothesis) lastPredictorOutput() *tensors.Tensor {
	if len(h.PredictorOutputs) == 0 {
		return nil
	}
	return h.PredictorOutputs[len(h.PredictorOutputs)-1]
}
