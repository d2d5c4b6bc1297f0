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
	"math"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// scoredIndex pairs a vocabulary or duration index with its log-probability,
// the same shape generation.go's indexedProb uses for its own top-k/top-p
// sampling helpers.
type scoredIndex struct {
	index int
	logp  float64
}

// extractFlatFloat64 extracts a tensor's flat data as float64, regardless of
// whether the tensor is stored as float32 or float64. This mirrors
// generation.go's extractLogitsData/TensorToFloat32Slice, which extract
// *tensors.Tensor payloads into plain Go slices for eager, non-graph
// post-processing — the same texture used here for log-softmax and top-k,
// rather than compiling an XLA graph for what is inherently small,
// per-hypothesis, host-side bookkeeping.
func extractFlatFloat64(t *tensors.Tensor) ([]float64, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	shape := t.Shape()
	switch shape.DType {
	case dtypes.Float32:
		data := tensors.MustCopyFlatData[float32](t)
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case dtypes.Float64:
		return tensors.MustCopyFlatData[float64](t), nil
	default:
		return nil, errors.Errorf("unsupported dtype for logits: %s", shape.DType)
	}
}

// logSoftmax computes log-softmax over a flat slice in place-safe fashion
// (returns a new slice), using the standard max-subtraction for numerical
// stability.
func logSoftmax(logits []float64) []float64 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sumExp float64
	shifted := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - maxVal)
		shifted[i] = e
		sumExp += e
	}
	logSumExp := maxVal + math.Log(sumExp)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = v - logSumExp
	}
	return out
}

// topK returns the k highest (index, value) pairs from logp, sorted
// descending by value. Indices in skip are excluded from consideration
// (used to exclude the blank id from the non-blank token top-k).
func topK(logp []float64, k int, skip map[int]bool) []scoredIndex {
	candidates := make([]scoredIndex, 0, len(logp))
	for i, v := range logp {
		if skip != nil && skip[i] {
			continue
		}
		candidates = append(candidates, scoredIndex{index: i, logp: v})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].logp > candidates[j].logp
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// argmax returns the index of the largest value in logp.
func argmax(logp []float64) int {
	best := 0
	for i, v := range logp[1:] {
		if v > logp[best] {
			best = i + 1
		}
	}
	return best
}

// logAddExp computes log(exp(a)+exp(b)) in a numerically stable way.
func logAddExp(a, b float64) float64 {
	if a == math.Inf(-1) {
		return b
	}
	if b == math.Inf(-1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}
