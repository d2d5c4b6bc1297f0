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

import "sort"

// sortNBest implements C8: orders an N-best list best-first. When scoreNorm
// is set, hypotheses are ranked by score divided by token-sequence length so
// that longer transcriptions are not penalized purely for length; otherwise
// ranking uses the raw cumulative log-probability.
func sortNBest(hyps []*Hypothesis, scoreNorm bool) []*Hypothesis {
	out := make([]*Hypothesis, len(hyps))
	copy(out, hyps)
	key := func(h *Hypothesis) float64 {
		if scoreNorm && len(h.Tokens) > 0 {
			return h.Score / float64(len(h.Tokens))
		}
		return h.Score
	}
	sort.SliceStable(out, func(i, j int) bool {
		return key(out[i]) > key(out[j])
	})
	return out
}
