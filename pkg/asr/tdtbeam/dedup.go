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

// removeDuplicates collapses hypotheses that share the same (Tokens,
// LastFrame) key, keeping only the highest-scored representative of each.
//
// Two consecutive blank emissions whose durations sum to the same value
// produce identical surface sequences and identical advance; only the
// better-scored path should propagate. Resolution order: sort descending by
// score, then linearly keep the first occurrence of each key — stable with
// respect to ties (first seen wins).
func removeDuplicates(hyps []*Hypothesis) []*Hypothesis {
	sorted := make([]*Hypothesis, len(hyps))
	copy(sorted, hyps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	seen := make(map[string]bool, len(sorted))
	kept := make([]*Hypothesis, 0, len(sorted))
	for _, h := range sorted {
		key := h.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, h)
	}
	return kept
}

// topByScore returns the n highest-scored hypotheses, sorted descending. If
// there are fewer than n hypotheses, all of them are returned.
func topByScore(hyps []*Hypothesis, n int) []*Hypothesis {
	sorted := make([]*Hypothesis, len(hyps))
	copy(sorted, hyps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}
