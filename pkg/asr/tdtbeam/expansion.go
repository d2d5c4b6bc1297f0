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

// expansionCandidate is one (token, duration) pair considered for a given
// source hypothesis, together with its resulting cumulative score.
type expansionCandidate struct {
	token       int32
	durationIdx int
	score       float64
}

// selectKExpansions implements the prune-by-value expansion selector (C3):
// for each hypothesis, form the Cartesian product of its token and duration
// top-k candidates, keep every candidate whose score is within gamma of the
// per-hypothesis maximum, and return each hypothesis's surviving candidates
// sorted ascending by score. The argmax candidate is always retained (gamma
// is measured against it, and it trivially satisfies >= max-gamma).
//
// Ported from BeamTDTInfer.select_k_expansions_durations (itself credited to
// espnet upstream).
func selectKExpansions(baseScore float64, tokenTopK, durationTopK []scoredIndex, gamma float64) []expansionCandidate {
	all := make([]expansionCandidate, 0, len(tokenTopK)*len(durationTopK))
	for _, tok := range tokenTopK {
		for _, dur := range durationTopK {
			all = append(all, expansionCandidate{
				token:       int32(tok.index),
				durationIdx: dur.index,
				score:       baseScore + tok.logp + dur.logp,
			})
		}
	}

	best := all[0].score
	for _, c := range all[1:] {
		if c.score > best {
			best = c.score
		}
	}

	threshold := best - gamma
	kept := make([]expansionCandidate, 0, len(all))
	for _, c := range all {
		if c.score >= threshold {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].score < kept[j].score
	})
	return kept
}
