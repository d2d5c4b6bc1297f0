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
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// isPrefix reports whether short is a strict prefix of long.
func isPrefix(short, long []int32) bool {
	if len(short) >= len(long) {
		return false
	}
	for i, v := range short {
		if long[i] != v {
			return false
		}
	}
	return true
}

// sortByLengthDescending returns hyps sorted by descending token-sequence
// length, the order prefixSearch requires.
func sortByLengthDescending(hyps []*Hypothesis) []*Hypothesis {
	out := make([]*Hypothesis, len(hyps))
	copy(out, hyps)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Tokens) > len(out[j].Tokens)
	})
	return out
}

// prefixSearch implements the prefix-score corrector (C4). hyps must be
// sorted by descending token-sequence length. It mutates hyp.Score in place
// for every pair (longer, shorter) where shorter.Tokens is a strict prefix of
// longer.Tokens within prefixAlpha extra tokens, folding shorter's
// probability mass into longer's via the zero-duration path.
//
// Ported from BeamTDTInfer.prefix_search, based on https://arxiv.org/pdf/1211.3711.pdf.
func (d *Decoder) prefixSearch(hyps []*Hypothesis, encoderFrame *tensors.Tensor, prefixAlpha int32) error {
	for i := 0; i < len(hyps)-1; i++ {
		longHyp := hyps[i]
		for j := i + 1; j < len(hyps); j++ {
			shortHyp := hyps[j]
			longLen := len(longHyp.Tokens)
			shortLen := len(shortHyp.Tokens)

			if !isPrefix(shortHyp.Tokens, longHyp.Tokens) || int32(longLen-shortLen) > prefixAlpha {
				continue
			}

			logp, durationLogp, err := d.jointLogProbs(encoderFrame, shortHyp.lastPredictorOutput())
			if err != nil {
				return err
			}
			delta := logp[longHyp.Tokens[shortLen]] + durationLogp[d.zeroDurationIdx]

			lmState := shortHyp.LMState
			if d.lm != nil {
				lmScore, next, err := d.lm.Score(lmState, longHyp.Tokens[shortLen])
				if err != nil {
					return err
				}
				delta += d.lm.Alpha() * lmScore
				lmState = next
			}

			for k := shortLen; k < longLen-1; k++ {
				logp, durationLogp, err := d.jointLogProbs(encoderFrame, longHyp.PredictorOutputs[k])
				if err != nil {
					return err
				}
				delta += logp[longHyp.Tokens[k+1]] + durationLogp[d.zeroDurationIdx]

				if d.lm != nil {
					lmScore, next, err := d.lm.Score(lmState, longHyp.Tokens[k+1])
					if err != nil {
						return err
					}
					delta += d.lm.Alpha() * lmScore
					lmState = next
				}
			}

			longHyp.Score = logAddExp(longHyp.Score, shortHyp.Score+delta)
		}
	}
	return nil
}
