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
	"context"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// defaultBeamSearch implements C6: frame-indexed expansion with joint
// (token, duration) top-k selection, duplicate suppression, and early
// termination per frame. Ported from BeamTDTInfer.default_beam_search.
func (d *Decoder) defaultBeamSearch(ctx context.Context, encoderOutput *tensors.Tensor, validLength int32) ([]*Hypothesis, error) {
	beam := min(d.cfg.BeamSize, d.vocabSize)
	beamK := min(beam, d.vocabSize-1)
	durationsBeamK := min(beam, len(d.durations))

	state, err := d.predictor.InitializeState(encoderOutput)
	if err != nil {
		return nil, err
	}
	cache := NewPredictorCache()

	keptHyps := []*Hypothesis{newSentinelHypothesis(d.blank, state)}

	for t := int32(0); t < validLength; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var hypsNow, hypsFuture []*Hypothesis
		for _, h := range keptHyps {
			if h.LastFrame == t {
				hypsNow = append(hypsNow, h)
			} else {
				hypsFuture = append(hypsFuture, h)
			}
		}

		for len(hypsNow) > 0 {
			maxIdx := indexOfMaxScore(hypsNow)
			maxHyp := hypsNow[maxIdx]
			hypsNow = append(hypsNow[:maxIdx], hypsNow[maxIdx+1:]...)

			encFrame, err := sliceEncoderFrame(encoderOutput, t)
			if err != nil {
				return nil, err
			}
			predOut, newState, err := d.predictor.ScoreHypothesis(maxHyp, cache)
			if err != nil {
				return nil, err
			}
			vocabLogp, durationLogp, err := d.jointLogProbs(encFrame, predOut)
			if err != nil {
				return nil, err
			}

			tokenTop := topK(vocabLogp, beamK, map[int]bool{int(d.blank): true})
			durTop := topK(durationLogp, durationsBeamK, nil)

			pairs := cartesianTopK(tokenTop, durTop, beamK)
			for _, pair := range pairs {
				duration := d.durationsF[pair.durationIdx]
				newScore := maxHyp.Score + pair.score
				newHyp := maxHyp.extendToken(pair.token, t, newScore, maxHyp.LastFrame+int32(duration), newState)
				if duration == 0 {
					hypsNow = append(hypsNow, newHyp)
				} else {
					hypsFuture = append(hypsFuture, newHyp)
				}
			}

			// Blank emissions always advance to a future frame and must not
			// carry zero duration.
			for _, dur := range durTop {
				durIdx := dur.index
				if durIdx == d.zeroDurationIdx {
					if len(durTop) == 1 {
						durIdx = d.minNonZeroDurIdx
					} else {
						continue
					}
				}
				newScore := maxHyp.Score + vocabLogp[d.blank] + durationLogp[durIdx]
				hypsFuture = append(hypsFuture, maxHyp.extendBlank(newScore, maxHyp.LastFrame+int32(d.durationsF[durIdx])))
			}

			hypsFuture = removeDuplicates(hypsFuture)

			if len(hypsNow) > 0 {
				sMax := maxScore(hypsNow)
				var keptMostProb []*Hypothesis
				for _, h := range hypsFuture {
					if h.Score > sMax {
						keptMostProb = append(keptMostProb, h)
					}
				}
				if len(keptMostProb) >= beam {
					hypsFuture = topByScore(keptMostProb, beam)
					break
				}
			} else {
				hypsFuture = topByScore(hypsFuture, beam)
			}
		}

		keptHyps = hypsFuture
		if d.progress != nil {
			d.progress(int(t), int(validLength))
		}
	}

	return keptHyps, nil
}

func indexOfMaxScore(hyps []*Hypothesis) int {
	best := 0
	for i, h := range hyps[1:] {
		if h.Score > hyps[best].Score {
			best = i + 1
		}
	}
	return best
}

func maxScore(hyps []*Hypothesis) float64 {
	best := hyps[0].Score
	for _, h := range hyps[1:] {
		if h.Score > best {
			best = h.Score
		}
	}
	return best
}

// cartesianTopK forms the Cartesian product of tokenTop and durationTop and
// returns the top-k pairs by summed log-probability, matching
// default_beam_search's `torch.cartesian_prod(...).sum(-1).topk(beam_k)`.
func cartesianTopK(tokenTop, durationTop []scoredIndex, k int) []expansionCandidate {
	all := make([]expansionCandidate, 0, len(tokenTop)*len(durationTop))
	for _, tok := range tokenTop {
		for _, dur := range durationTop {
			all = append(all, expansionCandidate{
				token:       int32(tok.index),
				durationIdx: dur.index,
				score:       tok.logp + dur.logp,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}
