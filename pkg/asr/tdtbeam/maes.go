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
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// modifiedAdaptiveExpansionSearch implements C7: per-frame, up to
// maes_num_steps adaptive expansion rounds, with prefix-score correction and
// optional LM shallow fusion. Ported from
// BeamTDTInfer.modified_adaptive_expansion_search.
func (d *Decoder) modifiedAdaptiveExpansionSearch(ctx context.Context, encoderOutput *tensors.Tensor, validLength int32) ([]*Hypothesis, error) {
	beam := min(d.cfg.BeamSize, d.vocabSize)

	state0, err := d.predictor.InitializeState(encoderOutput)
	if err != nil {
		return nil, err
	}
	cache := NewPredictorCache()

	sentinel := newSentinelHypothesis(d.blank, state0)
	predOut0, newState0, err := d.predictor.ScoreHypothesis(sentinel, cache)
	if err != nil {
		return nil, err
	}
	sentinel.PredictorState = newState0
	sentinel.PredictorOutputs = []*tensors.Tensor{predOut0}
	if d.lm != nil {
		lmState0, err := d.lm.BeginState()
		if err != nil {
			return nil, err
		}
		sentinel.LMState = lmState0
	}

	keptHyps := []*Hypothesis{sentinel}
	var stateBuffer PredictorState

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

		if len(hypsNow) == 0 {
			keptHyps = hypsFuture
			continue
		}

		encFrame, err := sliceEncoderFrame(encoderOutput, t)
		if err != nil {
			return nil, err
		}

		if d.zeroDurationIdx >= 0 {
			hypsNow = sortByLengthDescending(hypsNow)
			if err := d.prefixSearch(hypsNow, encFrame, d.cfg.MAESPrefixAlpha); err != nil {
				return nil, err
			}
		}

		dupCheck := make(map[string]bool, len(hypsNow))
		for _, h := range hypsNow {
			dupCheck[tokensKey(h.Tokens)] = true
		}

		var listBlank, listNonBlankNonZero []*Hypothesis
		hyps := hypsNow

		for n := 0; n < d.cfg.MAESNumSteps; n++ {
			var roundExpand, roundNonBlankNonZero []*Hypothesis

			for _, hyp := range hyps {
				vocabLogp, durationLogp, err := d.jointLogProbs(encFrame, hyp.lastPredictorOutput())
				if err != nil {
					return nil, err
				}

				tokenTop := topK(vocabLogp, d.maxCandidates, nil)
				durTop := topK(durationLogp, 2, nil)
				candidates := selectKExpansions(hyp.Score, tokenTop, durTop, d.cfg.MAESExpansionGamma)

				for _, cand := range candidates {
					durationIdx := cand.durationIdx
					if cand.token == d.blank && durationIdx == d.zeroDurationIdx {
						durationIdx = d.minNonZeroDurIdx
					}
					lastFrame := hyp.LastFrame + int32(d.durationsF[durationIdx])

					if cand.token == d.blank {
						newHyp := hyp.extendBlank(cand.score, lastFrame)
						if d.lm != nil {
							newHyp.Score += d.lm.Alpha() * (vocabLogp[d.blank] + durationLogp[durationIdx])
						}
						listBlank = append(listBlank, newHyp)
						continue
					}

					tokens := append(hyp.cloneTokens(), cand.token)
					timesteps := append(hyp.cloneTimesteps(), t)
					newHyp := &Hypothesis{
						Score:            cand.score,
						Tokens:           tokens,
						Timesteps:        timesteps,
						LastFrame:        lastFrame,
						PredictorState:   hyp.PredictorState,
						PredictorOutputs: hyp.clonePredictorOutputs(),
						LMState:          hyp.LMState,
					}
					if d.lm != nil {
						lmScore, next, err := d.lm.Score(hyp.LMState, cand.token)
						if err != nil {
							return nil, err
						}
						newHyp.Score += d.lm.Alpha() * lmScore
						newHyp.LMState = next
					}

					if d.durationsF[durationIdx] == 0 && !dupCheck[tokensKey(newHyp.Tokens)] {
						roundExpand = append(roundExpand, newHyp)
					} else {
						roundNonBlankNonZero = append(roundNonBlankNonZero, newHyp)
					}
				}
			}

			hypsToUpdate := make([]*Hypothesis, 0, len(roundExpand)+len(roundNonBlankNonZero))
			hypsToUpdate = append(hypsToUpdate, roundExpand...)
			hypsToUpdate = append(hypsToUpdate, roundNonBlankNonZero...)
			if len(hypsToUpdate) > 0 {
				states := make([]PredictorState, len(hypsToUpdate))
				for i, h := range hypsToUpdate {
					states[i] = h.PredictorState
				}
				buf, err := d.predictor.BatchInitializeStates(stateBuffer, states)
				if err != nil {
					return nil, err
				}
				predOuts, newBuf, err := d.predictor.BatchScoreHypothesis(hypsToUpdate, cache, buf)
				if err != nil {
					return nil, err
				}
				for i, h := range hypsToUpdate {
					st, err := d.predictor.BatchSelectState(newBuf, i)
					if err != nil {
						return nil, err
					}
					h.appendPredictorOutput(predOuts[i], st)
				}
				stateBuffer = newBuf
			}

			listNonBlankNonZero = append(listNonBlankNonZero, roundNonBlankNonZero...)

			klog.V(4).InfoS("maes round", "frame", t, "round", n, "expand", len(roundExpand), "blank", len(listBlank), "nonblank", len(listNonBlankNonZero))

			if len(roundExpand) == 0 {
				kept := append(append([]*Hypothesis{}, hypsFuture...), listBlank...)
				kept = append(kept, listNonBlankNonZero...)
				hypsFuture = topByScore(removeDuplicates(kept), beam)
				break
			}

			if n < d.cfg.MAESNumSteps-1 {
				hyps = removeDuplicates(roundExpand)
				continue
			}

			// Last round: fold in the blank-emission score for every still-open
			// expansion, using the argmax duration (open question #2).
			for _, h := range roundExpand {
				vocabLogp, durationLogp, err := d.jointLogProbs(encFrame, h.lastPredictorOutput())
				if err != nil {
					return nil, err
				}
				durationIdx := argmax(durationLogp)
				if durationIdx == d.zeroDurationIdx {
					durationIdx = d.minNonZeroDurIdx
				}
				h.Score += vocabLogp[d.blank] + durationLogp[durationIdx]
				h.LastFrame += int32(d.durationsF[durationIdx])
				h.key = ""
			}

			kept := append(append([]*Hypothesis{}, hypsFuture...), listBlank...)
			kept = append(kept, roundExpand...)
			kept = append(kept, listNonBlankNonZero...)
			hypsFuture = topByScore(removeDuplicates(kept), beam)
		}

		keptHyps = hypsFuture
		if d.progress != nil {
			d.progress(int(t), int(validLength))
		}
	}

	return keptHyps, nil
}

// tokensKey renders a token sequence (independent of LastFrame) for the
// round-local duplication check (spec.md §4.7 step 3's dup_check snapshot).
func tokensKey(tokens []int32) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(strconv.Itoa(int(t)))
		b.WriteByte(',')
	}
	return b.String()
}
