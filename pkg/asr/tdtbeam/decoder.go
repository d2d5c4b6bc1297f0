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

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SearchType selects the decoding algorithm a Decoder runs.
type SearchType string

const (
	// SearchDefault is the frame-synchronous beam search (C6).
	SearchDefault SearchType = "default"
	// SearchMAES is the Modified Adaptive Expansion Search (C7).
	SearchMAES SearchType = "maes"
)

// DecoderConfig holds the hyperparameters recognized by NewDecoder.
type DecoderConfig struct {
	// BeamSize is the width of the surviving frontier. Must be >= 1.
	BeamSize int

	// SearchType selects default or maes. greedy (beam_size==1) is a
	// documented alias this package does not implement as a distinct
	// algorithm; construct with BeamSize==1 and SearchDefault instead.
	SearchType SearchType

	// ScoreNorm enables length-normalized post-sort (C8).
	ScoreNorm bool

	// MAESNumSteps is the number of adaptive expansion rounds per frame.
	// Must be >= 2. Only used when SearchType==SearchMAES.
	MAESNumSteps int

	// MAESPrefixAlpha is the maximum prefix length gap in the prefix
	// corrector (C4). Must be >= 0.
	MAESPrefixAlpha int32

	// MAESExpansionBeta is the number of extra candidates above BeamSize
	// admitted during expansion selection.
	MAESExpansionBeta int

	// MAESExpansionGamma is the prune-by-value margin, in natural-log units.
	// Must be > 0.
	MAESExpansionGamma float64

	// SoftmaxTemperature divides joint logits before the two log-softmaxes.
	// Must be > 0.
	SoftmaxTemperature float64

	// TokensType selects the LM symbol encoding: "subword" or "char".
	TokensType string

	// NgramLMAlpha is the shallow-fusion weight applied to LM scores.
	NgramLMAlpha float64
}

// DefaultDecoderConfig returns a DecoderConfig with the same defaults as the
// reference TDT beam search (beam=4, default search, 2 expansion steps,
// gamma=2.3).
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		BeamSize:           4,
		SearchType:         SearchDefault,
		ScoreNorm:          true,
		MAESNumSteps:       2,
		MAESPrefixAlpha:    1,
		MAESExpansionBeta:  2,
		MAESExpansionGamma: 2.3,
		SoftmaxTemperature: 1.0,
		TokensType:         "subword",
	}
}

// Decoder is a TDT beam search decoder for a single model. It is safe to
// reuse across independent Decode calls but not to call concurrently:
// per §5 of the design, a decoder instance processes one utterance at a time.
type Decoder struct {
	predictor PredictorNetwork
	joint     JointNetwork
	lm        *LMAdapter

	blank      int32
	vocabSize  int
	durations  []int32
	durationsF []float64

	zeroDurationIdx    int // -1 if absent
	minNonZeroDurIdx   int
	cfg                DecoderConfig
	maxCandidates      int
	progress           func(frame, totalFrames int)
}

// NewDecoder constructs a Decoder. Construction fails on any misconfigured
// hyperparameter (spec.md §6/§7): BeamSize<1, an unsupported SearchType,
// SoftmaxTemperature<=0, or (maes only) MAESNumSteps<2, MAESPrefixAlpha<0 or
// VocabSize < BeamSize+MAESExpansionBeta.
func NewDecoder(predictor PredictorNetwork, joint JointNetwork, blank int32, vocabSize int, durations []int32, cfg *DecoderConfig) (*Decoder, error) {
	if predictor == nil {
		return nil, errNilPredictor
	}
	if joint == nil {
		return nil, errNilJoint
	}
	if cfg == nil {
		cfg = DefaultDecoderConfig()
	}
	if cfg.BeamSize < 1 {
		return nil, errors.New("beam search size cannot be less than 1")
	}
	switch cfg.SearchType {
	case SearchDefault:
	case SearchMAES:
		if cfg.MAESNumSteps < 2 {
			return nil, errors.New("maes_num_steps must be greater than 1")
		}
		if cfg.MAESPrefixAlpha < 0 {
			return nil, errors.New("maes_prefix_alpha must be a non-negative integer")
		}
		if vocabSize < cfg.BeamSize+cfg.MAESExpansionBeta {
			return nil, errors.Errorf(
				"beam_size (%d) + expansion_beta (%d) should be smaller or equal to vocabulary size (%d)",
				cfg.BeamSize, cfg.MAESExpansionBeta, vocabSize)
		}
	case "tsd", "alsd", "nsc":
		return nil, errors.Errorf("`%s` search has not been implemented", cfg.SearchType)
	default:
		return nil, errors.Errorf("the search type (%s) supplied is not supported; use one of (default, maes)", cfg.SearchType)
	}
	if cfg.SoftmaxTemperature <= 0 {
		return nil, errors.New("softmax_temperature must be > 0")
	}

	durationsF := make([]float64, len(durations))
	zeroIdx := -1
	minNonZero := 0
	minNonZeroVal := int32(-1)
	for i, d := range durations {
		durationsF[i] = float64(d)
		if d == 0 {
			zeroIdx = i
		} else if minNonZeroVal < 0 || d < minNonZeroVal {
			minNonZeroVal = d
			minNonZero = i
		}
	}

	maxCandidates := cfg.BeamSize
	if cfg.SearchType == SearchMAES {
		maxCandidates += cfg.MAESExpansionBeta
	}

	d := &Decoder{
		predictor:        predictor,
		joint:            joint,
		blank:            blank,
		vocabSize:        vocabSize,
		durations:        durations,
		durationsF:       durationsF,
		zeroDurationIdx:  zeroIdx,
		minNonZeroDurIdx: minNonZero,
		cfg:              *cfg,
		maxCandidates:    maxCandidates,
	}
	return d, nil
}

// WithNgramLM attaches an n-gram LM for shallow fusion. Only valid when
// SearchType==SearchMAES.
func (d *Decoder) WithNgramLM(lm NgramLM) (*Decoder, error) {
	if d.cfg.SearchType != SearchMAES {
		return nil, errors.New("for decoding with a language model the maes search strategy must be chosen")
	}
	if d.cfg.TokensType == "char" {
		d.lm = NewCharLMAdapter(lm, d.cfg.NgramLMAlpha)
	} else {
		d.lm = NewSubwordLMAdapter(lm, d.cfg.NgramLMAlpha)
	}
	return d, nil
}

// WithProgress registers a callback invoked after every decoded frame, useful
// for driving a progress indicator over long utterances.
func (d *Decoder) WithProgress(fn func(frame, totalFrames int)) *Decoder {
	d.progress = fn
	return d
}

// Decode runs beam search over one utterance's encoder output and returns the
// full N-best list, ordered best-first (length-normalized when the config's
// ScoreNorm is set). ctx is
// checked for cancellation between frames only; the search has no internal
// suspension points.
func (d *Decoder) Decode(ctx context.Context, encoderOutput *tensors.Tensor, validLength int32) ([]*Hypothesis, error) {
	id := uuid.NewString()
	klog.V(2).InfoS("decode", "id", id, "validLength", validLength, "searchType", d.cfg.SearchType)

	var (
		nbest []*Hypothesis
		err   error
	)
	switch d.cfg.SearchType {
	case SearchMAES:
		nbest, err = d.modifiedAdaptiveExpansionSearch(ctx, encoderOutput, validLength)
	default:
		nbest, err = d.defaultBeamSearch(ctx, encoderOutput, validLength)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "decode %s failed", id)
	}
	return sortNBest(nbest, d.cfg.ScoreNorm), nil
}

// DecodeBest is a convenience wrapper returning only the top hypothesis,
// matching the original implementation's return_best_hypothesis=True mode.
func (d *Decoder) DecodeBest(ctx context.Context, encoderOutput *tensors.Tensor, validLength int32) (*Hypothesis, error) {
	nbest, err := d.Decode(ctx, encoderOutput, validLength)
	if err != nil {
		return nil, err
	}
	if len(nbest) == 0 {
		return nil, errors.New("decode produced no hypotheses")
	}
	return nbest[0], nil
}

// jointLogProbs runs the joint network at one (encoder frame, predictor
// output) pair and returns the vocabulary and duration log-probabilities
// after temperature scaling.
func (d *Decoder) jointLogProbs(encoderFrame, predictorOut *tensors.Tensor) (vocabLogp, durationLogp []float64, err error) {
	logits, err := d.joint.Joint(encoderFrame, predictorOut)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "joint network call failed")
	}
	flat, err := extractFlatFloat64(logits)
	if err != nil {
		return nil, nil, err
	}
	nDur := len(d.durations)
	if len(flat) < nDur {
		return nil, nil, errors.Errorf("joint output has %d entries, expected at least %d duration logits", len(flat), nDur)
	}
	vocabPart := flat[:len(flat)-nDur]
	durPart := flat[len(flat)-nDur:]

	if d.cfg.SoftmaxTemperature != 1.0 {
		for i := range vocabPart {
			vocabPart[i] /= d.cfg.SoftmaxTemperature
		}
		for i := range durPart {
			durPart[i] /= d.cfg.SoftmaxTemperature
		}
	}

	return logSoftmax(vocabPart), logSoftmax(durPart), nil
}

// substituteBlankDuration enforces the "blank must not carry zero duration"
// invariant (spec.md §8 property 7): if durationIdx is the zero-duration
// index, it is replaced by the minimum non-zero duration index. The check is
// an explicit "index present" test (zeroDurationIdx>=0), not Go zero-value
// truthiness, so a duration table whose zero entry is literally at index 0
// is still handled correctly (open question #1 in SPEC_FULL.md §7).
func (d *Decoder) substituteBlankDuration(durationIdx int) int {
	if d.zeroDurationIdx >= 0 && durationIdx == d.zeroDurationIdx {
		return d.minNonZeroDurIdx
	}
	return durationIdx
}
