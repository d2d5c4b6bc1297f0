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
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

func TestDefaultDecoderConfigValues(t *testing.T) {
	cfg := DefaultDecoderConfig()
	if cfg.BeamSize != 4 {
		t.Errorf("BeamSize = %d, want 4", cfg.BeamSize)
	}
	if cfg.SearchType != SearchDefault {
		t.Errorf("SearchType = %v, want %v", cfg.SearchType, SearchDefault)
	}
	if !cfg.ScoreNorm {
		t.Error("ScoreNorm should default to true")
	}
	if cfg.MAESNumSteps != 2 {
		t.Errorf("MAESNumSteps = %d, want 2", cfg.MAESNumSteps)
	}
	if cfg.MAESExpansionGamma != 2.3 {
		t.Errorf("MAESExpansionGamma = %v, want 2.3", cfg.MAESExpansionGamma)
	}
	if cfg.SoftmaxTemperature != 1.0 {
		t.Errorf("SoftmaxTemperature = %v, want 1.0", cfg.SoftmaxTemperature)
	}
}

// TestNewDecoderValidation covers spec.md §8 property 8 and the rest of
// NewDecoder's constructor-time hyperparameter checks.
func TestNewDecoderValidation(t *testing.T) {
	base := func() *DecoderConfig {
		cfg := DefaultDecoderConfig()
		cfg.SearchType = SearchMAES
		return cfg
	}

	tests := []struct {
		name      string
		vocabSize int
		mutate    func(*DecoderConfig)
		wantErr   bool
	}{
		{"beam size zero", 10, func(c *DecoderConfig) { c.BeamSize = 0 }, true},
		{"maes num steps too small", 10, func(c *DecoderConfig) { c.MAESNumSteps = 1 }, true},
		{"maes prefix alpha negative", 10, func(c *DecoderConfig) { c.MAESPrefixAlpha = -1 }, true},
		{"vocab smaller than beam+beta", 3, func(c *DecoderConfig) {}, true},
		{"softmax temperature zero", 10, func(c *DecoderConfig) { c.SoftmaxTemperature = 0 }, true},
		{"unsupported search type", 10, func(c *DecoderConfig) { c.SearchType = "tsd" }, true},
		{"unknown search type", 10, func(c *DecoderConfig) { c.SearchType = "bogus" }, true},
		{"valid maes config", 10, func(c *DecoderConfig) {}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			_, err := NewDecoder(fakePredictor{}, &constantJoint{row: make([]float64, tc.vocabSize+len(cfg.trailingDurations()))}, 0, tc.vocabSize, cfg.trailingDurations(), cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

// trailingDurations is a tiny test-only helper giving every case in
// TestNewDecoderValidation a consistent 2-entry duration table.
func (c *DecoderConfig) trailingDurations() []int32 {
	return []int32{0, 1}
}

func TestNewDecoderRejectsNilDependencies(t *testing.T) {
	cfg := DefaultDecoderConfig()
	if _, err := NewDecoder(nil, &constantJoint{row: []float64{0, 0, 0}}, 0, 2, []int32{1}, cfg); err == nil {
		t.Fatal("expected error for nil predictor")
	}
	if _, err := NewDecoder(fakePredictor{}, nil, 0, 2, []int32{1}, cfg); err == nil {
		t.Fatal("expected error for nil joint")
	}
}

func TestWithNgramLMRequiresMAES(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	d, err := NewDecoder(fakePredictor{}, &constantJoint{row: []float64{0, 0, 0}}, 0, 2, []int32{1}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if _, err := d.WithNgramLM(&fakeNgramLM{log10Score: -1.0}); err == nil {
		t.Fatal("expected WithNgramLM to reject a non-maes decoder")
	}
}

func TestSubstituteBlankDuration(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	d, err := NewDecoder(fakePredictor{}, &constantJoint{row: []float64{0, 0, 0, 0}}, 0, 2, []int32{0, 5, 1}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if d.zeroDurationIdx != 0 {
		t.Fatalf("expected zeroDurationIdx=0, got %d", d.zeroDurationIdx)
	}
	if d.minNonZeroDurIdx != 2 {
		t.Fatalf("expected minNonZeroDurIdx=2 (duration value 1), got %d", d.minNonZeroDurIdx)
	}
	if got := d.substituteBlankDuration(0); got != 2 {
		t.Fatalf("substituteBlankDuration(zeroIdx) = %d, want 2", got)
	}
	if got := d.substituteBlankDuration(1); got != 1 {
		t.Fatalf("substituteBlankDuration(non-zero idx) = %d, want unchanged 1", got)
	}
}

func TestSubstituteBlankDurationNoZeroEntry(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	d, err := NewDecoder(fakePredictor{}, &constantJoint{row: []float64{0, 0, 0}}, 0, 2, []int32{1, 2}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if d.zeroDurationIdx != -1 {
		t.Fatalf("expected zeroDurationIdx=-1 when no duration is zero, got %d", d.zeroDurationIdx)
	}
	if got := d.substituteBlankDuration(0); got != 0 {
		t.Fatalf("substituteBlankDuration should be a no-op without a zero duration entry, got %d", got)
	}
}

func TestJointLogProbsSplitsVocabAndDuration(t *testing.T) {
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	// 3 vocab entries + 2 duration entries.
	d, err := NewDecoder(fakePredictor{}, &constantJoint{row: []float64{1, 2, 3, -1, -2}}, 0, 3, []int32{0, 1}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	vocabLogp, durationLogp, err := d.jointLogProbs(nil, nil)
	if err != nil {
		t.Fatalf("jointLogProbs failed: %v", err)
	}
	if len(vocabLogp) != 3 {
		t.Fatalf("expected 3 vocab log-probs, got %d", len(vocabLogp))
	}
	if len(durationLogp) != 2 {
		t.Fatalf("expected 2 duration log-probs, got %d", len(durationLogp))
	}
	// Both halves are each a valid log-probability distribution.
	assertSumsToOne(t, vocabLogp)
	assertSumsToOne(t, durationLogp)
}

func assertSumsToOne(t *testing.T, logp []float64) {
	t.Helper()
	var sum float64
	for _, lp := range logp {
		sum += math.Exp(lp)
	}
	if sum < 0.999999 || sum > 1.000001 {
		t.Fatalf("exp(logp) should sum to ~1, got %v from %v", sum, logp)
	}
}

// newUnambiguousDefaultSearchDecoder builds a two-frame, two-symbol (blank=0, token=1), single
// non-zero-duration scenario with an overwhelming per-frame margin so the
// surviving beam is unambiguous: frame 0 favors emitting token 1, frame 1
// favors blank, terminating the utterance with Tokens=[0,1].
func newUnambiguousDefaultSearchDecoder(t *testing.T) (*Decoder, *tensors.Tensor) {
	t.Helper()
	rows := [][]float64{
		{-1000, 0, 0}, // frame 0: token 1 overwhelmingly likely
		{0, -1000, 0}, // frame 1: blank overwhelmingly likely
	}
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	cfg.BeamSize = 1
	d, err := NewDecoder(fakePredictor{}, &frameTableJoint{rows: rows}, 0, 2, []int32{1}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	return d, newFrameEncoderOutput(2)
}

func TestDefaultBeamSearchUnambiguousScenario(t *testing.T) {
	d, encoderOutput := newUnambiguousDefaultSearchDecoder(t)

	nbest, err := d.Decode(context.Background(), encoderOutput, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(nbest) == 0 {
		t.Fatal("Decode returned no hypotheses")
	}
	best := nbest[0]
	if len(best.Tokens) != 2 || best.Tokens[0] != 0 || best.Tokens[1] != 1 {
		t.Fatalf("expected Tokens=[0,1], got %v", best.Tokens)
	}
	if len(best.Timesteps) != 2 || best.Timesteps[0] != -1 || best.Timesteps[1] != 0 {
		t.Fatalf("expected Timesteps=[-1,0], got %v", best.Timesteps)
	}
}

// TestDecodeIsDeterministic covers spec.md §8 property 4: repeated Decode
// calls with the same inputs produce identical output.
func TestDecodeIsDeterministic(t *testing.T) {
	d, encoderOutput := newUnambiguousDefaultSearchDecoder(t)

	first, err := d.Decode(context.Background(), encoderOutput, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	second, err := d.Decode(context.Background(), encoderOutput, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("hypothesis counts differ across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Score != second[i].Score {
			t.Fatalf("index %d: scores differ across calls: %v vs %v", i, first[i].Score, second[i].Score)
		}
		if len(first[i].Tokens) != len(second[i].Tokens) {
			t.Fatalf("index %d: token lengths differ across calls", i)
		}
		for j := range first[i].Tokens {
			if first[i].Tokens[j] != second[i].Tokens[j] {
				t.Fatalf("index %d token %d: differs across calls: %v vs %v", i, j, first[i].Tokens[j], second[i].Tokens[j])
			}
		}
	}
}

// TestDefaultBeamSearchRespectsBeamWidth covers spec.md §8 property 6: the
// returned frontier never exceeds the configured beam size.
func TestDefaultBeamSearchRespectsBeamWidth(t *testing.T) {
	rows := [][]float64{
		{-1, -1, -1, 0, 0},
		{-1, -1, -1, 0, 0},
	}
	cfg := DefaultDecoderConfig()
	cfg.SearchType = SearchDefault
	cfg.BeamSize = 2
	d, err := NewDecoder(fakePredictor{}, &frameTableJoint{rows: rows}, 0, 3, []int32{0, 1}, cfg)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	nbest, err := d.Decode(context.Background(), newFrameEncoderOutput(2), 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(nbest) > cfg.BeamSize {
		t.Fatalf("returned %d hypotheses, exceeds beam size %d", len(nbest), cfg.BeamSize)
	}
}

func TestDecodeBestReturnsTopHypothesis(t *testing.T) {
	d, encoderOutput := newUnambiguousDefaultSearchDecoder(t)
	best, err := d.DecodeBest(context.Background(), encoderOutput, 2)
	if err != nil {
		t.Fatalf("DecodeBest failed: %v", err)
	}
	nbest, err := d.Decode(context.Background(), encoderOutput, 2)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if best.Score != nbest[0].Score {
		t.Fatalf("DecodeBest score %v does not match Decode's top hypothesis score %v", best.Score, nbest[0].Score)
	}
}

func TestDecodeRespectsContextCancellation(t *testing.T) {
	d, encoderOutput := newUnambiguousDefaultSearchDecoder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Decode(ctx, encoderOutput, 2); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}
