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
	"strconv"
)

// invLog10E converts a log10 score to natural log: ln(x) = log10(x) / log10(e).
const invLog10E = 1.0 / math.Log10(math.E)

// defaultTokenOffset is the subword-mode codepoint offset historically used
// to train KenLM-style ARPA grammars over BPE ids (so that every id maps to
// a single printable rune rather than colliding with ASCII control ranges).
const defaultTokenOffset = 100

// LMAdapter presents a uniform contract over an NgramLM: integer token ids in,
// natural-log scores out, regardless of whether the underlying LM was trained
// over subword or character symbols.
type LMAdapter struct {
	lm          NgramLM
	tokenOffset int32
	alpha       float64
}

// NewSubwordLMAdapter wraps lm for a subword-tokenized vocabulary: token id i
// is mapped to the single-codepoint symbol rune(i + 100), matching the
// DEFAULT_TOKEN_OFFSET convention used when training the n-gram grammar.
func NewSubwordLMAdapter(lm NgramLM, alpha float64) *LMAdapter {
	return &LMAdapter{lm: lm, tokenOffset: defaultTokenOffset, alpha: alpha}
}

// NewCharLMAdapter wraps lm for a character vocabulary: token ids are
// stringified directly, with no offset.
func NewCharLMAdapter(lm NgramLM, alpha float64) *LMAdapter {
	return &LMAdapter{lm: lm, tokenOffset: 0, alpha: alpha}
}

// Alpha returns the shallow-fusion weight to apply to scores from Score.
func (a *LMAdapter) Alpha() float64 {
	return a.alpha
}

// BeginState returns the LM's sentence-begin state.
func (a *LMAdapter) BeginState() (LMState, error) {
	return a.lm.BeginSentence()
}

// Score scores token under state and returns the natural-log probability
// together with the next LM state.
func (a *LMAdapter) Score(state LMState, token int32) (float64, LMState, error) {
	symbol := a.symbol(token)
	log10Score, next, err := a.lm.BaseScore(state, symbol)
	if err != nil {
		return 0, nil, err
	}
	return log10Score * invLog10E, next, nil
}

func (a *LMAdapter) symbol(token int32) string {
	if a.tokenOffset != 0 {
		return string(rune(token + a.tokenOffset))
	}
	return strconv.Itoa(int(token))
}
