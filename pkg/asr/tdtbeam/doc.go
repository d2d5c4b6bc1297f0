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

// Package tdtbeam implements beam search decoding for Token-and-Duration
// Transducer (TDT) speech models.
//
// A Decoder is constructed with the model's blank id, vocabulary size,
// duration table, and a PredictorNetwork/JointNetwork pair, then decodes
// one utterance per Decode call into an N-best list of Hypothesis values.
//
// Two search algorithms are supported: the default frame-synchronous beam
// search, and the Modified Adaptive Expansion Search (mAES), which additionally
// supports shallow fusion with an external n-gram language model.
//
// Example usage:
//
//	decoder, err := tdtbeam.NewDecoder(predictor, joint, blankID, vocabSize, durations, cfg)
//	nbest, err := decoder.Decode(ctx, encoderOutput, validLength)
package tdtbeam
