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
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// sliceEncoderFrame extracts encoderOutput[:, t:t+1, :] as a standalone
// [1, 1, D] tensor. encoderOutput must be rank 3 with a leading batch
// dimension of 1, the shape spec.md §6 requires at the entry point.
func sliceEncoderFrame(encoderOutput *tensors.Tensor, t int32) (*tensors.Tensor, error) {
	shape := encoderOutput.Shape()
	if shape.Rank() != 3 {
		return nil, errors.Errorf("encoder_output must be rank 3 [1, T, D], got rank %d", shape.Rank())
	}
	numFrames := shape.Dimensions[1]
	featDim := shape.Dimensions[2]
	if int(t) < 0 || int(t) >= numFrames {
		return nil, errors.Errorf("frame index %d out of range [0, %d)", t, numFrames)
	}

	flat, err := extractFlatFloat64(encoderOutput)
	if err != nil {
		return nil, err
	}
	frame := make([]float32, featDim)
	offset := int(t) * featDim
	for i := 0; i < featDim; i++ {
		frame[i] = float32(flat[offset+i])
	}
	return tensors.FromFlatDataAndDimensions(frame, 1, 1, featDim), nil
}
