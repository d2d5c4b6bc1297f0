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

// Command tdtbeam-decode runs TDT beam search decoding against an ONNX
// Runtime-backed predictor/joint network pair and prints the resulting
// N-best list.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/tdtbeam/pkg/asr/onnxrt"
	"github.com/gomlx/tdtbeam/pkg/asr/tdtbeam"
)

func main() {
	klog.InitFlags(nil)
	var (
		configPath  = flag.String("config", "", "decoder config YAML (optional; defaults applied otherwise)")
		ortLib      = flag.String("ort-lib", "", "path to the onnxruntime shared library")
		decoderPath = flag.String("decoder", "", "path to the decoder (prediction network) ONNX model (required)")
		jointPath   = flag.String("joint", "", "path to the joiner (joint network) ONNX model (required)")
		encoderPath = flag.String("encoder-output", "", "path to a raw float32 encoder output dump (required)")
		hiddenDim   = flag.Int64("hidden-dim", 640, "predictor LSTM hidden width")
		blank       = flag.Int64("blank", 0, "blank token id")
		vocabSize   = flag.Int("vocab-size", 1024, "vocabulary size, excluding duration logits")
		nbest       = flag.Int("nbest", 1, "number of hypotheses to print")
	)
	flag.Parse()

	if *decoderPath == "" || *jointPath == "" || *encoderPath == "" {
		fmt.Fprintln(os.Stderr, "usage: tdtbeam-decode -decoder=... -joint=... -encoder-output=... [flags]")
		os.Exit(2)
	}

	runID := uuid.NewString()
	klog.InfoS("starting decode", "run", runID)

	if err := run(*configPath, *ortLib, *decoderPath, *jointPath, *encoderPath, *hiddenDim, int32(*blank), *vocabSize, *nbest); err != nil {
		klog.ErrorS(err, "decode failed", "run", runID)
		os.Exit(1)
	}
}

func run(configPath, ortLib, decoderPath, jointPath, encoderPath string, hiddenDim int64, blank int32, vocabSize, nbest int) error {
	cfg := tdtbeam.DefaultDecoderConfig()
	if configPath != "" {
		loaded, err := tdtbeam.LoadDecoderConfig(configPath)
		if err != nil {
			return errors.WithMessage(err, "load decoder config")
		}
		cfg = loaded
	}

	backend, err := onnxrt.Load(onnxrt.Config{
		SharedLibraryPath:  ortLib,
		DecoderPath:        decoderPath,
		DecoderInputNames:  []string{"targets", "target_length", "states.1", "onnx::Slice_3"},
		DecoderOutputNames: []string{"outputs", "prednet_lengths", "states", "162"},
		JointPath:          jointPath,
		JointInputNames:    []string{"encoder_outputs", "decoder_outputs"},
		JointOutputNames:   []string{"outputs"},
		HiddenDim:          hiddenDim,
	})
	if err != nil {
		return errors.WithMessage(err, "load onnxruntime backend")
	}
	defer backend.Close()

	encoderOutput, validLength, err := loadEncoderOutput(encoderPath)
	if err != nil {
		return errors.WithMessage(err, "load encoder output")
	}

	durations := []int32{0, 1, 2, 3, 4}
	decoder, err := tdtbeam.NewDecoder(backend, backend, blank, vocabSize, durations, cfg)
	if err != nil {
		return errors.WithMessage(err, "construct decoder")
	}

	bar := progressbar.NewOptions(int(validLength),
		progressbar.OptionSetDescription("decoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)
	decoder = decoder.WithProgress(func(frame, total int) {
		_ = bar.Set(frame)
	})

	start := time.Now()
	hyps, err := decoder.Decode(context.Background(), encoderOutput, validLength)
	if err != nil {
		return errors.WithMessage(err, "decode")
	}
	elapsed := time.Since(start)

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	scoreStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	fmt.Println(headerStyle.Render(fmt.Sprintf("decoded %s frames in %s", humanize.Comma(int64(validLength)), elapsed.Round(time.Millisecond))))
	for i, h := range hyps {
		if i >= nbest {
			break
		}
		fmt.Printf("%d. %s tokens=%v\n", i+1, scoreStyle.Render(fmt.Sprintf("score=%.4f", h.Score)), h.Tokens)
	}
	return nil
}

// loadEncoderOutput reads a raw little-endian float32 dump shaped
// [1, T, D] with T and D given by the first eight bytes (two uint32s).
func loadEncoderOutput(path string) (*tensors.Tensor, int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 8 {
		return nil, 0, errors.New("encoder output file too short for header")
	}
	numFrames := int(binary.LittleEndian.Uint32(data[0:4]))
	featDim := int(binary.LittleEndian.Uint32(data[4:8]))
	want := 8 + numFrames*featDim*4
	if len(data) < want {
		return nil, 0, errors.Errorf("encoder output file has %d bytes, expected at least %d", len(data), want)
	}

	flat := make([]float32, numFrames*featDim)
	for i := range flat {
		off := 8 + i*4
		flat[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return tensors.FromFlatDataAndDimensions(flat, 1, numFrames, featDim), int32(numFrames), nil
}
