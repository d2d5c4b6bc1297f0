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
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// yamlDecoderConfig mirrors DecoderConfig's fields for YAML (de)serialization,
// so config files can use lower_snake_case keys without tying DecoderConfig
// itself to struct tags it doesn't otherwise need.
type yamlDecoderConfig struct {
	BeamSize           int     `yaml:"beam_size"`
	SearchType         string  `yaml:"search_type"`
	ScoreNorm          bool    `yaml:"score_norm"`
	MAESNumSteps       int     `yaml:"maes_num_steps"`
	MAESPrefixAlpha    int32   `yaml:"maes_prefix_alpha"`
	MAESExpansionBeta  int     `yaml:"maes_expansion_beta"`
	MAESExpansionGamma float64 `yaml:"maes_expansion_gamma"`
	SoftmaxTemperature float64 `yaml:"softmax_temperature"`
	TokensType         string  `yaml:"tokens_type"`
	NgramLMAlpha       float64 `yaml:"ngram_lm_alpha"`
}

// LoadDecoderConfig reads a DecoderConfig from a YAML file, starting from
// DefaultDecoderConfig and overriding only the fields present in the file.
func LoadDecoderConfig(path string) (*DecoderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "read decoder config %q", path)
	}

	cfg := DefaultDecoderConfig()
	raw := yamlDecoderConfig{
		BeamSize:           cfg.BeamSize,
		SearchType:         string(cfg.SearchType),
		ScoreNorm:          cfg.ScoreNorm,
		MAESNumSteps:       cfg.MAESNumSteps,
		MAESPrefixAlpha:    cfg.MAESPrefixAlpha,
		MAESExpansionBeta:  cfg.MAESExpansionBeta,
		MAESExpansionGamma: cfg.MAESExpansionGamma,
		SoftmaxTemperature: cfg.SoftmaxTemperature,
		TokensType:         cfg.TokensType,
		NgramLMAlpha:       cfg.NgramLMAlpha,
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessagef(err, "parse decoder config %q", path)
	}

	cfg.BeamSize = raw.BeamSize
	cfg.SearchType = SearchType(raw.SearchType)
	cfg.ScoreNorm = raw.ScoreNorm
	cfg.MAESNumSteps = raw.MAESNumSteps
	cfg.MAESPrefixAlpha = raw.MAESPrefixAlpha
	cfg.MAESExpansionBeta = raw.MAESExpansionBeta
	cfg.MAESExpansionGamma = raw.MAESExpansionGamma
	cfg.SoftmaxTemperature = raw.SoftmaxTemperature
	cfg.TokensType = raw.TokensType
	cfg.NgramLMAlpha = raw.NgramLMAlpha
	return cfg, nil
}
