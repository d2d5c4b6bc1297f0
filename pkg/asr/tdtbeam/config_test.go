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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoder.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}
	return path
}

func TestLoadDecoderConfigOverridesPresentFields(t *testing.T) {
	path := writeConfigFile(t, `
beam_size: 8
search_type: maes
maes_expansion_gamma: 5.0
`)

	cfg, err := LoadDecoderConfig(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.BeamSize)
	require.Equal(t, SearchMAES, cfg.SearchType)
	require.Equal(t, 5.0, cfg.MAESExpansionGamma)
}

// TestLoadDecoderConfigKeepsDefaultsForAbsentFields exercises yaml.v3's
// partial-unmarshal behavior: keys absent from the document leave the
// pre-populated struct field (seeded from DefaultDecoderConfig) untouched.
func TestLoadDecoderConfigKeepsDefaultsForAbsentFields(t *testing.T) {
	path := writeConfigFile(t, `beam_size: 8`)

	cfg, err := LoadDecoderConfig(path)
	if err != nil {
		t.Fatalf("LoadDecoderConfig failed: %v", err)
	}
	want := DefaultDecoderConfig()
	if cfg.SearchType != want.SearchType {
		t.Errorf("SearchType = %v, want default %v", cfg.SearchType, want.SearchType)
	}
	if cfg.ScoreNorm != want.ScoreNorm {
		t.Errorf("ScoreNorm = %v, want default %v", cfg.ScoreNorm, want.ScoreNorm)
	}
	if cfg.MAESNumSteps != want.MAESNumSteps {
		t.Errorf("MAESNumSteps = %d, want default %d", cfg.MAESNumSteps, want.MAESNumSteps)
	}
	if cfg.MAESExpansionGamma != want.MAESExpansionGamma {
		t.Errorf("MAESExpansionGamma = %v, want default %v", cfg.MAESExpansionGamma, want.MAESExpansionGamma)
	}
	if cfg.SoftmaxTemperature != want.SoftmaxTemperature {
		t.Errorf("SoftmaxTemperature = %v, want default %v", cfg.SoftmaxTemperature, want.SoftmaxTemperature)
	}
	if cfg.TokensType != want.TokensType {
		t.Errorf("TokensType = %q, want default %q", cfg.TokensType, want.TokensType)
	}
}

func TestLoadDecoderConfigMissingFile(t *testing.T) {
	if _, err := LoadDecoderConfig(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadDecoderConfigInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "beam_size: [this is not a valid int\n")
	if _, err := LoadDecoderConfig(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
