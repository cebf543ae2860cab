// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/audio"
)

const smallModelSettings = "model=relu;fs=8000;sudormrf_out_channels=4;sudormrf_in_channels=8;" +
	"sudormrf_num_blocks=1;sudormrf_upsampling_depth=2;sudormrf_enc_num_basis=8"

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestExportAndSeparate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping model building test in short mode")
	}
	dir := t.TempDir()
	paramsPath := filepath.Join(dir, "params.bin")
	require.NoError(t, run(t, "params", "--set="+smallModelSettings, "--export="+paramsPath))
	assert.FileExists(t, paramsPath)

	mix := make([]float32, 4000)
	for ii := range mix {
		mix[ii] = float32(0.3*math.Sin(float64(ii)*0.05) + 0.2*math.Sin(float64(ii)*0.31))
	}
	// Input at a different sample rate is resampled.
	inputPath := filepath.Join(dir, "mixture.wav")
	require.NoError(t, audio.WriteWav(inputPath, mix, 16000))
	outDir := filepath.Join(dir, "out")
	require.NoError(t, run(t, "separate", "--set="+smallModelSettings, "--params="+paramsPath,
		"--output="+outDir, inputPath))
	for _, name := range []string{"mixture_s1.wav", "mixture_s2.wav"} {
		clip, err := audio.ReadWav(filepath.Join(outDir, name))
		require.NoError(t, err)
		assert.Equal(t, 8000, clip.SampleRate)
		assert.Len(t, clip.Samples, 2000)
	}

	// Without a checkpoint or params file.
	flagParams = ""
	assert.Error(t, run(t, "separate", "--set="+smallModelSettings, inputPath))
	assert.Error(t, run(t, "eval"))
}
