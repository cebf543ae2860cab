// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package audio

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(n int, freq, rate float64) []float32 {
	x := make([]float32, n)
	for ii := range x {
		x[ii] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(ii)/rate))
	}
	return x
}

func TestWavRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sine.wav")
	samples := sineWave(800, 440, 8000)
	samples[10] = 3 // Clipped to 1.
	require.NoError(t, WriteWav(path, samples, 8000))

	clip, err := ReadWav(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, clip.SampleRate)
	require.Len(t, clip.Samples, len(samples))
	assert.InDelta(t, 0.1, clip.Duration(), 1e-9)
	assert.InDelta(t, 1.0, clip.Samples[10], 1e-3)
	for ii, v := range samples {
		if ii == 10 {
			continue
		}
		require.InDelta(t, v, clip.Samples[ii], 1e-3)
	}

	_, err = ReadWav(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	require.Error(t, WriteWav(path, samples, 0))
}

func TestResample(t *testing.T) {
	samples := sineWave(16000, 200, 16000)
	same, err := Resample(samples, 16000, 16000)
	require.NoError(t, err)
	assert.Equal(t, samples, same)

	down, err := Resample(samples, 16000, 8000)
	require.NoError(t, err)
	require.Len(t, down, 8000)
	// A 200Hz tone keeps its amplitude, away from the borders.
	var peak float32
	for _, v := range down[1000:7000] {
		peak = max(peak, v)
	}
	assert.InDelta(t, 0.5, peak, 0.05)

	_, err = Resample(samples, 0, 8000)
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	mean, std := MeanStd(x)
	assert.InDelta(t, 2.5, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(1.25), std, 1e-9)

	normalized := Normalize(x)
	mean, std = MeanStd(normalized)
	assert.InDelta(t, 0.0, mean, 1e-6)
	assert.InDelta(t, 1.0, std, 1e-6)
	assert.Equal(t, []float32{1, 2, 3, 4}, x, "input must not be modified")

	// Silence stays finite.
	for _, v := range Normalize(make([]float32, 5)) {
		assert.Zero(t, v)
	}
}

func TestEnergyAndScale(t *testing.T) {
	x := []float32{1, -2, 2}
	assert.InDelta(t, 9.0, Energy(x), 1e-9)
	Scale(x, 0.5)
	assert.Equal(t, []float32{0.5, -1, 1}, x)
}

func TestFitLength(t *testing.T) {
	x := []float32{1, 2, 3, 4, 5}
	assert.Equal(t, []float32{1, 2, 3}, FitLength(x, 3, nil))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 0, 0}, FitLength(x, 7, nil))

	rng := rand.New(rand.NewPCG(1, 2))
	seen := make(map[float32]bool)
	for range 100 {
		cropped := FitLength(x, 2, rng)
		require.Len(t, cropped, 2)
		assert.Equal(t, cropped[0]+1, cropped[1])
		seen[cropped[0]] = true
	}
	assert.Len(t, seen, 4)

	offset := CropOffset(len(x), 3, rng)
	assert.True(t, offset >= 0 && offset <= 2)
	assert.Equal(t, x[offset:offset+3], FitLengthAt(x, 3, offset))
	assert.Equal(t, []float32{0, 0}, FitLengthAt(x, 2, 10))
}
