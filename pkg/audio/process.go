// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package audio

import (
	"math"
	"math/rand/v2"
)

// NormalizeEpsilon is added to the standard deviation by Normalize.
const NormalizeEpsilon = 1e-8

// MeanStd returns the mean and the (population) standard deviation of x.
func MeanStd(x []float32) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	for _, v := range x {
		mean += float64(v)
	}
	mean /= float64(len(x))
	for _, v := range x {
		d := float64(v) - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(x)))
	return
}

// Normalize returns a new slice with x normalized to zero mean and unit variance:
// (x - mean) / (std + NormalizeEpsilon).
func Normalize(x []float32) []float32 {
	mean, std := MeanStd(x)
	normalized := make([]float32, len(x))
	for ii, v := range x {
		normalized[ii] = float32((float64(v) - mean) / (std + NormalizeEpsilon))
	}
	return normalized
}

// Energy returns the sum of the squares of x.
func Energy(x []float32) float64 {
	var energy float64
	for _, v := range x {
		energy += float64(v) * float64(v)
	}
	return energy
}

// Scale multiplies x by factor in place.
func Scale(x []float32, factor float64) {
	for ii, v := range x {
		x[ii] = float32(float64(v) * factor)
	}
}

// FitLength returns a copy of x with exactly n samples: longer inputs are cropped, at a random
// offset if rng is not nil (at the start otherwise), and shorter inputs are zero padded at the end.
func FitLength(x []float32, n int, rng *rand.Rand) []float32 {
	return FitLengthAt(x, n, CropOffset(len(x), n, rng))
}

// CropOffset returns the offset used by FitLength, so the same crop can be applied to
// several aligned waveforms (a mixture and its sources).
func CropOffset(length, n int, rng *rand.Rand) int {
	if length <= n || rng == nil {
		return 0
	}
	return rng.IntN(length - n + 1)
}

// FitLengthAt is like FitLength, but cropping at the given offset.
func FitLengthAt(x []float32, n, offset int) []float32 {
	fitted := make([]float32, n)
	if offset < len(x) {
		copy(fitted, x[offset:])
	}
	return fitted
}
