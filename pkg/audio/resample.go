// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package audio

import (
	"math"

	"github.com/pkg/errors"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from one sample rate to another with a high quality resampler.
// The output has exactly round(len(samples) * to / from) samples.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, errors.Errorf("invalid sample rates for resampling: from %d to %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return samples, nil
	}
	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create resampler from %dHz to %dHz", from, to)
	}
	input := make([]float64, len(samples))
	for ii, v := range samples {
		input[ii] = float64(v)
	}
	output, err := resampler.Process(input)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resample from %dHz to %dHz", from, to)
	}
	tail, err := resampler.Flush()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to flush resampler from %dHz to %dHz", from, to)
	}
	output = append(output, tail...)

	targetLen := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	resampled := make([]float32, targetLen)
	for ii := range min(targetLen, len(output)) {
		resampled[ii] = float32(output[ii])
	}
	return resampled, nil
}
