// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gomlx/sudormrf/pkg/audio"
)

// AudioLogger saves the first examples of a batch as WAV files, so one can listen to the
// separation progress:
//
//	<Dir>/<set>/step_<step>/ex<i>_mixture.wav
//	<Dir>/<set>/step_<step>/ex<i>_s<k>_est.wav
//	<Dir>/<set>/step_<step>/ex<i>_s<k>_ref.wav
type AudioLogger struct {
	Dir         string
	SampleRate  int
	MaxExamples int
}

// LogBatch writes the waveforms of the first MaxExamples examples.
// mixtures are indexed by [example][sample], estimates and references by [example][source][sample].
// All waveforms are peak normalized to 0.9 before writing.
func (l *AudioLogger) LogBatch(set string, step int, mixtures [][]float32, estimates, references [][][]float32) error {
	dir := filepath.Join(l.Dir, set, fmt.Sprintf("step_%d", step))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create audio log directory %q", dir)
	}
	numExamples := min(len(mixtures), l.MaxExamples)
	for ex := range numExamples {
		write := func(name string, samples []float32) error {
			return audio.WriteWav(filepath.Join(dir, fmt.Sprintf("ex%d_%s.wav", ex, name)), samples, l.SampleRate)
		}
		if err := write("mixture", peakNormalize(mixtures[ex])); err != nil {
			return err
		}
		if ex < len(estimates) {
			for k, est := range estimates[ex] {
				if err := write(fmt.Sprintf("s%d_est", k+1), peakNormalize(est)); err != nil {
					return err
				}
			}
		}
		if ex < len(references) {
			for k, ref := range references[ex] {
				if err := write(fmt.Sprintf("s%d_ref", k+1), peakNormalize(ref)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// peakNormalize scales x so its peak absolute value is 0.9. Silent inputs are returned as is.
func peakNormalize(x []float32) []float32 {
	var peak float32
	for _, v := range x {
		peak = max(peak, v, -v)
	}
	if peak == 0 {
		return x
	}
	scaled := make([]float32, len(x))
	for ii, v := range x {
		scaled[ii] = 0.9 * v / peak
	}
	return scaled
}
