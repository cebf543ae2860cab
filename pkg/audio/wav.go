// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package audio reads, writes and preprocesses waveforms on the host, before they are
// converted to tensors.
//
// Waveforms are mono []float32 with amplitudes nominally in [-1, 1].
package audio

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/wav"
)

// Clip is a mono waveform with its sample rate.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// Duration in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadWav reads a WAV file. Multi-channel files are down-mixed to mono by averaging the channels.
func ReadWav(path string) (Clip, error) {
	sound, err := wav.ReadSoundFile(path)
	if err != nil {
		return Clip{}, errors.Wrapf(err, "failed to read WAV file %q", path)
	}
	channels := sound.Channels()
	if channels <= 0 {
		return Clip{}, errors.Errorf("WAV file %q has %d channels", path, channels)
	}
	interleaved := sound.Samples()
	numFrames := len(interleaved) / channels
	samples := make([]float32, numFrames)
	for frame := range numFrames {
		var sum float64
		for ch := range channels {
			sum += float64(interleaved[frame*channels+ch])
		}
		samples[frame] = float32(sum / float64(channels))
	}
	return Clip{Samples: samples, SampleRate: sound.SampleRate()}, nil
}

// WriteWav writes the mono samples to a 16 bits PCM WAV file. Values outside [-1, 1] are clipped.
func WriteWav(path string, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.Errorf("invalid sample rate %d writing %q", sampleRate, path)
	}
	sound := wav.NewPCM16Sound(1, sampleRate)
	wavSamples := make([]wav.Sample, len(samples))
	for ii, v := range samples {
		wavSamples[ii] = wav.Sample(min(max(v, -1), 1))
	}
	sound.SetSamples(wavSamples)
	if err := wav.WriteFile(sound, path); err != nil {
		return errors.Wrapf(err, "failed to write WAV file %q", path)
	}
	return nil
}
