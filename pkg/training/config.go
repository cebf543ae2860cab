// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package training runs the separation experiments: it trains a model with the permutation invariant
// SI-SDR loss, decays the learning rate on a fixed schedule, evaluates the SI-SDR improvement on the
// validation sets at the end of every epoch and reports the metrics.
package training

import (
	"math"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"

	"github.com/gomlx/sudormrf/pkg/config"
)

// Hyperparameters read from the context. See models.CreateDefaultContext for their defaults.
const (
	ParamNumEpochs = "n_epochs"

	// ParamDivideLRBy is the factor the learning rate is divided by, every ParamReduceLREvery epochs.
	ParamDivideLRBy = "divide_lr_by"

	// ParamReduceLREvery is the number of epochs between learning rate reductions. 0 disables the decay.
	ParamReduceLREvery = "reduce_lr_every"

	// ParamClipGradNorm is the maximum global norm of the gradients. 0 disables clipping.
	ParamClipGradNorm = "clip_grad_norm"

	// ParamNumCheckpoints is the number of checkpoints to keep.
	ParamNumCheckpoints = "num_checkpoints"

	// ParamAudioLogExamples is the number of examples of the first batch of each validation set saved
	// as audio files, when audio logging is enabled.
	ParamAudioLogExamples = "audio_log_examples"

	// ParamExperimentID is set with a new unique id when an experiment is first created, and kept with the
	// checkpoints.
	ParamExperimentID = "experiment_id"
)

// Config of the training schedule.
type Config struct {
	NumEpochs        int
	LearningRate     float64
	DivideLRBy       float64
	ReduceLREvery    int
	ClipGradNorm     float64
	NumCheckpoints   int
	AudioLogExamples int
}

// ConfigFromContext reads the training configuration from the context hyperparameters.
func ConfigFromContext(ctx *context.Context) *Config {
	return &Config{
		NumEpochs:        context.GetParamOr(ctx, ParamNumEpochs, 500),
		LearningRate:     context.GetParamOr(ctx, optimizers.ParamLearningRate, 1e-3),
		DivideLRBy:       context.GetParamOr(ctx, ParamDivideLRBy, 3.0),
		ReduceLREvery:    context.GetParamOr(ctx, ParamReduceLREvery, 50),
		ClipGradNorm:     context.GetParamOr(ctx, ParamClipGradNorm, 5.0),
		NumCheckpoints:   context.GetParamOr(ctx, ParamNumCheckpoints, 3),
		AudioLogExamples: context.GetParamOr(ctx, ParamAudioLogExamples, 2),
	}
}

// Validate the configuration. Errors wrap config.ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.NumEpochs < 0:
		return config.Invalidf("%s=%d must be >= 0", ParamNumEpochs, c.NumEpochs)
	case c.LearningRate <= 0:
		return config.Invalidf("%s=%g must be > 0", optimizers.ParamLearningRate, c.LearningRate)
	case c.ReduceLREvery < 0:
		return config.Invalidf("%s=%d must be >= 0", ParamReduceLREvery, c.ReduceLREvery)
	case c.ReduceLREvery > 0 && c.DivideLRBy <= 0:
		return config.Invalidf("%s=%g must be > 0", ParamDivideLRBy, c.DivideLRBy)
	case c.ClipGradNorm < 0:
		return config.Invalidf("%s=%g must be >= 0 (0 disables it)", ParamClipGradNorm, c.ClipGradNorm)
	case c.NumCheckpoints < 1:
		return config.Invalidf("%s=%d must be >= 1", ParamNumCheckpoints, c.NumCheckpoints)
	case c.AudioLogExamples < 0:
		return config.Invalidf("%s=%d must be >= 0", ParamAudioLogExamples, c.AudioLogExamples)
	}
	return nil
}

// LearningRateAt returns the learning rate used while training epoch (starting from 0).
//
// The learning rate is divided by DivideLRBy at the end of every epoch e where e is a multiple of
// ReduceLREvery, with the exponent given by e/ReduceLREvery. The first reduction (e=0) is a no-op,
// so epochs 0 to ReduceLREvery use the initial rate and the first reduction applies to epoch
// ReduceLREvery+1.
func (c *Config) LearningRateAt(epoch int) float64 {
	if c.ReduceLREvery <= 0 || epoch <= 0 {
		return c.LearningRate
	}
	reductions := (epoch - 1) / c.ReduceLREvery
	return c.LearningRate / math.Pow(c.DivideLRBy, float64(reductions))
}
