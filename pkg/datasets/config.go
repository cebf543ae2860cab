// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math"

	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/sudormrf/pkg/config"
)

// Config of the datasets of an experiment.
type Config struct {
	// Names of the dataset used for each split: at most one per split.
	Train, Val, Test, TrainVal []string

	Task       string
	Fs         int
	TimeLength float64 // In seconds.
	ZeroPad    bool
	Normalize  bool
	OnlineMix  bool

	// NSamples limits the number of examples per split, 0 for no limit.
	NSamples map[Split]int

	BatchSize int
}

// ConfigFromContext reads the datasets configuration from the context hyperparameters.
func ConfigFromContext(ctx *context.Context) *Config {
	return &Config{
		Train:      nonEmpty(context.GetParamOr(ctx, ParamTrain, []string{})),
		Val:        nonEmpty(context.GetParamOr(ctx, ParamVal, []string{})),
		Test:       nonEmpty(context.GetParamOr(ctx, ParamTest, []string{})),
		TrainVal:   nonEmpty(context.GetParamOr(ctx, ParamTrainVal, []string{})),
		Task:       context.GetParamOr(ctx, ParamTask, "sep_clean"),
		Fs:         context.GetParamOr(ctx, ParamFs, 8000),
		TimeLength: context.GetParamOr(ctx, ParamTimeLength, 4.0),
		ZeroPad:    context.GetParamOr(ctx, ParamZeroPad, false),
		Normalize:  context.GetParamOr(ctx, ParamNormalize, false),
		OnlineMix:  context.GetParamOr(ctx, ParamOnlineMix, true),
		NSamples: map[Split]int{
			SplitTrain:    context.GetParamOr(ctx, ParamNTrain, 0),
			SplitVal:      context.GetParamOr(ctx, ParamNVal, 0),
			SplitTest:     context.GetParamOr(ctx, ParamNTest, 0),
			SplitTrainVal: context.GetParamOr(ctx, ParamNTrainVal, 0),
		},
		BatchSize: context.GetParamOr(ctx, ParamBatchSize, 4),
	}
}

// nonEmpty filters out empty names: "--set train=" yields a list with one empty string.
func nonEmpty(names []string) []string {
	var filtered []string
	for _, name := range names {
		if name != "" {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// Names returns the dataset names configured for the split.
func (c *Config) Names(split Split) []string {
	switch split {
	case SplitTrain:
		return c.Train
	case SplitVal:
		return c.Val
	case SplitTest:
		return c.Test
	case SplitTrainVal:
		return c.TrainVal
	}
	return nil
}

// NumSources returns the number of reference sources of the configured task.
func (c *Config) NumSources() int {
	return NumSources(c.Task)
}

// NumSamples returns the number of samples of each example.
func (c *Config) NumSamples() int {
	return int(math.Round(c.TimeLength * float64(c.Fs)))
}

// Validate the configuration. Errors wrap config.ErrInvalidConfig.
func (c *Config) Validate() error {
	if _, _, err := TaskDirs(c.Task); err != nil {
		return err
	}
	if c.Fs <= 0 {
		return config.Invalidf("sample rate %s=%d must be > 0", ParamFs, c.Fs)
	}
	if c.TimeLength <= 0 || c.NumSamples() <= 0 {
		return config.Invalidf("%s=%g must be > 0", ParamTimeLength, c.TimeLength)
	}
	if c.BatchSize <= 0 {
		return config.Invalidf("%s=%d must be > 0", ParamBatchSize, c.BatchSize)
	}
	for _, split := range Splits {
		names := c.Names(split)
		if len(names) > 1 {
			return config.Invalidf("multiple datasets %q given for split %q, only one dataset per split is supported",
				names, split)
		}
		if len(names) == 0 {
			continue
		}
		kind, err := ParseKind(names[0])
		if err != nil {
			return err
		}
		if kind == MUSDB && c.Fs != 8000 && c.Fs != 44100 {
			return config.Invalidf("sample rate %dHz not supported for MUSDB, use 8000 or 44100", c.Fs)
		}
		if _, err := TranslateSplit(kind, split, c.NSamples[split]); err != nil {
			return err
		}
		if c.NSamples[split] < 0 {
			return config.Invalidf("number of examples for split %q must be >= 0, got %d", split, c.NSamples[split])
		}
	}
	return nil
}
