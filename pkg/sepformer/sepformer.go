// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sepformer implements the Sepformer separation model (https://arxiv.org/abs/2010.13154):
// a convolutional encoder, a dual-path transformer mask network and a transposed convolution decoder.
package sepformer

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/dualpath"
	"github.com/gomlx/sudormrf/pkg/seplayers"
	"github.com/gomlx/sudormrf/pkg/seqmodels"
)

// Config holds the Sepformer hyperparameters.
type Config struct {
	// EncKernelSize of the encoder and decoder, with stride EncKernelSize/2.
	EncKernelSize int

	// EncChannels is the number of encoder filters, also the number of features of the
	// intra and inter sequence models.
	EncChannels int

	ChunkSize   int
	NumLayers   int
	Norm        string
	ExtraLinear bool
	ExtraSkip   bool
	NumSpeakers int

	Intra, Inter seqmodels.Config
}

// DefaultConfig returns the Sepformer default configuration.
func DefaultConfig() Config {
	return Config{
		EncKernelSize: 16,
		EncChannels:   256,
		ChunkSize:     250,
		NumLayers:     2,
		Norm:          "ln",
		ExtraLinear:   false,
		ExtraSkip:     true,
		NumSpeakers:   2,
		Intra:         seqmodels.DefaultConfig(),
		Inter:         seqmodels.DefaultConfig(),
	}
}

// RecipeConfig returns the configuration used in the separation experiments: 4 transformer
// layers per path with feed-forward dimension 2048.
func RecipeConfig() Config {
	cfg := DefaultConfig()
	for _, path := range []*seqmodels.Config{&cfg.Intra, &cfg.Inter} {
		path.NumLayers = 4
		path.FFNDim = 2048
	}
	return cfg
}

// Context parameter names read by ConfigFromContext. The intra and inter sequence models
// are configured with the seqmodels parameters prefixed by "sepformer_intra_" and "sepformer_inter_".
const (
	ParamEncKernelSize = "sepformer_enc_kernel_size"
	ParamEncChannels   = "sepformer_enc_channels"
	ParamChunkSize     = "sepformer_chunk_size"
	ParamNumLayers     = "sepformer_num_layers"
	ParamNorm          = "sepformer_norm"
	ParamExtraLinear   = "sepformer_extra_linear"
	ParamExtraSkip     = "sepformer_extra_skip"

	IntraPrefix = "sepformer_intra"
	InterPrefix = "sepformer_inter"
)

// ConfigFromContext reads the configuration from the context hyperparameters, using
// DefaultConfig for the missing ones.
func ConfigFromContext(ctx *context.Context, numSpeakers int) Config {
	cfg := DefaultConfig()
	cfg.EncKernelSize = context.GetParamOr(ctx, ParamEncKernelSize, cfg.EncKernelSize)
	cfg.EncChannels = context.GetParamOr(ctx, ParamEncChannels, cfg.EncChannels)
	cfg.ChunkSize = context.GetParamOr(ctx, ParamChunkSize, cfg.ChunkSize)
	cfg.NumLayers = context.GetParamOr(ctx, ParamNumLayers, cfg.NumLayers)
	cfg.Norm = context.GetParamOr(ctx, ParamNorm, cfg.Norm)
	cfg.ExtraLinear = context.GetParamOr(ctx, ParamExtraLinear, cfg.ExtraLinear)
	cfg.ExtraSkip = context.GetParamOr(ctx, ParamExtraSkip, cfg.ExtraSkip)
	cfg.NumSpeakers = numSpeakers
	cfg.Intra = seqmodels.ConfigFromContext(ctx, IntraPrefix)
	cfg.Inter = seqmodels.ConfigFromContext(ctx, InterPrefix)
	return cfg
}

// Validate checks the configuration, and returns an error wrapping config.ErrInvalidConfig if it is invalid.
func (cfg Config) Validate() error {
	if cfg.EncKernelSize < 2 {
		return config.Invalidf("Sepformer EncKernelSize must be >= 2, got %d", cfg.EncKernelSize)
	}
	if cfg.EncChannels <= 0 || cfg.NumLayers <= 0 || cfg.NumSpeakers <= 0 {
		return config.Invalidf("Sepformer EncChannels (%d), NumLayers (%d) and NumSpeakers (%d) must be > 0",
			cfg.EncChannels, cfg.NumLayers, cfg.NumSpeakers)
	}
	if err := dualpath.ValidateChunkSize(cfg.ChunkSize); err != nil {
		return err
	}
	if !seplayers.ValidNorm(cfg.Norm) {
		return config.Invalidf("Sepformer norm %q is not one of %q", cfg.Norm, seplayers.KnownNorms)
	}
	for _, path := range []struct {
		name string
		cfg  seqmodels.Config
	}{{"intra", cfg.Intra}, {"inter", cfg.Inter}} {
		if err := path.cfg.Validate(); err != nil {
			return config.Invalidf("Sepformer %s model: %v", path.name, err)
		}
		if path.cfg.Model != "rnn" && cfg.EncChannels%path.cfg.NumHeads != 0 {
			return config.Invalidf("Sepformer %s model: %d heads don't divide %d channels",
				path.name, path.cfg.NumHeads, cfg.EncChannels)
		}
	}
	return nil
}

// Model builds the Sepformer separation graph for the mixture wav shaped `[batch, time]`
// (or `[batch, 1, time]`) and returns the estimated sources shaped `[batch, cfg.NumSpeakers, time]`.
//
// It panics if cfg is invalid.
func Model(ctx *context.Context, cfg Config, wav *Node) *Node {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if wav.Rank() == 3 {
		if wav.Shape().Dim(1) != 1 {
			Panicf("Sepformer takes a single channel mixture, got shape %s", wav.Shape())
		}
		wav = Squeeze(wav, 1)
	}
	wav.AssertRank(2)
	ctx = ctx.In("sepformer")
	numSamples := wav.Shape().Dim(-1)

	encoded := seplayers.Encoder(ctx, wav, cfg.EncChannels, cfg.EncKernelSize).Done() // [batch, channels, frames]
	masks := dualpath.NewMaskNet(ctx, encoded).
		NumSpeakers(cfg.NumSpeakers).
		ChunkSize(cfg.ChunkSize).
		NumLayers(cfg.NumLayers).
		Norm(cfg.Norm).
		LinearLayer(cfg.ExtraLinear).
		SkipAroundIntra(cfg.ExtraSkip).
		Intra(cfg.Intra.Build()).
		Inter(cfg.Inter.Build()).
		Done() // [speakers, batch, channels, frames]
	masked := Transpose(Mul(masks, InsertAxes(encoded, 0)), 0, 1)
	sources := seplayers.Decoder(ctx, masked, cfg.EncKernelSize).Done() // [batch, speakers, samples]
	return seplayers.PadOrTrim(sources, numSamples)
}
