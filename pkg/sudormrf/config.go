// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sudormrf implements the SuDoRmRf ("SUccessive DOwnsampling and Resampling of
// Multi-Resolution Features") family of convolutional mask estimation networks for audio
// source separation, including the attentive variants.
//
// The models take waveforms shaped `[batch, time]` and return the estimated sources shaped
// `[batch, numSources, time]`.
package sudormrf

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/sudormrf/pkg/config"
)

// Variant selects the layout of the U-ConvBlocks stack.
type Variant int

const (
	// ReLU is the plain SuDoRmRf: no attention, ReLU masks.
	ReLU Variant = iota

	// Attention adds a multi-head self-attention layer at the coarsest resolution of every block.
	Attention

	// AttentionV2 only adds the attention to the second half of the blocks.
	AttentionV2

	// AttentionV3 is like Attention, with sinusoidal positional encodings added before each attention.
	AttentionV3
)

var variantNames = []string{"relu", "attention", "attention_v2", "attention_v3"}

// String implements fmt.Stringer.
func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return "unknown"
	}
	return variantNames[v]
}

// ParseVariant converts the variant name (case-insensitive) to a Variant.
func ParseVariant(name string) (Variant, error) {
	for ii, variantName := range variantNames {
		if strings.EqualFold(name, variantName) {
			return Variant(ii), nil
		}
	}
	return ReLU, config.Invalidf("unknown SuDoRmRf variant %q, valid values are %q", name, variantNames)
}

// IsAttentive returns whether the block at the given index (out of numBlocks) carries an attention layer.
func (v Variant) IsAttentive(blockIdx, numBlocks int) bool {
	switch v {
	case Attention, AttentionV3:
		return true
	case AttentionV2:
		return blockIdx >= numBlocks/2
	default:
		return false
	}
}

// Config holds the SuDoRmRf hyperparameters.
type Config struct {
	// OutChannels is the number of channels of the bottleneck, between the U-ConvBlocks.
	OutChannels int

	// InChannels is the number of channels inside each U-ConvBlock.
	InChannels int

	NumBlocks       int
	UpsamplingDepth int

	// EncKernelSize is the encoder/decoder kernel size; their stride is EncKernelSize/2.
	EncKernelSize int
	EncNumBasis   int
	NumSources    int

	// Attention configuration, only used by the attentive variants.
	AttDims    int
	AttHeads   int
	AttDropout float64
}

// DefaultConfig returns the configuration used in the SuDoRmRf experiments.
func DefaultConfig() Config {
	return Config{
		OutChannels:     256,
		InChannels:      512,
		NumBlocks:       16,
		UpsamplingDepth: 5,
		EncKernelSize:   21,
		EncNumBasis:     512,
		NumSources:      2,
		AttDims:         256,
		AttHeads:        4,
		AttDropout:      0.1,
	}
}

// Context parameter names read by ConfigFromContext.
const (
	ParamOutChannels     = "sudormrf_out_channels"
	ParamInChannels      = "sudormrf_in_channels"
	ParamNumBlocks       = "sudormrf_num_blocks"
	ParamUpsamplingDepth = "sudormrf_upsampling_depth"
	ParamEncKernelSize   = "sudormrf_enc_kernel_size"
	ParamEncNumBasis     = "sudormrf_enc_num_basis"
	ParamAttDims         = "sudormrf_att_dims"
	ParamAttHeads        = "sudormrf_att_n_heads"
	ParamAttDropout      = "sudormrf_att_dropout"
)

// ConfigFromContext reads the configuration from the context hyperparameters, using
// DefaultConfig for the missing ones.
func ConfigFromContext(ctx *context.Context, numSources int) Config {
	cfg := DefaultConfig()
	cfg.OutChannels = context.GetParamOr(ctx, ParamOutChannels, cfg.OutChannels)
	cfg.InChannels = context.GetParamOr(ctx, ParamInChannels, cfg.InChannels)
	cfg.NumBlocks = context.GetParamOr(ctx, ParamNumBlocks, cfg.NumBlocks)
	cfg.UpsamplingDepth = context.GetParamOr(ctx, ParamUpsamplingDepth, cfg.UpsamplingDepth)
	cfg.EncKernelSize = context.GetParamOr(ctx, ParamEncKernelSize, cfg.EncKernelSize)
	cfg.EncNumBasis = context.GetParamOr(ctx, ParamEncNumBasis, cfg.EncNumBasis)
	cfg.AttDims = context.GetParamOr(ctx, ParamAttDims, cfg.AttDims)
	cfg.AttHeads = context.GetParamOr(ctx, ParamAttHeads, cfg.AttHeads)
	cfg.AttDropout = context.GetParamOr(ctx, ParamAttDropout, cfg.AttDropout)
	cfg.NumSources = numSources
	return cfg
}

// Validate checks the configuration, and returns an error wrapping config.ErrInvalidConfig if it is invalid.
func (cfg Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"OutChannels", cfg.OutChannels},
		{"InChannels", cfg.InChannels},
		{"NumBlocks", cfg.NumBlocks},
		{"UpsamplingDepth", cfg.UpsamplingDepth},
		{"EncNumBasis", cfg.EncNumBasis},
		{"NumSources", cfg.NumSources},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return config.Invalidf("SuDoRmRf %s must be > 0, got %d", field.name, field.value)
		}
	}
	if cfg.EncKernelSize < 2 {
		return config.Invalidf("SuDoRmRf EncKernelSize must be >= 2, got %d", cfg.EncKernelSize)
	}
	if cfg.AttHeads <= 0 || cfg.AttDims <= 0 || cfg.AttDims%cfg.AttHeads != 0 {
		return config.Invalidf("SuDoRmRf AttDims (%d) must be a positive multiple of AttHeads (%d)",
			cfg.AttDims, cfg.AttHeads)
	}
	if cfg.AttDropout < 0 || cfg.AttDropout >= 1 {
		return config.Invalidf("SuDoRmRf AttDropout must be in [0, 1), got %g", cfg.AttDropout)
	}
	return nil
}

// MinSamples is the granularity of the input length: waveforms are zero padded to a multiple
// of it, so the encoded sequence can be halved UpsamplingDepth times.
func (cfg Config) MinSamples() int {
	return (cfg.EncKernelSize / 2) << cfg.UpsamplingDepth
}
