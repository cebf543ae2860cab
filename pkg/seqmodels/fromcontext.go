// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqmodels

import (
	"fmt"
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/dualpath"
)

// Hyperparameter names, prefixed by "<path>_" (e.g.: "intra_num_layers") when read by ConfigFromContext.
const (
	// ParamModel selects the sequence model: "transformer", "rnn" or "dptnet".
	ParamModel = "model"

	ParamNumLayers  = "num_layers"
	ParamNumHeads   = "num_heads"
	ParamFFNDim     = "ffn_dim"
	ParamDropout    = "dropout"
	ParamNormBefore = "norm_before"
	ParamPositional = "positional"

	// ParamRNNHidden is the number of LSTM units of the "rnn" and "dptnet" models.
	// A value <= 0 (the default) selects features units for "rnn" and 2*features for "dptnet".
	ParamRNNHidden = "rnn_hidden"

	// ParamRNNBidirectional is used by the "rnn" model.
	ParamRNNBidirectional = "rnn_bidirectional"
)

// KnownModels lists the values accepted by the ParamModel hyperparameter.
var KnownModels = []string{"transformer", "rnn", "dptnet"}

// Config describes one of the sequence models used in the intra or inter paths.
type Config struct {
	Model               string
	NumLayers, NumHeads int
	FFNDim              int
	Dropout             float64
	NormBefore          bool
	UsePositional       bool
	RNNHidden           int
	RNNBidirectional    bool
}

// DefaultConfig is the Sepformer transformer: 8 pre-norm layers with 8 heads, feed-forward
// dimension 1024 and positional encoding.
func DefaultConfig() Config {
	return Config{
		Model:            "transformer",
		NumLayers:        8,
		NumHeads:         8,
		FFNDim:           1024,
		Dropout:          0.1,
		NormBefore:       true,
		UsePositional:    true,
		RNNHidden:        0,
		RNNBidirectional: true,
	}
}

// ConfigFromContext reads the sequence model configuration from the hyperparameters prefixed
// by `prefix + "_"`, for instance "intra" or "inter". Missing values come from DefaultConfig.
func ConfigFromContext(ctx *context.Context, prefix string) Config {
	key := func(name string) string { return prefix + "_" + name }
	cfg := DefaultConfig()
	cfg.Model = context.GetParamOr(ctx, key(ParamModel), cfg.Model)
	cfg.NumLayers = context.GetParamOr(ctx, key(ParamNumLayers), cfg.NumLayers)
	cfg.NumHeads = context.GetParamOr(ctx, key(ParamNumHeads), cfg.NumHeads)
	cfg.FFNDim = context.GetParamOr(ctx, key(ParamFFNDim), cfg.FFNDim)
	cfg.Dropout = context.GetParamOr(ctx, key(ParamDropout), cfg.Dropout)
	cfg.NormBefore = context.GetParamOr(ctx, key(ParamNormBefore), cfg.NormBefore)
	cfg.UsePositional = context.GetParamOr(ctx, key(ParamPositional), cfg.UsePositional)
	cfg.RNNHidden = context.GetParamOr(ctx, key(ParamRNNHidden), cfg.RNNHidden)
	cfg.RNNBidirectional = context.GetParamOr(ctx, key(ParamRNNBidirectional), cfg.RNNBidirectional)
	return cfg
}

// Validate returns an error wrapping config.ErrInvalidConfig if the configuration can't be built.
// The number of features is only known when building the graph, and it is checked then.
func (cfg Config) Validate() error {
	if !slices.Contains(KnownModels, cfg.Model) {
		return config.Invalidf("unknown sequence model %q, valid values are %q", cfg.Model, KnownModels)
	}
	if cfg.NumLayers <= 0 {
		return config.Invalidf("sequence model %q requires a positive number of layers, got %d", cfg.Model, cfg.NumLayers)
	}
	if cfg.Model != "rnn" && cfg.NumHeads <= 0 {
		return config.Invalidf("sequence model %q requires a positive number of heads, got %d", cfg.Model, cfg.NumHeads)
	}
	if cfg.Model == "transformer" && cfg.FFNDim <= 0 {
		return config.Invalidf("transformer requires a positive feed-forward dimension, got %d", cfg.FFNDim)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return config.Invalidf("dropout must be in [0, 1), got %g", cfg.Dropout)
	}
	return nil
}

// Build returns the sequence model function. It panics if the configuration is invalid.
func (cfg Config) Build() dualpath.SequenceModelFn {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	switch cfg.Model {
	case "rnn":
		return func(ctx *context.Context, x *Node) *Node {
			hidden := cfg.RNNHidden
			if hidden <= 0 {
				hidden = x.Shape().Dim(-1)
			}
			return RNN(ctx, x, hidden).NumLayers(cfg.NumLayers).Bidirectional(cfg.RNNBidirectional).Done()
		}
	case "dptnet":
		return func(ctx *context.Context, x *Node) *Node {
			for layer := range cfg.NumLayers {
				x = DPTNet(ctx.In(fmt.Sprintf("layer_%d", layer)), x, cfg.NumHeads, cfg.RNNHidden)
			}
			return x
		}
	default:
		return func(ctx *context.Context, x *Node) *Node {
			return Transformer(ctx, x).
				NumLayers(cfg.NumLayers).
				NumHeads(cfg.NumHeads).
				FFNDim(cfg.FFNDim).
				Dropout(cfg.Dropout).
				NormBefore(cfg.NormBefore).
				UsePositional(cfg.UsePositional).
				Done()
		}
	}
}

// FromContext returns the sequence model configured by the hyperparameters prefixed
// by `prefix + "_"`. See ConfigFromContext.
//
// It panics if the configuration is invalid.
func FromContext(ctx *context.Context, prefix string) dualpath.SequenceModelFn {
	return ConfigFromContext(ctx, prefix).Build()
}
