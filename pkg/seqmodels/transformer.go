// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package seqmodels implements the sequence models used inside the dual-path blocks:
// a transformer encoder, a (bidirectional) LSTM stack and the DPTNet block.
//
// All models take inputs shaped `[batch, sequence, features]` and return the same shape,
// so they can be used as dualpath.SequenceModelFn.
package seqmodels

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

const (
	// TransformerNormEpsilon is the epsilon of the layer normalizations of the transformer.
	TransformerNormEpsilon = 1e-6

	// MaxPositions is the longest sequence supported by the transformer positional encoding.
	MaxPositions = 2500
)

// TransformerConfig configures a transformer encoder. Create it with Transformer, configure it
// and call Done.
type TransformerConfig struct {
	ctx                       *context.Context
	x                         *Node
	numLayers, numHeads       int
	ffnDim                    int
	dropout                   float64
	normBefore, usePositional bool
}

// Transformer creates a transformer encoder over x shaped `[batch, sequence, features]`.
//
// Each layer is a multi-head self-attention followed by a position-wise feed-forward network
// (Dense -> ReLU -> Dropout -> Dense), both with residual connections and layer normalization.
// A final layer normalization is applied to the output.
//
// Defaults: 1 layer, 8 heads, feed-forward dimension 2048, dropout 0.1, normalization after
// the residual sums, no positional encoding.
func Transformer(ctx *context.Context, x *Node) *TransformerConfig {
	return &TransformerConfig{
		ctx:       ctx.In("transformer"),
		x:         x,
		numLayers: 1,
		numHeads:  8,
		ffnDim:    2048,
		dropout:   0.1,
	}
}

// NumLayers sets the number of encoder layers.
func (t *TransformerConfig) NumLayers(n int) *TransformerConfig {
	t.numLayers = n
	return t
}

// NumHeads sets the number of attention heads. It must divide the number of features.
func (t *TransformerConfig) NumHeads(n int) *TransformerConfig {
	t.numHeads = n
	return t
}

// FFNDim sets the hidden dimension of the feed-forward networks.
func (t *TransformerConfig) FFNDim(dim int) *TransformerConfig {
	t.ffnDim = dim
	return t
}

// Dropout sets the dropout rate used in the attention and the feed-forward networks.
// It is only active during training.
func (t *TransformerConfig) Dropout(rate float64) *TransformerConfig {
	t.dropout = rate
	return t
}

// NormBefore moves the layer normalizations before the attention and feed-forward networks
// (pre-norm), instead of after the residual sums.
func (t *TransformerConfig) NormBefore(normBefore bool) *TransformerConfig {
	t.normBefore = normBefore
	return t
}

// UsePositional adds a sinusoidal positional encoding to the input.
func (t *TransformerConfig) UsePositional(usePositional bool) *TransformerConfig {
	t.usePositional = usePositional
	return t
}

// Done builds the transformer encoder.
func (t *TransformerConfig) Done() *Node {
	ctx := t.ctx
	x := t.x
	x.AssertRank(3)
	seqLen, dModel := x.Shape().Dim(1), x.Shape().Dim(2)
	if t.numHeads <= 0 || dModel%t.numHeads != 0 {
		Panicf("Transformer: number of heads %d must divide the number of features %d", t.numHeads, dModel)
	}
	if t.usePositional {
		if seqLen > MaxPositions {
			Panicf("Transformer: sequence length %d larger than the max positional encoding length %d",
				seqLen, MaxPositions)
		}
		pe := seplayers.SinusoidalPositions(x.Graph(), x.DType(), seqLen, dModel)
		x = Add(x, ExpandAxes(pe, 0))
	}

	for layer := range t.numLayers {
		layerCtx := ctx.In(fmt.Sprintf("layer_%d", layer))

		src := x
		if t.normBefore {
			src = seplayers.FeatureLayerNorm(layerCtx.In("norm1"), x, TransformerNormEpsilon)
		}
		attn := attention.SelfAttention(layerCtx.In("attn"), src, t.numHeads, dModel/t.numHeads).
			Dropout(t.dropout).
			Done()
		x = Add(x, t.applyDropout(layerCtx.In("attn_dropout"), attn))
		if !t.normBefore {
			x = seplayers.FeatureLayerNorm(layerCtx.In("norm1"), x, TransformerNormEpsilon)
		}

		src = x
		if t.normBefore {
			src = seplayers.FeatureLayerNorm(layerCtx.In("norm2"), x, TransformerNormEpsilon)
		}
		ff := layers.Dense(layerCtx.In("ff1"), src, true, t.ffnDim)
		ff = activations.Relu(ff)
		ff = t.applyDropout(layerCtx.In("ff_dropout"), ff)
		ff = layers.Dense(layerCtx.In("ff2"), ff, true, dModel)
		x = Add(x, t.applyDropout(layerCtx.In("ff2_dropout"), ff))
		if !t.normBefore {
			x = seplayers.FeatureLayerNorm(layerCtx.In("norm2"), x, TransformerNormEpsilon)
		}
	}
	return seplayers.FeatureLayerNorm(ctx.In("final_norm"), x, TransformerNormEpsilon)
}

func (t *TransformerConfig) applyDropout(ctx *context.Context, x *Node) *Node {
	if t.dropout <= 0 {
		return x
	}
	return layers.Dropout(ctx, x, Scalar(x.Graph(), x.DType(), t.dropout))
}
