// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/pkg/support/xslices"
)

// NormEpsilon used by the channel normalizations in this package.
const NormEpsilon = 1e-8

// KnownNorms are the normalization names accepted by Normalize.
var KnownNorms = []string{"gln", "cln", "ln", "bn"}

// ValidNorm returns whether name is one of KnownNorms.
func ValidNorm(name string) bool {
	for _, known := range KnownNorms {
		if name == known {
			return true
		}
	}
	return false
}

// Normalize applies the normalization selected by name to x shaped `[batch, channels, ...]`:
//
//   - "gln": GlobalLayerNorm.
//   - "cln": CumulativeLayerNorm.
//   - "ln": ChannelGroupNorm, a group normalization with a single group.
//   - "bn": batch normalization over the channels axis.
func Normalize(ctx *context.Context, name string, x *Node) *Node {
	switch name {
	case "gln":
		return GlobalLayerNorm(ctx, x)
	case "cln":
		return CumulativeLayerNorm(ctx, x)
	case "ln":
		return ChannelGroupNorm(ctx, x)
	case "bn":
		return batchnorm.New(ctx.In("bn"), x, 1).Done()
	}
	Panicf("unknown normalization %q, valid values are %q", name, KnownNorms)
	return nil
}

// normalizeChannels normalizes x over the given axes and applies a learned per-channel
// (axis 1) gain and offset.
func normalizeChannels(ctx *context.Context, x *Node, axes ...int) *Node {
	if x.Rank() < 3 {
		Panicf("channel normalization requires x shaped [batch, channels, ...], got %s", x.Shape())
	}
	g := x.Graph()
	channels := x.Shape().Dim(1)
	broadcastDims := xslices.SliceWithValue(x.Rank(), 1)
	broadcastDims[1] = channels
	varShape := shapes.Make(x.DType(), channels)
	gain := ctx.WithInitializer(initializers.One).VariableWithShape("gain", varShape).ValueGraph(g)
	offset := ctx.WithInitializer(initializers.Zero).VariableWithShape("offset", varShape).ValueGraph(g)

	mean := ReduceAndKeep(x, ReduceMean, axes...)
	centered := Sub(x, mean)
	variance := ReduceAndKeep(Square(centered), ReduceMean, axes...)
	normalized := Div(centered, Sqrt(AddScalar(variance, NormEpsilon)))
	return Add(Mul(normalized, Reshape(gain, broadcastDims...)), Reshape(offset, broadcastDims...))
}

// GlobalLayerNorm (gLN) normalizes each example of x over all its non-batch axes, followed
// by a learned per-channel gain and offset. x is shaped `[batch, channels, ...]`.
func GlobalLayerNorm(ctx *context.Context, x *Node) *Node {
	return normalizeChannels(ctx.In("gln"), x, xslices.Iota(1, x.Rank()-1)...)
}

// ChannelGroupNorm is a group normalization with one group ("ln"). The statistics are the same
// as GlobalLayerNorm's, but it has its own variables scope.
func ChannelGroupNorm(ctx *context.Context, x *Node) *Node {
	return normalizeChannels(ctx.In("group_norm"), x, xslices.Iota(1, x.Rank()-1)...)
}

// CumulativeLayerNorm (cLN) normalizes every time step (and chunk position) of x independently
// over the channels axis, with a learned per-channel gain and offset.
func CumulativeLayerNorm(ctx *context.Context, x *Node) *Node {
	return normalizeChannels(ctx.In("cln"), x, 1)
}

// FeatureLayerNorm normalizes x over its last axis, used on `[batch, sequence, features]` tensors
// inside the sequence models.
func FeatureLayerNorm(ctx *context.Context, x *Node, epsilon float64) *Node {
	return layers.LayerNormalization(ctx, x, -1).Epsilon(epsilon).Done()
}
