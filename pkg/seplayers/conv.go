// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// PointwiseConv is a 1x1 convolution over the channels axis (axis 1) of x, for any number
// of spatial axes: `[batch, channels, ...]` -> `[batch, outChannels, ...]`.
func PointwiseConv(ctx *context.Context, x *Node, outChannels int, useBias bool) *Node {
	if x.Rank() < 3 {
		Panicf("PointwiseConv requires x shaped [batch, channels, spatial...], got %s", x.Shape())
	}
	return layers.Convolution(ctx, x).
		Channels(outChannels).
		KernelSize(1).
		ChannelsAxis(images.ChannelsFirst).
		UseBias(useBias).
		Done()
}

// DepthwiseConv applies one `kernelSize` filter per channel to x shaped `[batch, channels, time]`,
// with zero padding (kernelSize-1)/2 on both sides and the given stride.
//
// The output length is `(time + 2*padding - kernelSize)/stride + 1`.
func DepthwiseConv(ctx *context.Context, x *Node, kernelSize, stride int, useBias bool) *Node {
	x.AssertRank(3)
	if kernelSize <= 0 || stride <= 0 {
		Panicf("DepthwiseConv: kernelSize (%d) and stride (%d) must be > 0", kernelSize, stride)
	}
	g := x.Graph()
	dtype := x.DType()
	channels := x.Shape().Dim(1)
	padding := (kernelSize - 1) / 2
	if x.Shape().Dim(-1)+2*padding < kernelSize {
		Panicf("DepthwiseConv: sequence of length %d is too short for kernel size %d", x.Shape().Dim(-1), kernelSize)
	}

	// Kernel shaped [outChannels, inChannels/groups, kernelSize], one group per channel.
	ctx = ctx.In("depthwise")
	kernel := ctx.VariableWithShape("weights", shapes.Make(dtype, channels, 1, kernelSize)).ValueGraph(g)
	output := Convolve(x, kernel).
		ChannelsAxis(images.ChannelsFirst).
		Strides(stride).
		ChannelGroupCount(channels).
		PaddingPerDim([][2]int{{padding, padding}}).
		Done()
	if useBias {
		bias := ctx.WithInitializer(initializers.Zero).VariableWithShape("bias", shapes.Make(dtype, channels)).ValueGraph(g)
		output = Add(output, Reshape(bias, 1, channels, 1))
	}
	return output
}
