// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// DecoderConfig configures the learned synthesis filterbank (a transposed 1-D convolution
// with one output channel) that maps latent sequences back to waveforms.
// Create it with Decoder, configure it and call Done.
type DecoderConfig struct {
	ctx                *context.Context
	x                  *Node
	kernelSize, stride int
	crop               int
	perSource          bool
}

// Decoder creates the transposed convolution decoder for x shaped `[batch, channels, frames]`
// or `[batch, sources, channels, frames]`.
//
// The stride defaults to kernelSize/2. The output is shaped `[batch, samples]` (or
// `[batch, sources, samples]`) with `samples = (frames-1)*stride + kernelSize - 2*crop`.
//
// It is implemented as a per-frame linear projection to kernelSize samples followed by
// an overlap-add of the frames, which is exactly a transposed convolution without bias.
func Decoder(ctx *context.Context, x *Node, kernelSize int) *DecoderConfig {
	return &DecoderConfig{
		ctx:        ctx.In("decoder"),
		x:          x,
		kernelSize: kernelSize,
		stride:     max(kernelSize/2, 1),
	}
}

// Stride overrides the default stride of kernelSize/2.
func (d *DecoderConfig) Stride(stride int) *DecoderConfig {
	d.stride = stride
	return d
}

// Crop removes `crop` samples from both ends of the output, the equivalent of the
// transposed convolution "padding" argument. Default is 0.
func (d *DecoderConfig) Crop(crop int) *DecoderConfig {
	d.crop = crop
	return d
}

// PerSourceWeights makes each source use its own filterbank: the grouped transposed
// convolution used by SuDoRmRf. It requires x shaped `[batch, sources, channels, frames]`.
// By default all sources share the same filterbank.
func (d *DecoderConfig) PerSourceWeights(perSource bool) *DecoderConfig {
	d.perSource = perSource
	return d
}

// Done builds the decoder graph.
func (d *DecoderConfig) Done() *Node {
	x := d.x
	g := x.Graph()
	dtype := x.DType()
	if x.Rank() != 3 && x.Rank() != 4 {
		Panicf("Decoder expects x shaped [batch, channels, frames] or [batch, sources, channels, frames], got %s",
			x.Shape())
	}
	if d.perSource && x.Rank() != 4 {
		Panicf("Decoder.PerSourceWeights requires x shaped [batch, sources, channels, frames], got %s", x.Shape())
	}
	channels := x.Shape().Dim(-2)
	var frames *Node
	if d.perSource {
		numSources := x.Shape().Dim(1)
		weights := d.ctx.VariableWithShape("weights", shapes.Make(dtype, numSources, channels, d.kernelSize)).ValueGraph(g)
		frames = Einsum("bscf,sck->bsfk", x, weights)
	} else {
		weights := d.ctx.VariableWithShape("weights", shapes.Make(dtype, channels, d.kernelSize)).ValueGraph(g)
		if x.Rank() == 3 {
			frames = Einsum("bcf,ck->bfk", x, weights)
		} else {
			frames = Einsum("bscf,ck->bsfk", x, weights)
		}
	}
	output := OverlapAddFrames(frames, d.stride)
	if d.crop > 0 {
		length := output.Shape().Dim(-1)
		if length <= 2*d.crop {
			Panicf("Decoder: cropping %d samples from both ends of a %d samples output", d.crop, length)
		}
		output = SliceAxis(output, -1, AxisRange(d.crop, length-d.crop))
	}
	return output
}

// OverlapAddFrames merges frames shaped `[..., numFrames, frameLength]`, placed `hop` samples
// apart, into a signal shaped `[..., (numFrames-1)*hop + frameLength]`, summing where frames overlap.
func OverlapAddFrames(frames *Node, hop int) *Node {
	if frames.Rank() < 2 {
		Panicf("OverlapAddFrames requires frames shaped [..., numFrames, frameLength], got %s", frames.Shape())
	}
	if hop <= 0 {
		Panicf("OverlapAddFrames: hop must be > 0, got %d", hop)
	}
	numFrames := frames.Shape().Dim(-2)
	frameLength := frames.Shape().Dim(-1)
	outputLength := (numFrames-1)*hop + frameLength
	prefixDims := slices.Clone(frames.Shape().Dimensions[:frames.Rank()-2])

	// Split each frame into `blocks` hop-sized blocks: block m of frame f lands on output block f+m.
	blocks := (frameLength + hop - 1) / hop
	frames = PadTime(frames, 0, blocks*hop-frameLength)
	frames = Reshape(frames, append(slices.Clone(prefixDims), numFrames, blocks, hop)...)
	blockAxis := len(prefixDims) + 1
	var output *Node
	for m := range blocks {
		// part: [..., numFrames, hop] -> [..., numFrames+blocks-1, hop]
		part := Squeeze(SliceAxis(frames, blockAxis, AxisElem(m)), blockAxis)
		part = PadAxisWithZeros(part, blockAxis-1, m, blocks-1-m)
		if output == nil {
			output = part
		} else {
			output = Add(output, part)
		}
	}
	output = Reshape(output, append(prefixDims, (numFrames+blocks-1)*hop)...)
	return SliceAxis(output, -1, AxisRange(0, outputLength))
}
