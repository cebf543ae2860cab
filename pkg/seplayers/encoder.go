// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seplayers

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// EncoderConfig configures the learned analysis filterbank that maps a waveform to the latent
// sequence. Create it with Encoder, configure it and call Done.
type EncoderConfig struct {
	ctx                          *context.Context
	wav                          *Node
	numBasis, kernelSize, stride int
	padding                      int
	useBias, useReLU             bool
}

// Encoder creates a 1-D convolutional encoder with numBasis output channels and the given
// kernelSize. The stride defaults to kernelSize/2, with no padding, no bias and a ReLU
// at the end.
//
// wav can be shaped `[batch, time]` or `[batch, inChannels, time]`. The output is shaped
// `[batch, numBasis, frames]`, with `frames = (time + 2*padding - kernelSize)/stride + 1`.
func Encoder(ctx *context.Context, wav *Node, numBasis, kernelSize int) *EncoderConfig {
	return &EncoderConfig{
		ctx:        ctx.In("encoder"),
		wav:        wav,
		numBasis:   numBasis,
		kernelSize: kernelSize,
		stride:     max(kernelSize/2, 1),
		useReLU:    true,
	}
}

// Stride overrides the default stride of kernelSize/2.
func (e *EncoderConfig) Stride(stride int) *EncoderConfig {
	e.stride = stride
	return e
}

// Padding sets a symmetric zero padding applied to the waveform before the convolution.
// Default is 0.
func (e *EncoderConfig) Padding(padding int) *EncoderConfig {
	e.padding = padding
	return e
}

// UseBias adds a learned bias to the convolution. Default is false.
func (e *EncoderConfig) UseBias(useBias bool) *EncoderConfig {
	e.useBias = useBias
	return e
}

// UseReLU sets whether the encoder output goes through a ReLU. Default is true.
func (e *EncoderConfig) UseReLU(useReLU bool) *EncoderConfig {
	e.useReLU = useReLU
	return e
}

// Done builds the encoder graph.
func (e *EncoderConfig) Done() *Node {
	if e.numBasis <= 0 || e.kernelSize <= 0 || e.stride <= 0 {
		Panicf("Encoder: numBasis (%d), kernelSize (%d) and stride (%d) must all be > 0",
			e.numBasis, e.kernelSize, e.stride)
	}
	x := e.wav
	switch x.Rank() {
	case 2:
		x = InsertAxes(x, 1)
	case 3:
	default:
		Panicf("Encoder expects waveforms shaped [batch, time] or [batch, channels, time], got %s", x.Shape())
	}
	x = PadTime(x, e.padding, e.padding)
	if x.Shape().Dim(-1) < e.kernelSize {
		Panicf("Encoder: waveform of %d samples (with padding) is shorter than the kernel size %d",
			x.Shape().Dim(-1), e.kernelSize)
	}
	x = layers.Convolution(e.ctx, x).
		Channels(e.numBasis).
		KernelSize(e.kernelSize).
		Strides(e.stride).
		ChannelsAxis(images.ChannelsFirst).
		UseBias(e.useBias).
		NoPadding().
		Done()
	if e.useReLU {
		x = activations.Relu(x)
	}
	return x
}

// EncodedLength returns the number of frames produced by an encoder, without building any graph.
func EncodedLength(numSamples, kernelSize, stride, padding int) int {
	return (numSamples+2*padding-kernelSize)/stride + 1
}
