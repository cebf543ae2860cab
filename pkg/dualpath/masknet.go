// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dualpath

import (
	"fmt"
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/seplayers"
)

// MaskNetConfig configures the dual-path mask estimation network. Create it with NewMaskNet,
// configure it and call Done.
type MaskNetConfig struct {
	ctx                    *context.Context
	x                      *Node
	outChannels            int
	numSpeakers            int
	chunkSize              int
	numLayers              int
	norm                   string
	skipAroundIntra        bool
	linearLayer            bool
	useGlobalPositional    bool
	maxLength              int
	intraModel, interModel SequenceModelFn
}

// NewMaskNet creates the mask estimation network for the encoded mixture x shaped
// `[batch, channels, length]`.
//
// Defaults: 2 speakers, chunk size 200, 1 dual-path layer, "ln" normalization, skip
// connection around the intra path, linear layers after the sequence models, no global
// positional encoding and the number of inner channels equal to the input channels.
// The intra and inter sequence models must be set.
func NewMaskNet(ctx *context.Context, x *Node) *MaskNetConfig {
	return &MaskNetConfig{
		ctx:             ctx.In("masknet"),
		x:               x,
		outChannels:     x.Shape().Dim(1),
		numSpeakers:     2,
		chunkSize:       200,
		numLayers:       1,
		norm:            "ln",
		skipAroundIntra: true,
		linearLayer:     true,
		maxLength:       20000,
	}
}

// OutChannels sets the number of channels used inside the dual-path layers.
func (m *MaskNetConfig) OutChannels(channels int) *MaskNetConfig {
	m.outChannels = channels
	return m
}

// NumSpeakers sets the number of masks to estimate.
func (m *MaskNetConfig) NumSpeakers(n int) *MaskNetConfig {
	m.numSpeakers = n
	return m
}

// ChunkSize sets the chunk length K used by Segment. It must be even.
func (m *MaskNetConfig) ChunkSize(k int) *MaskNetConfig {
	m.chunkSize = k
	return m
}

// NumLayers sets the number of stacked dual computation blocks. Each has its own variables.
func (m *MaskNetConfig) NumLayers(n int) *MaskNetConfig {
	m.numLayers = n
	return m
}

// Norm selects the normalization, see seplayers.Normalize.
func (m *MaskNetConfig) Norm(name string) *MaskNetConfig {
	m.norm = name
	return m
}

// SkipAroundIntra sets the residual connection around the intra path of each block.
func (m *MaskNetConfig) SkipAroundIntra(skip bool) *MaskNetConfig {
	m.skipAroundIntra = skip
	return m
}

// LinearLayer sets whether a linear layer follows the sequence models of each block.
func (m *MaskNetConfig) LinearLayer(useLinear bool) *MaskNetConfig {
	m.linearLayer = useLinear
	return m
}

// UseGlobalPositional adds a sinusoidal positional encoding to the whole sequence before
// segmentation, for sequences up to maxLength steps.
func (m *MaskNetConfig) UseGlobalPositional(use bool, maxLength int) *MaskNetConfig {
	m.useGlobalPositional = use
	m.maxLength = maxLength
	return m
}

// Intra sets the model applied within each chunk.
func (m *MaskNetConfig) Intra(fn SequenceModelFn) *MaskNetConfig {
	m.intraModel = fn
	return m
}

// Inter sets the model applied across chunks.
func (m *MaskNetConfig) Inter(fn SequenceModelFn) *MaskNetConfig {
	m.interModel = fn
	return m
}

// Done builds the network and returns the masks shaped `[numSpeakers, batch, channels, length]`,
// all non-negative.
func (m *MaskNetConfig) Done() *Node {
	ctx := m.ctx
	x := m.x
	x.AssertRank(3)
	if m.numSpeakers <= 0 || m.numLayers <= 0 || m.outChannels <= 0 {
		Panicf("MaskNet: numSpeakers (%d), numLayers (%d) and outChannels (%d) must be > 0",
			m.numSpeakers, m.numLayers, m.outChannels)
	}
	batchSize, inChannels, length := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2)

	x = seplayers.Normalize(ctx.In("norm"), m.norm, x)
	x = seplayers.PointwiseConv(ctx.In("conv1d"), x, m.outChannels, false)
	if m.useGlobalPositional {
		if length > m.maxLength {
			Panicf("MaskNet: sequence of length %d is longer than the positional encoding max length %d",
				length, m.maxLength)
		}
		pe := seplayers.SinusoidalPositions(x.Graph(), x.DType(), length, m.outChannels)
		pe = InsertAxes(Transpose(pe, 0, 1), 0)
		x = Add(pe, MulScalar(x, math.Sqrt(float64(m.outChannels))))
	}

	chunks, gap := Segment(x, m.chunkSize)
	for layer := range m.numLayers {
		chunks = NewBlock(ctx.In(fmt.Sprintf("layer_%d", layer)), chunks, m.intraModel, m.interModel).
			Norm(m.norm).
			LinearLayer(m.linearLayer).
			SkipAroundIntra(m.skipAroundIntra).
			Done()
	}
	chunks = seplayers.PReLU(ctx, chunks)
	chunks = seplayers.PointwiseConv(ctx.In("conv2d"), chunks, m.outChannels*m.numSpeakers, true)
	chunkSize, numChunks := chunks.Shape().Dim(2), chunks.Shape().Dim(3)
	chunks = Reshape(chunks, batchSize*m.numSpeakers, m.outChannels, chunkSize, numChunks)
	x = OverlapAdd(chunks, gap)

	// Gated output: tanh(conv(x)) * sigmoid(conv(x)).
	x = Mul(
		Tanh(seplayers.PointwiseConv(ctx.In("output"), x, m.outChannels, true)),
		Sigmoid(seplayers.PointwiseConv(ctx.In("output_gate"), x, m.outChannels, true)))
	x = seplayers.PointwiseConv(ctx.In("end_conv1x1"), x, inChannels, false)
	x = Reshape(x, batchSize, m.numSpeakers, inChannels, length)
	x = activations.Relu(x)
	return Transpose(x, 0, 1)
}
