// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqmodels

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// RNNConfig configures a stack of LSTM layers. Create it with RNN, configure it and call Done.
type RNNConfig struct {
	ctx           *context.Context
	x             *Node
	hiddenSize    int
	numLayers     int
	bidirectional bool
}

// RNN creates a stack of LSTM layers with hiddenSize units over x shaped `[batch, sequence, features]`,
// followed by a linear projection back to the number of features.
//
// Defaults: 1 layer, bidirectional.
func RNN(ctx *context.Context, x *Node, hiddenSize int) *RNNConfig {
	return &RNNConfig{
		ctx:           ctx.In("rnn"),
		x:             x,
		hiddenSize:    hiddenSize,
		numLayers:     1,
		bidirectional: true,
	}
}

// NumLayers sets the number of stacked LSTM layers.
func (r *RNNConfig) NumLayers(n int) *RNNConfig {
	r.numLayers = n
	return r
}

// Bidirectional sets whether each LSTM layer runs in both directions, concatenating their outputs.
func (r *RNNConfig) Bidirectional(bidirectional bool) *RNNConfig {
	r.bidirectional = bidirectional
	return r
}

// Done builds the LSTM stack and the output projection.
func (r *RNNConfig) Done() *Node {
	x := r.x
	x.AssertRank(3)
	if r.hiddenSize <= 0 || r.numLayers <= 0 {
		Panicf("RNN: hiddenSize (%d) and numLayers (%d) must be > 0", r.hiddenSize, r.numLayers)
	}
	features := x.Shape().Dim(2)
	h := x
	for layer := range r.numLayers {
		h = lstmLayer(r.ctx.In(fmt.Sprintf("layer_%d", layer)), h, r.hiddenSize, r.bidirectional)
	}
	return layers.Dense(r.ctx.In("projection"), h, true, features)
}

// lstmLayer runs one LSTM layer over x shaped `[batch, sequence, features]` and returns
// `[batch, sequence, numDirections*hiddenSize]`.
func lstmLayer(ctx *context.Context, x *Node, hiddenSize int, bidirectional bool) *Node {
	batchSize, seqLen := x.Shape().Dim(0), x.Shape().Dim(1)
	direction := lstm.DirForward
	numDirections := 1
	if bidirectional {
		direction = lstm.DirBidirectional
		numDirections = 2
	}
	// allHidden: [sequence, numDirections, batch, hidden].
	allHidden, _, _ := lstm.New(ctx, x, hiddenSize).Direction(direction).Done()
	allHidden = TransposeAllAxes(allHidden, 2, 0, 1, 3)
	return Reshape(allHidden, batchSize, seqLen, numDirections*hiddenSize)
}
