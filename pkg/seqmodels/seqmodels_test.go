// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package seqmodels

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/config"

	_ "github.com/gomlx/gomlx/backends/default"
)

func inputSequence(g *Graph) *Node {
	return Sin(MulScalar(IotaFull(g, shapes.Make(dtypes.Float32, 2, 5, 8)), 0.1))
}

func requireFinite(t *testing.T, got *tensors.Tensor) {
	t.Helper()
	for _, v := range tensors.MustCopyFlatData[float32](got) {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "got non-finite value %v", v)
	}
}

func TestTransformer(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, normBefore := range []bool{false, true} {
		for _, positional := range []bool{false, true} {
			t.Run(fmt.Sprintf("normBefore=%v,positional=%v", normBefore, positional), func(t *testing.T) {
				ctx := context.New()
				got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
					return Transformer(ctx, inputSequence(g)).
						NumLayers(2).
						NumHeads(2).
						FFNDim(16).
						NormBefore(normBefore).
						UsePositional(positional).
						Done()
				})
				assert.Equal(t, []int{2, 5, 8}, got.Shape().Dimensions)
				requireFinite(t, got)
				assert.NotNil(t, ctx.GetVariableByScopeAndName("/transformer/layer_1/ff2/dense", "weights"))
			})
		}
	}
	require.Panics(t, func() {
		_ = context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			return Transformer(ctx, inputSequence(g)).NumHeads(3).Done()
		})
	})
}

func TestRNN(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, bidirectional := range []bool{false, true} {
		got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
			return RNN(ctx, inputSequence(g), 6).NumLayers(2).Bidirectional(bidirectional).Done()
		})
		assert.Equal(t, []int{2, 5, 8}, got.Shape().Dimensions)
		requireFinite(t, got)
	}
}

func TestDPTNet(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, g *Graph) *Node {
		return DPTNet(ctx, inputSequence(g), 4, 0)
	})
	assert.Equal(t, []int{2, 5, 8}, got.Shape().Dimensions)
	requireFinite(t, got)
}

func TestFromContext(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, model := range KnownModels {
		ctx := context.New()
		ctx.SetParams(map[string]any{
			"intra_" + ParamModel:     model,
			"intra_" + ParamNumLayers: 1,
			"intra_" + ParamNumHeads:  2,
			"intra_" + ParamFFNDim:    16,
			"intra_" + ParamRNNHidden: 4,
		})
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return FromContext(ctx, "intra")(ctx, inputSequence(g))
		})
		assert.Equalf(t, []int{2, 5, 8}, got.Shape().Dimensions, "model=%s", model)
	}

	ctx := context.New()
	ctx.SetParam("inter_"+ParamModel, "gru")
	require.Panics(t, func() { _ = FromContext(ctx, "inter") })

	// Without rnn_hidden, each model uses its own default size: features for "rnn" and
	// 2*features for "dptnet".
	for model, wantHidden := range map[string]int{"rnn": 8, "dptnet": 16} {
		ctx := context.New()
		ctx.SetParams(map[string]any{
			"intra_" + ParamModel:     model,
			"intra_" + ParamNumLayers: 1,
			"intra_" + ParamNumHeads:  2,
		})
		_ = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			return FromContext(ctx, "intra")(ctx, inputSequence(g))
		})
		var hiddenSizes []int
		for v := range ctx.IterVariables() {
			if v.Name() == "recurrentW" {
				hiddenSizes = append(hiddenSizes, v.Shape().Dim(-1))
			}
		}
		require.NotEmptyf(t, hiddenSizes, "model=%s", model)
		for _, hidden := range hiddenSizes {
			assert.Equalf(t, wantHidden, hidden, "model=%s", model)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"inter_" + ParamModel:     "rnn",
		"inter_" + ParamNumLayers: 2,
	})
	cfg := ConfigFromContext(ctx, "inter")
	assert.Equal(t, "rnn", cfg.Model)
	assert.Equal(t, 2, cfg.NumLayers)
	assert.Equal(t, 0, cfg.RNNHidden)
	require.NoError(t, cfg.Validate())

	cfg.Model = "gru"
	assert.True(t, config.IsInvalid(cfg.Validate()))
	cfg = DefaultConfig()
	cfg.NumLayers = 0
	assert.True(t, config.IsInvalid(cfg.Validate()))
	cfg = DefaultConfig()
	cfg.Dropout = 1
	assert.True(t, config.IsInvalid(cfg.Validate()))
}
