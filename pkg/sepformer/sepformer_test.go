// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sepformer

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/seqmodels"

	_ "github.com/gomlx/gomlx/backends/default"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.EncChannels = 8
	cfg.ChunkSize = 10
	cfg.NumLayers = 1
	for _, path := range []*seqmodels.Config{&cfg.Intra, &cfg.Inter} {
		path.NumLayers = 1
		path.NumHeads = 2
		path.FFNDim = 16
		path.Dropout = 0
	}
	return cfg
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	recipe := RecipeConfig()
	require.NoError(t, recipe.Validate())
	assert.Equal(t, 4, recipe.Intra.NumLayers)
	assert.Equal(t, 2048, recipe.Inter.FFNDim)
	assert.Equal(t, 1024, DefaultConfig().Inter.FFNDim)

	for _, modify := range []func(cfg *Config){
		func(cfg *Config) { cfg.ChunkSize = 251 },
		func(cfg *Config) { cfg.Norm = "rms" },
		func(cfg *Config) { cfg.Intra.NumHeads = 3 },
		func(cfg *Config) { cfg.Inter.Model = "gru" },
		func(cfg *Config) { cfg.NumSpeakers = 0 },
		func(cfg *Config) { cfg.EncKernelSize = 1 },
	} {
		cfg := DefaultConfig()
		modify(&cfg)
		assert.True(t, config.IsInvalid(cfg.Validate()))
	}

	ctx := context.New()
	ctx.SetParam(ParamChunkSize, 100)
	ctx.SetParam(ParamNorm, "gln")
	ctx.SetParam(IntraPrefix+"_"+seqmodels.ParamModel, "dptnet")
	cfg := ConfigFromContext(ctx, 1)
	assert.Equal(t, 100, cfg.ChunkSize)
	assert.Equal(t, "gln", cfg.Norm)
	assert.Equal(t, "dptnet", cfg.Intra.Model)
	assert.Equal(t, "transformer", cfg.Inter.Model)
	assert.Equal(t, 1, cfg.NumSpeakers)
}

func TestModel(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wav := make([][]float32, 2)
	for ii := range wav {
		wav[ii] = make([]float32, 160)
		for jj := range wav[ii] {
			wav[ii][jj] = float32(math.Sin(float64(jj) * 0.05 * float64(ii+1)))
		}
	}

	rnnCfg := smallConfig()
	rnnCfg.Norm = "cln"
	rnnCfg.Intra.Model = "rnn"
	rnnCfg.Intra.RNNHidden = 4
	rnnCfg.NumSpeakers = 3
	for _, cfg := range []Config{smallConfig(), rnnCfg} {
		got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, wav *Node) *Node {
			return Model(ctx, cfg, wav)
		}, wav)
		assert.Equal(t, []int{2, cfg.NumSpeakers, 160}, got.Shape().Dimensions)
		for _, v := range tensors.MustCopyFlatData[float32](got) {
			require.False(t, math.IsNaN(float64(v)))
		}
	}

	// Odd lengths are padded back to the input length.
	got := context.MustExecOnce(backend, context.New(), func(ctx *context.Context, wav *Node) *Node {
		return Model(ctx, smallConfig(), SliceAxis(wav, -1, AxisRange(0, 155)))
	}, [][][]float32{{wav[0]}})
	assert.Equal(t, []int{1, 2, 155}, got.Shape().Dimensions)
}
