// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/sepformer"
	"github.com/gomlx/sudormrf/pkg/sudormrf"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestParseType(t *testing.T) {
	for ii, name := range ValidTypes {
		modelType, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, Type(ii), modelType)
		assert.Equal(t, name, modelType.String())
	}
	_, err := ParseType("conv_tasnet")
	require.Error(t, err)
	assert.True(t, config.IsInvalid(err))
	assert.Equal(t, sudormrf.AttentionV2, TypeAttentionV2.Variant())
	assert.Panics(t, func() { _ = TypeSepformer.Variant() })
}

func TestNumSources(t *testing.T) {
	assert.Equal(t, 1, NumSources("enh_single"))
	assert.Equal(t, 2, NumSources("enh_both"))
	assert.Equal(t, 2, NumSources("sep_clean"))
	assert.Equal(t, 2, NumSources("sep_noisy"))
}

func TestCreateDefaultContext(t *testing.T) {
	ctx := CreateDefaultContext()
	assert.Equal(t, "relu", context.GetParamOr(ctx, ParamModel, ""))
	_, err := NewModelFn(ctx)
	require.NoError(t, err)

	// Every model type is valid with the default hyperparameters.
	for _, name := range ValidTypes {
		_, err := commandline.ParseContextSettings(ctx, ParamModel+"="+name)
		require.NoError(t, err)
		_, err = NewModelFn(ctx)
		require.NoErrorf(t, err, "model=%s", name)
	}

	_, err = commandline.ParseContextSettings(ctx, "model=unknown")
	require.NoError(t, err)
	_, err = NewModelFn(ctx)
	assert.True(t, config.IsInvalid(err))

	_, err = commandline.ParseContextSettings(ctx, "model=sepformer;sepformer_chunk_size=7")
	require.NoError(t, err)
	_, err = NewModelFn(ctx)
	assert.True(t, config.IsInvalid(err))
}

func TestModelFn(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	wav := make([][]float32, 1)
	wav[0] = make([]float32, 160)
	for ii := range wav[0] {
		wav[0][ii] = float32(math.Sin(float64(ii) * 0.2))
	}

	for _, settings := range []string{
		"model=relu;separation_task=enh_single",
		"model=sepformer;separation_task=sep_clean",
	} {
		ctx := CreateDefaultContext()
		_, err := commandline.ParseContextSettings(ctx, settings)
		require.NoError(t, err)
		// Small models.
		ctx.SetParams(map[string]any{
			sudormrf.ParamOutChannels:     4,
			sudormrf.ParamInChannels:      8,
			sudormrf.ParamNumBlocks:       1,
			sudormrf.ParamUpsamplingDepth: 2,
			sudormrf.ParamEncNumBasis:     8,
			sepformer.ParamEncChannels:    8,
			sepformer.ParamChunkSize:      10,
			sepformer.ParamNumLayers:      1,
		})
		ctx.SetParam(sepformer.IntraPrefix+"_num_layers", 1)
		ctx.SetParam(sepformer.InterPrefix+"_num_layers", 1)
		got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, wav *Node) *Node {
			return ModelFn(ctx, nil, []*Node{wav})[0]
		}, wav)
		numSources := NumSources(context.GetParamOr(ctx, datasets.ParamTask, ""))
		assert.Equalf(t, []int{1, numSources, 160}, got.Shape().Dimensions, "settings=%q", settings)
	}
}
