// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"

	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/sepformer"
	"github.com/gomlx/sudormrf/pkg/seqmodels"
	"github.com/gomlx/sudormrf/pkg/sudormrf"
	"github.com/gomlx/sudormrf/pkg/training"
)

// CreateDefaultContext sets the context with the default hyperparameters of the separation experiments.
// All the hyperparameters that can be changed with the command line "--set" flag are defined here.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	sudo := sudormrf.DefaultConfig()
	sep := sepformer.RecipeConfig()
	ctx.SetParams(map[string]any{
		// Model type: one of ValidTypes.
		ParamModel: "relu",

		// Data: dataset names per split, see datasets.ValidKinds.
		datasets.ParamTrain:    []string{"WHAM"},
		datasets.ParamVal:      []string{"WHAM"},
		datasets.ParamTest:     []string{},
		datasets.ParamTrainVal: []string{},

		// Separation task: "sep_clean", "sep_noisy", "enh_single" or "enh_both".
		datasets.ParamTask: "sep_clean",

		datasets.ParamFs:         8000,
		datasets.ParamTimeLength: 4.0, // Seconds per example.
		datasets.ParamZeroPad:    false,
		datasets.ParamNormalize:  false,
		datasets.ParamNTrain:     0, // Number of examples, 0 uses all the files found.
		datasets.ParamNVal:       0,
		datasets.ParamNTest:      0,
		datasets.ParamNTrainVal:  0,
		datasets.ParamBatchSize:  4,
		datasets.ParamOnlineMix:  true, // Re-pair the sources of each training batch.

		// Training.
		training.ParamNumEpochs:        500,
		training.ParamDivideLRBy:       3.0,
		training.ParamReduceLREvery:    50, // Epochs between learning rate reductions, 0 disables it.
		training.ParamClipGradNorm:     5.0,
		training.ParamNumCheckpoints:   3,
		training.ParamAudioLogExamples: 2,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,
		optimizers.ParamAdamEpsilon:  1e-8,

		// SuDoRmRf variants.
		sudormrf.ParamOutChannels:     sudo.OutChannels,
		sudormrf.ParamInChannels:      sudo.InChannels,
		sudormrf.ParamNumBlocks:       sudo.NumBlocks,
		sudormrf.ParamUpsamplingDepth: sudo.UpsamplingDepth,
		sudormrf.ParamEncKernelSize:   sudo.EncKernelSize,
		sudormrf.ParamEncNumBasis:     sudo.EncNumBasis,
		sudormrf.ParamAttDims:         sudo.AttDims,
		sudormrf.ParamAttHeads:        sudo.AttHeads,
		sudormrf.ParamAttDropout:      sudo.AttDropout,

		// Sepformer.
		sepformer.ParamEncKernelSize: sep.EncKernelSize,
		sepformer.ParamEncChannels:   sep.EncChannels,
		sepformer.ParamChunkSize:     sep.ChunkSize,
		sepformer.ParamNumLayers:     sep.NumLayers,
		sepformer.ParamNorm:          sep.Norm,
		sepformer.ParamExtraLinear:   sep.ExtraLinear,
		sepformer.ParamExtraSkip:     sep.ExtraSkip,
	})
	setSequenceModelParams(ctx, sepformer.IntraPrefix, sep.Intra)
	setSequenceModelParams(ctx, sepformer.InterPrefix, sep.Inter)
	return ctx
}

func setSequenceModelParams(ctx *context.Context, prefix string, cfg seqmodels.Config) {
	key := func(name string) string { return prefix + "_" + name }
	ctx.SetParams(map[string]any{
		key(seqmodels.ParamModel):            cfg.Model,
		key(seqmodels.ParamNumLayers):        cfg.NumLayers,
		key(seqmodels.ParamNumHeads):         cfg.NumHeads,
		key(seqmodels.ParamFFNDim):           cfg.FFNDim,
		key(seqmodels.ParamDropout):          cfg.Dropout,
		key(seqmodels.ParamNormBefore):       cfg.NormBefore,
		key(seqmodels.ParamPositional):       cfg.UsePositional,
		key(seqmodels.ParamRNNHidden):        cfg.RNNHidden,
		key(seqmodels.ParamRNNBidirectional): cfg.RNNBidirectional,
	})
}
