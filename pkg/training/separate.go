// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/gomlx/sudormrf/pkg/audio"
)

// Separate runs the trained model over one mixture waveform and returns the estimated sources.
//
// ctx is the root context holding the model variables under ModelScope (usually loaded from a checkpoint).
// The mixture is normalized before separation, and the estimates are scaled back by the
// mixture's standard deviation.
func Separate(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn, samples []float32) ([][]float32, error) {
	if len(samples) == 0 {
		return nil, errors.New("Separate: empty waveform")
	}
	_, std := audio.MeanStd(samples)
	mix := tensors.FromFlatDataAndDimensions(audio.Normalize(samples), 1, len(samples))
	defer mix.MustFinalizeAll()
	outputs, err := context.ExecOnceN(backend, ctx.In(ModelScope).Reuse(),
		func(ctx *context.Context, mix *Node) *Node {
			ctx.SetTraining(mix.Graph(), false)
			return modelFn(ctx, nil, []*Node{mix})[0]
		}, mix)
	if err != nil {
		return nil, errors.WithMessage(err, "Separate: failed to run model")
	}
	estimates := outputs[0]
	defer estimates.MustFinalizeAll()

	sources := unflatten3D(estimates)[0]
	for _, source := range sources {
		audio.Scale(source, std)
	}
	return sources, nil
}
