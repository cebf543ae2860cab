// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models selects the separation model variant from the context hyperparameters, and
// holds the default hyperparameters of the experiments.
package models

import (
	"strings"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/sepformer"
	"github.com/gomlx/sudormrf/pkg/sudormrf"
)

// Type of separation model.
type Type int

const (
	TypeReLU Type = iota
	TypeAttention
	TypeAttentionV2
	TypeAttentionV3
	TypeSepformer
)

// ValidTypes are the accepted values of the ParamModel hyperparameter, in the order of the Type constants.
var ValidTypes = []string{"relu", "attention", "attention_v2", "attention_v3", "sepformer"}

// ParamModel is the hyperparameter that selects the model type.
const ParamModel = "model"

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(ValidTypes) {
		return "unknown"
	}
	return ValidTypes[t]
}

// ParseType converts a model name to a Type. Unknown names return an error wrapping config.ErrInvalidConfig.
func ParseType(name string) (Type, error) {
	for ii, valid := range ValidTypes {
		if strings.EqualFold(name, valid) {
			return Type(ii), nil
		}
	}
	return TypeReLU, config.Invalidf("invalid model %q, valid values are %q", name, ValidTypes)
}

// Variant returns the SuDoRmRf variant for the model type. It panics for TypeSepformer.
func (t Type) Variant() sudormrf.Variant {
	switch t {
	case TypeReLU:
		return sudormrf.ReLU
	case TypeAttention:
		return sudormrf.Attention
	case TypeAttentionV2:
		return sudormrf.AttentionV2
	case TypeAttentionV3:
		return sudormrf.AttentionV3
	default:
		Panicf("model type %s is not a SuDoRmRf variant", t)
	}
	return sudormrf.ReLU
}

// NumSources returns the number of sources to estimate for the separation task:
// speech enhancement of a single speaker ("enh_single") has 1, everything else 2.
func NumSources(task string) int {
	if n := datasets.NumSources(task); n > 0 {
		return n
	}
	return 2
}

// NewModelFn resolves the model type and its configuration from the context hyperparameters,
// and returns the train.ModelFn that builds it.
//
// The returned function takes one input, the mixtures shaped `[batch, time]`, and returns
// one output, the estimated sources shaped `[batch, numSources, time]`.
//
// Invalid configurations return an error wrapping config.ErrInvalidConfig.
func NewModelFn(ctx *context.Context) (train.ModelFn, error) {
	modelType, err := ParseType(context.GetParamOr(ctx, ParamModel, "relu"))
	if err != nil {
		return nil, err
	}
	task := context.GetParamOr(ctx, datasets.ParamTask, "sep_clean")
	if _, _, err := datasets.TaskDirs(task); err != nil {
		return nil, err
	}
	numSources := NumSources(task)
	if modelType == TypeSepformer {
		cfg := sepformer.ConfigFromContext(ctx, numSources)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return func(ctx *context.Context, _ any, inputs []*Node) []*Node {
			return []*Node{sepformer.Model(ctx, cfg, inputs[0])}
		}, nil
	}
	cfg := sudormrf.ConfigFromContext(ctx, numSources)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	variant := modelType.Variant()
	return func(ctx *context.Context, _ any, inputs []*Node) []*Node {
		return []*Node{sudormrf.Model(ctx, cfg, variant, inputs[0])}
	}, nil
}

// ModelFn implements train.ModelFn, building the model selected by the ParamModel hyperparameter.
// It panics if the configuration is invalid; use NewModelFn to validate it beforehand.
func ModelFn(ctx *context.Context, spec any, inputs []*Node) []*Node {
	modelFn, err := NewModelFn(ctx)
	if err != nil {
		panic(err)
	}
	return modelFn(ctx, spec, inputs)
}
