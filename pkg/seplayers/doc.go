// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package seplayers holds the 1-D building blocks shared by the separation models:
// the learned encoder/decoder filterbanks, depthwise and pointwise convolutions,
// the normalizations used by SuDoRmRf and Sepformer (gLN, cLN, ln, bn), PReLU,
// nearest neighbour upsampling and sinusoidal positional encodings.
//
// All functions work on channels-first sequences, shaped `[batch, channels, time]`,
// unless stated otherwise. They are graph building functions and panic on error.
package seplayers
