// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sisdr implements the scale-invariant signal-to-distortion ratio (SI-SDR) losses
// and metrics, including their permutation invariant (PIT) versions.
//
// SI-SDR of an estimate e for a reference r (both optionally zero-mean normalized):
//
//	s = <e, r> / (|r|² + eps) * r
//	SI-SDR = 10 * log10(|s|² / (|e - s|² + eps) + eps)
package sisdr

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

const (
	// Epsilon added to the energies in the denominators and inside the log.
	Epsilon = 1e-8

	// ClampLimit bounds the training loss to [-ClampLimit, +ClampLimit].
	ClampLimit = 30.0
)

// log10 times 10, in decibels.
func decibels(x *Node) *Node {
	return MulScalar(Log(x), 10/math.Ln10)
}

func zeroMean(x *Node) *Node {
	return Sub(x, ReduceAndKeep(x, ReduceMean, -1))
}

// PairwiseNegSISDR returns the negative SI-SDR between every pair of estimated and reference
// sources. est is shaped `[batch, numEst, time]` and ref `[batch, numRef, time]`, the result
// is shaped `[batch, numEst, numRef]`.
func PairwiseNegSISDR(est, ref *Node, zeroMeanNorm bool) *Node {
	est.AssertRank(3)
	ref.AssertRank(3)
	if est.Shape().Dim(0) != ref.Shape().Dim(0) || est.Shape().Dim(-1) != ref.Shape().Dim(-1) {
		Panicf("PairwiseNegSISDR: estimates %s and references %s must have the same batch size and length",
			est.Shape(), ref.Shape())
	}
	if zeroMeanNorm {
		est = zeroMean(est)
		ref = zeroMean(ref)
	}
	// dot, scale: [batch, numEst, numRef].
	dot := Einsum("bnt,bmt->bnm", est, ref)
	refEnergy := InsertAxes(ReduceSum(Square(ref), -1), 1)
	scale := Div(dot, AddScalar(refEnergy, Epsilon))

	// projection, noise: [batch, numEst, numRef, time].
	projection := Mul(InsertAxes(scale, -1), InsertAxes(ref, 1))
	noise := Sub(InsertAxes(est, 2), projection)
	ratio := Div(ReduceSum(Square(projection), -1), AddScalar(ReduceSum(Square(noise), -1), Epsilon))
	return Neg(decibels(AddScalar(ratio, Epsilon)))
}

// SISDR returns the SI-SDR of each estimate against the reference at the same position.
// est and ref are shaped `[batch, numSources, time]`, the result is `[batch, numSources]`.
func SISDR(est, ref *Node, zeroMeanNorm bool) *Node {
	if !est.Shape().Equal(ref.Shape()) {
		Panicf("SISDR: estimates %s and references %s must have the same shape", est.Shape(), ref.Shape())
	}
	if zeroMeanNorm {
		est = zeroMean(est)
		ref = zeroMean(ref)
	}
	dot := ReduceAndKeep(Mul(est, ref), ReduceSum, -1)
	refEnergy := ReduceAndKeep(Square(ref), ReduceSum, -1)
	projection := Mul(Div(dot, AddScalar(refEnergy, Epsilon)), ref)
	noise := Sub(est, projection)
	ratio := Div(ReduceSum(Square(projection), -1), AddScalar(ReduceSum(Square(noise), -1), Epsilon))
	return decibels(AddScalar(ratio, Epsilon))
}
