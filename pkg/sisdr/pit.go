// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sisdr

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/train"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
)

// Permutations returns all n! permutations of [0, n) in lexicographic order.
func Permutations(n int) [][]int {
	if n <= 0 {
		return nil
	}
	var perms [][]int
	current := make([]int, 0, n)
	used := make([]bool, n)
	var recurse func()
	recurse = func() {
		if len(current) == n {
			perms = append(perms, slices.Clone(current))
			return
		}
		for ii := range n {
			if used[ii] {
				continue
			}
			used[ii] = true
			current = append(current, ii)
			recurse()
			current = current[:len(current)-1]
			used[ii] = false
		}
	}
	recurse()
	return perms
}

// permutationMatrices returns a constant shaped `[numPerms, n, n]` where
// matrix[p][i][j] = 1 if permutation p assigns estimate i to reference j.
func permutationMatrices(g *Graph, perms [][]int, n int) *Node {
	matrices := make([][][]float32, len(perms))
	for p, perm := range perms {
		matrices[p] = make([][]float32, n)
		for i := range n {
			matrices[p][i] = make([]float32, n)
			matrices[p][i][perm[i]] = 1
		}
	}
	return Const(g, matrices)
}

// PITFromPairwise searches all source assignments given the pairwise cost matrix pw shaped
// `[batch, numEst, numRef]` (with numEst == numRef).
//
// It returns, for each example, the minimum mean cost over the sources (shaped `[batch]`) and the
// index of the best permutation in Permutations(numSources) (shaped `[batch]`, Int32).
func PITFromPairwise(pw *Node) (best, bestIdx *Node) {
	pw.AssertRank(3)
	n := pw.Shape().Dim(1)
	if pw.Shape().Dim(2) != n {
		Panicf("PITFromPairwise requires a square pairwise matrix, got shape %s", pw.Shape())
	}
	perms := permutationMatrices(pw.Graph(), Permutations(n), n)
	perms = ConvertDType(perms, pw.DType())
	costs := MulScalar(Einsum("bij,pij->bp", pw, perms), 1/float64(n))
	best = ReduceMin(costs, -1)
	bestIdx = ArgMin(costs, -1)
	return
}

// PITLoss is the permutation invariant negative SI-SDR loss: est and ref are shaped
// `[batch, numSources, time]`, and it returns the mean over the batch of the best
// assignment cost, clamped to [-ClampLimit, ClampLimit].
func PITLoss(est, ref *Node) *Node {
	best, _ := PITFromPairwise(PairwiseNegSISDR(est, ref, true))
	return ClipScalar(ReduceAllMean(best), -ClampLimit, ClampLimit)
}

// LossFn adapts PITLoss to the trainer: predictions[0] are the estimated sources and
// labels[0] the reference sources, both shaped `[batch, numSources, time]`.
var LossFn train.LossFn = func(labels, predictions []*Node) *Node {
	return PITLoss(predictions[0], labels[0])
}

// SISDRImprovement returns, for each example, the SI-SDR of the best assignment of estimated
// to reference sources, minus the SI-SDR of the unprocessed mixture against each reference,
// both averaged over the sources.
//
// est and ref are shaped `[batch, numSources, time]`, mix is shaped `[batch, time]` or
// `[batch, 1, time]`. The result is shaped `[batch]`.
func SISDRImprovement(est, ref, mix *Node) *Node {
	best, _ := PITFromPairwise(PairwiseNegSISDR(est, ref, true))
	bestSISDR := Neg(best)
	if mix.Rank() == 2 {
		mix = InsertAxes(mix, 1)
	}
	mix = BroadcastToDims(mix, ref.Shape().Dimensions...)
	mixSISDR := ReduceMean(SISDR(mix, ref, true), -1)
	return Sub(bestSISDR, mixSISDR)
}
