// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/gomlx/sudormrf/pkg/audio"
)

// Remix creates new mixtures by randomly re-pairing the sources of a batch.
//
// sources is a flat `[batchSize, numSources, numSamples]` array. The source slots are first shuffled,
// and then each slot k of example b takes the slot's waveform from a random example of the batch,
// rescaled to the energy the original source k of example b had. So the distribution of
// source-to-source energy ratios of the batch is preserved.
//
// It returns the new mixtures (`[batchSize, numSamples]`) and sources, each normalized to zero mean and
// unit variance.
func Remix(sources []float32, batchSize, numSources, numSamples int, rng *rand.Rand) (mixes, remixed []float32) {
	if len(sources) != batchSize*numSources*numSamples {
		panic(errors.Errorf("Remix: %d values given for %d examples of %d sources with %d samples",
			len(sources), batchSize, numSources, numSamples))
	}
	at := func(b, k int) []float32 {
		start := (b*numSources + k) * numSamples
		return sources[start : start+numSamples]
	}
	slotPerm := rng.Perm(numSources)
	mixes = make([]float32, batchSize*numSamples)
	remixed = make([]float32, len(sources))
	for k := range numSources {
		batchPerm := rng.Perm(batchSize)
		for b := range batchSize {
			target := audio.Energy(at(b, k))
			picked := at(batchPerm[b], slotPerm[k])
			newSource := make([]float32, numSamples)
			copy(newSource, picked)
			if energy := audio.Energy(newSource); energy > 0 {
				audio.Scale(newSource, math.Sqrt(target/energy))
			}
			mix := mixes[b*numSamples : (b+1)*numSamples]
			for ii, v := range newSource {
				mix[ii] += v
			}
			start := (b*numSources + k) * numSamples
			copy(remixed[start:start+numSamples], audio.Normalize(newSource))
		}
	}
	for b := range batchSize {
		mix := mixes[b*numSamples : (b+1)*numSamples]
		copy(mix, audio.Normalize(mix))
	}
	return mixes, remixed
}

// RemixDataset wraps a dataset yielding mixtures and sources (like MixtureDataset) and replaces
// every batch by new mixtures built with Remix.
type RemixDataset struct {
	train.Dataset

	mu  sync.Mutex
	rng *rand.Rand
}

// WithRemix returns ds wrapped with online remixing of its batches.
func WithRemix(ds train.Dataset, seed uint64) *RemixDataset {
	return &RemixDataset{
		Dataset: ds,
		rng:     rand.New(rand.NewPCG(seed, seed+1)),
	}
}

// Yield implements train.Dataset.
func (ds *RemixDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.Dataset.Yield()
	if err != nil {
		return
	}
	if len(inputs) != 1 || len(labels) != 1 || labels[0].Rank() != 3 {
		err = errors.Errorf("dataset %q: remixing requires one input (mixtures) and one label (sources shaped "+
			"[batch, sources, samples])", ds.Name())
		return
	}
	dims := labels[0].Shape().Dimensions
	sources := tensors.MustCopyFlatData[float32](labels[0])
	for _, t := range []*tensors.Tensor{inputs[0], labels[0]} {
		if err = t.FinalizeAll(); err != nil {
			return
		}
	}
	ds.mu.Lock()
	mixes, remixed := Remix(sources, dims[0], dims[1], dims[2], ds.rng)
	ds.mu.Unlock()
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(mixes, dims[0], dims[2])}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(remixed, dims...)}
	return
}
