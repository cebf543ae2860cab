// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dualpath implements the chunked dual-path processing of latent sequences:
// the segmentation of a `[batch, channels, length]` sequence into 50% overlapping chunks,
// its inverse overlap-add, the intra/inter computation block and the mask estimation
// network built on top of them.
package dualpath

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/seplayers"
)

// Geometry of the segmentation of a sequence into chunks.
type Geometry struct {
	// Length of the original sequence.
	Length int

	// ChunkSize (K) is the length of each chunk, and Hop (P) = K/2 the distance between the
	// start of consecutive chunks.
	ChunkSize, Hop int

	// Gap is the number of zeros appended to the end of the sequence so that it fits
	// an exact number of chunks.
	Gap int

	// NumChunks (S) is always even: half of the chunks start at multiples of K (in the padded
	// sequence), the other half at multiples of K plus P.
	NumChunks int
}

// ValidateChunkSize returns an error if chunkSize is not a positive even number.
func ValidateChunkSize(chunkSize int) error {
	if chunkSize <= 0 || chunkSize%2 != 0 {
		return config.Invalidf("chunk size must be a positive even number, got %d", chunkSize)
	}
	return nil
}

// NewGeometry returns the segmentation geometry of a sequence of the given length.
// The chunkSize must be a positive even number, it may be larger than length.
func NewGeometry(length, chunkSize int) (Geometry, error) {
	if err := ValidateChunkSize(chunkSize); err != nil {
		return Geometry{}, err
	}
	if length <= 0 {
		return Geometry{}, config.Invalidf("can't segment a sequence of length %d", length)
	}
	geom := Geometry{
		Length:    length,
		ChunkSize: chunkSize,
		Hop:       chunkSize / 2,
	}
	geom.Gap = chunkSize - (geom.Hop+length%chunkSize)%chunkSize
	geom.NumChunks = 2 * (length + geom.Gap + geom.Hop) / chunkSize
	return geom, nil
}

// PaddedLength is the length of the sequence after appending Gap zeros and
// padding Hop zeros at both ends.
func (geom Geometry) PaddedLength() int {
	return geom.Length + geom.Gap + 2*geom.Hop
}

// Segment splits x shaped `[batch, channels, length]` into chunks shaped
// `[batch, channels, chunkSize, numChunks]`, where consecutive chunks overlap by half.
//
// Every sample of x ends up in exactly two chunks. It returns also the gap (number of zeros)
// appended to the end of the sequence, needed by OverlapAdd.
func Segment(x *Node, chunkSize int) (chunks *Node, gap int) {
	x.AssertRank(3)
	geom, err := NewGeometry(x.Shape().Dim(-1), chunkSize)
	if err != nil {
		panic(err)
	}
	batchSize, channels := x.Shape().Dim(0), x.Shape().Dim(1)
	k, p := geom.ChunkSize, geom.Hop
	halfChunks := geom.NumChunks / 2

	padded := seplayers.PadTime(x, p, geom.Gap+p)
	paddedLen := geom.PaddedLength()
	even := Reshape(SliceAxis(padded, -1, AxisRange(0, paddedLen-p)), batchSize, channels, halfChunks, k)
	odd := Reshape(SliceAxis(padded, -1, AxisRange(p, paddedLen)), batchSize, channels, halfChunks, k)

	// Interleave: chunk 2i is even[i], chunk 2i+1 is odd[i].
	chunks = Concatenate([]*Node{even, odd}, 3)
	chunks = Reshape(chunks, batchSize, channels, geom.NumChunks, k)
	chunks = Transpose(chunks, 2, 3)
	return chunks, geom.Gap
}

// OverlapAdd merges chunks shaped `[batch, channels, chunkSize, numChunks]`, as created by
// Segment, back into a sequence shaped `[batch, channels, length]`.
//
// The two chunks covering each sample are averaged, so OverlapAdd(Segment(x)) == x.
func OverlapAdd(chunks *Node, gap int) *Node {
	chunks.AssertRank(4)
	batchSize, channels := chunks.Shape().Dim(0), chunks.Shape().Dim(1)
	k, numChunks := chunks.Shape().Dim(2), chunks.Shape().Dim(3)
	if k%2 != 0 || numChunks%2 != 0 {
		Panicf("OverlapAdd requires an even chunk size and an even number of chunks, got chunks shaped %s",
			chunks.Shape())
	}
	p := k / 2
	halfChunks := numChunks / 2

	pairs := Reshape(Transpose(chunks, 2, 3), batchSize, channels, halfChunks, 2*k)
	even := Reshape(SliceAxis(pairs, -1, AxisRange(0, k)), batchSize, channels, halfChunks*k)
	odd := Reshape(SliceAxis(pairs, -1, AxisRange(k, 2*k)), batchSize, channels, halfChunks*k)
	merged := halfChunks*k - p
	even = SliceAxis(even, -1, AxisRange(p, halfChunks*k))
	odd = SliceAxis(odd, -1, AxisRange(0, merged))
	output := MulScalar(Add(even, odd), 0.5)
	if gap > 0 {
		if gap >= merged {
			Panicf("OverlapAdd: gap %d is larger than the merged sequence length %d", gap, merged)
		}
		output = SliceAxis(output, -1, AxisRange(0, merged-gap))
	}
	return output
}
