// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sudormrf/pkg/audio"
	"github.com/gomlx/sudormrf/pkg/audiocache"
)

// MixtureDataset implements train.Dataset for a directory of mixtures and their reference sources.
//
// Each Yield returns one batch:
//
//   - inputs: the mixtures shaped `[batchSize, numSamples]`.
//   - labels: the reference sources shaped `[batchSize, numSources, numSamples]`.
//
// Examples longer than numSamples are cropped: at a random offset for augmented datasets, at the
// start otherwise. Shorter examples are zero padded if zeroPad is set, or skipped otherwise.
//
// Training datasets are shuffled at every Reset and drop the last incomplete batch, so all batches have
// the same shape. Evaluation datasets yield every example, in order.
//
// It is safe for concurrent use, so it can be wrapped with a parallel dataset reader.
type MixtureDataset struct {
	name, shortName string
	mixPaths        []string
	sourcePaths     [][]string // [example][source]

	loader             *audiocache.Loader
	fs, numSamples     int
	batchSize          int
	zeroPad, normalize bool
	training, augment  bool

	mu      sync.Mutex
	rng     *rand.Rand
	order   []int
	next    int
	skipped map[int]bool
}

var _ train.Dataset = (*MixtureDataset)(nil)

// MixtureDatasetConfig holds the parameters of NewMixtureDataset.
type MixtureDatasetConfig struct {
	Name               string
	Dir                string // Directory of the split, with one subdirectory per waveform type.
	MixDir             string
	SourceDirs         []string
	NumExamples        int // 0 for all the files found.
	Fs, NumSamples     int
	BatchSize          int
	ZeroPad, Normalize bool
	Training           bool // Shuffle and drop the last incomplete batch.
	Augment            bool // Crop long examples at a random offset.
	Seed               uint64
}

// NewMixtureDataset scans the directories for the mixture files and their sources.
// Mixtures without all their sources are skipped with a warning.
func NewMixtureDataset(cfg MixtureDatasetConfig, loader *audiocache.Loader) (*MixtureDataset, error) {
	if cfg.BatchSize <= 0 || cfg.NumSamples <= 0 || cfg.Fs <= 0 {
		return nil, errors.Errorf("dataset %q: batch size (%d), number of samples (%d) and sample rate (%d) must be > 0",
			cfg.Name, cfg.BatchSize, cfg.NumSamples, cfg.Fs)
	}
	if loader == nil {
		loader = audiocache.NewLoader(nil)
	}
	mixDir := filepath.Join(cfg.Dir, cfg.MixDir)
	entries, err := os.ReadDir(mixDir)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %q: failed to list mixtures", cfg.Name)
	}
	ds := &MixtureDataset{
		name:       cfg.Name,
		shortName:  shortName(cfg.Name),
		loader:     loader,
		fs:         cfg.Fs,
		numSamples: cfg.NumSamples,
		batchSize:  cfg.BatchSize,
		zeroPad:    cfg.ZeroPad,
		normalize:  cfg.Normalize,
		training:   cfg.Training,
		augment:    cfg.Augment,
		skipped:    make(map[int]bool),
	}
	if cfg.Training || cfg.Augment {
		ds.rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		sources := make([]string, 0, len(cfg.SourceDirs))
		for _, sourceDir := range cfg.SourceDirs {
			sourcePath := filepath.Join(cfg.Dir, sourceDir, entry.Name())
			if _, err := os.Stat(sourcePath); err != nil {
				klog.Warningf("dataset %q: skipping %q, missing source %q: %v", cfg.Name, entry.Name(), sourcePath, err)
				sources = nil
				break
			}
			sources = append(sources, sourcePath)
		}
		if sources == nil {
			continue
		}
		ds.mixPaths = append(ds.mixPaths, filepath.Join(mixDir, entry.Name()))
		ds.sourcePaths = append(ds.sourcePaths, sources)
		if cfg.NumExamples > 0 && len(ds.mixPaths) >= cfg.NumExamples {
			break
		}
	}
	if len(ds.mixPaths) == 0 {
		return nil, errors.Errorf("dataset %q: no examples found in %q", cfg.Name, mixDir)
	}
	if cfg.NumExamples > len(ds.mixPaths) {
		klog.Warningf("dataset %q: %d examples requested, but only %d found", cfg.Name, cfg.NumExamples, len(ds.mixPaths))
	}
	klog.V(1).Infof("dataset %q: %d examples in %q", cfg.Name, len(ds.mixPaths), mixDir)
	ds.Reset()
	return ds, nil
}

func shortName(name string) string {
	if len(name) <= 3 {
		return name
	}
	return name[:3]
}

// Name implements train.Dataset.
func (ds *MixtureDataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *MixtureDataset) ShortName() string { return ds.shortName }

// NumExamples returns the number of examples found, including the ones that may be skipped for being too short.
func (ds *MixtureDataset) NumExamples() int { return len(ds.mixPaths) }

// NumSources returns the number of reference sources per example.
func (ds *MixtureDataset) NumSources() int { return len(ds.sourcePaths[0]) }

// Reset implements train.Dataset. Training datasets are reshuffled.
func (ds *MixtureDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.order == nil {
		ds.order = make([]int, len(ds.mixPaths))
		for ii := range ds.order {
			ds.order[ii] = ii
		}
	}
	if ds.training {
		ds.rng.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	}
	ds.next = 0
}

// nextIndex returns the next example to read, or -1 at the end of the epoch.
func (ds *MixtureDataset) nextIndex() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for ds.next < len(ds.order) {
		idx := ds.order[ds.next]
		ds.next++
		if !ds.skipped[idx] {
			return idx
		}
	}
	return -1
}

func (ds *MixtureDataset) markSkipped(idx int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.skipped[idx] {
		klog.V(1).Infof("dataset %q: skipping %q, shorter than %d samples", ds.name, ds.mixPaths[idx], ds.numSamples)
	}
	ds.skipped[idx] = true
}

func (ds *MixtureDataset) cropOffset(length int) int {
	if !ds.augment {
		return 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return audio.CropOffset(length, ds.numSamples, ds.rng)
}

// LoadExample reads example idx, returning the fitted mixture and sources.
// ok is false if the example is shorter than the configured length and zero padding is disabled.
func (ds *MixtureDataset) LoadExample(idx int) (mix []float32, sources [][]float32, ok bool, err error) {
	mix, err = ds.loader.Load(ds.mixPaths[idx], ds.fs)
	if err != nil {
		return nil, nil, false, err
	}
	length := len(mix)
	if length < ds.numSamples && !ds.zeroPad {
		return nil, nil, false, nil
	}
	sources = make([][]float32, len(ds.sourcePaths[idx]))
	for ii, path := range ds.sourcePaths[idx] {
		sources[ii], err = ds.loader.Load(path, ds.fs)
		if err != nil {
			return nil, nil, false, err
		}
		length = min(length, len(sources[ii]))
	}
	if length < ds.numSamples && !ds.zeroPad {
		return nil, nil, false, nil
	}
	offset := ds.cropOffset(length)
	mix = audio.FitLengthAt(mix, ds.numSamples, offset)
	for ii := range sources {
		sources[ii] = audio.FitLengthAt(sources[ii], ds.numSamples, offset)
	}
	if ds.normalize {
		mix = audio.Normalize(mix)
		for ii := range sources {
			sources[ii] = audio.Normalize(sources[ii])
		}
	}
	return mix, sources, true, nil
}

// Yield implements train.Dataset.
func (ds *MixtureDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	numSources := ds.NumSources()
	mixes := make([]float32, 0, ds.batchSize*ds.numSamples)
	sources := make([]float32, 0, ds.batchSize*numSources*ds.numSamples)
	count := 0
	for count < ds.batchSize {
		idx := ds.nextIndex()
		if idx < 0 {
			break
		}
		mix, exampleSources, ok, loadErr := ds.LoadExample(idx)
		if loadErr != nil {
			err = errors.WithMessagef(loadErr, "dataset %q", ds.name)
			return
		}
		if !ok {
			ds.markSkipped(idx)
			continue
		}
		mixes = append(mixes, mix...)
		for _, source := range exampleSources {
			sources = append(sources, source...)
		}
		count++
	}
	if count == 0 || (ds.training && count < ds.batchSize) {
		err = io.EOF
		return
	}
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(mixes, count, ds.numSamples)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(sources, count, numSources, ds.numSamples)}
	return
}

// Examples returns the paths of the mixtures, in the order they were found.
func (ds *MixtureDataset) Examples() []string {
	return slices.Clone(ds.mixPaths)
}
