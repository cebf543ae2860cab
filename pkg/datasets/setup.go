// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"path/filepath"

	mldatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sudormrf/pkg/audiocache"
)

// New creates the dataset for one split, as configured.
// It returns nil (and no error) if no dataset is configured for the split.
func New(cfg *Config, roots *Roots, split Split, loader *audiocache.Loader, seed uint64) (*MixtureDataset, error) {
	names := cfg.Names(split)
	if len(names) == 0 {
		return nil, nil
	}
	if len(names) > 1 {
		return nil, errors.Errorf("multiple datasets %q given for split %q", names, split)
	}
	kind, err := ParseKind(names[0])
	if err != nil {
		return nil, err
	}
	root, err := roots.RootFor(kind, cfg.Fs)
	if err != nil {
		return nil, err
	}
	splitDir, err := TranslateSplit(kind, split, cfg.NSamples[split])
	if err != nil {
		return nil, err
	}
	mixDir, sourceDirs, err := TaskDirs(cfg.Task)
	if err != nil {
		return nil, err
	}
	if kind == LIBRI2MIX && split.Base() == SplitTrain {
		klog.Infof("Using LibriMix %q for split %q", splitDir, split)
	}
	return NewMixtureDataset(MixtureDatasetConfig{
		Name:        fmt.Sprintf("%s/%s", kind, split),
		Dir:         filepath.Join(root, splitDir),
		MixDir:      mixDir,
		SourceDirs:  sourceDirs,
		NumExamples: cfg.NSamples[split],
		Fs:          cfg.Fs,
		NumSamples:  cfg.NumSamples(),
		BatchSize:   cfg.BatchSize,
		ZeroPad:     cfg.ZeroPad,
		Normalize:   cfg.Normalize,
		Training:    split.IsTraining(),
		Augment:     split.Augments(),
		Seed:        seed,
	}, loader)
}

// Setup creates the datasets of every configured split, after validating the configuration.
//
// The training dataset is wrapped with WithRemix if online mixing is enabled for the "sep_clean" task, the
// only one where the sources add up to the mixture. If parallelism > 1 the datasets are read by that many
// goroutines ahead of time: call Done on the returned datasets when finished.
func Setup(cfg *Config, roots *Roots, loader *audiocache.Loader, parallelism int, seed uint64) (map[Split]train.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dss := make(map[Split]train.Dataset)
	for ii, split := range Splits {
		mixtures, err := New(cfg, roots, split, loader, seed+uint64(ii))
		if err != nil {
			Done(dss)
			return nil, err
		}
		if mixtures == nil {
			continue
		}
		var ds train.Dataset = mixtures
		if split.IsTraining() && cfg.OnlineMix && cfg.Task == "sep_clean" {
			ds = WithRemix(ds, seed+100)
		}
		if parallelism > 1 {
			ds = mldatasets.CustomParallel(ds).Parallelism(parallelism).Buffer(parallelism).Start()
		}
		dss[split] = ds
	}
	if len(dss) == 0 {
		return nil, errors.New("no datasets configured")
	}
	return dss, nil
}

// Done stops the background readers of datasets created by Setup.
func Done(dss map[Split]train.Dataset) {
	for _, ds := range dss {
		if pds, ok := ds.(*mldatasets.ParallelDataset); ok {
			pds.Done()
		}
	}
}
