// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets reads the source separation datasets (WHAM!, WHAMR!, FUSS, LibriMix and MUSDB18)
// as train.Dataset objects that yield fixed length mixtures and their reference sources.
//
// Every dataset is expected to be laid out as WAV files in directories:
//
//	<root>/<split>/<mixture dir>/<name>.wav
//	<root>/<split>/s1/<name>.wav
//	<root>/<split>/s2/<name>.wav
//
// Where the mixture and source directories depend on the separation task (see TaskDirs)
// and the split directory name on the dataset (see TranslateSplit).
package datasets

import (
	"strings"

	"github.com/gomlx/sudormrf/pkg/config"
)

// Hyperparameters read from the context. See models.CreateDefaultContext for their defaults.
const (
	// ParamTrain, ParamVal, ParamTest and ParamTrainVal hold the dataset names ([]string) used for each split.
	// At most one dataset per split is supported, an empty list disables the split.
	ParamTrain    = "train"
	ParamVal      = "val"
	ParamTest     = "test"
	ParamTrainVal = "train_val"

	// ParamTask is the separation task, one of ValidTasks.
	ParamTask = "separation_task"

	// ParamFs is the sample rate in Hz. Files with a different rate are resampled.
	ParamFs = "fs"

	// ParamTimeLength is the length in seconds of each example.
	ParamTimeLength = "audio_timelength"

	// ParamZeroPad keeps files shorter than the time length, padding them with zeros.
	// If false they are skipped.
	ParamZeroPad = "zero_pad_audio"

	// ParamNormalize normalizes each waveform to zero mean and unit variance when loading.
	ParamNormalize = "normalize_audio"

	// ParamNTrain, ParamNVal, ParamNTest and ParamNTrainVal limit the number of examples of each split.
	// 0 uses all the files found.
	ParamNTrain    = "n_train"
	ParamNVal      = "n_val"
	ParamNTest     = "n_test"
	ParamNTrainVal = "n_train_val"

	ParamBatchSize = "batch_size"

	// ParamOnlineMix enables re-pairing the sources of each training batch into new mixtures.
	ParamOnlineMix = "online_mix"
)

// Kind of dataset.
type Kind int

const (
	WHAM Kind = iota
	WHAMR
	FUSS
	LIBRI2MIX
	MUSDB
)

// ValidKinds are the accepted dataset names, in the order of the Kind constants.
var ValidKinds = []string{"WHAM", "WHAMR", "FUSS", "LIBRI2MIX", "MUSDB"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(ValidKinds) {
		return "UNKNOWN"
	}
	return ValidKinds[k]
}

// ParseKind converts a dataset name (case-insensitive) to its Kind.
func ParseKind(name string) (Kind, error) {
	for ii, valid := range ValidKinds {
		if strings.EqualFold(name, valid) {
			return Kind(ii), nil
		}
	}
	return WHAM, config.Invalidf("dataset %q is not supported, valid values are %q", name, ValidKinds)
}

// Split of a dataset.
type Split string

const (
	SplitTrain    Split = "train"
	SplitVal      Split = "val"
	SplitTest     Split = "test"
	SplitTrainVal Split = "train_val"
)

// Splits lists all splits in the order they are set up.
var Splits = []Split{SplitTrain, SplitVal, SplitTest, SplitTrainVal}

// Base returns the split whose files are used: SplitTrainVal evaluates on the training files.
func (s Split) Base() Split {
	if s == SplitTrainVal {
		return SplitTrain
	}
	return s
}

// IsTraining returns whether the split is used for training, and hence shuffled in full batches.
func (s Split) IsTraining() bool {
	return s == SplitTrain
}

// Augments returns whether examples of the split are cropped at random offsets: true for every
// split read from the training files, including SplitTrainVal.
func (s Split) Augments() bool {
	return s.Base() == SplitTrain
}

// libriMixTrain360Threshold is the number of requested training examples above which the
// larger train-360 LibriMix split is used.
const libriMixTrain360Threshold = 13900

// TranslateSplit returns the name of the split directory used by the dataset.
// nSamples is the number of examples requested, used to choose between the LibriMix training sets.
func TranslateSplit(kind Kind, split Split, nSamples int) (string, error) {
	split = split.Base()
	switch kind {
	case WHAM, WHAMR:
		switch split {
		case SplitTrain:
			return "tr", nil
		case SplitVal:
			return "cv", nil
		case SplitTest:
			return "tt", nil
		}
	case FUSS:
		switch split {
		case SplitTrain:
			return "train", nil
		case SplitVal:
			return "validation", nil
		case SplitTest:
			return "eval", nil
		}
	case LIBRI2MIX:
		switch split {
		case SplitTrain:
			if nSamples > libriMixTrain360Threshold {
				return "train-360", nil
			}
			return "train-100", nil
		case SplitVal:
			return "dev", nil
		case SplitTest:
			return "test", nil
		}
	case MUSDB:
		switch split {
		case SplitTrain, SplitVal, SplitTest:
			return string(split), nil
		}
	}
	return "", config.Invalidf("split %q is not valid for dataset %s", split, kind)
}

// ValidTasks are the supported separation tasks.
var ValidTasks = []string{"sep_clean", "sep_noisy", "enh_single", "enh_both"}

// TaskDirs returns the directory holding the mixtures and the directories holding the
// reference sources for the separation task.
func TaskDirs(task string) (mixDir string, sourceDirs []string, err error) {
	switch task {
	case "sep_clean":
		return "mix_clean", []string{"s1", "s2"}, nil
	case "sep_noisy":
		return "mix_both", []string{"s1", "s2"}, nil
	case "enh_single":
		return "mix_single", []string{"s1"}, nil
	case "enh_both":
		return "mix_both", []string{"mix_clean", "noise"}, nil
	}
	return "", nil, config.Invalidf("separation task %q is not supported, valid values are %q", task, ValidTasks)
}

// NumSources returns the number of reference sources of the separation task,
// or 0 if the task is unknown.
func NumSources(task string) int {
	_, dirs, err := TaskDirs(task)
	if err != nil {
		return 0
	}
	return len(dirs)
}
