// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/audio"
	"github.com/gomlx/sudormrf/pkg/audiocache"
	"github.com/gomlx/sudormrf/pkg/config"
)

func TestKindsAndSplits(t *testing.T) {
	kind, err := ParseKind("wham")
	require.NoError(t, err)
	assert.Equal(t, WHAM, kind)
	assert.Equal(t, "LIBRI2MIX", LIBRI2MIX.String())
	_, err = ParseKind("timit")
	assert.True(t, config.IsInvalid(err))

	for _, tc := range []struct {
		kind     Kind
		split    Split
		nSamples int
		want     string
	}{
		{WHAM, SplitTrain, 0, "tr"},
		{WHAM, SplitTrainVal, 0, "tr"},
		{WHAMR, SplitVal, 0, "cv"},
		{WHAMR, SplitTest, 0, "tt"},
		{FUSS, SplitTrain, 0, "train"},
		{FUSS, SplitVal, 0, "validation"},
		{FUSS, SplitTest, 0, "eval"},
		{LIBRI2MIX, SplitTrain, 13900, "train-100"},
		{LIBRI2MIX, SplitTrain, 13901, "train-360"},
		{LIBRI2MIX, SplitVal, 0, "dev"},
		{LIBRI2MIX, SplitTest, 0, "test"},
		{MUSDB, SplitVal, 0, "val"},
	} {
		got, err := TranslateSplit(tc.kind, tc.split, tc.nSamples)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "%s/%s", tc.kind, tc.split)
	}
	assert.True(t, SplitTrain.IsTraining())
	assert.False(t, SplitTrainVal.IsTraining())
	assert.True(t, SplitTrain.Augments())
	assert.True(t, SplitTrainVal.Augments())
	assert.False(t, SplitVal.Augments())
	assert.False(t, SplitTest.Augments())

	_, err = TranslateSplit(WHAM, Split("holdout"), 0)
	assert.True(t, config.IsInvalid(err))

	assert.Equal(t, 2, NumSources("sep_clean"))
	assert.Equal(t, 2, NumSources("enh_both"))
	assert.Equal(t, 1, NumSources("enh_single"))
	assert.Equal(t, 0, NumSources("dereverb"))
	mixDir, sourceDirs, err := TaskDirs("sep_noisy")
	require.NoError(t, err)
	assert.Equal(t, "mix_both", mixDir)
	assert.Equal(t, []string{"s1", "s2"}, sourceDirs)
}

func TestConfig(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamTrain:      []string{"WHAM"},
		ParamVal:        []string{""},
		ParamTask:       "sep_noisy",
		ParamFs:         16000,
		ParamTimeLength: 0.5,
		ParamNTrain:     10,
		ParamBatchSize:  3,
	})
	cfg := ConfigFromContext(ctx)
	assert.Equal(t, []string{"WHAM"}, cfg.Train)
	assert.Empty(t, cfg.Val)
	assert.Equal(t, 8000, cfg.NumSamples())
	assert.Equal(t, 10, cfg.NSamples[SplitTrain])
	assert.Equal(t, 2, cfg.NumSources())
	require.NoError(t, cfg.Validate())

	for name, modify := range map[string]func(c *Config){
		"multiple datasets": func(c *Config) { c.Test = []string{"WHAM", "LIBRI2MIX"} },
		"unknown dataset":   func(c *Config) { c.Val = []string{"TIMIT"} },
		"musdb rate":        func(c *Config) { c.TrainVal = []string{"MUSDB"} },
		"unknown task":      func(c *Config) { c.Task = "dereverb" },
		"zero batch":        func(c *Config) { c.BatchSize = 0 },
		"zero length":       func(c *Config) { c.TimeLength = 0 },
	} {
		c := *cfg
		modify(&c)
		err := c.Validate()
		require.Errorf(t, err, "case %q", name)
		assert.Truef(t, config.IsInvalid(err), "case %q", name)
	}
}

func TestRoots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datasets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wham: /data/wham\nmusdb_8k: /data/musdb8k\n"), 0o644))
	t.Setenv("FUSS_ROOT_PATH", "/env/fuss")
	t.Setenv("WHAM_ROOT_PATH", "/env/wham")

	roots, err := LoadRoots(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/wham", roots.WHAM)
	assert.Equal(t, "/env/fuss", roots.FUSS)

	root, err := roots.RootFor(MUSDB, 8000)
	require.NoError(t, err)
	assert.Equal(t, "/data/musdb8k", root)
	_, err = roots.RootFor(MUSDB, 16000)
	assert.True(t, config.IsInvalid(err))
	_, err = roots.RootFor(MUSDB, 44100) // Not configured.
	assert.True(t, config.IsInvalid(err))

	saved := filepath.Join(dir, "saved.yaml")
	require.NoError(t, roots.Save(saved))
	reloaded, err := LoadRoots(saved)
	require.NoError(t, err)
	assert.Equal(t, roots, reloaded)

	_, err = LoadRoots(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.NoError(t, os.WriteFile(path, []byte("wham: [unterminated"), 0o644))
	_, err = LoadRoots(path)
	require.Error(t, err)
}

// writeSplit writes a WHAM-like split with "mix_clean", "s1" and "s2" directories, where the mixture
// is the sum of the sources. lengths gives the number of samples of each example.
func writeSplit(t *testing.T, splitDir string, fs int, lengths []int) {
	for _, dir := range []string{"mix_clean", "s1", "s2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(splitDir, dir), 0o755))
	}
	for ii, length := range lengths {
		name := fmt.Sprintf("ex%03d.wav", ii)
		s1 := make([]float32, length)
		s2 := make([]float32, length)
		mix := make([]float32, length)
		for jj := range length {
			s1[jj] = float32(0.3 * math.Sin(float64(jj)*0.05*float64(ii+1)))
			s2[jj] = float32(0.2 * math.Cos(float64(jj)*0.11))
			mix[jj] = s1[jj] + s2[jj]
		}
		require.NoError(t, audio.WriteWav(filepath.Join(splitDir, "mix_clean", name), mix, fs))
		require.NoError(t, audio.WriteWav(filepath.Join(splitDir, "s1", name), s1, fs))
		require.NoError(t, audio.WriteWav(filepath.Join(splitDir, "s2", name), s2, fs))
	}
}

func yieldAll(t *testing.T, ds train.Dataset) (batchSizes []int) {
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		dims := inputs[0].Shape().Dimensions
		require.Len(t, dims, 2)
		assert.Equal(t, []int{dims[0], 2, dims[1]}, labels[0].Shape().Dimensions)
		batchSizes = append(batchSizes, dims[0])
	}
}

func TestMixtureDataset(t *testing.T) {
	splitDir := filepath.Join(t.TempDir(), "tr")
	// Example 2 is too short; example 4 is longer and gets cropped.
	writeSplit(t, splitDir, 8000, []int{100, 120, 50, 100, 300, 100})
	// A mixture without sources is skipped.
	require.NoError(t, audio.WriteWav(filepath.Join(splitDir, "mix_clean", "orphan.wav"), make([]float32, 100), 8000))

	cfg := MixtureDatasetConfig{
		Name:       "WHAM/train",
		Dir:        splitDir,
		MixDir:     "mix_clean",
		SourceDirs: []string{"s1", "s2"},
		Fs:         8000,
		NumSamples: 100,
		BatchSize:  2,
	}
	evalDS, err := NewMixtureDataset(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, evalDS.NumExamples())
	assert.Equal(t, 2, evalDS.NumSources())
	assert.Equal(t, "WHA", evalDS.ShortName())
	assert.Equal(t, []int{2, 2, 1}, yieldAll(t, evalDS))
	evalDS.Reset()
	assert.Equal(t, []int{2, 2, 1}, yieldAll(t, evalDS))

	// The mixture is the sum of the sources.
	evalDS.Reset()
	_, inputs, labels, err := evalDS.Yield()
	require.NoError(t, err)
	mixes := tensors.MustCopyFlatData[float32](inputs[0])
	sources := tensors.MustCopyFlatData[float32](labels[0])
	for ii := range 100 {
		require.InDelta(t, mixes[ii], sources[ii]+sources[100+ii], 2e-3)
	}

	// Training: shuffled, drops the last incomplete batch.
	cfg.Training = true
	cfg.Seed = 42
	trainDS, err := NewMixtureDataset(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, yieldAll(t, trainDS))

	// Augmented evaluation (train_val): in order, every example, long ones cropped at random offsets.
	cfg.Training = false
	cfg.Augment = true
	augmentedDS, err := NewMixtureDataset(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, yieldAll(t, augmentedDS))
	startCrop, _, ok, err := evalDS.LoadExample(4)
	require.NoError(t, err)
	require.True(t, ok)
	var moved bool
	for range 20 {
		crop, _, ok, err := augmentedDS.LoadExample(4)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, crop, 100)
		if !slices.Equal(crop, startCrop) {
			moved = true
			break
		}
	}
	assert.True(t, moved, "augmented dataset always cropped at the start")

	// Zero padding keeps the short example.
	cfg.Augment = false
	cfg.ZeroPad = true
	cfg.BatchSize = 3
	paddedDS, err := NewMixtureDataset(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, yieldAll(t, paddedDS))

	// Limited number of examples.
	cfg.NumExamples = 4
	limitedDS, err := NewMixtureDataset(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, limitedDS.NumExamples())

	cfg.MixDir = "mix_both"
	_, err = NewMixtureDataset(cfg, nil)
	require.Error(t, err)
}

func TestRemix(t *testing.T) {
	const batchSize, numSources, numSamples = 3, 2, 64
	sources := make([]float32, batchSize*numSources*numSamples)
	for b := range batchSize {
		for k := range numSources {
			for ii := range numSamples {
				sources[(b*numSources+k)*numSamples+ii] = float32(float64(b+1) * math.Sin(float64(ii)*float64(1+k+2*b)*0.1))
			}
		}
	}
	original := make([][]float32, 0, batchSize*numSources)
	for ii := range batchSize * numSources {
		original = append(original, audio.Normalize(sources[ii*numSamples:(ii+1)*numSamples]))
	}

	rng := rand.New(rand.NewPCG(1, 2))
	mixes, remixed := Remix(sources, batchSize, numSources, numSamples, rng)
	require.Len(t, mixes, batchSize*numSamples)
	require.Len(t, remixed, len(sources))

	for b := range batchSize {
		mean, std := audio.MeanStd(mixes[b*numSamples : (b+1)*numSamples])
		assert.InDelta(t, 0, mean, 1e-5)
		assert.InDelta(t, 1, std, 1e-4)
		for k := range numSources {
			// Each new source is one of the original sources, normalized.
			got := remixed[(b*numSources+k)*numSamples : (b*numSources+k+1)*numSamples]
			found := false
			for _, candidate := range original {
				matches := true
				for ii := range got {
					if math.Abs(float64(got[ii]-candidate[ii])) > 1e-4 {
						matches = false
						break
					}
				}
				found = found || matches
			}
			assert.Truef(t, found, "remixed source %d of example %d is not one of the originals", k, b)
		}
	}
	assert.Panics(t, func() { Remix(sources[1:], batchSize, numSources, numSamples, rng) })
}

func TestSetup(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, filepath.Join(root, "tr"), 8000, []int{100, 100, 100, 100})
	writeSplit(t, filepath.Join(root, "cv"), 8000, []int{100, 100, 100})
	roots := &Roots{WHAM: root}
	cfg := &Config{
		Train:      []string{"WHAM"},
		Val:        []string{"WHAM"},
		Task:       "sep_clean",
		Fs:         8000,
		TimeLength: 100.0 / 8000.0,
		OnlineMix:  true,
		NSamples:   map[Split]int{},
		BatchSize:  2,
	}
	cache, err := audiocache.Open("", true)
	require.NoError(t, err)
	defer func() { require.NoError(t, cache.Close()) }()
	loader := audiocache.NewLoader(cache)

	dss, err := Setup(cfg, roots, loader, 0, 7)
	require.NoError(t, err)
	require.Len(t, dss, 2)
	require.IsType(t, &RemixDataset{}, dss[SplitTrain])
	require.IsType(t, &MixtureDataset{}, dss[SplitVal])
	assert.Equal(t, "WHAM/val", dss[SplitVal].Name())
	assert.Equal(t, []int{2, 2}, yieldAll(t, dss[SplitTrain]))
	assert.Equal(t, []int{2, 1}, yieldAll(t, dss[SplitVal]))

	// Second epoch comes from the cache.
	dss[SplitTrain].Reset()
	assert.Equal(t, []int{2, 2}, yieldAll(t, dss[SplitTrain]))
	hits, _ := loader.Stats()
	assert.Equal(t, int64(12), hits)

	// Read in parallel.
	parallel, err := Setup(cfg, roots, loader, 3, 7)
	require.NoError(t, err)
	defer Done(parallel)
	assert.Equal(t, []int{2, 2}, yieldAll(t, parallel[SplitTrain]))

	// Missing root.
	cfg.Test = []string{"FUSS"}
	_, err = Setup(cfg, roots, loader, 0, 7)
	assert.True(t, config.IsInvalid(err))
}
