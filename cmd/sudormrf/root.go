// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/gomlx/sudormrf/pkg/audiocache"
	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/models"
	"github.com/gomlx/sudormrf/pkg/report"
	"github.com/gomlx/sudormrf/pkg/training"

	_ "github.com/gomlx/gomlx/backends/default"
)

// InMemoryCache is the --cache value for a cache that is not persisted.
const InMemoryCache = ":memory:"

var (
	flagSettings    string
	flagConfig      string
	flagData        string
	flagCheckpoint  string
	flagMetricsLog  string
	flagPlots       string
	flagAudioLog    string
	flagCache       string
	flagParallelism int
	flagSeed        uint64
	flagNoProgress  bool
)

// ParamsExcludedFromSaving are hyperparameters that are not saved along the checkpoints, so
// they can be changed when resuming training.
var ParamsExcludedFromSaving = []string{training.ParamNumEpochs}

var rootCmd = &cobra.Command{
	Use:   "sudormrf",
	Short: "Speech separation with SuDoRmRf and Sepformer models",
	Long: `Train, evaluate and run speech separation models.

Models: "relu", "attention", "attention_v2", "attention_v3" (SuDoRmRf variants) and "sepformer".
Select one with --set="model=sepformer", and see "sudormrf params" for all the hyperparameters.

Dataset roots are configured in a YAML file (--config):
  wham: ~/data/wham
  libri2mix: ~/data/Libri2Mix/wav8k/min`,
	SilenceUsage: true,
}

func init() {
	klog.InitFlags(nil)
	flags := rootCmd.PersistentFlags()
	flags.AddGoFlagSet(flag.CommandLine)
	flags.StringVar(&flagSettings, "set", "",
		`Hyperparameters to set, e.g. "model=sepformer;batch_size=2;learning_rate=1.5e-4".`)
	flags.StringVar(&flagConfig, "config", datasets.DefaultRootsFile, "YAML file with the datasets root directories.")
	flags.StringVar(&flagData, "data", "~/.sudormrf", "Base directory for relative checkpoint directories.")
	flags.StringVar(&flagCheckpoint, "checkpoint", "",
		"Checkpoint directory, absolute or relative to --data. Training resumes from it if it exists.")
	flags.StringVar(&flagMetricsLog, "metrics_log", "", "If set, append the epoch metrics to this JSON lines file.")
	flags.StringVar(&flagPlots, "plots", "", "If set, save plots of the metrics as PNG files in this directory.")
	flags.StringVar(&flagAudioLog, "audio_log", "",
		"If set, save audio examples of each evaluation split in this directory at the end of every epoch.")
	flags.StringVar(&flagCache, "cache", "",
		fmt.Sprintf("Directory of the decoded audio cache, %q for an in-memory cache, empty to disable it.", InMemoryCache))
	flags.IntVar(&flagParallelism, "parallelism", 4, "Number of goroutines reading each dataset, 0 or 1 reads synchronously.")
	flags.Uint64Var(&flagSeed, "seed", 42, "Random seed of the datasets' shuffling, cropping and remixing.")
	flags.BoolVar(&flagNoProgress, "no_progress", false, "Disable progress bars.")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(separateCmd)
	rootCmd.AddCommand(paramsCmd)
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

// session holds what is shared by all commands: the context with the hyperparameters,
// the backend and the optional checkpoint.
type session struct {
	ctx        *context.Context
	paramsSet  []string
	backend    backends.Backend
	checkpoint *checkpoints.Handler
}

// newSession parses the hyperparameters and loads the checkpoint. If requireCheckpoint is set,
// a checkpoint with saved variables must exist.
func newSession(requireCheckpoint bool) *session {
	s := &session{ctx: models.CreateDefaultContext()}
	s.paramsSet = must.M1(commandline.ParseContextSettings(s.ctx, flagSettings))
	if flagCheckpoint != "" {
		dataDir := must.M1(fsutil.ReplaceTildeInDir(flagData))
		must.M(os.MkdirAll(dataDir, 0o755))
		s.checkpoint = must.M1(checkpoints.Build(s.ctx).
			DirFromBase(must.M1(fsutil.ReplaceTildeInDir(flagCheckpoint)), dataDir).
			Keep(context.GetParamOr(s.ctx, training.ParamNumCheckpoints, 3)).
			ExcludeParams(append(s.paramsSet, ParamsExcludedFromSaving...)...).
			Done())
		klog.Infof("Checkpoint directory: %s", s.checkpoint.Dir())
	}
	if requireCheckpoint {
		if s.checkpoint == nil {
			panic(errors.New("--checkpoint is required"))
		}
		if !must.M1(s.checkpoint.HasCheckpoints()) {
			panic(errors.Errorf("no checkpoints found in %q", s.checkpoint.Dir()))
		}
	}
	s.backend = backends.MustNew()
	klog.V(1).Infof("Backend %q: %s", s.backend.Name(), s.backend.Description())
	return s
}

// openLoader of audio files, with the cache configured by --cache. The returned function closes the cache.
func openLoader() (*audiocache.Loader, func()) {
	if flagCache == "" {
		return audiocache.NewLoader(nil), func() {}
	}
	var cache *audiocache.Cache
	if flagCache == InMemoryCache {
		cache = must.M1(audiocache.Open("", true))
	} else {
		cache = must.M1(audiocache.Open(must.M1(fsutil.ReplaceTildeInDir(flagCache)), false))
	}
	return audiocache.NewLoader(cache), func() {
		if err := cache.Close(); err != nil {
			klog.Warningf("Failed to close audio cache: %+v", err)
		}
	}
}

// loadDatasets creates the datasets configured in the context. If evalOnly, the training split is skipped.
// The returned function stops the dataset readers and closes the cache.
func loadDatasets(ctx *context.Context, evalOnly bool) (map[datasets.Split]train.Dataset, func()) {
	cfg := datasets.ConfigFromContext(ctx)
	if evalOnly {
		cfg.Train = nil
	}
	roots := must.M1(datasets.LoadRoots(flagConfig))
	loader, closeLoader := openLoader()
	dss, err := datasets.Setup(cfg, roots, loader, flagParallelism, flagSeed)
	if err != nil {
		closeLoader()
		panic(err)
	}
	for split, ds := range dss {
		klog.Infof("Dataset %s: %s", split, ds.Name())
	}
	return dss, func() {
		datasets.Done(dss)
		hits, misses := loader.Stats()
		klog.V(1).Infof("Audio cache: %s hits, %s misses", humanize.Comma(hits), humanize.Comma(misses))
		closeLoader()
	}
}

// newReporter with the sinks configured by the flags. Close it when done.
func newReporter() report.Multi {
	reporter := report.Multi{report.Logger{}}
	if flagMetricsLog != "" {
		path := must.M1(fsutil.ReplaceTildeInDir(flagMetricsLog))
		must.M(os.MkdirAll(filepath.Dir(path), 0o755))
		reporter = append(reporter, report.NewJSONLines(path))
	}
	if flagPlots != "" {
		reporter = append(reporter, must.M1(report.NewPlotter(must.M1(fsutil.ReplaceTildeInDir(flagPlots)))))
	}
	return reporter
}
