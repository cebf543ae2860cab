// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/audio"
	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/models"
	"github.com/gomlx/sudormrf/pkg/training"
)

var (
	flagOutput string
	flagParams string
)

var separateCmd = &cobra.Command{
	Use:   "separate <file.wav>...",
	Short: "Separate the sources of WAV files",
	Long: `Separate each input WAV file with the model saved in --checkpoint (or in --params, a file
exported with "sudormrf params --export"), writing one file per source:
<output>/<name>_s1.wav, <output>/<name>_s2.wav, ...

Inputs are resampled to the model's sample rate (hyperparameter "fs").

Example:
  sudormrf separate --checkpoint=sudo_wham --output=separated mixture.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return TryCatch[error](func() { runSeparate(args) })
	},
}

func init() {
	separateCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "Output directory.")
	separateCmd.Flags().StringVar(&flagParams, "params", "", "Model parameters file, used instead of --checkpoint.")
}

func runSeparate(paths []string) {
	s := newSession(flagParams == "")
	if flagParams != "" {
		must.M(training.LoadParams(s.ctx, flagParams))
	}
	modelFn := must.M1(models.NewModelFn(s.ctx))
	fs := datasets.ConfigFromContext(s.ctx).Fs
	must.M(os.MkdirAll(flagOutput, 0o755))
	for _, path := range paths {
		clip := must.M1(audio.ReadWav(path))
		samples := clip.Samples
		if clip.SampleRate != fs {
			samples = must.M1(audio.Resample(samples, clip.SampleRate, fs))
		}
		sources, err := training.Separate(s.backend, s.ctx, modelFn, samples)
		if err != nil {
			panic(errors.WithMessagef(err, "separating %q", path))
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for ii, source := range sources {
			outPath := filepath.Join(flagOutput, fmt.Sprintf("%s_s%d.wav", base, ii+1))
			must.M(audio.WriteWav(outPath, source, fs))
			klog.Infof("Wrote %s", outPath)
		}
	}
}
