// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/models"
	"github.com/gomlx/sudormrf/pkg/report"
	"github.com/gomlx/sudormrf/pkg/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a separation model",
	Long: `Train a separation model for n_epochs, evaluating the SI-SDR improvement on the
validation splits at the end of every epoch.

With --checkpoint, a checkpoint is saved at the end of every epoch, and training resumes
from the last one.

Example:
  sudormrf train --checkpoint=sudo_wham --set="model=attention;n_epochs=200" --metrics_log=sudo_wham.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return TryCatch[error](runTrain)
	},
}

func runTrain() {
	s := newSession(false)
	cfg := training.ConfigFromContext(s.ctx)
	must.M(cfg.Validate())
	modelFn := must.M1(models.NewModelFn(s.ctx))
	klog.V(1).Infof("Hyperparameters:\n%s", commandline.SprintContextSettings(s.ctx))

	dss, closeDatasets := loadDatasets(s.ctx, false)
	defer closeDatasets()
	reporter := newReporter()
	defer func() { must.M(reporter.Close()) }()

	exp := must.M1(training.New(s.backend, s.ctx, cfg, modelFn, dss, reporter))
	if s.checkpoint != nil {
		exp.WithCheckpoint(s.checkpoint)
	}
	if flagAudioLog != "" {
		exp.WithAudioLogger(&report.AudioLogger{
			Dir:         flagAudioLog,
			SampleRate:  datasets.ConfigFromContext(s.ctx).Fs,
			MaxExamples: cfg.AudioLogExamples,
		})
	}
	if !flagNoProgress {
		exp.WithProgressBar()
	}
	if epoch := exp.Epoch(); epoch > 0 {
		klog.Infof("Resuming training from epoch %d", epoch)
	}
	must.M(exp.Run())
}
