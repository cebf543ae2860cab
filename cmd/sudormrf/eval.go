// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"

	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/models"
	"github.com/gomlx/sudormrf/pkg/report"
	"github.com/gomlx/sudormrf/pkg/training"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a checkpoint on the evaluation splits",
	Long: `Evaluate the model saved in --checkpoint on the configured val, test and train_val splits,
reporting the mean and standard deviation of the SI-SDR improvement.

Example:
  sudormrf eval --checkpoint=sudo_wham --set="test=WHAM;val="`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return TryCatch[error](runEval)
	},
}

func runEval() {
	s := newSession(true)
	modelFn := must.M1(models.NewModelFn(s.ctx))
	dss, closeDatasets := loadDatasets(s.ctx, true)
	defer closeDatasets()
	reporter := newReporter()
	defer func() { must.M(reporter.Close()) }()

	exp := must.M1(training.New(s.backend, s.ctx, training.ConfigFromContext(s.ctx), modelFn, dss, reporter))
	if !flagNoProgress {
		exp.WithProgressBar()
	}
	acc := report.NewAccumulator()
	for _, split := range training.EvalSplits {
		if dss[split] == nil {
			continue
		}
		acc.Add(string(split)+training.SISDRiSuffix, must.M1(exp.Evaluate(split))...)
	}
	fmt.Printf("Epoch %d:\n%s\n", exp.Epoch(), report.Table(acc.Report(reporter, exp.Epoch())))
}
