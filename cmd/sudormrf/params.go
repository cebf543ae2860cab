// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/spf13/cobra"

	. "github.com/gomlx/gomlx/pkg/support/exceptions"

	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/models"
	"github.com/gomlx/sudormrf/pkg/training"
)

var flagExport string

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the hyperparameters and the model parameters",
	Long: `Print the hyperparameters (after --set and the checkpoint are applied) and a table with the
model variables and their sizes.

Without --checkpoint the model is built once with a one second input to list its variables.
With --export the model variables are saved to a file that "sudormrf separate --params" can read.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return TryCatch[error](runParams)
	},
}

func init() {
	paramsCmd.Flags().StringVar(&flagExport, "export", "", "Save the model variables to this file.")
}

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	headerStyle = cellStyle.Bold(true).Reverse(true)
)

func runParams() {
	s := newSession(false)
	fmt.Println("Hyperparameters:")
	fmt.Println(commandline.SprintContextSettings(s.ctx))

	modelFn := must.M1(models.NewModelFn(s.ctx))
	hasCheckpoint := s.checkpoint != nil && must.M1(s.checkpoint.HasCheckpoints())
	if !hasCheckpoint {
		// Build the model once to create its variables.
		fs := datasets.ConfigFromContext(s.ctx).Fs
		_ = must.M1(context.ExecOnceN(s.backend, s.ctx.In(training.ModelScope),
			func(ctx *context.Context, mix *Node) *Node {
				return modelFn(ctx, nil, []*Node{mix})[0]
			}, [][]float32{make([]float32, fs)}))
	}

	if hasCheckpoint {
		// Variables are loaded lazily from checkpoints: read them into the context.
		for _, name := range slices.Collect(maps.Keys(s.checkpoint.LoadedVariables())) {
			scope, varName := context.VariableScopeAndNameFromParameterName(name)
			if strings.HasPrefix(scope, context.RootScope+training.ModelScope) {
				_ = s.ctx.GetVariableByScopeAndName(scope, varName)
			}
		}
	}
	params := training.ParamsMap(s.ctx)
	names := slices.Sorted(maps.Keys(params))
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerStyle
			case col > 0:
				return numberStyle
			default:
				return cellStyle
			}
		}).
		Headers("Variable", "Shape", "Size")
	var total int
	for _, name := range names {
		shape := params[name].Shape()
		total += shape.Size()
		table.Row(strings.TrimPrefix(name, context.VariableParameterPrefix), shape.String(), humanize.Comma(int64(shape.Size())))
	}
	fmt.Println(table.String())
	fmt.Printf("Total: %s parameters in %d variables\n", humanize.Comma(int64(total)), len(names))

	if flagExport != "" {
		must.M(training.SaveParams(s.ctx, flagExport))
		fmt.Printf("Saved model variables to %q\n", flagExport)
	}
}
