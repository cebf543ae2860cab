// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

// Summary of an accumulated metric.
type Summary struct {
	Name      string
	Mean, Std float64
	Count     int
}

// Accumulator collects named lists of values (e.g. the SI-SDRi of every validation example of an epoch),
// and summarizes them with their mean and standard deviation. It is reset at the end of each epoch.
type Accumulator struct {
	names  []string
	values map[string][]float64
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[string][]float64)}
}

// Add values to the named metric.
func (a *Accumulator) Add(name string, values ...float64) {
	if _, found := a.values[name]; !found {
		a.names = append(a.names, name)
	}
	a.values[name] = append(a.values[name], values...)
}

// Values returns the values accumulated for name so far.
func (a *Accumulator) Values(name string) []float64 {
	return a.values[name]
}

// Summary returns the mean and (population) standard deviation of each metric, in the order they were first added.
func (a *Accumulator) Summary() []Summary {
	summaries := make([]Summary, 0, len(a.names))
	for _, name := range a.names {
		values := a.values[name]
		s := Summary{Name: name, Count: len(values)}
		if len(values) > 0 {
			for _, v := range values {
				s.Mean += v
			}
			s.Mean /= float64(len(values))
			for _, v := range values {
				s.Std += (v - s.Mean) * (v - s.Mean)
			}
			s.Std = math.Sqrt(s.Std / float64(len(values)))
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// Report emits "<name>_mean" and "<name>_std" for every metric with at least one value.
func (a *Accumulator) Report(r Reporter, step int) []Summary {
	summaries := a.Summary()
	for _, s := range summaries {
		if s.Count == 0 {
			continue
		}
		r.Report(s.Name+"_mean", s.Mean, step)
		r.Report(s.Name+"_std", s.Std, step)
	}
	return summaries
}

// Reset clears all values, keeping the metric names.
func (a *Accumulator) Reset() {
	for name := range a.values {
		a.values[name] = a.values[name][:0]
	}
}

// Table renders the summaries as a table.
func Table(summaries []Summary) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	numberStyle := cellStyle.Align(lipgloss.Right)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0: // Header.
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		}).
		Headers("Metric", "Mean", "Std", "Count")
	sorted := slices.Clone(summaries)
	slices.SortStableFunc(sorted, func(a, b Summary) int { return strings.Compare(a.Name, b.Name) })
	for _, s := range sorted {
		table.Row(s.Name, fmt.Sprintf("%.3f", s.Mean), fmt.Sprintf("%.3f", s.Std), fmt.Sprintf("%d", s.Count))
	}
	return table.String()
}
