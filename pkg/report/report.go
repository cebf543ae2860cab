// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report implements the sinks of the training metrics (log, JSON lines file and plots),
// the accumulation of per-example metrics into mean and standard deviation, and the logging of
// separated audio examples.
package report

import (
	"strings"

	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Reporter receives scalar metrics keyed by name, at some step (usually the epoch).
type Reporter interface {
	Report(name string, value float64, step int)
}

// Closer is implemented by reporters that need flushing at the end.
type Closer interface {
	Close() error
}

// Flusher is implemented by reporters that can persist what they received so far, without closing.
// The experiment flushes its reporter at the end of every epoch.
type Flusher interface {
	Flush() error
}

// Multi sends every metric to all its reporters. Nil reporters are ignored.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(name string, value float64, step int) {
	for _, r := range m {
		if r != nil {
			r.Report(name, value, step)
		}
	}
}

// Flush flushes every reporter that implements Flusher, returning the first error.
func (m Multi) Flush() error {
	var firstErr error
	for _, r := range m {
		if f, ok := r.(Flusher); ok {
			if err := f.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every reporter that implements Closer, returning the first error.
func (m Multi) Close() error {
	var firstErr error
	for _, r := range m {
		if c, ok := r.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Logger reports metrics to the log.
type Logger struct{}

// Report implements Reporter.
func (Logger) Report(name string, value float64, step int) {
	klog.Infof("[step %d] %s=%.4f", step, name, value)
}

// metricType groups metrics for plotting: SI-SDR(i) metrics and losses.
func metricType(name string) string {
	if strings.Contains(strings.ToLower(name), "sisdr") {
		return "SI-SDR (dB)"
	}
	return "loss"
}

// JSONLines appends one JSON record per metric to a file, in the format of plots.Point, so it can be
// read back with plots.LoadPoints.
type JSONLines struct {
	points chan<- plots.Point
	errs   <-chan error
}

// NewJSONLines creates (or appends to) the file in path.
func NewJSONLines(path string) *JSONLines {
	points, errs := plots.CreatePointsWriter(path)
	return &JSONLines{points: points, errs: errs}
}

// Report implements Reporter.
func (j *JSONLines) Report(name string, value float64, step int) {
	j.points <- plots.Point{
		MetricName: name,
		Short:      name,
		MetricType: metricType(name),
		Step:       float64(step),
		Value:      value,
	}
}

// Close flushes the file. The JSONLines can't be used afterwards.
func (j *JSONLines) Close() error {
	close(j.points)
	return errors.WithMessage(<-j.errs, "metrics log")
}
