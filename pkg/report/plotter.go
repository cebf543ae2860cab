// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package report

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Plotter collects the metrics and draws one PNG line plot per metric, in Dir, whenever Flush is called.
type Plotter struct {
	Dir string

	mu     sync.Mutex
	names  []string
	series map[string]plotter.XYs
}

// NewPlotter creates the directory dir if needed.
func NewPlotter(dir string) (*Plotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create plots directory %q", dir)
	}
	return &Plotter{Dir: dir, series: make(map[string]plotter.XYs)}, nil
}

// Report implements Reporter.
func (p *Plotter) Report(name string, value float64, step int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, found := p.series[name]; !found {
		p.names = append(p.names, name)
	}
	p.series[name] = append(p.series[name], plotter.XY{X: float64(step), Y: value})
}

// FileName returns the file where the plot of the metric is saved.
func (p *Plotter) FileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
	return filepath.Join(p.Dir, safe+".png")
}

// Flush draws the plots of all metrics reported so far.
func (p *Plotter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.names {
		pl := plot.New()
		pl.Title.Text = name
		pl.X.Label.Text = "step"
		pl.Y.Label.Text = metricType(name)
		line, err := plotter.NewLine(p.series[name])
		if err != nil {
			return errors.Wrapf(err, "failed to plot metric %q", name)
		}
		pl.Add(plotter.NewGrid(), line)
		if err := pl.Save(8*vg.Inch, 4*vg.Inch, p.FileName(name)); err != nil {
			return errors.Wrapf(err, "failed to save plot of metric %q", name)
		}
	}
	klog.V(1).Infof("Saved %d plots to %q", len(p.names), p.Dir)
	return nil
}

// Close implements Closer, drawing the plots a last time.
func (p *Plotter) Close() error {
	return p.Flush()
}
