// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sudormrf/pkg/audio"
	"github.com/gomlx/sudormrf/pkg/audiocache"
	"github.com/gomlx/sudormrf/pkg/config"
	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/report"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestLearningRateAt(t *testing.T) {
	cfg := &Config{LearningRate: 1e-3, DivideLRBy: 3, ReduceLREvery: 2}
	for epoch, want := range []float64{1e-3, 1e-3, 1e-3, 1e-3 / 3, 1e-3 / 3, 1e-3 / 9} {
		assert.InDeltaf(t, want, cfg.LearningRateAt(epoch), 1e-12, "epoch %d", epoch)
	}
	cfg.ReduceLREvery = 0
	assert.Equal(t, 1e-3, cfg.LearningRateAt(1000))
}

func TestConfig(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamNumEpochs:               7,
		optimizers.ParamLearningRate: 0.01,
		ParamClipGradNorm:            0.0,
	})
	cfg := ConfigFromContext(ctx)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.NumEpochs)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 0.0, cfg.ClipGradNorm)
	assert.Equal(t, 50, cfg.ReduceLREvery)

	for _, modify := range []func(c *Config){
		func(c *Config) { c.NumEpochs = -1 },
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.DivideLRBy = 0 },
		func(c *Config) { c.ClipGradNorm = -1 },
		func(c *Config) { c.NumCheckpoints = 0 },
	} {
		bad := *cfg
		modify(&bad)
		assert.True(t, config.IsInvalid(bad.Validate()))
	}
}

// noGradientsOptimizer doesn't implement OptimizerWithGradients.
type noGradientsOptimizer struct{}

func (noGradientsOptimizer) UpdateGraph(*context.Context, *Graph, *Node) {}
func (noGradientsOptimizer) Clear(*context.Context) error             { return nil }

func TestClipByGlobalNorm(t *testing.T) {
	sgd := optimizers.StochasticGradientDescent()
	opt, err := ClipByGlobalNorm(sgd, 0)
	require.NoError(t, err)
	assert.Equal(t, sgd, opt)

	opt, err = ClipByGlobalNorm(sgd, 5)
	require.NoError(t, err)
	assert.IsType(t, &clipByGlobalNorm{}, opt)

	_, err = ClipByGlobalNorm(sgd, -1)
	assert.Error(t, err)
	_, err = ClipByGlobalNorm(noGradientsOptimizer{}, 5)
	assert.Error(t, err)

	graphtest.RunTestGraphFn(t, "ClipGradientsByGlobalNorm", func(g *Graph) (inputs, outputs []*Node) {
		inputs = []*Node{Const(g, []float32{3, 0}), Const(g, []float32{4})}
		clipped := ClipGradientsByGlobalNorm(inputs, 1)
		unchanged := ClipGradientsByGlobalNorm(inputs, 10)
		outputs = []*Node{GlobalNorm(inputs), clipped[0], clipped[1], unchanged[0], unchanged[1]}
		return
	}, []any{
		float32(5),
		[]float32{0.6, 0},
		[]float32{0.8},
		[]float32{3, 0},
		[]float32{4},
	}, 1e-4)

	// Clipping exactly at the norm is a no-op, up to ClipEpsilon.
	graphtest.RunTestGraphFn(t, "ClipGradientsByGlobalNorm at the norm", func(g *Graph) (inputs, outputs []*Node) {
		inputs = []*Node{Const(g, [][]float32{{1, 1}, {1, 1}})}
		outputs = ClipGradientsByGlobalNorm(inputs, 2)
		return
	}, []any{
		[][]float32{{1, 1}, {1, 1}},
	}, 1e-4)
	assert.Empty(t, ClipGradientsByGlobalNorm(nil, 1))
	require.Panics(t, func() { _ = GlobalNorm(nil) })
}

// tinyModel estimates 2 sources as learned polynomials of the mixture.
func tinyModel(ctx *context.Context, _ any, inputs []*Node) []*Node {
	mix := InsertAxes(inputs[0], 1) // [batch, 1, time]
	g := mix.Graph()
	gains := Reshape(ctx.VariableWithValue("gains", []float32{1, 0.5}).ValueGraph(g), 1, 2, 1)
	squares := Reshape(ctx.VariableWithValue("squares", []float32{0.1, -0.1}).ValueGraph(g), 1, 2, 1)
	return []*Node{Add(Mul(gains, mix), Mul(squares, Square(mix)))}
}

// writeExamples writes "mix_clean", "s1" and "s2" waveforms of numSamples each.
func writeExamples(t *testing.T, dir string, numExamples, numSamples int) {
	for _, sub := range []string{"mix_clean", "s1", "s2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0o755))
	}
	for ii := range numExamples {
		s1 := make([]float32, numSamples)
		s2 := make([]float32, numSamples)
		mix := make([]float32, numSamples)
		for jj := range numSamples {
			s1[jj] = float32(0.3 * math.Sin(float64(jj)*0.07*float64(ii+1)))
			s2[jj] = float32(0.2 * math.Sin(float64(jj)*0.31+float64(ii)))
			mix[jj] = s1[jj] + s2[jj]
		}
		name := fmt.Sprintf("ex%02d.wav", ii)
		require.NoError(t, audio.WriteWav(filepath.Join(dir, "mix_clean", name), mix, 8000))
		require.NoError(t, audio.WriteWav(filepath.Join(dir, "s1", name), s1, 8000))
		require.NoError(t, audio.WriteWav(filepath.Join(dir, "s2", name), s2, 8000))
	}
}

func newTestDatasets(t *testing.T, root string) map[datasets.Split]train.Dataset {
	loader := audiocache.NewLoader(nil)
	dss := make(map[datasets.Split]train.Dataset)
	for _, split := range []datasets.Split{datasets.SplitTrain, datasets.SplitVal} {
		dir := filepath.Join(root, string(split))
		writeExamples(t, dir, 4, 64)
		ds, err := datasets.NewMixtureDataset(datasets.MixtureDatasetConfig{
			Name:       "test/" + string(split),
			Dir:        dir,
			MixDir:     "mix_clean",
			SourceDirs: []string{"s1", "s2"},
			Fs:         8000,
			NumSamples: 64,
			BatchSize:  2,
			Training:   split.IsTraining(),
			Augment:    split.Augments(),
			Seed:       1,
		}, loader)
		require.NoError(t, err)
		dss[split] = ds
	}
	return dss
}

type recorder struct {
	mu      sync.Mutex
	values  map[string][]float64
	steps   map[string][]int
	flushes int
}

func (r *recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func (r *recorder) Report(name string, value float64, step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[string][]float64)
		r.steps = make(map[string][]int)
	}
	r.values[name] = append(r.values[name], value)
	r.steps[name] = append(r.steps[name], step)
}

func newTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamNumEpochs:               2,
		ParamReduceLREvery:           1,
		ParamDivideLRBy:              2.0,
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-2,
	})
	return ctx
}

func learningRate(exp *Experiment) float64 {
	lrVar := optimizers.LearningRateVar(exp.Context(), dtypes.Float32, 0)
	return float64(tensors.ToScalar[float32](lrVar.MustValue()))
}

func TestExperiment(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping training test in short mode")
	}
	backend := graphtest.BuildTestBackend()
	root := t.TempDir()
	dss := newTestDatasets(t, root)
	checkpointDir := filepath.Join(root, "checkpoint")
	audioDir := filepath.Join(root, "audio")

	ctx := newTestContext()
	checkpoint, err := checkpoints.Build(ctx).Dir(checkpointDir).Keep(2).Done()
	require.NoError(t, err)
	rec := &recorder{}
	exp, err := New(backend, ctx, ConfigFromContext(ctx), tinyModel, dss, rec)
	require.NoError(t, err)
	exp.WithCheckpoint(checkpoint).
		WithAudioLogger(&report.AudioLogger{Dir: audioDir, SampleRate: 8000, MaxExamples: 1})
	experimentID := context.GetParamOr(ctx, ParamExperimentID, "")
	require.NotEmpty(t, experimentID)

	require.NoError(t, exp.Run())
	assert.Equal(t, 2, exp.Epoch())
	assert.Equal(t, []int{0, 1}, rec.steps["tr_loss_mean"])
	assert.Equal(t, 2, rec.flushes, "reporter must be flushed at the end of every epoch")
	assert.Equal(t, []int{0, 1}, rec.steps["val_SISDRi_mean"])
	assert.Len(t, rec.values["val_SISDRi_std"], 2)
	for _, v := range rec.values["tr_loss_mean"] {
		assert.False(t, math.IsNaN(v))
		assert.LessOrEqual(t, math.Abs(v), 30.0)
	}
	assert.InDelta(t, 1e-2, learningRate(exp), 1e-7)
	assert.FileExists(t, filepath.Join(audioDir, "val", "step_1", "ex0_mixture.wav"))
	assert.FileExists(t, filepath.Join(audioDir, "val", "step_1", "ex0_s1_est.wav"))
	assert.NoFileExists(t, filepath.Join(audioDir, "val", "step_1", "ex1_mixture.wav"))

	values, err := exp.Evaluate(datasets.SplitVal)
	require.NoError(t, err)
	assert.Len(t, values, 4)
	_, err = exp.Evaluate(datasets.SplitTest)
	assert.Error(t, err)

	// Resume from the checkpoint: only the third epoch is run.
	ctx2 := newTestContext()
	ctx2.SetParam(ParamNumEpochs, 3)
	_, err = checkpoints.Build(ctx2).Dir(checkpointDir).Keep(2).ExcludeParams(ParamNumEpochs).Done()
	require.NoError(t, err)
	assert.Equal(t, experimentID, context.GetParamOr(ctx2, ParamExperimentID, ""))
	rec2 := &recorder{}
	exp2, err := New(backend, ctx2, ConfigFromContext(ctx2), tinyModel, dss, rec2)
	require.NoError(t, err)
	assert.Equal(t, 2, exp2.Epoch())
	require.NoError(t, exp2.Run())
	assert.Equal(t, []int{2}, rec2.steps["val_SISDRi_mean"])
	assert.Equal(t, 3, exp2.Epoch())
	// Epoch 2 runs after the first reduction.
	assert.InDelta(t, 5e-3, learningRate(exp2), 1e-7)

	// Separation of a single waveform.
	mix := make([]float32, 100)
	for ii := range mix {
		mix[ii] = float32(math.Sin(float64(ii) * 0.1))
	}
	sources, err := Separate(backend, ctx2, tinyModel, mix)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Len(t, sources[0], 100)
	_, err = Separate(backend, ctx2, tinyModel, nil)
	assert.Error(t, err)
}

func TestSaveLoadParams(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	mix := [][]float32{{0.1, 0.2, -0.3, 0.4}}
	_, err := context.ExecOnceN(backend, ctx.In(ModelScope), func(ctx *context.Context, mix *Node) *Node {
		return tinyModel(ctx, nil, []*Node{mix})[0]
	}, mix)
	require.NoError(t, err)
	ctx.InAbsPath("/other").VariableWithValue("ignored", float32(1))
	gains := ctx.GetVariableByScopeAndName("/"+ModelScope, "gains")
	require.NotNil(t, gains)
	gains.MustSetValue(tensors.FromValue([]float32{2, 3}))

	params := ParamsMap(ctx)
	assert.Len(t, params, 2)
	path := filepath.Join(t.TempDir(), "params.bin")
	require.NoError(t, SaveParams(ctx, path))

	// Into a new context: variables are created.
	ctx2 := context.New()
	require.NoError(t, LoadParams(ctx2, path))
	loaded := ctx2.GetVariableByScopeAndName("/"+ModelScope, "gains")
	require.NotNil(t, loaded)
	assert.Equal(t, []float32{2, 3}, tensors.MustCopyFlatData[float32](loaded.MustValue()))
	assert.Nil(t, ctx2.GetVariableByScopeAndName("/other", "ignored"))

	// Into an existing variable with a different shape: nothing is loaded, not even the
	// params read before the mismatch.
	ctx3 := context.New()
	ctx3.InAbsPath("/"+ModelScope).VariableWithValue("gains", []float32{7, 7})
	ctx3.InAbsPath("/"+ModelScope).VariableWithValue("squares", []float32{1, 2, 3})
	assert.Error(t, LoadParams(ctx3, path))
	gains3 := ctx3.GetVariableByScopeAndName("/"+ModelScope, "gains")
	assert.Equal(t, []float32{7, 7}, tensors.MustCopyFlatData[float32](gains3.MustValue()))

	// Truncated file: the context is left untouched.
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	truncatedPath := filepath.Join(t.TempDir(), "truncated.bin")
	require.NoError(t, os.WriteFile(truncatedPath, contents[:len(contents)-8], 0o644))
	ctx4 := context.New()
	ctx4.InAbsPath("/"+ModelScope).VariableWithValue("gains", []float32{7, 7})
	assert.Error(t, LoadParams(ctx4, truncatedPath))
	gains4 := ctx4.GetVariableByScopeAndName("/"+ModelScope, "gains")
	assert.Equal(t, []float32{7, 7}, tensors.MustCopyFlatData[float32](gains4.MustValue()))
	assert.Nil(t, ctx4.GetVariableByScopeAndName("/"+ModelScope, "squares"))

	assert.Error(t, LoadParams(ctx3, filepath.Join(t.TempDir(), "missing.bin")))
}
