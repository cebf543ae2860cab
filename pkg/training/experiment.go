// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/sudormrf/pkg/datasets"
	"github.com/gomlx/sudormrf/pkg/report"
	"github.com/gomlx/sudormrf/pkg/sisdr"
)

const (
	// ModelScope is the context scope under which the model variables are created.
	ModelScope = "model"

	// ExperimentScope (absolute) holds the experiment bookkeeping variables, saved along the checkpoints.
	ExperimentScope = "/experiment"

	// EpochVariableName is the number of completed epochs, used to resume training.
	EpochVariableName = "epoch"

	// TrainLossName is the name of the accumulated training loss metric.
	TrainLossName = "tr_loss"

	// SISDRiSuffix is appended to the split name for the accumulated SI-SDR improvement metrics.
	SISDRiSuffix = "_SISDRi"

	// MixtureNormEpsilon is added to the standard deviation when normalizing the mixtures for evaluation.
	MixtureNormEpsilon = 1e-8
)

// EvalSplits are the splits evaluated at the end of every epoch, in order, if configured.
var EvalSplits = []datasets.Split{datasets.SplitVal, datasets.SplitTest, datasets.SplitTrainVal}

// Experiment trains and evaluates one separation model.
//
// Each call to Run cycles, for every remaining epoch: setting the learning rate of the epoch,
// training over the full training dataset, evaluating the SI-SDR improvement on every evaluation
// split, reporting the mean and standard deviation of the accumulated metrics and saving a checkpoint.
type Experiment struct {
	backend  backends.Backend
	ctx      *context.Context // Model scope.
	cfg      *Config
	modelFn  train.ModelFn
	datasets map[datasets.Split]train.Dataset
	reporter report.Reporter

	trainer    *train.Trainer
	loop       *train.Loop
	evalExec   *context.Exec
	acc        *report.Accumulator
	epochVar   *context.Variable
	checkpoint *checkpoints.Handler
	audioLog   *report.AudioLogger
	showBars   bool
}

// New creates an experiment for the model built by modelFn, with hyperparameters in ctx (its root scope).
//
// dss maps splits to datasets: datasets.SplitTrain is required by Run, the evaluation splits (see
// EvalSplits) are optional. The reporter receives every summarized metric (it can be nil).
//
// If the context doesn't have an experiment id (ParamExperimentID) yet, a new one is generated.
func New(backend backends.Backend, ctx *context.Context, cfg *Config, modelFn train.ModelFn,
	dss map[datasets.Split]train.Dataset, reporter report.Reporter) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if modelFn == nil {
		return nil, errors.New("training.New: modelFn is nil")
	}
	if reporter == nil {
		reporter = report.Multi{}
	}
	if id := context.GetParamOr(ctx, ParamExperimentID, ""); id == "" {
		id = uuid.NewString()
		ctx.SetParam(ParamExperimentID, id)
		klog.Infof("New experiment %s", id)
	}

	e := &Experiment{
		backend:  backend,
		ctx:      ctx.In(ModelScope),
		cfg:      cfg,
		modelFn:  modelFn,
		datasets: dss,
		reporter: reporter,
		acc:      report.NewAccumulator(),
		epochVar: ctx.InAbsPath(ExperimentScope).Checked(false).
			VariableWithValue(EpochVariableName, int64(0)).SetTrainable(false),
	}

	opt, err := ClipByGlobalNorm(optimizers.FromContext(e.ctx), cfg.ClipGradNorm)
	if err != nil {
		return nil, err
	}
	e.trainer = train.NewTrainer(backend, e.ctx, modelFn, sisdr.LossFn, opt, nil, nil)
	if optimizers.GetGlobalStep(e.ctx) > 0 {
		e.trainer.SetContext(e.ctx.Reuse())
	}
	e.loop = train.NewLoop(e.trainer)
	e.loop.OnStep("accumulate train loss", 100, func(_ *train.Loop, metrics []*tensors.Tensor) error {
		if len(metrics) > 0 {
			e.acc.Add(TrainLossName, scalarValue(metrics[0]))
		}
		return nil
	})

	e.evalExec, err = context.NewExec(backend, e.ctx.Checked(false), e.evalGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create the evaluation executor")
	}
	return e, nil
}

// WithCheckpoint saves a checkpoint with the handler at the end of every epoch.
func (e *Experiment) WithCheckpoint(handler *checkpoints.Handler) *Experiment {
	e.checkpoint = handler
	return e
}

// WithAudioLogger writes the first examples of the first batch of every evaluation split, at the end of
// every epoch.
func (e *Experiment) WithAudioLogger(audioLog *report.AudioLogger) *Experiment {
	e.audioLog = audioLog
	return e
}

// WithProgressBar shows progress bars while training and evaluating.
func (e *Experiment) WithProgressBar() *Experiment {
	if !e.showBars {
		commandline.AttachProgressBar(e.loop)
	}
	e.showBars = true
	return e
}

// Context returns the context, scoped to ModelScope.
func (e *Experiment) Context() *context.Context { return e.ctx }

// Epoch returns the number of completed epochs.
func (e *Experiment) Epoch() int {
	return int(tensors.ToScalar[int64](e.epochVar.MustValue()))
}

// Accumulator holds the metrics of the current epoch.
func (e *Experiment) Accumulator() *report.Accumulator { return e.acc }

// normalizeMixture to zero mean and unit standard deviation per example. mix is shaped `[batch, time]`.
func normalizeMixture(mix *Node) *Node {
	mean := ReduceAndKeep(mix, ReduceMean, -1)
	centered := Sub(mix, mean)
	std := Sqrt(ReduceAndKeep(Square(centered), ReduceMean, -1))
	return Div(centered, AddScalar(std, MixtureNormEpsilon))
}

// evalGraph separates the normalized mixtures and returns the estimated sources and the SI-SDR
// improvement of each example.
func (e *Experiment) evalGraph(ctx *context.Context, mix, sources *Node) (estimates, sisdri *Node) {
	ctx.SetTraining(mix.Graph(), false)
	mix = normalizeMixture(mix)
	estimates = e.modelFn(ctx, nil, []*Node{mix})[0]
	sisdri = sisdr.SISDRImprovement(estimates, sources, mix)
	return
}

// scalarValue converts a scalar metric tensor to float64.
func scalarValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

// setLearningRate of the optimizer for the given epoch.
func (e *Experiment) setLearningRate(epoch int) error {
	lrVar := optimizers.LearningRateVar(e.ctx, dtypes.Float32, e.cfg.LearningRate)
	lr := e.cfg.LearningRateAt(epoch)
	if previous := float64(tensors.ToScalar[float32](lrVar.MustValue())); previous != float64(float32(lr)) {
		klog.Infof("Epoch %d: learning rate %g -> %g", epoch, previous, lr)
	}
	return lrVar.SetValue(tensors.FromScalar(float32(lr)))
}

// Run the remaining epochs (up to Config.NumEpochs), resuming from the last completed one.
func (e *Experiment) Run() error {
	trainDS := e.datasets[datasets.SplitTrain]
	if trainDS == nil {
		return errors.Errorf("experiment has no %q dataset", datasets.SplitTrain)
	}
	klog.Infof("Model has %s parameters", humanize.Comma(int64(e.ctx.NumParameters())))
	for epoch := e.Epoch(); epoch < e.cfg.NumEpochs; epoch++ {
		if err := e.RunEpoch(epoch, trainDS); err != nil {
			return err
		}
	}
	return nil
}

// RunEpoch trains one epoch over trainDS, evaluates, reports and saves a checkpoint.
func (e *Experiment) RunEpoch(epoch int, trainDS train.Dataset) error {
	if err := e.setLearningRate(epoch); err != nil {
		return errors.WithMessagef(err, "epoch %d: failed to set learning rate", epoch)
	}
	metrics, err := e.loop.RunEpochs(trainDS, 1)
	if err != nil {
		return errors.WithMessagef(err, "epoch %d: training failed", epoch)
	}
	for _, metric := range metrics {
		metric.MustFinalizeAll()
	}

	for _, split := range EvalSplits {
		ds := e.datasets[split]
		if ds == nil {
			continue
		}
		values, err := e.evaluate(split, ds, epoch)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
		e.acc.Add(string(split)+SISDRiSuffix, values...)
	}

	summaries := e.acc.Report(e.reporter, epoch)
	klog.Infof("Epoch %d/%d:\n%s", epoch+1, e.cfg.NumEpochs, report.Table(summaries))
	e.acc.Reset()
	if flusher, ok := e.reporter.(report.Flusher); ok {
		if err := flusher.Flush(); err != nil {
			klog.Warningf("epoch %d: failed to flush metrics: %+v", epoch, err)
		}
	}

	e.epochVar.MustSetValue(tensors.FromScalar(int64(epoch + 1)))
	if e.checkpoint != nil {
		if err := e.checkpoint.Save(); err != nil {
			return errors.WithMessagef(err, "epoch %d: failed to save checkpoint", epoch)
		}
	}
	return nil
}

// Evaluate returns the SI-SDR improvement of every example in the dataset of the given split.
func (e *Experiment) Evaluate(split datasets.Split) ([]float64, error) {
	ds := e.datasets[split]
	if ds == nil {
		return nil, errors.Errorf("experiment has no %q dataset, configured splits are %v",
			split, slices.Sorted(maps.Keys(e.datasets)))
	}
	return e.evaluate(split, ds, e.Epoch())
}

// evaluate iterates over one full pass of ds, and resets it at the end.
// The first batch is written to the audio logger, if one is configured.
func (e *Experiment) evaluate(split datasets.Split, ds train.Dataset, step int) (values []float64, err error) {
	defer ds.Reset()
	var bar *progressbar.ProgressBar
	if e.showBars {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(fmt.Sprintf("Evaluating %s", split)),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII))
		defer func() { _ = bar.Finish() }()
	}
	for batchIdx := 0; ; batchIdx++ {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating %q: failed reading batch %d", split, batchIdx)
		}
		batchValues, err := e.evaluateBatch(split, inputs[0], labels[0], step, batchIdx == 0)
		for _, t := range inputs {
			t.MustFinalizeAll()
		}
		for _, t := range labels {
			t.MustFinalizeAll()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating %q batch %d", split, batchIdx)
		}
		values = append(values, batchValues...)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return values, nil
}

func (e *Experiment) evaluateBatch(split datasets.Split, mix, sources *tensors.Tensor, step int, logAudio bool) ([]float64, error) {
	estimates, sisdri, err := e.evalExec.Exec2(mix, sources)
	if err != nil {
		return nil, err
	}
	defer estimates.MustFinalizeAll()
	defer sisdri.MustFinalizeAll()

	flat := tensors.MustCopyFlatData[float32](sisdri)
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	if logAudio && e.audioLog != nil && e.cfg.AudioLogExamples > 0 {
		if err := e.logAudio(split, step, mix, estimates, sources); err != nil {
			klog.Warningf("Failed to write audio examples of %q: %+v", split, err)
		}
	}
	return values, nil
}

func (e *Experiment) logAudio(split datasets.Split, step int, mix, estimates, sources *tensors.Tensor) error {
	logger := *e.audioLog
	logger.MaxExamples = min(logger.MaxExamples, e.cfg.AudioLogExamples)
	return logger.LogBatch(string(split), step, unflatten2D(mix), unflatten3D(estimates), unflatten3D(sources))
}

// unflatten2D splits a tensor shaped `[batch, time]`.
func unflatten2D(t *tensors.Tensor) [][]float32 {
	dims := t.Shape().Dimensions
	flat := tensors.MustCopyFlatData[float32](t)
	rows := make([][]float32, dims[0])
	for ii := range rows {
		rows[ii] = flat[ii*dims[1] : (ii+1)*dims[1]]
	}
	return rows
}

// unflatten3D splits a tensor shaped `[batch, sources, time]`.
func unflatten3D(t *tensors.Tensor) [][][]float32 {
	dims := t.Shape().Dimensions
	flat := tensors.MustCopyFlatData[float32](t)
	batch := make([][][]float32, dims[0])
	stride := dims[1] * dims[2]
	for ii := range batch {
		batch[ii] = make([][]float32, dims[1])
		for jj := range batch[ii] {
			start := ii*stride + jj*dims[2]
			batch[ii][jj] = flat[start : start+dims[2]]
		}
	}
	return batch
}
