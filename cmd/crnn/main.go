// Command crnn trains and evaluates a CTC sequence recognizer on annotated
// text-line images.
//
// Training:
//
//	crnn -mode train -annotation_path data/train.txt -table_path data/table.txt
//
// Each training run writes checkpoints to <ckpt_root>/<run>/ and events to
// <log_root>/<run>/, where <run> is the start time (with a -N suffix when
// another run already claimed that second).
//
// Testing restores the newest checkpoint of a run directory:
//
//	crnn -mode test -annotation_path data/test.txt -table_path data/table.txt \
//	    -checkpoint_path ckpt/2024-01-02-03-04-05
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/YuminosukeSato/crnn/checkpoint"
	"github.com/YuminosukeSato/crnn/config"
	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/dataset"
	"github.com/YuminosukeSato/crnn/encoder"
	"github.com/YuminosukeSato/crnn/optim"
	"github.com/YuminosukeSato/crnn/pkg/log"
	"github.com/YuminosukeSato/crnn/preprocessing"
	"github.com/YuminosukeSato/crnn/summary"
	"github.com/YuminosukeSato/crnn/train"
	"github.com/YuminosukeSato/crnn/vocab"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fs := flag.NewFlagSet("crnn", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg); err != nil {
		slog.Error("crnn failed", slog.String("mode", cfg.Mode), log.ErrAttr(err))
		return 1
	}
	return 0
}

func execute(ctx context.Context, cfg config.Config) error {
	v, err := vocab.Load(cfg.TablePath)
	if err != nil {
		return err
	}
	samples, err := dataset.LoadAnnotations(cfg.AnnotationPath)
	if err != nil {
		return err
	}
	scaler, err := preprocessing.ParseScaler(cfg.Normalize)
	if err != nil {
		return err
	}
	src, err := dataset.NewAnnotationSource(samples, v, dataset.Options{
		Height:    cfg.ImageHeight,
		Width:     cfg.ImageWidth,
		BatchSize: cfg.BatchSize,
		Shuffle:   cfg.Shuffle,
		Seed:      cfg.Seed,
		Scaler:    scaler,
	})
	if err != nil {
		return err
	}
	enc, err := encoder.New(encoder.Config{
		Height:      cfg.ImageHeight,
		Width:       cfg.ImageWidth,
		ColumnWidth: cfg.ColumnWidth,
		Context:     cfg.Context,
		Hidden:      cfg.Hidden,
		Classes:     v.NumClasses(),
		Seed:        cfg.Seed,
	})
	if err != nil {
		return err
	}

	if cfg.Mode == config.ModeTest {
		return runTest(ctx, cfg, v, enc, src)
	}
	return runTrain(ctx, cfg, v, enc, src)
}

func runTrain(ctx context.Context, cfg config.Config, v *vocab.Vocabulary, enc *encoder.ColumnEncoder, src dataset.Source) (err error) {
	r, err := run.Reserve(run.Start(), cfg.CkptRoot, cfg.LogRoot)
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("crnn").With(log.RunNameKey, r.Name, log.RunIDKey, r.ID.String())

	mgr, err := checkpoint.NewManager(r.CheckpointDir(cfg.CkptRoot), cfg.MaxToKeep,
		checkpoint.WithRun(r),
		checkpoint.WithMetadata(map[string]string{
			"table_path":   cfg.TablePath,
			"image_height": strconv.Itoa(cfg.ImageHeight),
			"image_width":  strconv.Itoa(cfg.ImageWidth),
			"column_width": strconv.Itoa(cfg.ColumnWidth),
			"context":      strconv.Itoa(cfg.Context),
			"hidden":       strconv.Itoa(cfg.Hidden),
			"normalize":    cfg.Normalize,
		}),
	)
	if err != nil {
		return err
	}
	events, err := summary.NewWriter(r.LogDir(cfg.LogRoot), r)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := events.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	adam, err := optim.NewAdam(cfg.LearningRate)
	if err != nil {
		return err
	}
	step := train.NewStep(enc, adam, v.BlankIndex())
	step.AllowDegenerate = cfg.AllowDegenerate

	tr := train.NewTrainer(enc, step, v, cfg.Epochs)
	tr.Checkpoints = mgr
	tr.Summary = events
	tr.Logger = logger

	logger.Info("Training started",
		log.ModelNameKey, enc.Name(),
		log.CheckpointPathKey, mgr.Dir(),
		log.LogDirKey, events.Dir(),
		log.EpochsKey, cfg.Epochs,
		log.BatchSizeKey, cfg.BatchSize,
		log.LearningRateKey, cfg.LearningRate,
		log.TimeStepsKey, enc.Config().TimeSteps(),
		log.ClassesKey, v.NumClasses(),
	)
	report, err := tr.Train(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("Training finished",
		log.EpochsKey, report.Epochs,
		log.StepKey, report.Steps,
		log.CheckpointPathKey, report.LastCheckpoint,
	)
	return nil
}

func runTest(ctx context.Context, cfg config.Config, v *vocab.Vocabulary, enc *encoder.ColumnEncoder, src dataset.Source) error {
	path, snap, err := checkpoint.RestoreLatest(enc, cfg.CheckpointPath)
	if err != nil {
		return err
	}
	tr := train.NewTrainer(enc, nil, v, 1)
	tr.State.MarkRestored(path, snap.Step)

	report, err := tr.Test(ctx, src)
	if err != nil {
		return err
	}
	log.GetLoggerWithName("crnn").Info("Evaluation finished",
		log.CheckpointPathKey, path,
		log.SamplesKey, report.Samples,
		log.CERKey, report.CER,
		log.AccuracyKey, report.Accuracy,
		log.DurationMsKey, report.Elapsed.Milliseconds(),
	)
	return nil
}
