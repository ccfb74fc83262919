// Command train runs the training data pipeline end to end with a dry-run
// model step: it loads the dataset, splits it, and drives every configured
// stage while logging pipeline statistics and writing loss history.
package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nvr-ai/go-ml-train/anchors"
	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/nvr-ai/go-ml-train/augment"
	"github.com/nvr-ai/go-ml-train/config"
	"github.com/nvr-ai/go-ml-train/encoder"
	"github.com/nvr-ai/go-ml-train/images"
	"github.com/nvr-ai/go-ml-train/logger"
	"github.com/nvr-ai/go-ml-train/train"
)

func main() {
	cfg, err := config.Load(config.ParseConfigFlag())
	if err != nil {
		logger.GetZapLogger(false).Fatal("failed to load configuration", zap.Error(err))
	}
	log := logger.GetZapLogger(cfg.Log.Debug)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("training failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) error {
	classes, err := annotations.LoadClasses(cfg.Data.Classes)
	if err != nil {
		return err
	}
	mask, err := cfg.Mask()
	if err != nil {
		return err
	}
	set, err := anchors.Load(cfg.Data.Anchors, mask)
	if err != nil {
		return err
	}
	records, err := annotations.LoadAnnotations(cfg.Data.Annotations)
	if err != nil {
		return err
	}
	if err := annotations.ValidateClasses(records, len(classes)); err != nil {
		return err
	}

	trainSet, valSet, err := annotations.Split(records, cfg.Data.ValSplit, cfg.Data.Seed)
	if err != nil {
		return err
	}
	log.Info("dataset loaded",
		zap.Int("classes", len(classes)),
		zap.Int("train", len(trainSet)),
		zap.Int("val", len(valSet)),
		zap.Stringer("anchors", set))

	enc, err := encoder.New(cfg.Canvas(), set, len(classes))
	if err != nil {
		return err
	}
	aug, err := augment.New(cfg.AugmentOptions(), rand.New(rand.NewPCG(cfg.Data.Seed, ^cfg.Data.Seed)), images.NewLoader(cfg.Data.Cache))
	if err != nil {
		return err
	}

	step := train.NewDryRunStep(enc, log)
	defer step.Close()

	o, err := train.New(trainSet, valSet, aug, enc, step, train.Options{
		Seed:           cfg.Data.Seed,
		Prefetch:       cfg.Pipeline.Prefetch,
		Workers:        cfg.Pipeline.Workers,
		SkipBadRecords: cfg.Pipeline.SkipBadRecords,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	o.AddListener(train.NewLogListener(log))
	o.AddListener(train.HistoryWriter{Dir: cfg.Log.HistoryDir})

	stages := make([]train.Stage, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stages[i] = train.Stage{Name: s.Name, Epochs: s.Epochs, BatchSize: s.BatchSize}
	}
	_, err = o.Run(ctx, stages)
	return err
}
