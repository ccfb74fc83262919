package train

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/go-ml-train/pipeline"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EpochResult is reported to listeners after every epoch.
type EpochResult struct {
	Stage Stage
	// Epoch is the global epoch index, continuing across stages.
	Epoch   int
	Loss    float64
	ValLoss float64
	// HasValidation is false when the validation split is empty.
	HasValidation bool
	// Pipeline holds the training pipeline's stats for this epoch.
	Pipeline pipeline.Snapshot
}

// History is the per-epoch loss of one stage.
type History struct {
	Loss    []float64
	ValLoss []float64
}

// Listener observes training. The orchestrator calls it synchronously; an
// error aborts the run.
type Listener interface {
	StageStarted(stage Stage, trainSteps, valSteps int) error
	EpochEnded(result EpochResult) error
	StageEnded(stage Stage, history History) error
}

// LogListener logs progress with zap.
type LogListener struct {
	log *zap.Logger
}

// NewLogListener creates a LogListener.
func NewLogListener(log *zap.Logger) *LogListener {
	return &LogListener{log: log}
}

// StageStarted implements Listener.
func (l *LogListener) StageStarted(stage Stage, trainSteps, valSteps int) error {
	l.log.Info("stage started",
		zap.String("stage", stage.Name),
		zap.Int("epochs", stage.Epochs),
		zap.Int("batchSize", stage.BatchSize),
		zap.Int("trainSteps", trainSteps),
		zap.Int("valSteps", valSteps))
	return nil
}

// EpochEnded implements Listener.
func (l *LogListener) EpochEnded(r EpochResult) error {
	fields := []zap.Field{
		zap.String("stage", r.Stage.Name),
		zap.Int("epoch", r.Epoch),
		zap.Float64("loss", r.Loss),
		r.Pipeline.Field(),
	}
	if r.HasValidation {
		fields = append(fields, zap.Float64("valLoss", r.ValLoss))
	}
	l.log.Info("epoch ended", fields...)
	return nil
}

// StageEnded implements Listener.
func (l *LogListener) StageEnded(stage Stage, h History) error {
	l.log.Info("stage ended", zap.String("stage", stage.Name), zap.Int("epochs", len(h.Loss)))
	return nil
}

// HistoryWriter writes each stage's loss history to Dir as
// <stage>_loss.txt and <stage>_val_loss.txt, one value per line.
type HistoryWriter struct {
	Dir string
}

// StageStarted implements Listener.
func (w HistoryWriter) StageStarted(Stage, int, int) error {
	return nil
}

// EpochEnded implements Listener.
func (w HistoryWriter) EpochEnded(EpochResult) error {
	return nil
}

// StageEnded implements Listener.
func (w HistoryWriter) StageEnded(stage Stage, h History) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create history directory")
	}
	if err := writeValues(filepath.Join(w.Dir, stage.Name+"_loss.txt"), h.Loss); err != nil {
		return err
	}
	if len(h.ValLoss) == 0 {
		return nil
	}
	return writeValues(filepath.Join(w.Dir, stage.Name+"_val_loss.txt"), h.ValLoss)
}

func writeValues(path string, values []float64) error {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%v\n", v)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
