// Package config loads the training configuration: built-in defaults, then
// a YAML file, then TRAIN_-prefixed environment variables.
package config

import (
	"flag"
	"image"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-train/anchors"
	"github.com/nvr-ai/go-ml-train/annotations"
	"github.com/nvr-ai/go-ml-train/augment"
)

// EnvPrefix is the prefix of environment overrides. TRAIN_PIPELINE_WORKERS
// sets pipeline.workers.
const EnvPrefix = "TRAIN_"

// DataConfig locates the dataset files.
type DataConfig struct {
	Annotations string  `koanf:"annotations"`
	Classes     string  `koanf:"classes"`
	Anchors     string  `koanf:"anchors"`
	ValSplit    float64 `koanf:"valsplit"`
	// Seed drives the split, the cyclers and the augmenter.
	Seed  uint64 `koanf:"seed"`
	Cache bool   `koanf:"cache"`
}

// InputConfig is the training canvas.
type InputConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// AnchorsConfig assigns anchor indices to scales, coarse first.
type AnchorsConfig struct {
	Mask [][]int `koanf:"mask"`
}

// AugmentConfig mirrors augment.Options.
type AugmentConfig struct {
	Jitter     float64 `koanf:"jitter"`
	ScaleMin   float64 `koanf:"scalemin"`
	ScaleMax   float64 `koanf:"scalemax"`
	Hue        float64 `koanf:"hue"`
	Saturation float64 `koanf:"saturation"`
	Value      float64 `koanf:"value"`
	FlipProb   float64 `koanf:"flipprob"`
	MaxBoxes   int     `koanf:"maxboxes"`
}

// PipelineConfig tunes batch production.
type PipelineConfig struct {
	Prefetch       int  `koanf:"prefetch"`
	Workers        int  `koanf:"workers"`
	SkipBadRecords bool `koanf:"skipbadrecords"`
}

// StageConfig is one training stage.
type StageConfig struct {
	Name      string `koanf:"name"`
	Epochs    int    `koanf:"epochs"`
	BatchSize int    `koanf:"batchsize"`
}

// LogConfig controls logging and loss history output.
type LogConfig struct {
	Debug      bool   `koanf:"debug"`
	HistoryDir string `koanf:"historydir"`
}

// AppConfig is the whole configuration.
type AppConfig struct {
	Data     DataConfig     `koanf:"data"`
	Input    InputConfig    `koanf:"input"`
	Anchors  AnchorsConfig  `koanf:"anchors"`
	Augment  AugmentConfig  `koanf:"augment"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Stages   []StageConfig  `koanf:"stages"`
	Log      LogConfig      `koanf:"log"`
}

func defaults() map[string]any {
	d := augment.DefaultOptions(image.Pt(416, 416))
	return map[string]any{
		"data.annotations":        "train.txt",
		"data.classes":            "model_data/classes.txt",
		"data.anchors":            "model_data/yolo_anchors.txt",
		"data.valsplit":           0.1,
		"data.seed":               annotations.DefaultSplitSeed,
		"data.cache":              false,
		"input.width":             d.Canvas.X,
		"input.height":            d.Canvas.Y,
		"anchors.mask":            [][]int{{6, 7, 8}, {3, 4, 5}, {0, 1, 2}},
		"augment.jitter":          d.Jitter,
		"augment.scalemin":        d.ScaleMin,
		"augment.scalemax":        d.ScaleMax,
		"augment.hue":             d.Hue,
		"augment.saturation":      d.Saturation,
		"augment.value":           d.Value,
		"augment.flipprob":        d.FlipProb,
		"augment.maxboxes":        d.MaxBoxes,
		"pipeline.prefetch":       2,
		"pipeline.workers":        4,
		"pipeline.skipbadrecords": false,
		"stages": []map[string]any{
			{"name": "frozen", "epochs": 51, "batchsize": 32},
			{"name": "fine-tune", "epochs": 51, "batchsize": 4},
		},
		"log.debug":      false,
		"log.historydir": "logs",
	}
}

// Load reads the configuration.
//
// Arguments:
// - filePath: A YAML file. Empty skips the file and uses defaults and
// environment only.
//
// Returns:
// - The validated configuration.
// - An error if the file cannot be read or parsed, or a
// *annotations.ConfigurationError if a value is invalid.
//
// @example
// cfg, err := config.Load(config.ParseConfigFlag())
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment")
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be checked by the components
// themselves before any file is read.
func (c *AppConfig) Validate() error {
	if c.Data.Annotations == "" || c.Data.Classes == "" || c.Data.Anchors == "" {
		return annotations.NewConfigurationError("data", "annotations, classes and anchors paths are required")
	}
	if c.Data.ValSplit < 0 || c.Data.ValSplit >= 1 {
		return annotations.NewConfigurationError("data.valsplit", "must be in [0,1), got %v", c.Data.ValSplit)
	}
	if _, err := c.Mask(); err != nil {
		return err
	}
	if err := c.AugmentOptions().Validate(); err != nil {
		return err
	}
	if len(c.Stages) == 0 {
		return annotations.NewConfigurationError("stages", "at least one stage is required")
	}
	for _, s := range c.Stages {
		if s.Name == "" || s.Epochs < 0 || s.BatchSize <= 0 {
			return annotations.NewConfigurationError("stages", "stage %q needs a name, epochs >= 0 and batchsize > 0", s.Name)
		}
	}
	return nil
}

// Canvas returns the input size as a point.
func (c *AppConfig) Canvas() image.Point {
	return image.Pt(c.Input.Width, c.Input.Height)
}

// Mask converts the configured mask to the fixed-size form anchors expects.
func (c *AppConfig) Mask() ([anchors.NumScales][anchors.PerScale]int, error) {
	var mask [anchors.NumScales][anchors.PerScale]int
	if len(c.Anchors.Mask) != anchors.NumScales {
		return mask, annotations.NewConfigurationError("anchors.mask", "expected %d rows, got %d", anchors.NumScales, len(c.Anchors.Mask))
	}
	for i, row := range c.Anchors.Mask {
		if len(row) != anchors.PerScale {
			return mask, annotations.NewConfigurationError("anchors.mask", "row %d: expected %d indices, got %d", i, anchors.PerScale, len(row))
		}
		copy(mask[i][:], row)
	}
	return mask, nil
}

// AugmentOptions builds augment.Options from the augment and input sections.
func (c *AppConfig) AugmentOptions() augment.Options {
	o := augment.DefaultOptions(c.Canvas())
	o.Jitter = c.Augment.Jitter
	o.ScaleMin = c.Augment.ScaleMin
	o.ScaleMax = c.Augment.ScaleMax
	o.Hue = c.Augment.Hue
	o.Saturation = c.Augment.Saturation
	o.Value = c.Augment.Value
	o.FlipProb = c.Augment.FlipProb
	o.MaxBoxes = c.Augment.MaxBoxes
	return o
}

var defaultConfigPath = "configs/train.yaml"

// ParseConfigFlag returns the -file flag, defaulting to configs/train.yaml.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
