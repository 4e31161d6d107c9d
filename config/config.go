package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces environment overrides, e.g. NSP_BATCH_SIZE=16.
const envPrefix = "NSP_"

// Config holds every experiment parameter. YAML keys follow the
// conventional snake_case names so existing experiment files port over
// unchanged. A handful of knobs can be overridden from the environment
// for quick sweeps without editing the file.
type Config struct {
	// Data and features.
	DataSize        string `yaml:"data_size" env:"DATA_SIZE"`
	LabelType       string `yaml:"label_type" env:"LABEL_TYPE"`
	InputChannel    int    `yaml:"input_channel"`
	UseDelta        bool   `yaml:"use_delta"`
	UseDoubleDelta  bool   `yaml:"use_double_delta"`
	Splice          int    `yaml:"splice"`
	NumStack        int    `yaml:"num_stack"`
	NumSkip         int    `yaml:"num_skip"`
	DynamicBatching bool   `yaml:"dynamic_batching"`
	SortStopEpoch   int    `yaml:"sort_stop_epoch"`
	MinFrameNum     int    `yaml:"min_frame_num"`

	// Model.
	ModelType      string  `yaml:"model_type"`
	NumUnits       int     `yaml:"num_units"`
	NumLayers      int     `yaml:"num_layers"`
	NumProj        int     `yaml:"num_proj"`
	DropoutInput   float64 `yaml:"dropout_input"`
	DropoutHidden  float64 `yaml:"dropout_hidden"`
	ParameterInit  float64 `yaml:"parameter_init"`
	LabelSmoothing float64 `yaml:"label_smoothing"`
	PretrainStage  bool    `yaml:"pretrain_stage"`
	// NumClasses is filled in from the training set vocabulary, not the
	// experiment file.
	NumClasses int `yaml:"num_classes"`

	// Optimization.
	BatchSize      int     `yaml:"batch_size" env:"BATCH_SIZE"`
	NumEpoch       int     `yaml:"num_epoch" env:"NUM_EPOCH"`
	Optimizer      string  `yaml:"optimizer"`
	LearningRate   float64 `yaml:"learning_rate" env:"LEARNING_RATE"`
	WeightDecay    float64 `yaml:"weight_decay"`
	ClipGradNorm   float64 `yaml:"clip_grad_norm"`
	WeightNoiseStd float64 `yaml:"weight_noise_std"`

	// Schedule.
	DecayStartEpoch         int     `yaml:"decay_start_epoch"`
	DecayRate               float64 `yaml:"decay_rate"`
	DecayPatientEpoch       int     `yaml:"decay_patient_epoch"`
	NotImprovedPatientEpoch int     `yaml:"not_improved_patient_epoch"`
	EvalStartEpoch          int     `yaml:"eval_start_epoch"`
	ConvertToSGDEpoch       int     `yaml:"convert_to_sgd_epoch"`
	PrintStep               int     `yaml:"print_step" env:"PRINT_STEP"`

	// Decoding.
	BeamWidth int     `yaml:"beam_width" env:"BEAM_WIDTH"`
	LMWeight  float64 `yaml:"lm_weight"`
	LMPath    string  `yaml:"lm_path"`
}

// Default returns a config with workable values for a CSJ subset run.
func Default() Config {
	return Config{
		DataSize:                "subset",
		LabelType:               "kana",
		InputChannel:            40,
		UseDelta:                true,
		UseDoubleDelta:          true,
		Splice:                  1,
		NumStack:                2,
		NumSkip:                 2,
		DynamicBatching:         true,
		SortStopEpoch:           100,
		MinFrameNum:             40,
		ModelType:               "blstm_ctc",
		NumUnits:                320,
		NumLayers:               5,
		DropoutInput:            0.2,
		DropoutHidden:           0.2,
		ParameterInit:           0.1,
		BatchSize:               32,
		NumEpoch:                25,
		Optimizer:               "adam",
		LearningRate:            1e-3,
		ClipGradNorm:            5.0,
		DecayStartEpoch:         10,
		DecayRate:               0.9,
		DecayPatientEpoch:       1,
		NotImprovedPatientEpoch: 5,
		EvalStartEpoch:          1,
		PrintStep:               100,
		BeamWidth:               1,
	}
}

// Load reads an experiment file, applies NSP_* environment overrides and
// validates the result. Unknown YAML keys are an error, so typos in
// experiment files fail fast instead of silently training with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config as YAML, typically into the model directory so
// a training run can be restarted from exactly what it ran with.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate checks parameter ranges and enum values.
func (c *Config) Validate() error {
	switch c.LabelType {
	case "kana", "word":
	default:
		return fmt.Errorf("label_type must be kana or word, got %q", c.LabelType)
	}
	switch c.ModelType {
	case "blstm_ctc", "lstm_ctc":
	default:
		return fmt.Errorf("model_type must be blstm_ctc or lstm_ctc, got %q", c.ModelType)
	}
	switch c.Optimizer {
	case "adam", "sgd", "momentum":
	default:
		return fmt.Errorf("optimizer must be adam, sgd or momentum, got %q", c.Optimizer)
	}
	if c.InputChannel <= 0 {
		return fmt.Errorf("input_channel must be positive, got %d", c.InputChannel)
	}
	if c.Splice < 1 || c.Splice%2 == 0 {
		return fmt.Errorf("splice must be a positive odd window, got %d", c.Splice)
	}
	if c.NumStack < 1 || c.NumSkip < 1 {
		return fmt.Errorf("num_stack and num_skip must be >= 1, got %d/%d", c.NumStack, c.NumSkip)
	}
	if c.NumUnits <= 0 || c.NumLayers <= 0 {
		return fmt.Errorf("num_units and num_layers must be positive, got %d/%d", c.NumUnits, c.NumLayers)
	}
	if c.NumProj < 0 {
		return fmt.Errorf("num_proj must be >= 0, got %d", c.NumProj)
	}
	if c.DropoutInput < 0 || c.DropoutInput >= 1 || c.DropoutHidden < 0 || c.DropoutHidden >= 1 {
		return fmt.Errorf("dropout rates must be in [0,1), got %g/%g", c.DropoutInput, c.DropoutHidden)
	}
	if c.ParameterInit <= 0 {
		return fmt.Errorf("parameter_init must be positive, got %g", c.ParameterInit)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return fmt.Errorf("label_smoothing must be in [0,1), got %g", c.LabelSmoothing)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.NumEpoch <= 0 {
		return fmt.Errorf("num_epoch must be positive, got %d", c.NumEpoch)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.WeightDecay < 0 || c.ClipGradNorm < 0 || c.WeightNoiseStd < 0 {
		return fmt.Errorf("weight_decay, clip_grad_norm and weight_noise_std must be >= 0")
	}
	if c.DecayRate <= 0 || c.DecayRate > 1 {
		return fmt.Errorf("decay_rate must be in (0,1], got %g", c.DecayRate)
	}
	if c.PrintStep <= 0 {
		return fmt.Errorf("print_step must be positive, got %d", c.PrintStep)
	}
	if c.BeamWidth < 1 {
		return fmt.Errorf("beam_width must be >= 1, got %d", c.BeamWidth)
	}
	if c.LMWeight < 0 {
		return fmt.Errorf("lm_weight must be >= 0, got %g", c.LMWeight)
	}
	if c.LMWeight > 0 && c.LMPath == "" {
		return fmt.Errorf("lm_weight set but lm_path is empty")
	}
	return nil
}

// InputDim returns the model input size after delta appending, splicing
// and frame stacking.
func (c *Config) InputDim() int {
	freq := c.InputChannel
	if c.UseDelta {
		freq += c.InputChannel
	}
	if c.UseDoubleDelta {
		freq += c.InputChannel
	}
	return freq * c.Splice * c.NumStack
}

// WordLevel reports whether labels are word tokens rather than characters.
func (c *Config) WordLevel() bool {
	return strings.Contains(c.LabelType, "word")
}
