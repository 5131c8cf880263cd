// Package config holds the command-line configuration of the crnn tool.
//
// Values are resolved in three layers: built-in defaults, CRNN_* variables
// from the environment or a .env file, and finally command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/preprocessing"
)

// Modes.
const (
	ModeTrain = "train"
	ModeTest  = "test"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CRNN_"

// Config is the full configuration of one invocation.
type Config struct {
	Mode           string
	AnnotationPath string
	TablePath      string
	ImageHeight    int
	ImageWidth     int
	BatchSize      int
	Epochs         int
	LearningRate   float64
	CheckpointPath string

	CkptRoot  string
	LogRoot   string
	MaxToKeep int

	Hidden      int
	ColumnWidth int
	Context     int
	Seed        uint64
	Shuffle     bool
	Normalize   string

	AllowDegenerate bool
	LogLevel        string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Mode:         ModeTrain,
		ImageHeight:  32,
		ImageWidth:   100,
		BatchSize:    32,
		Epochs:       100,
		LearningRate: 1e-4,
		CkptRoot:     "./ckpt",
		LogRoot:      "./tensorboard",
		MaxToKeep:    5,
		Hidden:       128,
		ColumnWidth:  4,
		Context:      1,
		Seed:         1,
		Shuffle:      true,
		Normalize:    "none",
		LogLevel:     "info",
	}
}

// option binds one Config field to its flag and environment variable.
type option struct {
	name    string
	aliases []string
	usage   string
	ptr     any
}

func (c *Config) options() []option {
	return []option{
		{"mode", []string{"m"}, "train or test", &c.Mode},
		{"annotation_path", []string{"p"}, "path of the annotation file", &c.AnnotationPath},
		{"table_path", []string{"t"}, "path of the character table (last line is the blank)", &c.TablePath},
		{"image_height", nil, "image height after resizing", &c.ImageHeight},
		{"image_width", []string{"w"}, "image width after resizing", &c.ImageWidth},
		{"batch_size", []string{"b"}, "batch size", &c.BatchSize},
		{"epoches", []string{"e"}, "number of epochs to train", &c.Epochs},
		{"learning_rate", []string{"r"}, "Adam learning rate", &c.LearningRate},
		{"checkpoint_path", nil, "checkpoint directory to restore in test mode", &c.CheckpointPath},
		{"ckpt_root", nil, "parent directory of per-run checkpoint directories", &c.CkptRoot},
		{"log_root", nil, "parent directory of per-run event streams", &c.LogRoot},
		{"max_to_keep", nil, "number of checkpoints kept per run", &c.MaxToKeep},
		{"hidden", nil, "hidden units of the column encoder", &c.Hidden},
		{"column_width", nil, "pixels per timestep", &c.ColumnWidth},
		{"context", nil, "neighbouring columns seen by each timestep", &c.Context},
		{"seed", nil, "random seed for initialization and shuffling", &c.Seed},
		{"shuffle", nil, "shuffle samples every epoch", &c.Shuffle},
		{"normalize", nil, "per-image normalization: none, minmax or standard", &c.Normalize},
		{"allow_degenerate", nil, "train on labels longer than the model output (loss becomes +Inf)", &c.AllowDegenerate},
		{"log_level", nil, "debug, info, warn or error", &c.LogLevel},
	}
}

// EnvName returns the environment variable for a flag name.
func EnvName(flagName string) string {
	b := []byte(EnvPrefix + flagName)
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 'a' + 'A'
		}
	}
	return string(b)
}

// FromEnv returns Default overridden by CRNN_* variables. Variables are
// read from the process environment first and then from envFiles; when no
// file is given an optional ./.env is used.
func FromEnv(envFiles ...string) (Config, error) {
	fileValues := make(map[string]string)
	optional := len(envFiles) == 0
	if optional {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		values, err := godotenv.Read(f)
		if err != nil {
			if optional && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, errors.NewConfigError("env_file", "cannot read "+f, err)
		}
		for k, v := range values {
			fileValues[k] = v
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}
	return FromLookup(lookup)
}

// FromLookup returns Default overridden by the variables lookup reports.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	for _, opt := range cfg.options() {
		raw, ok := lookup(EnvName(opt.name))
		if !ok {
			continue
		}
		if err := set(opt.ptr, raw); err != nil {
			return Config{}, errors.NewConfigError(EnvName(opt.name), "invalid value "+strconv.Quote(raw), err)
		}
	}
	return cfg, nil
}

func set(ptr any, raw string) error {
	switch p := ptr.(type) {
	case *string:
		*p = raw
	case *int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = v
	case *uint64:
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		*p = v
	case *float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		*p = v
	case *bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = v
	default:
		return errors.Newf("unsupported option type %T", ptr)
	}
	return nil
}

// RegisterFlags binds every field to fs, using the current values as
// flag defaults. Single-letter aliases share the same field.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	for _, opt := range c.options() {
		names := append([]string{opt.name}, opt.aliases...)
		for _, name := range names {
			usage := opt.usage
			if name != opt.name {
				usage = "shorthand for -" + opt.name
			}
			switch p := opt.ptr.(type) {
			case *string:
				fs.StringVar(p, name, *p, usage)
			case *int:
				fs.IntVar(p, name, *p, usage)
			case *uint64:
				fs.Uint64Var(p, name, *p, usage)
			case *float64:
				fs.Float64Var(p, name, *p, usage)
			case *bool:
				fs.BoolVar(p, name, *p, usage)
			}
		}
	}
}

// Validate checks the configuration for the selected mode.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeTrain, ModeTest:
	default:
		return errors.NewConfigError("mode", fmt.Sprintf("must be %q or %q, got %q", ModeTrain, ModeTest, c.Mode), nil)
	}
	if c.AnnotationPath == "" {
		return errors.NewConfigError("annotation_path", "is required", nil)
	}
	if c.TablePath == "" {
		return errors.NewConfigError("table_path", "is required", nil)
	}
	if c.Mode == ModeTest && c.CheckpointPath == "" {
		return errors.NewConfigError("checkpoint_path", "is required in test mode", nil)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"image_height", c.ImageHeight},
		{"image_width", c.ImageWidth},
		{"batch_size", c.BatchSize},
		{"epoches", c.Epochs},
		{"hidden", c.Hidden},
		{"column_width", c.ColumnWidth},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.NewConfigError(p.name, fmt.Sprintf("must be positive, got %d", p.value), nil)
		}
	}
	if c.ImageWidth < c.ColumnWidth {
		return errors.NewConfigError("image_width", "must be at least column_width", nil)
	}
	if c.Context < 0 {
		return errors.NewConfigError("context", "must be non-negative", nil)
	}
	if !(c.LearningRate > 0) {
		return errors.NewConfigError("learning_rate", fmt.Sprintf("must be positive, got %g", c.LearningRate), nil)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewConfigError("log_level", "must be debug, info, warn or error", nil)
	}
	if _, err := preprocessing.ParseScaler(c.Normalize); err != nil {
		return errors.NewConfigError("normalize", "unknown scaler", err)
	}
	return nil
}

// TimeSteps returns the number of timesteps the encoder emits.
func (c Config) TimeSteps() int {
	return c.ImageWidth / c.ColumnWidth
}
