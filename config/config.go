// Package config reads the pipeline configuration file used by the
// besca-annot command.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/loader"
	"github.com/mariiabilous/besca/merge"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/report"
	"github.com/mariiabilous/besca/store"
)

// Config is the whole pipeline configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Input      InputConfig      `yaml:"input"`
	Merge      MergeConfig      `yaml:"merge"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Predict    PredictConfig    `yaml:"predict"`
	Store      StoreConfig      `yaml:"store"`
	Report     ReportConfig     `yaml:"report"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// InputConfig lists the training datasets.
type InputConfig struct {
	Datasets    []DatasetConfig `yaml:"datasets"`
	LabelColumn string          `yaml:"label_column"`
}

// DatasetConfig describes one expression table and its metadata.
type DatasetConfig struct {
	Name           string  `yaml:"name"`
	Expression     string  `yaml:"expression"`
	Metadata       string  `yaml:"metadata"`
	Raw            bool    `yaml:"raw"`        // raw counts, normalized on load
	Transposed     bool    `yaml:"transposed"` // genes x samples on disk
	Sheet          string  `yaml:"sheet"`
	ObsSheet       string  `yaml:"obs_sheet"`
	DuplicateGenes string  `yaml:"duplicate_genes"` // reject, keep_first, make_unique
	TargetSum      float64 `yaml:"target_sum"`
	SkipNormalize  bool    `yaml:"skip_normalize"`
}

// MergeConfig selects the merge strategy and the scanorama knobs.
type MergeConfig struct {
	Strategy   string  `yaml:"strategy"`
	BatchKey   string  `yaml:"batch_key"`
	Knn        int     `yaml:"knn"`
	Sigma      float64 `yaml:"sigma"`
	Alpha      float64 `yaml:"alpha"`
	Dimred     int     `yaml:"dimred"`
	MaxSVDRows int     `yaml:"max_svd_rows"`
	Seed       int64   `yaml:"seed"`
}

// ClassifierConfig selects the classifier kind. Params keys are those of
// annotate.Params.Apply.
type ClassifierConfig struct {
	Kind   string                 `yaml:"kind"`
	Params map[string]interface{} `yaml:"params"`
}

// PredictConfig controls where predictions are written.
type PredictConfig struct {
	Column        string `yaml:"column"`
	Probabilities bool   `yaml:"probabilities"`
}

// StoreConfig points at the model registry. An empty DSN disables it.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// ReportConfig controls the annotation report.
type ReportConfig struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"` // text, json, yaml, xlsx; empty = from extension
	TruthColumn string `yaml:"truth_column"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// Load reads, expands, defaults and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML after substituting ${VAR} and ${VAR:-default}.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.NewMalformedInputError("config", err.Error())
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Input.LabelColumn == "" {
		c.Input.LabelColumn = annotate.DefaultLabelColumn
	}
	if c.Merge.Strategy == "" {
		c.Merge.Strategy = string(merge.StrategyNaive)
	}
	if c.Merge.BatchKey == "" {
		c.Merge.BatchKey = merge.DefaultBatchKey
	}
	pc := merge.NewPanoramaCorrector()
	if c.Merge.Knn <= 0 {
		c.Merge.Knn = pc.Knn
	}
	if c.Merge.Sigma <= 0 {
		c.Merge.Sigma = pc.Sigma
	}
	if c.Merge.Alpha <= 0 {
		c.Merge.Alpha = pc.Alpha
	}
	if c.Merge.Dimred <= 0 {
		c.Merge.Dimred = pc.Dimred
	}
	if c.Merge.MaxSVDRows <= 0 {
		c.Merge.MaxSVDRows = pc.MaxSVDRows
	}
	if c.Classifier.Kind == "" {
		c.Classifier.Kind = string(annotate.KindLinearSVM)
	}
	if c.Predict.Column == "" {
		c.Predict.Column = annotate.DefaultPredictionColumn
	}
	if c.Store.Driver == "" {
		c.Store.Driver = store.DriverSQLite
	}
	for i := range c.Input.Datasets {
		if c.Input.Datasets[i].Name == "" {
			c.Input.Datasets[i].Name = strings.TrimSuffix(
				filepath.Base(c.Input.Datasets[i].Expression), filepath.Ext(c.Input.Datasets[i].Expression))
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if _, err := log.ToLogLevel(c.Logging.Level); err != nil {
		return errors.NewValidationError("logging.level", "must be debug, info, warn or error", c.Logging.Level)
	}
	seen := map[string]bool{}
	for i, d := range c.Input.Datasets {
		if d.Expression == "" {
			return errors.NewValidationError("input.datasets.expression", "is required", i)
		}
		if seen[d.Name] {
			return errors.NewValidationError("input.datasets.name", "must be unique", d.Name)
		}
		seen[d.Name] = true
		if _, err := loader.ParseDuplicatePolicy(d.DuplicateGenes); err != nil {
			return err
		}
		if d.TargetSum < 0 {
			return errors.NewValidationError("input.datasets.target_sum", "must not be negative", d.TargetSum)
		}
	}
	if _, err := merge.ParseStrategy(c.Merge.Strategy); err != nil {
		return err
	}
	if c.Merge.Alpha > 1 {
		return errors.NewValidationError("merge.alpha", "must be in (0, 1]", c.Merge.Alpha)
	}
	if _, err := c.AnnotateConfig(); err != nil {
		return err
	}
	if c.Store.Driver != store.DriverSQLite && c.Store.Driver != store.DriverPostgres {
		return errors.NewValidationError("store.driver", "must be sqlite or postgres", c.Store.Driver)
	}
	switch c.Report.Format {
	case "", report.FormatText, report.FormatJSON, report.FormatYAML, report.FormatXLSX:
	default:
		return errors.NewValidationError("report.format", "must be text, json, yaml or xlsx", c.Report.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return errors.NewValidationError("metrics.textfile", "is required when metrics are enabled", "")
	}
	return nil
}

// AnnotateConfig resolves the classifier section.
func (c *Config) AnnotateConfig() (annotate.Config, error) {
	kind, err := annotate.ParseKind(c.Classifier.Kind)
	if err != nil {
		return annotate.Config{}, err
	}
	params, err := annotate.DefaultParams().Apply(c.Classifier.Params)
	if err != nil {
		return annotate.Config{}, err
	}
	return annotate.Config{Kind: kind, LabelColumn: c.Input.LabelColumn, Params: params}, nil
}

// MergeOptions returns the options for merge.MergeData over the configured
// datasets.
func (c *Config) MergeOptions() []merge.Option {
	names := make([]string, len(c.Input.Datasets))
	for i, d := range c.Input.Datasets {
		names[i] = d.Name
	}
	pc := &merge.PanoramaCorrector{
		Knn:        c.Merge.Knn,
		Sigma:      c.Merge.Sigma,
		Alpha:      c.Merge.Alpha,
		Dimred:     c.Merge.Dimred,
		MaxSVDRows: c.Merge.MaxSVDRows,
		Seed:       c.Merge.Seed,
	}
	return []merge.Option{merge.WithNames(names...), merge.WithBatchKey(c.Merge.BatchKey), merge.WithCorrector(pc)}
}

// Read loads the dataset with ReadRaw or ReadData.
func (d DatasetConfig) Read() (*anndata.AnnotatedMatrix, error) {
	policy, err := loader.ParseDuplicatePolicy(d.DuplicateGenes)
	if err != nil {
		return nil, err
	}
	opts := []loader.Option{loader.WithDuplicateGenes(policy)}
	if d.Sheet != "" {
		opts = append(opts, loader.WithSheet(d.Sheet))
	}
	if d.ObsSheet != "" {
		opts = append(opts, loader.WithObsSheet(d.ObsSheet))
	}
	if d.Transposed {
		opts = append(opts, loader.WithTransposed())
	}
	if d.TargetSum > 0 {
		opts = append(opts, loader.WithTargetSum(d.TargetSum))
	}
	if d.SkipNormalize {
		opts = append(opts, loader.WithoutNormalization())
	}
	if d.Raw {
		return loader.ReadRaw(d.Expression, d.Metadata, opts...)
	}
	return loader.ReadData(d.Expression, d.Metadata, opts...)
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}
