package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/merge"
	"github.com/mariiabilous/besca/pkg/errors"
)

const sample = `
logging:
  level: debug
input:
  label_column: cell_type
  datasets:
    - name: pbmc
      expression: ${BESCA_DATA:-/data}/pbmc.csv
      metadata: /data/pbmc_obs.csv
      raw: true
    - expression: /data/lung.tsv
      transposed: true
      duplicate_genes: keep_first
merge:
  strategy: scanorama
  knn: 10
classifier:
  kind: random_forest
  params:
    n_estimators: 50
    max_depth: 8
    random_state: 7
store:
  dsn: ${BESCA_STORE}
report:
  path: out/report.json
`

func TestParse(t *testing.T) {
	t.Setenv("BESCA_STORE", "/tmp/models.db")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Input.Datasets, 2)
	assert.Equal(t, "/data/pbmc.csv", cfg.Input.Datasets[0].Expression)
	assert.True(t, cfg.Input.Datasets[0].Raw)
	assert.Equal(t, "lung", cfg.Input.Datasets[1].Name)
	assert.Equal(t, "/tmp/models.db", cfg.Store.DSN)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	// Defaults fill the gaps.
	assert.Equal(t, 10, cfg.Merge.Knn)
	assert.Equal(t, merge.NewPanoramaCorrector().Dimred, cfg.Merge.Dimred)
	assert.Equal(t, merge.DefaultBatchKey, cfg.Merge.BatchKey)
	assert.Equal(t, annotate.DefaultPredictionColumn, cfg.Predict.Column)

	ac, err := cfg.AnnotateConfig()
	require.NoError(t, err)
	assert.Equal(t, annotate.KindRandomForest, ac.Kind)
	assert.Equal(t, "cell_type", ac.LabelColumn)
	assert.Equal(t, 50, ac.Params.NEstimators)
	assert.Equal(t, 8, ac.Params.MaxDepth)
	assert.Equal(t, int64(7), ac.Params.RandomState)
	assert.Equal(t, annotate.DefaultParams().C, ac.Params.C)

	assert.Len(t, cfg.MergeOptions(), 3)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, annotate.DefaultLabelColumn, cfg.Input.LabelColumn)
	assert.Equal(t, string(merge.StrategyNaive), cfg.Merge.Strategy)
	assert.Equal(t, string(annotate.KindLinearSVM), cfg.Classifier.Kind)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"strategy", func(c *Config) { c.Merge.Strategy = "harmony" }},
		{"kind", func(c *Config) { c.Classifier.Kind = "knn" }},
		{"unknown param", func(c *Config) { c.Classifier.Params = map[string]interface{}{"eta": 1} }},
		{"bad param", func(c *Config) { c.Classifier.Params = map[string]interface{}{"C": -1.0} }},
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"format", func(c *Config) { c.Report.Format = "pdf" }},
		{"metrics", func(c *Config) { c.Metrics.Enabled = true }},
		{"alpha", func(c *Config) { c.Merge.Alpha = 2 }},
		{"missing expression", func(c *Config) { c.Input.Datasets = []DatasetConfig{{Name: "a"}} }},
		{"duplicate names", func(c *Config) {
			c.Input.Datasets = []DatasetConfig{{Name: "a", Expression: "x"}, {Name: "a", Expression: "y"}}
		}},
		{"duplicate policy", func(c *Config) {
			c.Input.Datasets = []DatasetConfig{{Name: "a", Expression: "x", DuplicateGenes: "merge"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "besca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classifier:\n  kind: rbf_svm\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rbf_svm", cfg.Classifier.Kind)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("classifier: [unclosed\n"), 0o644))
	_, err = Load(path)
	var me *errors.MalformedInputError
	assert.True(t, errors.As(err, &me))
}

func TestDatasetRead(t *testing.T) {
	dir := t.TempDir()
	expr := filepath.Join(dir, "counts.csv")
	require.NoError(t, os.WriteFile(expr, []byte(",CD3E,MS4A1\nc1,1,0\nc2,0,3\n"), 0o644))

	m, err := DatasetConfig{Name: "d", Expression: expr}.Read()
	require.NoError(t, err)
	assert.Equal(t, 2, m.NObs())
	assert.Equal(t, []string{"CD3E", "MS4A1"}, m.VarNames())

	_, err = DatasetConfig{Expression: expr, DuplicateGenes: "merge"}.Read()
	assert.Error(t, err)
}
