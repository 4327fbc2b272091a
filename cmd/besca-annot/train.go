package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/config"
	"github.com/mariiabilous/besca/merge"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/store"
)

type trainFlags struct {
	kind       string
	out        string
	expression string
	metadata   string
	raw        bool
}

func newTrainCmd(a *app) *cobra.Command {
	f := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit an annotation model on the configured datasets",
		Long: `Reads every dataset under input.datasets (plus --expression if given),
merges them with merge.strategy and fits classifier.kind on the label column.
The model is written to --out and, when store.dsn is set, to the registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.train(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.kind, "kind", "", "override classifier.kind")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the fitted model to this file")
	cmd.Flags().StringVar(&f.expression, "expression", "", "additional expression table")
	cmd.Flags().StringVar(&f.metadata, "metadata", "", "metadata table for --expression")
	cmd.Flags().BoolVar(&f.raw, "raw", false, "--expression holds raw counts")
	return cmd
}

func (a *app) train(cmd *cobra.Command, f *trainFlags) error {
	cfg := a.cfg
	if f.kind != "" {
		cfg.Classifier.Kind = f.kind
	}
	if f.expression != "" {
		cfg.Input.Datasets = append(cfg.Input.Datasets, config.DatasetConfig{
			Name: "cli", Expression: f.expression, Metadata: f.metadata, Raw: f.raw,
		})
	}
	if len(cfg.Input.Datasets) == 0 {
		return errors.NewValidationError("input.datasets", "no training data; set it in the config or pass --expression", nil)
	}
	if f.out == "" && cfg.Store.DSN == "" {
		return errors.NewValidationError("out", "nowhere to write the model; pass --out or set store.dsn", nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	acfg, err := cfg.AnnotateConfig()
	if err != nil {
		return err
	}

	m, err := readTraining(&cfg)
	if err != nil {
		return err
	}
	fm, err := annotate.Fit(m, acfg)
	if err != nil {
		return err
	}

	if f.out != "" {
		if err := fm.Save(f.out); err != nil {
			return err
		}
	}
	if cfg.Store.DSN != "" {
		if err := saveToStore(cmd.Context(), cfg.Store, fm); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d classes\t%d genes\n", fm.ID, fm.Kind, len(fm.Classes), len(fm.Genes))
	return nil
}

// readTraining loads the datasets and merges them when there are several.
func readTraining(cfg *config.Config) (*anndata.AnnotatedMatrix, error) {
	ms := make([]*anndata.AnnotatedMatrix, len(cfg.Input.Datasets))
	for i, d := range cfg.Input.Datasets {
		m, err := d.Read()
		if err != nil {
			return nil, err
		}
		ms[i] = m
	}
	if len(ms) == 1 {
		return ms[0], nil
	}
	strategy, err := merge.ParseStrategy(cfg.Merge.Strategy)
	if err != nil {
		return nil, err
	}
	res, err := merge.MergeData(ms, strategy, cfg.MergeOptions()...)
	if err != nil {
		return nil, err
	}
	return res.Matrix, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (*store.Store, error) {
	ctx = ctxOrBackground(ctx)
	if sc.DSN == "" {
		return nil, errors.NewValidationError("store.dsn", "no model registry configured", nil)
	}
	s, err := store.Open(ctx, sc.Driver, sc.DSN)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func saveToStore(ctx context.Context, sc config.StoreConfig, fm *annotate.FittedModel) error {
	s, err := openStore(ctx, sc)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Save(ctxOrBackground(ctx), fm)
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
