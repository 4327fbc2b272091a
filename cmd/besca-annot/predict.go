package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/config"
	"github.com/mariiabilous/besca/loader"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/report"
)

type predictFlags struct {
	modelPath  string
	modelID    string
	expression string
	metadata   string
	raw        bool
	transposed bool
	out        string
	reportPath string
	truth      string
	column     string
	proba      bool
}

func newPredictCmd(a *app) *cobra.Command {
	f := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Annotate an expression table with a fitted model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.predict(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.modelPath, "model", "m", "", "model file written by train --out")
	fl.StringVar(&f.modelID, "model-id", "", "model id in the registry")
	fl.StringVar(&f.expression, "expression", "", "expression table to annotate")
	fl.StringVar(&f.metadata, "metadata", "", "metadata table for --expression")
	fl.BoolVar(&f.raw, "raw", false, "--expression holds raw counts")
	fl.BoolVar(&f.transposed, "transposed", false, "--expression is genes x samples")
	fl.StringVarP(&f.out, "out", "o", "", "write sample metadata with predictions (csv, tsv or xlsx)")
	fl.StringVar(&f.reportPath, "report", "", "write a report (text, json, yaml or xlsx by extension, - for stdout)")
	fl.StringVar(&f.truth, "truth", "", "metadata column with known labels for the report")
	fl.StringVar(&f.column, "column", "", "override predict.column")
	fl.BoolVar(&f.proba, "proba", false, "also store class probabilities")
	return cmd
}

func (a *app) predict(cmd *cobra.Command, f *predictFlags) error {
	if f.expression == "" {
		return errors.NewValidationError("expression", "is required", "")
	}
	fm, err := a.loadModel(cmd, f)
	if err != nil {
		return err
	}
	m, err := config.DatasetConfig{
		Name: "query", Expression: f.expression, Metadata: f.metadata,
		Raw: f.raw, Transposed: f.transposed,
	}.Read()
	if err != nil {
		return err
	}

	column := a.cfg.Predict.Column
	if f.column != "" {
		column = f.column
	}
	var annotated *anndata.AnnotatedMatrix
	if f.proba || a.cfg.Predict.Probabilities {
		annotated, err = annotate.AdataPredProb(fm, m, annotate.WithColumn(column))
	} else {
		annotated, err = annotate.AdataPredict(fm, m, annotate.WithColumn(column))
	}
	if err != nil {
		return err
	}

	if f.out != "" {
		if err := loader.WriteObs(f.out, annotated); err != nil {
			return err
		}
	} else {
		if err := printLabels(cmd.OutOrStdout(), annotated, column); err != nil {
			return err
		}
	}

	reportPath, truth := a.cfg.Report.Path, a.cfg.Report.TruthColumn
	if f.reportPath != "" {
		reportPath = f.reportPath
	}
	if f.truth != "" {
		truth = f.truth
	}
	if reportPath == "" {
		return nil
	}
	rep, err := report.FromAdata(annotated, column, truth)
	if err != nil {
		return err
	}
	if reportPath == "-" {
		format := a.cfg.Report.Format
		if format == report.FormatXLSX {
			return errors.NewValidationError("report.format", "xlsx cannot be written to stdout", format)
		}
		return rep.Encode(cmd.OutOrStdout(), format)
	}
	return rep.Write(reportPath, a.cfg.Report.Format)
}

func (a *app) loadModel(cmd *cobra.Command, f *predictFlags) (*annotate.FittedModel, error) {
	switch {
	case f.modelPath != "" && f.modelID != "":
		return nil, errors.NewValidationError("model", "pass either --model or --model-id", nil)
	case f.modelPath != "":
		return annotate.Load(f.modelPath)
	case f.modelID != "":
		s, err := openStore(cmd.Context(), a.cfg.Store)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Load(ctxOrBackground(cmd.Context()), f.modelID)
	}
	return nil, errors.NewValidationError("model", "one of --model or --model-id is required", nil)
}

func printLabels(w io.Writer, m *anndata.AnnotatedMatrix, column string) error {
	labels, _ := m.Obs(column)
	for i, name := range m.ObsNames() {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, labels[i]); err != nil {
			return errors.Wrap(err, "write labels")
		}
	}
	return nil
}
