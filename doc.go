// Package besca provides automated cell-type annotation for single-cell
// expression data.
//
// Labelled datasets are loaded, reconciled to their shared genes, merged
// (optionally with batch correction) and used to fit one of seven
// classifiers. The fitted model annotates new datasets with labels and
// class probabilities, and a report summarizes the result.
//
// # Quick Start
//
//	train, err := loader.ReadRaw("pbmc_counts.csv", "pbmc_obs.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fm, err := annotate.Fit(train, annotate.DefaultConfig(annotate.KindRBFSVM))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	query, err := loader.ReadRaw("query_counts.csv", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	annotated, err := annotate.AdataPredProb(fm, query)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rep, _ := report.FromAdata(annotated, annotate.DefaultPredictionColumn, "")
//	fmt.Print(rep)
//
// # Packages
//
//   - anndata: the annotated expression matrix passed between stages
//   - loader: csv, tsv and xlsx readers with raw count normalization
//   - genes: shared gene reconciliation
//   - merge: naive and scanorama style dataset merging
//   - annotate: classifier factory, fitting, prediction and model persistence
//   - report: label distribution, confidence and classification metrics
//   - metrics: accuracy, AUC, log loss, confusion matrix and per-class scores
//   - store: SQL model registry (sqlite or postgres)
//   - config: YAML pipeline configuration
//   - sklearn/...: the classifier backends (svm, linear_model, tree, ensemble, calibration)
//   - preprocessing: total count normalization, log1p and standard scaling
//   - core/model, core/parallel: estimator plumbing and CPU parallelism
//   - pkg/errors, pkg/log, pkg/telemetry: errors, structured logging and metrics
//
// The besca-annot command in cmd/besca-annot drives the pipeline from a
// configuration file.
package besca
