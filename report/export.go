package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/mariiabilous/besca/pkg/errors"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatXLSX = "xlsx"
)

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(r), "encode report json")
}

// WriteYAML writes the report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, "encode report yaml")
	}
	return errors.Wrap(enc.Close(), "encode report yaml")
}

// WriteXLSX writes a workbook with a summary sheet, a label count sheet and,
// when truth was given, per_class and confusion sheets.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "summary"); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	summary := [][]interface{}{{"samples", r.Samples}, {"classes", len(r.Vocabulary)}}
	if p := r.TopProbability; p != nil {
		summary = append(summary,
			[]interface{}{"top_probability_mean", p.Mean},
			[]interface{}{"top_probability_median", p.Median},
			[]interface{}{"top_probability_q25", p.Q25})
	}
	if ev := r.Evaluation; ev != nil {
		summary = append(summary,
			[]interface{}{"accuracy", ev.Accuracy},
			[]interface{}{"macro_f1", ev.Macro.F1},
			[]interface{}{"weighted_f1", ev.Weighted.F1})
		if ev.LogLoss != nil {
			summary = append(summary, []interface{}{"log_loss", *ev.LogLoss})
		}
	}
	if err := writeRows(f, "summary", summary); err != nil {
		return err
	}

	counts := [][]interface{}{{"label", "count", "fraction"}}
	for _, c := range r.LabelCounts {
		counts = append(counts, []interface{}{c.Label, c.Count, c.Fraction})
	}
	if err := writeRows(f, "label_counts", counts); err != nil {
		return err
	}

	if ev := r.Evaluation; ev != nil {
		per := [][]interface{}{{"label", "precision", "recall", "f1", "support", "auc"}}
		for _, c := range ev.PerClass {
			row := []interface{}{c.Label, c.Precision, c.Recall, c.F1, c.Support, ""}
			if c.AUC != nil {
				row[5] = *c.AUC
			}
			per = append(per, row)
		}
		if err := writeRows(f, "per_class", per); err != nil {
			return err
		}

		header := []interface{}{"truth \\ predicted"}
		for _, l := range ev.Labels {
			header = append(header, l)
		}
		cm := [][]interface{}{header}
		for i, l := range ev.Labels {
			row := []interface{}{l}
			for _, v := range ev.Confusion[i] {
				row = append(row, v)
			}
			cm = append(cm, row)
		}
		if err := writeRows(f, "confusion", cm); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, "add sheet %s", sheet)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write %s row %d", sheet, i+1)
		}
	}
	return nil
}

// Write stores the report at path. An empty format is taken from the file
// extension (.json, .yaml/.yml, .xlsx, anything else is text).
func (r *Report) Write(path, format string) error {
	if format == "" {
		format = FormatFromPath(path)
	}
	if format == FormatXLSX {
		return r.WriteXLSX(path)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()
	if err := r.Encode(file, format); err != nil {
		return err
	}
	return file.Close()
}

// Encode writes the report to w in a streamable format.
func (r *Report) Encode(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatYAML:
		return r.WriteYAML(w)
	case FormatText, "":
		_, err := io.WriteString(w, r.String())
		return errors.Wrap(err, "write report")
	}
	return errors.NewValidationError("format", "must be text, json, yaml or xlsx", format)
}

// FormatFromPath maps a file extension to a report format.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".xlsx":
		return FormatXLSX
	}
	return FormatText
}

// tableBuilder aligns tab separated lines.
type tableBuilder struct {
	sb strings.Builder
	tw *tabwriter.Writer
}

func (b *tableBuilder) line(format string, args ...interface{}) {
	if b.tw == nil {
		b.tw = tabwriter.NewWriter(&b.sb, 0, 4, 2, ' ', 0)
	}
	fmt.Fprintf(b.tw, format+"\n", args...)
}

func (b *tableBuilder) String() string {
	if b.tw == nil {
		return ""
	}
	b.tw.Flush()
	return b.sb.String()
}
