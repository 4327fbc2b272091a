package loader

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mariiabilous/besca/pkg/errors"
)

type fileType string

const (
	typeCSV  fileType = "csv"
	typeTSV  fileType = "tsv"
	typeXLSX fileType = "xlsx"
)

func detectType(path string) (fileType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return typeCSV, nil
	case ".tsv", ".txt", ".tab":
		return typeTSV, nil
	case ".xlsx", ".xlsm":
		return typeXLSX, nil
	default:
		return "", errors.NewMalformedInputErrorf(path, "unsupported file extension %q", filepath.Ext(path))
	}
}

// readTable returns the trimmed cells of a delimited or xlsx file. The first
// row is the header. Fully empty rows are dropped.
func readTable(path, sheet string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	ft, err := detectType(path)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch ft {
	case typeXLSX:
		rows, err = readExcel(path, sheet)
	default:
		rows, err = readDelimited(path, ft)
	}
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, row := range rows {
		empty := true
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
			if row[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, row)
		}
	}
	if len(out) < 2 {
		return nil, errors.NewMalformedInputError(path, "file must have a header row and at least one data row")
	}
	return out, nil
}

func readDelimited(path string, ft fileType) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if ft == typeTSV {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewMalformedInputErrorf(path, "parse: %v", err)
	}
	return rows, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.NewMalformedInputError(path, "workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.NewMalformedInputErrorf(path, "read sheet %q: %v", sheet, err)
	}

	// GetRows drops trailing empty cells; pad to the header width.
	if len(rows) > 0 {
		width := len(rows[0])
		for i, row := range rows {
			if len(row) < width {
				rows[i] = append(row, make([]string, width-len(row))...)
			}
		}
	}
	return rows, nil
}

// writeTable writes rows as csv, tsv or a single-sheet xlsx workbook.
func writeTable(path, sheet string, rows [][]string) error {
	ft, err := detectType(path)
	if err != nil {
		return err
	}
	if ft == typeXLSX {
		return writeExcel(path, sheet, rows)
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := csv.NewWriter(file)
	if ft == typeTSV {
		w.Comma = '\t'
	}
	if err := w.WriteAll(rows); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return nil
}

func writeExcel(path, sheet string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "obs"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
