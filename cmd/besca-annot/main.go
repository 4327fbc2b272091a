// Command besca-annot trains cell-type annotation models on labelled
// expression tables and applies them to new datasets.
//
//	besca-annot train --config besca.yaml --out pbmc.model
//	besca-annot predict --model pbmc.model --expression new.csv --out labels.csv --report report.xlsx
//	besca-annot models list --config besca.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "besca-annot:", err)
		os.Exit(1)
	}
}
