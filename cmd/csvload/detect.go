package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"csvload/internal/parser/csv"
	"csvload/internal/schema"
)

// detection is the dry-run result for one file.
type detection struct {
	File        string   `json:"file"`
	Separator   string   `json:"separator,omitempty"`
	Table       string   `json:"table,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	HeaderWidth int      `json:"header_width,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE...",
		Short: "Print the separator, table and columns each file would load into",
		Long: `Print, as JSON lines, the separator, table name and columns each file
would load into. No database is touched and no file is moved.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(false); err != nil {
				return err
			}
			return a.detect(cmd, args)
		},
	}
}

func (a *app) detect(cmd *cobra.Command, files []string) error {
	opt := a.cfg.SourceOptions()
	enc := json.NewEncoder(cmd.OutOrStdout())

	failed := 0
	for _, f := range files {
		d := detection{File: f}
		sep, err := csv.DetectSeparator(f, opt)
		if err == nil {
			d.Separator = string(sep)
			var spec schema.TableSpec
			spec, err = schema.Resolve(f, sep, opt)
			if err == nil {
				d.Table, d.Columns, d.HeaderWidth = spec.TableName, spec.Columns, spec.HeaderWidth
			}
		}
		if err != nil {
			d.Error = err.Error()
			failed++
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}

	if failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d files cannot be loaded", failed, len(files))}
	}
	return nil
}
