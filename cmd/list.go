/*
Copyright © 2020 Red Hat, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"github.com/nais/armordash/pkg/config"
	"github.com/nais/armordash/pkg/grid"
	"github.com/nais/armordash/pkg/source"
)

const (
	sortFlag   = "sort"
	descFlag   = "desc"
	outputFlag = "output"

	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Args:  cobra.NoArgs,
	Short: "List the project's policies",
	Long:  `This fetches the project's policies once and prints them.`,
	Run:   listCmdFunc,
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(listCmd)
	defineListFlags(listCmd)
}

func defineListFlags(rootCmd *cobra.Command) {
	config.DefineSourceFlags(rootCmd.Flags())
	rootCmd.Flags().String(sortFlag, "", "column to sort by")
	rootCmd.Flags().Bool(descFlag, false, "sort in descending order")
	rootCmd.Flags().StringP(outputFlag, "o", outputTable, "output format: table, json or yaml")
}

type listOptions struct {
	sort   grid.Sort
	output string
}

func parseListFlags(rootCmd *cobra.Command) (*listOptions, error) {
	field, err := rootCmd.Flags().GetString(sortFlag)
	if err != nil {
		return nil, fmt.Errorf("failed getting %s flag: %w", sortFlag, err)
	}
	desc, err := rootCmd.Flags().GetBool(descFlag)
	if err != nil {
		return nil, fmt.Errorf("failed getting %s flag: %w", descFlag, err)
	}
	by, err := grid.ParseSort(field, strconv.FormatBool(desc))
	if err != nil {
		return nil, err
	}

	output, err := rootCmd.Flags().GetString(outputFlag)
	if err != nil {
		return nil, fmt.Errorf("failed getting %s flag: %w", outputFlag, err)
	}
	switch output {
	case outputTable, outputJSON, outputYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q", output)
	}

	return &listOptions{sort: by, output: output}, nil
}

func listCmdFunc(rootCmd *cobra.Command, _ []string) {
	opts, err := parseListFlags(rootCmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Parsing flags: %s\n", err)
		syscall.Exit(1)
	}

	_, cfg, err := loadConfig(rootCmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Loading configuration: %s\n", err)
		syscall.Exit(1)
	}
	if err := cfg.ValidateSource(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		syscall.Exit(1)
	}

	logger, err := getLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		syscall.Exit(1)
	}

	client, err := newSourceClient(cfg, otel.GetTracerProvider(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		syscall.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	view := grid.New(client, grid.WithLogger(logger))
	if err := view.Mount(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Loading policies: %s\n", err)
		syscall.Exit(1)
	}
	defer view.Unmount()

	if err := view.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Loading policies: %s\n", err)
		syscall.Exit(1)
	}

	snap := view.Snapshot()
	if err := printPolicies(os.Stdout, snap, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Printing policies: %s\n", err)
		syscall.Exit(1)
	}

	if snap.State == grid.StateError {
		color.New(color.FgRed).Fprintf(os.Stderr, "Loading policies failed (%s): %s\n",
			source.KindOf(snap.Err), snap.Err)
		syscall.Exit(1)
	}
}

func printPolicies(w io.Writer, snap grid.Snapshot, opts *listOptions) error {
	if opts.output == outputTable {
		grid.RenderText(w, snap, opts.sort)
		return nil
	}
	if snap.State == grid.StateError {
		return nil
	}

	records := make([]map[string]string, 0, len(snap.Rows))
	for _, row := range snap.Sorted(opts.sort) {
		rec := make(map[string]string, len(snap.Columns()))
		for _, col := range snap.Columns() {
			rec[col.Field] = row.Record.Field(col.Field)
		}
		records = append(records, rec)
	}

	if opts.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(records)
}
