package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a workflow map file for errors and warnings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, result, err := decodeMapFile(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if validateJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error    %s [%s] %s\n", e.Path, e.Code, e.Message)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning  %s [%s] %s\n", w.Path, w.Code, w.Message)
			}
		}

		if !result.Valid() {
			return errors.New("map is invalid")
		}
		if !validateJSON {
			fmt.Fprintf(out, "ok: %d items, %d relationships\n", len(m.Items), len(m.Relationships))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the validation result as JSON")
	rootCmd.AddCommand(validateCmd)
}
