package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/flattrace/pkg/calltrace"
)

var flattenIndent bool

var flattenCmd = &cobra.Command{
	Use:   "flatten [file]",
	Short: "Flattens a callTracer JSON document.",
	Long: `Reads a callTracer result (a call object, an array of calls, or a
debug_traceBlockByNumber result) from file or stdin and prints the flat trace.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()

		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			in = f
		}

		return flatten(in, cmd.OutOrStdout(), flattenIndent)
	},
}

func flatten(in io.Reader, out io.Writer, indent bool) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	flat, err := calltrace.FlattenJSON(data)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if indent {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(flat)
}

func init() {
	flattenCmd.Flags().BoolVar(&flattenIndent, "indent", false, "indent the JSON output")
	rootCmd.AddCommand(flattenCmd)
}
