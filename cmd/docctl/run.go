package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <operation> <files...>",
	Short: "Run one operation on local files",
	Long: `Run applies an operation to one or more files and writes the result.
Inputs are used in the order given. Parameters are passed as key=value:

  docctl run rotate-pdf scan.pdf --param angle=90
  docctl run merge a.pdf b.pdf -o combined.pdf
  docctl run overwrite-text form.pdf --param 'texts=[{"text":"X","x":10,"y":20}]'`,
	Args: cobra.MinimumNArgs(2),
	RunE: runOperation,
}

func init() {
	runCmd.Flags().StringArrayP("param", "p", nil, "operation parameter as key=value (repeatable)")
	runCmd.Flags().StringP("output", "o", "", "output path, - for stdout (default: the result's name in the current directory)")

	rootCmd.AddCommand(runCmd)
}

func runOperation(cmd *cobra.Command, args []string) error {
	op := models.Operation(args[0])
	rawParams, _ := cmd.Flags().GetStringArray("param")
	values, err := parseParamFlags(rawParams)
	if err != nil {
		return err
	}
	params, err := models.ParseParams(op, values)
	if err != nil {
		return err
	}

	inputs := make([]pipeline.Payload, 0, len(args)-1)
	for _, name := range args[1:] {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		inputs = append(inputs, pipeline.Payload{
			Filename:  filepath.Base(name),
			MediaType: mime.TypeByExtension(filepath.Ext(name)),
			Body:      f,
		})
	}

	rt, err := loadRuntime(cmd, v)
	if err != nil {
		return err
	}
	defer rt.Close()
	result, err := rt.Pipeline.Handle(cmd.Context(), &pipeline.Request{Operation: op, Inputs: inputs, Params: params})
	if err != nil {
		return err
	}
	defer result.Close()

	output, _ := cmd.Flags().GetString("output")
	return writeResult(cmd.OutOrStdout(), output, result)
}

// parseParamFlags turns key=value flags into the parameter map. The value
// may itself contain '='.
func parseParamFlags(raw []string) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", kv)
		}
		values[key] = value
	}
	return values, nil
}

func writeResult(stdout io.Writer, output string, result *pipeline.Result) error {
	if output == "-" {
		_, err := result.WriteTo(stdout)
		return err
	}
	if output == "" {
		output = result.Filename
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := result.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	if result.URL != "" {
		fmt.Fprintf(stdout, "%s (job %s): %s\n", output, result.JobID, result.URL)
		return nil
	}
	fmt.Fprintln(stdout, output)
	return nil
}
