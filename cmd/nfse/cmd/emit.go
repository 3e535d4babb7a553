package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/model"
)

var (
	outputFile  string
	concurrency int
	timeout     time.Duration
)

var emitCmd = &cobra.Command{
	Use:   "emit [files...]",
	Short: "Emit DPS documents",
	Long: `Build, sign and transmit DPS documents read from YAML or JSON files.

A file may hold one input, a list of inputs or (YAML) several documents.
Inputs already authorized are reported without being sent again; documents
left Signed by a network failure are resent unchanged.

Examples:
  nfse emit dps.yaml
  nfse emit dps/ --concurrency 8 -f json -o results.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmit,
}

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	emitCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum emissions in flight")
	emitCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout for the whole batch")
}

// EmitOutput is the reported outcome of one input
type EmitOutput struct {
	File       string      `json:"file"`
	Number     string      `json:"number"`
	DocumentID string      `json:"document_id,omitempty"`
	State      model.State `json:"state,omitempty"`
	AccessKey  string      `json:"access_key,omitempty"`
	Code       string      `json:"code,omitempty"`
	Messages   []string    `json:"messages,omitempty"`
	Alerts     []string    `json:"alerts,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func runEmit(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".yaml", ".yml", ".json")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to emit")
	}

	var (
		inputs  []dps.Input
		sources []string
	)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		decoded, err := dps.DecodeInputs(data)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		for range decoded {
			sources = append(sources, file)
		}
		inputs = append(inputs, decoded...)
	}
	logger.Info("emitting",
		slog.Int("inputs", len(inputs)),
		slog.Int("files", len(files)),
		slog.Int("concurrency", concurrency))

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	items := a.pipeline.EmitAll(ctx, inputs, a.certificate, concurrency)
	outputs := make([]EmitOutput, len(items))
	failed := 0
	for i, item := range items {
		out := EmitOutput{File: sources[i], Number: inputs[i].Number}
		if item.Result != nil {
			out.DocumentID = item.Result.DocumentID
			out.State = item.Result.State
			out.AccessKey = item.Result.AccessKey
			out.Code = item.Result.Code
			out.Messages = item.Result.Messages
			out.Alerts = item.Result.Alerts
		}
		if item.Err != nil {
			out.Error = item.Err.Error()
			if len(out.Messages) == 0 {
				out.Messages = model.MessagesOf(item.Err)
			}
			failed++
		}
		outputs[i] = out
	}

	if err := writeEmitOutputs(outputs); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d emissions failed", failed, len(items))
	}
	return nil
}

func writeEmitOutputs(outputs []EmitOutput) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if outputFormat == "json" {
		return writeJSON(w, outputs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tNUMBER\tSTATE\tCODE\tACCESS KEY\tDETAIL")
	fmt.Fprintln(tw, "----\t------\t-----\t----\t----------\t------")
	for _, o := range outputs {
		detail := strings.Join(o.Alerts, "; ")
		if len(o.Messages) > 0 {
			detail = strings.Join(o.Messages, "; ")
		}
		if o.Error != "" && len(o.Messages) == 0 {
			detail = "ERROR: " + o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", o.File, o.Number, o.State, o.Code, o.AccessKey, detail)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
