package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/authority"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <code|file>...",
	Short: "Classify authority return codes",
	Long: `Classify return codes as success, alert or error using the configured
convention. A file argument is read as an authority response body: its code
and messages are extracted.

Examples:
  nfse classify E0014 L010 100
  nfse classify response.xml -f json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

// ClassifyOutput reports the classification of one argument
type ClassifyOutput struct {
	Input    string   `json:"input"`
	Code     string   `json:"code"`
	Outcome  string   `json:"outcome"`
	Messages []string `json:"messages"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	classifier := authority.NewClassifier(cfg.Convention)

	outputs := make([]ClassifyOutput, 0, len(args))
	for _, arg := range args {
		code, body := arg, []byte(nil)
		if info, err := os.Stat(arg); err == nil && !info.IsDir() {
			data, err := os.ReadFile(arg)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", arg, err)
			}
			body = data
			code = authority.ReturnCode(data)
		}

		res := classifier.Evaluate(code, 0, body)
		outputs = append(outputs, ClassifyOutput{
			Input:    arg,
			Code:     res.Code,
			Outcome:  res.Outcome(),
			Messages: res.Messages,
		})
	}

	if outputFormat == "json" {
		return writeJSON(os.Stdout, outputs)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tCODE\tOUTCOME\tMESSAGES")
	for _, o := range outputs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Input, o.Code, o.Outcome, strings.Join(o.Messages, "; "))
	}
	return tw.Flush()
}
