package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/processor"
)

var showXML bool

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the lifecycle state of a document",
	Long: `Show the state, access key and authority messages of a document.

With --xml the stored signed XML (or the unsigned XML before signing) is
written to stdout instead.

Examples:
  nfse status 6f1c2a4e-...
  nfse status 6f1c2a4e-... --xml > dps.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&showXML, "xml", false, "Print the stored XML")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipeline.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if showXML {
		if len(result.XML) == 0 {
			return fmt.Errorf("document %s has no XML yet", args[0])
		}
		_, err := os.Stdout.Write(result.XML)
		return err
	}
	return printResult(result)
}

func printResult(r *processor.Result) error {
	if outputFormat == "json" {
		return writeJSON(os.Stdout, r)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Document:\t%s\n", r.DocumentID)
	fmt.Fprintf(tw, "DPS:\t%s\n", r.DPSID)
	fmt.Fprintf(tw, "State:\t%s\n", r.State)
	if r.AccessKey != "" {
		fmt.Fprintf(tw, "Access key:\t%s\n", r.AccessKey)
	}
	if r.NFSeNumber != "" {
		fmt.Fprintf(tw, "NFS-e:\t%s\n", r.NFSeNumber)
	}
	if r.Code != "" {
		fmt.Fprintf(tw, "Code:\t%s\n", r.Code)
	}
	if r.Attempts > 0 {
		fmt.Fprintf(tw, "Attempts:\t%d\n", r.Attempts)
	}
	if len(r.Messages) > 0 {
		fmt.Fprintf(tw, "Messages:\t%s\n", strings.Join(r.Messages, "; "))
	}
	if len(r.Alerts) > 0 {
		fmt.Fprintf(tw, "Alerts:\t%s\n", strings.Join(r.Alerts, "; "))
	}
	return tw.Flush()
}
