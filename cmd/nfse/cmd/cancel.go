package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/dps"
	"github.com/rezonia/nfse-issuer/internal/processor"
)

var (
	cancelReason     string
	cancelReasonCode int
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <document-id>",
	Short: "Cancel an authorized document",
	Long: `Send a signed cancellation event (e101101) for an authorized document and
record it once the authority accepts it. Cancelling twice is a no-op.

Reason codes: 1 emission error, 2 service not provided, 9 other.

Examples:
  nfse cancel 6f1c2a4e-... --reason "Serviço não foi prestado ao tomador" --reason-code 2`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Cancellation reason (15 to 255 characters)")
	cancelCmd.Flags().IntVar(&cancelReasonCode, "reason-code", dps.ReasonEmissionError, "Cancellation reason code (1, 2, 9)")
	_ = cancelCmd.MarkFlagRequired("reason")
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.pipeline.Cancel(cmd.Context(), args[0], processor.CancelRequest{
		ReasonCode: cancelReasonCode,
		Reason:     cancelReason,
	}, a.certificate)
	if result != nil {
		if perr := printResult(result); perr != nil {
			return perr
		}
	}
	return err
}
