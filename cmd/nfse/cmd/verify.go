package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/nfse-issuer/internal/signer"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify XMLDSig signatures of DPS and event documents",
	Long: `Verify the enveloped signature of signed DPS or event XML files against
the certificate embedded in KeyInfo, and check the certificate validity
period. With --ca-file the signer chain is also verified against the
given PEM bundle of trusted CA certificates.

Examples:
  nfse verify dps-signed.xml
  nfse verify signed/ -f json
  nfse verify --ca-file icp-brasil.pem dps-signed.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

var verifyCAFile string

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyCAFile, "ca-file", "", "PEM bundle of trusted CA certificates")
}

// VerifyResult holds the result of verifying a single file
type VerifyResult struct {
	File string `json:"file"`
	*signer.Verification
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".xml")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	var opts []signer.VerifyOption
	if verifyCAFile != "" {
		trust, err := signer.LoadTrustFile(verifyCAFile)
		if err != nil {
			return err
		}
		logger.Debug("trust store loaded", slog.Int("certificates", trust.Len()))
		opts = append(opts, signer.WithTrustStore(trust))
	}

	results := make([]VerifyResult, 0, len(files))
	allValid := true
	now := time.Now()
	for _, file := range files {
		logger.Debug("verifying", slog.String("file", file))
		result := VerifyResult{File: file}

		data, err := os.ReadFile(file)
		if err != nil {
			result.Errors = []string{fmt.Sprintf("failed to read file: %v", err)}
		} else if v, err := signer.Verify(data, now, opts...); err != nil {
			result.Errors = []string{fmt.Sprintf("verification error: %v", err)}
		} else {
			result.Verification = v
			result.Valid = v.Valid()
			result.Errors = v.Errors
		}
		if !result.Valid {
			allValid = false
		}
		results = append(results, result)
	}

	if outputFormat == "json" {
		if err := writeJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		printVerifyTable(results)
	}

	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

func printVerifyTable(results []VerifyResult) {
	for _, r := range results {
		statusIcon, statusText := "✓", "VALID"
		if !r.Valid {
			statusIcon, statusText = "✗", "INVALID"
		}
		fmt.Printf("%s %s: %s\n", statusIcon, r.File, statusText)

		if v := r.Verification; v != nil && v.SignatureFound {
			if v.SignedElement != "" {
				fmt.Printf("  Element:    %s (%s)\n", v.SignedElement, v.SignedID)
			}
			if v.SignerSubject != "" {
				fmt.Printf("  Signer:     %s\n", v.SignerSubject)
				fmt.Printf("  Thumbprint: %s\n", v.Thumbprint)
				fmt.Printf("  Valid:      %s to %s\n", v.NotBefore.Format(time.RFC3339), v.NotAfter.Format(time.RFC3339))
			}
			fmt.Printf("  Signature:  %s\n", mark(v.SignatureValid))
			fmt.Printf("  Cert dates: %s\n", mark(v.CertificateValid))
			if v.ChainChecked {
				fmt.Printf("  Chain:      %s\n", mark(v.ChainValid))
			}
		}
		for _, e := range r.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
