package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of an audit log",
	Long: `Verify that the audit log's SHA-256 hash chain is intact: every
event links to its predecessor and no event has been altered or removed.

Examples:
  kvca audit verify --log kvca-audit.log`,
	RunE: runAuditVerify,
}

var auditVerifyLog string

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditVerifyCmd.Flags().StringVar(&auditVerifyLog, "log", "", "audit log file to verify")
	_ = auditVerifyCmd.MarkFlagRequired("log")
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	count, err := audit.VerifyChain(auditVerifyLog)
	if err != nil {
		return fmt.Errorf("audit chain broken after %d valid events: %w", count, err)
	}
	fmt.Printf("Audit log OK: %d events, chain intact\n", count)
	return nil
}
