package main

import (
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/audit"
	"github.com/alanta/keyvault-ca-sub000/internal/ca"
	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Certificate Authority operations",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a self-signed root CA in the custody service",
	Long: `Bootstrap a root CA. The custody service mints the key and the root
certificate is signed over it without the key ever leaving the service.
Re-running against an existing root is a no-op and prints the current
certificate.

Examples:
  kvca ca init --vault https://root.example --name root \
    --subject "CN=CA-A,O=Example" --days 3650 --path-len 1`,
	RunE: runCAInit,
}

// Flags
var (
	caInitVault   string
	caInitName    string
	caInitSubject string
	caInitDays    int
	caInitPathLen int
	caInitKeyType string
	caInitOut     string
)

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd)

	caInitCmd.Flags().StringVar(&caInitVault, "vault", "", "custody namespace URL")
	caInitCmd.Flags().StringVar(&caInitName, "name", "", "certificate name in the custody service")
	caInitCmd.Flags().StringVar(&caInitSubject, "subject", "", "subject DN (RFC 4514)")
	caInitCmd.Flags().IntVar(&caInitDays, "days", 3650, "validity in days")
	caInitCmd.Flags().IntVar(&caInitPathLen, "path-len", -1, "basic constraints path length (-1 for none)")
	caInitCmd.Flags().StringVar(&caInitKeyType, "key-type", string(kv.KeyTypeRSA2048), "key type (RSA-2048, RSA-3072, RSA-4096, EC-P256, EC-P384)")
	caInitCmd.Flags().StringVar(&caInitOut, "out", "", "write the certificate PEM to this file instead of stdout")
	_ = caInitCmd.MarkFlagRequired("vault")
	_ = caInitCmd.MarkFlagRequired("name")
	_ = caInitCmd.MarkFlagRequired("subject")
}

func runCAInit(cmd *cobra.Command, args []string) error {
	log := newLogger()
	vaults, err := newVaults(log)
	if err != nil {
		return err
	}
	auditLog, err := newAuditWriter()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	orch := ca.NewOrchestrator(vaults,
		ca.WithKeyType(kv.KeyType(caInitKeyType)),
		ca.WithOrchestratorLogger(log),
	)

	notBefore := time.Now().Add(-5 * time.Minute)
	notAfter := notBefore.Add(time.Duration(caInitDays) * 24 * time.Hour)
	cert, err := orch.CreateRootCertificate(cmd.Context(),
		kv.Reference{Vault: caInitVault, Name: caInitName},
		caInitSubject, notBefore, notAfter, caInitPathLen)
	if err != nil {
		_ = auditLog.Write(audit.NewEvent(audit.EventRootCreated, audit.ResultFailure).
			WithObject(audit.Object{Type: "ca", Vault: caInitVault, Name: caInitName, Subject: caInitSubject}).
			WithContext(audit.Context{KeyType: caInitKeyType, Reason: err.Error()}))
		return fmt.Errorf("failed to bootstrap root CA: %w", err)
	}

	event := audit.NewEvent(audit.EventRootCreated, audit.ResultSuccess).
		WithObject(audit.Object{
			Type:    "ca",
			Vault:   caInitVault,
			Name:    caInitName,
			Serial:  x509util.SerialHex(cert.SerialNumber),
			Subject: cert.Subject.String(),
		}).
		WithContext(audit.Context{KeyType: caInitKeyType})
	if err := recordAudit(auditLog, event); err != nil {
		return err
	}

	return writeCertificatePEM(caInitOut, cert.Raw)
}

// writeCertificatePEM writes a certificate to path, or stdout when path
// is empty.
func writeCertificatePEM(path string, der []byte) error {
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	if path == "" {
		return pem.Encode(os.Stdout, block)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, block); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
