// Command kvca manages a private CA whose keys live in a remote custody
// service: root bootstrap, issuance, revocation, CRL generation, and the
// OCSP/CRL HTTP responders.
package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/audit"
	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/remotesign"
)

// Build-time variables
var (
	version = "dev"
	commit  = "none"
)

// Global flags
var (
	flagToken    string
	flagVerbose  bool
	flagAuditLog string
)

var rootCmd = &cobra.Command{
	Use:   "kvca",
	Short: "Private CA backed by a remote custody service",
	Long: `kvca drives a Certificate Authority whose private keys never leave a
remote custody service (an HSM-backed vault). Certificates are created as
pending operations in the custody service, signed locally against the CSR,
and merged back; OCSP and CRL answers are signed through the same service.

Examples:
  # Bootstrap a root CA
  kvca ca init --vault https://root.example --name root --subject "CN=CA-A,O=Example"

  # Issue a TLS server certificate
  kvca issue --issuer-vault https://root.example --issuer-name root \
    --vault https://leaf.example --name web --subject "CN=a.example.com" \
    --san a.example.com

  # Revoke by serial and serve OCSP/CRL
  kvca revoke --db revocations.db --serial 0A1B... --reason key-compromise
  kvca serve --config kvca.yaml`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "custody service bearer token (defaults to $KVCA_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagAuditLog, "audit-log", "", "append audit events to this JSON-lines file (defaults to $KVCA_AUDIT_LOG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger, debug-level with --verbose.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// newVaults builds the custody client set from the token flag or
// environment.
func newVaults(log zerolog.Logger) (*kv.Vaults, error) {
	token := flagToken
	if token == "" {
		token = os.Getenv("KVCA_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("custody token required: pass --token or set KVCA_TOKEN")
	}
	return kv.NewVaults(kv.StaticToken(token), kv.WithLogger(log)), nil
}

// newAuditWriter opens the audit trail named by --audit-log or
// KVCA_AUDIT_LOG. Auditing is off when neither is set.
func newAuditWriter() (audit.Writer, error) {
	path := flagAuditLog
	if path == "" {
		path = os.Getenv("KVCA_AUDIT_LOG")
	}
	if path == "" {
		return audit.NopWriter{}, nil
	}
	return audit.NewFileWriter(path)
}

// recordAudit writes the event and fails the calling operation when the
// audit write fails.
func recordAudit(w audit.Writer, event *audit.Event) error {
	if err := w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// loadIssuer fetches the certificate at ref and wraps its custody key as
// a remote signer.
func loadIssuer(ctx context.Context, vaults kv.VaultSet, ref kv.Reference) (*x509.Certificate, *remotesign.Key, error) {
	bundle, err := vaults.Certificates(ref.Vault).GetCertificate(ctx, ref.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch certificate %s: %w", ref, err)
	}
	cert, err := x509.ParseCertificate(bundle.DER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate %s: %w", ref, err)
	}
	key, err := remotesign.NewKeyFromCertificate(vaults.Signer(ref.Vault), bundle)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind custody key for %s: %w", ref, err)
	}
	return cert, key, nil
}
