package main

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/audit"
	"github.com/alanta/keyvault-ca-sub000/internal/ca"
	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate signed by a custody-held CA",
	Long: `Issue a leaf or intermediate certificate. The custody service mints
the key and hands back a CSR; the CSR is signed against the issuer
certificate and the result is merged back into the custody service.
Re-issuing an existing name renews it with a fresh key.

Examples:
  # TLS server certificate
  kvca issue --issuer-vault https://root.example --issuer-name root \
    --vault https://leaf.example --name web \
    --subject "CN=a.example.com" --san a.example.com \
    --ocsp-url http://ocsp.example.com --crl-url http://crl.example.com/ca.crl

  # Intermediate CA in another namespace
  kvca issue --issuer-vault https://root.example --issuer-name root \
    --vault https://sub.example --name issuing \
    --subject "CN=Issuing CA,O=Example" --intermediate --path-len 0

  # Delegated OCSP signing certificate
  kvca issue --issuer-vault https://root.example --issuer-name root \
    --vault https://root.example --name ocsp-signer \
    --subject "CN=OCSP Signer" --ocsp-signing`,
	RunE: runIssue,
}

// Flags
var (
	issueIssuerVault  string
	issueIssuerName   string
	issueVault        string
	issueName         string
	issueSubject      string
	issueSANs         []string
	issueDays         int
	issueKeyType      string
	issueIntermediate bool
	issuePathLen      int
	issueOCSPSigning  bool
	issueOCSPURL      string
	issueCRLURL       string
	issueCAIssuersURL string
	issueOut          string
)

func init() {
	rootCmd.AddCommand(issueCmd)

	issueCmd.Flags().StringVar(&issueIssuerVault, "issuer-vault", "", "issuer custody namespace URL")
	issueCmd.Flags().StringVar(&issueIssuerName, "issuer-name", "", "issuer certificate name")
	issueCmd.Flags().StringVar(&issueVault, "vault", "", "target custody namespace URL")
	issueCmd.Flags().StringVar(&issueName, "name", "", "target certificate name")
	issueCmd.Flags().StringVar(&issueSubject, "subject", "", "subject DN (RFC 4514)")
	issueCmd.Flags().StringSliceVar(&issueSANs, "san", nil, "DNS subject alternative names")
	issueCmd.Flags().IntVar(&issueDays, "days", 365, "validity in days")
	issueCmd.Flags().StringVar(&issueKeyType, "key-type", string(kv.KeyTypeRSA2048), "key type (RSA-2048, RSA-3072, RSA-4096, EC-P256, EC-P384)")
	issueCmd.Flags().BoolVar(&issueIntermediate, "intermediate", false, "issue an intermediate CA certificate")
	issueCmd.Flags().IntVar(&issuePathLen, "path-len", -1, "intermediate path length (-1 for none)")
	issueCmd.Flags().BoolVar(&issueOCSPSigning, "ocsp-signing", false, "issue a delegated OCSP signing certificate")
	issueCmd.Flags().StringVar(&issueOCSPURL, "ocsp-url", "", "AIA OCSP responder URL embedded in the certificate")
	issueCmd.Flags().StringVar(&issueCRLURL, "crl-url", "", "CRL distribution point URL embedded in the certificate")
	issueCmd.Flags().StringVar(&issueCAIssuersURL, "ca-issuers-url", "", "AIA caIssuers URL embedded in the certificate")
	issueCmd.Flags().StringVar(&issueOut, "out", "", "write the certificate PEM to this file instead of stdout")
	_ = issueCmd.MarkFlagRequired("issuer-vault")
	_ = issueCmd.MarkFlagRequired("issuer-name")
	_ = issueCmd.MarkFlagRequired("vault")
	_ = issueCmd.MarkFlagRequired("name")
	_ = issueCmd.MarkFlagRequired("subject")
}

func runIssue(cmd *cobra.Command, args []string) error {
	if issueIntermediate && issueOCSPSigning {
		return fmt.Errorf("--intermediate and --ocsp-signing are mutually exclusive")
	}

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
		ca.WithKeyType(kv.KeyType(issueKeyType)),
		ca.WithOrchestratorLogger(log),
	)

	notBefore := time.Now().Add(-5 * time.Minute)
	req := ca.IssueRequest{
		Subject:         issueSubject,
		NotBefore:       notBefore,
		NotAfter:        notBefore.Add(time.Duration(issueDays) * 24 * time.Hour),
		SubjectAltNames: issueSANs,
		OCSPSigning:     issueOCSPSigning,
	}
	if issueOCSPURL != "" || issueCRLURL != "" || issueCAIssuersURL != "" {
		req.Revocation = &ca.RevocationEndpoints{
			OCSPURL:      issueOCSPURL,
			CRLURL:       issueCRLURL,
			CAIssuersURL: issueCAIssuersURL,
		}
	}

	issuerRef := kv.Reference{Vault: issueIssuerVault, Name: issueIssuerName}
	targetRef := kv.Reference{Vault: issueVault, Name: issueName}

	ctx := cmd.Context()

	// Re-issuing an existing name rotates its key; record that as a
	// renewal rather than a first issuance.
	eventType := audit.EventCertIssued
	if _, err := vaults.Certificates(targetRef.Vault).GetCertificate(ctx, targetRef.Name); err == nil {
		eventType = audit.EventCertRenewed
	}

	var c *x509.Certificate
	if issueIntermediate {
		c, err = orch.IssueIntermediateCertificate(ctx, issuerRef, targetRef, req, issuePathLen)
	} else {
		c, err = orch.IssueCertificate(ctx, issuerRef, targetRef, req)
	}
	if err != nil {
		_ = auditLog.Write(audit.NewEvent(eventType, audit.ResultFailure).
			WithObject(audit.Object{Type: "certificate", Vault: targetRef.Vault, Name: targetRef.Name, Subject: issueSubject}).
			WithContext(audit.Context{KeyType: issueKeyType, Reason: err.Error()}))
		return fmt.Errorf("failed to issue certificate: %w", err)
	}

	event := audit.NewEvent(eventType, audit.ResultSuccess).
		WithObject(audit.Object{
			Type:    "certificate",
			Vault:   targetRef.Vault,
			Name:    targetRef.Name,
			Serial:  x509util.SerialHex(c.SerialNumber),
			Subject: c.Subject.String(),
		}).
		WithContext(audit.Context{Issuer: c.Issuer.String(), KeyType: issueKeyType})
	if err := recordAudit(auditLog, event); err != nil {
		return err
	}

	return writeCertificatePEM(issueOut, c.Raw)
}
