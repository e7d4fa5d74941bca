package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/audit"
	"github.com/alanta/keyvault-ca-sub000/internal/crl"
	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/revocation"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Generate a signed Certificate Revocation List",
	Long: `Generate a CRL covering every revocation recorded for the issuer,
signed through the custody service.

Examples:
  kvca crl --issuer-vault https://root.example --issuer-name root \
    --db revocations.db --days 7 --number 12 --out ca.crl`,
	RunE: runCRL,
}

// Flags
var (
	crlIssuerVault string
	crlIssuerName  string
	crlDB          string
	crlDays        int
	crlNumber      int64
	crlOut         string
	crlPEM         bool
)

func init() {
	rootCmd.AddCommand(crlCmd)

	crlCmd.Flags().StringVar(&crlIssuerVault, "issuer-vault", "", "issuer custody namespace URL")
	crlCmd.Flags().StringVar(&crlIssuerName, "issuer-name", "", "issuer certificate name")
	crlCmd.Flags().StringVar(&crlDB, "db", "revocations.db", "revocation database path")
	crlCmd.Flags().IntVar(&crlDays, "days", 7, "CRL validity in days")
	crlCmd.Flags().Int64Var(&crlNumber, "number", -1, "CRLNumber extension value (-1 to omit)")
	crlCmd.Flags().StringVar(&crlOut, "out", "", "write the CRL to this file instead of stdout")
	crlCmd.Flags().BoolVar(&crlPEM, "pem", false, "write PEM instead of DER")
	_ = crlCmd.MarkFlagRequired("issuer-vault")
	_ = crlCmd.MarkFlagRequired("issuer-name")
}

func runCRL(cmd *cobra.Command, args []string) error {
	log := newLogger()
	vaults, err := newVaults(log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	issuer, signer, err := loadIssuer(ctx, vaults,
		kv.Reference{Vault: crlIssuerVault, Name: crlIssuerName})
	if err != nil {
		return err
	}

	store, err := revocation.OpenSQLStore(crlDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var number *big.Int
	if crlNumber >= 0 {
		number = big.NewInt(crlNumber)
	}

	auditLog, err := newAuditWriter()
	if err != nil {
		return err
	}
	defer auditLog.Close()

	generator := crl.NewGenerator(store, crl.WithGeneratorLogger(log))
	der, err := generator.GenerateCRL(ctx, issuer, signer, issuer.Subject.String(),
		time.Duration(crlDays)*24*time.Hour, crypto.SHA256, number)
	if err != nil {
		return fmt.Errorf("failed to generate CRL: %w", err)
	}

	entries := 0
	if list, err := x509.ParseRevocationList(der); err == nil {
		entries = len(list.RevokedCertificateEntries)
	}
	event := audit.NewEvent(audit.EventCRLGenerated, audit.ResultSuccess).
		WithObject(audit.Object{Type: "crl", Vault: crlIssuerVault, Name: crlIssuerName}).
		WithContext(audit.Context{Issuer: issuer.Subject.String(), Entries: entries})
	if err := recordAudit(auditLog, event); err != nil {
		return err
	}

	out := os.Stdout
	if crlOut != "" {
		f, err := os.OpenFile(crlOut, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", crlOut, err)
		}
		defer f.Close()
		out = f
	}
	if crlPEM {
		return pem.Encode(out, &pem.Block{Type: "X509 CRL", Bytes: der})
	}
	if _, err := out.Write(der); err != nil {
		return fmt.Errorf("failed to write CRL: %w", err)
	}
	return nil
}
