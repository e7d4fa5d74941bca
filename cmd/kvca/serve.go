package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanta/keyvault-ca-sub000/internal/api"
	"github.com/alanta/keyvault-ca-sub000/internal/config"
	"github.com/alanta/keyvault-ca-sub000/internal/crl"
	"github.com/alanta/keyvault-ca-sub000/internal/ocsp"
	"github.com/alanta/keyvault-ca-sub000/internal/revocation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the OCSP responder and CRL endpoint",
	Long: `Serve the RFC 6960 OCSP responder and the CRL endpoint on one
listener. Every OCSP answer and every CRL fetch is freshly signed through
the custody service; nothing is cached.

Endpoints:
  POST /ocsp    RFC 6960 request (DER body)
  GET  /ocsp/*  RFC 6960 request (base64 in path)
  GET  /crl     freshly generated CRL
  GET  /health  liveness

Examples:
  kvca serve --config kvca.yaml`,
	RunE: runServe,
}

var serveConfig string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfig, "config", "kvca.yaml", "configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.LoadFromFile(serveConfig)
	if err != nil {
		return err
	}
	vaults, err := newVaults(log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, issuerKey, err := loadIssuer(ctx, vaults, cfg.Issuer)
	if err != nil {
		return err
	}
	ocspCert, ocspKey, err := loadIssuer(ctx, vaults, cfg.OCSPSigner)
	if err != nil {
		return err
	}

	store, err := revocation.OpenSQLStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	responder := ocsp.NewResponder(store, issuer, ocspCert, ocspKey,
		ocsp.WithValidity(cfg.OCSPValidity),
		ocsp.WithResponderLogger(log),
	)
	generator := crl.NewGenerator(store, crl.WithGeneratorLogger(log))

	router := api.NewRouter(
		api.NewOCSPHandler(responder, log),
		api.NewCRLHandler(generator, issuer, issuerKey, cfg.CRLValidity, log),
		log,
	)

	log.Info().
		Str("issuer", issuer.Subject.String()).
		Str("ocsp_signer", ocspCert.Subject.String()).
		Str("db", cfg.DatabasePath).
		Msg("starting responders")

	server := api.NewServer(cfg.Listen, router, api.WithServerLogger(log))
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
