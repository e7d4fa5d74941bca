package ca

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/remotesign"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// Orchestrator drives certificate issuance against the custody service:
// root bootstrap, intermediate and leaf issuance, and renewal. It holds no
// mutable state; concurrent issuance of different names is safe, and
// concurrent issuance of the same name is resolved by the custody
// service's pending-operation semantics.
type Orchestrator struct {
	vaults       kv.VaultSet
	keyType      kv.KeyType
	hash         crypto.Hash
	pollInterval time.Duration
	log          zerolog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithKeyType sets the key algorithm minted for new certificates.
func WithKeyType(kt kv.KeyType) OrchestratorOption {
	return func(o *Orchestrator) { o.keyType = kt }
}

// WithHash sets the signature digest algorithm.
func WithHash(hash crypto.Hash) OrchestratorOption {
	return func(o *Orchestrator) { o.hash = hash }
}

// WithPollInterval sets the delay between pending-operation polls.
func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(log zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator returns an Orchestrator over the given custody
// namespaces.
func NewOrchestrator(vaults kv.VaultSet, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		vaults:       vaults,
		keyType:      kv.KeyTypeRSA2048,
		hash:         crypto.SHA256,
		pollInterval: time.Second,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateRootCertificate bootstraps a self-signed root CA at ref. When any
// version of the certificate already exists the call is a logged no-op
// returning the existing certificate.
//
// Bootstrap runs in two custody operations: a throwaway self-signed
// certificate mints a fresh key pair, then a second operation against the
// same key yields a CSR whose subject and key the real root is built from.
// The root is signed through the remote oracle, merged back as the final
// version, and the throwaway version is disabled best-effort.
func (o *Orchestrator) CreateRootCertificate(ctx context.Context, ref kv.Reference, subject string, notBefore, notAfter time.Time, pathLen int) (*x509.Certificate, error) {
	const op = "create-root"
	certs := o.vaults.Certificates(ref.Vault)

	count, err := certs.GetVersionCount(ctx, ref.Name)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	if count > 0 {
		o.log.Warn().Str("certificate", ref.String()).Int("versions", count).
			Msg("root certificate already exists, skipping bootstrap")
		existing, err := certs.GetCertificate(ctx, ref.Name)
		if err != nil {
			return nil, NewCAError(op, err)
		}
		cert, err := x509.ParseCertificate(existing.DER)
		if err != nil {
			return nil, NewCAError(op, fmt.Errorf("%w: stored root unparsable: %v", ErrValidation, err))
		}
		return cert, nil
	}

	// Step 1: throwaway self-signed certificate to mint the key pair.
	if _, err := certs.StartOperation(ctx, ref.Name, kv.CertificatePolicy{
		Subject:    subject,
		KeyType:    o.keyType,
		IssuerName: kv.IssuerSelf,
	}); err != nil {
		return nil, NewCAError(op, err)
	}
	if err := o.waitForOperation(ctx, certs, ref.Name); err != nil {
		return nil, NewCAError(op, err)
	}
	throwaway, err := certs.GetCertificate(ctx, ref.Name)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	// Step 2: CSR for the same key.
	pending, err := certs.StartOperation(ctx, ref.Name, kv.CertificatePolicy{
		Subject:    subject,
		KeyType:    o.keyType,
		IssuerName: kv.IssuerUnknown,
		ReuseKey:   true,
	})
	if err != nil {
		return nil, NewCAError(op, err)
	}

	csr, err := x509util.ParseCSR(pending.CSR)
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	key, err := remotesign.NewKey(o.vaults.Signer(ref.Vault), throwaway.KeyID, csr.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	root, err := CreateSignedCACertificate(ctx, csr.Subject, csr.PublicKey, key, notBefore, notAfter, o.hash, pathLen)
	if err != nil {
		return nil, err
	}

	if _, err := certs.MergeCertificate(ctx, ref.Name, root.Raw); err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(root.SerialNumber), err)
	}

	// Disable the throwaway version so it cannot be served again. This is
	// the one step whose failure never fails the operation.
	if err := certs.DisableCertificate(ctx, ref.Name, throwaway.Version); err != nil {
		o.log.Warn().Err(err).
			Str("certificate", ref.String()).
			Str("version", throwaway.Version).
			Msg("failed to disable bootstrap certificate version")
	}

	o.log.Info().
		Str("certificate", ref.String()).
		Str("serial", x509util.SerialHex(root.SerialNumber)).
		Time("not_after", root.NotAfter).
		Msg("root certificate created")
	return root, nil
}

// waitForOperation polls the pending operation for name until it
// completes, honoring ctx.
func (o *Orchestrator) waitForOperation(ctx context.Context, certs kv.CertificateClient, name string) error {
	for {
		op, err := certs.GetOperation(ctx, name)
		if err != nil {
			return err
		}
		switch op.Status {
		case kv.OperationCompleted:
			return nil
		case kv.OperationCancelled:
			return fmt.Errorf("operation for %q was cancelled", name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
}

// resolveSigner loads the issuer certificate from its namespace and wraps
// its custody key as the engine signer.
func (o *Orchestrator) resolveSigner(ctx context.Context, issuerRef kv.Reference) (*x509.Certificate, *remotesign.Key, error) {
	bundle, err := o.vaults.Certificates(issuerRef.Vault).GetCertificate(ctx, issuerRef.Name)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: issuer certificate %s not found", ErrInvalidArgument, issuerRef)
		}
		return nil, nil, err
	}
	issuer, err := x509.ParseCertificate(bundle.DER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: issuer certificate %s unparsable: %v", ErrValidation, issuerRef, err)
	}
	key, err := remotesign.NewKey(o.vaults.Signer(issuerRef.Vault), bundle.KeyID, issuer.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, nil, err
	}
	return issuer, key, nil
}
