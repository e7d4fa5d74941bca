package ca

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// RevocationEndpoints are the URLs embedded in issued certificates so
// relying parties can find this CA's revocation services.
type RevocationEndpoints struct {
	// OCSPURL is published in the Authority Information Access extension.
	OCSPURL string

	// CAIssuersURL optionally points at the issuer certificate.
	CAIssuersURL string

	// CRLURL is published in the CRL Distribution Points extension.
	CRLURL string
}

// IssueRequest describes one certificate to issue.
type IssueRequest struct {
	// Subject is the requested subject DN in RFC 4514 form.
	Subject string

	// NotBefore and NotAfter bound the certificate validity.
	NotBefore time.Time
	NotAfter  time.Time

	// SubjectAltNames are DNS names for the Subject Alternative Name
	// extension.
	SubjectAltNames []string

	// Revocation, when set, adds AIA and CDP extensions.
	Revocation *RevocationEndpoints

	// OCSPSigning marks a leaf as a delegated OCSP response signer: its
	// ExtendedKeyUsage becomes exactly {id-kp-OCSPSigning}, critical.
	// Ignored for intermediates.
	OCSPSigning bool
}

// IssueCertificate issues an end-entity certificate named by targetRef,
// signed by the CA certificate at issuerRef. The two references may live
// in different custody namespaces. The new certificate always gets a
// freshly minted key, so re-issuing an existing name is a renewal with
// key rotation.
func (o *Orchestrator) IssueCertificate(ctx context.Context, issuerRef, targetRef kv.Reference, req IssueRequest) (*x509.Certificate, error) {
	return o.issue(ctx, issuerRef, targetRef, req, -1, false)
}

// IssueIntermediateCertificate issues a subordinate CA certificate with
// the given path length constraint (negative for unconstrained).
func (o *Orchestrator) IssueIntermediateCertificate(ctx context.Context, issuerRef, targetRef kv.Reference, req IssueRequest, pathLen int) (*x509.Certificate, error) {
	return o.issue(ctx, issuerRef, targetRef, req, pathLen, true)
}

func (o *Orchestrator) issue(ctx context.Context, issuerRef, targetRef kv.Reference, req IssueRequest, pathLen int, isCA bool) (*x509.Certificate, error) {
	const op = "issue"
	certs := o.vaults.Certificates(targetRef.Vault)

	pending, err := o.reconcilePending(ctx, certs, targetRef, req)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	csr, err := x509util.ParseCSR(pending.CSR)
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	issuer, key, err := o.resolveSigner(ctx, issuerRef)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	exts, err := classExtensions(req, pathLen, isCA)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	cert, err := SignRequest(ctx, csr, issuer, key, SignOptions{
		NotBefore:  req.NotBefore,
		NotAfter:   req.NotAfter,
		Hash:       o.hash,
		Extensions: exts,
	})
	if err != nil {
		return nil, err
	}

	if _, err := certs.MergeCertificate(ctx, targetRef.Name, cert.Raw); err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(cert.SerialNumber), err)
	}

	o.log.Info().
		Str("certificate", targetRef.String()).
		Str("issuer", issuerRef.String()).
		Str("serial", x509util.SerialHex(cert.SerialNumber)).
		Bool("ca", isCA).
		Time("not_after", cert.NotAfter).
		Msg("certificate issued")
	return cert, nil
}

// reconcilePending aligns the custody service's pending-operation state
// with this issuance: a pending operation awaiting an external signature
// (issuer "Unknown") is reused; a pending operation for any other issuer
// is an incompatible concurrent request and is cancelled; otherwise a new
// operation is started with a fresh key.
func (o *Orchestrator) reconcilePending(ctx context.Context, certs kv.CertificateClient, targetRef kv.Reference, req IssueRequest) (*kv.PendingOperation, error) {
	pending, err := certs.GetOperation(ctx, targetRef.Name)
	switch {
	case err == nil && pending.Status == kv.OperationInProgress && pending.IssuerName == kv.IssuerUnknown:
		o.log.Debug().Str("certificate", targetRef.String()).
			Msg("reusing pending certificate operation")
		return pending, nil
	case err == nil && pending.Status == kv.OperationInProgress:
		o.log.Warn().Str("certificate", targetRef.String()).
			Str("pending_issuer", pending.IssuerName).
			Msg("cancelling incompatible pending operation")
		if err := certs.CancelOperation(ctx, targetRef.Name); err != nil {
			return nil, err
		}
	case err != nil && !errors.Is(err, kv.ErrNotFound):
		return nil, err
	}

	return certs.StartOperation(ctx, targetRef.Name, kv.CertificatePolicy{
		Subject:         req.Subject,
		SubjectAltNames: req.SubjectAltNames,
		KeyType:         o.keyType,
		IssuerName:      kv.IssuerUnknown,
	})
}

// classExtensions builds the extension overrides for a certificate class.
func classExtensions(req IssueRequest, pathLen int, isCA bool) ([]pkix.Extension, error) {
	set := x509util.NewExtensionSet()

	bc, err := x509util.BasicConstraintsExtension(isCA, pathLen)
	if err != nil {
		return nil, err
	}
	set.Upsert(bc)

	ku := x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	if isCA {
		ku = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	}
	kuExt, err := x509util.KeyUsageExtension(ku)
	if err != nil {
		return nil, err
	}
	set.Upsert(kuExt)

	var ekuExt pkix.Extension
	if !isCA && req.OCSPSigning {
		ekuExt, err = x509util.ExtendedKeyUsageExtension(true, x509util.OIDExtKeyUsageOCSPSigning)
	} else {
		ekuExt, err = x509util.ExtendedKeyUsageExtension(false,
			x509util.OIDExtKeyUsageServerAuth, x509util.OIDExtKeyUsageClientAuth)
	}
	if err != nil {
		return nil, err
	}
	set.Upsert(ekuExt)

	if len(req.SubjectAltNames) > 0 {
		san, err := x509util.SubjectAltNameExtension(req.SubjectAltNames)
		if err != nil {
			return nil, err
		}
		set.Upsert(san)
	}

	if req.Revocation != nil {
		if req.Revocation.OCSPURL != "" || req.Revocation.CAIssuersURL != "" {
			aia, err := x509util.AuthorityInfoAccessExtension(req.Revocation.OCSPURL, req.Revocation.CAIssuersURL)
			if err != nil {
				return nil, err
			}
			set.Upsert(aia)
		}
		if req.Revocation.CRLURL != "" {
			cdp, err := x509util.CRLDistributionPointsExtension([]string{req.Revocation.CRLURL})
			if err != nil {
				return nil, err
			}
			set.Upsert(cdp)
		}
	}

	return set.List(), nil
}
