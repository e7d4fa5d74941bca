// Package ca implements the certificate authority core: the X.509 signing
// engine and the issuance orchestrator driving the key-custody service.
// Private keys never exist locally; every signature is produced by the
// remote signing oracle.
package ca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// Signer is the remote signing surface the engine needs. It is satisfied
// by remotesign.Key.
type Signer interface {
	// Public returns the public half of the signing key.
	Public() crypto.PublicKey

	// SignData hashes data and signs the digest remotely, returning an
	// X.509-form signature.
	SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error)

	// X509SignatureAlgorithm maps a digest to the certificate signature
	// algorithm for this key.
	X509SignatureAlgorithm(hash crypto.Hash) (x509.SignatureAlgorithm, error)

	// CryptoSigner adapts the key to crypto.Signer for stdlib APIs,
	// carrying ctx into each Sign call.
	CryptoSigner(ctx context.Context) crypto.Signer
}

// SignOptions control SignRequest.
type SignOptions struct {
	// NotBefore and NotAfter bound the new certificate's validity. The
	// window must lie inside the issuer's own validity.
	NotBefore time.Time
	NotAfter  time.Time

	// Hash is the digest algorithm for the signature. Zero means SHA-256.
	Hash crypto.Hash

	// Extensions are merged over the CSR's requested extensions by OID:
	// same OID replaces, new OIDs append.
	Extensions []pkix.Extension
}

// SignRequest signs a verified CSR with the issuer's remote key and
// returns the issued certificate.
//
// The CSR's requested extensions form the base set; opts.Extensions are
// merged over them by OID. BasicConstraints defaults to end-entity when
// absent. KeyUsage and ExtendedKeyUsage get policy defaults when absent.
// SubjectKeyIdentifier and AuthorityKeyIdentifier are always recomputed
// from the request key and the issuer, overwriting anything requested.
func SignRequest(ctx context.Context, csr *x509.CertificateRequest, issuer *x509.Certificate, signer Signer, opts SignOptions) (*x509.Certificate, error) {
	const op = "sign-request"

	if csr == nil {
		return nil, NewCAError(op, fmt.Errorf("%w: CSR is required", ErrInvalidArgument))
	}
	if issuer == nil {
		return nil, NewCAError(op, fmt.Errorf("%w: issuer certificate is required", ErrInvalidArgument))
	}
	if signer == nil {
		return nil, NewCAError(op, fmt.Errorf("%w: signer is required", ErrInvalidArgument))
	}
	if !opts.NotBefore.Before(opts.NotAfter) {
		return nil, NewCAError(op, fmt.Errorf("%w: notBefore %s is not before notAfter %s",
			ErrValidation, opts.NotBefore.Format(time.RFC3339), opts.NotAfter.Format(time.RFC3339)))
	}
	if opts.NotBefore.Before(issuer.NotBefore) || opts.NotAfter.After(issuer.NotAfter) {
		return nil, NewCAError(op, fmt.Errorf("%w: validity window outside issuer validity %s..%s",
			ErrValidation, issuer.NotBefore.Format(time.RFC3339), issuer.NotAfter.Format(time.RFC3339)))
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: CSR signature invalid: %v", ErrValidation, err))
	}

	hash := opts.Hash
	if hash == 0 {
		hash = crypto.SHA256
	}

	exts := x509util.NewExtensionSet(x509util.MergeExtensions(x509util.RequestedExtensions(csr), opts.Extensions)...)

	isCA, err := applyBasicConstraintsPolicy(exts, issuer)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	if err := applyUsageDefaults(exts, isCA); err != nil {
		return nil, NewCAError(op, err)
	}

	ski, err := x509util.SubjectKeyIDFromSPKI(csr.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	skiExt, err := x509util.SubjectKeyIDExtension(ski)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(skiExt)

	akiExt, err := x509util.AuthorityKeyIDExtension(issuer)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(akiExt)

	serial, err := x509util.NewSerialNumber()
	if err != nil {
		return nil, NewCAError(op, err)
	}

	sigAlg, err := signer.X509SignatureAlgorithm(hash)
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: %v", ErrNotSupported, err))
	}

	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            csr.Subject,
		RawSubject:         csr.RawSubject,
		NotBefore:          opts.NotBefore,
		NotAfter:           opts.NotAfter,
		SignatureAlgorithm: sigAlg,
		ExtraExtensions:    exts.List(),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, issuer, csr.PublicKey, signer.CryptoSigner(ctx))
	if err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(serial), err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(serial), fmt.Errorf("failed to parse issued certificate: %w", err))
	}
	return cert, nil
}

// applyBasicConstraintsPolicy defaults BasicConstraints to end-entity and
// enforces the issuer-side CA and path length rules. It reports whether
// the result is a CA certificate.
func applyBasicConstraintsPolicy(exts *x509util.ExtensionSet, issuer *x509.Certificate) (bool, error) {
	ext, ok := exts.Get(x509util.OIDExtBasicConstraints)
	if !ok {
		bcExt, err := x509util.BasicConstraintsExtension(false, -1)
		if err != nil {
			return false, err
		}
		exts.Upsert(bcExt)
		return false, nil
	}

	bc, err := x509util.ParseBasicConstraints(ext)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !bc.IsCA {
		return false, nil
	}

	if !issuer.BasicConstraintsValid || !issuer.IsCA {
		return true, fmt.Errorf("%w: issuer is not a CA", ErrNotSupported)
	}
	if pathLen, constrained := issuerPathLen(issuer); constrained {
		if bc.MaxPathLen < 0 || bc.MaxPathLen >= pathLen {
			return true, fmt.Errorf("%w: requested path length %d, issuer allows less than %d",
				ErrPathLengthViolation, bc.MaxPathLen, pathLen)
		}
	}
	return true, nil
}

// issuerPathLen reports the issuer's path length constraint, if any.
func issuerPathLen(issuer *x509.Certificate) (int, bool) {
	if issuer.MaxPathLen > 0 || issuer.MaxPathLenZero {
		return issuer.MaxPathLen, true
	}
	return 0, false
}

// applyUsageDefaults fills in KeyUsage and ExtendedKeyUsage when the
// merged set carries neither. CA certificates get the certificate and CRL
// signing usages; end-entity certificates get the TLS defaults.
func applyUsageDefaults(exts *x509util.ExtensionSet, isCA bool) error {
	if !exts.Has(x509util.OIDExtKeyUsage) {
		ku := x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		if isCA {
			ku = x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		}
		ext, err := x509util.KeyUsageExtension(ku)
		if err != nil {
			return err
		}
		exts.Upsert(ext)
	}
	if !exts.Has(x509util.OIDExtExtKeyUsage) && !isCA {
		ext, err := x509util.ExtendedKeyUsageExtension(false,
			x509util.OIDExtKeyUsageServerAuth, x509util.OIDExtKeyUsageClientAuth)
		if err != nil {
			return err
		}
		exts.Upsert(ext)
	}
	return nil
}

// CreateSignedCACertificate builds a self-signed CA certificate for a key
// held at the custody service: BasicConstraints(CA, pathLen), the CA key
// usages, a Subject Key Identifier, and a self-referential Authority Key
// Identifier naming its own subject and serial.
func CreateSignedCACertificate(ctx context.Context, subject pkix.Name, pub crypto.PublicKey, signer Signer, notBefore, notAfter time.Time, hash crypto.Hash, pathLen int) (*x509.Certificate, error) {
	const op = "create-ca-certificate"

	if pub == nil {
		return nil, NewCAError(op, fmt.Errorf("%w: public key is required", ErrInvalidArgument))
	}
	if signer == nil {
		return nil, NewCAError(op, fmt.Errorf("%w: signer is required", ErrInvalidArgument))
	}
	if !notBefore.Before(notAfter) {
		return nil, NewCAError(op, fmt.Errorf("%w: notBefore %s is not before notAfter %s",
			ErrValidation, notBefore.Format(time.RFC3339), notAfter.Format(time.RFC3339)))
	}
	if hash == 0 {
		hash = crypto.SHA256
	}

	serial, err := x509util.NewSerialNumber()
	if err != nil {
		return nil, NewCAError(op, err)
	}
	ski, err := x509util.SubjectKeyID(pub)
	if err != nil {
		return nil, NewCAError(op, err)
	}

	rawSubject, err := asn1.Marshal(subject.ToRDNSequence())
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("failed to encode subject: %w", err))
	}

	exts := x509util.NewExtensionSet()
	bcExt, err := x509util.BasicConstraintsExtension(true, pathLen)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(bcExt)
	kuExt, err := x509util.KeyUsageExtension(x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(kuExt)
	skiExt, err := x509util.SubjectKeyIDExtension(ski)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(skiExt)
	akiExt, err := x509util.NewAuthorityKeyIDExtension(ski, rawSubject, serial)
	if err != nil {
		return nil, NewCAError(op, err)
	}
	exts.Upsert(akiExt)

	sigAlg, err := signer.X509SignatureAlgorithm(hash)
	if err != nil {
		return nil, NewCAError(op, fmt.Errorf("%w: %v", ErrNotSupported, err))
	}

	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            subject,
		RawSubject:         rawSubject,
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: sigAlg,
		ExtraExtensions:    exts.List(),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, signer.CryptoSigner(ctx))
	if err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(serial), err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, NewCAErrorWithSerial(op, x509util.SerialHex(serial), fmt.Errorf("failed to parse CA certificate: %w", err))
	}
	return cert, nil
}
