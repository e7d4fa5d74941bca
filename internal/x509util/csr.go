package x509util

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
)

// ParseCSR parses a DER PKCS#10 certificate signing request and verifies
// its self-signature, proving the requester holds the private key.
func ParseCSR(der []byte) (*x509.CertificateRequest, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature verification failed: %w", err)
	}
	return csr, nil
}

// RequestedExtensions returns the extensions embedded in a CSR's
// extensionRequest attribute, deduplicated by OID with the last occurrence
// winning.
func RequestedExtensions(csr *x509.CertificateRequest) []pkix.Extension {
	return NewExtensionSet(csr.Extensions...).List()
}
