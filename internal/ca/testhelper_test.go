package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"testing"
	"time"
)

// localSigner satisfies the engine Signer interface with an in-process
// P-256 key, standing in for the remote oracle in engine tests.
type localSigner struct {
	key *ecdsa.PrivateKey
}

func newLocalSigner(t *testing.T) *localSigner {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return &localSigner{key: key}
}

func (s *localSigner) Public() crypto.PublicKey { return &s.key.PublicKey }

func (s *localSigner) SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error) {
	h := hash.New()
	h.Write(data)
	return ecdsa.SignASN1(rand.Reader, s.key, h.Sum(nil))
}

func (s *localSigner) X509SignatureAlgorithm(hash crypto.Hash) (x509.SignatureAlgorithm, error) {
	switch hash {
	case crypto.SHA256:
		return x509.ECDSAWithSHA256, nil
	case crypto.SHA384:
		return x509.ECDSAWithSHA384, nil
	case crypto.SHA512:
		return x509.ECDSAWithSHA512, nil
	}
	return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported hash %s", hash)
}

func (s *localSigner) CryptoSigner(ctx context.Context) crypto.Signer { return s.key }

// newTestIssuer creates a self-signed CA certificate through the engine.
// pathLen < 0 leaves the path length unconstrained.
func newTestIssuer(t *testing.T, pathLen int) (*x509.Certificate, *localSigner) {
	t.Helper()
	signer := newLocalSigner(t)
	cert, err := CreateSignedCACertificate(context.Background(),
		pkix.Name{CommonName: "Test Issuing CA", Organization: []string{"Example"}},
		signer.Public(), signer,
		time.Now().Add(-time.Hour), time.Now().Add(120*24*time.Hour),
		crypto.SHA256, pathLen)
	if err != nil {
		t.Fatalf("CreateSignedCACertificate() error = %v", err)
	}
	return cert, signer
}

// newCSR builds a parsed CSR with its own fresh key.
func newCSR(t *testing.T, cn string, dnsNames []string, extra []pkix.Extension) *x509.CertificateRequest {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:         pkix.Name{CommonName: cn},
		DNSNames:        dnsNames,
		ExtraExtensions: extra,
	}, key)
	if err != nil {
		t.Fatalf("CreateCertificateRequest() error = %v", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		t.Fatalf("ParseCertificateRequest() error = %v", err)
	}
	return csr
}
