package ocsp

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanta/keyvault-ca-sub000/internal/revocation"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// testSigner signs locally with an ECDSA key, standing in for the
// remote signing adapter.
type testSigner struct {
	key *ecdsa.PrivateKey
}

func (s *testSigner) SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error) {
	h := hash.New()
	h.Write(data)
	return ecdsa.SignASN1(rand.Reader, s.key, h.Sum(nil))
}

func (s *testSigner) SignatureAlgorithmIdentifier(hash crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch hash {
	case crypto.SHA256:
		return pkix.AlgorithmIdentifier{Algorithm: x509util.OIDSignatureECDSAWithSHA256}, nil
	case crypto.SHA384:
		return pkix.AlgorithmIdentifier{Algorithm: x509util.OIDSignatureECDSAWithSHA384}, nil
	case crypto.SHA512:
		return pkix.AlgorithmIdentifier{Algorithm: x509util.OIDSignatureECDSAWithSHA512}, nil
	}
	return pkix.AlgorithmIdentifier{}, errors.New("unsupported hash")
}

func newTestCA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Example"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert, key
}

// newOCSPSigningCert issues a delegated OCSP signing certificate under
// issuer, with the subject key identifier set.
func newOCSPSigningCert(t *testing.T, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	ski, err := x509util.SubjectKeyID(&key.PublicKey)
	if err != nil {
		t.Fatalf("SubjectKeyID() error = %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "OCSP Signer"},
		NotBefore:    issuer.NotBefore,
		NotAfter:     issuer.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning},
		SubjectKeyId: ski,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, issuer, &key.PublicKey, issuerKey)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert, key
}

// newLeafCert issues a plain end-entity certificate under issuer.
func newLeafCert(t *testing.T, issuer *x509.Certificate, issuerKey *ecdsa.PrivateKey, serial int64) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "a.example.com"},
		NotBefore:    issuer.NotBefore,
		NotAfter:     issuer.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, issuer, &key.PublicKey, issuerKey)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

// newTestResponder wires a responder with an in-memory store.
func newTestResponder(t *testing.T, opts ...ResponderOption) (*Responder, *x509.Certificate, *revocation.MemStore) {
	t.Helper()
	issuer, issuerKey := newTestCA(t, "CA-A")
	signingCert, signingKey := newOCSPSigningCert(t, issuer, issuerKey)
	store := revocation.NewMemStore()
	r := NewResponder(store, issuer, signingCert, &testSigner{key: signingKey}, opts...)
	return r, issuer, store
}
