package kv

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
)

func TestU_FakeVault_SelfSignedCompletesAfterPolls(t *testing.T) {
	ctx := context.Background()
	vault := NewFakeVault("https://custody.example")
	vault.SelfSignPolls = 2

	op, err := vault.StartOperation(ctx, "root", CertificatePolicy{
		Subject:    "CN=Test Root CA,O=Example",
		KeyType:    KeyTypeECP256,
		IssuerName: IssuerSelf,
	})
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if op.Status != OperationInProgress {
		t.Fatalf("Status = %q, want inProgress", op.Status)
	}

	for i := 0; i < 2; i++ {
		op, err = vault.GetOperation(ctx, "root")
		if err != nil {
			t.Fatalf("GetOperation() error = %v", err)
		}
		if op.Status != OperationInProgress {
			t.Fatalf("poll %d: Status = %q, want inProgress", i, op.Status)
		}
	}

	op, err = vault.GetOperation(ctx, "root")
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if op.Status != OperationCompleted {
		t.Fatalf("Status = %q, want completed", op.Status)
	}

	cert, err := vault.GetCertificate(ctx, "root")
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}
	parsed, err := x509.ParseCertificate(cert.DER)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	if parsed.Subject.CommonName != "Test Root CA" {
		t.Errorf("CommonName = %q, want %q", parsed.Subject.CommonName, "Test Root CA")
	}
	if _, ok := parsed.PublicKey.(*ecdsa.PublicKey); !ok {
		t.Errorf("public key = %T, want *ecdsa.PublicKey", parsed.PublicKey)
	}
}

func TestU_FakeVault_UnknownIssuerYieldsCSR(t *testing.T) {
	ctx := context.Background()
	vault := NewFakeVault("https://custody.example")

	op, err := vault.StartOperation(ctx, "issuing", CertificatePolicy{
		Subject:         "CN=Issuing CA",
		SubjectAltNames: []string{"ca.example.com"},
		KeyType:         KeyTypeRSA2048,
		IssuerName:      IssuerUnknown,
	})
	if err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if len(op.CSR) == 0 {
		t.Fatal("StartOperation() returned no CSR for Unknown issuer")
	}

	csr, err := x509.ParseCertificateRequest(op.CSR)
	if err != nil {
		t.Fatalf("ParseCertificateRequest() error = %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Fatalf("CheckSignature() error = %v", err)
	}
	if csr.Subject.CommonName != "Issuing CA" {
		t.Errorf("CSR CommonName = %q, want %q", csr.Subject.CommonName, "Issuing CA")
	}
	if len(csr.DNSNames) != 1 || csr.DNSNames[0] != "ca.example.com" {
		t.Errorf("CSR DNSNames = %v, want [ca.example.com]", csr.DNSNames)
	}
}

func TestU_FakeVault_MergeStoresVersion(t *testing.T) {
	ctx := context.Background()
	set := NewFakeVaultSet()
	issuerVault := set.Vault("https://issuer.example")
	issuerVault.SelfSignPolls = 0

	// Self-signed issuer to sign the merged certificate with.
	if _, err := issuerVault.StartOperation(ctx, "root", CertificatePolicy{
		Subject:    "CN=Root",
		KeyType:    KeyTypeECP256,
		IssuerName: IssuerSelf,
	}); err != nil {
		t.Fatalf("StartOperation(root) error = %v", err)
	}
	if _, err := issuerVault.GetOperation(ctx, "root"); err != nil {
		t.Fatalf("GetOperation(root) error = %v", err)
	}
	rootCert, err := issuerVault.GetCertificate(ctx, "root")
	if err != nil {
		t.Fatalf("GetCertificate(root) error = %v", err)
	}
	rootParsed, err := x509.ParseCertificate(rootCert.DER)
	if err != nil {
		t.Fatalf("ParseCertificate(root) error = %v", err)
	}

	targetVault := set.Vault("https://target.example")
	op, err := targetVault.StartOperation(ctx, "leaf", CertificatePolicy{
		Subject:    "CN=Leaf",
		KeyType:    KeyTypeRSA2048,
		IssuerName: IssuerUnknown,
	})
	if err != nil {
		t.Fatalf("StartOperation(leaf) error = %v", err)
	}
	csr, err := x509.ParseCertificateRequest(op.CSR)
	if err != nil {
		t.Fatalf("ParseCertificateRequest() error = %v", err)
	}

	rootKey := issuerVault.keys[rootCert.KeyID]
	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      csr.Subject,
		NotBefore:    rootParsed.NotBefore,
		NotAfter:     rootParsed.NotAfter,
	}
	signedDER, err := x509.CreateCertificate(rand.Reader, template, rootParsed, csr.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}

	merged, err := targetVault.MergeCertificate(ctx, "leaf", signedDER)
	if err != nil {
		t.Fatalf("MergeCertificate() error = %v", err)
	}
	if merged.KeyID == "" {
		t.Error("merged certificate has no key ID")
	}

	n, err := targetVault.GetVersionCount(ctx, "leaf")
	if err != nil {
		t.Fatalf("GetVersionCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("GetVersionCount() = %d, want 1", n)
	}

	// Merging again without a new operation must fail.
	if _, err := targetVault.MergeCertificate(ctx, "leaf", signedDER); err == nil {
		t.Error("MergeCertificate() repeated merge error = nil, want failure")
	}
}

func TestU_FakeVault_SignMatchesKeyType(t *testing.T) {
	ctx := context.Background()
	vault := NewFakeVault("https://custody.example")

	if _, err := vault.StartOperation(ctx, "root", CertificatePolicy{
		Subject:    "CN=Root",
		KeyType:    KeyTypeRSA2048,
		IssuerName: IssuerSelf,
	}); err != nil {
		t.Fatalf("StartOperation() error = %v", err)
	}
	if _, err := vault.GetOperation(ctx, "root"); err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	cert, err := vault.GetCertificate(ctx, "root")
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}

	digest := sha256.Sum256([]byte("to-be-signed"))
	sig, err := vault.Sign(ctx, cert.KeyID, digest[:], SignatureRS256)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	parsed, err := x509.ParseCertificate(cert.DER)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	pub := parsed.PublicKey.(*rsa.PublicKey)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		t.Errorf("VerifyPKCS1v15() error = %v", err)
	}

	// Mismatched algorithm family is rejected.
	if _, err := vault.Sign(ctx, cert.KeyID, digest[:], SignatureES256); err == nil {
		t.Error("Sign() with ES256 on RSA key error = nil, want failure")
	}

	// Unknown key.
	if _, err := vault.Sign(ctx, "https://custody.example/keys/nope/v1", digest[:], SignatureRS256); !errors.Is(err, ErrNotFound) {
		t.Errorf("Sign() unknown key error = %v, want ErrNotFound", err)
	}
}
