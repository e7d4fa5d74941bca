package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"testing"
	"time"

	"github.com/alanta/keyvault-ca-sub000/internal/kv"
)

func newTestOrchestrator(set *kv.FakeVaultSet) *Orchestrator {
	return NewOrchestrator(set,
		WithKeyType(kv.KeyTypeECP256),
		WithPollInterval(time.Millisecond),
	)
}

// bootstrapRoot creates a root CA in the fake custody service.
func bootstrapRoot(t *testing.T, o *Orchestrator, ref kv.Reference) *x509.Certificate {
	t.Helper()
	root, err := o.CreateRootCertificate(context.Background(), ref,
		"CN=CA-A,O=Example", time.Now().Add(-time.Hour), time.Now().Add(120*24*time.Hour), 1)
	if err != nil {
		t.Fatalf("CreateRootCertificate() error = %v", err)
	}
	return root
}

func TestU_Orchestrator_CreateRootCertificate(t *testing.T) {
	ctx := context.Background()
	set := kv.NewFakeVaultSet()
	set.Vault("https://root.example").SelfSignPolls = 2
	o := newTestOrchestrator(set)
	ref := kv.Reference{Vault: "https://root.example", Name: "root"}

	root := bootstrapRoot(t, o, ref)

	if root.Subject.CommonName != "CA-A" {
		t.Errorf("CommonName = %q, want CA-A", root.Subject.CommonName)
	}
	if !root.IsCA || root.MaxPathLen != 1 {
		t.Errorf("IsCA = %v, MaxPathLen = %d; want CA with pathLen 1", root.IsCA, root.MaxPathLen)
	}
	if err := root.CheckSignatureFrom(root); err != nil {
		t.Errorf("self-signature invalid: %v", err)
	}

	// Bootstrap leaves two versions behind: the throwaway and the root.
	n, err := set.Vault("https://root.example").GetVersionCount(ctx, "root")
	if err != nil {
		t.Fatalf("GetVersionCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("version count = %d, want 2", n)
	}

	// The latest stored version is the real root.
	stored, err := set.Vault("https://root.example").GetCertificate(ctx, "root")
	if err != nil {
		t.Fatalf("GetCertificate() error = %v", err)
	}
	parsed, err := x509.ParseCertificate(stored.DER)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	if parsed.SerialNumber.Cmp(root.SerialNumber) != 0 {
		t.Error("stored certificate is not the signed root")
	}
}

func TestU_Orchestrator_CreateRootCertificate_SecondCallNoOp(t *testing.T) {
	ctx := context.Background()
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	ref := kv.Reference{Vault: "https://root.example", Name: "root"}

	first := bootstrapRoot(t, o, ref)
	second := bootstrapRoot(t, o, ref)

	if first.SerialNumber.Cmp(second.SerialNumber) != 0 {
		t.Error("second bootstrap produced a different certificate")
	}
	n, _ := set.Vault("https://root.example").GetVersionCount(ctx, "root")
	if n != 2 {
		t.Errorf("version count = %d after second call, want 2 (no new operation)", n)
	}
}

func TestU_Orchestrator_IssueCertificate_Leaf(t *testing.T) {
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	rootRef := kv.Reference{Vault: "https://root.example", Name: "root"}
	leafRef := kv.Reference{Vault: "https://leaf.example", Name: "l1"}
	root := bootstrapRoot(t, o, rootRef)

	leaf, err := o.IssueCertificate(context.Background(), rootRef, leafRef, IssueRequest{
		Subject:         "CN=a.example.com",
		NotBefore:       root.NotBefore.Add(time.Hour),
		NotAfter:        root.NotBefore.Add(30 * 24 * time.Hour),
		SubjectAltNames: []string{"a.example.com"},
		Revocation: &RevocationEndpoints{
			OCSPURL: "http://ocsp.example.com",
			CRLURL:  "http://crl.example.com/ca.crl",
		},
	})
	if err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}

	if leaf.Issuer.CommonName != root.Subject.CommonName {
		t.Errorf("Issuer.CN = %q, want %q", leaf.Issuer.CommonName, root.Subject.CommonName)
	}
	if err := leaf.CheckSignatureFrom(root); err != nil {
		t.Errorf("CheckSignatureFrom(root) error = %v", err)
	}
	if leaf.IsCA {
		t.Error("leaf marked as CA")
	}
	if leaf.KeyUsage != x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment {
		t.Errorf("KeyUsage = %b, want digitalSignature|keyEncipherment", leaf.KeyUsage)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "a.example.com" {
		t.Errorf("DNSNames = %v, want [a.example.com]", leaf.DNSNames)
	}
	if len(leaf.OCSPServer) != 1 || leaf.OCSPServer[0] != "http://ocsp.example.com" {
		t.Errorf("OCSPServer = %v, want AIA OCSP URL", leaf.OCSPServer)
	}
	if len(leaf.CRLDistributionPoints) != 1 || leaf.CRLDistributionPoints[0] != "http://crl.example.com/ca.crl" {
		t.Errorf("CRLDistributionPoints = %v, want CDP URL", leaf.CRLDistributionPoints)
	}
}

func TestU_Orchestrator_IssueCertificate_OCSPSigner(t *testing.T) {
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	rootRef := kv.Reference{Vault: "https://root.example", Name: "root"}
	root := bootstrapRoot(t, o, rootRef)

	responder, err := o.IssueCertificate(context.Background(), rootRef,
		kv.Reference{Vault: "https://root.example", Name: "ocsp-signer"}, IssueRequest{
			Subject:     "CN=OCSP Signer",
			NotBefore:   root.NotBefore,
			NotAfter:    root.NotAfter,
			OCSPSigning: true,
		})
	if err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	if len(responder.ExtKeyUsage) != 1 || responder.ExtKeyUsage[0] != x509.ExtKeyUsageOCSPSigning {
		t.Errorf("ExtKeyUsage = %v, want exactly OCSPSigning", responder.ExtKeyUsage)
	}
	for _, ext := range responder.Extensions {
		if ext.Id.Equal([]int{2, 5, 29, 37}) && !ext.Critical {
			t.Error("OCSP signer EKU must be critical")
		}
	}
}

func TestU_Orchestrator_IssueIntermediate_CrossNamespace(t *testing.T) {
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	rootRef := kv.Reference{Vault: "https://root.example", Name: "root"}
	subRef := kv.Reference{Vault: "https://sub.example", Name: "issuing"}
	root := bootstrapRoot(t, o, rootRef)

	sub, err := o.IssueIntermediateCertificate(context.Background(), rootRef, subRef, IssueRequest{
		Subject:   "CN=Issuing CA,O=Example",
		NotBefore: root.NotBefore,
		NotAfter:  root.NotAfter,
	}, 0)
	if err != nil {
		t.Fatalf("IssueIntermediateCertificate() error = %v", err)
	}

	if !sub.IsCA {
		t.Fatal("intermediate is not a CA")
	}
	if !sub.MaxPathLenZero || sub.MaxPathLen != 0 {
		t.Errorf("MaxPathLen = %d (zero %v), want explicit 0", sub.MaxPathLen, sub.MaxPathLenZero)
	}
	wantKU := x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	if sub.KeyUsage != wantKU {
		t.Errorf("KeyUsage = %b, want %b", sub.KeyUsage, wantKU)
	}
	if err := sub.CheckSignatureFrom(root); err != nil {
		t.Errorf("CheckSignatureFrom(root) error = %v", err)
	}
}

func TestU_Orchestrator_RenewalRotatesKey(t *testing.T) {
	ctx := context.Background()
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	rootRef := kv.Reference{Vault: "https://root.example", Name: "root"}
	leafRef := kv.Reference{Vault: "https://root.example", Name: "l1"}
	root := bootstrapRoot(t, o, rootRef)

	req := IssueRequest{
		Subject:   "CN=a.example.com",
		NotBefore: root.NotBefore,
		NotAfter:  root.NotAfter,
	}
	first, err := o.IssueCertificate(ctx, rootRef, leafRef, req)
	if err != nil {
		t.Fatalf("IssueCertificate() error = %v", err)
	}
	renewed, err := o.IssueCertificate(ctx, rootRef, leafRef, req)
	if err != nil {
		t.Fatalf("IssueCertificate(renewal) error = %v", err)
	}

	a := first.PublicKey.(*ecdsa.PublicKey)
	b := renewed.PublicKey.(*ecdsa.PublicKey)
	if a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0 {
		t.Error("renewal reused the prior certificate's key")
	}
}

func TestU_Orchestrator_ReconcilePendingStates(t *testing.T) {
	ctx := context.Background()
	set := kv.NewFakeVaultSet()
	o := newTestOrchestrator(set)
	rootRef := kv.Reference{Vault: "https://root.example", Name: "root"}
	root := bootstrapRoot(t, o, rootRef)

	t.Run("[U] Reuse: pending Unknown-issuer operation", func(t *testing.T) {
		vault := set.Vault("https://root.example")
		pending, err := vault.StartOperation(ctx, "reuse-me", kv.CertificatePolicy{
			Subject:    "CN=pending.example.com",
			KeyType:    kv.KeyTypeECP256,
			IssuerName: kv.IssuerUnknown,
		})
		if err != nil {
			t.Fatalf("StartOperation() error = %v", err)
		}
		pendingCSR, err := x509.ParseCertificateRequest(pending.CSR)
		if err != nil {
			t.Fatalf("ParseCertificateRequest() error = %v", err)
		}

		cert, err := o.IssueCertificate(ctx, rootRef,
			kv.Reference{Vault: "https://root.example", Name: "reuse-me"}, IssueRequest{
				Subject:   "CN=pending.example.com",
				NotBefore: root.NotBefore,
				NotAfter:  root.NotAfter,
			})
		if err != nil {
			t.Fatalf("IssueCertificate() error = %v", err)
		}

		want := pendingCSR.PublicKey.(*ecdsa.PublicKey)
		got := cert.PublicKey.(*ecdsa.PublicKey)
		if want.X.Cmp(got.X) != 0 || want.Y.Cmp(got.Y) != 0 {
			t.Error("pending operation's key was not reused")
		}
	})

	t.Run("[U] Cancel: pending operation for another issuer", func(t *testing.T) {
		vault := set.Vault("https://root.example")
		vault.SelfSignPolls = 1000 // keep the Self operation pending
		if _, err := vault.StartOperation(ctx, "contested", kv.CertificatePolicy{
			Subject:    "CN=contested.example.com",
			KeyType:    kv.KeyTypeECP256,
			IssuerName: kv.IssuerSelf,
		}); err != nil {
			t.Fatalf("StartOperation() error = %v", err)
		}

		cert, err := o.IssueCertificate(ctx, rootRef,
			kv.Reference{Vault: "https://root.example", Name: "contested"}, IssueRequest{
				Subject:   "CN=contested.example.com",
				NotBefore: root.NotBefore,
				NotAfter:  root.NotAfter,
			})
		if err != nil {
			t.Fatalf("IssueCertificate() error = %v", err)
		}
		if err := cert.CheckSignatureFrom(root); err != nil {
			t.Errorf("CheckSignatureFrom(root) error = %v", err)
		}
	})
}
