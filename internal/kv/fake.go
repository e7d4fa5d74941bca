package kv

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// FakeVault is an in-memory custody namespace. It mints real keys, builds
// real CSRs and self-signed certificates, and signs digests the way the
// remote oracle does (PKCS#1 v1.5 for RSA, raw r||s for ECDSA), so the
// packages built on the kv interfaces can be tested end to end without a
// network.
type FakeVault struct {
	// URL is the namespace identifier used in key IDs.
	URL string

	// SelfSignPolls is the number of GetOperation calls that still report
	// inProgress before a Self-issued operation completes. Zero completes
	// on the first poll.
	SelfSignPolls int

	mu       sync.Mutex
	pending  map[string]*fakePending
	versions map[string][]*fakeVersion
	keys     map[string]crypto.Signer
	seq      int
}

type fakePending struct {
	op        PendingOperation
	key       crypto.Signer
	subject   pkix.Name
	dnsNames  []string
	pollsLeft int
}

type fakeVersion struct {
	version string
	der     []byte
	keyID   string
	enabled bool
}

// NewFakeVault returns an empty fake namespace identified by url.
func NewFakeVault(url string) *FakeVault {
	return &FakeVault{
		URL:      url,
		pending:  make(map[string]*fakePending),
		versions: make(map[string][]*fakeVersion),
		keys:     make(map[string]crypto.Signer),
	}
}

// FakeVaultSet is an in-memory VaultSet creating FakeVaults on demand.
type FakeVaultSet struct {
	mu     sync.Mutex
	vaults map[string]*FakeVault
}

// NewFakeVaultSet returns an empty fake vault set.
func NewFakeVaultSet() *FakeVaultSet {
	return &FakeVaultSet{vaults: make(map[string]*FakeVault)}
}

// Vault returns the fake namespace for url, creating it when absent.
func (s *FakeVaultSet) Vault(url string) *FakeVault {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[url]
	if !ok {
		v = NewFakeVault(url)
		s.vaults[url] = v
	}
	return v
}

// Certificates implements VaultSet.
func (s *FakeVaultSet) Certificates(vault string) CertificateClient { return s.Vault(vault) }

// Signer implements VaultSet.
func (s *FakeVaultSet) Signer(vault string) SignClient { return s.Vault(vault) }

// mintKey generates a key pair for the policy key type.
func mintKey(kt KeyType) (crypto.Signer, error) {
	switch kt {
	case KeyTypeRSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case KeyTypeRSA3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case KeyTypeRSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	case KeyTypeECP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyTypeECP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported key type %q", kt)
	}
}

// parseSubject parses a simple RFC 4514 subject string (CN=..., O=..., and
// friends, comma separated, no escaping).
func parseSubject(subject string) (pkix.Name, error) {
	var name pkix.Name
	for _, part := range strings.Split(subject, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		attr, value, ok := strings.Cut(part, "=")
		if !ok {
			return pkix.Name{}, fmt.Errorf("malformed subject component %q", part)
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(attr)) {
		case "CN":
			name.CommonName = value
		case "O":
			name.Organization = append(name.Organization, value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, value)
		case "C":
			name.Country = append(name.Country, value)
		case "L":
			name.Locality = append(name.Locality, value)
		case "ST":
			name.Province = append(name.Province, value)
		default:
			return pkix.Name{}, fmt.Errorf("unsupported subject attribute %q", attr)
		}
	}
	return name, nil
}

// StartOperation implements CertificateClient.
func (v *FakeVault) StartOperation(ctx context.Context, name string, policy CertificatePolicy) (*PendingOperation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	subject, err := parseSubject(policy.Subject)
	if err != nil {
		return nil, &RemoteError{Op: "create certificate", Err: err}
	}

	var key crypto.Signer
	if policy.ReuseKey {
		if versions := v.versions[name]; len(versions) > 0 {
			key = v.keys[versions[len(versions)-1].keyID]
		}
	}
	if key == nil {
		key, err = mintKey(policy.KeyType)
		if err != nil {
			return nil, &RemoteError{Op: "create certificate", Err: err}
		}
	}

	pending := &fakePending{
		op: PendingOperation{
			ID:         fmt.Sprintf("%s/certificates/%s/pending", v.URL, name),
			Name:       name,
			IssuerName: policy.IssuerName,
			Status:     OperationInProgress,
		},
		key:       key,
		subject:   subject,
		dnsNames:  append([]string(nil), policy.SubjectAltNames...),
		pollsLeft: v.SelfSignPolls,
	}

	if policy.IssuerName == IssuerUnknown {
		csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
			Subject:  subject,
			DNSNames: pending.dnsNames,
		}, key)
		if err != nil {
			return nil, &RemoteError{Op: "create certificate", Err: fmt.Errorf("failed to create CSR: %w", err)}
		}
		pending.op.CSR = csrDER
	}

	v.pending[name] = pending
	op := pending.op
	return &op, nil
}

// GetOperation implements CertificateClient. Self-issued operations finish
// after SelfSignPolls polls, at which point the fake stores a self-signed
// certificate version.
func (v *FakeVault) GetOperation(ctx context.Context, name string) (*PendingOperation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending, ok := v.pending[name]
	if !ok {
		return nil, fmt.Errorf("pending operation for %q: %w", name, ErrNotFound)
	}

	if pending.op.IssuerName == IssuerSelf && pending.op.Status == OperationInProgress {
		if pending.pollsLeft > 0 {
			pending.pollsLeft--
		} else {
			if err := v.completeSelfSigned(name, pending); err != nil {
				return nil, err
			}
		}
	}

	op := pending.op
	return &op, nil
}

func (v *FakeVault) completeSelfSigned(name string, pending *fakePending) error {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pending.subject,
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(90 * 24 * time.Hour),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pending.key.Public(), pending.key)
	if err != nil {
		return fmt.Errorf("failed to self-sign: %w", err)
	}
	v.storeVersion(name, der, pending.key)
	pending.op.Status = OperationCompleted
	return nil
}

// CancelOperation implements CertificateClient.
func (v *FakeVault) CancelOperation(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pending, ok := v.pending[name]
	if !ok {
		return fmt.Errorf("pending operation for %q: %w", name, ErrNotFound)
	}
	pending.op.Status = OperationCancelled
	return nil
}

// MergeCertificate implements CertificateClient.
func (v *FakeVault) MergeCertificate(ctx context.Context, name string, signedDER []byte) (*Certificate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pending, ok := v.pending[name]
	if !ok || pending.op.Status != OperationInProgress {
		return nil, &RemoteError{Op: "merge certificate", Err: fmt.Errorf("no operation in progress for %q", name)}
	}
	if _, err := x509.ParseCertificate(signedDER); err != nil {
		return nil, &RemoteError{Op: "merge certificate", Err: fmt.Errorf("invalid certificate: %w", err)}
	}

	version := v.storeVersion(name, signedDER, pending.key)
	pending.op.Status = OperationCompleted
	delete(v.pending, name)

	return &Certificate{
		Name:    name,
		Version: version.version,
		DER:     version.der,
		KeyID:   version.keyID,
		Enabled: true,
	}, nil
}

// storeVersion appends a certificate version and registers its key.
// Callers hold v.mu.
func (v *FakeVault) storeVersion(name string, der []byte, key crypto.Signer) *fakeVersion {
	v.seq++
	version := &fakeVersion{
		version: fmt.Sprintf("v%04d", v.seq),
		der:     der,
		enabled: true,
	}
	version.keyID = fmt.Sprintf("%s/keys/%s/%s", v.URL, name, version.version)
	v.keys[version.keyID] = key
	v.versions[name] = append(v.versions[name], version)
	return version
}

// GetCertificate implements CertificateClient.
func (v *FakeVault) GetCertificate(ctx context.Context, name string) (*Certificate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	versions := v.versions[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("certificate %q: %w", name, ErrNotFound)
	}
	latest := versions[len(versions)-1]
	return &Certificate{
		Name:    name,
		Version: latest.version,
		DER:     latest.der,
		KeyID:   latest.keyID,
		Enabled: latest.enabled,
	}, nil
}

// GetVersionCount implements CertificateClient.
func (v *FakeVault) GetVersionCount(ctx context.Context, name string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.versions[name]), nil
}

// DisableCertificate implements CertificateClient.
func (v *FakeVault) DisableCertificate(ctx context.Context, name, version string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ver := range v.versions[name] {
		if ver.version == version {
			ver.enabled = false
			return nil
		}
	}
	return fmt.Errorf("certificate %q version %q: %w", name, version, ErrNotFound)
}

// Sign implements SignClient. RSA keys produce PKCS#1 v1.5 signatures;
// ECDSA keys produce the raw r||s concatenation the remote oracle uses,
// each half left-padded to the curve byte size.
func (v *FakeVault) Sign(ctx context.Context, keyID string, digest []byte, alg SignatureAlgorithm) ([]byte, error) {
	v.mu.Lock()
	key, ok := v.keys[keyID]
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, ErrNotFound)
	}

	hash, err := hashForAlgorithm(alg)
	if err != nil {
		return nil, &RemoteError{Op: "sign", Err: err}
	}
	if len(digest) != hash.Size() {
		return nil, &RemoteError{Op: "sign", Err: fmt.Errorf("digest length %d does not match %s", len(digest), alg)}
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		switch alg {
		case SignatureRS256, SignatureRS384, SignatureRS512:
			return rsa.SignPKCS1v15(rand.Reader, k, hash, digest)
		}
		return nil, &RemoteError{Op: "sign", Err: fmt.Errorf("algorithm %s does not match RSA key", alg)}
	case *ecdsa.PrivateKey:
		switch alg {
		case SignatureES256, SignatureES384, SignatureES512:
		default:
			return nil, &RemoteError{Op: "sign", Err: fmt.Errorf("algorithm %s does not match EC key", alg)}
		}
		r, s, err := ecdsa.Sign(rand.Reader, k, digest)
		if err != nil {
			return nil, err
		}
		size := (k.Curve.Params().BitSize + 7) / 8
		sig := make([]byte, 2*size)
		r.FillBytes(sig[:size])
		s.FillBytes(sig[size:])
		return sig, nil
	default:
		return nil, &RemoteError{Op: "sign", Err: fmt.Errorf("unsupported key type %T", key)}
	}
}

// hashForAlgorithm maps a signature algorithm to its digest function.
func hashForAlgorithm(alg SignatureAlgorithm) (crypto.Hash, error) {
	switch alg {
	case SignatureRS256, SignatureES256:
		return crypto.SHA256, nil
	case SignatureRS384, SignatureES384:
		return crypto.SHA384, nil
	case SignatureRS512, SignatureES512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported signature algorithm %q", alg)
	}
}
