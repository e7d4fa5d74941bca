// Package kv defines the contract to the key-custody service: the
// certificate lifecycle operations and the remote signing oracle. The CA
// core consumes these interfaces only; network transport, authentication,
// and retry policy live in the implementations.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// Well-known issuer names for pending certificate operations.
const (
	// IssuerSelf asks the custody service to self-sign with the freshly
	// minted key, completing the operation without an external CA.
	IssuerSelf = "Self"

	// IssuerUnknown asks the custody service to mint a key and hand back a
	// CSR for an external CA to sign.
	IssuerUnknown = "Unknown"
)

// Reference identifies a certificate in a specific custody namespace.
// Vault is the namespace (base URL for the REST client); Name is the
// logical certificate name within it.
type Reference struct {
	Vault string
	Name  string
}

// String returns the reference in vault/name form for logs and errors.
func (r Reference) String() string {
	if r.Vault == "" {
		return r.Name
	}
	return r.Vault + "/" + r.Name
}

// KeyType selects the key algorithm minted by the custody service.
type KeyType string

const (
	KeyTypeRSA2048 KeyType = "RSA-2048"
	KeyTypeRSA3072 KeyType = "RSA-3072"
	KeyTypeRSA4096 KeyType = "RSA-4096"
	KeyTypeECP256  KeyType = "EC-P256"
	KeyTypeECP384  KeyType = "EC-P384"
)

// CertificatePolicy describes the key and subject the custody service
// should use when starting a certificate operation.
type CertificatePolicy struct {
	// Subject is the requested subject DN in RFC 4514 form.
	Subject string

	// SubjectAltNames are DNS names copied into the CSR.
	SubjectAltNames []string

	// KeyType selects the minted key algorithm.
	KeyType KeyType

	// IssuerName is IssuerSelf, IssuerUnknown, or a service-specific
	// issuer identifier.
	IssuerName string

	// ReuseKey keeps the current key pair instead of minting a new one.
	ReuseKey bool
}

// OperationStatus is the state of a pending certificate operation.
type OperationStatus string

const (
	OperationInProgress OperationStatus = "inProgress"
	OperationCompleted  OperationStatus = "completed"
	OperationCancelled  OperationStatus = "cancelled"
)

// PendingOperation is a certificate operation in flight at the custody
// service.
type PendingOperation struct {
	ID         string
	Name       string
	IssuerName string
	Status     OperationStatus

	// CSR is the DER PKCS#10 request minted by the service, present when
	// IssuerName is IssuerUnknown.
	CSR []byte
}

// Certificate is a stored certificate version with its custody metadata.
type Certificate struct {
	Name    string
	Version string
	DER     []byte

	// KeyID locates the private key behind this certificate at the
	// signing oracle.
	KeyID string

	Enabled bool
}

// CertificateClient is the certificate-lifecycle surface of the custody
// service. All calls are remote I/O and honor ctx cancellation.
type CertificateClient interface {
	// StartOperation begins a certificate operation for name.
	StartOperation(ctx context.Context, name string, policy CertificatePolicy) (*PendingOperation, error)

	// GetOperation returns the pending operation for name, or ErrNotFound.
	GetOperation(ctx context.Context, name string) (*PendingOperation, error)

	// CancelOperation cancels the pending operation for name.
	CancelOperation(ctx context.Context, name string) error

	// MergeCertificate completes a pending operation by merging the
	// externally signed certificate, creating a new version.
	MergeCertificate(ctx context.Context, name string, signedDER []byte) (*Certificate, error)

	// GetCertificate returns the latest version of name, or ErrNotFound.
	GetCertificate(ctx context.Context, name string) (*Certificate, error)

	// GetVersionCount returns the number of versions stored for name
	// (zero when the certificate does not exist).
	GetVersionCount(ctx context.Context, name string) (int, error)

	// DisableCertificate disables one version of name so it can no longer
	// be retrieved for use.
	DisableCertificate(ctx context.Context, name, version string) error
}

// SignatureAlgorithm names a remote signing algorithm in JWS style.
type SignatureAlgorithm string

const (
	SignatureRS256 SignatureAlgorithm = "RS256"
	SignatureRS384 SignatureAlgorithm = "RS384"
	SignatureRS512 SignatureAlgorithm = "RS512"
	SignatureES256 SignatureAlgorithm = "ES256"
	SignatureES384 SignatureAlgorithm = "ES384"
	SignatureES512 SignatureAlgorithm = "ES512"
)

// SignClient is the remote signing oracle: it signs a locally computed
// digest with a key that never leaves the custody service.
type SignClient interface {
	Sign(ctx context.Context, keyID string, digest []byte, alg SignatureAlgorithm) ([]byte, error)
}

// VaultSet resolves custody namespaces. Issuer and target certificates may
// live in different namespaces; the orchestrator resolves each Reference
// through the set.
type VaultSet interface {
	Certificates(vault string) CertificateClient
	Signer(vault string) SignClient
}

// ErrNotFound is returned when a certificate or pending operation does not
// exist at the custody service.
var ErrNotFound = errors.New("not found")

// RemoteError wraps a custody-service failure with the operation and HTTP
// status that produced it. It supports errors.Is/As through Unwrap.
type RemoteError struct {
	Op     string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("custody %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("custody %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error { return e.Err }
