// Package revocation stores revocation records for issued certificates and
// serves the lookups behind the OCSP responder and the CRL generator.
package revocation

import (
	"context"
	"strings"
	"time"
)

// Reason is an RFC 5280 CRLReason code.
type Reason int

const (
	ReasonUnspecified          Reason = 0
	ReasonKeyCompromise        Reason = 1
	ReasonCACompromise         Reason = 2
	ReasonAffiliationChanged   Reason = 3
	ReasonSuperseded           Reason = 4
	ReasonCessationOfOperation Reason = 5
	ReasonCertificateHold      Reason = 6
	ReasonRemoveFromCRL        Reason = 8
	ReasonPrivilegeWithdrawn   Reason = 9
	ReasonAACompromise         Reason = 10
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "caCompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return "unknown"
	}
}

// Record is one revoked certificate.
type Record struct {
	// Serial is the certificate serial in canonical hex: uppercase, no
	// prefix, even number of digits.
	Serial string `db:"serial"`

	// IssuerDN is the issuing CA's subject DN, keying CRL generation.
	IssuerDN string `db:"issuer_dn"`

	// RevokedAt is the revocation time.
	RevokedAt time.Time `db:"revoked_at"`

	// Reason is the CRLReason code.
	Reason Reason `db:"reason"`
}

// Store is the revocation lookup surface. GetRevocation returns (nil, nil)
// for serials with no record: an unknown certificate is simply not
// revoked.
type Store interface {
	AddRevocation(ctx context.Context, rec Record) error
	GetRevocation(ctx context.Context, serial string) (*Record, error)
	GetRevocationsByIssuer(ctx context.Context, issuerDN string) ([]Record, error)
}

// NormalizeSerial canonicalizes a serial hex string: uppercase, padded to
// an even number of digits.
func NormalizeSerial(serial string) string {
	s := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(serial, "0x"), "0X"))
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}
