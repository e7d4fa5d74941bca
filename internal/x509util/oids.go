// Package x509util provides utilities for X.509 certificate handling:
// OID definitions, serial number generation, key identifiers, and the
// extension-set merge semantics used by the signing engine.
package x509util

import (
	"encoding/asn1"
)

// Standard X.509 extension OIDs (RFC 5280).
var (
	// Key Usage extension
	OIDExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

	// Extended Key Usage extension
	OIDExtExtKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}

	// Basic Constraints extension
	OIDExtBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

	// Subject Alternative Name extension
	OIDExtSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

	// Authority Key Identifier extension
	OIDExtAuthorityKeyId = asn1.ObjectIdentifier{2, 5, 29, 35}

	// Subject Key Identifier extension
	OIDExtSubjectKeyId = asn1.ObjectIdentifier{2, 5, 29, 14}

	// CRL Distribution Points extension
	OIDExtCRLDistributionPoints = asn1.ObjectIdentifier{2, 5, 29, 31}

	// CRL Number extension (RFC 5280 §5.2.3)
	OIDExtCRLNumber = asn1.ObjectIdentifier{2, 5, 29, 20}

	// CRL entry reason code (RFC 5280 §5.3.1)
	OIDExtCRLReasonCode = asn1.ObjectIdentifier{2, 5, 29, 21}

	// Authority Information Access extension
	OIDExtAuthorityInfoAccess = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
)

// Extended Key Usage OIDs.
var (
	OIDExtKeyUsageServerAuth  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	OIDExtKeyUsageClientAuth  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	OIDExtKeyUsageOCSPSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}
)

// Authority Information Access method OIDs.
var (
	// id-ad-ocsp: the access method for OCSP responder URLs.
	OIDAccessMethodOCSP = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1}

	// id-ad-caIssuers: the access method for issuer certificate URLs.
	OIDAccessMethodCAIssuers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
)

// Public key algorithm OIDs, used to select the remote signing mode.
var (
	// rsaEncryption (PKCS#1)
	OIDPublicKeyRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

	// id-ecPublicKey
	OIDPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}

	// dhKeyAgreement (PKCS#3). Not a signing key; rejected by the adapter.
	OIDPublicKeyDHPKCS3 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 3, 1}

	// dhpublicnumber (ANSI X9.42). Not a signing key; rejected by the adapter.
	OIDPublicKeyDHX942 = asn1.ObjectIdentifier{1, 2, 840, 10046, 2, 1}
)

// Signature algorithm OIDs.
var (
	// RSA PKCS#1 v1.5
	OIDSignatureRSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSignatureRSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSignatureRSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}

	// ECDSA
	OIDSignatureECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDSignatureECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDSignatureECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// Hash algorithm OIDs.
var (
	OIDHashSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDHashSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDHashSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDHashSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// OIDEqual compares two OIDs for equality.
func OIDEqual(a, b asn1.ObjectIdentifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
