package x509util

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// subjectPublicKeyInfo mirrors the SPKI SEQUENCE from RFC 5280 §4.1.
//
//	SubjectPublicKeyInfo ::= SEQUENCE {
//	    algorithm        AlgorithmIdentifier,
//	    subjectPublicKey BIT STRING }
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParseSPKI parses a DER SubjectPublicKeyInfo and returns the algorithm
// identifier and the raw subjectPublicKey bits (tag, length and unused-bits
// octet stripped).
func ParseSPKI(der []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return pkix.AlgorithmIdentifier{}, nil, fmt.Errorf("failed to parse SubjectPublicKeyInfo: %w", err)
	}
	return spki.Algorithm, spki.PublicKey.Bytes, nil
}

// SubjectKeyID computes the Subject Key Identifier for a public key:
// the SHA-1 hash of the subjectPublicKey BIT STRING contents, per
// RFC 5280 §4.2.1.2 method (1). The same computation yields the OCSP
// issuerKeyHash (RFC 6960 §4.1.1).
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return SubjectKeyIDFromSPKI(der)
}

// SubjectKeyIDFromSPKI computes the Subject Key Identifier from a DER
// SubjectPublicKeyInfo.
func SubjectKeyIDFromSPKI(der []byte) ([]byte, error) {
	_, keyBytes, err := ParseSPKI(der)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(keyBytes)
	return sum[:], nil
}

// authorityKeyID mirrors the AuthorityKeyIdentifier SEQUENCE from
// RFC 5280 §4.2.1.1.
//
//	AuthorityKeyIdentifier ::= SEQUENCE {
//	    keyIdentifier             [0] KeyIdentifier            OPTIONAL,
//	    authorityCertIssuer       [1] GeneralNames             OPTIONAL,
//	    authorityCertSerialNumber [2] CertificateSerialNumber  OPTIONAL }
type authorityKeyID struct {
	KeyID  []byte        `asn1:"optional,tag:0"`
	Issuer asn1.RawValue `asn1:"optional,tag:1"`
	Serial *big.Int      `asn1:"optional,tag:2"`
}

// AuthorityKeyIDExtension builds the full Authority Key Identifier
// extension for a certificate issued by the given issuer: the issuer's
// Subject Key Identifier, the issuer's own name, and the issuer's serial.
// The keyIdentifier is taken from the issuer certificate's SKI; if the
// issuer carries none it is recomputed from the issuer public key.
func AuthorityKeyIDExtension(issuer *x509.Certificate) (pkix.Extension, error) {
	ski := issuer.SubjectKeyId
	if len(ski) == 0 {
		var err error
		ski, err = SubjectKeyIDFromSPKI(issuer.RawSubjectPublicKeyInfo)
		if err != nil {
			return pkix.Extension{}, fmt.Errorf("failed to derive issuer key identifier: %w", err)
		}
	}
	return NewAuthorityKeyIDExtension(ski, issuer.RawSubject, issuer.SerialNumber)
}

// NewAuthorityKeyIDExtension builds an Authority Key Identifier extension
// from its raw parts: the issuer's key identifier, the issuer's DER-encoded
// subject name, and the issuer's serial number. A self-signed root passes
// its own name, serial, and SKI.
func NewAuthorityKeyIDExtension(keyID, rawIssuerName []byte, serial *big.Int) (pkix.Extension, error) {
	// GeneralNames ::= SEQUENCE OF GeneralName; directoryName is [4] and,
	// because Name is a CHOICE, the inner encoding keeps its own tag.
	dirName, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        4,
		IsCompound: true,
		Bytes:      rawIssuerName,
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode authorityCertIssuer: %w", err)
	}

	aki := authorityKeyID{
		KeyID: keyID,
		// [1] IMPLICIT SEQUENCE OF GeneralName: the implicit tag replaces
		// the SEQUENCE tag, so Bytes holds the sequence contents.
		Issuer: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        1,
			IsCompound: true,
			Bytes:      dirName,
		},
		Serial: serial,
	}

	value, err := asn1.Marshal(aki)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal AuthorityKeyIdentifier: %w", err)
	}

	return pkix.Extension{Id: OIDExtAuthorityKeyId, Value: value}, nil
}

// ParseAuthorityKeyID decodes an Authority Key Identifier extension value
// into its key identifier and serial number parts. The authorityCertIssuer
// GeneralNames are returned raw.
func ParseAuthorityKeyID(ext pkix.Extension) (keyID []byte, rawIssuer []byte, serial *big.Int, err error) {
	if !OIDEqual(ext.Id, OIDExtAuthorityKeyId) {
		return nil, nil, nil, fmt.Errorf("not an AuthorityKeyIdentifier extension: %s", ext.Id)
	}
	var aki authorityKeyID
	rest, err := asn1.Unmarshal(ext.Value, &aki)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal AuthorityKeyIdentifier: %w", err)
	}
	if len(rest) > 0 {
		return nil, nil, nil, fmt.Errorf("trailing data in AuthorityKeyIdentifier")
	}
	return aki.KeyID, aki.Issuer.Bytes, aki.Serial, nil
}

// SubjectKeyIDExtension wraps a key identifier as a Subject Key Identifier
// extension (OCTET STRING, non-critical per RFC 5280).
func SubjectKeyIDExtension(keyID []byte) (pkix.Extension, error) {
	value, err := asn1.Marshal(keyID)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal SubjectKeyIdentifier: %w", err)
	}
	return pkix.Extension{Id: OIDExtSubjectKeyId, Value: value}, nil
}
