package x509util

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
)

// ExtensionSet is an ordered collection of X.509 extensions keyed by OID.
// Inserting an extension whose OID is already present replaces the prior
// value in place; new OIDs are appended. The zero value is ready to use.
type ExtensionSet struct {
	exts []pkix.Extension
}

// NewExtensionSet builds an ExtensionSet from a list of extensions,
// applying the replace-by-OID rule to duplicates in the input.
func NewExtensionSet(exts ...pkix.Extension) *ExtensionSet {
	s := &ExtensionSet{}
	for _, ext := range exts {
		s.Upsert(ext)
	}
	return s
}

// Upsert inserts an extension, replacing any existing extension with the
// same OID.
func (s *ExtensionSet) Upsert(ext pkix.Extension) {
	for i := range s.exts {
		if OIDEqual(s.exts[i].Id, ext.Id) {
			s.exts[i] = ext
			return
		}
	}
	s.exts = append(s.exts, ext)
}

// Get returns the extension with the given OID, if present.
func (s *ExtensionSet) Get(oid asn1.ObjectIdentifier) (pkix.Extension, bool) {
	for _, ext := range s.exts {
		if OIDEqual(ext.Id, oid) {
			return ext, true
		}
	}
	return pkix.Extension{}, false
}

// Has reports whether an extension with the given OID is present.
func (s *ExtensionSet) Has(oid asn1.ObjectIdentifier) bool {
	_, ok := s.Get(oid)
	return ok
}

// List returns the extensions in insertion order. The returned slice is a
// copy; mutating it does not affect the set.
func (s *ExtensionSet) List() []pkix.Extension {
	out := make([]pkix.Extension, len(s.exts))
	copy(out, s.exts)
	return out
}

// Len returns the number of extensions in the set.
func (s *ExtensionSet) Len() int {
	return len(s.exts)
}

// MergeExtensions merges overrides into existing by OID: an override whose
// OID matches an existing extension replaces it; others are appended in
// order. The inputs are not mutated. Merging is idempotent and, for the
// replaced OIDs, independent of the order of the existing list.
func MergeExtensions(existing, overrides []pkix.Extension) []pkix.Extension {
	s := NewExtensionSet(existing...)
	for _, ext := range overrides {
		s.Upsert(ext)
	}
	return s.List()
}

// basicConstraints mirrors the BasicConstraints SEQUENCE from RFC 5280 §4.2.1.9.
type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// BasicConstraintsExtension encodes a BasicConstraints extension.
// pathLen < 0 omits the pathLenConstraint field. The extension is always
// marked critical, matching CA/Browser Forum and RFC 5280 practice.
func BasicConstraintsExtension(isCA bool, pathLen int) (pkix.Extension, error) {
	bc := basicConstraints{IsCA: isCA, MaxPathLen: -1}
	if isCA && pathLen >= 0 {
		bc.MaxPathLen = pathLen
	}
	value, err := asn1.Marshal(bc)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal BasicConstraints: %w", err)
	}
	return pkix.Extension{Id: OIDExtBasicConstraints, Critical: true, Value: value}, nil
}

// BasicConstraintsInfo is the decoded form of a BasicConstraints extension.
// MaxPathLen is -1 when the pathLenConstraint field is absent.
type BasicConstraintsInfo struct {
	IsCA       bool
	MaxPathLen int
}

// ParseBasicConstraints decodes a BasicConstraints extension value.
func ParseBasicConstraints(ext pkix.Extension) (BasicConstraintsInfo, error) {
	if !OIDEqual(ext.Id, OIDExtBasicConstraints) {
		return BasicConstraintsInfo{}, fmt.Errorf("not a BasicConstraints extension: %s", ext.Id)
	}
	bc := basicConstraints{MaxPathLen: -1}
	rest, err := asn1.Unmarshal(ext.Value, &bc)
	if err != nil {
		return BasicConstraintsInfo{}, fmt.Errorf("failed to unmarshal BasicConstraints: %w", err)
	}
	if len(rest) > 0 {
		return BasicConstraintsInfo{}, fmt.Errorf("trailing data in BasicConstraints")
	}
	return BasicConstraintsInfo{IsCA: bc.IsCA, MaxPathLen: bc.MaxPathLen}, nil
}

// reverseBitsInAByte reverses the bit order within a byte. KeyUsage flags
// number bits from the most significant bit of the BIT STRING, opposite to
// the x509.KeyUsage integer layout.
func reverseBitsInAByte(in byte) byte {
	b1 := in>>4 | in<<4
	b2 := b1>>2&0x33 | b1<<2&0xCC
	return b2>>1&0x55 | b2<<1&0xAA
}

// asn1BitLength returns the bit length of a bit string ignoring trailing
// zero bits.
func asn1BitLength(bitString []byte) int {
	bitLen := len(bitString) * 8
	for i := range bitString {
		b := bitString[len(bitString)-i-1]
		for bit := uint(0); bit < 8; bit++ {
			if (b>>bit)&1 == 1 {
				return bitLen
			}
			bitLen--
		}
	}
	return 0
}

// KeyUsageExtension encodes a KeyUsage extension (critical, per RFC 5280
// recommendation for CA-issued certificates).
func KeyUsageExtension(ku x509.KeyUsage) (pkix.Extension, error) {
	var a [2]byte
	a[0] = reverseBitsInAByte(byte(ku))
	a[1] = reverseBitsInAByte(byte(ku >> 8))

	l := 1
	if a[1] != 0 {
		l = 2
	}
	bitString := a[:l]
	value, err := asn1.Marshal(asn1.BitString{Bytes: bitString, BitLength: asn1BitLength(bitString)})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal KeyUsage: %w", err)
	}
	return pkix.Extension{Id: OIDExtKeyUsage, Critical: true, Value: value}, nil
}

// ParseKeyUsage decodes a KeyUsage extension value.
func ParseKeyUsage(ext pkix.Extension) (x509.KeyUsage, error) {
	if !OIDEqual(ext.Id, OIDExtKeyUsage) {
		return 0, fmt.Errorf("not a KeyUsage extension: %s", ext.Id)
	}
	var bits asn1.BitString
	if _, err := asn1.Unmarshal(ext.Value, &bits); err != nil {
		return 0, fmt.Errorf("failed to unmarshal KeyUsage: %w", err)
	}
	var ku x509.KeyUsage
	for i := 0; i < 9; i++ {
		if bits.At(i) != 0 {
			ku |= 1 << uint(i)
		}
	}
	return ku, nil
}

// ExtendedKeyUsageExtension encodes an ExtendedKeyUsage extension from a
// list of usage OIDs. RFC 6960 §4.2.2.2.1 requires the extension to be
// critical on a delegated OCSP signing certificate; other certificates
// leave it non-critical.
func ExtendedKeyUsageExtension(critical bool, usages ...asn1.ObjectIdentifier) (pkix.Extension, error) {
	if len(usages) == 0 {
		return pkix.Extension{}, fmt.Errorf("at least one extended key usage is required")
	}
	value, err := asn1.Marshal(usages)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal ExtendedKeyUsage: %w", err)
	}
	return pkix.Extension{Id: OIDExtExtKeyUsage, Critical: critical, Value: value}, nil
}

// ParseExtendedKeyUsage decodes an ExtendedKeyUsage extension value.
func ParseExtendedKeyUsage(ext pkix.Extension) ([]asn1.ObjectIdentifier, error) {
	if !OIDEqual(ext.Id, OIDExtExtKeyUsage) {
		return nil, fmt.Errorf("not an ExtendedKeyUsage extension: %s", ext.Id)
	}
	var usages []asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(ext.Value, &usages)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ExtendedKeyUsage: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data in ExtendedKeyUsage")
	}
	return usages, nil
}

// SubjectAltNameExtension encodes a Subject Alternative Name extension
// containing dNSName entries.
func SubjectAltNameExtension(dnsNames []string) (pkix.Extension, error) {
	if len(dnsNames) == 0 {
		return pkix.Extension{}, fmt.Errorf("at least one DNS name is required")
	}
	names := make([]asn1.RawValue, 0, len(dnsNames))
	for _, name := range dnsNames {
		// dNSName [2] IA5String
		names = append(names, asn1.RawValue{
			Class: asn1.ClassContextSpecific,
			Tag:   2,
			Bytes: []byte(name),
		})
	}
	value, err := asn1.Marshal(names)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal SubjectAltName: %w", err)
	}
	return pkix.Extension{Id: OIDExtSubjectAltName, Value: value}, nil
}

// distributionPointName mirrors DistributionPointName (RFC 5280 §4.2.1.13).
type distributionPointName struct {
	FullName []asn1.RawValue `asn1:"optional,tag:0"`
}

// distributionPoint mirrors DistributionPoint (RFC 5280 §4.2.1.13).
type distributionPoint struct {
	DistributionPoint distributionPointName `asn1:"optional,tag:0"`
}

// CRLDistributionPointsExtension encodes a CRL Distribution Points
// extension with one uniformResourceIdentifier per URL.
func CRLDistributionPointsExtension(urls []string) (pkix.Extension, error) {
	if len(urls) == 0 {
		return pkix.Extension{}, fmt.Errorf("at least one distribution point URL is required")
	}
	points := make([]distributionPoint, 0, len(urls))
	for _, u := range urls {
		points = append(points, distributionPoint{
			DistributionPoint: distributionPointName{
				// uniformResourceIdentifier [6] IA5String
				FullName: []asn1.RawValue{{
					Class: asn1.ClassContextSpecific,
					Tag:   6,
					Bytes: []byte(u),
				}},
			},
		})
	}
	value, err := asn1.Marshal(points)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal CRLDistributionPoints: %w", err)
	}
	return pkix.Extension{Id: OIDExtCRLDistributionPoints, Value: value}, nil
}

// accessDescription mirrors AccessDescription (RFC 5280 §4.2.2.1).
type accessDescription struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

// AuthorityInfoAccessExtension encodes an Authority Information Access
// extension. Either URL may be empty to omit its access description.
func AuthorityInfoAccessExtension(ocspURL, caIssuersURL string) (pkix.Extension, error) {
	var descs []accessDescription
	if ocspURL != "" {
		descs = append(descs, accessDescription{
			Method:   OIDAccessMethodOCSP,
			Location: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 6, Bytes: []byte(ocspURL)},
		})
	}
	if caIssuersURL != "" {
		descs = append(descs, accessDescription{
			Method:   OIDAccessMethodCAIssuers,
			Location: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 6, Bytes: []byte(caIssuersURL)},
		})
	}
	if len(descs) == 0 {
		return pkix.Extension{}, fmt.Errorf("at least one access location is required")
	}
	value, err := asn1.Marshal(descs)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal AuthorityInfoAccess: %w", err)
	}
	return pkix.Extension{Id: OIDExtAuthorityInfoAccess, Value: value}, nil
}
