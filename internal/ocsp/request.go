// Package ocsp implements an RFC 6960 OCSP responder on top of a
// revocation store and a remote signing key.
package ocsp

import (
	"crypto"
	"crypto/subtle"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// CertID identifies one certificate in a request or response.
//
// CertID ::= SEQUENCE {
//     hashAlgorithm   AlgorithmIdentifier,
//     issuerNameHash  OCTET STRING,
//     issuerKeyHash   OCTET STRING,
//     serialNumber    CertificateSerialNumber }
type CertID struct {
	HashAlgorithm  pkix.AlgorithmIdentifier
	IssuerNameHash []byte
	IssuerKeyHash  []byte
	SerialNumber   *big.Int
}

// singleRequest ::= SEQUENCE {
//     reqCert                  CertID,
//     singleRequestExtensions  [0] EXPLICIT Extensions OPTIONAL }
type singleRequest struct {
	ReqCert                 CertID
	SingleRequestExtensions []pkix.Extension `asn1:"optional,explicit,tag:0"`
}

// tbsRequest ::= SEQUENCE {
//     version            [0] EXPLICIT Version DEFAULT v1,
//     requestorName      [1] EXPLICIT GeneralName OPTIONAL,
//     requestList        SEQUENCE OF Request,
//     requestExtensions  [2] EXPLICIT Extensions OPTIONAL }
type tbsRequest struct {
	Version           int              `asn1:"optional,explicit,tag:0,default:0"`
	RequestorName     asn1.RawValue    `asn1:"optional,explicit,tag:1"`
	RequestList       []singleRequest
	RequestExtensions []pkix.Extension `asn1:"optional,explicit,tag:2"`
}

// ocspRequest ::= SEQUENCE {
//     tbsRequest         TBSRequest,
//     optionalSignature  [0] EXPLICIT Signature OPTIONAL }
type ocspRequest struct {
	TBSRequest        tbsRequest
	OptionalSignature asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// Request is a parsed OCSP request.
type Request struct {
	List       []CertID
	Extensions []pkix.Extension
}

// ParseRequest decodes a DER-encoded OCSP request.
func ParseRequest(der []byte) (*Request, error) {
	var req ocspRequest
	rest, err := asn1.Unmarshal(der, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP request: %w", err)
	}
	if len(rest) > 0 {
		return nil, errors.New("failed to parse OCSP request: trailing data")
	}
	if req.TBSRequest.Version != 0 {
		return nil, fmt.Errorf("unsupported OCSP request version %d", req.TBSRequest.Version)
	}
	parsed := &Request{Extensions: req.TBSRequest.RequestExtensions}
	for _, sr := range req.TBSRequest.RequestList {
		if sr.ReqCert.SerialNumber == nil {
			return nil, errors.New("OCSP request entry has no serial number")
		}
		parsed.List = append(parsed.List, sr.ReqCert)
	}
	return parsed, nil
}

// NonceExtension returns the request's nonce extension, if any, for
// verbatim echo in the response.
func (r *Request) NonceExtension() (pkix.Extension, bool) {
	for _, ext := range r.Extensions {
		if ext.Id.Equal(OIDOcspNonce) {
			return ext, true
		}
	}
	return pkix.Extension{}, false
}

// Nonce returns the unwrapped nonce value, or nil when absent.
func (r *Request) Nonce() []byte {
	ext, ok := r.NonceExtension()
	if !ok {
		return nil
	}
	// RFC 8954: the extension value is an OCTET STRING wrapping the nonce.
	var nonce []byte
	if _, err := asn1.Unmarshal(ext.Value, &nonce); err != nil {
		return ext.Value
	}
	return nonce
}

// hashFromAlgorithm maps a CertID hash algorithm to a crypto.Hash.
func hashFromAlgorithm(alg pkix.AlgorithmIdentifier) (crypto.Hash, error) {
	switch {
	case alg.Algorithm.Equal(x509util.OIDHashSHA1):
		return crypto.SHA1, nil
	case alg.Algorithm.Equal(x509util.OIDHashSHA256):
		return crypto.SHA256, nil
	case alg.Algorithm.Equal(x509util.OIDHashSHA384):
		return crypto.SHA384, nil
	case alg.Algorithm.Equal(x509util.OIDHashSHA512):
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported CertID hash algorithm %v", alg.Algorithm)
}

func oidForHash(hash crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch hash {
	case crypto.SHA1:
		return x509util.OIDHashSHA1, nil
	case crypto.SHA256:
		return x509util.OIDHashSHA256, nil
	case crypto.SHA384:
		return x509util.OIDHashSHA384, nil
	case crypto.SHA512:
		return x509util.OIDHashSHA512, nil
	}
	return nil, fmt.Errorf("unsupported CertID hash %v", hash)
}

// issuerHashes computes the issuerNameHash and issuerKeyHash for issuer
// under hash. The key hash covers the subjectPublicKey BIT STRING bits,
// excluding tag, length and unused-bit count.
func issuerHashes(issuer *x509.Certificate, hash crypto.Hash) (nameHash, keyHash []byte, err error) {
	_, keyBits, err := x509util.ParseSPKI(issuer.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, nil, err
	}
	h := hash.New()
	h.Write(issuer.RawSubject)
	nameHash = h.Sum(nil)
	h.Reset()
	h.Write(keyBits)
	keyHash = h.Sum(nil)
	return nameHash, keyHash, nil
}

// NewCertID builds the CertID for serial under issuer.
func NewCertID(issuer *x509.Certificate, serial *big.Int, hash crypto.Hash) (CertID, error) {
	oid, err := oidForHash(hash)
	if err != nil {
		return CertID{}, err
	}
	nameHash, keyHash, err := issuerHashes(issuer, hash)
	if err != nil {
		return CertID{}, err
	}
	return CertID{
		HashAlgorithm:  pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		IssuerNameHash: nameHash,
		IssuerKeyHash:  keyHash,
		SerialNumber:   serial,
	}, nil
}

// MatchesIssuer reports whether the CertID names issuer, recomputing both
// hashes with the CertID's own algorithm and comparing in constant time.
// An unsupported hash algorithm is an error.
func (c CertID) MatchesIssuer(issuer *x509.Certificate) (bool, error) {
	hash, err := hashFromAlgorithm(c.HashAlgorithm)
	if err != nil {
		return false, err
	}
	nameHash, keyHash, err := issuerHashes(issuer, hash)
	if err != nil {
		return false, err
	}
	nameOK := subtle.ConstantTimeCompare(nameHash, c.IssuerNameHash)
	keyOK := subtle.ConstantTimeCompare(keyHash, c.IssuerKeyHash)
	return nameOK&keyOK == 1, nil
}

// CreateRequest builds a DER-encoded single-certificate OCSP request.
// A non-nil nonce is carried as an RFC 8954 nonce extension.
func CreateRequest(issuer *x509.Certificate, serial *big.Int, hash crypto.Hash, nonce []byte) ([]byte, error) {
	certID, err := NewCertID(issuer, serial, hash)
	if err != nil {
		return nil, err
	}
	tbs := tbsRequest{
		RequestList: []singleRequest{{ReqCert: certID}},
	}
	if nonce != nil {
		wrapped, err := asn1.Marshal(nonce)
		if err != nil {
			return nil, fmt.Errorf("failed to encode nonce: %w", err)
		}
		tbs.RequestExtensions = []pkix.Extension{{Id: OIDOcspNonce, Value: wrapped}}
	}
	der, err := asn1.Marshal(ocspRequest{TBSRequest: tbs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode OCSP request: %w", err)
	}
	return der, nil
}
