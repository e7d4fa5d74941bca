package ocsp

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"
)

// ResponseStatus is an OCSPResponseStatus per RFC 6960 section 4.2.1.
type ResponseStatus int

const (
	StatusSuccessful       ResponseStatus = 0
	StatusMalformedRequest ResponseStatus = 1
	StatusInternalError    ResponseStatus = 2
	StatusTryLater         ResponseStatus = 3
	StatusSigRequired      ResponseStatus = 5
	StatusUnauthorized     ResponseStatus = 6
)

// String returns the RFC 6960 name of the status.
func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccessful:
		return "successful"
	case StatusMalformedRequest:
		return "malformedRequest"
	case StatusInternalError:
		return "internalError"
	case StatusTryLater:
		return "tryLater"
	case StatusSigRequired:
		return "sigRequired"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// revokedInfo ::= SEQUENCE {
//     revocationTime    GeneralizedTime,
//     revocationReason  [0] EXPLICIT CRLReason OPTIONAL }
type revokedInfo struct {
	RevocationTime   time.Time       `asn1:"generalized"`
	RevocationReason asn1.Enumerated `asn1:"optional,explicit,tag:0"`
}

// singleResponse ::= SEQUENCE {
//     certID            CertID,
//     certStatus        CertStatus,
//     thisUpdate        GeneralizedTime,
//     nextUpdate        [0] EXPLICIT GeneralizedTime OPTIONAL,
//     singleExtensions  [1] EXPLICIT Extensions OPTIONAL }
type singleResponse struct {
	CertID           CertID
	CertStatus       asn1.RawValue
	ThisUpdate       time.Time        `asn1:"generalized"`
	NextUpdate       time.Time        `asn1:"optional,explicit,tag:0,generalized"`
	SingleExtensions []pkix.Extension `asn1:"optional,explicit,tag:1"`
}

// responseData ::= SEQUENCE {
//     version             [0] EXPLICIT Version DEFAULT v1,
//     responderID         ResponderID,
//     producedAt          GeneralizedTime,
//     responses           SEQUENCE OF SingleResponse,
//     responseExtensions  [1] EXPLICIT Extensions OPTIONAL }
type responseData struct {
	Version            int           `asn1:"optional,explicit,tag:0,default:0"`
	ResponderID        asn1.RawValue
	ProducedAt         time.Time `asn1:"generalized"`
	Responses          []singleResponse
	ResponseExtensions []pkix.Extension `asn1:"optional,explicit,tag:1"`
}

// basicOCSPResponse ::= SEQUENCE {
//     tbsResponseData     ResponseData,
//     signatureAlgorithm  AlgorithmIdentifier,
//     signature           BIT STRING,
//     certs               [0] EXPLICIT SEQUENCE OF Certificate OPTIONAL }
type basicOCSPResponse struct {
	TBSResponseData    responseData
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certs              []asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// responseBytes ::= SEQUENCE {
//     responseType  OBJECT IDENTIFIER,
//     response      OCTET STRING }
type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

// ocspResponse ::= SEQUENCE {
//     responseStatus  OCSPResponseStatus,
//     responseBytes   [0] EXPLICIT ResponseBytes OPTIONAL }
type ocspResponse struct {
	Status        asn1.Enumerated
	ResponseBytes responseBytes `asn1:"optional,explicit,tag:0"`
}

// statusGood is the CertStatus for a certificate with no revocation
// record: the implicit [0] NULL.
func statusGood() asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0}
}

// statusRevoked encodes RevokedInfo under the implicit [1] tag.
func statusRevoked(revokedAt time.Time, reason int) (asn1.RawValue, error) {
	inner, err := asn1.Marshal(revokedInfo{
		RevocationTime:   revokedAt.UTC(),
		RevocationReason: asn1.Enumerated(reason),
	})
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("failed to encode revokedInfo: %w", err)
	}
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(inner, &seq); err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        1,
		IsCompound: true,
		Bytes:      seq.Bytes,
	}, nil
}

// responderIDByKey encodes ResponderID as byKey [2]: the SHA-1 hash of
// the responder's public key, wrapped in an OCTET STRING.
func responderIDByKey(keyHash []byte) (asn1.RawValue, error) {
	wrapped, err := asn1.Marshal(keyHash)
	if err != nil {
		return asn1.RawValue{}, err
	}
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        2,
		IsCompound: true,
		Bytes:      wrapped,
	}, nil
}

// responderIDByName encodes ResponderID as byName [1] from the
// responder's DER-encoded subject.
func responderIDByName(rawSubject []byte) asn1.RawValue {
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        1,
		IsCompound: true,
		Bytes:      rawSubject,
	}
}

// NewErrorResponse encodes an unsigned OCSP error response: just the
// status, no responseBytes.
func NewErrorResponse(status ResponseStatus) ([]byte, error) {
	der, err := asn1.Marshal(ocspResponse{Status: asn1.Enumerated(status)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode OCSP error response: %w", err)
	}
	return der, nil
}

// signBasicResponse signs tbs and wraps it into a successful OCSP
// response carrying the responder's certificate chain.
func signBasicResponse(ctx context.Context, tbs responseData, signer Signer, chain []*x509.Certificate) ([]byte, error) {
	tbsDER, err := asn1.Marshal(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tbsResponseData: %w", err)
	}
	signature, err := signer.SignData(ctx, tbsDER, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign OCSP response: %w", err)
	}
	sigAlg, err := signer.SignatureAlgorithmIdentifier(crypto.SHA256)
	if err != nil {
		return nil, err
	}
	basic := basicOCSPResponse{
		TBSResponseData:    tbs,
		SignatureAlgorithm: sigAlg,
		Signature:          asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	}
	for _, cert := range chain {
		basic.Certs = append(basic.Certs, asn1.RawValue{FullBytes: cert.Raw})
	}
	basicDER, err := asn1.Marshal(basic)
	if err != nil {
		return nil, fmt.Errorf("failed to encode BasicOCSPResponse: %w", err)
	}
	der, err := asn1.Marshal(ocspResponse{
		Status: asn1.Enumerated(StatusSuccessful),
		ResponseBytes: responseBytes{
			ResponseType: OIDOcspBasic,
			Response:     basicDER,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode OCSP response: %w", err)
	}
	return der, nil
}
