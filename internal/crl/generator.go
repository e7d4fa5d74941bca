// Package crl builds and signs RFC 5280 certificate revocation lists
// from the revocation store.
package crl

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/alanta/keyvault-ca-sub000/internal/ca"
	"github.com/alanta/keyvault-ca-sub000/internal/revocation"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// tbsCertList is the TBSCertList structure per RFC 5280 §5.1.
type tbsCertList struct {
	Version             int `asn1:"optional,default:0"`
	Signature           pkix.AlgorithmIdentifier
	Issuer              asn1.RawValue
	ThisUpdate          time.Time
	NextUpdate          time.Time                 `asn1:"optional"`
	RevokedCertificates []revokedCertificateEntry `asn1:"optional"`
	Extensions          []pkix.Extension          `asn1:"optional,explicit,tag:0"`
}

type revokedCertificateEntry struct {
	SerialNumber   *big.Int
	RevocationTime time.Time
	Extensions     []pkix.Extension `asn1:"optional"`
}

// certificateList assembles the final CRL with the exact TBS bytes that
// were signed.
type certificateList struct {
	TBSCertList        asn1.RawValue
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     asn1.BitString
}

// Signer produces the CRL signature. A remote signing key satisfies it.
type Signer interface {
	SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error)
	SignatureAlgorithmIdentifier(hash crypto.Hash) (pkix.AlgorithmIdentifier, error)
}

// Generator signs revocation lists for the records in a store. It holds
// no mutable state and is safe for concurrent use; every call produces a
// freshly signed list.
type Generator struct {
	store revocation.Store
	now   func() time.Time
	log   zerolog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(log zerolog.Logger) GeneratorOption {
	return func(g *Generator) { g.log = log }
}

// NewGenerator builds a Generator over store.
func NewGenerator(store revocation.Store, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store: store,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateCRL builds and signs a v2 CRL covering every revocation record
// stored under issuerDN. The list is valid from now until now+validity.
// A non-nil crlNumber is carried as a non-critical CRLNumber extension.
// A malformed serial in the store is corrupted data and fails the whole
// list rather than being skipped.
func (g *Generator) GenerateCRL(ctx context.Context, issuer *x509.Certificate, signer Signer, issuerDN string, validity time.Duration, hash crypto.Hash, crlNumber *big.Int) ([]byte, error) {
	if issuer == nil || signer == nil {
		return nil, fmt.Errorf("issuer certificate and signer are required: %w", ca.ErrInvalidArgument)
	}
	if hash == 0 {
		hash = crypto.SHA256
	}

	records, err := g.store.GetRevocationsByIssuer(ctx, issuerDN)
	if err != nil {
		return nil, fmt.Errorf("failed to load revocations for %q: %w", issuerDN, err)
	}

	entries := make([]revokedCertificateEntry, 0, len(records))
	for _, rec := range records {
		serial, ok := new(big.Int).SetString(rec.Serial, 16)
		if !ok {
			return nil, fmt.Errorf("revocation record has malformed serial %q: %w", rec.Serial, ca.ErrValidation)
		}
		entry := revokedCertificateEntry{
			SerialNumber:   serial,
			RevocationTime: rec.RevokedAt.UTC(),
		}
		if rec.Reason != revocation.ReasonUnspecified {
			reasonExt, err := reasonCodeExtension(rec.Reason)
			if err != nil {
				return nil, err
			}
			entry.Extensions = []pkix.Extension{reasonExt}
		}
		entries = append(entries, entry)
	}

	akiExt, err := authorityKeyIDExtension(issuer)
	if err != nil {
		return nil, err
	}
	extensions := []pkix.Extension{akiExt}
	if crlNumber != nil {
		numDER, err := asn1.Marshal(crlNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to encode CRLNumber: %w", err)
		}
		extensions = append(extensions, pkix.Extension{
			Id:    x509util.OIDExtCRLNumber,
			Value: numDER,
		})
	}

	sigAlg, err := signer.SignatureAlgorithmIdentifier(hash)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	tbs := tbsCertList{
		Version:             1, // v2
		Signature:           sigAlg,
		Issuer:              asn1.RawValue{FullBytes: issuer.RawSubject},
		ThisUpdate:          now,
		NextUpdate:          now.Add(validity),
		RevokedCertificates: entries,
		Extensions:          extensions,
	}
	tbsDER, err := asn1.Marshal(tbs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode TBSCertList: %w", err)
	}

	signature, err := signer.SignData(ctx, tbsDER, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign CRL: %w", err)
	}

	crlDER, err := asn1.Marshal(certificateList{
		TBSCertList:        asn1.RawValue{FullBytes: tbsDER},
		SignatureAlgorithm: sigAlg,
		SignatureValue:     asn1.BitString{Bytes: signature, BitLength: len(signature) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CRL: %w", err)
	}

	g.log.Debug().Str("issuer", issuerDN).Int("entries", len(entries)).Msg("generated CRL")
	return crlDER, nil
}

// reasonCodeExtension encodes the per-entry CRLReason (RFC 5280 §5.3.1).
func reasonCodeExtension(reason revocation.Reason) (pkix.Extension, error) {
	value, err := asn1.Marshal(asn1.Enumerated(reason))
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode CRLReason: %w", err)
	}
	return pkix.Extension{Id: x509util.OIDExtCRLReasonCode, Value: value}, nil
}

// authorityKeyIDExtension builds the keyIdentifier-only AKI required on
// every list, recomputing the key identifier when the issuer certificate
// carries no SKI.
func authorityKeyIDExtension(issuer *x509.Certificate) (pkix.Extension, error) {
	keyID := issuer.SubjectKeyId
	if len(keyID) == 0 {
		var err error
		keyID, err = x509util.SubjectKeyIDFromSPKI(issuer.RawSubjectPublicKeyInfo)
		if err != nil {
			return pkix.Extension{}, fmt.Errorf("failed to derive issuer key identifier: %w", err)
		}
	}
	aki := struct {
		KeyID []byte `asn1:"optional,tag:0"`
	}{KeyID: keyID}
	value, err := asn1.Marshal(aki)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode AuthorityKeyIdentifier: %w", err)
	}
	return pkix.Extension{Id: x509util.OIDExtAuthorityKeyId, Value: value}, nil
}
