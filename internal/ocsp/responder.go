package ocsp

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/rs/zerolog"

	"github.com/alanta/keyvault-ca-sub000/internal/revocation"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// DefaultValidity is the thisUpdate-to-nextUpdate window of a signed
// response.
const DefaultValidity = 24 * time.Hour

// Signer produces the response signature. A remote signing key
// satisfies it.
type Signer interface {
	SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error)
	SignatureAlgorithmIdentifier(hash crypto.Hash) (pkix.AlgorithmIdentifier, error)
}

// Responder answers OCSP requests for certificates issued by one CA,
// signing with a delegated OCSP signing certificate.
type Responder struct {
	store    revocation.Store
	issuer   *x509.Certificate
	cert     *x509.Certificate
	signer   Signer
	validity time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithValidity sets the response validity window.
func WithValidity(d time.Duration) ResponderOption {
	return func(r *Responder) { r.validity = d }
}

// WithResponderLogger sets the logger.
func WithResponderLogger(log zerolog.Logger) ResponderOption {
	return func(r *Responder) { r.log = log }
}

// NewResponder builds a responder for certificates issued by issuer.
// cert is the delegated OCSP signing certificate and signer its key.
func NewResponder(store revocation.Store, issuer, cert *x509.Certificate, signer Signer, opts ...ResponderOption) *Responder {
	r := &Responder{
		store:    store,
		issuer:   issuer,
		cert:     cert,
		signer:   signer,
		validity: DefaultValidity,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildResponse answers one DER-encoded OCSP request. Request faults
// come back as unsigned error responses, never as a Go error; the error
// return is reserved for encoding failures of the response itself.
func (r *Responder) BuildResponse(ctx context.Context, requestDER []byte) ([]byte, error) {
	req, err := ParseRequest(requestDER)
	if err != nil {
		r.log.Debug().Err(err).Msg("malformed OCSP request")
		return NewErrorResponse(StatusMalformedRequest)
	}
	if len(req.List) != 1 {
		r.log.Debug().Int("entries", len(req.List)).Msg("OCSP request must carry exactly one entry")
		return NewErrorResponse(StatusMalformedRequest)
	}
	certID := req.List[0]

	match, err := certID.MatchesIssuer(r.issuer)
	if err != nil {
		r.log.Debug().Err(err).Msg("OCSP request with unsupported CertID hash")
		return NewErrorResponse(StatusMalformedRequest)
	}
	if !match {
		r.log.Debug().Str("serial", x509util.SerialHex(certID.SerialNumber)).
			Msg("OCSP request for a certificate of another issuer")
		return NewErrorResponse(StatusUnauthorized)
	}

	serial := x509util.SerialHex(certID.SerialNumber)
	rec, err := r.store.GetRevocation(ctx, serial)
	if err != nil {
		r.log.Error().Err(err).Str("serial", serial).Msg("revocation lookup failed")
		return NewErrorResponse(StatusInternalError)
	}

	single := singleResponse{CertID: certID}
	if rec == nil {
		single.CertStatus = statusGood()
	} else {
		single.CertStatus, err = statusRevoked(rec.RevokedAt, int(rec.Reason))
		if err != nil {
			r.log.Error().Err(err).Str("serial", serial).Msg("failed to encode revoked status")
			return NewErrorResponse(StatusInternalError)
		}
	}

	now := r.now().UTC()
	single.ThisUpdate = now
	single.NextUpdate = now.Add(r.validity)
	if nonce, ok := req.NonceExtension(); ok {
		single.SingleExtensions = []pkix.Extension{nonce}
	}

	responderID, err := r.responderID()
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode responderID")
		return NewErrorResponse(StatusInternalError)
	}
	tbs := responseData{
		ResponderID: responderID,
		ProducedAt:  now,
		Responses:   []singleResponse{single},
		ResponseExtensions: []pkix.Extension{
			{Id: OIDOcspNoCheck, Value: asn1.NullBytes},
		},
	}

	response, err := signBasicResponse(ctx, tbs, r.signer, []*x509.Certificate{r.cert, r.issuer})
	if err != nil {
		r.log.Error().Err(err).Str("serial", serial).Msg("failed to sign OCSP response")
		return NewErrorResponse(StatusInternalError)
	}
	r.log.Debug().Str("serial", serial).Bool("revoked", rec != nil).Msg("answered OCSP request")
	return response, nil
}

// responderID prefers byKey using the signing certificate's subject key
// identifier and falls back to byName.
func (r *Responder) responderID() (asn1.RawValue, error) {
	keyHash := r.cert.SubjectKeyId
	if len(keyHash) == 0 {
		var err error
		keyHash, err = x509util.SubjectKeyIDFromSPKI(r.cert.RawSubjectPublicKeyInfo)
		if err != nil {
			return responderIDByName(r.cert.RawSubject), nil
		}
	}
	return responderIDByKey(keyHash)
}
