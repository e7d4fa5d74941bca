package api

import (
	"crypto"
	"crypto/x509"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alanta/keyvault-ca-sub000/internal/crl"
)

const crlContentType = "application/pkix-crl"

// CRLHandler serves a freshly signed CRL on every fetch. Responses are
// never cached: timestamps and signatures must be fresh.
type CRLHandler struct {
	generator *crl.Generator
	issuer    *x509.Certificate
	signer    crl.Signer
	issuerDN  string
	validity  time.Duration
	number    atomic.Int64
	log       zerolog.Logger
}

// NewCRLHandler builds a handler publishing lists for issuer.
func NewCRLHandler(generator *crl.Generator, issuer *x509.Certificate, signer crl.Signer, validity time.Duration, log zerolog.Logger) *CRLHandler {
	return &CRLHandler{
		generator: generator,
		issuer:    issuer,
		signer:    signer,
		issuerDN:  issuer.Subject.String(),
		validity:  validity,
		log:       log,
	}
}

// Get handles GET requests for the CRL.
func (h *CRLHandler) Get(w http.ResponseWriter, r *http.Request) {
	number := big.NewInt(h.number.Add(1))
	der, err := h.generator.GenerateCRL(r.Context(), h.issuer, h.signer, h.issuerDN, h.validity, crypto.SHA256, number)
	if err != nil {
		h.log.Error().Err(err).Str("issuer", h.issuerDN).Msg("failed to generate CRL")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", crlContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(der)
}
