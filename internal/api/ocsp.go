package api

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/alanta/keyvault-ca-sub000/internal/ocsp"
)

// Transport limits per RFC 6960 Appendix A.1.
const (
	maxOCSPPostBytes = 64 * 1024
	maxOCSPGetBytes  = 1024
)

const ocspResponseContentType = "application/ocsp-response"

// OCSPHandler serves RFC 6960 requests over HTTP.
type OCSPHandler struct {
	responder *ocsp.Responder
	log       zerolog.Logger
}

// NewOCSPHandler wraps a responder for HTTP transport.
func NewOCSPHandler(responder *ocsp.Responder, log zerolog.Logger) *OCSPHandler {
	return &OCSPHandler{responder: responder, log: log}
}

// Post handles POST requests carrying a DER request body.
func (h *OCSPHandler) Post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOCSPPostBytes))
	if err != nil {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	h.respond(w, r, body)
}

// Get handles GET requests with the base64-encoded request in the URL
// path, as sent by clients for small requests.
func (h *OCSPHandler) Get(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "*")
	if len(encoded) > maxOCSPGetBytes {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}
	unescaped, err := url.PathUnescape(encoded)
	if err == nil {
		var der []byte
		der, err = base64.StdEncoding.DecodeString(unescaped)
		if err == nil {
			h.respond(w, r, der)
			return
		}
	}
	// Undecodable is a malformed request, answered in-protocol.
	h.respond(w, r, nil)
}

func (h *OCSPHandler) respond(w http.ResponseWriter, r *http.Request, requestDER []byte) {
	response, err := h.responder.BuildResponse(r.Context(), requestDER)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build OCSP response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ocspResponseContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(response)
}
