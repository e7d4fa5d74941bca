// Package api exposes the OCSP responder and CRL generator over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// NewRouter wires the protocol endpoints behind logging and panic
// recovery. Either handler may be nil; its routes are then omitted.
func NewRouter(ocspHandler *OCSPHandler, crlHandler *CRLHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))

	r.Get("/health", health)

	if ocspHandler != nil {
		// RFC 6960 Appendix A.1: POST with a DER body, or GET with the
		// base64-encoded request in the path.
		r.Post("/ocsp", ocspHandler.Post)
		r.Get("/ocsp/*", ocspHandler.Get)
	}
	if crlHandler != nil {
		r.Get("/crl", crlHandler.Get)
	}

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
