package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestU_Client_RetriesThrottling(t *testing.T) {
	var calls int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(certificateListJSON{
			Value: []certificateBundleJSON{{ID: srv.URL + "/certificates/issuing/v1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"))
	n, err := c.GetVersionCount(context.Background(), "issuing")
	if err != nil {
		t.Fatalf("GetVersionCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("GetVersionCount() = %d, want 1", n)
	}
	if calls != 3 {
		t.Errorf("server calls = %d, want 3", calls)
	}
}

func TestU_Client_PermanentFailureNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorEnvelopeJSON{Error: errorBodyJSON{Code: "BadParameter", Message: "no such issuer"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"))
	_, err := c.StartOperation(context.Background(), "issuing", CertificatePolicy{
		Subject:    "CN=Issuing CA",
		KeyType:    KeyTypeRSA2048,
		IssuerName: IssuerUnknown,
	})
	if err == nil {
		t.Fatal("StartOperation() error = nil, want failure")
	}
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("StartOperation() error = %T, want *RemoteError", err)
	}
	if re.Status != http.StatusBadRequest {
		t.Errorf("RemoteError.Status = %d, want %d", re.Status, http.StatusBadRequest)
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 400)", calls)
	}
}

func TestU_Client_GetCertificate_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"))
	if _, err := c.GetCertificate(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCertificate() error = %v, want ErrNotFound", err)
	}
	if _, err := c.GetOperation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOperation() error = %v, want ErrNotFound", err)
	}
}

func TestU_Client_GetVersionCount_MissingIsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"))
	n, err := c.GetVersionCount(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetVersionCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("GetVersionCount() = %d, want 0", n)
	}
}

func TestU_Client_Sign_RoundTrip(t *testing.T) {
	digest := []byte("0123456789abcdef0123456789abcdef")
	signature := []byte("signature-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var req signRequestJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode sign request: %v", err)
		}
		if req.Alg != string(SignatureRS256) {
			t.Errorf("alg = %q, want RS256", req.Alg)
		}
		got, err := base64.RawURLEncoding.DecodeString(req.Value)
		if err != nil || string(got) != string(digest) {
			t.Errorf("digest = %q (err %v), want %q", got, err, digest)
		}
		json.NewEncoder(w).Encode(signResultJSON{
			Value: base64.RawURLEncoding.EncodeToString(signature),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("secret"))
	sig, err := c.Sign(context.Background(), srv.URL+"/keys/issuing/v1", digest, SignatureRS256)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if string(sig) != string(signature) {
		t.Errorf("Sign() = %q, want %q", sig, signature)
	}
}

func TestU_Client_TokenSourceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server despite token failure")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, failingTokens{})
	if _, err := c.GetCertificate(context.Background(), "issuing"); err == nil {
		t.Error("GetCertificate() error = nil, want token failure")
	}
}

type failingTokens struct{}

func (failingTokens) Token(ctx context.Context) (string, error) {
	return "", errors.New("credential expired")
}

func TestU_Vaults_CachesClients(t *testing.T) {
	vaults := NewVaults(StaticToken("t"))
	a := vaults.Certificates("https://one.example")
	b := vaults.Certificates("https://one.example")
	if a != b {
		t.Error("Certificates() returned distinct clients for the same namespace")
	}
	other := vaults.Certificates("https://two.example")
	if a == other {
		t.Error("Certificates() shared a client across namespaces")
	}
}
