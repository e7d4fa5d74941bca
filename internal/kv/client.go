package kv

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// DefaultAPIVersion is the custody-service REST API version sent with every
// request.
const DefaultAPIVersion = "7.4"

// TokenSource supplies bearer tokens for custody-service requests. Callers
// plug in their credential flow; tests plug in a static token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// Client talks to one custody-service namespace over REST. It retries
// throttled (429) and briefly unavailable (503) responses with exponential
// backoff, honoring Retry-After; all other failures surface immediately.
type Client struct {
	vaultURL   string
	http       *http.Client
	tokens     TokenSource
	apiVersion string
	maxTries   uint
	log        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithAPIVersion overrides the REST API version.
func WithAPIVersion(v string) ClientOption {
	return func(c *Client) { c.apiVersion = v }
}

// WithMaxTries caps the number of attempts per request, retries included.
func WithMaxTries(n uint) ClientOption {
	return func(c *Client) { c.maxTries = n }
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient returns a Client for the custody namespace at vaultURL.
func NewClient(vaultURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		vaultURL:   vaultURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
		apiVersion: DefaultAPIVersion,
		maxTries:   4,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire shapes for the custody-service JSON API.

type certificateOperationJSON struct {
	ID        string         `json:"id,omitempty"`
	Issuer    *issuerJSON    `json:"issuer,omitempty"`
	CSR       string         `json:"csr,omitempty"`
	Status    string         `json:"status,omitempty"`
	Error     *errorBodyJSON `json:"error,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type issuerJSON struct {
	Name string `json:"name"`
}

type certificatePolicyJSON struct {
	Issuer  issuerJSON      `json:"issuer"`
	KeyProp keyPropsJSON    `json:"key_props"`
	X509    x509PropsJSON   `json:"x509_props"`
	Attrs   *attributesJSON `json:"attributes,omitempty"`
}

type keyPropsJSON struct {
	KeyType  string `json:"kty"`
	KeySize  int    `json:"key_size,omitempty"`
	Curve    string `json:"crv,omitempty"`
	ReuseKey bool   `json:"reuse_key"`
}

type x509PropsJSON struct {
	Subject string    `json:"subject"`
	SANs    *sansJSON `json:"sans,omitempty"`
}

type sansJSON struct {
	DNSNames []string `json:"dns_names,omitempty"`
}

type attributesJSON struct {
	Enabled *bool `json:"enabled,omitempty"`
}

type certificateBundleJSON struct {
	ID    string          `json:"id,omitempty"`
	KID   string          `json:"kid,omitempty"`
	CER   string          `json:"cer,omitempty"`
	Attrs *attributesJSON `json:"attributes,omitempty"`
}

type certificateListJSON struct {
	Value    []certificateBundleJSON `json:"value"`
	NextLink string                  `json:"nextLink,omitempty"`
}

type mergeRequestJSON struct {
	X5C []string `json:"x5c"`
}

type signRequestJSON struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

type signResultJSON struct {
	KID   string `json:"kid,omitempty"`
	Value string `json:"value"`
}

type errorBodyJSON struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type errorEnvelopeJSON struct {
	Error errorBodyJSON `json:"error"`
}

// keyProps maps a KeyType to the wire key properties.
func keyProps(kt KeyType, reuse bool) (keyPropsJSON, error) {
	switch kt {
	case KeyTypeRSA2048:
		return keyPropsJSON{KeyType: "RSA", KeySize: 2048, ReuseKey: reuse}, nil
	case KeyTypeRSA3072:
		return keyPropsJSON{KeyType: "RSA", KeySize: 3072, ReuseKey: reuse}, nil
	case KeyTypeRSA4096:
		return keyPropsJSON{KeyType: "RSA", KeySize: 4096, ReuseKey: reuse}, nil
	case KeyTypeECP256:
		return keyPropsJSON{KeyType: "EC", Curve: "P-256", ReuseKey: reuse}, nil
	case KeyTypeECP384:
		return keyPropsJSON{KeyType: "EC", Curve: "P-384", ReuseKey: reuse}, nil
	default:
		return keyPropsJSON{}, fmt.Errorf("unsupported key type %q", kt)
	}
}

// StartOperation implements CertificateClient.
func (c *Client) StartOperation(ctx context.Context, name string, policy CertificatePolicy) (*PendingOperation, error) {
	kp, err := keyProps(policy.KeyType, policy.ReuseKey)
	if err != nil {
		return nil, &RemoteError{Op: "create certificate", Err: err}
	}
	body := struct {
		Policy certificatePolicyJSON `json:"policy"`
	}{
		Policy: certificatePolicyJSON{
			Issuer:  issuerJSON{Name: policy.IssuerName},
			KeyProp: kp,
			X509:    x509PropsJSON{Subject: policy.Subject},
		},
	}
	if len(policy.SubjectAltNames) > 0 {
		body.Policy.X509.SANs = &sansJSON{DNSNames: policy.SubjectAltNames}
	}
	var op certificateOperationJSON
	err = c.doJSON(ctx, http.MethodPost, c.certPath(name, "create"), body, &op)
	if err != nil {
		return nil, &RemoteError{Op: "create certificate", Status: statusOf(err), Err: err}
	}
	return decodeOperation(name, &op)
}

// GetOperation implements CertificateClient.
func (c *Client) GetOperation(ctx context.Context, name string) (*PendingOperation, error) {
	var op certificateOperationJSON
	err := c.doJSON(ctx, http.MethodGet, c.certPath(name, "pending"), nil, &op)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("pending operation for %q: %w", name, ErrNotFound)
		}
		return nil, &RemoteError{Op: "get pending operation", Status: statusOf(err), Err: err}
	}
	return decodeOperation(name, &op)
}

// CancelOperation implements CertificateClient.
func (c *Client) CancelOperation(ctx context.Context, name string) error {
	var op certificateOperationJSON
	if err := c.doJSON(ctx, http.MethodDelete, c.certPath(name, "pending"), nil, &op); err != nil {
		return &RemoteError{Op: "cancel pending operation", Status: statusOf(err), Err: err}
	}
	return nil
}

// MergeCertificate implements CertificateClient.
func (c *Client) MergeCertificate(ctx context.Context, name string, signedDER []byte) (*Certificate, error) {
	body := mergeRequestJSON{X5C: []string{base64.StdEncoding.EncodeToString(signedDER)}}
	var bundle certificateBundleJSON
	if err := c.doJSON(ctx, http.MethodPost, c.certPath(name, "pending/merge"), body, &bundle); err != nil {
		return nil, &RemoteError{Op: "merge certificate", Status: statusOf(err), Err: err}
	}
	return decodeBundle(name, &bundle)
}

// GetCertificate implements CertificateClient.
func (c *Client) GetCertificate(ctx context.Context, name string) (*Certificate, error) {
	var bundle certificateBundleJSON
	err := c.doJSON(ctx, http.MethodGet, c.certPath(name, ""), nil, &bundle)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("certificate %q: %w", name, ErrNotFound)
		}
		return nil, &RemoteError{Op: "get certificate", Status: statusOf(err), Err: err}
	}
	return decodeBundle(name, &bundle)
}

// GetVersionCount implements CertificateClient.
func (c *Client) GetVersionCount(ctx context.Context, name string) (int, error) {
	var list certificateListJSON
	err := c.doJSON(ctx, http.MethodGet, c.certPath(name, "versions"), nil, &list)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return 0, nil
		}
		return 0, &RemoteError{Op: "list certificate versions", Status: statusOf(err), Err: err}
	}
	return len(list.Value), nil
}

// DisableCertificate implements CertificateClient.
func (c *Client) DisableCertificate(ctx context.Context, name, version string) error {
	enabled := false
	body := struct {
		Attrs attributesJSON `json:"attributes"`
	}{Attrs: attributesJSON{Enabled: &enabled}}
	var bundle certificateBundleJSON
	if err := c.doJSON(ctx, http.MethodPatch, c.certPath(name, version), body, &bundle); err != nil {
		return &RemoteError{Op: "disable certificate", Status: statusOf(err), Err: err}
	}
	return nil
}

// Sign implements SignClient. keyID is the absolute key URL handed out in
// the certificate bundle; digest is the locally computed hash.
func (c *Client) Sign(ctx context.Context, keyID string, digest []byte, alg SignatureAlgorithm) ([]byte, error) {
	body := signRequestJSON{
		Alg:   string(alg),
		Value: base64.RawURLEncoding.EncodeToString(digest),
	}
	var result signResultJSON
	if err := c.doJSON(ctx, http.MethodPost, keyID+"/sign?api-version="+c.apiVersion, body, &result); err != nil {
		return nil, &RemoteError{Op: "sign", Status: statusOf(err), Err: err}
	}
	sig, err := base64.RawURLEncoding.DecodeString(result.Value)
	if err != nil {
		return nil, &RemoteError{Op: "sign", Err: fmt.Errorf("failed to decode signature value: %w", err)}
	}
	return sig, nil
}

func (c *Client) certPath(name, sub string) string {
	u := c.vaultURL + "/certificates/" + name
	if sub != "" {
		u += "/" + sub
	}
	return u + "?api-version=" + c.apiVersion
}

// httpStatusError carries the HTTP status of a failed request through the
// retry loop.
type httpStatusError struct {
	status int
	body   errorBodyJSON
}

func (e *httpStatusError) Error() string {
	if e.body.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.status, e.body.Message)
	}
	return fmt.Sprintf("HTTP %d", e.status)
}

// statusOf extracts the HTTP status from a request error, or 0.
func statusOf(err error) int {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// doJSON performs one JSON request with retries. Throttling (429) and
// transient unavailability (503) are retried with exponential backoff,
// honoring a Retry-After header when the service sends one; every other
// status is permanent.
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var reqBody []byte
	if in != nil {
		var err error
		reqBody, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to obtain token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			// Network-level failures are retried.
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		statusErr := &httpStatusError{status: resp.StatusCode}
		var envelope errorEnvelopeJSON
		if json.Unmarshal(body, &envelope) == nil {
			statusErr.body = envelope.Error
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			c.log.Debug().
				Str("method", method).
				Str("url", url).
				Int("status", resp.StatusCode).
				Msg("custody request throttled, retrying")
			if d := retryAfter(resp.Header.Get("Retry-After")); d > 0 {
				return nil, backoff.RetryAfter(int(d / time.Second))
			}
			return nil, statusErr
		default:
			return nil, backoff.Permanent(statusErr)
		}
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func decodeOperation(name string, op *certificateOperationJSON) (*PendingOperation, error) {
	out := &PendingOperation{
		ID:     op.ID,
		Name:   name,
		Status: OperationStatus(op.Status),
	}
	if op.Issuer != nil {
		out.IssuerName = op.Issuer.Name
	}
	if op.CSR != "" {
		csr, err := base64.StdEncoding.DecodeString(op.CSR)
		if err != nil {
			return nil, fmt.Errorf("failed to decode operation CSR: %w", err)
		}
		out.CSR = csr
	}
	return out, nil
}

func decodeBundle(name string, bundle *certificateBundleJSON) (*Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(bundle.CER)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate DER: %w", err)
	}
	cert := &Certificate{
		Name:    name,
		Version: versionFromID(bundle.ID),
		DER:     der,
		KeyID:   bundle.KID,
		Enabled: true,
	}
	if bundle.Attrs != nil && bundle.Attrs.Enabled != nil {
		cert.Enabled = *bundle.Attrs.Enabled
	}
	return cert, nil
}

// versionFromID extracts the trailing version segment of a certificate ID
// URL, e.g. .../certificates/issuing/4f2a... -> 4f2a...
func versionFromID(id string) string {
	if id == "" {
		return ""
	}
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '/' {
			return id[i+1:]
		}
	}
	return id
}
