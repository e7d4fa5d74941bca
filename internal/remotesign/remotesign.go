// Package remotesign adapts the custody service's signing oracle into the
// signer the certificate, OCSP, and CRL builders need. The private key
// never leaves the custody service: callers hash locally and the oracle
// signs the digest. ECDSA signatures arrive as the raw r||s concatenation
// and are re-encoded as the DER SEQUENCE X.509 structures carry.
package remotesign

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/alanta/keyvault-ca-sub000/internal/kv"
	"github.com/alanta/keyvault-ca-sub000/internal/x509util"
)

// ErrUnsupportedKey is returned when a certificate's public key algorithm
// has no remote signing mode (Diffie-Hellman keys in particular cannot
// sign).
var ErrUnsupportedKey = errors.New("public key algorithm does not support signing")

// ErrUnsupportedHash is returned for digest algorithms outside SHA-256,
// SHA-384, and SHA-512.
var ErrUnsupportedHash = errors.New("unsupported digest algorithm")

type keyKind int

const (
	kindRSA keyKind = iota
	kindECDSA
)

// Key is a remote signing key: the public half parsed from a certificate's
// SubjectPublicKeyInfo, plus the oracle handle for the private half.
type Key struct {
	client kv.SignClient
	keyID  string
	pub    crypto.PublicKey
	kind   keyKind
}

// NewKey builds a Key from the oracle handle and the DER
// SubjectPublicKeyInfo of the matching certificate. The public key
// algorithm decides the signing mode: RSA keys sign PKCS#1 v1.5, EC keys
// sign ECDSA. Keys that cannot sign (both Diffie-Hellman variants) return
// ErrUnsupportedKey.
func NewKey(client kv.SignClient, keyID string, spkiDER []byte) (*Key, error) {
	alg, _, err := x509util.ParseSPKI(spkiDER)
	if err != nil {
		return nil, err
	}

	var kind keyKind
	switch {
	case x509util.OIDEqual(alg.Algorithm, x509util.OIDPublicKeyRSA):
		kind = kindRSA
	case x509util.OIDEqual(alg.Algorithm, x509util.OIDPublicKeyECDSA):
		kind = kindECDSA
	case x509util.OIDEqual(alg.Algorithm, x509util.OIDPublicKeyDHPKCS3),
		x509util.OIDEqual(alg.Algorithm, x509util.OIDPublicKeyDHX942):
		return nil, fmt.Errorf("key %s: %w", alg.Algorithm, ErrUnsupportedKey)
	default:
		return nil, fmt.Errorf("key %s: %w", alg.Algorithm, ErrUnsupportedKey)
	}

	pub, err := x509.ParsePKIXPublicKey(spkiDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return &Key{client: client, keyID: keyID, pub: pub, kind: kind}, nil
}

// NewKeyFromCertificate builds a Key for the key behind a stored
// certificate.
func NewKeyFromCertificate(client kv.SignClient, cert *kv.Certificate) (*Key, error) {
	parsed, err := x509.ParseCertificate(cert.DER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate %q: %w", cert.Name, err)
	}
	return NewKey(client, cert.KeyID, parsed.RawSubjectPublicKeyInfo)
}

// Public returns the public key.
func (k *Key) Public() crypto.PublicKey { return k.pub }

// algorithm maps the key kind and digest to the oracle's algorithm name.
func (k *Key) algorithm(hash crypto.Hash) (kv.SignatureAlgorithm, error) {
	switch k.kind {
	case kindRSA:
		switch hash {
		case crypto.SHA256:
			return kv.SignatureRS256, nil
		case crypto.SHA384:
			return kv.SignatureRS384, nil
		case crypto.SHA512:
			return kv.SignatureRS512, nil
		}
	case kindECDSA:
		switch hash {
		case crypto.SHA256:
			return kv.SignatureES256, nil
		case crypto.SHA384:
			return kv.SignatureES384, nil
		case crypto.SHA512:
			return kv.SignatureES512, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedHash, hash)
}

// X509SignatureAlgorithm returns the x509 signature algorithm a certificate
// signed by this key with the given digest carries.
func (k *Key) X509SignatureAlgorithm(hash crypto.Hash) (x509.SignatureAlgorithm, error) {
	switch k.kind {
	case kindRSA:
		switch hash {
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
	case kindECDSA:
		switch hash {
		case crypto.SHA256:
			return x509.ECDSAWithSHA256, nil
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA512:
			return x509.ECDSAWithSHA512, nil
		}
	}
	return x509.UnknownSignatureAlgorithm, fmt.Errorf("%w: %s", ErrUnsupportedHash, hash)
}

// SignatureAlgorithmIdentifier returns the AlgorithmIdentifier for
// hand-built signed structures (OCSP responses, CRLs). RSA identifiers
// carry explicit NULL parameters per RFC 3279; ECDSA identifiers omit
// parameters per RFC 5758.
func (k *Key) SignatureAlgorithmIdentifier(hash crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	var oid asn1.ObjectIdentifier
	switch k.kind {
	case kindRSA:
		switch hash {
		case crypto.SHA256:
			oid = x509util.OIDSignatureRSAWithSHA256
		case crypto.SHA384:
			oid = x509util.OIDSignatureRSAWithSHA384
		case crypto.SHA512:
			oid = x509util.OIDSignatureRSAWithSHA512
		}
	case kindECDSA:
		switch hash {
		case crypto.SHA256:
			oid = x509util.OIDSignatureECDSAWithSHA256
		case crypto.SHA384:
			oid = x509util.OIDSignatureECDSAWithSHA384
		case crypto.SHA512:
			oid = x509util.OIDSignatureECDSAWithSHA512
		}
	}
	if oid == nil {
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("%w: %s", ErrUnsupportedHash, hash)
	}
	id := pkix.AlgorithmIdentifier{Algorithm: oid}
	if k.kind == kindRSA {
		id.Parameters = asn1.NullRawValue
	}
	return id, nil
}

// SignData hashes data with hash and signs the digest at the oracle. The
// returned signature is in X.509 form: PKCS#1 v1.5 for RSA keys, DER
// SEQUENCE of r and s for EC keys.
func (k *Key) SignData(ctx context.Context, data []byte, hash crypto.Hash) ([]byte, error) {
	if hash != crypto.SHA256 && hash != crypto.SHA384 && hash != crypto.SHA512 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, hash)
	}
	h := hash.New()
	h.Write(data)
	return k.SignDigest(ctx, h.Sum(nil), hash)
}

// SignDigest signs an already computed digest at the oracle.
func (k *Key) SignDigest(ctx context.Context, digest []byte, hash crypto.Hash) ([]byte, error) {
	alg, err := k.algorithm(hash)
	if err != nil {
		return nil, err
	}
	sig, err := k.client.Sign(ctx, k.keyID, digest, alg)
	if err != nil {
		return nil, fmt.Errorf("remote sign failed: %w", err)
	}
	if k.kind == kindECDSA {
		return rawToDERSignature(sig, k.pub)
	}
	return sig, nil
}

// ecdsaSignature is the DER form of an ECDSA signature (RFC 3279 §2.2.3).
type ecdsaSignature struct {
	R, S *big.Int
}

// rawToDERSignature converts the oracle's raw r||s ECDSA signature into the
// DER SEQUENCE encoding.
func rawToDERSignature(raw []byte, pub crypto.PublicKey) ([]byte, error) {
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("raw signature for non-EC key %T", pub)
	}
	size := (ec.Curve.Params().BitSize + 7) / 8
	if len(raw) != 2*size {
		return nil, fmt.Errorf("raw ECDSA signature length %d, want %d", len(raw), 2*size)
	}
	sig := ecdsaSignature{
		R: new(big.Int).SetBytes(raw[:size]),
		S: new(big.Int).SetBytes(raw[size:]),
	}
	der, err := asn1.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ECDSA signature: %w", err)
	}
	return der, nil
}

// CryptoSigner adapts the key to the crypto.Signer interface for APIs that
// require it, x509.CreateCertificate in particular. The context is carried
// from construction because the interface offers no other way to pass it.
func (k *Key) CryptoSigner(ctx context.Context) crypto.Signer {
	return &contextSigner{ctx: ctx, key: k}
}

type contextSigner struct {
	ctx context.Context
	key *Key
}

// Public implements crypto.Signer.
func (s *contextSigner) Public() crypto.PublicKey { return s.key.pub }

// Sign implements crypto.Signer. digest is already hashed; rand is unused
// because signing happens at the oracle.
func (s *contextSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: signer options required", ErrUnsupportedHash)
	}
	return s.key.SignDigest(s.ctx, digest, opts.HashFunc())
}
