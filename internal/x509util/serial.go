package x509util

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// SerialBytes is the length of generated certificate serial numbers.
// 20 bytes is the maximum size RFC 5280 §4.1.2.2 allows.
const SerialBytes = 20

// NewSerialNumber generates a fresh random certificate serial number.
// The top bit of the first byte is cleared so the DER INTEGER encoding
// stays non-negative and within 20 octets.
func NewSerialNumber() (*big.Int, error) {
	buf := make([]byte, SerialBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read serial randomness: %w", err)
	}
	buf[0] &= 0x7F
	return new(big.Int).SetBytes(buf), nil
}

// SerialHex returns the canonical hex form of a serial number: uppercase,
// no prefix, padded to an even number of digits. This is the key format
// used by the revocation store and the OCSP/CRL lookups.
func SerialHex(serial *big.Int) string {
	s := strings.ToUpper(serial.Text(16))
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return s
}
