package activation

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"

	apperrors "arcacli/internal/errors"
)

// Code wire format, version 1:
//
//	ARCA-VBBR-RRRR-CCCC
//
// where V is the format version character, BB the bundle identifier,
// RRRRR five random characters, and CCCC the checksum: the first four
// characters of the charset-encoded HMAC-SHA256 over
// "arca-activation|v1|<bundle>|<random>" under the signing key. Codes can
// be validated fully offline but cannot be forged without the key.
const (
	CodePrefix      = "ARCA-"
	codeVersionChar = '1'
	bodyLength      = 12 // version + bundle(2) + random(5) + checksum(4)
	randomLength    = 5
	checksumLength  = 4
)

// codeCharset excludes characters easily misread when typed by hand
// (0/O, 1/I/L).
const codeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const checksumContext = "arca-activation|v1"

// Codec generates and validates activation codes under a signing key.
type Codec struct {
	signingKey []byte
}

// NewCodec creates a code codec for the given signing key.
func NewCodec(signingKey []byte) (*Codec, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(signingKey))
	}
	return &Codec{signingKey: signingKey}, nil
}

// Generate produces a new activation code for the bundle, formatted for
// manual entry (ARCA-XXXX-XXXX-XXXX).
func (c *Codec) Generate(bundle Bundle) (string, error) {
	wire, err := bundle.wireCode()
	if err != nil {
		return "", err
	}

	random, err := randomChars(randomLength)
	if err != nil {
		return "", fmt.Errorf("generating code randomness: %w", err)
	}

	body := string(codeVersionChar) + wire + random + c.checksum(wire, random)
	return CodePrefix + body[0:4] + "-" + body[4:8] + "-" + body[8:12], nil
}

// Parse normalizes and validates a code, returning its bundle. All
// failures are ErrInvalidCode; the caller learns nothing about which part
// failed.
func (c *Codec) Parse(code string) (Bundle, error) {
	body, err := normalizeCode(code)
	if err != nil {
		return "", err
	}

	if body[0] != codeVersionChar {
		return "", fmt.Errorf("%w: unsupported version", apperrors.ErrInvalidCode)
	}
	wire := body[1:3]
	random := body[3 : 3+randomLength]
	checksum := body[3+randomLength:]

	bundle, ok := bundleFromWireCode(wire)
	if !ok {
		return "", fmt.Errorf("%w: unknown bundle identifier", apperrors.ErrInvalidCode)
	}

	expected := c.checksum(wire, random)
	if !hmac.Equal([]byte(checksum), []byte(expected)) {
		return "", fmt.Errorf("%w: checksum mismatch", apperrors.ErrInvalidCode)
	}
	return bundle, nil
}

// Fingerprint returns the SHA-256 hex hash of the normalized code. The
// ledger stores only this hash, never the raw code.
func Fingerprint(code string) (string, error) {
	body, err := normalizeCode(code)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(CodePrefix + body))
	return fmt.Sprintf("%x", sum), nil
}

// checksum derives the four checksum characters for the given bundle wire
// code and random segment.
func (c *Codec) checksum(wire, random string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	fmt.Fprintf(mac, "%s|%s|%s", checksumContext, wire, random)
	digest := mac.Sum(nil)

	out := make([]byte, checksumLength)
	for i := 0; i < checksumLength; i++ {
		out[i] = codeCharset[int(digest[i])%len(codeCharset)]
	}
	return string(out)
}

// normalizeCode strips separators, uppercases, and validates shape,
// returning the 12-character body.
func normalizeCode(code string) (string, error) {
	clean := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(code)))
	if !strings.HasPrefix(clean, "ARCA") {
		return "", fmt.Errorf("%w: missing ARCA prefix", apperrors.ErrInvalidCode)
	}
	body := clean[4:]
	if len(body) != bodyLength {
		return "", fmt.Errorf("%w: expected %d characters after prefix, got %d", apperrors.ErrInvalidCode, bodyLength, len(body))
	}
	// The version position carries its own alphabet; only the rest of
	// the body is drawn from the entry charset.
	for _, ch := range body[1:] {
		if !strings.ContainsRune(codeCharset, ch) {
			return "", fmt.Errorf("%w: invalid character", apperrors.ErrInvalidCode)
		}
	}
	return body, nil
}

// randomChars returns n characters drawn uniformly from the charset,
// using rejection sampling to avoid modulo bias.
func randomChars(n int) (string, error) {
	limit := byte(256 - (256 % len(codeCharset)))
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if buf[0] >= limit {
			continue
		}
		out = append(out, codeCharset[int(buf[0])%len(codeCharset)])
	}
	return string(out), nil
}
