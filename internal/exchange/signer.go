package exchange

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Signer produces the three auth headers the exchange expects on every
// request: access key, signature, and timestamp. Implementations cover the
// exchange's two supported auth schemes so either credential shape can be
// configured without touching the HTTP client.
type Signer interface {
	// Sign computes auth headers for a method+path and sets them on req.
	// A nil Signer (via NoopSigner) is valid and signs nothing, for talking
	// to a sandbox that doesn't require auth.
	Sign(req *http.Request) error

	// Headers returns the same three headers for use outside of an
	// *http.Request, e.g. a WebSocket dial.
	Headers(method, path string) http.Header

	// Enabled reports whether real credentials are loaded.
	Enabled() bool
}

// RSASigner signs with RSA-PSS/SHA-256 over timestamp+method+path, the
// scheme used when the exchange issues an RSA keypair per API key.
type RSASigner struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// NewRSASignerFromFile loads a PEM-encoded RSA private key (PKCS#8 or
// PKCS#1). Returns (nil, nil) when keyID or keyFilePath is empty so callers
// can run unauthenticated against a sandbox.
func NewRSASignerFromFile(keyID, keyFilePath string) (*RSASigner, error) {
	if keyID == "" || keyFilePath == "" {
		return nil, nil
	}

	pemData, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", keyFilePath, err)
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", keyFilePath)
	}

	var rsaKey *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		var ok bool
		rsaKey, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key in %s is not RSA (got %T)", keyFilePath, parsed)
		}
	} else if pk1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		rsaKey = pk1
	} else {
		return nil, fmt.Errorf("parse private key in %s: not PKCS#8 or PKCS#1", keyFilePath)
	}

	return &RSASigner{keyID: keyID, privateKey: rsaKey}, nil
}

func (s *RSASigner) Sign(req *http.Request) error {
	if s == nil {
		return nil
	}
	ts, sig, err := s.sign(req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	req.Header.Set("ACCESS-KEY", s.keyID)
	req.Header.Set("ACCESS-SIGNATURE", sig)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	return nil
}

func (s *RSASigner) Headers(method, path string) http.Header {
	if s == nil {
		return nil
	}
	ts, sig, err := s.sign(method, path)
	if err != nil {
		return nil
	}
	h := http.Header{}
	h.Set("ACCESS-KEY", s.keyID)
	h.Set("ACCESS-SIGNATURE", sig)
	h.Set("ACCESS-TIMESTAMP", ts)
	return h
}

func (s *RSASigner) Enabled() bool { return s != nil && s.keyID != "" }

func (s *RSASigner) sign(method, path string) (timestamp, signature string, err error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path
	hash := sha256.Sum256([]byte(message))

	sig, err := rsa.SignPSS(rand.Reader, s.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", "", fmt.Errorf("rsa sign pss: %w", err)
	}
	return ts, base64.StdEncoding.EncodeToString(sig), nil
}

// HMACSigner signs with HMAC-SHA256 over timestamp+method+path, the scheme
// used by exchanges that issue a shared API key/secret pair rather than an
// RSA keypair.
type HMACSigner struct {
	apiKey string
	secret string
}

func NewHMACSigner(apiKey, secret string) *HMACSigner {
	return &HMACSigner{apiKey: apiKey, secret: secret}
}

func (s *HMACSigner) Enabled() bool { return s != nil && s.apiKey != "" && s.secret != "" }

func (s *HMACSigner) Sign(req *http.Request) error {
	if !s.Enabled() {
		return nil
	}
	ts, sig := s.sign(req.Method, req.URL.Path)
	req.Header.Set("ACCESS-KEY", s.apiKey)
	req.Header.Set("ACCESS-SIGNATURE", sig)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	return nil
}

func (s *HMACSigner) Headers(method, path string) http.Header {
	if !s.Enabled() {
		return nil
	}
	ts, sig := s.sign(method, path)
	h := http.Header{}
	h.Set("ACCESS-KEY", s.apiKey)
	h.Set("ACCESS-SIGNATURE", sig)
	h.Set("ACCESS-TIMESTAMP", ts)
	return h
}

func (s *HMACSigner) sign(method, path string) (timestamp, signature string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(message))
	return ts, hex.EncodeToString(mac.Sum(nil))
}

// NoopSigner signs nothing; used for sandbox/unauthenticated testing.
type NoopSigner struct{}

func (NoopSigner) Sign(*http.Request) error                { return nil }
func (NoopSigner) Headers(method, path string) http.Header { return nil }
func (NoopSigner) Enabled() bool                           { return false }
