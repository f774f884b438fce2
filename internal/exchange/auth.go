package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"kalshi-arb/internal/config"
)

// Auth signs REST requests with the account's RSA private key. Every
// authenticated call carries three headers: the API key id, a millisecond
// timestamp, and an RSA-PSS SHA-256 signature over timestamp+method+path.
type Auth struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewAuth loads the private key from the configured PEM, preferring the
// inline env-provided key over the file path.
func NewAuth(cfg config.ExchangeConfig) (*Auth, error) {
	if cfg.APIKeyID == "" {
		return nil, fmt.Errorf("auth: api key id not set")
	}

	pemData := []byte(cfg.PrivateKeyPEM)
	if len(pemData) == 0 {
		if cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("auth: no private key configured")
		}
		data, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("auth: read private key: %w", err)
		}
		pemData = data
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return &Auth{keyID: cfg.APIKeyID, key: key}, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	// Keys come in both PKCS#1 and PKCS#8 envelopes depending on how they
	// were exported.
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}

// Headers returns the signed auth headers for one request. The signature
// covers only the path portion of the URL, never the query string.
func (a *Auth) Headers(method, path string, now time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	msg := ts + method + path

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, a.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.keyID,
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
		"KALSHI-ACCESS-TIMESTAMP": ts,
	}, nil
}

// Verify checks a signature produced by Headers against the public key.
// Used only in tests; the exchange does the real verification.
func (a *Auth) Verify(method, path, ts, sigB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256([]byte(ts + method + path))
	return rsa.VerifyPSS(&a.key.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
}
