package exchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"kalshi-arb/internal/config"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block))
}

func TestHeadersSignAndVerify(t *testing.T) {
	t.Parallel()

	a, err := NewAuth(config.ExchangeConfig{
		APIKeyID:      "key-id-1",
		PrivateKeyPEM: testKeyPEM(t),
	})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	now := time.Now()
	headers, err := a.Headers("POST", "/trade-api/v2/portfolio/orders", now)
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}

	if headers["KALSHI-ACCESS-KEY"] != "key-id-1" {
		t.Errorf("key header = %q", headers["KALSHI-ACCESS-KEY"])
	}
	if headers["KALSHI-ACCESS-TIMESTAMP"] == "" || headers["KALSHI-ACCESS-SIGNATURE"] == "" {
		t.Fatal("missing timestamp or signature header")
	}

	err = a.Verify("POST", "/trade-api/v2/portfolio/orders",
		headers["KALSHI-ACCESS-TIMESTAMP"], headers["KALSHI-ACCESS-SIGNATURE"])
	if err != nil {
		t.Errorf("signature did not verify: %v", err)
	}

	// A different path must not verify.
	err = a.Verify("POST", "/trade-api/v2/portfolio/positions",
		headers["KALSHI-ACCESS-TIMESTAMP"], headers["KALSHI-ACCESS-SIGNATURE"])
	if err == nil {
		t.Error("signature verified against the wrong path")
	}
}

func TestNewAuthPKCS8(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	if _, err := NewAuth(config.ExchangeConfig{APIKeyID: "k", PrivateKeyPEM: pemStr}); err != nil {
		t.Errorf("NewAuth rejected PKCS#8 key: %v", err)
	}
}

func TestNewAuthErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewAuth(config.ExchangeConfig{PrivateKeyPEM: testKeyPEM(t)}); err == nil {
		t.Error("expected error for missing api key id")
	}
	if _, err := NewAuth(config.ExchangeConfig{APIKeyID: "k"}); err == nil {
		t.Error("expected error when no key source configured")
	}
	if _, err := NewAuth(config.ExchangeConfig{APIKeyID: "k", PrivateKeyPEM: "not a pem"}); err == nil {
		t.Error("expected error for garbage PEM")
	}
}
