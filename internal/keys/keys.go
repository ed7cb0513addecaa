// Package keys loads the process's RSA signing key pair, adapted from the
// teacher's load-or-generate idiom but PKCS#8-coded per spec.md §6 and
// sourced from the PRIVATE_KEY_PEM env var's literal contents rather than a
// file path. A file-path load-or-generate helper (LoadOrGenerateDevKey) is
// also provided; the fedblog binary does not call it.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
)

// KeyPair holds the RSA key pair used for HTTP Signatures.
type KeyPair struct {
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	PublicPEM string
}

// LoadFromPEM parses a PKCS#8 RSA private key PEM (the PRIVATE_KEY_PEM
// contract value) and derives the matching public key.
func LoadFromPEM(privateKeyPEM string) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("keys: failed to decode PRIVATE_KEY_PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse PKCS8 private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: PRIVATE_KEY_PEM is not an RSA key")
	}
	return newKeyPair(priv)
}

// LoadOrGenerateDevKey loads a PKCS#8 PEM private key from path, generating
// and persisting a fresh one if the file does not exist. Nothing in this
// repository calls it: cmd/fedblog always goes through LoadFromPEM, and
// config.Load exits when PRIVATE_KEY_PEM is unset.
func LoadOrGenerateDevKey(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("keys: read %s: %w", path, err)
		}
		slog.Info("keys: no dev key found, generating one", "path", path)
		return generateAndSave(path)
	}
	return LoadFromPEM(string(data))
}

func generateAndSave(path string) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("keys: generate RSA key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal PKCS8 private key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("keys: write %s: %w", path, err)
	}
	return newKeyPair(priv)
}

func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return &KeyPair{
		Private:   priv,
		Public:    &priv.PublicKey,
		PublicPEM: string(pubPEM),
	}, nil
}
