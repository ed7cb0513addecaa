// Package httpsig implements the HTTP Signatures sign/verify pipeline:
// attaching Host/Date/Digest/Signature headers to outbound requests, and
// verifying them on inbound requests against a fetched actor public key.
package httpsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

const coveredHeaders = "(request-target) date host digest"

// Sign attaches Host (if absent), Date (if absent), Digest, and Signature
// headers to req, covering exactly (request-target) date host digest, in
// that order. It never touches any other header.
func Sign(req *http.Request, body []byte, keyID string, key *rsa.PrivateKey, now time.Time) error {
	if req.Header.Get("Host") == "" && req.Host == "" {
		req.Host = req.URL.Host
	}
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	date := req.Header.Get("Date")
	if date == "" {
		date = now.UTC().Format(dateFormat)
		req.Header.Set("Date", date)
	}

	sum := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	req.Header.Set("Digest", digest)

	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	signTarget := strings.Join([]string{
		fmt.Sprintf("(request-target): %s %s", strings.ToLower(req.Method), pathAndQuery),
		"date: " + date,
		"host: " + host,
		"digest: " + digest,
	}, "\n")

	hashed := sha256.Sum256([]byte(signTarget))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("httpsig: sign: %w", err)
	}

	req.Header.Set("Signature", fmt.Sprintf(
		`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`,
		keyID, coveredHeaders, base64.StdEncoding.EncodeToString(sig),
	))
	return nil
}
