package httpsig

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Verdict is the tri-state outcome of verifying an inbound request's
// Signature header.
type Verdict int

const (
	// CannotVerify means the signature was missing or not evaluable; the
	// caller's policy decides whether to still accept the body.
	CannotVerify Verdict = iota
	// VerifyFailed means a signature was present but cryptographically
	// incorrect, or the signed body's digest did not match; reject.
	VerifyFailed
	// Verified means the signature checked out against the actor's key.
	Verified
)

// BodyLimit bounds how many bytes of a request/response body this package
// will ever read into memory.
const BodyLimit = 64 * 1024

// ActorKeyFetcher resolves an actor URL (the keyId with any #fragment
// stripped) to its current RSA public key.
type ActorKeyFetcher func(ctx context.Context, actorURL string) (*rsa.PublicKey, error)

// Body wraps an inbound request body, hashing it incrementally as it is
// read so a SHA-256 digest can be validated without buffering the body.
type Body struct {
	inner           io.ReadCloser
	expectedDigest  string
	haveExpectedDig bool
}

// CollectToBytes drains the body, returning its bytes and whether the
// streamed digest (if one was required) matched. digestOK is always true
// when no digest header was among the signed headers.
func (b *Body) CollectToBytes() ([]byte, bool, error) {
	defer b.inner.Close()
	h := sha256.New()
	data, err := io.ReadAll(io.LimitReader(io.TeeReader(b.inner, h), BodyLimit+1))
	if err != nil {
		return nil, false, fmt.Errorf("httpsig: read body: %w", err)
	}
	if int64(len(data)) > BodyLimit {
		return nil, false, fmt.Errorf("httpsig: body exceeds %d byte limit", BodyLimit)
	}
	if !b.haveExpectedDig {
		return data, true, nil
	}
	got := "SHA-256=" + base64.StdEncoding.EncodeToString(h.Sum(nil))
	return data, got == b.expectedDigest, nil
}

// Verify parses the Signature header, reconstructs the covered string in
// the exact order the header list gives, fetches the actor's public key,
// and checks the RSA signature. It never buffers the request body itself;
// callers that get back Verified receive a Body wrapper to stream-collect.
func Verify(ctx context.Context, req *http.Request, fetch ActorKeyFetcher) (Verdict, *Body, error) {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		return CannotVerify, nil, nil
	}

	fields := parseSignatureHeader(sigHeader)
	keyID, hasKeyID := fields["keyId"]
	algorithm, hasAlgorithm := fields["algorithm"]
	headerList, hasHeaders := fields["headers"]
	signature, hasSignature := fields["signature"]
	if !hasKeyID || !hasAlgorithm || !hasHeaders || !hasSignature {
		return CannotVerify, nil, nil
	}
	if algorithm != "rsa-sha256" {
		return CannotVerify, nil, nil
	}

	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}

	var lines []string
	var digestHeaderValue string
	var haveDigestHeader bool
	for _, name := range strings.Fields(headerList) {
		if strings.EqualFold(name, "(request-target)") {
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(req.Method), pathAndQuery))
			continue
		}
		var value string
		if strings.EqualFold(name, "host") {
			// net/http promotes an incoming request's Host header to
			// Request.Host and strips it from Header, so it must be read
			// back from there rather than from req.Header (mirrors Sign's
			// own handling of the same field).
			value = req.Host
			if value == "" {
				value = req.URL.Host
			}
		} else {
			value = req.Header.Get(name)
		}
		if value == "" {
			return CannotVerify, nil, nil
		}
		if strings.EqualFold(name, "digest") {
			digestHeaderValue = value
			haveDigestHeader = true
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToLower(name), value))
	}
	signTarget := strings.Join(lines, "\n")

	actorURL, _, _ := strings.Cut(keyID, "#")
	pubKey, err := fetch(ctx, actorURL)
	if err != nil {
		return CannotVerify, nil, nil
	}
	if pubKey == nil {
		return CannotVerify, nil, nil
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return CannotVerify, nil, nil
	}

	hashed := sha256.Sum256([]byte(signTarget))
	if err := rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, hashed[:], sigBytes); err != nil {
		return VerifyFailed, nil, nil
	}

	body := &Body{inner: req.Body}
	if haveDigestHeader {
		body.haveExpectedDig = true
		body.expectedDigest = digestHeaderValue
	}
	return Verified, body, nil
}

// parseSignatureHeader splits a Signature header value into its key="value"
// fields. Malformed entries are silently skipped; missing fields are
// detected by the caller checking for their presence in the result.
func parseSignatureHeader(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}
