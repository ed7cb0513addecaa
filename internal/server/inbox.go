package server

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klppl/fedblog/internal/activitystreams"
	"github.com/klppl/fedblog/internal/engine"
	"github.com/klppl/fedblog/internal/httpsig"
	"github.com/klppl/fedblog/internal/negotiate"
)

const apAcceptHeader = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// handleInbox is the inbox acceptor (§4.F): validate, verify, sniff, enqueue.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	ctx := r.Context()

	exists, err := s.store.ExistsUser(ctx, username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}

	if !negotiate.IsContentTypeAP(r.Header.Get("Content-Type")) {
		http.Error(w, "unsupported content type", http.StatusBadRequest)
		return
	}

	verdict, body, err := httpsig.Verify(ctx, r, s.fetchActorKey)
	if err != nil {
		slog.Warn("server: inbox verify error", "error", err)
		http.Error(w, "verification error", http.StatusBadRequest)
		return
	}
	if verdict == httpsig.VerifyFailed {
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	raw, digestOK, err := collectInboxBody(r, body)
	if err != nil {
		http.Error(w, "body error", http.StatusBadRequest)
		return
	}
	if verdict == httpsig.Verified && !digestOK {
		// Digest mismatch downgrades a cryptographically valid signature to
		// a rejection (§4.D step 6).
		http.Error(w, "digest mismatch", http.StatusBadRequest)
		return
	}

	sniff, ok := activitystreams.SniffActivity(raw)
	if !ok {
		http.Error(w, "malformed activity", http.StatusBadRequest)
		return
	}

	job := engine.Job{
		EventType:    engine.EventInbox,
		Username:     username,
		ActivityType: sniff.Type,
		ActivityID:   sniff.ID,
	}
	// A cryptographically verified body is always trusted directly. An
	// unverified (CannotVerify) body is trusted only when SignFetch is
	// disabled; otherwise the engine re-fetches the activity from its
	// origin before acting on it (§4.D's "depending on caller policy").
	if verdict == httpsig.Verified || !s.cfg.SignFetch {
		job.VerifiedBody = raw
	}
	if err := s.eng.Queue.Enqueue(ctx, job); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// collectInboxBody drains the request body, preferring the httpsig-wrapped
// streaming digest check when a signature was present.
func collectInboxBody(r *http.Request, body *httpsig.Body) ([]byte, bool, error) {
	if body != nil {
		return body.CollectToBytes()
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpsig.BodyLimit+1))
	if err != nil {
		return nil, false, fmt.Errorf("read inbox body: %w", err)
	}
	if len(data) > httpsig.BodyLimit {
		return nil, false, fmt.Errorf("inbox body exceeds %d byte limit", httpsig.BodyLimit)
	}
	return data, true, nil
}

// fetchActorKey is the httpsig.ActorKeyFetcher: GET the actor document
// through the engine's HTTP client and extract publicKey.publicKeyPem
// (§4.D step 4).
func (s *Server) fetchActorKey(ctx context.Context, actorURL string) (*rsa.PublicKey, error) {
	resp, err := s.eng.HTTP.Do(ctx, &engine.OutboundRequest{
		Method: http.MethodGet,
		URL:    actorURL,
		Header: map[string]string{"Accept": apAcceptHeader},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("actor fetch %s: status %d", actorURL, resp.StatusCode)
	}
	pemStr, err := activitystreams.PublicKeyPemOf(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseRSAPublicKeyPEM(pemStr)
}

func parseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("decode public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("actor public key is not RSA")
	}
	return rsaPub, nil
}
