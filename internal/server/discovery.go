package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/klppl/fedblog/internal/negotiate"
)

// handleHostMeta serves the static XRD pointing at webfinger (§4.I).
func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetXML); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" type="application/xrd+xml" template="%s/.well-known/webfinger?resource={uri}"/>
</XRD>`, s.cfg.URL)
}

func (s *Server) hostOf() string {
	h := strings.TrimPrefix(s.cfg.URL, "https://")
	h = strings.TrimPrefix(h, "http://")
	return strings.TrimRight(h, "/")
}

// handleWebFinger resolves acct:user@host to the actor URL (§4.I).
func (s *Server) handleWebFinger(w http.ResponseWriter, r *http.Request) {
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetJSON); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	resource := r.URL.Query().Get("resource")
	acct := strings.TrimPrefix(resource, "acct:")
	user, host, ok := strings.Cut(acct, "@")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if host != s.hostOf() {
		http.NotFound(w, r)
		return
	}

	exists, err := s.store.ExistsUser(r.Context(), user)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"subject": resource,
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": s.cfg.URL + "/users/" + user,
			},
		},
	}, http.StatusOK)
}
