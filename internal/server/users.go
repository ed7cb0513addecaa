package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/klppl/fedblog/internal/activitystreams"
	"github.com/klppl/fedblog/internal/negotiate"
)

// handleUser serves the user document, HTML or AP per negotiation (§4.E).
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
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

	mime, ok := negotiate.NewReader(r).Select(negotiate.SetHTML | negotiate.SetAP)
	if !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	switch mime {
	case negotiate.Html:
		html, err := s.store.GetUserHTML(ctx, username)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	default:
		ap, err := s.store.GetUserAP(ctx, username)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(ap))
	}
}

// handleOutbox always returns an empty success: article delivery happens
// through the inbox/fan-out pipeline, not by a remote server pulling the
// outbox, so there is nothing to paginate here (§4.E).
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	exists, err := s.store.ExistsUser(r.Context(), username)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}
	id := s.cfg.URL + "/users/" + username + "/outbox"
	apResponse(w, activitystreams.WithContext(map[string]interface{}{
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": 0,
	}), http.StatusOK)
}

// handleFollowing always returns an empty OrderedCollection, AP only (§4.E).
func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
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
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetAP); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}
	id := s.cfg.URL + "/users/" + username + "/following"
	apResponse(w, activitystreams.WithContext(map[string]interface{}{
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": 0,
	}), http.StatusOK)
}

// untilMax is the sentinel cursor value §4.K's unpaginated response links
// to via "first"; the paginated handler maps it back to the empty
// (start-of-list) cursor.
const untilMax = "MAX"

// handleFollowers emits the followers OrderedCollection/OrderedCollectionPage
// (§4.E/§4.K), redirecting HTML and plain-JSON negotiated requests per the
// literal router table.
func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
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

	until, hasUntil := r.URL.Query()["until"]
	id := s.cfg.URL + "/users/" + username + "/followers"

	mime, ok := negotiate.NewReader(r).Select(negotiate.SetHTML | negotiate.SetAP | negotiate.SetJSON)
	if !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	switch mime {
	case negotiate.Html:
		if hasUntil {
			http.Redirect(w, r, id, http.StatusMovedPermanently)
			return
		}
	case negotiate.Json:
		http.Redirect(w, r, id+"?until="+untilMax, http.StatusPermanentRedirect)
		return
	}

	if !hasUntil {
		total, err := s.store.GetFollowersLen(ctx, username)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		apResponse(w, activitystreams.WithContext(map[string]interface{}{
			"id":         id,
			"type":       "OrderedCollection",
			"totalItems": total,
			"first":      id + "?until=" + untilMax,
		}), http.StatusOK)
		return
	}

	cursor := until[0]
	if cursor == untilMax {
		cursor = ""
	}
	ids, next, err := s.store.GetFollowerIdsUntil(ctx, username, cursor)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	page := activitystreams.OrderedCollectionPage{
		Context: activitystreams.Context,
		ID:      id + "?until=" + cursorParam(cursor),
		Type:    "OrderedCollectionPage",
		PartOf:  id,
		Items:   ids,
	}
	if next != "" {
		page.Next = id + "?until=" + next
	}
	w.Header().Set("Content-Type", "application/activity+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(page); err != nil {
		slog.Error("server: failed to encode followers page", "error", err)
	}
}

func cursorParam(cursor string) string {
	if cursor == "" {
		return untilMax
	}
	return cursor
}

// handleAcceptFollow reconstructs the Accept{Follow} activity for repeated,
// byte-identical GETs (§4.J, resolved in SPEC_FULL §4).
func (s *Server) handleAcceptFollow(w http.ResponseWriter, r *http.Request) {
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
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetAP); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	followEventID := r.URL.Query().Get("object")
	if followEventID == "" {
		http.Error(w, "missing object", http.StatusBadRequest)
		return
	}

	activity := activitystreams.AcceptFollowActivity(s.cfg.URL, username, followEventID, followEventID)
	apResponse(w, activitystreams.WithContext(activity), http.StatusOK)
}
