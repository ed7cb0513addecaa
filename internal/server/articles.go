package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/klppl/fedblog/internal/activitystreams"
	"github.com/klppl/fedblog/internal/negotiate"
)

const commentsSuffix = "/comments"

// handleArticlesSplat dispatches GET /articles/*slug and the supplemented
// GET /articles/*slug/comments, since chi's wildcard can only be the final
// path segment and both routes share the /articles/* prefix.
func (s *Server) handleArticlesSplat(w http.ResponseWriter, r *http.Request) {
	full := chi.URLParam(r, "*")
	if slug, ok := strings.CutSuffix(full, commentsSuffix); ok && slug != "" {
		s.handleArticleComments(w, r, slug)
		return
	}
	s.handleArticle(w, r, full)
}

// handleArticle serves GET /articles/*slug[?data=meta] (§4.E).
func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request, slug string) {
	ctx := r.Context()
	exists, err := s.store.ExistsArticle(ctx, slug)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}

	if r.URL.Query().Get("data") == "meta" {
		s.handleArticleMeta(w, r, slug)
		return
	}

	mime, ok := negotiate.NewReader(r).Select(negotiate.SetHTML | negotiate.SetAP)
	if !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	switch mime {
	case negotiate.Html:
		html, err := s.store.GetArticleHTML(ctx, slug)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	default:
		ap, err := s.store.GetArticleAP(ctx, slug)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(ap))
	}
}

func (s *Server) handleArticleMeta(w http.ResponseWriter, r *http.Request, slug string) {
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetJSON); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}
	ctx := r.Context()
	comments, err := s.store.CommentCount(ctx, slug)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	reactions, err := s.store.ReactionCount(ctx, slug)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]int{
		"comment_count":  comments,
		"reaction_count": reactions,
	}, http.StatusOK)
}

// handleArticleComments serves the supplemented GET
// /articles/*slug/comments[?until=N] (SPEC_FULL §12).
func (s *Server) handleArticleComments(w http.ResponseWriter, r *http.Request, slug string) {
	ctx := r.Context()
	exists, err := s.store.ExistsArticle(ctx, slug)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}
	if _, ok := negotiate.NewReader(r).Select(negotiate.SetJSON); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	until := r.URL.Query().Get("until")
	comments, next, err := s.store.GetPublicCommentsUntil(ctx, slug, until)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{"comments": comments}
	if next != "" {
		resp["next"] = r.URL.Path + "?until=" + next
	}
	jsonResponse(w, resp, http.StatusOK)
}

// handleArticleEvent serves GET /events/articles/{create|update|delete}/*slug
// (§4.H), the canonical delivery activity, AP only. The delete variant
// requires the article to actually be gone (SPEC_FULL §12 supplement).
func (s *Server) handleArticleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kindPath := chi.URLParam(r, "kind")
	slug := chi.URLParam(r, "*")

	var kind activitystreams.DeliveryKind
	switch kindPath {
	case "create":
		kind = activitystreams.KindCreate
	case "update":
		kind = activitystreams.KindUpdate
	case "delete":
		kind = activitystreams.KindDelete
	default:
		http.NotFound(w, r)
		return
	}

	if _, ok := negotiate.NewReader(r).Select(negotiate.SetAP); !ok {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return
	}

	var author string
	if kind == activitystreams.KindDelete {
		exists, err := s.store.ExistsArticle(ctx, slug)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if exists {
			// The canonical Delete activity is only meaningful once the
			// article is actually gone.
			http.NotFound(w, r)
			return
		}
		author, err = s.store.GetTombstoneAuthor(ctx, slug)
		if err != nil {
			http.NotFound(w, r)
			return
		}
	} else {
		exists, err := s.store.ExistsArticle(ctx, slug)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !exists {
			http.NotFound(w, r)
			return
		}
		author, err = s.store.GetAuthorID(ctx, slug)
		if err != nil {
			http.NotFound(w, r)
			return
		}
	}

	activity := activitystreams.DeliveryActivity(s.cfg.URL, kind, slug, author)
	apResponse(w, activitystreams.WithContext(activity), http.StatusOK)
}
