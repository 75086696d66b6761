package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/wpowiertowski/posse/internal/origin"
	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/schema"
	"github.com/wpowiertowski/posse/internal/syndicate"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

const maxWebhookBody = 4 << 20

// handlePublish is the webhook intake: validate the payload against the
// schema, normalize it, hand it to the queue. 202 means queued, not posted;
// delivery is asynchronous and at-least-once.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := schema.ValidatePost(body); err != nil {
		s.log.Warn("webhook payload rejected", logx.Err(err))
		writeError(w, http.StatusBadRequest, "invalid post payload")
		return
	}
	p, err := post.Normalize(body)
	if err != nil {
		s.log.Warn("webhook payload unusable", logx.Err(err))
		writeError(w, http.StatusBadRequest, "invalid post payload")
		return
	}

	s.log.Info("post received",
		logx.String("post", p.ID), logx.String("title", p.Title))
	if s.recv != nil {
		s.recv.PostReceived(p)
	}

	if err := s.pipeline.Enqueue(r.Context(), syndicate.Job{Post: p}); err != nil {
		if errors.Is(err, syndicate.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "queue full, retry later")
			return
		}
		s.log.Error("enqueue failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"post_id": p.ID,
	})
}

// handleCatchUp enqueues a reduced dispatch covering only accounts the post
// never reached.
func (s *Server) handleCatchUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PostID string `json:"post_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil || !validPostID(req.PostID) {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	n, err := s.pipeline.CatchUp(r.Context(), req.PostID)
	if err != nil {
		switch {
		case errors.Is(err, origin.ErrNotFound):
			writeError(w, http.StatusNotFound, "post not found")
		case errors.Is(err, syndicate.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "queue full, retry later")
		default:
			s.log.Error("catch-up failed", logx.String("post", req.PostID), logx.Err(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"post_id":  req.PostID,
		"accounts": n,
	})
}

// handleGetInteractions serves the stored snapshot. The id is validated
// before any storage access; the referrer allow-list keeps casual scraping
// off the widget endpoint.
func (s *Server) handleGetInteractions(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if !validPostID(postID) {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	if !s.referrerAllowed(r.Header.Get("Referer")) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	snap, found, err := s.sync.Stored(r.Context(), postID)
	if err != nil {
		s.log.Error("snapshot read failed", logx.String("post", postID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no interactions for post")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleTriggerSync runs behind the token and per-IP middleware; it adds the
// global cap and the per-post cooldown, then triggers the sync off-request.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if !validPostID(postID) {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	if !s.global.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if !s.cooldownPass(postID) {
		writeError(w, http.StatusTooManyRequests, "sync cooldown active")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.sync.SyncPost(ctx, postID); err != nil {
			s.log.Warn("manual sync failed", logx.String("post", postID), logx.Err(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"post_id": postID,
	})
}

// cooldownPass atomically checks the per-id cooldown and records the trigger
// time when it passes.
func (s *Server) cooldownPass(postID string) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()
	now := time.Now()
	if last, ok := s.cooldown.Get(postID); ok && now.Sub(last) < s.cooldownSpan {
		return false
	}
	s.cooldown.Add(postID, now)
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireToken compares the shared secret in constant time. With no token
// configured the check is skipped entirely.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.token) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(got), s.token) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) referrerAllowed(referrer string) bool {
	if len(s.referrerAllow) == 0 {
		return true
	}
	if referrer == "" {
		return false
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, allowed := range s.referrerAllow {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
