package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dropDatabas3/postdispatch/internal/apperr"
	"github.com/dropDatabas3/postdispatch/internal/observability/logger"
	"github.com/dropDatabas3/postdispatch/internal/postservice"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

type postResponse struct {
	ID           string  `json:"id"`
	Body         string  `json:"body"`
	ScheduledAt  string  `json:"scheduledAt"`
	Status       string  `json:"status"`
	RetryCount   int     `json:"retryCount"`
	RecordURI    string  `json:"recordUri,omitempty"`
	ErrorMsg     string  `json:"errorMsg,omitempty"`
	ParentPostID *string `json:"parentPostId,omitempty"`
	ThreadRootID *string `json:"threadRootId,omitempty"`
	ThreadIndex  int     `json:"threadIndex"`
}

func toPostResponse(p *store.ScheduledPost) postResponse {
	return postResponse{
		ID:           p.ID,
		Body:         p.Body,
		ScheduledAt:  p.ScheduledAt.Format(time.RFC3339),
		Status:       string(p.Status),
		RetryCount:   p.RetryCount,
		RecordURI:    p.RecordURI,
		ErrorMsg:     p.ErrorMsg,
		ParentPostID: p.ParentPostID,
		ThreadRootID: p.ThreadRootID,
		ThreadIndex:  p.ThreadIndex,
	}
}

type createPostRequest struct {
	Body         string  `json:"body"`
	ScheduledAt  string  `json:"scheduledAt"`
	ParentPostID *string `json:"parentPostId,omitempty"`
	ThreadRootID *string `json:"threadRootId,omitempty"`
	ThreadIndex  int     `json:"threadIndex,omitempty"`
}

// handlePosts despacha POST /posts y GET /posts según spec.md §8.
func handlePosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req createPostRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apperr.WriteError(w, apperr.ErrValidation.WithDetail("invalid JSON body"))
				return
			}
			scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
			if err != nil {
				apperr.WriteError(w, apperr.ErrValidation.WithDetail("scheduledAt must be RFC3339"))
				return
			}
			p, err := deps.Posts.Create(r.Context(), postservice.CreateInput{
				UserID:       userID,
				Body:         req.Body,
				ScheduledAt:  scheduledAt,
				ParentPostID: req.ParentPostID,
				ThreadRootID: req.ThreadRootID,
				ThreadIndex:  req.ThreadIndex,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(toPostResponse(p))

		case http.MethodGet:
			limit := 50
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
					limit = n
				}
			}
			page := 1
			if v := r.URL.Query().Get("page"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					page = n
				}
			}
			status := r.URL.Query().Get("status")
			posts, total, err := deps.Store.ListPostsByUserFiltered(r.Context(), userID, status, limit, (page-1)*limit)
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]postResponse, 0, len(posts))
			for _, p := range posts {
				out = append(out, toPostResponse(p))
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"posts": out,
				"total": total,
				"page":  page,
				"limit": limit,
			})

		default:
			apperr.WriteError(w, apperr.New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "método no soportado"))
		}
	}
}

// updatePostRequest es el body de PUT /posts/:id (spec.md §6:
// "{content?,scheduledAt?}"). Ambos campos son opcionales.
type updatePostRequest struct {
	Content     *string `json:"content,omitempty"`
	ScheduledAt *string `json:"scheduledAt,omitempty"`
}

// handlePostByID despacha GET/PUT/DELETE /posts/{id}: obtener, editar
// (mientras esté PENDING, spec.md §4.5 "PENDING is the only editable
// state") o cancelar un post propio (spec.md §4.5 "Authorization").
func handlePostByID(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromContext(r.Context())
		if !ok {
			apperr.WriteError(w, apperr.ErrUnauthorized)
			return
		}
		postID := r.PathValue("id")
		if postID == "" {
			apperr.WriteError(w, apperr.ErrValidation.WithDetail("missing post id"))
			return
		}

		switch r.Method {
		case http.MethodGet:
			p, err := deps.Posts.Get(r.Context(), postID, userID)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(toPostResponse(p))

		case http.MethodPut:
			var req updatePostRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apperr.WriteError(w, apperr.ErrValidation.WithDetail("invalid JSON body"))
				return
			}
			in := postservice.UpdateInput{Body: req.Content}
			if req.ScheduledAt != nil {
				t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
				if err != nil {
					apperr.WriteError(w, apperr.ErrValidation.WithDetail("scheduledAt must be RFC3339"))
					return
				}
				in.ScheduledAt = &t
			}
			p, err := deps.Posts.Update(r.Context(), postID, userID, in)
			if err != nil {
				writeError(w, err)
				return
			}
			if err := deps.Store.AppendAuditLog(r.Context(), userID, "post_updated", postID, clientIP(r)); err != nil {
				logger.From(r.Context()).Warn("audit log append failed", logger.Err(err))
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_ = json.NewEncoder(w).Encode(toPostResponse(p))

		case http.MethodDelete:
			if err := deps.Posts.Cancel(r.Context(), postID, userID); err != nil {
				writeError(w, err)
				return
			}
			if err := deps.Store.AppendAuditLog(r.Context(), userID, "post_cancelled", postID, clientIP(r)); err != nil {
				logger.From(r.Context()).Warn("audit log append failed", logger.Err(err))
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			apperr.WriteError(w, apperr.New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "método no soportado"))
		}
	}
}
