package postservice

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/dropDatabas3/postdispatch/internal/coreerr"
	"github.com/dropDatabas3/postdispatch/internal/store"
)

// minLeadTime es la restricción de creación de spec.md §4.5:
// "scheduledAt > now + 5 min for user-submitted posts".
const minLeadTime = 5 * time.Minute

// CreateInput son los campos que la capa externa acepta de un creador.
type CreateInput struct {
	UserID       string
	Body         string
	ScheduledAt  time.Time
	ParentPostID *string
	ThreadRootID *string
	ThreadIndex  int
}

// Create valida las restricciones de creación y persiste el post.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.ScheduledPost, error) {
	n := utf8.RuneCountInString(in.Body)
	if n < 1 || n > 300 {
		return nil, coreerr.New(coreerr.KindPermanent, "post body must be 1-300 code points")
	}
	if !in.ScheduledAt.After(time.Now().UTC().Add(minLeadTime)) {
		return nil, coreerr.New(coreerr.KindPermanent, "scheduledAt must be more than 5 minutes in the future")
	}
	if in.ParentPostID != nil {
		parent, err := s.store.GetPost(ctx, *in.ParentPostID)
		if err != nil || parent.UserID != in.UserID {
			return nil, coreerr.New(coreerr.KindPermanent, "parent post missing or not owned by this user")
		}
	}

	p := &store.ScheduledPost{
		UserID:       in.UserID,
		Body:         in.Body,
		ScheduledAt:  in.ScheduledAt,
		ParentPostID: in.ParentPostID,
		ThreadRootID: in.ThreadRootID,
		ThreadIndex:  in.ThreadIndex,
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel implementa la cancelación externa: solo válida en PENDING, y solo
// para el dueño del post (spec.md §4.5 "Authorization").
func (s *Service) Cancel(ctx context.Context, postID, userID string) error {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return coreerr.Forbidden
	}
	return s.store.CancelPost(ctx, postID, userID)
}

// UpdateInput son los campos opcionales aceptados por PUT /posts/:id
// (spec.md §6: "{content?,scheduledAt?}"). Un campo nil significa "no
// tocar"; Body no-nil reaplica la validación de longitud de Create y
// ScheduledAt no-nil reaplica la restricción de lead time.
type UpdateInput struct {
	Body        *string
	ScheduledAt *time.Time
}

// Update implementa la edición externa: solo válida en PENDING y solo para
// el dueño del post (spec.md §4.5 "PENDING is the only editable state").
// Un intento sobre un post en otro estado llega como coreerr.InvalidState
// desde el store, traducido por la capa HTTP a INVALID_OPERATION (spec.md
// §8).
func (s *Service) Update(ctx context.Context, postID, userID string, in UpdateInput) (*store.ScheduledPost, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, coreerr.Forbidden
	}
	if in.Body != nil {
		n := utf8.RuneCountInString(*in.Body)
		if n < 1 || n > 300 {
			return nil, coreerr.New(coreerr.KindPermanent, "post body must be 1-300 code points")
		}
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.After(time.Now().UTC().Add(minLeadTime)) {
		return nil, coreerr.New(coreerr.KindPermanent, "scheduledAt must be more than 5 minutes in the future")
	}
	if err := s.store.UpdatePost(ctx, postID, userID, in.Body, in.ScheduledAt); err != nil {
		return nil, err
	}
	return s.store.GetPost(ctx, postID)
}

// Get devuelve el post si el caller es su dueño.
func (s *Service) Get(ctx context.Context, postID, userID string) (*store.ScheduledPost, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, coreerr.Forbidden
	}
	return post, nil
}
