package archive

import (
	"context"
	"strings"

	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

// Action is an administrative moderation decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// QueueLimit caps the moderation queue.
const QueueLimit = 200

// transitions lists every legal action. Any state may move to either target;
// approval also forgives earlier reports.
var transitions = map[Action]store.ModerationUpdate{
	ActionApprove: {Status: models.StatusApproved, ResetReports: true},
	ActionReject:  {Status: models.StatusRejected},
}

// ParseAction accepts "approve" or "reject", case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := transitions[a]; !ok {
		return "", ErrInvalidAction
	}
	return a, nil
}

// Moderate applies an admin decision to a photo. Photos never leave pending
// on their own; this is the only way status changes.
func (s *Service) Moderate(ctx context.Context, id, action string) (*models.Photo, error) {
	a, err := ParseAction(action)
	if err != nil {
		return nil, err
	}
	p, err := s.store.UpdateModeration(ctx, id, transitions[a])
	if err != nil {
		return nil, storageErr("update moderation", err)
	}

	s.invalidate(ctx, id)
	s.flushFacets()
	s.metrics.Moderated(string(a))
	s.publish(EventModerated, p)
	s.log.Info().Str("photo_id", id).Str("action", string(a)).Msg("photo moderated")
	return p, nil
}

// ModerationQueue lists pending and flagged photos, most reported first.
func (s *Service) ModerationQueue(ctx context.Context) ([]models.Photo, error) {
	photos, err := s.store.ModerationQueue(ctx, QueueLimit)
	if err != nil {
		return nil, storageErr("moderation queue", err)
	}
	if photos == nil {
		photos = []models.Photo{}
	}
	return photos, nil
}
