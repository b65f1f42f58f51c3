package archive

import (
	"context"

	"github.com/sujalbistaa/skyarchive/internal/models"
)

// ReportResult is the state of a photo right after a report.
type ReportResult struct {
	ID          string `json:"id"`
	ReportCount int64  `json:"reportCount"`
	IsFlagged   bool   `json:"isFlagged"`
}

// Like adds one like to a visible photo. Repeat likes are not deduplicated.
func (s *Service) Like(ctx context.Context, id string) (int64, error) {
	n, err := s.store.IncrementLikes(ctx, id)
	if err != nil {
		return 0, storageErr("like", err)
	}
	s.invalidate(ctx, id)
	s.metrics.Liked()
	return n, nil
}

// Report adds one report to a visible photo and flags it once the count
// reaches models.FlagThreshold.
func (s *Service) Report(ctx context.Context, id string) (ReportResult, error) {
	n, flagged, err := s.store.IncrementReports(ctx, id, models.FlagThreshold)
	if err != nil {
		return ReportResult{}, storageErr("report", err)
	}
	res := ReportResult{ID: id, ReportCount: n, IsFlagged: flagged}

	s.invalidate(ctx, id)
	s.metrics.Reported(flagged)
	if flagged && n == models.FlagThreshold {
		s.publish(EventFlagged, res)
		s.log.Info().Str("photo_id", id).Int64("reports", n).Msg("photo flagged for review")
	}
	return res, nil
}

// Photo returns a single photo. Hidden photos are reported as ErrNotFound
// unless the caller is an administrator.
func (s *Service) Photo(ctx context.Context, id string, admin bool) (*models.Photo, error) {
	if !admin && s.cache != nil {
		if p, err := s.cache.GetPhoto(ctx, id); err == nil && p != nil {
			return p, nil
		} else if err != nil {
			s.log.Warn().Err(err).Msg("photo cache read failed")
		}
	}

	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("find photo", err)
	}
	if !p.Visible() {
		if !admin {
			return nil, ErrNotFound
		}
		return p, nil
	}
	if s.cache != nil {
		s.cachePhoto(ctx, p)
	}
	return p, nil
}

// cachePhoto stores p and then re-reads it. A moderation or counter update
// that committed after p was loaded may already have run its invalidation, so
// a changed row drops the entry again.
func (s *Service) cachePhoto(ctx context.Context, p *models.Photo) {
	if err := s.cache.SetPhoto(ctx, p); err != nil {
		s.log.Warn().Err(err).Msg("photo cache write failed")
		return
	}
	cur, err := s.store.FindByID(ctx, p.ID)
	if err == nil && sameState(p, cur) {
		return
	}
	s.invalidate(ctx, p.ID)
}

func sameState(a, b *models.Photo) bool {
	return a.ModerationStatus == b.ModerationStatus &&
		a.LikeCount == b.LikeCount &&
		a.ReportCount == b.ReportCount &&
		a.IsFlagged == b.IsFlagged
}
