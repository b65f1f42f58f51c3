// Package archive implements photo ingestion, deduplication, moderation,
// social signals and the search/aggregation read path.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/sujalbistaa/skyarchive/internal/blob"
	"github.com/sujalbistaa/skyarchive/internal/geo"
	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

// PhotoCache is a read-through cache for single visible photos.
type PhotoCache interface {
	GetPhoto(ctx context.Context, id string) (*models.Photo, error)
	SetPhoto(ctx context.Context, p *models.Photo) error
	InvalidatePhoto(ctx context.Context, id string) error
}

// Notifier receives moderation events for connected administrators.
type Notifier interface {
	Publish(eventType string, data interface{})
}

// Recorder collects operational counters.
type Recorder interface {
	UploadResult(outcome string)
	Liked()
	Reported(flagged bool)
	Moderated(action string)
}

// Event types published to the Notifier.
const (
	EventFlagged   = "flagged"
	EventModerated = "moderated"
	EventQueued    = "queued"
)

// Options configures a Service. Only Blob is required for ingestion.
type Options struct {
	ModerationEnabled bool

	Blob      blob.Store
	Extractor geo.Extractor
	Geocoder  geo.Geocoder
	Cache     PhotoCache
	Notifier  Notifier
	Metrics   Recorder
	Logger    zerolog.Logger

	// FacetTTL bounds how stale topRegions and leaderboards may be.
	// Zero selects the default; negative disables caching.
	FacetTTL time.Duration

	Now   func() time.Time
	NewID func() string
}

const defaultFacetTTL = 30 * time.Second

// Service is safe for concurrent use.
type Service struct {
	store             store.Store
	moderationEnabled bool

	blob      blob.Store
	extractor geo.Extractor
	geocoder  geo.Geocoder
	cache     PhotoCache
	notifier  Notifier
	metrics   Recorder
	log       zerolog.Logger

	facets   *cache.Cache
	facetTTL time.Duration

	now   func() time.Time
	newID func() string
}

func New(st store.Store, opts Options) *Service {
	s := &Service{
		store:             st,
		moderationEnabled: opts.ModerationEnabled,
		blob:              opts.Blob,
		extractor:         opts.Extractor,
		geocoder:          opts.Geocoder,
		cache:             opts.Cache,
		notifier:          opts.Notifier,
		metrics:           opts.Metrics,
		log:               opts.Logger.With().Str("component", "archive").Logger(),
		facetTTL:          opts.FacetTTL,
		now:               opts.Now,
		newID:             opts.NewID,
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.facetTTL == 0 {
		s.facetTTL = defaultFacetTTL
	}
	if s.facetTTL > 0 {
		s.facets = cache.New(s.facetTTL, 2*s.facetTTL)
	}
	return s
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store and, when it supports it, the photo cache.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if p, ok := s.cache.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// ModerationEnabled reports whether new uploads start out pending.
func (s *Service) ModerationEnabled() bool {
	return s.moderationEnabled
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) publish(eventType string, data interface{}) {
	if s.notifier != nil {
		s.notifier.Publish(eventType, data)
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePhoto(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("photo_id", id).Msg("cache invalidation failed")
	}
}

func (s *Service) flushFacets() {
	if s.facets != nil {
		s.facets.Flush()
	}
}

type nopRecorder struct{}

func (nopRecorder) UploadResult(string) {}
func (nopRecorder) Liked()              {}
func (nopRecorder) Reported(bool)       {}
func (nopRecorder) Moderated(string)    {}
