// Package store persists archived photos.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sujalbistaa/skyarchive/internal/models"
)

var (
	ErrNotFound = errors.New("store: photo not found")
	ErrConflict = errors.New("store: fingerprint already archived")
)

// BBox is a west/south/east/north bounding box in degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Filter narrows a search. Zero values mean "no constraint".
type Filter struct {
	Query            string
	Region           string
	Uploader         string
	// ExactUploader matches the display name verbatim.
	ExactUploader    string
	From             *time.Time
	To               *time.Time
	BBox             *BBox
	IncludeUnlocated bool
	IncludePending   bool
}

// Page selects a 1-indexed window of results.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// ModerationUpdate is applied atomically to a single photo.
type ModerationUpdate struct {
	Status       models.ModerationStatus
	ResetReports bool
}

// LocationCount is the number of visible photos sharing a location name.
type LocationCount struct {
	Location string
	Total    int64
}

// UploaderCount is the number of visible photos by one display name.
type UploaderCount struct {
	Name  string
	Total int64
}

// Store is implemented by the SQL and MongoDB backends. Counter updates must
// be atomic per photo.
type Store interface {
	// Migrate creates tables, collections and indexes.
	Migrate(ctx context.Context) error

	Create(ctx context.Context, p *models.Photo) error
	FindByID(ctx context.Context, id string) (*models.Photo, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Photo, error)

	// IncrementLikes only touches publicly visible photos.
	IncrementLikes(ctx context.Context, id string) (int64, error)
	// IncrementReports bumps the counter and sets the flag in one update.
	IncrementReports(ctx context.Context, id string, threshold int64) (int64, bool, error)
	UpdateModeration(ctx context.Context, id string, u ModerationUpdate) (*models.Photo, error)

	Search(ctx context.Context, f Filter, page Page) ([]models.Photo, int64, error)
	ModerationQueue(ctx context.Context, limit int) ([]models.Photo, error)
	LocationCounts(ctx context.Context, includePending bool) ([]LocationCount, error)
	UploaderCounts(ctx context.Context, since time.Time, limit int, includePending bool) ([]UploaderCount, error)
	CountByUploader(ctx context.Context, name string, since time.Time) (total, recent int64, err error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
