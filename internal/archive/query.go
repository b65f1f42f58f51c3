package archive

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/sujalbistaa/skyarchive/internal/models"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

const (
	DefaultPageSize  = 40
	MaxPageSize      = 120
	TopRegionsLimit  = 8
	LeaderboardLimit = 5

	RegionPageLimit      = 120
	ContributorPageLimit = 80

	weekWindow  = 7 * 24 * time.Hour
	monthWindow = 30 * 24 * time.Hour
)

// SearchRequest is a validated search. Page and PageSize are clamped by Search.
type SearchRequest struct {
	Filter   store.Filter
	Page     int
	PageSize int
}

// IsDefault reports whether the request is the unfiltered first page.
func (r SearchRequest) IsDefault() bool {
	return r.Filter == (store.Filter{}) &&
		(r.Page == 0 || r.Page == 1) &&
		(r.PageSize == 0 || r.PageSize == DefaultPageSize)
}

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
	HasMore  bool  `json:"hasMore"`
}

type RegionCount struct {
	Region string `json:"region"`
	Slug   string `json:"slug"`
	Count  int64  `json:"count"`
}

type LeaderboardEntry struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type Leaderboards struct {
	Week  []LeaderboardEntry `json:"week"`
	Month []LeaderboardEntry `json:"month"`
}

type SearchResult struct {
	Items        []models.Photo `json:"items"`
	Pagination   Pagination     `json:"pagination"`
	TopRegions   []RegionCount  `json:"topRegions"`
	Leaderboards Leaderboards   `json:"leaderboards"`
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size == 0:
		size = DefaultPageSize
	case size < 1:
		size = 1
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// Search returns one page of matching photos plus corpus-wide facets. An
// empty result is not an error. Facets ignore the text, date and bbox
// filters and may lag the page slightly.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	page, size := clampPage(req.Page, req.PageSize)

	items, total, err := s.store.Search(ctx, req.Filter, store.Page{Number: page, Size: size})
	if err != nil {
		return nil, storageErr("search", err)
	}
	if items == nil {
		items = []models.Photo{}
	}

	f, err := s.facetsFor(ctx, req.Filter.IncludePending)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Items: items,
		Pagination: Pagination{
			Page:     page,
			PageSize: size,
			Total:    total,
			HasMore:  int64(page)*int64(size) < total,
		},
		TopRegions:   f.topRegions,
		Leaderboards: f.leaderboards,
	}, nil
}

type facets struct {
	topRegions   []RegionCount
	leaderboards Leaderboards
}

func (s *Service) facetsFor(ctx context.Context, includePending bool) (facets, error) {
	key := "facets:" + strconv.FormatBool(includePending)
	if s.facets != nil {
		if cached, ok := s.facets.Get(key); ok {
			if f, ok := cached.(facets); ok {
				return f, nil
			}
		}
	}

	regions, err := s.regionCounts(ctx, includePending)
	if err != nil {
		return facets{}, err
	}
	if len(regions) > TopRegionsLimit {
		regions = regions[:TopRegionsLimit]
	}

	now := s.clock()
	week, err := s.leaderboard(ctx, now.Add(-weekWindow), includePending)
	if err != nil {
		return facets{}, err
	}
	month, err := s.leaderboard(ctx, now.Add(-monthWindow), includePending)
	if err != nil {
		return facets{}, err
	}

	f := facets{topRegions: regions, leaderboards: Leaderboards{Week: week, Month: month}}
	if s.facets != nil {
		s.facets.SetDefault(key, f)
	}
	return f, nil
}

// regionCounts collapses per-location counts into derived regions, sorted by
// count descending then name.
func (s *Service) regionCounts(ctx context.Context, includePending bool) ([]RegionCount, error) {
	rows, err := s.store.LocationCounts(ctx, includePending)
	if err != nil {
		return nil, storageErr("location counts", err)
	}
	return collapseRegions(rows), nil
}

func collapseRegions(rows []store.LocationCount) []RegionCount {
	byRegion := make(map[string]int64)
	for _, row := range rows {
		if region := models.RegionFromLocation(row.Location); region != "" {
			byRegion[region] += row.Total
		}
	}
	out := make([]RegionCount, 0, len(byRegion))
	for region, n := range byRegion {
		out = append(out, RegionCount{Region: region, Slug: models.RegionSlug(region), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Region < out[j].Region
	})
	return out
}

func (s *Service) leaderboard(ctx context.Context, since time.Time, includePending bool) ([]LeaderboardEntry, error) {
	rows, err := s.store.UploaderCounts(ctx, since, LeaderboardLimit, includePending)
	if err != nil {
		return nil, storageErr("uploader counts", err)
	}
	out := make([]LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = models.AnonymousUploader
		}
		out = append(out, LeaderboardEntry{Name: name, Count: r.Total})
	}
	return out, nil
}

// Regions lists every region with at least one visible photo.
func (s *Service) Regions(ctx context.Context) ([]RegionCount, error) {
	return s.regionCounts(ctx, false)
}

// RegionPage is the newest visible photos of one region.
type RegionPage struct {
	Region string         `json:"region"`
	Slug   string         `json:"slug"`
	Items  []models.Photo `json:"items"`
}

// RegionPhotos resolves a slug like "tamil-nadu" and returns its newest photos.
func (s *Service) RegionPhotos(ctx context.Context, slug string) (*RegionPage, error) {
	region := models.RegionFromSlug(slug)
	if region == "" {
		return nil, ErrNotFound
	}
	items, _, err := s.store.Search(ctx,
		store.Filter{Region: region, IncludeUnlocated: true},
		store.Page{Number: 1, Size: RegionPageLimit})
	if err != nil {
		return nil, storageErr("region photos", err)
	}
	if items == nil {
		items = []models.Photo{}
	}
	return &RegionPage{Region: region, Slug: models.RegionSlug(region), Items: items}, nil
}

// ContributorProfile summarises one display name.
type ContributorProfile struct {
	Name      string         `json:"name"`
	Total     int64          `json:"total"`
	LastMonth int64          `json:"lastMonth"`
	Items     []models.Photo `json:"items"`
}

// Contributor returns totals and recent photos for an exact display name.
func (s *Service) Contributor(ctx context.Context, name string) (*ContributorProfile, error) {
	total, recent, err := s.store.CountByUploader(ctx, name, s.clock().Add(-monthWindow))
	if err != nil {
		return nil, storageErr("contributor counts", err)
	}
	items, _, err := s.store.Search(ctx,
		store.Filter{ExactUploader: name, IncludeUnlocated: true},
		store.Page{Number: 1, Size: ContributorPageLimit})
	if err != nil {
		return nil, storageErr("contributor photos", err)
	}
	if items == nil {
		items = []models.Photo{}
	}
	return &ContributorProfile{Name: name, Total: total, LastMonth: recent, Items: items}, nil
}
