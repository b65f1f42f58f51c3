package http

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sujalbistaa/skyarchive/internal/archive"
	"github.com/sujalbistaa/skyarchive/internal/store"
)

const dateLayout = "2006-01-02"

func invalidFilter(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", archive.ErrInvalidFilter, fmt.Sprintf(format, args...))
}

// ParseSearch builds a typed search request from query parameters. Malformed
// values are rejected instead of being ignored.
func ParseSearch(q url.Values) (archive.SearchRequest, error) {
	var req archive.SearchRequest
	f := &req.Filter

	f.Query = strings.TrimSpace(q.Get("q"))
	f.Region = strings.TrimSpace(q.Get("region"))
	f.Uploader = strings.TrimSpace(q.Get("uploader"))

	var err error
	if f.From, err = parseDate(q.Get("date_from"), false); err != nil {
		return req, invalidFilter("date_from: %v", err)
	}
	if f.To, err = parseDate(q.Get("date_to"), true); err != nil {
		return req, invalidFilter("date_to: %v", err)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return req, invalidFilter("date_from is after date_to")
	}

	if f.BBox, err = parseBBox(q.Get("bbox")); err != nil {
		return req, invalidFilter("bbox: %v", err)
	}
	if f.IncludeUnlocated, err = parseBool(q.Get("include_unlocated")); err != nil {
		return req, invalidFilter("include_unlocated: %v", err)
	}
	if f.IncludePending, err = parseBool(q.Get("include_pending")); err != nil {
		return req, invalidFilter("include_pending: %v", err)
	}

	if req.Page, err = parseInt(q.Get("page")); err != nil {
		return req, invalidFilter("page: %v", err)
	}
	if req.PageSize, err = parseInt(q.Get("page_size")); err != nil {
		return req, invalidFilter("page_size: %v", err)
	}
	return req, nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339. A bare date used as an upper
// bound covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	t = t.UTC()
	return &t, nil
}

func parseBBox(raw string) (*store.BBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("want west,south,east,north")
	}
	var v [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("component %d is not a number", i+1)
		}
		v[i] = n
	}
	b := store.BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	switch {
	case b.South < -90 || b.North > 90:
		return nil, fmt.Errorf("latitude out of range")
	case b.West < -180 || b.East > 180:
		return nil, fmt.Errorf("longitude out of range")
	case b.West > b.East || b.South > b.North:
		return nil, fmt.Errorf("west must not exceed east and south must not exceed north")
	}
	return &b, nil
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func parseInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// parseCoordinate returns nil for a missing or unparseable value; ingestion
// then drops the pair.
func parseCoordinate(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &n
}
