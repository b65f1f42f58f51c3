// Package gallery is the consumer side of the archive API: a typed client and
// a cache for the default feed.
package gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPageSize matches the server default; only this page size is cached.
const DefaultPageSize = 40

// Record is one archived photo as served by the API.
type Record struct {
	ID               string    `json:"id"`
	MediaURL         string    `json:"mediaUrl"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	LocationName     string    `json:"locationName,omitempty"`
	UploadedBy       string    `json:"uploadedBy"`
	UploadedAt       time.Time `json:"uploadedAt"`
	LikeCount        int64     `json:"likeCount"`
	ReportCount      int64     `json:"reportCount"`
	IsFlagged        bool      `json:"isFlagged"`
	ModerationStatus string    `json:"moderationStatus"`
}

type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
	HasMore  bool  `json:"hasMore"`
}

// Page is one search response.
type Page struct {
	Items      []Record   `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// Query mirrors the search parameters of GET /api/images.
type Query struct {
	Q                string
	Region           string
	Uploader         string
	DateFrom         string
	DateTo           string
	BBox             *[4]float64
	IncludeUnlocated bool
	Page             int
	PageSize         int
}

// IsDefault reports whether q selects the unfiltered first page.
func (q Query) IsDefault() bool {
	return q.Q == "" && q.Region == "" && q.Uploader == "" &&
		q.DateFrom == "" && q.DateTo == "" && q.BBox == nil && !q.IncludeUnlocated &&
		(q.Page == 0 || q.Page == 1) &&
		(q.PageSize == 0 || q.PageSize == DefaultPageSize)
}

func (q Query) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s = strings.TrimSpace(s); s != "" {
			v.Set(k, s)
		}
	}
	set("q", q.Q)
	set("region", q.Region)
	set("uploader", q.Uploader)
	set("date_from", q.DateFrom)
	set("date_to", q.DateTo)
	if q.BBox != nil {
		parts := make([]string, 0, 4)
		for _, f := range q.BBox {
			parts = append(parts, strconv.FormatFloat(f, 'f', -1, 64))
		}
		v.Set("bbox", strings.Join(parts, ","))
	}
	if q.IncludeUnlocated {
		v.Set("include_unlocated", "true")
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return v
}

// Client calls the archive search endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// Search runs one query against the server.
func (c *Client) Search(ctx context.Context, q Query) (*Page, error) {
	u := c.baseURL + "/api/images"
	if enc := q.values().Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gallery search: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gallery search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error != "" {
			return nil, fmt.Errorf("gallery search: status %d: %s", resp.StatusCode, eb.Error)
		}
		return nil, fmt.Errorf("gallery search: unexpected status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("gallery search: decode response: %w", err)
	}
	if page.Items == nil {
		page.Items = []Record{}
	}
	return &page, nil
}

// FetchDefault returns the default feed.
func (c *Client) FetchDefault(ctx context.Context) ([]Record, error) {
	page, err := c.Search(ctx, Query{})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
