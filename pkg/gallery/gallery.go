package gallery

import "context"

// Searcher runs arbitrary queries.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Page, error)
}

// Gallery routes the default feed through a FeedCache and every other query
// straight to the server.
type Gallery struct {
	searcher Searcher
	feed     *FeedCache
}

func New(searcher Searcher, feed *FeedCache) *Gallery {
	return &Gallery{searcher: searcher, feed: feed}
}

func (g *Gallery) Search(ctx context.Context, q Query) ([]Record, error) {
	if q.IsDefault() {
		return g.feed.Get(ctx, false)
	}
	page, err := g.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Uploaded records a successful local upload in the cached feed.
func (g *Gallery) Uploaded(r Record) {
	g.feed.OnLocalUploadSuccess(r)
}

// Feed exposes the underlying cache for subscriptions.
func (g *Gallery) Feed() *FeedCache {
	return g.feed
}
