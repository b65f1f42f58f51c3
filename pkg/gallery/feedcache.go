package gallery

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched default feed is served without a network
// round trip.
const DefaultTTL = 60 * time.Second

const feedStorageKey = "gallery:default-feed"

// Fetcher loads the default feed from the server.
type Fetcher interface {
	FetchDefault(ctx context.Context) ([]Record, error)
}

type persistedFeed struct {
	Items     []Record  `json:"items"`
	Timestamp time.Time `json:"timestamp"`
}

type Option func(*FeedCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *FeedCache) { c.now = now }
}

func WithStorage(s Storage) Option {
	return func(c *FeedCache) { c.storage = s }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *FeedCache) { c.ttl = ttl }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *FeedCache) { c.log = log }
}

// FeedCache holds the default feed for one client. Concurrent refreshes are
// coalesced into one request, and a failed refresh keeps serving the last
// good copy.
type FeedCache struct {
	fetcher Fetcher
	storage Storage
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu        sync.Mutex
	items     []Record
	timestamp time.Time
	loaded    bool
	// generation changes on every local write; a fetch that started under an
	// older generation must not overwrite it.
	generation uint64
	subs       map[int]func([]Record)
	nextSub    int
	closed     bool

	group singleflight.Group
	wg    sync.WaitGroup

	// joined, when set, runs once a caller is attached to the shared refresh.
	joined func()
}

// NewFeedCache builds a cache and restores any state persisted in storage.
func NewFeedCache(fetcher Fetcher, opts ...Option) *FeedCache {
	c := &FeedCache{
		fetcher: fetcher,
		storage: NewMemoryStorage(),
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     zerolog.Nop(),
		subs:    make(map[int]func([]Record)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.restore()
	return c
}

func (c *FeedCache) restore() {
	raw, ok, err := c.storage.Get(feedStorageKey)
	if err != nil {
		c.log.Warn().Err(err).Msg("feed cache: failed to read persisted feed")
		return
	}
	if !ok {
		return
	}
	var p persistedFeed
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.Warn().Err(err).Msg("feed cache: discarding unreadable persisted feed")
		return
	}
	if p.Items == nil {
		p.Items = []Record{}
	}
	c.items = p.Items
	c.timestamp = p.Timestamp
	c.loaded = true
}

// Get returns the default feed. Unless force is set, a copy younger than the
// TTL is returned without calling the server.
func (c *FeedCache) Get(ctx context.Context, force bool) ([]Record, error) {
	c.mu.Lock()
	if !force && c.freshLocked() {
		items := c.snapshotLocked()
		c.mu.Unlock()
		return items, nil
	}
	gen := c.generation
	c.mu.Unlock()

	// Waiters share one request; it is not cancelled when the first caller
	// goes away.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("feed:"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		return c.refresh(fetchCtx, gen, force)
	})
	if c.joined != nil {
		c.joined()
	}
	res := <-ch
	if res.Err != nil {
		return nil, res.Err
	}
	return append([]Record{}, res.Val.([]Record)...), nil
}

func (c *FeedCache) refresh(ctx context.Context, gen uint64, force bool) ([]Record, error) {
	if !force {
		c.mu.Lock()
		if c.freshLocked() {
			items := c.snapshotLocked()
			c.mu.Unlock()
			return items, nil
		}
		c.mu.Unlock()
	}

	fetched, err := c.fetcher.FetchDefault(ctx)

	c.mu.Lock()
	if err != nil {
		if c.loaded {
			items := c.snapshotLocked()
			c.mu.Unlock()
			c.log.Warn().Err(err).Msg("feed cache: refresh failed, serving cached feed")
			return items, nil
		}
		c.mu.Unlock()
		return nil, err
	}
	if c.generation != gen {
		items := c.snapshotLocked()
		c.mu.Unlock()
		return items, nil
	}
	if fetched == nil {
		fetched = []Record{}
	}
	c.items = fetched
	c.timestamp = c.now()
	c.loaded = true
	c.persistLocked()
	items := c.snapshotLocked()
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, items)
	return items, nil
}

// OnLocalUploadSuccess puts a freshly uploaded record at the front of the
// feed, then reconciles with the server in the background. A failed
// reconciliation keeps the local entry.
func (c *FeedCache) OnLocalUploadSuccess(r Record) {
	c.mu.Lock()
	items := make([]Record, 0, len(c.items)+1)
	items = append(items, r)
	for _, it := range c.items {
		if it.ID != r.ID {
			items = append(items, it)
		}
	}
	c.items = items
	c.timestamp = c.now()
	c.loaded = true
	c.generation++
	c.persistLocked()
	snapshot := c.snapshotLocked()
	subs := c.subscribersLocked()
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	notify(subs, snapshot)
	if closed {
		return
	}
	go func() {
		defer c.wg.Done()
		if _, err := c.Get(context.Background(), true); err != nil {
			c.log.Warn().Err(err).Msg("feed cache: refresh after upload failed")
		}
	}()
}

// Subscribe registers fn to receive the feed whenever it changes. The
// returned function removes the subscription.
func (c *FeedCache) Subscribe(fn func([]Record)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Wait blocks until background refreshes have finished.
func (c *FeedCache) Wait() {
	c.wg.Wait()
}

// Close stops new background refreshes and waits for running ones.
func (c *FeedCache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *FeedCache) freshLocked() bool {
	return c.loaded && c.now().Sub(c.timestamp) < c.ttl
}

func (c *FeedCache) snapshotLocked() []Record {
	return append([]Record{}, c.items...)
}

func (c *FeedCache) subscribersLocked() []func([]Record) {
	subs := make([]func([]Record), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (c *FeedCache) persistLocked() {
	raw, err := json.Marshal(persistedFeed{Items: c.items, Timestamp: c.timestamp})
	if err != nil {
		c.log.Warn().Err(err).Msg("feed cache: encode failed")
		return
	}
	if err := c.storage.Set(feedStorageKey, raw); err != nil {
		c.log.Warn().Err(err).Msg("feed cache: persist failed")
	}
}

func notify(subs []func([]Record), items []Record) {
	for _, fn := range subs {
		fn(append([]Record(nil), items...))
	}
}
