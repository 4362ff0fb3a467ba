package mapbox

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/warning-calendar-service/internal/observability"
)

// Geocoder resolves names and coordinates.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string) (Place, bool, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, bool, error)
}

// CachedGeocoder memoizes successful lookups in a bounded LRU.
type CachedGeocoder struct {
	inner   Geocoder
	cache   *lru
	metrics *observability.Metrics
}

// NewCachedGeocoder wraps inner with a cache of at most maxEntries places.
func NewCachedGeocoder(inner Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{inner: inner, cache: newLRU(maxEntries), metrics: metrics}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, query string) (Place, bool, error) {
	key := "fwd:" + strings.ToLower(strings.TrimSpace(query))
	return c.cached(key, "forward", func() (Place, bool, error) {
		return c.inner.ForwardGeocode(ctx, query)
	})
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (Place, bool, error) {
	key := fmt.Sprintf("rev:%.5f,%.5f", lat, lon)
	return c.cached(key, "reverse", func() (Place, bool, error) {
		return c.inner.ReverseGeocode(ctx, lat, lon)
	})
}

// cached only stores matches, so a "not found" is retried on the next call.
func (c *CachedGeocoder) cached(key, method string, load func() (Place, bool, error)) (Place, bool, error) {
	if p, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(method, "hit").Inc()
		return p, true, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(method, "miss").Inc()

	p, ok, err := load()
	if err == nil && ok {
		c.cache.put(key, p)
	}
	return p, ok, err
}

type lruItem struct {
	key   string
	place Place
}

// lru is a mutex-guarded least-recently-used map.
type lru struct {
	mu    sync.Mutex
	max   int
	order *list.List // front is most recent
	items map[string]*list.Element
}

func newLRU(maxEntries int) *lru {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lru{max: maxEntries, order: list.New(), items: make(map[string]*list.Element)}
}

func (l *lru) get(key string) (Place, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return Place{}, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*lruItem).place, true
}

func (l *lru) put(key string, p Place) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		el.Value.(*lruItem).place = p
		l.order.MoveToFront(el)
		return
	}
	l.items[key] = l.order.PushFront(&lruItem{key: key, place: p})

	if l.order.Len() > l.max {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruItem).key)
	}
}

func (l *lru) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
