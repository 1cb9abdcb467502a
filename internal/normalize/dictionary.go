package normalize

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

// DefaultTTL is how long a loaded dictionary is trusted.
const DefaultTTL = 60 * time.Second

// Store is the backing attribute dictionary.
type Store interface {
	List(ctx context.Context) ([]entity.AttributeDefinition, error)
	InsertIfAbsent(ctx context.Context, def entity.AttributeDefinition) (bool, error)
}

// Dictionary caches the attribute dictionary for TTL. Concurrent reloads
// are coalesced into one store read.
type Dictionary struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	entries  map[string]entity.AttributeDefinition
	loadedAt time.Time
	gen      uint64

	sf singleflight.Group
}

func NewDictionary(store Store, ttl time.Duration) *Dictionary {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Dictionary{store: store, ttl: ttl, now: time.Now}
}

// Snapshot returns the current key->definition map, reloading when stale.
// The returned map must not be modified.
func (d *Dictionary) Snapshot(ctx context.Context) (map[string]entity.AttributeDefinition, error) {
	d.mu.RLock()
	if d.entries != nil && d.now().Sub(d.loadedAt) < d.ttl {
		m := d.entries
		d.mu.RUnlock()
		return m, nil
	}
	gen := d.gen
	d.mu.RUnlock()

	v, err, _ := d.sf.Do("load", func() (any, error) {
		defs, err := d.store.List(ctx)
		if err != nil {
			return nil, err
		}
		m := make(map[string]entity.AttributeDefinition, len(defs))
		for _, def := range defs {
			m[def.Key] = def
		}
		d.mu.Lock()
		// an Invalidate during the load means this read may already be stale
		if d.gen == gen {
			d.entries = m
			d.loadedAt = d.now()
		}
		d.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]entity.AttributeDefinition), nil
}

// Lookup returns the definition for a normalized key.
func (d *Dictionary) Lookup(ctx context.Context, key string) (entity.AttributeDefinition, bool, error) {
	m, err := d.Snapshot(ctx)
	if err != nil {
		return entity.AttributeDefinition{}, false, err
	}
	def, ok := m[key]
	return def, ok, nil
}

// Invalidate drops the cached copy so the next read goes to the store.
func (d *Dictionary) Invalidate() {
	d.mu.Lock()
	d.entries = nil
	d.gen++
	d.mu.Unlock()
}
