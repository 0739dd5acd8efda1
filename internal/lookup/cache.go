package lookup

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	placeTTL   = 24 * time.Hour
	weatherTTL = 10 * time.Minute
	nameTTL    = time.Hour
)

type cache struct {
	c *ristretto.Cache[string, any]
}

func newCache(maxItems int64) (*cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        maxItems * 10, // Docs suggest setting this 10x number of keys.
		MaxCost:            maxItems,
		IgnoreInternalCost: true,
		BufferItems:        64,
	})
	if err != nil {
		return nil, fmt.Errorf("create lookup cache: %w", err)
	}
	return &cache{c: c}, nil
}

// key rounds coordinates to about a kilometre so neighbours share entries.
func key(kind string, lat, lng float64) string {
	return fmt.Sprintf("%s:%.2f,%.2f", kind, lat, lng)
}

func cached[T any](c *cache, k string) (T, bool) {
	var zero T
	v, ok := c.c.Get(k)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (c *cache) set(k string, v any, ttl time.Duration) {
	c.c.SetWithTTL(k, v, 1, ttl)
	c.c.Wait()
}

func (c *cache) close() {
	c.c.Close()
}
