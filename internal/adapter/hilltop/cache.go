package hilltop

import (
	"strings"
	"sync"

	"github.com/couchcryptid/hilltop-etl/internal/domain"
)

var _ domain.MeasurementCatalog = (*MeasurementCache)(nil)

// MeasurementCache is a thread-safe LRU of measurement metadata keyed by
// site. Each site holds its measurements keyed by lower-cased name.
type MeasurementCache struct {
	maxSites int
	mu       sync.Mutex
	entries  map[string]*entry
	head     *entry // most recently used
	tail     *entry // least recently used
}

type entry struct {
	site         string
	measurements map[string]domain.MeasurementInfo
	prev         *entry
	next         *entry
}

// NewMeasurementCache creates a cache holding at most maxSites sites.
func NewMeasurementCache(maxSites int) *MeasurementCache {
	if maxSites < 1 {
		maxSites = 1
	}
	return &MeasurementCache{
		maxSites: maxSites,
		entries:  make(map[string]*entry),
	}
}

// Get returns the catalog entry for a measurement of a site. Names compare
// case-insensitively.
func (c *MeasurementCache) Get(site, measurement string) (domain.MeasurementInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[site]
	if !ok {
		return domain.MeasurementInfo{}, false
	}
	c.moveToFront(e)
	info, ok := e.measurements[strings.ToLower(measurement)]
	return info, ok
}

// Put merges infos into the site's entry, replacing measurements of the same name.
func (c *MeasurementCache) Put(site string, infos []domain.MeasurementInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[site]
	if ok {
		c.moveToFront(e)
	} else {
		e = &entry{site: site, measurements: make(map[string]domain.MeasurementInfo, len(infos))}
		c.entries[site] = e
		c.addToFront(e)
		if len(c.entries) > c.maxSites {
			c.evictTail()
		}
	}
	for _, info := range infos {
		e.measurements[strings.ToLower(info.Measurement)] = info
	}
}

// Len reports the number of cached sites.
func (c *MeasurementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MeasurementCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *MeasurementCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MeasurementCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *MeasurementCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.site)
	c.remove(c.tail)
}
