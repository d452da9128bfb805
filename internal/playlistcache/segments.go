package playlistcache

import (
	"time"

	"github.com/maypok86/otter"
)

const (
	segmentMaxKeys = 1000
	segmentTTL     = 5 * time.Minute
)

// SegmentCache holds complete non-range segment responses. It is disabled
// by default; range responses must never be stored here.
type SegmentCache struct {
	cache otter.Cache[string, SegmentEntry]
}

type SegmentEntry struct {
	Body        []byte
	ContentType string
}

func NewSegmentCache() *SegmentCache {
	cache, err := otter.MustBuilder[string, SegmentEntry](segmentMaxKeys).
		Cost(func(_ string, _ SegmentEntry) uint32 { return 1 }).
		WithTTL(segmentTTL).
		Build()
	if err != nil {
		panic("playlistcache: failed to create segment cache: " + err.Error())
	}
	return &SegmentCache{cache: cache}
}

func (s *SegmentCache) Get(key string) (SegmentEntry, bool) {
	if s == nil {
		return SegmentEntry{}, false
	}
	return s.cache.Get(key)
}

func (s *SegmentCache) Set(key string, e SegmentEntry) {
	if s == nil {
		return
	}
	s.cache.Set(key, e)
}

func (s *SegmentCache) Close() {
	if s == nil {
		return
	}
	s.cache.Close()
}
