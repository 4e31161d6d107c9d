package corpus

import "github.com/VictoriaMetrics/fastcache"

// featureCache keeps raw HTK file bytes in memory so repeated epochs
// over the same split stop hitting the filesystem. Entries can exceed
// fastcache's 64KB chunk limit, so the big-value API is used throughout.
type featureCache struct {
	c *fastcache.Cache
}

func newFeatureCache(maxBytes int) *featureCache {
	if maxBytes <= 0 {
		return nil
	}
	return &featureCache{c: fastcache.New(maxBytes)}
}

func (fc *featureCache) get(path string) ([]byte, bool) {
	if fc == nil {
		return nil, false
	}
	data := fc.c.GetBig(nil, []byte(path))
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (fc *featureCache) set(path string, data []byte) {
	if fc == nil {
		return
	}
	fc.c.SetBig([]byte(path), data)
}

func (fc *featureCache) reset() {
	if fc != nil {
		fc.c.Reset()
	}
}
