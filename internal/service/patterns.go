// patterns.go — LRU-кэш скомпилированных регулярных выражений поиска с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша шаблонов.
var (
	patternCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ym_pattern_cache_hits_total",
		Help: "Общее количество попаданий в кэш регулярных выражений.",
	})
	patternCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ym_pattern_cache_misses_total",
		Help: "Общее количество промахов кэша регулярных выражений.",
	})
)

// PatternCache — кэш скомпилированных регулярных выражений.
// Хранит только результат компиляции, не данные хранилища.
type PatternCache struct {
	cache *expirable.LRU[string, *regexp.Regexp]
}

// NewPatternCache создаёт кэш с указанным максимальным размером и TTL.
func NewPatternCache(maxSize int, ttl time.Duration) *PatternCache {
	return &PatternCache{
		cache: expirable.NewLRU[string, *regexp.Regexp](maxSize, nil, ttl),
	}
}

// Compile возвращает скомпилированное выражение из кэша или компилирует его.
// Некорректное выражение — ErrValidation.
func (c *PatternCache) Compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.cache.Get(pattern); ok {
		patternCacheHitsTotal.Inc()
		return re, nil
	}
	patternCacheMissesTotal.Inc()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: некорректное регулярное выражение %q: %v", ErrValidation, pattern, err)
	}
	c.cache.Add(pattern, re)
	return re, nil
}
