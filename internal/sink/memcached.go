package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-sync/internal/models"
)

const defaultKeyPrefix = "weather:"

// MemcachedSink stores records as JSON items without expiry.
type MemcachedSink struct {
	client *memcache.Client
	prefix string
}

// NewMemcachedSink creates a MemcachedSink. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedSink(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedSink {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedSink{client: client, prefix: defaultKeyPrefix}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Upsert implements Sink.
func (s *MemcachedSink) Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return writeError(districtID, err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return writeError(districtID, err)
	}
	// Expiration 0: the item is replaced by the next run, never expired.
	if err := s.client.Set(&memcache.Item{Key: s.prefix + districtID, Value: raw}); err != nil {
		return writeError(districtID, err)
	}
	return nil
}

// Get returns the stored record. ok is false on a miss.
func (s *MemcachedSink) Get(ctx context.Context, districtID string) (models.WeatherRecord, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherRecord{}, false, ctx.Err()
	}
	item, err := s.client.Get(s.prefix + districtID)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherRecord{}, false, nil
		}
		return models.WeatherRecord{}, false, err
	}
	var rec models.WeatherRecord
	if err := json.Unmarshal(item.Value, &rec); err != nil {
		return models.WeatherRecord{}, false, err
	}
	return rec, true, nil
}

// Ping checks if memcached is reachable.
func (s *MemcachedSink) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections.
func (s *MemcachedSink) Close() error {
	return s.client.Close()
}
